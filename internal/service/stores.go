package service

import (
	"context"

	"github.com/digkill/lookstudio/internal/kie"
	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/repository"
)

// The interfaces below are satisfied by the MySQL repositories, the S3 store,
// the queue and the kie client. Services only see what they use.

type LedgerStore interface {
	Get(ctx context.Context, userID int64) (*models.Subscription, error)
	Create(ctx context.Context, sub *models.Subscription) error
	Mutate(ctx context.Context, userID int64, fn repository.MutateFunc) (*models.Subscription, error)
	ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]models.TokenTransaction, int, error)
}

type JobStore interface {
	CreateWithLimit(ctx context.Context, job *models.VideoJob, limit int, logs []string) error
	Get(ctx context.Context, id int64) (*models.VideoJob, error)
	List(ctx context.Context, f repository.JobFilter) ([]models.VideoJob, error)
	CountActive(ctx context.Context, userID int64) (int, error)
	MarkFailed(ctx context.Context, id int64, reason string) (bool, error)
	Override(ctx context.Context, id int64, status models.JobStatus, message string) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
	AppendLog(ctx context.Context, id int64, level models.LogLevel, message string) error
	Logs(ctx context.Context, id int64) ([]models.JobLog, error)
}

type LookStore interface {
	Create(ctx context.Context, look *models.Look) error
	Get(ctx context.Context, id int64) (*models.Look, error)
	List(ctx context.Context, f repository.LookFilter) ([]models.Look, error)
	Update(ctx context.Context, look *models.Look) error
	SetVisibility(ctx context.Context, lookID int64, v models.Visibility, userIDs []int64) error
	Delete(ctx context.Context, id int64) (bool, error)
	Link(ctx context.Context, lookID, jobID int64) error
	Unlink(ctx context.Context, lookID, jobID int64) (bool, error)
	ListVideos(ctx context.Context, lookID int64) ([]models.LookVideo, error)
	SetDefault(ctx context.Context, lookID, jobID int64) error
	UnsetDefault(ctx context.Context, lookID, jobID int64) error
}

type UserStore interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	ListByStatus(ctx context.Context, status models.AccountStatus, limit, offset int) ([]models.User, error)
	SetStatus(ctx context.Context, userID int64, status models.AccountStatus) error
	SetRole(ctx context.Context, userID int64, role models.Role) error
}

type SettingsStore interface {
	Get(ctx context.Context, userID int64) (*models.UserSettings, error)
	Upsert(ctx context.Context, s *models.UserSettings) error
	Delete(ctx context.Context, userID int64) error
	GetDefaults(ctx context.Context) (*models.DefaultSettings, error)
	UpsertDefaults(ctx context.Context, d *models.DefaultSettings) error
	DeleteDefaults(ctx context.Context) error
}

// ContentStore keeps uploaded and generated media. Delete reports false for
// URLs it does not own.
type ContentStore interface {
	Put(ctx context.Context, data []byte, contentType, folder string) (string, error)
	Delete(ctx context.Context, url string) (bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, jobID int64) error
}

// Generator is the synchronous side of the generation provider.
type Generator interface {
	GenerateImage(ctx context.Context, req kie.ImageRequest) (*kie.Image, error)
	GenerateText(ctx context.Context, req kie.TextRequest) (*kie.TextResult, error)
}

// pageBounds clamps list paging parameters.
func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
