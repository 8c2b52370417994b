package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/lookstudio/internal/apperr"
	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/repository"
	"github.com/digkill/lookstudio/internal/testutil"
)

type videoFixture struct {
	svc     *VideoService
	tokens  *TokenService
	ledger  *testutil.Ledger
	jobs    *testutil.Jobs
	looks   *testutil.Looks
	content *testutil.Content
	queue   *testutil.Queue
	user    *models.User
	other   *models.User
	admin   *models.User
}

func newVideoFixture(t *testing.T) *videoFixture {
	t.Helper()
	f := &videoFixture{
		ledger:  testutil.NewLedger(),
		jobs:    testutil.NewJobs(),
		looks:   testutil.NewLooks(),
		content: testutil.NewContent(),
		queue:   &testutil.Queue{},
		user:    &models.User{ID: 1, Role: models.RoleUser, Status: models.AccountActive},
		other:   &models.User{ID: 2, Role: models.RoleUser, Status: models.AccountActive},
		admin:   &models.User{ID: 3, Role: models.RoleAdmin, Status: models.AccountActive},
	}
	f.jobs.Looks = f.looks
	f.tokens = NewTokenService(f.ledger, nil)
	f.svc = NewVideoService(f.tokens, f.jobs, f.looks, f.content, f.queue, "veo3_fast", nil)
	return f
}

func (f *videoFixture) balance(t *testing.T, userID int64) *models.Subscription {
	t.Helper()
	sub, err := f.ledger.Get(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return sub
}

func textParams() SubmitParams {
	return SubmitParams{Prompt: "model walks down a runway in a red coat", Resolution: "720p", AspectRatio: "9:16"}
}

func TestSubmit_CreatesPendingJobAndEnqueues(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	p := textParams()
	p.InitialImage = &Upload{Data: []byte("png"), ContentType: "image/png"}
	p.References = []Upload{{Data: []byte("ref"), ContentType: "image/jpeg"}}

	job, err := f.svc.Submit(ctx, f.user, p)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, 10, job.TokensConsumed)
	assert.Equal(t, "veo3_fast", job.Model)
	assert.NotEmpty(t, job.InputImageURL)
	assert.Len(t, job.ReferenceImageURLs, 1)
	assert.Equal(t, []int64{job.ID}, f.queue.IDs())
	assert.Contains(t, string(job.RequestSnapshot), "runway")

	logs, err := f.jobs.Logs(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "Job created", logs[0].Message)

	sub := f.balance(t, f.user.ID)
	assert.Equal(t, 90, sub.AvailableTokens)
}

func TestSubmit_PaymentRequired(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	sub := models.NewSubscription(f.user.ID, models.TierFree, f.tokens.now())
	sub.AvailableTokens = 5
	sub.ConsumedTokens = 95
	f.ledger.Put(*sub)

	_, err := f.svc.Submit(ctx, f.user, textParams())
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindPaymentRequired, e.Kind)
	require.NotNil(t, e.Cost)
	require.NotNil(t, e.Available)
	assert.Equal(t, 10, *e.Cost)
	assert.Equal(t, 5, *e.Available)

	jobs, _ := f.jobs.List(ctx, repository.JobFilter{UserID: f.user.ID})
	assert.Empty(t, jobs)
	assert.Empty(t, f.ledger.Transactions(f.user.ID))
}

// A fourth job is refused regardless of balance and the admission charge is
// refunded.
func TestSubmit_ConcurrencyLimitRefunds(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	for i := 0; i < models.MaxActiveJobsPerUser; i++ {
		_, err := f.svc.Submit(ctx, f.user, textParams())
		require.NoError(t, err)
	}
	before := f.balance(t, f.user.ID)
	assert.Equal(t, 70, before.AvailableTokens)

	_, err := f.svc.Submit(ctx, f.user, textParams())
	assert.True(t, apperr.Is(err, apperr.KindTooManyConcurrentJobs))

	active, err := f.jobs.CountActive(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, active)

	after := f.balance(t, f.user.ID)
	assert.Equal(t, before.AvailableTokens, after.AvailableTokens)
	assert.Equal(t, before.ConsumedTokens, after.ConsumedTokens)
	assert.Equal(t, before.LifetimeConsumed+10, after.LifetimeConsumed)

	txns := f.ledger.Transactions(f.user.ID)
	require.Len(t, txns, 5)
	assert.Equal(t, models.TxConsumption, txns[3].Type)
	assert.Equal(t, models.TxRefund, txns[4].Type)
	assert.Equal(t, 10, txns[4].Amount)
}

func TestSubmit_ConcurrencyLimitIgnoresBalance(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	_, err := f.tokens.ChangeTier(ctx, f.user.ID, models.TierUltimate, adminID)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		f.jobs.Insert(models.VideoJob{UserID: f.user.ID, Status: models.JobRunning})
	}

	_, err = f.svc.Submit(ctx, f.user, textParams())
	assert.True(t, apperr.Is(err, apperr.KindTooManyConcurrentJobs))
}

func TestSubmit_FinishedJobsDoNotCount(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	for _, st := range []models.JobStatus{models.JobSucceeded, models.JobFailed, models.JobCancelled, models.JobDeleted} {
		f.jobs.Insert(models.VideoJob{UserID: f.user.ID, Status: st})
	}
	f.jobs.Insert(models.VideoJob{UserID: f.other.ID, Status: models.JobRunning})

	_, err := f.svc.Submit(ctx, f.user, textParams())
	require.NoError(t, err)
}

func TestSubmit_ValidationRefunds(t *testing.T) {
	cases := map[string]func(p *SubmitParams){
		"resolution":   func(p *SubmitParams) { p.Resolution = "4k" },
		"aspect":       func(p *SubmitParams) { p.AspectRatio = "1:1" },
		"no input":     func(p *SubmitParams) { p.Prompt = "  " },
		"duration":     func(p *SubmitParams) { p.DurationSeconds = 5 },
		"model":        func(p *SubmitParams) { p.Model = "sora" },
		"end no start": func(p *SubmitParams) { p.EndImage = &Upload{Data: []byte("x")} },
		"start with references": func(p *SubmitParams) {
			p.InitialImage = &Upload{Data: []byte("x")}
			p.References = []Upload{{Data: []byte("y")}}
		},
		"references": func(p *SubmitParams) {
			p.References = make([]Upload, 4)
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newVideoFixture(t)
			p := textParams()
			mutate(&p)

			_, err := f.svc.Submit(context.Background(), f.user, p)
			assert.True(t, apperr.Is(err, apperr.KindBadRequest), "got %v", err)

			sub := f.balance(t, f.user.ID)
			assert.Equal(t, 100, sub.AvailableTokens)
			assert.Equal(t, 0, sub.ConsumedTokens)
			assert.Zero(t, f.content.Len())
			assert.Empty(t, f.queue.IDs())
		})
	}
}

func TestSubmit_ForeignLook(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()
	look := &models.Look{UserID: f.other.ID, Title: "theirs"}
	require.NoError(t, f.looks.Create(ctx, look))

	p := textParams()
	p.LookID = &look.ID
	_, err := f.svc.Submit(ctx, f.user, p)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	missing := int64(404)
	p.LookID = &missing
	_, err = f.svc.Submit(ctx, f.user, p)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	assert.Equal(t, 100, f.balance(t, f.user.ID).AvailableTokens)
}

func TestSubmit_UploadFailureRefundsAndCleansUp(t *testing.T) {
	f := newVideoFixture(t)
	f.content.FailAfter = 1

	p := textParams()
	p.InitialImage = &Upload{Data: []byte("a"), ContentType: "image/png"}
	p.EndImage = &Upload{Data: []byte("b"), ContentType: "image/png"}

	_, err := f.svc.Submit(context.Background(), f.user, p)
	assert.True(t, apperr.Is(err, apperr.KindStorageError))
	assert.Zero(t, f.content.Len(), "already uploaded inputs are removed")
	assert.Equal(t, 100, f.balance(t, f.user.ID).AvailableTokens)
}

// cancelAwareLedger refuses writes on a done context, like a real transaction would.
type cancelAwareLedger struct {
	*testutil.Ledger
}

func (l cancelAwareLedger) Mutate(ctx context.Context, userID int64, fn repository.MutateFunc) (*models.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.Ledger.Mutate(ctx, userID, fn)
}

// disconnectingContent simulates the client going away mid-upload.
type disconnectingContent struct {
	*testutil.Content
	cancel context.CancelFunc
}

func (c disconnectingContent) Put(ctx context.Context, _ []byte, _, _ string) (string, error) {
	c.cancel()
	return "", ctx.Err()
}

func TestSubmit_RefundSurvivesCancelledRequest(t *testing.T) {
	f := newVideoFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens := NewTokenService(cancelAwareLedger{f.ledger}, nil)
	content := disconnectingContent{Content: f.content, cancel: cancel}
	svc := NewVideoService(tokens, f.jobs, f.looks, content, f.queue, "veo3_fast", nil)

	p := textParams()
	p.InitialImage = &Upload{Data: []byte("png"), ContentType: "image/png"}
	_, err := svc.Submit(ctx, f.user, p)
	assert.True(t, apperr.Is(err, apperr.KindStorageError))

	sub := f.balance(t, f.user.ID)
	assert.Equal(t, 100, sub.AvailableTokens)
	assert.Equal(t, 0, sub.ConsumedTokens)
	txns := f.ledger.Transactions(f.user.ID)
	require.Len(t, txns, 2)
	assert.Equal(t, models.TxRefund, txns[1].Type)
	assert.Empty(t, f.queue.IDs())
}

func TestSubmit_CreateFailureRefunds(t *testing.T) {
	f := newVideoFixture(t)
	f.jobs.CreateErr = errors.New("connection reset")

	p := textParams()
	p.InitialImage = &Upload{Data: []byte("a"), ContentType: "image/png"}
	_, err := f.svc.Submit(context.Background(), f.user, p)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Zero(t, f.content.Len())
	assert.Equal(t, 100, f.balance(t, f.user.ID).AvailableTokens)
}

func TestSubmit_EnqueueFailureMarksFailed(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()
	f.queue.Err = errors.New("redis down")

	job, err := f.svc.Submit(ctx, f.user, textParams())
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)

	stored, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "redis down")

	logs, _ := f.jobs.Logs(ctx, job.ID)
	assert.Equal(t, models.LogError, logs[len(logs)-1].Level)

	// FAILED jobs keep their charge.
	assert.Equal(t, 90, f.balance(t, f.user.ID).AvailableTokens)
}

func TestGetAndList_Visibility(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, f.user, textParams())
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, f.user, job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Logs)

	_, err = f.svc.Get(ctx, f.other, job.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.Get(ctx, f.admin, job.ID)
	assert.NoError(t, err)

	list, err := f.svc.List(ctx, f.other.ID, "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	all, err := f.svc.ListAll(ctx, 0, models.JobPending, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDownloadURL(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	pending := f.jobs.Insert(models.VideoJob{UserID: f.user.ID})
	_, err := f.svc.DownloadURL(ctx, f.user, pending.ID)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	done := f.jobs.Insert(models.VideoJob{UserID: f.user.ID, Status: models.JobSucceeded, ResultURL: "https://cdn.test/videos/1"})
	url, err := f.svc.DownloadURL(ctx, f.user, done.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/videos/1", url)
}

func TestCancel(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, f.user, textParams())
	require.NoError(t, err)

	got, err := f.svc.Cancel(ctx, f.user, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, got.Status)

	_, err = f.svc.Cancel(ctx, f.user, job.ID)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	// Cancelling does not refund.
	assert.Equal(t, 90, f.balance(t, f.user.ID).AvailableTokens)
}

func TestDelete(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	running := f.jobs.Insert(models.VideoJob{UserID: f.user.ID, Status: models.JobRunning})
	require.NoError(t, f.svc.Delete(ctx, f.user, running.ID))
	soft, err := f.jobs.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobDeleted, soft.Status)

	list, err := f.svc.List(ctx, f.user.ID, "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	resultURL, err := f.content.Put(ctx, []byte("mp4"), "video/mp4", "videos")
	require.NoError(t, err)
	done := f.jobs.Insert(models.VideoJob{UserID: f.user.ID, Status: models.JobSucceeded, ResultURL: resultURL})
	require.NoError(t, f.svc.Delete(ctx, f.user, done.ID))
	gone, err := f.jobs.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.False(t, f.content.Has(resultURL))

	foreign := f.jobs.Insert(models.VideoJob{UserID: f.user.ID, Status: models.JobFailed, ResultURL: "https://elsewhere/x.mp4"})
	require.NoError(t, f.svc.Delete(ctx, f.user, foreign.ID))

	err = f.svc.Delete(ctx, f.other, running.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestLookDefaults(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	look := &models.Look{UserID: f.user.ID, Title: "autumn"}
	require.NoError(t, f.looks.Create(ctx, look))

	p := textParams()
	p.LookID = &look.ID
	first, err := f.svc.Submit(ctx, f.user, p)
	require.NoError(t, err)
	second := f.jobs.Insert(models.VideoJob{UserID: f.user.ID, Status: models.JobSucceeded})
	require.NoError(t, f.svc.AttachToLook(ctx, f.user, look.ID, second.ID))

	require.NoError(t, f.svc.SetDefaultForLook(ctx, f.user, look.ID, first.ID))
	require.NoError(t, f.svc.SetDefaultForLook(ctx, f.user, look.ID, second.ID))

	videos, err := f.svc.ListLookVideos(ctx, f.user, look.ID)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	defaults := 0
	for _, v := range videos {
		if v.IsDefault {
			defaults++
			assert.Equal(t, second.ID, v.VideoJobID)
		}
		assert.NotNil(t, v.Job)
	}
	assert.Equal(t, 1, defaults)

	require.NoError(t, f.svc.UnsetDefaultForLook(ctx, f.user, look.ID, second.ID))
	videos, _ = f.svc.ListLookVideos(ctx, f.user, look.ID)
	for _, v := range videos {
		assert.False(t, v.IsDefault)
	}

	err = f.svc.SetDefaultForLook(ctx, f.user, look.ID, 999)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	err = f.svc.SetDefaultForLook(ctx, f.other, look.ID, first.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestRemoveFromLook(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	look := &models.Look{UserID: f.user.ID, Title: "summer"}
	require.NoError(t, f.looks.Create(ctx, look))
	job := f.jobs.Insert(models.VideoJob{UserID: f.user.ID, Status: models.JobSucceeded})
	require.NoError(t, f.looks.Link(ctx, look.ID, job.ID))

	require.NoError(t, f.svc.RemoveFromLook(ctx, f.user, look.ID, job.ID))
	videos, err := f.looks.ListVideos(ctx, look.ID)
	require.NoError(t, err)
	assert.Empty(t, videos)
	gone, _ := f.jobs.Get(ctx, job.ID)
	assert.Nil(t, gone)

	err = f.svc.RemoveFromLook(ctx, f.user, look.ID, job.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
