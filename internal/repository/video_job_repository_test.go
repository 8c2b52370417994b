package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/lookstudio/internal/models"
)

func newJobRepo(t *testing.T) (*VideoJobRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewVideoJobRepository(db), mock
}

func TestCreateWithLimit_RejectsAtLimit(t *testing.T) {
	repo, mock := newJobRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = ? FOR UPDATE")).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM video_jobs WHERE user_id = ? AND status IN (?, ?)")).
		WithArgs(int64(7), "PENDING", "RUNNING").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(3))
	mock.ExpectRollback()

	err := repo.CreateWithLimit(context.Background(), &models.VideoJob{UserID: 7}, models.MaxActiveJobsPerUser, nil)
	assert.ErrorIs(t, err, ErrActiveJobLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithLimit_InsertsJobLogsAndLookLink(t *testing.T) {
	repo, mock := newJobRepo(t)
	lookID := int64(4)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO video_jobs")).WillReturnResult(sqlmock.NewResult(55, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO video_job_logs")).WithArgs(int64(55), models.LogInfo, "Job created").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO look_videos")).WithArgs(lookID, int64(55)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job := &models.VideoJob{UserID: 7, LookID: &lookID, Model: "veo3_fast", Resolution: "720p", AspectRatio: "16:9", TokensConsumed: 10}
	require.NoError(t, repo.CreateWithLimit(context.Background(), job, models.MaxActiveJobsPerUser, []string{"Job created"}))
	assert.Equal(t, int64(55), job.ID)
	assert.Equal(t, models.JobPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaim_OnlyFromPending(t *testing.T) {
	repo, mock := newJobRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND status = ?")).
		WithArgs(models.JobRunning, "Processing started", int64(9), models.JobPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Claim(context.Background(), 9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkFailed_GuardsTerminalStates(t *testing.T) {
	repo, mock := newJobRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND status IN (?, ?)")).
		WithArgs(models.JobFailed, "Generation failed", "download failed", int64(9), "PENDING", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkFailed(context.Background(), 9, "download failed")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgress_NoopStillRunning(t *testing.T) {
	repo, mock := newJobRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("GREATEST(progress_percentage, ?)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM video_jobs WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("RUNNING"))

	ok, err := repo.UpdateProgress(context.Background(), 9, 15, "Polling")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateProgress_OverriddenJob(t *testing.T) {
	repo, mock := newJobRepo(t)

	mock.ExpectExec("GREATEST").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status").WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("CANCELLED"))

	ok, err := repo.UpdateProgress(context.Background(), 9, 15, "Polling")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOverride_RejectsNonOverrideStatus(t *testing.T) {
	repo, _ := newJobRepo(t)
	_, err := repo.Override(context.Background(), 1, models.JobSucceeded, "nope")
	assert.Error(t, err)
}

func TestListStaleRunning_CutoffUsesDatabaseClock(t *testing.T) {
	repo, mock := newJobRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM video_jobs WHERE status = ? AND started_at < NOW() - INTERVAL ? SECOND")).
		WithArgs("RUNNING", int64(1800)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4).AddRow(11))

	ids, err := repo.ListStaleRunning(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 11}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
