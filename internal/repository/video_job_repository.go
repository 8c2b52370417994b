package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/digkill/lookstudio/internal/models"
)

type VideoJobRepository struct {
	db *sql.DB
}

func NewVideoJobRepository(db *sql.DB) *VideoJobRepository {
	return &VideoJobRepository{db: db}
}

// JobFilter narrows job listings. Zero values mean "any".
type JobFilter struct {
	UserID int64
	Status models.JobStatus
	// HideDeleted drops soft-deleted jobs from user-facing listings.
	HideDeleted bool
	Limit       int
	Offset      int
}

const videoJobColumns = `j.id, j.user_id, (SELECT MIN(lv.look_id) FROM look_videos lv WHERE lv.video_job_id = j.id), COALESCE(j.prompt, ''), j.model, j.resolution, j.aspect_ratio, j.duration_seconds, j.generate_audio,
COALESCE(j.input_image_url, ''), COALESCE(j.end_image_url, ''), j.reference_image_urls, j.status, COALESCE(j.status_message, ''), COALESCE(j.error_message, ''),
j.progress_percentage, j.tokens_consumed, j.request_snapshot, COALESCE(j.operation_name, ''), COALESCE(j.provider_result_uri, ''), j.provider_response,
COALESCE(j.result_url, ''), j.started_at, j.completed_at, j.created_at, j.updated_at`

const videoJobFrom = ` FROM video_jobs j`

func scanVideoJob(row interface{ Scan(...any) error }) (*models.VideoJob, error) {
	var (
		j          models.VideoJob
		lookID     sql.NullInt64
		refs       []byte
		snapshot   []byte
		response   []byte
		startedAt  sql.NullTime
		finishedAt sql.NullTime
		audio      int
	)
	if err := row.Scan(&j.ID, &j.UserID, &lookID, &j.Prompt, &j.Model, &j.Resolution, &j.AspectRatio, &j.DurationSeconds, &audio,
		&j.InputImageURL, &j.EndImageURL, &refs, &j.Status, &j.StatusMessage, &j.ErrorMessage,
		&j.ProgressPercentage, &j.TokensConsumed, &snapshot, &j.OperationName, &j.ProviderResultURI, &response,
		&j.ResultURL, &startedAt, &finishedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.GenerateAudio = audio != 0
	if lookID.Valid {
		id := lookID.Int64
		j.LookID = &id
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &j.ReferenceImageURLs); err != nil {
			return nil, fmt.Errorf("decode reference images: %w", err)
		}
	}
	if len(snapshot) > 0 {
		j.RequestSnapshot = json.RawMessage(snapshot)
	}
	if len(response) > 0 {
		j.ProviderResponse = json.RawMessage(response)
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func statusArgs(statuses []models.JobStatus) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		marks[i] = "?"
		args[i] = string(s)
	}
	return strings.Join(marks, ", "), args
}

// CreateWithLimit inserts job at PENDING unless the user already holds limit
// active jobs. The user row is locked for the duration so concurrent submissions
// for the same user are serialized. Creation logs and the optional look link are
// written in the same transaction.
func (r *VideoJobRepository) CreateWithLimit(ctx context.Context, job *models.VideoJob, limit int, logs []string) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var lockedID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = ? FOR UPDATE`, job.UserID).Scan(&lockedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock user: %w", err)
	}

	marks, args := statusArgs(models.ActiveStatuses)
	var active int
	countQuery := `SELECT COUNT(*) FROM video_jobs WHERE user_id = ? AND status IN (` + marks + `)`
	if err := tx.QueryRowContext(ctx, countQuery, append([]any{job.UserID}, args...)...).Scan(&active); err != nil {
		return fmt.Errorf("count active jobs: %w", err)
	}
	if active >= limit {
		return ErrActiveJobLimit
	}

	refs, err := json.Marshal(job.ReferenceImageURLs)
	if err != nil {
		return fmt.Errorf("encode reference images: %w", err)
	}
	audio := 0
	if job.GenerateAudio {
		audio = 1
	}
	job.Status = models.JobPending
	const insert = `
INSERT INTO video_jobs (user_id, prompt, model, resolution, aspect_ratio, duration_seconds, generate_audio, input_image_url, end_image_url,
reference_image_urls, status, status_message, progress_percentage, tokens_consumed, request_snapshot)
VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, NULLIF(?, ''), 0, ?, ?)`
	res, err := tx.ExecContext(ctx, insert, job.UserID, job.Prompt, job.Model, job.Resolution, job.AspectRatio, job.DurationSeconds, audio,
		job.InputImageURL, job.EndImageURL, string(refs), job.Status, job.StatusMessage, job.TokensConsumed, nullJSON(job.RequestSnapshot))
	if err != nil {
		return fmt.Errorf("insert video job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	job.ID = id

	for _, msg := range logs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO video_job_logs (video_job_id, level, message) VALUES (?, ?, ?)`, id, models.LogInfo, msg); err != nil {
			return fmt.Errorf("insert video job log: %w", err)
		}
	}
	if job.LookID != nil {
		if _, err := tx.ExecContext(ctx, `INSERT INTO look_videos (look_id, video_job_id, is_default) VALUES (?, ?, 0)`, *job.LookID, id); err != nil {
			return fmt.Errorf("link look video: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit video job tx: %w", err)
	}
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	return nil
}

func (r *VideoJobRepository) Get(ctx context.Context, id int64) (*models.VideoJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoJobColumns+videoJobFrom+` WHERE j.id = ?`, id)
	j, err := scanVideoJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan video job: %w", err)
	}
	return j, nil
}

func (r *VideoJobRepository) List(ctx context.Context, f JobFilter) ([]models.VideoJob, error) {
	var where []string
	var args []any
	if f.UserID != 0 {
		where = append(where, "j.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "j.status = ?")
		args = append(args, f.Status)
	}
	if f.HideDeleted {
		where = append(where, "j.status <> ?")
		args = append(args, models.JobDeleted)
	}
	query := `SELECT ` + videoJobColumns + videoJobFrom
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY j.id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list video jobs: %w", err)
	}
	defer rows.Close()

	var out []models.VideoJob
	for rows.Next() {
		j, err := scanVideoJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (r *VideoJobRepository) CountActive(ctx context.Context, userID int64) (int, error) {
	marks, args := statusArgs(models.ActiveStatuses)
	var n int
	query := `SELECT COUNT(*) FROM video_jobs WHERE user_id = ? AND status IN (` + marks + `)`
	if err := r.db.QueryRowContext(ctx, query, append([]any{userID}, args...)...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return n, nil
}

// Claim moves a PENDING job to RUNNING. It reports false when another actor
// already moved the job.
func (r *VideoJobRepository) Claim(ctx context.Context, id int64) (bool, error) {
	const query = `
UPDATE video_jobs SET status = ?, status_message = ?, started_at = NOW(), updated_at = NOW()
WHERE id = ? AND status = ?`
	return r.affected(ctx, query, models.JobRunning, "Processing started", id, models.JobPending)
}

// UpdateProgress never lowers progress and only applies to RUNNING jobs; false
// means the job was moved out of RUNNING by someone else.
func (r *VideoJobRepository) UpdateProgress(ctx context.Context, id int64, percent int, message string) (bool, error) {
	const query = `
UPDATE video_jobs SET progress_percentage = GREATEST(progress_percentage, ?), status_message = NULLIF(?, ''), updated_at = NOW()
WHERE id = ? AND status = ?`
	ok, err := r.affected(ctx, query, percent, message, id, models.JobRunning)
	if err != nil || ok {
		return ok, err
	}
	// MySQL reports zero affected rows for no-op updates; confirm by status.
	return r.isRunning(ctx, id)
}

func (r *VideoJobRepository) SetOperation(ctx context.Context, id int64, operation string) error {
	const query = `UPDATE video_jobs SET operation_name = ?, updated_at = NOW() WHERE id = ? AND status = ?`
	if _, err := r.db.ExecContext(ctx, query, operation, id, models.JobRunning); err != nil {
		return fmt.Errorf("set operation: %w", err)
	}
	return nil
}

func (r *VideoJobRepository) SetProviderResult(ctx context.Context, id int64, uri string, response []byte) error {
	const query = `UPDATE video_jobs SET provider_result_uri = ?, provider_response = ?, updated_at = NOW() WHERE id = ? AND status = ?`
	if _, err := r.db.ExecContext(ctx, query, uri, nullJSON(response), id, models.JobRunning); err != nil {
		return fmt.Errorf("set provider result: %w", err)
	}
	return nil
}

// MarkSucceeded finishes a RUNNING job.
func (r *VideoJobRepository) MarkSucceeded(ctx context.Context, id int64, resultURL string) (bool, error) {
	marks, args := statusArgs(models.SourcesFor(models.JobSucceeded))
	query := `
UPDATE video_jobs SET status = ?, status_message = ?, result_url = ?, progress_percentage = 100, completed_at = NOW(), updated_at = NOW()
WHERE id = ? AND status IN (` + marks + `)`
	return r.affected(ctx, query, append([]any{models.JobSucceeded, "Video generated successfully", resultURL, id}, args...)...)
}

// MarkFailed fails a non-terminal job, keeping its progress as is.
func (r *VideoJobRepository) MarkFailed(ctx context.Context, id int64, reason string) (bool, error) {
	marks, args := statusArgs(models.SourcesFor(models.JobFailed))
	query := `
UPDATE video_jobs SET status = ?, status_message = ?, error_message = ?, completed_at = NOW(), updated_at = NOW()
WHERE id = ? AND status IN (` + marks + `)`
	return r.affected(ctx, query, append([]any{models.JobFailed, "Generation failed", reason, id}, args...)...)
}

// Override moves a non-terminal job to CANCELLED or DELETED.
func (r *VideoJobRepository) Override(ctx context.Context, id int64, status models.JobStatus, message string) (bool, error) {
	if status != models.JobCancelled && status != models.JobDeleted {
		return false, fmt.Errorf("override to %s not allowed", status)
	}
	marks, args := statusArgs(models.SourcesFor(status))
	query := `
UPDATE video_jobs SET status = ?, status_message = ?, completed_at = NOW(), updated_at = NOW()
WHERE id = ? AND status IN (` + marks + `)`
	return r.affected(ctx, query, append([]any{status, message, id}, args...)...)
}

// Delete removes a terminal job row; logs and look links cascade.
func (r *VideoJobRepository) Delete(ctx context.Context, id int64) (bool, error) {
	marks, args := statusArgs(models.TerminalStatuses)
	query := `DELETE FROM video_jobs WHERE id = ? AND status IN (` + marks + `)`
	return r.affected(ctx, query, append([]any{id}, args...)...)
}

func (r *VideoJobRepository) AppendLog(ctx context.Context, id int64, level models.LogLevel, message string) error {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO video_job_logs (video_job_id, level, message) VALUES (?, ?, ?)`, id, level, message); err != nil {
		return fmt.Errorf("insert video job log: %w", err)
	}
	return nil
}

func (r *VideoJobRepository) Logs(ctx context.Context, id int64) ([]models.JobLog, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, video_job_id, level, message, created_at FROM video_job_logs WHERE video_job_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list video job logs: %w", err)
	}
	defer rows.Close()

	var out []models.JobLog
	for rows.Next() {
		var l models.JobLog
		if err := rows.Scan(&l.ID, &l.VideoJobID, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan video job log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListStaleRunning returns ids of jobs RUNNING for longer than olderThan. The
// cutoff is computed by the database, the same clock that stamps started_at.
func (r *VideoJobRepository) ListStaleRunning(ctx context.Context, olderThan time.Duration) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM video_jobs WHERE status = ? AND started_at < NOW() - INTERVAL ? SECOND`,
		models.JobRunning, int64(olderThan/time.Second))
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *VideoJobRepository) isRunning(ctx context.Context, id int64) (bool, error) {
	var status models.JobStatus
	if err := r.db.QueryRowContext(ctx, `SELECT status FROM video_jobs WHERE id = ?`, id).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("read job status: %w", err)
	}
	return status == models.JobRunning, nil
}

func (r *VideoJobRepository) affected(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update video job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("video job rows affected: %w", err)
	}
	return n > 0, nil
}
