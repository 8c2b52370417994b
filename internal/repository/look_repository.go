package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/digkill/lookstudio/internal/models"
)

type LookRepository struct {
	db *sql.DB
}

func NewLookRepository(db *sql.DB) *LookRepository {
	return &LookRepository{db: db}
}

// LookFilter narrows look listings. Exactly one of OwnerID, SharedWith or
// PublicOnly is normally set; none of them lists every look.
type LookFilter struct {
	OwnerID int64
	// SharedWith lists looks other users shared with this user.
	SharedWith int64
	PublicOnly bool
	// Search matches title or notes.
	Search string
	Limit  int
	Offset int
}

const lookColumns = `l.id, l.user_id, l.title, COALESCE(l.notes, ''), COALESCE(l.image_url, ''), l.visibility, l.created_at, l.updated_at`

func scanLook(row interface{ Scan(...any) error }) (*models.Look, error) {
	var l models.Look
	if err := row.Scan(&l.ID, &l.UserID, &l.Title, &l.Notes, &l.ImageURL, &l.Visibility, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LookRepository) Create(ctx context.Context, look *models.Look) error {
	if look.Visibility == "" {
		look.Visibility = models.VisibilityPrivate
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO looks (user_id, title, notes, image_url, visibility) VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)`,
		look.UserID, look.Title, look.Notes, look.ImageURL, look.Visibility)
	if err != nil {
		return fmt.Errorf("insert look: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	look.ID = id
	return nil
}

// Get returns the look with its share list, or nil when it does not exist.
func (r *LookRepository) Get(ctx context.Context, id int64) (*models.Look, error) {
	l, err := scanLook(r.db.QueryRowContext(ctx, `SELECT `+lookColumns+` FROM looks l WHERE l.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan look: %w", err)
	}
	if l.Visibility == models.VisibilityShared {
		if l.SharedWith, err = r.sharedWith(ctx, id); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (r *LookRepository) sharedWith(ctx context.Context, lookID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM look_shares WHERE look_id = ? ORDER BY user_id`, lookID)
	if err != nil {
		return nil, fmt.Errorf("list look shares: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan look share: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *LookRepository) List(ctx context.Context, f LookFilter) ([]models.Look, error) {
	query := `SELECT ` + lookColumns + ` FROM looks l`
	var where []string
	var args []any
	switch {
	case f.OwnerID != 0:
		where = append(where, "l.user_id = ?")
		args = append(args, f.OwnerID)
	case f.SharedWith != 0:
		query += ` JOIN look_shares s ON s.look_id = l.id`
		where = append(where, "s.user_id = ?", "l.user_id <> ?", "l.visibility = ?")
		args = append(args, f.SharedWith, f.SharedWith, models.VisibilityShared)
	case f.PublicOnly:
		where = append(where, "l.visibility = ?")
		args = append(args, models.VisibilityPublic)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		where = append(where, "(l.title LIKE ? OR l.notes LIKE ?)")
		args = append(args, like, like)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY l.id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list looks: %w", err)
	}
	defer rows.Close()

	var out []models.Look
	for rows.Next() {
		l, err := scanLook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan look: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (r *LookRepository) Update(ctx context.Context, look *models.Look) error {
	_, err := r.db.ExecContext(ctx, `UPDATE looks SET title = ?, notes = NULLIF(?, ''), image_url = NULLIF(?, ''), updated_at = NOW() WHERE id = ?`,
		look.Title, look.Notes, look.ImageURL, look.ID)
	if err != nil {
		return fmt.Errorf("update look: %w", err)
	}
	return nil
}

// SetVisibility replaces the look's visibility and share list in one
// transaction. Unknown user ids are skipped.
func (r *LookRepository) SetVisibility(ctx context.Context, lookID int64, v models.Visibility, userIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE looks SET visibility = ?, updated_at = NOW() WHERE id = ?`, v, lookID); err != nil {
		return fmt.Errorf("update look visibility: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM look_shares WHERE look_id = ?`, lookID); err != nil {
		return fmt.Errorf("clear look shares: %w", err)
	}
	if v == models.VisibilityShared {
		for _, uid := range userIDs {
			if _, err := tx.ExecContext(ctx, `INSERT IGNORE INTO look_shares (look_id, user_id) SELECT ?, id FROM users WHERE id = ?`, lookID, uid); err != nil {
				return fmt.Errorf("share look: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit look visibility tx: %w", err)
	}
	return nil
}

// Delete removes the look; video links and shares go with it.
func (r *LookRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM looks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete look: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete look rows affected: %w", err)
	}
	return n > 0, nil
}

// Link attaches an existing job to a look; linking twice is a no-op.
func (r *LookRepository) Link(ctx context.Context, lookID, jobID int64) error {
	if _, err := r.db.ExecContext(ctx, `INSERT IGNORE INTO look_videos (look_id, video_job_id, is_default) VALUES (?, ?, 0)`, lookID, jobID); err != nil {
		return fmt.Errorf("link look video: %w", err)
	}
	return nil
}

func (r *LookRepository) Unlink(ctx context.Context, lookID, jobID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM look_videos WHERE look_id = ? AND video_job_id = ?`, lookID, jobID)
	if err != nil {
		return false, fmt.Errorf("unlink look video: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unlink rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *LookRepository) ListVideos(ctx context.Context, lookID int64) ([]models.LookVideo, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT look_id, video_job_id, is_default, created_at FROM look_videos WHERE look_id = ? ORDER BY is_default DESC, created_at DESC`, lookID)
	if err != nil {
		return nil, fmt.Errorf("list look videos: %w", err)
	}
	defer rows.Close()

	var out []models.LookVideo
	for rows.Next() {
		var lv models.LookVideo
		var isDefault int
		if err := rows.Scan(&lv.LookID, &lv.VideoJobID, &isDefault, &lv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan look video: %w", err)
		}
		lv.IsDefault = isDefault != 0
		out = append(out, lv)
	}
	return out, rows.Err()
}

// SetDefault clears every default flag of the look and then flags jobID, in one
// transaction, so readers never observe two defaults.
func (r *LookRepository) SetDefault(ctx context.Context, lookID, jobID int64) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var linked int
	row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM look_videos WHERE look_id = ? AND video_job_id = ? FOR UPDATE`, lookID, jobID)
	if err := row.Scan(&linked); err != nil {
		return fmt.Errorf("check look video: %w", err)
	}
	if linked == 0 {
		return ErrNotLinked
	}

	if _, err := tx.ExecContext(ctx, `UPDATE look_videos SET is_default = 0 WHERE look_id = ?`, lookID); err != nil {
		return fmt.Errorf("clear look defaults: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE look_videos SET is_default = 1 WHERE look_id = ? AND video_job_id = ?`, lookID, jobID); err != nil {
		return fmt.Errorf("set look default: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit look default tx: %w", err)
	}
	return nil
}

func (r *LookRepository) UnsetDefault(ctx context.Context, lookID, jobID int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE look_videos SET is_default = 0 WHERE look_id = ? AND video_job_id = ?`, lookID, jobID); err != nil {
		return fmt.Errorf("unset look default: %w", err)
	}
	return nil
}
