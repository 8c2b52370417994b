package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/lookstudio/internal/models"
)

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Get(ctx context.Context, userID int64) (*models.UserSettings, error) {
	var s models.UserSettings
	var overrides []byte
	row := r.db.QueryRowContext(ctx, `SELECT user_id, theme, tool_overrides, updated_at FROM user_settings WHERE user_id = ?`, userID)
	if err := row.Scan(&s.UserID, &s.Theme, &overrides, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	s.Overrides = overrides
	return &s, nil
}

func (r *SettingsRepository) Upsert(ctx context.Context, s *models.UserSettings) error {
	const query = `
INSERT INTO user_settings (user_id, theme, tool_overrides) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE theme = VALUES(theme), tool_overrides = VALUES(tool_overrides), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, s.UserID, s.Theme, nullJSON(s.Overrides)); err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

func (r *SettingsRepository) Delete(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM user_settings WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete settings: %w", err)
	}
	return nil
}

const defaultSettingsID = 1

// GetDefaults returns the admin defaults row, or nil when none was saved.
func (r *SettingsRepository) GetDefaults(ctx context.Context) (*models.DefaultSettings, error) {
	var (
		d         models.DefaultSettings
		overrides []byte
		updatedBy sql.NullInt64
	)
	row := r.db.QueryRowContext(ctx, `SELECT theme, tool_overrides, updated_by, updated_at FROM default_settings WHERE id = ?`, defaultSettingsID)
	if err := row.Scan(&d.Theme, &overrides, &updatedBy, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan default settings: %w", err)
	}
	d.Overrides = overrides
	if updatedBy.Valid {
		d.UpdatedBy = &updatedBy.Int64
	}
	return &d, nil
}

func (r *SettingsRepository) UpsertDefaults(ctx context.Context, d *models.DefaultSettings) error {
	const query = `
INSERT INTO default_settings (id, theme, tool_overrides, updated_by) VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE theme = VALUES(theme), tool_overrides = VALUES(tool_overrides), updated_by = VALUES(updated_by), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, defaultSettingsID, d.Theme, nullJSON(d.Overrides), d.UpdatedBy); err != nil {
		return fmt.Errorf("upsert default settings: %w", err)
	}
	return nil
}

func (r *SettingsRepository) DeleteDefaults(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM default_settings WHERE id = ?`, defaultSettingsID); err != nil {
		return fmt.Errorf("delete default settings: %w", err)
	}
	return nil
}
