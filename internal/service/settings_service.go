package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/digkill/lookstudio/internal/apperr"
	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/settings"
)

// UserToolSettings is what the settings endpoints return: the merged tool
// settings plus the raw overrides so clients can tell custom values apart.
type UserToolSettings struct {
	Theme     string                `json:"theme"`
	Tools     settings.ToolSettings `json:"tools"`
	Overrides *settings.Overrides   `json:"overrides,omitempty"`
	UpdatedAt *time.Time            `json:"updatedAt,omitempty"`
}

type SettingsUpdate struct {
	Theme     *string
	Overrides *settings.Overrides
}

type SettingsService struct {
	store      SettingsStore
	videoModel string
}

func NewSettingsService(store SettingsStore, videoModel string) *SettingsService {
	return &SettingsService{store: store, videoModel: videoModel}
}

// Get returns the user's tool settings: built-in defaults, then the admin
// defaults, then the user's own overrides.
func (s *SettingsService) Get(ctx context.Context, userID int64) (*UserToolSettings, error) {
	base, err := s.Defaults(ctx)
	if err != nil {
		return nil, err
	}
	row, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	out := &UserToolSettings{Theme: base.Theme, Tools: base.Tools}
	if row == nil {
		return out, nil
	}
	overrides, err := settings.DecodeOverrides(row.Overrides)
	if err != nil {
		return nil, err
	}
	if settings.ValidTheme(row.Theme) {
		out.Theme = row.Theme
	}
	out.Tools = settings.Merge(out.Tools, overrides)
	out.Overrides = overrides
	updated := row.UpdatedAt
	out.UpdatedAt = &updated
	return out, nil
}

// Update replaces the stored overrides when given and changes the theme when
// given; fields left nil keep their current value.
func (s *SettingsService) Update(ctx context.Context, userID int64, upd SettingsUpdate) (*UserToolSettings, error) {
	if upd.Theme != nil && !settings.ValidTheme(*upd.Theme) {
		return nil, apperr.BadRequest("theme must be light or dark")
	}
	if err := upd.Overrides.Validate(); err != nil {
		return nil, apperr.BadRequest("%s", err.Error())
	}

	row, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	if row == nil {
		row = &models.UserSettings{UserID: userID, Theme: settings.DefaultTheme}
	}
	if upd.Theme != nil {
		row.Theme = *upd.Theme
	}
	if upd.Overrides != nil {
		raw, err := json.Marshal(upd.Overrides)
		if err != nil {
			return nil, fmt.Errorf("encode overrides: %w", err)
		}
		row.Overrides = raw
	}
	if err := s.store.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	return s.Get(ctx, userID)
}

// Reset drops the user's overrides; the admin defaults apply again.
func (s *SettingsService) Reset(ctx context.Context, userID int64) (*UserToolSettings, error) {
	if err := s.store.Delete(ctx, userID); err != nil {
		return nil, fmt.Errorf("reset settings: %w", err)
	}
	return s.Get(ctx, userID)
}

// DefaultToolSettings is the defaults layer every user starts from.
type DefaultToolSettings struct {
	Theme     string                `json:"theme"`
	Tools     settings.ToolSettings `json:"tools"`
	Overrides *settings.Overrides   `json:"overrides,omitempty"`
	UpdatedAt *time.Time            `json:"updatedAt,omitempty"`
	UpdatedBy *int64                `json:"updatedBy,omitempty"`
}

// Defaults returns the built-in defaults with the admin layer applied.
func (s *SettingsService) Defaults(ctx context.Context) (*DefaultToolSettings, error) {
	row, err := s.store.GetDefaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("get default settings: %w", err)
	}
	out := &DefaultToolSettings{Theme: settings.DefaultTheme, Tools: settings.Defaults(s.videoModel)}
	if row == nil {
		return out, nil
	}
	overrides, err := settings.DecodeOverrides(row.Overrides)
	if err != nil {
		return nil, err
	}
	if settings.ValidTheme(row.Theme) {
		out.Theme = row.Theme
	}
	out.Tools = settings.Resolve(s.videoModel, overrides)
	out.Overrides = overrides
	updated := row.UpdatedAt
	out.UpdatedAt = &updated
	out.UpdatedBy = row.UpdatedBy
	return out, nil
}

// UpdateDefaults changes the admin layer. Users' own overrides still win.
func (s *SettingsService) UpdateDefaults(ctx context.Context, adminID int64, upd SettingsUpdate) (*DefaultToolSettings, error) {
	if upd.Theme != nil && !settings.ValidTheme(*upd.Theme) {
		return nil, apperr.BadRequest("theme must be light or dark")
	}
	if err := upd.Overrides.Validate(); err != nil {
		return nil, apperr.BadRequest("%s", err.Error())
	}

	row, err := s.store.GetDefaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("get default settings: %w", err)
	}
	if row == nil {
		row = &models.DefaultSettings{Theme: settings.DefaultTheme}
	}
	if upd.Theme != nil {
		row.Theme = *upd.Theme
	}
	if upd.Overrides != nil {
		raw, err := json.Marshal(upd.Overrides)
		if err != nil {
			return nil, fmt.Errorf("encode overrides: %w", err)
		}
		row.Overrides = raw
	}
	row.UpdatedBy = &adminID
	if err := s.store.UpsertDefaults(ctx, row); err != nil {
		return nil, fmt.Errorf("save default settings: %w", err)
	}
	return s.Defaults(ctx)
}

// ResetDefaults drops the admin layer, restoring the built-in defaults.
func (s *SettingsService) ResetDefaults(ctx context.Context) (*DefaultToolSettings, error) {
	if err := s.store.DeleteDefaults(ctx); err != nil {
		return nil, fmt.Errorf("reset default settings: %w", err)
	}
	return s.Defaults(ctx)
}
