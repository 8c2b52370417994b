package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/digkill/lookstudio/internal/apperr"
	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/repository"
)

const maxLookTitle = 255

// Look listing views.
const (
	LookViewMine   = "mine"
	LookViewShared = "shared"
	LookViewPublic = "public"
	// LookViewAll lists every look; admins only.
	LookViewAll = "all"
)

type LookService struct {
	looks   LookStore
	content ContentStore
	log     *slog.Logger
}

// NewLookService builds the service; content may be nil, in which case look
// images are left in storage on delete.
func NewLookService(looks LookStore, content ContentStore, log *slog.Logger) *LookService {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LookService{looks: looks, content: content, log: log}
}

type LookParams struct {
	Title      string
	Notes      string
	ImageURL   string
	Visibility models.Visibility
	SharedWith []int64
}

// LookUpdate changes the fields that are non-nil.
type LookUpdate struct {
	Title    *string
	Notes    *string
	ImageURL *string
}

type LookQuery struct {
	View   string
	Search string
	Limit  int
	Offset int
}

func (s *LookService) Create(ctx context.Context, user *models.User, p LookParams) (*models.Look, error) {
	title, err := lookTitle(p.Title)
	if err != nil {
		return nil, err
	}
	if p.Visibility == "" {
		p.Visibility = models.VisibilityPrivate
	}
	if !p.Visibility.Valid() {
		return nil, apperr.BadRequest("visibility must be private, shared or public")
	}
	look := &models.Look{
		UserID:     user.ID,
		Title:      title,
		Notes:      strings.TrimSpace(p.Notes),
		ImageURL:   strings.TrimSpace(p.ImageURL),
		Visibility: models.VisibilityPrivate,
	}
	if err := s.looks.Create(ctx, look); err != nil {
		return nil, fmt.Errorf("create look: %w", err)
	}
	s.log.Info("look created", "look_id", look.ID, "user_id", user.ID)
	if p.Visibility != models.VisibilityPrivate {
		return s.SetVisibility(ctx, user, look.ID, p.Visibility, p.SharedWith)
	}
	return look, nil
}

func (s *LookService) List(ctx context.Context, user *models.User, q LookQuery) ([]models.Look, error) {
	limit, offset := pageBounds(q.Limit, q.Offset)
	f := repository.LookFilter{Search: strings.TrimSpace(q.Search), Limit: limit, Offset: offset}
	switch q.View {
	case "", LookViewMine:
		f.OwnerID = user.ID
	case LookViewShared:
		f.SharedWith = user.ID
	case LookViewPublic:
		f.PublicOnly = true
	case LookViewAll:
		if !user.IsAdmin() {
			return nil, apperr.Forbidden("only admins can list every look")
		}
	default:
		return nil, apperr.BadRequest("view must be mine, shared, public or all")
	}
	looks, err := s.looks.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list looks: %w", err)
	}
	if looks == nil {
		looks = []models.Look{}
	}
	return looks, nil
}

// Get returns a look the user may view: their own, a public one, one shared
// with them, or any look for admins.
func (s *LookService) Get(ctx context.Context, user *models.User, id int64) (*models.Look, error) {
	look, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !look.ViewableBy(user) {
		return nil, apperr.Forbidden("look %d belongs to another user", id)
	}
	return look, nil
}

func (s *LookService) Update(ctx context.Context, user *models.User, id int64, upd LookUpdate) (*models.Look, error) {
	look, err := s.owned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		if look.Title, err = lookTitle(*upd.Title); err != nil {
			return nil, err
		}
	}
	if upd.Notes != nil {
		look.Notes = strings.TrimSpace(*upd.Notes)
	}
	if upd.ImageURL != nil {
		look.ImageURL = strings.TrimSpace(*upd.ImageURL)
	}
	if err := s.looks.Update(ctx, look); err != nil {
		return nil, fmt.Errorf("update look: %w", err)
	}
	return s.find(ctx, id)
}

// SetVisibility replaces the visibility and share list. The share list is
// ignored unless visibility is shared.
func (s *LookService) SetVisibility(ctx context.Context, user *models.User, id int64, v models.Visibility, userIDs []int64) (*models.Look, error) {
	if !v.Valid() {
		return nil, apperr.BadRequest("visibility must be private, shared or public")
	}
	look, err := s.owned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	var shareWith []int64
	if v == models.VisibilityShared {
		for _, uid := range userIDs {
			if uid > 0 && uid != look.UserID {
				shareWith = append(shareWith, uid)
			}
		}
	}
	if err := s.looks.SetVisibility(ctx, id, v, shareWith); err != nil {
		return nil, fmt.Errorf("set look visibility: %w", err)
	}
	s.log.Info("look visibility changed", "look_id", id, "visibility", v, "shared_with", len(shareWith))
	return s.find(ctx, id)
}

// Delete removes the look and its video links. Linked video jobs are kept.
func (s *LookService) Delete(ctx context.Context, user *models.User, id int64) error {
	look, err := s.owned(ctx, user, id)
	if err != nil {
		return err
	}
	ok, err := s.looks.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete look: %w", err)
	}
	if !ok {
		return apperr.NotFound("look %d not found", id)
	}
	if s.content != nil && look.ImageURL != "" {
		if _, err := s.content.Delete(context.WithoutCancel(ctx), look.ImageURL); err != nil {
			s.log.Warn("delete look image failed", "look_id", id, "err", err)
		}
	}
	s.log.Info("look deleted", "look_id", id, "user_id", user.ID)
	return nil
}

func (s *LookService) find(ctx context.Context, id int64) (*models.Look, error) {
	look, err := s.looks.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get look: %w", err)
	}
	if look == nil {
		return nil, apperr.NotFound("look %d not found", id)
	}
	return look, nil
}

func (s *LookService) owned(ctx context.Context, user *models.User, id int64) (*models.Look, error) {
	look, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if look.UserID != user.ID && !user.IsAdmin() {
		return nil, apperr.Forbidden("you don't have permission to change look %d", id)
	}
	return look, nil
}

func lookTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperr.BadRequest("title is required")
	}
	if len(title) > maxLookTitle {
		return "", apperr.BadRequest("title is too long")
	}
	return title, nil
}
