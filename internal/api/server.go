// Package api exposes the lookstudio services over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/service"
)

// Authenticator resolves a bearer token to an active account.
type Authenticator interface {
	Verify(ctx context.Context, token string) (*models.User, error)
}

type Services struct {
	Tokens     *service.TokenService
	Videos     *service.VideoService
	Looks      *service.LookService
	Generation *service.GenerationService
	Users      *service.UserService
	Settings   *service.SettingsService
}

type Options struct {
	Addr           string
	AllowedOrigins []string
	RequestTimeout time.Duration
	// MaxUploadBytes bounds a multipart request body.
	MaxUploadBytes int64
}

type Server struct {
	addr      string
	log       *slog.Logger
	auth      Authenticator
	svc       Services
	validate  *validator.Validate
	maxUpload int64
	router    *chi.Mux
}

func NewServer(opts Options, auth Authenticator, svc Services, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}

	s := &Server{
		addr:      opts.Addr,
		log:       log,
		auth:      auth,
		svc:       svc,
		validate:  newValidator(),
		maxUpload: opts.MaxUploadBytes,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Route("/subscription", func(r chi.Router) {
				r.Get("/info", s.handleSubscriptionInfo)
				r.Post("/consume", s.handleConsume)
				r.Get("/history", s.handleHistory)
				r.Get("/tiers", s.handleTiers)
				r.Get("/costs", s.handleCosts)
			})
			r.Route("/video-jobs", func(r chi.Router) {
				r.Post("/", s.handleSubmitVideo)
				r.Get("/", s.handleListVideos)
				r.Get("/{id}", s.handleGetVideo)
				r.Get("/{id}/download", s.handleDownloadVideo)
				r.Post("/{id}/cancel", s.handleCancelVideo)
				r.Delete("/{id}", s.handleDeleteVideo)
			})
			r.Route("/looks", func(r chi.Router) {
				r.Post("/", s.handleCreateLook)
				r.Get("/", s.handleListLooks)
				r.Get("/{id}", s.handleGetLook)
				r.Patch("/{id}", s.handleUpdateLook)
				r.Patch("/{id}/visibility", s.handleSetLookVisibility)
				r.Delete("/{id}", s.handleDeleteLook)
				r.Post("/{id}/videos", s.handleAddLookVideo)
				r.Get("/{id}/videos", s.handleListLookVideos)
				r.Patch("/{id}/videos/{videoId}/set-default", s.handleSetDefaultVideo)
				r.Patch("/{id}/videos/{videoId}/unset-default", s.handleUnsetDefaultVideo)
				r.Delete("/{id}/videos/{videoId}", s.handleRemoveLookVideo)
			})
			r.Post("/generate/image", s.handleGenerateImage)
			r.Post("/generate/text", s.handleGenerateText)
			r.Route("/settings", func(r chi.Router) {
				r.Get("/", s.handleGetSettings)
				r.Put("/", s.handleUpdateSettings)
				r.Delete("/", s.handleResetSettings)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Get("/users", s.handleListUsers)
				r.Patch("/users/{id}/status", s.handleSetUserStatus)
				r.Patch("/users/{id}/role", s.handleSetUserRole)
				r.Get("/users/{id}/subscription", s.handleAdminSubscription)
				r.Put("/users/{id}/subscription/tier", s.handleChangeTier)
				r.Post("/users/{id}/subscription/topup", s.handleTopup)
				r.Post("/users/{id}/subscription/reset-period", s.handleResetPeriod)
				r.Get("/video-jobs", s.handleAdminVideoJobs)
				r.Get("/settings/defaults", s.handleGetDefaultSettings)
				r.Put("/settings/defaults", s.handleUpdateDefaultSettings)
				r.Delete("/settings/defaults", s.handleResetDefaultSettings)
			})
		})
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
