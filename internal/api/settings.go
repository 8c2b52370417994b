package api

import (
	"net/http"

	"github.com/digkill/lookstudio/internal/service"
	"github.com/digkill/lookstudio/internal/settings"
)

type updateSettingsRequest struct {
	Theme     *string             `json:"theme" validate:"omitempty,oneof=light dark"`
	Overrides *settings.Overrides `json:"overrides"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Settings.Get(r.Context(), currentUser(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.svc.Settings.Update(r.Context(), currentUser(r).ID, service.SettingsUpdate{
		Theme:     req.Theme,
		Overrides: req.Overrides,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDefaultSettings(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Settings.Defaults(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateDefaultSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.svc.Settings.UpdateDefaults(r.Context(), currentUser(r).ID, service.SettingsUpdate{
		Theme:     req.Theme,
		Overrides: req.Overrides,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResetDefaultSettings(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Settings.ResetDefaults(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Settings.Reset(r.Context(), currentUser(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
