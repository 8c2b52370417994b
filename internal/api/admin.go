package api

import (
	"net/http"
	"strings"

	"github.com/digkill/lookstudio/internal/models"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	status := models.AccountStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	limit, offset, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	users, err := s.svc.Users.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.User{"items": users})
}

type setStatusRequest struct {
	Status models.AccountStatus `json:"status" validate:"required,oneof=pending active suspended"`
}

func (s *Server) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req setStatusRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.svc.Users.SetStatus(r.Context(), currentUser(r), id, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type setRoleRequest struct {
	Role models.Role `json:"role" validate:"required,oneof=user admin"`
}

func (s *Server) handleSetUserRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req setRoleRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.svc.Users.SetRole(r.Context(), currentUser(r), id, req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
