package api

import (
	"net/http"

	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/service"
)

type createLookRequest struct {
	Title      string  `json:"title" validate:"required,max=255"`
	Notes      string  `json:"notes" validate:"max=4000"`
	ImageURL   string  `json:"imageUrl" validate:"omitempty,url,max=1024"`
	Visibility string  `json:"visibility" validate:"omitempty,oneof=private shared public"`
	SharedWith []int64 `json:"sharedWithUserIds" validate:"max=100,dive,gt=0"`
}

type updateLookRequest struct {
	Title    *string `json:"title" validate:"omitempty,max=255"`
	Notes    *string `json:"notes" validate:"omitempty,max=4000"`
	ImageURL *string `json:"imageUrl" validate:"omitempty,max=1024"`
}

type lookVisibilityRequest struct {
	Visibility string  `json:"visibility" validate:"required,oneof=private shared public"`
	SharedWith []int64 `json:"sharedWithUserIds" validate:"max=100,dive,gt=0"`
}

func (s *Server) handleCreateLook(w http.ResponseWriter, r *http.Request) {
	var req createLookRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	look, err := s.svc.Looks.Create(r.Context(), currentUser(r), service.LookParams{
		Title:      req.Title,
		Notes:      req.Notes,
		ImageURL:   req.ImageURL,
		Visibility: models.Visibility(req.Visibility),
		SharedWith: req.SharedWith,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, look)
}

func (s *Server) handleListLooks(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	looks, err := s.svc.Looks.List(r.Context(), currentUser(r), service.LookQuery{
		View:   q.Get("view"),
		Search: q.Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.Look{"items": looks})
}

func (s *Server) handleGetLook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	look, err := s.svc.Looks.Get(r.Context(), currentUser(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, look)
}

func (s *Server) handleUpdateLook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateLookRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	look, err := s.svc.Looks.Update(r.Context(), currentUser(r), id, service.LookUpdate{
		Title:    req.Title,
		Notes:    req.Notes,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, look)
}

func (s *Server) handleSetLookVisibility(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req lookVisibilityRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	look, err := s.svc.Looks.SetVisibility(r.Context(), currentUser(r), id, models.Visibility(req.Visibility), req.SharedWith)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, look)
}

func (s *Server) handleDeleteLook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		err = s.svc.Looks.Delete(r.Context(), currentUser(r), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// addLookVideoRequest either attaches an existing job (VideoJobID) or submits
// a new one from a prompt.
type addLookVideoRequest struct {
	VideoJobID      int64  `json:"videoJobId" validate:"omitempty,gt=0"`
	Prompt          string `json:"prompt" validate:"max=4000"`
	Model           string `json:"model"`
	Resolution      string `json:"resolution"`
	AspectRatio     string `json:"aspectRatio"`
	DurationSeconds int    `json:"durationSeconds"`
	GenerateAudio   bool   `json:"generateAudio"`
}

func (s *Server) handleAddLookVideo(w http.ResponseWriter, r *http.Request) {
	lookID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req addLookVideoRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user := currentUser(r)

	if req.VideoJobID > 0 {
		if err := s.svc.Videos.AttachToLook(r.Context(), user, lookID, req.VideoJobID); err != nil {
			s.writeError(w, r, err)
			return
		}
		job, err := s.svc.Videos.Get(r.Context(), user, req.VideoJobID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
		return
	}

	job, err := s.svc.Videos.Submit(r.Context(), user, service.SubmitParams{
		Prompt:          req.Prompt,
		Model:           req.Model,
		Resolution:      req.Resolution,
		AspectRatio:     req.AspectRatio,
		DurationSeconds: req.DurationSeconds,
		GenerateAudio:   req.GenerateAudio,
		LookID:          &lookID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListLookVideos(w http.ResponseWriter, r *http.Request) {
	lookID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	videos, err := s.svc.Videos.ListLookVideos(r.Context(), currentUser(r), lookID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.LookVideo{"items": videos})
}

func lookVideoIDs(r *http.Request) (lookID, jobID int64, err error) {
	if lookID, err = pathID(r, "id"); err != nil {
		return 0, 0, err
	}
	if jobID, err = pathID(r, "videoId"); err != nil {
		return 0, 0, err
	}
	return lookID, jobID, nil
}

func (s *Server) handleSetDefaultVideo(w http.ResponseWriter, r *http.Request) {
	lookID, jobID, err := lookVideoIDs(r)
	if err == nil {
		err = s.svc.Videos.SetDefaultForLook(r.Context(), currentUser(r), lookID, jobID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lookId": lookID, "videoJobId": jobID, "isDefault": true})
}

func (s *Server) handleUnsetDefaultVideo(w http.ResponseWriter, r *http.Request) {
	lookID, jobID, err := lookVideoIDs(r)
	if err == nil {
		err = s.svc.Videos.UnsetDefaultForLook(r.Context(), currentUser(r), lookID, jobID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lookId": lookID, "videoJobId": jobID, "isDefault": false})
}

func (s *Server) handleRemoveLookVideo(w http.ResponseWriter, r *http.Request) {
	lookID, jobID, err := lookVideoIDs(r)
	if err == nil {
		err = s.svc.Videos.RemoveFromLook(r.Context(), currentUser(r), lookID, jobID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
