package api

import (
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/digkill/lookstudio/internal/apperr"
	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/service"
)

// submitParamsFromForm reads a video submission from multipart form fields.
func submitParamsFromForm(form *multipart.Form) (service.SubmitParams, error) {
	p := service.SubmitParams{
		Prompt:      formValue(form, "prompt"),
		Model:       formValue(form, "model"),
		Resolution:  formValue(form, "resolution"),
		AspectRatio: formValue(form, "aspectRatio"),
	}
	var err error
	if raw := formValue(form, "durationSeconds"); raw != "" {
		if p.DurationSeconds, err = strconv.Atoi(raw); err != nil {
			return p, apperr.BadRequest("durationSeconds must be an integer")
		}
	}
	if raw := formValue(form, "generateAudio"); raw != "" {
		if p.GenerateAudio, err = strconv.ParseBool(strings.ToLower(raw)); err != nil {
			return p, apperr.BadRequest("generateAudio must be true or false")
		}
	}
	if raw := formValue(form, "lookId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return p, apperr.BadRequest("lookId must be a positive integer")
		}
		p.LookID = &id
	}
	if p.InitialImage, err = formFile(form, "initialImage"); err != nil {
		return p, err
	}
	if p.EndImage, err = formFile(form, "endFrame"); err != nil {
		return p, err
	}
	if p.References, err = formFiles(form, "referenceImages"); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Server) handleSubmitVideo(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseMultipart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer form.RemoveAll()
	params, err := submitParamsFromForm(form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.svc.Videos.Submit(r.Context(), currentUser(r), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func statusFilter(r *http.Request) (models.JobStatus, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return "", nil
	}
	st, err := models.ParseJobStatus(strings.ToUpper(raw))
	if err != nil {
		return "", apperr.BadRequest("%s", err.Error())
	}
	return st, nil
}

type jobList struct {
	Items  []models.VideoJob `json:"items"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	status, err := statusFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobs, err := s.svc.Videos.List(r.Context(), currentUser(r).ID, status, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobList{Items: jobs, Limit: limit, Offset: offset})
}

// handleAdminVideoJobs lists jobs of every user, optionally narrowed by userId.
func (s *Server) handleAdminVideoJobs(w http.ResponseWriter, r *http.Request) {
	status, err := statusFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, err := queryInt(r, "userId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobs, err := s.svc.Videos.ListAll(r.Context(), int64(userID), status, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobList{Items: jobs, Limit: limit, Offset: offset})
}

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.svc.Videos.Get(r.Context(), currentUser(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDownloadVideo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	url, err := s.svc.Videos.DownloadURL(r.Context(), currentUser(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleCancelVideo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.svc.Videos.Cancel(r.Context(), currentUser(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Videos.Delete(r.Context(), currentUser(r), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
