package api

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/digkill/lookstudio/internal/apperr"
	"github.com/digkill/lookstudio/internal/kie"
	"github.com/digkill/lookstudio/internal/service"
)

// handleGenerateImage accepts a multipart form: prompt, model, aspectRatio,
// resolution, outputFormat and any number of "images".
func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseMultipart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer form.RemoveAll()

	inputs, err := formFiles(form, "images")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Generation.GenerateImage(r.Context(), currentUser(r), service.ImageGenerationRequest{
		Model:        kie.ImageModel(formValue(form, "model")),
		Prompt:       formValue(form, "prompt"),
		AspectRatio:  formValue(form, "aspectRatio"),
		Resolution:   formValue(form, "resolution"),
		OutputFormat: formValue(form, "outputFormat"),
		Inputs:       inputs,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type generateTextRequest struct {
	Model             string `json:"model" validate:"max=64"`
	SystemInstruction string `json:"systemInstruction" validate:"max=20000"`
	Prompt            string `json:"prompt" validate:"required,max=20000"`
	MaxOutputTokens   int    `json:"maxOutputTokens" validate:"gte=0,lte=8192"`
	Format            string `json:"format" validate:"omitempty,oneof=text json"`
}

// handleGenerateText takes a JSON body, or a multipart form with the same
// fields plus "images" for image-to-text.
func (s *Server) handleGenerateText(w http.ResponseWriter, r *http.Request) {
	var (
		req    generateTextRequest
		inputs []service.Upload
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		form, err := s.parseMultipart(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		defer form.RemoveAll()

		req = generateTextRequest{
			Model:             formValue(form, "model"),
			SystemInstruction: formValue(form, "systemInstruction"),
			Prompt:            formValue(form, "prompt"),
			Format:            formValue(form, "format"),
		}
		if v := formValue(form, "maxOutputTokens"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				s.writeError(w, r, apperr.BadRequest("maxOutputTokens must be an integer"))
				return
			}
			req.MaxOutputTokens = n
		}
		if err := s.check(&req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if inputs, err = formFiles(form, "images"); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.Generation.GenerateText(r.Context(), currentUser(r), service.TextGenerationRequest{
		Model:             kie.TextModel(req.Model),
		SystemInstruction: req.SystemInstruction,
		Prompt:            req.Prompt,
		MaxOutputTokens:   req.MaxOutputTokens,
		JSON:              req.Format == "json",
		Inputs:            inputs,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
