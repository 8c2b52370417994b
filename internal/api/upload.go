package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/digkill/lookstudio/internal/apperr"
	"github.com/digkill/lookstudio/internal/service"
)

var errNotImage = errors.New("file is not a JPEG, PNG or WEBP image")

// imageContentType trusts the part header when it names a supported type and
// sniffs the bytes otherwise.
func imageContentType(header string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(header, ";", 2)[0]))
	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png", "image/webp":
		return ct, nil
	}
	switch sniffed := http.DetectContentType(data); sniffed {
	case "image/jpeg", "image/png", "image/webp":
		return sniffed, nil
	}
	return "", errNotImage
}

func readUpload(fh *multipart.FileHeader) (service.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return service.Upload{}, apperr.BadRequest("cannot read %s: %v", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return service.Upload{}, apperr.BadRequest("cannot read %s: %v", fh.Filename, err)
	}
	if len(data) == 0 {
		return service.Upload{}, apperr.BadRequest("%s is empty", fh.Filename)
	}
	ct, err := imageContentType(fh.Header.Get("Content-Type"), data)
	if err != nil {
		return service.Upload{}, apperr.BadRequest("%s: %v", fh.Filename, err)
	}
	return service.Upload{Data: data, ContentType: ct}, nil
}

// formFile returns the single upload stored under field, or nil when absent.
func formFile(form *multipart.Form, field string) (*service.Upload, error) {
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, apperr.BadRequest("only one %s is allowed", field)
	}
	up, err := readUpload(files[0])
	if err != nil {
		return nil, err
	}
	return &up, nil
}

func formFiles(form *multipart.Form, field string) ([]service.Upload, error) {
	out := make([]service.Upload, 0, len(form.File[field]))
	for _, fh := range form.File[field] {
		up, err := readUpload(fh)
		if err != nil {
			return nil, err
		}
		out = append(out, up)
	}
	return out, nil
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.BadRequest("request body exceeds %d bytes", s.maxUpload)
		}
		return nil, apperr.BadRequest("invalid multipart form: %v", err)
	}
	return r.MultipartForm, nil
}

func formValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}
