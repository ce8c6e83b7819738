package catalog

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// maxUploadMemory bounds how much of a multipart body is held in memory
// before spilling to disk.
const maxUploadMemory = 32 << 20

func (s *Service) handleListImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.records.List(r.Context(), Filter{})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, images)
}

func (s *Service) handleCreateImage(w http.ResponseWriter, r *http.Request) {
	if err := parseWriteForm(r); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	in := CreateInput{
		Name:        r.PostFormValue("name"),
		OSType:      r.PostFormValue("os_type"),
		Version:     r.PostFormValue("version"),
		Description: optionalFormValue(r, "description"),
	}

	upload, err := formArtifact(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	in.Artifact = upload

	image, err := s.writer.Create(r.Context(), in)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, image)
}

func (s *Service) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	image, err := s.records.Find(ctx, id)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, image)
}

func (s *Service) handleUpdateImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := parseWriteForm(r); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	in := UpdateInput{
		Name:        optionalFormValue(r, "name"),
		OSType:      optionalFormValue(r, "os_type"),
		Version:     optionalFormValue(r, "version"),
		Description: optionalFormValue(r, "description"),
	}

	if raw := r.PostFormValue("remove_image"); raw != "" {
		clear, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid remove_image: %q", raw))
			return
		}
		in.ClearArtifact = clear
	}

	upload, err := formArtifact(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	in.Artifact = upload

	image, err := s.writer.Update(r.Context(), id, in)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, image)
}

func (s *Service) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := s.writer.Delete(r.Context(), id); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "system image deleted"})
}

func (s *Service) handleSearchImages(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	images, err := s.records.List(r.Context(), Filter{Name: name})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, images)
}

func (s *Service) handleImagesByOSType(w http.ResponseWriter, r *http.Request) {
	osType := strings.TrimSpace(chi.URLParam(r, "os_type"))
	if osType == "" {
		respondError(w, http.StatusBadRequest, errors.New("os_type is required"))
		return
	}

	images, err := s.records.List(r.Context(), Filter{OSType: osType})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, images)
}

// handleArtifactURL exposes stored artifacts read-only via a presigned GET.
func (s *Service) handleArtifactURL(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	image, err := s.records.Find(ctx, id)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if image.ArtifactRef == nil {
		respondError(w, http.StatusNotFound, fmt.Errorf("system image %d has no artifact", id))
		return
	}

	url, err := s.artifacts.URL(ctx, *image.ArtifactRef, s.config.DownloadTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("presign artifact: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "UP",
		"service": s.config.ServiceName,
	})
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %q", raw)
	}
	return id, nil
}

// parseWriteForm accepts both multipart (file uploads) and plain urlencoded
// form bodies.
func parseWriteForm(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		return r.ParseMultipartForm(maxUploadMemory)
	}
	return r.ParseForm()
}

// optionalFormValue distinguishes an absent field from an empty one, which is
// what gives updates their partial semantics.
func optionalFormValue(r *http.Request, key string) *string {
	values, ok := r.PostForm[key]
	if !ok || len(values) == 0 {
		return nil
	}
	return &values[0]
}

func formArtifact(r *http.Request) (*ArtifactUpload, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File["image"]) == 0 {
		return nil, nil
	}

	header := r.MultipartForm.File["image"][0]
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded image: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read uploaded image: %w", err)
	}

	return &ArtifactUpload{Filename: header.Filename, Data: data}, nil
}
