package catalog

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes constructs the chi router containing all catalog endpoints.
func (s *Service) Routes() (http.Handler, error) {
	if s == nil {
		return nil, errors.New("nil service")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/system-images", func(r chi.Router) {
		r.Get("/", s.handleListImages)
		r.Post("/", s.handleCreateImage)
		r.Get("/search/{name}", s.handleSearchImages)
		r.Get("/os-type/{os_type}", s.handleImagesByOSType)
		r.Get("/{id}", s.handleGetImage)
		r.Put("/{id}", s.handleUpdateImage)
		r.Delete("/{id}", s.handleDeleteImage)
		r.Get("/{id}/artifact", s.handleArtifactURL)
	})

	r.Get("/health", s.handleHealth)

	return r, nil
}
