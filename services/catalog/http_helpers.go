package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondFailure translates the write-path error taxonomy into HTTP statuses:
// missing record 404, everything else the caller could have caused 400.
func respondFailure(w http.ResponseWriter, err error) {
	var (
		notFound    *NotFoundError
		validation  *ValidationError
		storage     *StorageError
		persistence *PersistenceError
	)
	switch {
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, err)
	case errors.As(err, &validation), errors.As(err, &storage), errors.As(err, &persistence):
		respondError(w, http.StatusBadRequest, err)
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}
