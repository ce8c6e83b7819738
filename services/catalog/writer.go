package catalog

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
)

// ArtifactUpload carries the bytes of an optional binary attached to a
// create or update request.
type ArtifactUpload struct {
	Filename string
	Data     []byte
}

// CreateInput is the payload for Writer.Create. Name, OSType, and Version are
// required non-empty.
type CreateInput struct {
	Name        string
	OSType      string
	Version     string
	Description *string
	Artifact    *ArtifactUpload
}

// UpdateInput is the payload for Writer.Update. Only non-nil fields are
// applied; absent fields keep their stored values. Artifact replaces the
// stored binary; ClearArtifact removes it without supplying a new one.
type UpdateInput struct {
	Name          *string
	OSType        *string
	Version       *string
	Description   *string
	Artifact      *ArtifactUpload
	ClearArtifact bool
}

// Writer sequences the three side effects of every mutation: artifact
// storage, transactional persistence, and event emission. It applies
// compensating artifact deletes when the commit fails and publishes only
// after a successful commit. There is no atomicity across the three
// collaborators; a crash mid-sequence leaves whichever side effects already
// ran in place.
//
// Writer holds no per-request state; the collaborator handles are shared
// across concurrent requests. Two concurrent updates to the same id are
// last-commit-wins.
type Writer struct {
	records   RecordStore
	artifacts ArtifactStore
	events    EventPublisher

	// onCleanupError receives failures from best-effort artifact deletes
	// (compensation and post-delete cleanup). Those failures never reach the
	// caller; this hook is the only place they surface.
	onCleanupError func(op, ref string, err error)

	now func() time.Time
}

// NewWriter wires a Writer from its three collaborators. Cleanup failures are
// logged through logger unless a hook is installed via OnCleanupError.
func NewWriter(records RecordStore, artifacts ArtifactStore, events EventPublisher, logger *log.Logger) (*Writer, error) {
	if records == nil {
		return nil, errors.New("record store is required")
	}
	if artifacts == nil {
		return nil, errors.New("artifact store is required")
	}
	if events == nil {
		return nil, errors.New("event publisher is required")
	}

	w := &Writer{
		records:   records,
		artifacts: artifacts,
		events:    events,
		now:       func() time.Time { return time.Now().UTC() },
	}
	w.onCleanupError = func(op, ref string, err error) {
		if logger != nil {
			logger.Printf("WARN %s: cleanup of artifact %s failed: %v", op, ref, err)
		}
	}
	return w, nil
}

// OnCleanupError replaces the cleanup failure hook.
func (w *Writer) OnCleanupError(fn func(op, ref string, err error)) {
	if fn != nil {
		w.onCleanupError = fn
	}
}

// Create stores the optional artifact, inserts the record, and publishes a
// create event. A failed insert deletes the just-stored artifact before the
// PersistenceError is returned; the event is only published after a
// successful commit.
func (w *Writer) Create(ctx context.Context, in CreateInput) (SystemImage, error) {
	if err := validateCreate(in); err != nil {
		return SystemImage{}, err
	}

	var ref *string
	if in.Artifact != nil {
		key, err := w.storeArtifact(ctx, in.Artifact)
		if err != nil {
			return SystemImage{}, &StorageError{Op: opCreate, Err: err}
		}
		ref = &key
	}

	now := w.now()
	rec := SystemImage{
		Name:        strings.TrimSpace(in.Name),
		OSType:      strings.TrimSpace(in.OSType),
		Version:     strings.TrimSpace(in.Version),
		Description: in.Description,
		ArtifactRef: ref,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := w.insert(ctx, rec)
	if err != nil {
		if ref != nil {
			w.removeArtifact(ctx, opCreate, *ref)
		}
		return SystemImage{}, &PersistenceError{Op: opCreate, Err: err}
	}

	w.events.Publish(ctx, opCreate, created)
	return created, nil
}

// Update applies the supplied fields to an existing record and publishes an
// update event. When a new artifact is supplied, the previous artifact is
// deleted BEFORE the transaction is attempted; a commit failure then
// compensates only the newly stored artifact, leaving the record pointing at
// a reference that no longer exists. That ordering reproduces the observed
// behavior of the system and must not change silently.
func (w *Writer) Update(ctx context.Context, id int64, in UpdateInput) (SystemImage, error) {
	if err := validateUpdate(in); err != nil {
		return SystemImage{}, err
	}

	existing, err := w.find(ctx, id)
	if err != nil {
		return SystemImage{}, err
	}

	fields := map[string]any{}
	if in.Name != nil {
		fields["name"] = strings.TrimSpace(*in.Name)
	}
	if in.OSType != nil {
		fields["os_type"] = strings.TrimSpace(*in.OSType)
	}
	if in.Version != nil {
		fields["version"] = strings.TrimSpace(*in.Version)
	}
	if in.Description != nil {
		fields["description"] = *in.Description
	}

	var newRef *string
	switch {
	case in.Artifact != nil:
		key, err := w.storeArtifact(ctx, in.Artifact)
		if err != nil {
			return SystemImage{}, &StorageError{Op: opUpdate, Err: err}
		}
		newRef = &key
		if existing.ArtifactRef != nil {
			w.removeArtifact(ctx, opUpdate, *existing.ArtifactRef)
		}
		fields["artifact_ref"] = key
	case in.ClearArtifact:
		if existing.ArtifactRef != nil {
			w.removeArtifact(ctx, opUpdate, *existing.ArtifactRef)
		}
		fields["artifact_ref"] = nil
	}

	fields["updated_at"] = w.now()

	updated, err := w.update(ctx, id, fields)
	if err != nil {
		if newRef != nil {
			w.removeArtifact(ctx, opUpdate, *newRef)
		}
		return SystemImage{}, &PersistenceError{Op: opUpdate, ID: id, Err: err}
	}

	w.events.Publish(ctx, opUpdate, updated)
	return updated, nil
}

// Delete removes the record, publishes a delete event carrying the
// pre-deletion snapshot, and then deletes the associated artifact. The
// artifact delete runs after the publish; its failure leaves an orphan and is
// never surfaced.
func (w *Writer) Delete(ctx context.Context, id int64) (SystemImage, error) {
	snapshot, err := w.find(ctx, id)
	if err != nil {
		return SystemImage{}, err
	}

	if err := w.delete(ctx, id); err != nil {
		return SystemImage{}, &PersistenceError{Op: opDelete, ID: id, Err: err}
	}

	w.events.Publish(ctx, opDelete, snapshot)

	if snapshot.ArtifactRef != nil {
		w.removeArtifact(ctx, opDelete, *snapshot.ArtifactRef)
	}
	return snapshot, nil
}

func validateCreate(in CreateInput) error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return &ValidationError{Field: "name", Reason: "required"}
	case strings.TrimSpace(in.OSType) == "":
		return &ValidationError{Field: "os_type", Reason: "required"}
	case strings.TrimSpace(in.Version) == "":
		return &ValidationError{Field: "version", Reason: "required"}
	}
	return nil
}

func validateUpdate(in UpdateInput) error {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if in.OSType != nil && strings.TrimSpace(*in.OSType) == "" {
		return &ValidationError{Field: "os_type", Reason: "must not be empty"}
	}
	if in.Version != nil && strings.TrimSpace(*in.Version) == "" {
		return &ValidationError{Field: "version", Reason: "must not be empty"}
	}
	if in.Artifact != nil && in.ClearArtifact {
		return &ValidationError{Field: "artifact", Reason: "cannot both replace and clear"}
	}
	return nil
}

func (w *Writer) storeArtifact(ctx context.Context, upload *ArtifactUpload) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return w.artifacts.Store(ctx, upload.Filename, upload.Data)
}

// removeArtifact is best-effort: failures go to the cleanup hook, never to
// the caller.
func (w *Writer) removeArtifact(ctx context.Context, op, ref string) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := w.artifacts.Remove(ctx, ref); err != nil {
		w.onCleanupError(op, ref, err)
	}
}

func (w *Writer) insert(ctx context.Context, rec SystemImage) (SystemImage, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return w.records.Insert(ctx, rec)
}

func (w *Writer) update(ctx context.Context, id int64, fields map[string]any) (SystemImage, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return w.records.Update(ctx, id, fields)
}

func (w *Writer) delete(ctx context.Context, id int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return w.records.Delete(ctx, id)
}

func (w *Writer) find(ctx context.Context, id int64) (SystemImage, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return w.records.Find(ctx, id)
}
