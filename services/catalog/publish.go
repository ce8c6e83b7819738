package catalog

import (
	"context"
	"log"

	"imaged/pkg/bus"
)

const (
	subjectPrefix = "imaged.images"

	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

// ImageEvent is the change notification emitted after every committed
// mutation. Consumers must tolerate an ArtifactRef whose object does not (or
// no longer) exists; the reference is best-effort.
type ImageEvent struct {
	Operation   string  `json:"operation"`
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	OSType      string  `json:"os_type"`
	Version     string  `json:"version"`
	Description *string `json:"description"`
	ArtifactRef *string `json:"artifact_ref"`
}

// EventPublisher emits change notifications. Delivery is fire-and-forget: the
// write path never observes publish failures.
type EventPublisher interface {
	Publish(ctx context.Context, op string, snapshot SystemImage)
}

type busPublisher struct {
	bus    *bus.Bus
	logger *log.Logger
}

func (p *busPublisher) Publish(ctx context.Context, op string, snapshot SystemImage) {
	if p == nil || p.bus == nil {
		return
	}

	evt := ImageEvent{
		Operation:   op,
		ID:          snapshot.ID,
		Name:        snapshot.Name,
		OSType:      snapshot.OSType,
		Version:     snapshot.Version,
		Description: snapshot.Description,
		ArtifactRef: snapshot.ArtifactRef,
	}

	if err := p.bus.Publish(ctx, subjectPrefix+"."+op, evt); err != nil && p.logger != nil {
		p.logger.Printf("WARN publish %s event for image %d: %v", op, snapshot.ID, err)
	}
}
