package catalog

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"imaged/pkg/bus"
	gos3 "imaged/pkg/s3"
)

const (
	defaultDownloadTTL = 15 * time.Minute
	defaultServiceName = "system-image"
)

// Store holds the process-wide external dependencies of the catalog:
// relational persistence (write path via ORM, read path via pool), artifact
// storage, and the event bus. All handles are initialized once at startup.
type Store struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
	S3  *gos3.Client
	Bus *bus.Bus
}

// Config controls runtime behaviour for the catalog service.
type Config struct {
	ServiceName    string
	ArtifactBucket string
	DownloadTTL    time.Duration
}

// Service exposes the system image catalog: the write orchestrator plus the
// read-only list/search path and HTTP handlers.
type Service struct {
	writer    *Writer
	records   RecordStore
	artifacts ArtifactStore
	config    Config
	logger    *log.Logger
}

// New initialises the catalog service with defaults applied to the provided
// configuration.
func New(store *Store, cfg Config, logger *log.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = log.Default()
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.DownloadTTL <= 0 {
		cfg.DownloadTTL = defaultDownloadTTL
	}
	if cfg.ArtifactBucket == "" {
		cfg.ArtifactBucket = os.Getenv("S3_BUCKET")
	}

	records, err := newGormRecords(store.ORM, store.DB)
	if err != nil {
		return nil, err
	}
	artifacts, err := newS3Artifacts(store.S3, cfg.ArtifactBucket)
	if err != nil {
		return nil, err
	}
	events := &busPublisher{bus: store.Bus, logger: logger}

	writer, err := NewWriter(records, artifacts, events, logger)
	if err != nil {
		return nil, err
	}

	return &Service{
		writer:    writer,
		records:   records,
		artifacts: artifacts,
		config:    cfg,
		logger:    logger,
	}, nil
}

// Writer returns the write orchestrator.
func (s *Service) Writer() *Writer { return s.writer }
