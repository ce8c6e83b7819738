package catalog

import "time"

// SystemImage is a catalog entry for an installable operating system image.
// ArtifactRef points at the stored binary in the artifact store; nil means no
// artifact is attached.
type SystemImage struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	OSType      string    `json:"os_type" db:"os_type"`
	Version     string    `json:"version" db:"version"`
	Description *string   `json:"description" db:"description"`
	ArtifactRef *string   `json:"artifact_ref" db:"artifact_ref"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Name   string // case-insensitive substring match
	OSType string // exact match
}
