package catalog

import "time"

type systemImageModel struct {
	ID          int64     `gorm:"type:bigserial;primaryKey"`
	Name        string    `gorm:"type:text;not null"`
	OSType      string    `gorm:"column:os_type;type:text;not null"`
	Version     string    `gorm:"type:text;not null"`
	Description *string   `gorm:"type:text"`
	ArtifactRef *string   `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

func (systemImageModel) TableName() string { return "system_images" }

func (m systemImageModel) toAPI() SystemImage {
	return SystemImage{
		ID:          m.ID,
		Name:        m.Name,
		OSType:      m.OSType,
		Version:     m.Version,
		Description: m.Description,
		ArtifactRef: m.ArtifactRef,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func modelFrom(img SystemImage) systemImageModel {
	return systemImageModel{
		ID:          img.ID,
		Name:        img.Name,
		OSType:      img.OSType,
		Version:     img.Version,
		Description: img.Description,
		ArtifactRef: img.ArtifactRef,
		CreatedAt:   img.CreatedAt,
		UpdatedAt:   img.UpdatedAt,
	}
}
