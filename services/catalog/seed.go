package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

//go:embed seed.yaml
var seedManifest []byte

type seedFile struct {
	Images []seedImage `yaml:"images"`
}

type seedImage struct {
	Name        string `yaml:"name"`
	OSType      string `yaml:"os_type"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// Seed inserts the embedded starter records when the table is empty. It is a
// no-op on a populated database.
func Seed(ctx context.Context, orm *gorm.DB, logger *log.Logger) error {
	var manifest seedFile
	if err := yaml.Unmarshal(seedManifest, &manifest); err != nil {
		return fmt.Errorf("parse seed manifest: %w", err)
	}

	var count int64
	if err := orm.WithContext(ctx).Model(&systemImageModel{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count system images: %w", err)
	}
	if count > 0 {
		if logger != nil {
			logger.Printf("INFO seed skipped: %d system images already present", count)
		}
		return nil
	}

	now := time.Now().UTC()
	models := make([]systemImageModel, 0, len(manifest.Images))
	for _, img := range manifest.Images {
		description := img.Description
		models = append(models, systemImageModel{
			Name:        img.Name,
			OSType:      img.OSType,
			Version:     img.Version,
			Description: &description,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if err := orm.WithContext(ctx).Create(&models).Error; err != nil {
		return fmt.Errorf("insert seed images: %w", err)
	}
	if logger != nil {
		logger.Printf("INFO seeded %d system images", len(models))
	}
	return nil
}
