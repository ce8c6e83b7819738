package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"imaged/pkg/db"
)

// RecordStore is the relational persistence contract consumed by the write
// path. Mutations run inside a transaction; a returned error means the commit
// did not happen and the database is unchanged.
type RecordStore interface {
	Insert(ctx context.Context, rec SystemImage) (SystemImage, error)
	Update(ctx context.Context, id int64, fields map[string]any) (SystemImage, error)
	Delete(ctx context.Context, id int64) error
	Find(ctx context.Context, id int64) (SystemImage, error)
	List(ctx context.Context, filter Filter) ([]SystemImage, error)
}

// gormRecords persists system images through gorm transactions and reads
// list/search results through the pgx pool.
type gormRecords struct {
	orm  *gorm.DB
	pool *pgxpool.Pool
}

func newGormRecords(orm *gorm.DB, pool *pgxpool.Pool) (*gormRecords, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	return &gormRecords{orm: orm, pool: pool}, nil
}

func (r *gormRecords) Insert(ctx context.Context, rec SystemImage) (SystemImage, error) {
	model := modelFrom(rec)
	model.ID = 0
	err := r.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return SystemImage{}, err
	}
	return model.toAPI(), nil
}

func (r *gormRecords) Update(ctx context.Context, id int64, fields map[string]any) (SystemImage, error) {
	var model systemImageModel
	err := r.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&systemImageModel{}).Where("id = ?", id).Updates(fields).Error; err != nil {
			return err
		}
		return tx.First(&model, "id = ?", id).Error
	})
	if err != nil {
		return SystemImage{}, err
	}
	return model.toAPI(), nil
}

func (r *gormRecords) Delete(ctx context.Context, id int64) error {
	return r.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Delete(&systemImageModel{}, "id = ?", id).Error
	})
}

func (r *gormRecords) Find(ctx context.Context, id int64) (SystemImage, error) {
	var model systemImageModel
	err := r.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SystemImage{}, &NotFoundError{ID: id}
	}
	if err != nil {
		return SystemImage{}, err
	}
	return model.toAPI(), nil
}

func (r *gormRecords) List(ctx context.Context, filter Filter) ([]SystemImage, error) {
	query := `
        SELECT id, name, os_type, version, description, artifact_ref, created_at, updated_at
        FROM system_images
    `

	var (
		conds []string
		args  []any
	)
	if filter.Name != "" {
		args = append(args, "%"+filter.Name+"%")
		conds = append(conds, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if filter.OSType != "" {
		args = append(args, filter.OSType)
		conds = append(conds, fmt.Sprintf("os_type = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	images := []SystemImage{}
	if err := db.Select(ctx, r.pool, &images, query, args...); err != nil {
		return nil, err
	}
	return images, nil
}
