package api

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// gormRegistry is the Postgres-backed Registry. The gorm.DB must be opened
// with TranslateError so duplicate keys surface as gorm.ErrDuplicatedKey.
type gormRegistry struct {
	orm *gorm.DB
}

// NewGormRegistry wraps a gorm handle as a Registry.
func NewGormRegistry(orm *gorm.DB) (Registry, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &gormRegistry{orm: orm}, nil
}

func (r *gormRegistry) Create(ctx context.Context, d Deployment) error {
	model := fromAPI(d)
	err := r.orm.WithContext(ctx).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}

func (r *gormRegistry) Get(ctx context.Context, id string) (Deployment, error) {
	var model deploymentModel
	err := r.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Deployment{}, ErrNotFound
	}
	if err != nil {
		return Deployment{}, err
	}
	return model.toAPI(), nil
}

func (r *gormRegistry) GetForOwner(ctx context.Context, id, ownerID string) (Deployment, error) {
	var model deploymentModel
	err := r.orm.WithContext(ctx).First(&model, "id = ? AND owner_id = ?", id, ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Deployment{}, ErrNotFound
	}
	if err != nil {
		return Deployment{}, err
	}
	return model.toAPI(), nil
}

func (r *gormRegistry) ListByOwner(ctx context.Context, ownerID string) ([]Deployment, error) {
	var models []deploymentModel
	err := r.orm.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]Deployment, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out, nil
}

func (r *gormRegistry) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := r.orm.WithContext(ctx).
		Model(&deploymentModel{}).
		Where("owner_id = ?", ownerID).
		Count(&count).Error
	return count, err
}

func (r *gormRegistry) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	result := r.orm.WithContext(ctx).
		Model(&deploymentModel{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRegistry) Delete(ctx context.Context, id string) error {
	result := r.orm.WithContext(ctx).Delete(&deploymentModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRegistry) ReplaceByDeploymentAuth(ctx context.Context, d Deployment) error {
	model := fromAPI(d)
	return r.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("deployment_auth = ? AND is_unit", d.DeploymentAuth).
			Delete(&deploymentModel{}).Error; err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
}
