package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/gridwise/enrollflow/internal/enrollment/crypto"
	"github.com/gridwise/enrollflow/internal/enrollment/domain"
	"github.com/gridwise/enrollflow/pkg/logger"
)

// instanceRepositoryImpl is the GORM implementation of domain.InstanceRepository.
type instanceRepositoryImpl struct {
	db  *gorm.DB
	enc *crypto.Encryptor
}

// NewInstanceRepository creates the instance repository. API passwords are
// encrypted before touching storage and decrypted on the way out.
func NewInstanceRepository(db *gorm.DB, enc *crypto.Encryptor) domain.InstanceRepository {
	return &instanceRepositoryImpl{db: db, enc: enc}
}

// Create implements domain.InstanceRepository.Create.
func (r *instanceRepositoryImpl) Create(ctx context.Context, inst *domain.FormInstance) (uint, error) {
	m, err := r.toModel(inst)
	if err != nil {
		return 0, err
	}

	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		logger.Error(ctx, "instance_repository.Create failed", "slug", inst.Slug, "error", err)
		return 0, fmt.Errorf("failed to create form instance: %w", err)
	}
	return m.ID, nil
}

// Update implements domain.InstanceRepository.Update. An empty-but-present
// APIPassword means "do not change"; an update with no set fields is a no-op
// success.
func (r *instanceRepositoryImpl) Update(ctx context.Context, id uint, upd domain.InstanceUpdate) error {
	updates := map[string]any{}

	if upd.Name != nil {
		updates["name"] = *upd.Name
	}
	if upd.Utility != nil {
		updates["utility"] = *upd.Utility
	}
	if upd.FormType != nil {
		updates["form_type"] = string(*upd.FormType)
	}
	if upd.APIEndpoint != nil {
		updates["api_endpoint"] = *upd.APIEndpoint
	}
	if upd.APIUsername != nil {
		updates["api_username"] = *upd.APIUsername
	}
	if upd.APIPassword != nil && *upd.APIPassword != "" {
		enc, err := r.enc.Encrypt(*upd.APIPassword)
		if err != nil {
			return fmt.Errorf("failed to encrypt api password: %w", err)
		}
		updates["api_password"] = enc
	}
	if upd.TestMode != nil {
		updates["test_mode"] = *upd.TestMode
	}
	if upd.IsActive != nil {
		updates["is_active"] = *upd.IsActive
	}
	if upd.Settings != nil {
		blob, err := json.Marshal(upd.Settings)
		if err != nil {
			return fmt.Errorf("failed to marshal settings: %w", err)
		}
		updates["settings"] = string(blob)
	}

	if len(updates) == 0 {
		return nil
	}

	res := r.db.WithContext(ctx).Model(&FormInstanceModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		logger.Error(ctx, "instance_repository.Update failed", "instance_id", id, "error", res.Error)
		return fmt.Errorf("failed to update form instance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrInstanceNotFound
	}
	return nil
}

// Get implements domain.InstanceRepository.Get.
func (r *instanceRepositoryImpl) Get(ctx context.Context, id uint) (*domain.FormInstance, error) {
	var m FormInstanceModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "instance_repository.Get failed", "instance_id", id, "error", err)
		return nil, fmt.Errorf("failed to get form instance: %w", err)
	}
	return r.toDomain(&m), nil
}

// GetBySlug implements domain.InstanceRepository.GetBySlug.
func (r *instanceRepositoryImpl) GetBySlug(ctx context.Context, slug string, activeOnly bool) (*domain.FormInstance, error) {
	var m FormInstanceModel
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "instance_repository.GetBySlug failed", "slug", slug, "error", err)
		return nil, fmt.Errorf("failed to get form instance by slug: %w", err)
	}
	if activeOnly && !m.IsActive {
		return nil, domain.ErrInstanceInactive
	}
	return r.toDomain(&m), nil
}

// GetByUtility implements domain.InstanceRepository.GetByUtility.
func (r *instanceRepositoryImpl) GetByUtility(ctx context.Context, utility string) (*domain.FormInstance, error) {
	var m FormInstanceModel
	if err := r.db.WithContext(ctx).Where("utility = ?", utility).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "instance_repository.GetByUtility failed", "utility", utility, "error", err)
		return nil, fmt.Errorf("failed to get form instance by utility: %w", err)
	}
	return r.toDomain(&m), nil
}

func (r *instanceRepositoryImpl) toModel(inst *domain.FormInstance) (*FormInstanceModel, error) {
	encPassword, err := r.enc.Encrypt(inst.APIPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt api password: %w", err)
	}

	blob, err := json.Marshal(inst.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}

	return &FormInstanceModel{
		Slug:        inst.Slug,
		Name:        inst.Name,
		Utility:     inst.Utility,
		FormType:    string(inst.FormType),
		APIEndpoint: inst.APIEndpoint,
		APIUsername: inst.APIUsername,
		APIPassword: encPassword,
		TestMode:    inst.TestMode,
		IsActive:    inst.IsActive,
		Settings:    string(blob),
	}, nil
}

func (r *instanceRepositoryImpl) toDomain(m *FormInstanceModel) *domain.FormInstance {
	var settings domain.InstanceSettings
	if m.Settings != "" {
		// A corrupt settings blob degrades to defaults rather than failing the
		// request.
		_ = json.Unmarshal([]byte(m.Settings), &settings)
	}

	return &domain.FormInstance{
		ID:          m.ID,
		Slug:        m.Slug,
		Name:        m.Name,
		Utility:     m.Utility,
		FormType:    domain.FormType(m.FormType),
		APIEndpoint: m.APIEndpoint,
		APIUsername: m.APIUsername,
		APIPassword: r.enc.Decrypt(m.APIPassword),
		TestMode:    m.TestMode,
		IsActive:    m.IsActive,
		Settings:    settings,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
