package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gridwise/enrollflow/internal/enrollment/crypto"
	"github.com/gridwise/enrollflow/internal/enrollment/domain"
	"github.com/gridwise/enrollflow/pkg/logger"
)

// submissionStoreImpl is the GORM implementation of domain.SubmissionStore.
type submissionStoreImpl struct {
	db  *gorm.DB
	enc *crypto.Encryptor
}

// NewSubmissionStore creates the submission store. FormData is encrypted
// before touching storage and decrypted on the way out.
func NewSubmissionStore(db *gorm.DB, enc *crypto.Encryptor) domain.SubmissionStore {
	return &submissionStoreImpl{db: db, enc: enc}
}

// CreateSubmission implements domain.SubmissionStore.CreateSubmission.
func (s *submissionStoreImpl) CreateSubmission(ctx context.Context, sub *domain.Submission) (uint, error) {
	encData, err := s.enc.EncryptMap(sub.FormData)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt form data: %w", err)
	}

	if sub.Status == "" {
		sub.Status = domain.SubmissionStatusInProgress
	}
	if sub.Step < 1 {
		sub.Step = 1
	}

	m := &SubmissionModel{
		InstanceID:    sub.InstanceID,
		SessionID:     sub.SessionID,
		AccountNumber: sub.AccountNumber,
		CustomerName:  sub.CustomerName,
		DeviceType:    sub.DeviceType,
		FormData:      encData,
		Status:        string(sub.Status),
		Step:          sub.Step,
		IPAddress:     sub.IPAddress,
		UserAgent:     sub.UserAgent,
		IsTest:        sub.IsTest,
	}

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		logger.Error(ctx, "submission_store.CreateSubmission failed",
			"instance_id", sub.InstanceID, "session_id", crypto.Mask(sub.SessionID, 4, 0), "error", err)
		return 0, fmt.Errorf("failed to create submission: %w", err)
	}
	sub.ID = m.ID
	return m.ID, nil
}

// GetSubmission implements domain.SubmissionStore.GetSubmission.
func (s *submissionStoreImpl) GetSubmission(ctx context.Context, id uint) (*domain.Submission, error) {
	var m SubmissionModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "submission_store.GetSubmission failed", "submission_id", id, "error", err)
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return s.toDomain(&m), nil
}

// GetSubmissionBySession implements domain.SubmissionStore.GetSubmissionBySession.
func (s *submissionStoreImpl) GetSubmissionBySession(ctx context.Context, sessionID string, instanceID uint) (*domain.Submission, error) {
	var m SubmissionModel
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND instance_id = ?", sessionID, instanceID).
		Order("id desc").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "submission_store.GetSubmissionBySession failed",
			"instance_id", instanceID, "error", err)
		return nil, fmt.Errorf("failed to get submission by session: %w", err)
	}
	return s.toDomain(&m), nil
}

// UpdateSubmission implements domain.SubmissionStore.UpdateSubmission. A
// partial FormData is merged onto the stored map inside a row-locking
// transaction, so concurrent step saves never wipe earlier fields. When the
// status moves to a terminal value and no CompletedAt is supplied, the
// completion timestamp is stamped automatically.
func (s *submissionStoreImpl) UpdateSubmission(ctx context.Context, id uint, upd domain.SubmissionUpdate) error {
	updates := map[string]any{}

	if upd.AccountNumber != nil {
		updates["account_number"] = *upd.AccountNumber
	}
	if upd.CustomerName != nil {
		updates["customer_name"] = *upd.CustomerName
	}
	if upd.DeviceType != nil {
		updates["device_type"] = *upd.DeviceType
	}
	if upd.Status != nil {
		updates["status"] = string(*upd.Status)
		if upd.Status.Terminal() && upd.CompletedAt == nil {
			now := time.Now()
			upd.CompletedAt = &now
		}
	}
	if upd.Step != nil {
		updates["step"] = *upd.Step
	}
	if upd.ConfirmationNumber != nil {
		updates["confirmation_number"] = *upd.ConfirmationNumber
	}
	if upd.CompletedAt != nil {
		updates["completed_at"] = *upd.CompletedAt
	}

	if upd.FormData == nil && len(updates) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if upd.FormData != nil {
			var m SubmissionModel
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Select("form_data").First(&m, id).Error; err != nil {
				return fmt.Errorf("failed to load form data for merge: %w", err)
			}
			merged := domain.FormData(s.enc.DecryptMap(m.FormData)).Merge(upd.FormData)
			encData, err := s.enc.EncryptMap(merged)
			if err != nil {
				return fmt.Errorf("failed to encrypt form data: %w", err)
			}
			updates["form_data"] = encData
		}
		return tx.Model(&SubmissionModel{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		logger.Error(ctx, "submission_store.UpdateSubmission failed", "submission_id", id, "error", err)
		return fmt.Errorf("failed to update submission: %w", err)
	}
	return nil
}

// ListSubmissions implements domain.SubmissionStore.ListSubmissions.
func (s *submissionStoreImpl) ListSubmissions(ctx context.Context, filter domain.SubmissionFilter, limit, offset int) ([]*domain.Submission, int64, error) {
	q := s.db.WithContext(ctx).Model(&SubmissionModel{})

	if filter.InstanceID != 0 {
		q = q.Where("instance_id = ?", filter.InstanceID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.DateFrom != nil {
		q = q.Where("created_at >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		q = q.Where("created_at <= ?", *filter.DateTo)
	}
	if !filter.IncludeTests {
		q = q.Where("is_test = ?", false)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		q = q.Where("customer_name LIKE ? OR account_number LIKE ?", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count submissions: %w", err)
	}

	var ms []SubmissionModel
	if err := q.Order("created_at desc").Limit(limit).Offset(offset).Find(&ms).Error; err != nil {
		logger.Error(ctx, "submission_store.ListSubmissions failed", "error", err)
		return nil, 0, fmt.Errorf("failed to list submissions: %w", err)
	}

	out := make([]*domain.Submission, len(ms))
	for i := range ms {
		out[i] = s.toDomain(&ms[i])
	}
	return out, total, nil
}

// MarkSessionAsTest implements domain.SubmissionStore.MarkSessionAsTest.
func (s *submissionStoreImpl) MarkSessionAsTest(ctx context.Context, sessionID string, instanceID uint) error {
	err := s.db.WithContext(ctx).Model(&SubmissionModel{}).
		Where("session_id = ? AND instance_id = ?", sessionID, instanceID).
		Update("is_test", true).Error
	if err != nil {
		logger.Error(ctx, "submission_store.MarkSessionAsTest failed", "instance_id", instanceID, "error", err)
		return fmt.Errorf("failed to mark session as test: %w", err)
	}

	// Step analytics for the session are tagged too, so dashboards can
	// exclude them.
	err = s.db.WithContext(ctx).Model(&StepEventModel{}).
		Where("session_id = ? AND instance_id = ?", sessionID, instanceID).
		Update("is_test", true).Error
	if err != nil {
		logger.Warn(ctx, "submission_store.MarkSessionAsTest analytics tagging failed",
			"instance_id", instanceID, "error", err)
	}
	return nil
}

func (s *submissionStoreImpl) toDomain(m *SubmissionModel) *domain.Submission {
	return &domain.Submission{
		ID:                 m.ID,
		InstanceID:         m.InstanceID,
		SessionID:          m.SessionID,
		AccountNumber:      m.AccountNumber,
		CustomerName:       m.CustomerName,
		DeviceType:         m.DeviceType,
		FormData:           domain.FormData(s.enc.DecryptMap(m.FormData)),
		Status:             domain.SubmissionStatus(m.Status),
		Step:               m.Step,
		ConfirmationNumber: m.ConfirmationNumber,
		IPAddress:          m.IPAddress,
		UserAgent:          m.UserAgent,
		IsTest:             m.IsTest,
		CreatedAt:          m.CreatedAt,
		CompletedAt:        m.CompletedAt,
	}
}
