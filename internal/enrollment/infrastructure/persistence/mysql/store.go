package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/gridwise/enrollflow/internal/enrollment/domain"
	"github.com/gridwise/enrollflow/pkg/logger"
)

// SaveResumeToken implements domain.SubmissionStore.SaveResumeToken.
func (s *submissionStoreImpl) SaveResumeToken(ctx context.Context, token *domain.ResumeToken) error {
	m := &ResumeTokenModel{
		SessionID:  token.SessionID,
		InstanceID: token.InstanceID,
		Token:      token.Token,
		Email:      token.Email,
		ExpiresAt:  token.ExpiresAt,
		Used:       token.Used,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		logger.Error(ctx, "submission_store.SaveResumeToken failed", "instance_id", token.InstanceID, "error", err)
		return fmt.Errorf("failed to save resume token: %w", err)
	}
	token.ID = m.ID
	return nil
}

// GetResumeToken implements domain.SubmissionStore.GetResumeToken. A token
// bound to another instance, already used, or past its expiry is reported as
// the same ErrInvalidToken so callers cannot tell the cases apart.
func (s *submissionStoreImpl) GetResumeToken(ctx context.Context, token string, instanceID uint) (*domain.ResumeToken, error) {
	var m ResumeTokenModel
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvalidToken
		}
		logger.Error(ctx, "submission_store.GetResumeToken failed", "error", err)
		return nil, fmt.Errorf("failed to get resume token: %w", err)
	}

	if m.InstanceID != instanceID || m.Used || time.Now().After(m.ExpiresAt) {
		return nil, domain.ErrInvalidToken
	}

	return &domain.ResumeToken{
		ID:         m.ID,
		SessionID:  m.SessionID,
		InstanceID: m.InstanceID,
		Token:      m.Token,
		Email:      m.Email,
		ExpiresAt:  m.ExpiresAt,
		Used:       m.Used,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// MarkResumeTokenUsed implements domain.SubmissionStore.MarkResumeTokenUsed.
func (s *submissionStoreImpl) MarkResumeTokenUsed(ctx context.Context, token string) error {
	err := s.db.WithContext(ctx).Model(&ResumeTokenModel{}).
		Where("token = ?", token).
		Update("used", true).Error
	if err != nil {
		logger.Error(ctx, "submission_store.MarkResumeTokenUsed failed", "error", err)
		return fmt.Errorf("failed to mark resume token used: %w", err)
	}
	return nil
}

// AddToRetryQueue implements domain.SubmissionStore.AddToRetryQueue. It never
// deduplicates: repeat failures on the same submission each append a new
// entry, keeping the audit trail complete.
func (s *submissionStoreImpl) AddToRetryQueue(ctx context.Context, submissionID, instanceID uint, errorMessage string) error {
	m := &RetryQueueModel{
		SubmissionID: submissionID,
		InstanceID:   instanceID,
		ErrorMessage: errorMessage,
		Status:       domain.RetryStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		logger.Error(ctx, "submission_store.AddToRetryQueue failed",
			"submission_id", submissionID, "error", err)
		return fmt.Errorf("failed to add retry queue entry: %w", err)
	}
	return nil
}

// PendingRetries implements domain.SubmissionStore.PendingRetries.
func (s *submissionStoreImpl) PendingRetries(ctx context.Context, limit int) ([]*domain.RetryQueueEntry, error) {
	var ms []RetryQueueModel
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.RetryStatusPending).
		Order("created_at asc").
		Limit(limit).
		Find(&ms).Error
	if err != nil {
		logger.Error(ctx, "submission_store.PendingRetries failed", "error", err)
		return nil, fmt.Errorf("failed to list pending retries: %w", err)
	}

	out := make([]*domain.RetryQueueEntry, len(ms))
	for i, m := range ms {
		out[i] = &domain.RetryQueueEntry{
			ID:           m.ID,
			SubmissionID: m.SubmissionID,
			InstanceID:   m.InstanceID,
			ErrorMessage: m.ErrorMessage,
			Attempts:     m.Attempts,
			Status:       m.Status,
			CreatedAt:    m.CreatedAt,
		}
	}
	return out, nil
}

// UpdateRetryEntry implements domain.SubmissionStore.UpdateRetryEntry.
func (s *submissionStoreImpl) UpdateRetryEntry(ctx context.Context, id uint, status string, attempts int) error {
	err := s.db.WithContext(ctx).Model(&RetryQueueModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "attempts": attempts}).Error
	if err != nil {
		logger.Error(ctx, "submission_store.UpdateRetryEntry failed", "entry_id", id, "error", err)
		return fmt.Errorf("failed to update retry entry: %w", err)
	}
	return nil
}

// RecordStepEvent implements domain.SubmissionStore.RecordStepEvent.
func (s *submissionStoreImpl) RecordStepEvent(ctx context.Context, ev *domain.StepEvent) error {
	m := &StepEventModel{
		InstanceID: ev.InstanceID,
		SessionID:  ev.SessionID,
		Step:       ev.Step,
		Event:      string(ev.Event),
		IsTest:     ev.IsTest,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		logger.Error(ctx, "submission_store.RecordStepEvent failed", "instance_id", ev.InstanceID, "error", err)
		return fmt.Errorf("failed to record step event: %w", err)
	}
	return nil
}

// Log implements domain.SubmissionStore.Log. Persistence failures are
// swallowed after logging locally; the audit trail must never break a request.
func (s *submissionStoreImpl) Log(ctx context.Context, level domain.LogLevel, message string, logCtx map[string]any, instanceID, submissionID uint) {
	var contextBlob string
	if len(logCtx) > 0 {
		if b, err := json.Marshal(logCtx); err == nil {
			contextBlob = string(b)
		}
	}

	m := &LogEntryModel{
		Level:        string(level),
		Message:      message,
		Context:      contextBlob,
		InstanceID:   instanceID,
		SubmissionID: submissionID,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		logger.Warn(ctx, "submission_store.Log append failed", "message", message, "error", err)
	}
}
