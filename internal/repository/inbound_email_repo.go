package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/models"
)

type InboundEmailRepository struct {
	db *gorm.DB
}

func NewInboundEmailRepository(db *gorm.DB) *InboundEmailRepository {
	return &InboundEmailRepository{db: db}
}

func (r *InboundEmailRepository) Create(ctx context.Context, e *models.InboundEmail) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		return apperrors.Storage(err, "create inbound email")
	}
	return nil
}

// Finish records the terminal ingestion status of an email.
func (r *InboundEmailRepository) Finish(ctx context.Context, id uuid.UUID, status, reason string, txID *uuid.UUID) error {
	err := r.db.WithContext(ctx).Model(&models.InboundEmail{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         status,
			"failure_reason": reason,
			"transaction_id": txID,
		}).Error
	if err != nil {
		return apperrors.Storage(err, "update inbound email")
	}
	return nil
}

func (r *InboundEmailRepository) CreateBatch(ctx context.Context, b *models.IngestionBatch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		return apperrors.Storage(err, "create ingestion batch")
	}
	return nil
}

func (r *InboundEmailRepository) GetBatch(ctx context.Context, id uuid.UUID) (*models.IngestionBatch, error) {
	var b models.IngestionBatch
	err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("ingestion batch", id)
	}
	if err != nil {
		return nil, apperrors.Storage(err, "get ingestion batch")
	}
	return &b, nil
}

// CompleteBatch writes the final counters of a batch.
func (r *InboundEmailRepository) CompleteBatch(ctx context.Context, b *models.IngestionBatch, at time.Time) error {
	b.CompletedAt = &at
	b.Status = "completed"
	if err := r.db.WithContext(ctx).Save(b).Error; err != nil {
		return apperrors.Storage(err, "complete ingestion batch")
	}
	return nil
}

func (r *InboundEmailRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.InboundEmail{}).Where("status = ?", status).Count(&n).Error; err != nil {
		return 0, apperrors.Storage(err, "count inbound emails")
	}
	return n, nil
}
