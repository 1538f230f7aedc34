package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/models"
)

type TemplateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// ListActive returns active templates, highest priority first.
func (r *TemplateRepository) ListActive(ctx context.Context) ([]models.BankTemplate, error) {
	var templates []models.BankTemplate
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("priority DESC, bank_name ASC").
		Find(&templates).Error
	if err != nil {
		return nil, apperrors.Storage(err, "list bank templates")
	}
	return templates, nil
}

// Upsert stores t, replacing an existing template with the same bank and sender.
func (r *TemplateRepository) Upsert(ctx context.Context, t *models.BankTemplate) error {
	var existing models.BankTemplate
	res := r.db.WithContext(ctx).
		Where("bank_name = ? AND sender_email = ? AND sender_domain = ?", t.BankName, t.SenderEmail, t.SenderDomain).
		Limit(1).
		Find(&existing)
	if res.Error != nil {
		return apperrors.Storage(res.Error, "find bank template")
	}
	if res.RowsAffected == 1 {
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
		if err := r.db.WithContext(ctx).Save(t).Error; err != nil {
			return apperrors.Storage(err, "update bank template")
		}
		return nil
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return apperrors.Storage(err, "create bank template")
	}
	return nil
}
