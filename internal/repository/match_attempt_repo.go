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

type MatchAttemptRepository struct {
	db *gorm.DB
}

func NewMatchAttemptRepository(db *gorm.DB) *MatchAttemptRepository {
	return &MatchAttemptRepository{db: db}
}

func (r *MatchAttemptRepository) WithTx(tx *gorm.DB) *MatchAttemptRepository {
	return &MatchAttemptRepository{db: tx}
}

// CreateAll inserts attempts; they are never updated by the engine afterwards.
func (r *MatchAttemptRepository) CreateAll(ctx context.Context, attempts []models.MatchAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&attempts).Error; err != nil {
		return apperrors.Storage(err, "insert match attempts")
	}
	return nil
}

func (r *MatchAttemptRepository) ListForTransaction(ctx context.Context, txID uuid.UUID) ([]models.MatchAttempt, error) {
	return r.list(ctx, "transaction_id = ?", txID)
}

func (r *MatchAttemptRepository) ListForPayment(ctx context.Context, paymentID uuid.UUID) ([]models.MatchAttempt, error) {
	return r.list(ctx, "payment_request_id = ?", paymentID)
}

func (r *MatchAttemptRepository) list(ctx context.Context, cond string, arg interface{}) ([]models.MatchAttempt, error) {
	var attempts []models.MatchAttempt
	if err := r.db.WithContext(ctx).Where(cond, arg).Order("created_at ASC").Find(&attempts).Error; err != nil {
		return nil, apperrors.Storage(err, "list match attempts")
	}
	return attempts, nil
}

// Search lists attempts for the review tool, newest first.
func (r *MatchAttemptRepository) Search(ctx context.Context, outcome, reviewStatus string, limit int) ([]models.MatchAttempt, error) {
	var attempts []models.MatchAttempt
	q := r.db.WithContext(ctx).Model(&models.MatchAttempt{}).Order("created_at DESC")
	if outcome != "" {
		q = q.Where("outcome = ?", outcome)
	}
	if reviewStatus != "" {
		q = q.Where("review_status = ?", reviewStatus)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&attempts).Error; err != nil {
		return nil, apperrors.Storage(err, "search match attempts")
	}
	return attempts, nil
}

// Review sets the manual-review fields, the only mutable part of an attempt.
func (r *MatchAttemptRepository) Review(ctx context.Context, id uuid.UUID, status, notes, reviewer string, at time.Time) (*models.MatchAttempt, error) {
	switch status {
	case models.ReviewReviewed, models.ReviewCorrect, models.ReviewIncorrect:
	default:
		return nil, apperrors.Validation(apperrors.CodeInvalidReviewStatus, "invalid review status %q", status)
	}
	res := r.db.WithContext(ctx).Model(&models.MatchAttempt{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"review_status": status,
			"review_notes":  notes,
			"reviewed_by":   reviewer,
			"reviewed_at":   at,
		})
	if res.Error != nil {
		return nil, apperrors.Storage(res.Error, "review match attempt")
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NotFound("match attempt", id)
	}
	var a models.MatchAttempt
	err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("match attempt", id)
	}
	if err != nil {
		return nil, apperrors.Storage(err, "get match attempt")
	}
	return &a, nil
}
