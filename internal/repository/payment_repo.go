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

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *PaymentRepository) WithTx(tx *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: tx}
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.PaymentRequest) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return apperrors.Storage(err, "create payment request")
	}
	return nil
}

// GetByID fetches a single payment request.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error) {
	var p models.PaymentRequest
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("payment request", id)
	}
	if err != nil {
		return nil, apperrors.Storage(err, "get payment request")
	}
	return &p, nil
}

// FindPendingForAccount returns the candidate set for an account number:
// pending, not expired, oldest first.
func (r *PaymentRepository) FindPendingForAccount(ctx context.Context, accountNumber string, now time.Time) ([]models.PaymentRequest, error) {
	var payments []models.PaymentRequest
	err := r.db.WithContext(ctx).
		Where("account_number = ?", accountNumber).
		Where("status = ?", models.PaymentPending).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Order("created_at ASC").
		Find(&payments).Error
	if err != nil {
		return nil, apperrors.Storage(err, "find pending payments")
	}
	return payments, nil
}

// PendingAccountNumbers lists account numbers that still have a live pending payment.
func (r *PaymentRepository) PendingAccountNumbers(ctx context.Context, now time.Time) ([]string, error) {
	var numbers []string
	err := r.db.WithContext(ctx).Model(&models.PaymentRequest{}).
		Where("status = ?", models.PaymentPending).
		Where("account_number <> ''").
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Distinct().
		Pluck("account_number", &numbers).Error
	if err != nil {
		return nil, apperrors.Storage(err, "list pending account numbers")
	}
	return numbers, nil
}

// FindExpiredPending returns pending payments whose expiry is at or before now.
func (r *PaymentRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.PaymentRequest, error) {
	var payments []models.PaymentRequest
	q := r.db.WithContext(ctx).
		Where("status = ?", models.PaymentPending).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&payments).Error; err != nil {
		return nil, apperrors.Storage(err, "find expired payments")
	}
	return payments, nil
}

// TransitionFromStatus applies updates only while the row still has one of
// the given statuses. It reports whether the row changed.
func (r *PaymentRepository) TransitionFromStatus(ctx context.Context, id uuid.UUID, from []string, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentRequest{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, apperrors.Storage(res.Error, "update payment status")
	}
	return res.RowsAffected == 1, nil
}

// ApprovePending applies updates only while the payment is pending and not
// past its expiry at now.
func (r *PaymentRepository) ApprovePending(ctx context.Context, id uuid.UUID, now time.Time, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentRequest{}).
		Where("id = ? AND status = ?", id, models.PaymentPending).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Updates(updates)
	if res.Error != nil {
		return false, apperrors.Storage(res.Error, "approve payment")
	}
	return res.RowsAffected == 1, nil
}

// GetByReference returns nil, nil for an unknown reference.
func (r *PaymentRepository) GetByReference(ctx context.Context, ref string) (*models.PaymentRequest, error) {
	var p models.PaymentRequest
	err := r.db.WithContext(ctx).First(&p, "reference = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Storage(err, "get payment by reference")
	}
	return &p, nil
}

// Search lists payment requests newest first, optionally filtered by
// account number and status.
func (r *PaymentRepository) Search(ctx context.Context, accountNumber string, statuses []string, limit int) ([]models.PaymentRequest, error) {
	var payments []models.PaymentRequest
	q := r.db.WithContext(ctx).Model(&models.PaymentRequest{}).Order("created_at DESC")
	if accountNumber != "" {
		q = q.Where("account_number = ?", accountNumber)
	}
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&payments).Error; err != nil {
		return nil, apperrors.Storage(err, "search payments")
	}
	return payments, nil
}
