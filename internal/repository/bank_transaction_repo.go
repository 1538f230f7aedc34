package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/models"
)

type BankTransactionRepository struct {
	db *gorm.DB
}

func NewBankTransactionRepository(db *gorm.DB) *BankTransactionRepository {
	return &BankTransactionRepository{db: db}
}

func (r *BankTransactionRepository) WithTx(tx *gorm.DB) *BankTransactionRepository {
	return &BankTransactionRepository{db: tx}
}

func (r *BankTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ExtractedTransaction, error) {
	var tx models.ExtractedTransaction
	err := r.db.WithContext(ctx).First(&tx, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("transaction", id)
	}
	if err != nil {
		return nil, apperrors.Storage(err, "get transaction")
	}
	return &tx, nil
}

// SetMatchResult records the outcome of matching. It only moves a
// transaction out of pending; false means another run already finished it.
func (r *BankTransactionRepository) SetMatchResult(ctx context.Context, id uuid.UUID, status string, paymentID *uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ExtractedTransaction{}).
		Where("id = ? AND match_status = ?", id, models.TransactionMatchPending).
		Updates(map[string]interface{}{
			"match_status":       status,
			"matched_payment_id": paymentID,
		})
	if res.Error != nil {
		return false, apperrors.Storage(res.Error, "update transaction match status")
	}
	return res.RowsAffected == 1, nil
}
