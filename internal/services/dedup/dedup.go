// Package dedup recognizes repeat deliveries of the same bank event.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/models"
)

// Fingerprint identifies a bank event by account, amount, value date and narration.
func Fingerprint(account string, amount decimal.Decimal, valueDate time.Time, narration string) string {
	key := strings.Join([]string{
		strings.TrimSpace(account),
		amount.StringFixed(2),
		valueDate.Format("2006-01-02"),
		strings.TrimSpace(narration),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Accept atomically claims tx.Fingerprint and stores tx. When the fingerprint
// is already claimed it returns accepted=false and the transaction that
// holds it; nothing is written in that case.
func (s *Store) Accept(ctx context.Context, tx *models.ExtractedTransaction) (accepted bool, existing *models.ExtractedTransaction, err error) {
	if tx.Fingerprint == "" {
		return false, nil, apperrors.Validation(apperrors.CodeInvalidInput, "transaction has no fingerprint")
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	err = s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		claimed, err := register(db, tx.Fingerprint, tx.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		if err := db.Create(tx).Error; err != nil {
			return apperrors.Storage(err, "create extracted transaction")
		}
		accepted = true
		return nil
	})
	if err != nil || accepted {
		return accepted, nil, err
	}
	existing, err = s.holder(ctx, tx.Fingerprint)
	return false, existing, err
}

// IsDuplicate reports whether fp has already been claimed.
func (s *Store) IsDuplicate(ctx context.Context, fp string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.TransactionFingerprint{}).Where("hash = ?", fp).Count(&n).Error
	if err != nil {
		return false, apperrors.Storage(err, "check fingerprint")
	}
	return n > 0, nil
}

// Register claims fp for txID. It reports false when fp was already claimed.
func (s *Store) Register(ctx context.Context, fp string, txID uuid.UUID) (bool, error) {
	return register(s.db.WithContext(ctx), fp, txID)
}

func register(db *gorm.DB, fp string, txID uuid.UUID) (bool, error) {
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.TransactionFingerprint{
		Hash:          fp,
		TransactionID: txID,
	})
	if res.Error != nil {
		return false, apperrors.Storage(res.Error, "register fingerprint")
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) holder(ctx context.Context, fp string) (*models.ExtractedTransaction, error) {
	var tx models.ExtractedTransaction
	err := s.db.WithContext(ctx).
		Joins("JOIN transaction_fingerprints ON transaction_fingerprints.transaction_id = extracted_transactions.id").
		Where("transaction_fingerprints.hash = ?", fp).
		First(&tx).Error
	if err != nil {
		return nil, apperrors.Storage(err, "load duplicate transaction")
	}
	return &tx, nil
}

// Resumable reports whether a duplicate should be matched again: its first
// delivery was stored but matching never finished, and enough time has
// passed that the original worker is presumed gone.
func Resumable(existing *models.ExtractedTransaction, now time.Time, after time.Duration) bool {
	if existing == nil || existing.MatchStatus != models.TransactionMatchPending {
		return false
	}
	return now.Sub(existing.CreatedAt) >= after
}
