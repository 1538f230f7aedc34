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

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) DB() *gorm.DB {
	return r.db
}

func (r *AccountRepository) WithTx(tx *gorm.DB) *AccountRepository {
	return &AccountRepository{db: tx}
}

// Save creates or updates an account. The model's BeforeSave hook keeps
// owner-less accounts in the pool.
func (r *AccountRepository) Save(ctx context.Context, a *models.AccountNumber) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
		if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
			return apperrors.Storage(err, "create account number")
		}
		return nil
	}
	if err := r.db.WithContext(ctx).Save(a).Error; err != nil {
		return apperrors.Storage(err, "save account number")
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AccountNumber, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByNumber returns nil, nil when the number is unknown.
func (r *AccountRepository) GetByNumber(ctx context.Context, number string) (*models.AccountNumber, error) {
	a, err := r.first(ctx, "number = ?", number)
	if apperrors.IsCategory(err, apperrors.CategoryNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *AccountRepository) first(ctx context.Context, cond string, arg interface{}) (*models.AccountNumber, error) {
	var a models.AccountNumber
	err := r.db.WithContext(ctx).First(&a, cond, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("account number", arg)
	}
	if err != nil {
		return nil, apperrors.Storage(err, "get account number")
	}
	return &a, nil
}

// DedicatedForBusiness returns the business's active dedicated accounts, oldest first.
func (r *AccountRepository) DedicatedForBusiness(ctx context.Context, businessID uuid.UUID) ([]models.AccountNumber, error) {
	var accounts []models.AccountNumber
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND is_pool = ? AND is_active = ?", businessID, false, true).
		Order("created_at ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, apperrors.Storage(err, "list business accounts")
	}
	return accounts, nil
}

// ActivePool lists shared pool accounts in allocation order.
func (r *AccountRepository) ActivePool(ctx context.Context, invoicePool bool) ([]models.AccountNumber, error) {
	var accounts []models.AccountNumber
	err := r.db.WithContext(ctx).
		Where("is_pool = ? AND is_active = ? AND is_invoice_pool = ?", true, true, invoicePool).
		Order("created_at ASC, number ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, apperrors.Storage(err, "list pool accounts")
	}
	return accounts, nil
}

// ReleaseBusiness detaches every account of a business and returns it to the pool.
func (r *AccountRepository) ReleaseBusiness(ctx context.Context, businessID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.AccountNumber{}).
		Where("business_id = ?", businessID).
		Updates(map[string]interface{}{"business_id": nil, "is_pool": true})
	if res.Error != nil {
		return 0, apperrors.Storage(res.Error, "release business accounts")
	}
	return res.RowsAffected, nil
}

// PoolOrphans repairs rows that lost their owner without being re-pooled.
func (r *AccountRepository) PoolOrphans(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.AccountNumber{}).
		Where("business_id IS NULL AND is_pool = ?", false).
		Update("is_pool", true)
	if res.Error != nil {
		return 0, apperrors.Storage(res.Error, "pool orphaned accounts")
	}
	return res.RowsAffected, nil
}

// IncrementUsage bumps the usage counter of an account number.
func (r *AccountRepository) IncrementUsage(ctx context.Context, number string) error {
	err := r.db.WithContext(ctx).Model(&models.AccountNumber{}).
		Where("number = ?", number).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1")).Error
	if err != nil {
		return apperrors.Storage(err, "increment account usage")
	}
	return nil
}

// MarkAssigned stamps the account as the most recently handed out.
func (r *AccountRepository) MarkAssigned(ctx context.Context, id uuid.UUID, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.AccountNumber{}).
		Where("id = ?", id).
		UpdateColumn("last_assigned_at", at).Error
	if err != nil {
		return apperrors.Storage(err, "mark account assigned")
	}
	return nil
}

// LastAssignedPool returns the pool account handed out most recently, or nil.
func (r *AccountRepository) LastAssignedPool(ctx context.Context, invoicePool bool) (*models.AccountNumber, error) {
	var a models.AccountNumber
	err := r.db.WithContext(ctx).
		Where("is_pool = ? AND is_invoice_pool = ? AND last_assigned_at IS NOT NULL", true, invoicePool).
		Order("last_assigned_at DESC").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Storage(err, "get last assigned account")
	}
	return &a, nil
}

func (r *AccountRepository) CreateBusiness(ctx context.Context, b *models.Business) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		return apperrors.Storage(err, "create business")
	}
	return nil
}

// DeleteBusiness soft-deletes a business and reports whether it existed.
func (r *AccountRepository) DeleteBusiness(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&models.Business{}, "id = ?", id)
	if res.Error != nil {
		return false, apperrors.Storage(res.Error, "delete business")
	}
	return res.RowsAffected > 0, nil
}
