// Package accounts owns the account pool: which business an account number
// belongs to, and which number a new payment request is sent to.
package accounts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/repository"
)

// Scope restricts which payments a transaction on an account may settle.
type Scope struct {
	AccountNumber string
	// Known is false when the number is not a managed account.
	Known bool
	// BusinessID is set only for dedicated accounts.
	BusinessID  *uuid.UUID
	Dedicated   bool
	InvoicePool bool
}

// Allows reports whether a payment owned by businessID may match on this account.
func (s *Scope) Allows(businessID *uuid.UUID) bool {
	if s == nil || !s.Dedicated || s.BusinessID == nil {
		return true
	}
	return businessID != nil && *businessID == *s.BusinessID
}

type Allocator struct {
	accounts *repository.AccountRepository
	payments *repository.PaymentRepository
	log      logger.Logger
	now      func() time.Time
}

func NewAllocator(accounts *repository.AccountRepository, payments *repository.PaymentRepository, log logger.Logger) *Allocator {
	return &Allocator{
		accounts: accounts,
		payments: payments,
		log:      log.WithComponent("accounts"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AccountsForMatching resolves the business scope of an account number.
func (a *Allocator) AccountsForMatching(ctx context.Context, number string) (*Scope, error) {
	scope := &Scope{AccountNumber: number}
	if number == "" {
		return scope, nil
	}
	acct, err := a.accounts.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return scope, nil
	}
	scope.Known = true
	scope.InvoicePool = acct.IsInvoicePool
	if acct.Dedicated() {
		scope.Dedicated = true
		id := *acct.BusinessID
		scope.BusinessID = &id
	}
	return scope, nil
}

// Save stores an account, moving it to the pool when it has no owner.
func (a *Allocator) Save(ctx context.Context, acct *models.AccountNumber) error {
	if acct.Number == "" {
		return apperrors.Validation(apperrors.CodeInvalidInput, "account number is required")
	}
	acct.EnforcePoolInvariant()
	return a.accounts.Save(ctx, acct)
}

// ReturnToPool detaches an account from its business.
func (a *Allocator) ReturnToPool(ctx context.Context, accountID uuid.UUID) (*models.AccountNumber, error) {
	acct, err := a.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	acct.BusinessID = nil
	acct.IsPool = true
	if err := a.accounts.Save(ctx, acct); err != nil {
		return nil, err
	}
	a.log.WithField("account", acct.Number).Info("account returned to pool")
	return acct, nil
}

// CreateBusiness registers an account owner.
func (a *Allocator) CreateBusiness(ctx context.Context, name string) (*models.Business, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "business name is required")
	}
	b := &models.Business{Name: name}
	if err := a.accounts.CreateBusiness(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// RemoveBusiness deletes a business and re-pools its accounts in the same
// transaction, so no account is ever left without an owner outside the pool.
func (a *Allocator) RemoveBusiness(ctx context.Context, businessID uuid.UUID) (int64, error) {
	var released int64
	err := a.accounts.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := a.accounts.WithTx(tx)
		n, err := repo.ReleaseBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		found, err := repo.DeleteBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		if !found {
			return apperrors.NotFound("business", businessID)
		}
		released = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	a.log.WithFields(logger.Fields{"business": businessID, "accounts": released}).Info("business removed")
	return released, nil
}

// MoveOrphansToPool repairs accounts that lost their owner outside RemoveBusiness.
func (a *Allocator) MoveOrphansToPool(ctx context.Context) (int64, error) {
	n, err := a.accounts.PoolOrphans(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.log.WithField("accounts", n).Warn("orphaned accounts moved to pool")
	}
	return n, nil
}

// Assign picks the account a new payment request should be paid into. A
// business with a dedicated account always gets it. Otherwise pool accounts
// are handed out in rotation, skipping the one used last and any account
// that still has a pending payment; when every account is busy the rotation
// wraps and reuses the next one anyway.
func (a *Allocator) Assign(ctx context.Context, businessID *uuid.UUID, invoice bool) (*models.AccountNumber, error) {
	if businessID != nil {
		dedicated, err := a.accounts.DedicatedForBusiness(ctx, *businessID)
		if err != nil {
			return nil, err
		}
		if len(dedicated) > 0 {
			return &dedicated[0], nil
		}
	}

	pool, err := a.accounts.ActivePool(ctx, invoice)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, apperrors.New(apperrors.CategoryConflict, apperrors.CodeNoAccountAvailable, "no active pool account available")
	}

	now := a.now()
	busyList, err := a.payments.PendingAccountNumbers(ctx, now)
	if err != nil {
		return nil, err
	}
	busy := make(map[string]bool, len(busyList))
	for _, n := range busyList {
		busy[n] = true
	}
	last, err := a.accounts.LastAssignedPool(ctx, invoice)
	if err != nil {
		return nil, err
	}

	chosen := pickRotation(pool, last, busy)
	if err := a.accounts.MarkAssigned(ctx, chosen.ID, now); err != nil {
		return nil, err
	}
	chosen.LastAssignedAt = &now
	return chosen, nil
}

func pickRotation(pool []models.AccountNumber, last *models.AccountNumber, busy map[string]bool) *models.AccountNumber {
	start := 0
	if last != nil {
		for i := range pool {
			if pool[i].ID == last.ID {
				start = (i + 1) % len(pool)
				break
			}
		}
	}
	for i := 0; i < len(pool); i++ {
		c := &pool[(start+i)%len(pool)]
		if last != nil && c.ID == last.ID && len(pool) > 1 {
			continue
		}
		if !busy[c.Number] {
			return c
		}
	}
	return &pool[start]
}
