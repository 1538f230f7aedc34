package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/database"
	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/repository"
)

type fixture struct {
	db       *gorm.DB
	alloc    *Allocator
	accounts *repository.AccountRepository
	payments *repository.PaymentRepository
}

func newFixture(t *testing.T) *fixture {
	db := database.OpenTest(t)
	accounts := repository.NewAccountRepository(db)
	payments := repository.NewPaymentRepository(db)
	return &fixture{
		db:       db,
		alloc:    NewAllocator(accounts, payments, logger.Discard()),
		accounts: accounts,
		payments: payments,
	}
}

func (f *fixture) poolAccount(t *testing.T, number string, created time.Time) *models.AccountNumber {
	acct := &models.AccountNumber{Number: number, IsActive: true, CreatedAt: created}
	require.NoError(t, f.alloc.Save(context.Background(), acct))
	return acct
}

func TestSaveEnforcesPoolInvariant(t *testing.T) {
	f := newFixture(t)
	acct := &models.AccountNumber{Number: "0000000001", IsPool: false, IsActive: true}
	require.NoError(t, f.alloc.Save(context.Background(), acct))
	assert.True(t, acct.IsPool)

	stored, err := f.accounts.GetByNumber(context.Background(), "0000000001")
	require.NoError(t, err)
	assert.True(t, stored.IsPool)
	assert.Nil(t, stored.BusinessID)

	err = f.alloc.Save(context.Background(), &models.AccountNumber{})
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))
}

func TestAccountsForMatching(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	biz := &models.Business{Name: "Acme"}
	require.NoError(t, f.accounts.CreateBusiness(ctx, biz))
	require.NoError(t, f.alloc.Save(ctx, &models.AccountNumber{Number: "1111111111", BusinessID: &biz.ID, IsActive: true}))
	f.poolAccount(t, "2222222222", time.Now())

	scope, err := f.alloc.AccountsForMatching(ctx, "1111111111")
	require.NoError(t, err)
	assert.True(t, scope.Known)
	assert.True(t, scope.Dedicated)
	require.NotNil(t, scope.BusinessID)
	assert.Equal(t, biz.ID, *scope.BusinessID)
	assert.True(t, scope.Allows(&biz.ID))
	other := uuid.New()
	assert.False(t, scope.Allows(&other))
	assert.False(t, scope.Allows(nil))

	scope, err = f.alloc.AccountsForMatching(ctx, "2222222222")
	require.NoError(t, err)
	assert.True(t, scope.Known)
	assert.False(t, scope.Dedicated)
	assert.Nil(t, scope.BusinessID)
	assert.True(t, scope.Allows(&other))

	scope, err = f.alloc.AccountsForMatching(ctx, "9999999999")
	require.NoError(t, err)
	assert.False(t, scope.Known)
	assert.True(t, scope.Allows(nil))
}

func TestRemoveBusinessRepoolsAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	biz := &models.Business{Name: "Acme"}
	require.NoError(t, f.accounts.CreateBusiness(ctx, biz))
	require.NoError(t, f.alloc.Save(ctx, &models.AccountNumber{Number: "1111111111", BusinessID: &biz.ID, IsActive: true}))
	require.NoError(t, f.alloc.Save(ctx, &models.AccountNumber{Number: "1111111112", BusinessID: &biz.ID, IsActive: true}))

	n, err := f.alloc.RemoveBusiness(ctx, biz.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	scope, err := f.alloc.AccountsForMatching(ctx, "1111111111")
	require.NoError(t, err)
	assert.Nil(t, scope.BusinessID)
	assert.False(t, scope.Dedicated)

	_, err = f.alloc.RemoveBusiness(ctx, biz.ID)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryNotFound))
}

func TestReturnToPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bizID := uuid.New()
	acct := &models.AccountNumber{Number: "1111111111", BusinessID: &bizID, IsActive: true}
	require.NoError(t, f.alloc.Save(ctx, acct))

	got, err := f.alloc.ReturnToPool(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPool)
	assert.Nil(t, got.BusinessID)
}

func TestMoveOrphansToPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acct := f.poolAccount(t, "1111111111", time.Now())
	// Simulate a row written around the model hook.
	require.NoError(t, f.db.Model(&models.AccountNumber{}).Where("id = ?", acct.ID).UpdateColumn("is_pool", false).Error)

	n, err := f.alloc.MoveOrphansToPool(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stored, err := f.accounts.GetByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsPool)
}

func TestAssignPrefersDedicatedAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bizID := uuid.New()
	require.NoError(t, f.alloc.Save(ctx, &models.AccountNumber{Number: "5555555555", BusinessID: &bizID, IsActive: true}))
	f.poolAccount(t, "1111111111", time.Now())

	got, err := f.alloc.Assign(ctx, &bizID, false)
	require.NoError(t, err)
	assert.Equal(t, "5555555555", got.Number)
}

func TestAssignRotatesPoolSkippingBusyAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	base := time.Now().UTC().Add(-time.Hour)
	f.poolAccount(t, "1111111111", base)
	f.poolAccount(t, "2222222222", base.Add(time.Minute))
	f.poolAccount(t, "3333333333", base.Add(2*time.Minute))

	clock := base
	f.alloc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first, err := f.alloc.Assign(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "1111111111", first.Number)

	// 2222 has a pending payment, so rotation moves past it.
	require.NoError(t, f.payments.Create(ctx, &models.PaymentRequest{
		ID:            uuid.New(),
		Reference:     "busy",
		AccountNumber: "2222222222",
		Amount:        decimal.NewFromInt(100),
		Status:        models.PaymentPending,
	}))
	second, err := f.alloc.Assign(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "3333333333", second.Number)

	third, err := f.alloc.Assign(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "1111111111", third.Number)
}

func TestAssignWrapsWhenAllBusy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.poolAccount(t, "1111111111", time.Now().Add(-time.Minute))
	require.NoError(t, f.payments.Create(ctx, &models.PaymentRequest{
		ID:            uuid.New(),
		Reference:     "busy",
		AccountNumber: "1111111111",
		Amount:        decimal.NewFromInt(100),
		Status:        models.PaymentPending,
	}))

	got, err := f.alloc.Assign(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "1111111111", got.Number)
}

func TestAssignWithoutPool(t *testing.T) {
	f := newFixture(t)
	_, err := f.alloc.Assign(context.Background(), nil, false)
	assert.Equal(t, apperrors.CodeNoAccountAvailable, apperrors.CodeOf(err))
}
