package matching

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"payment-reconciliation-engine/internal/database"
	"payment-reconciliation-engine/internal/events"
	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/repository"
	"payment-reconciliation-engine/internal/services/accounts"
	"payment-reconciliation-engine/internal/services/payments"
)

type harness struct {
	db       *gorm.DB
	matcher  *Matcher
	payments *payments.Service
	alloc    *accounts.Allocator
	attempts *repository.MatchAttemptRepository
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	db := database.OpenTest(t)
	h := &harness{db: db, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }
	paymentRepo := repository.NewPaymentRepository(db)
	h.alloc = accounts.NewAllocator(repository.NewAccountRepository(db), paymentRepo, logger.Discard())
	h.payments = payments.NewService(db, h.alloc, &events.Recorder{}, logger.Discard(), payments.WithClock(clock))
	h.matcher = NewMatcher(NewEngine(DefaultConfig()), paymentRepo, h.alloc, h.payments, logger.Discard())
	h.matcher.now = clock
	h.attempts = repository.NewMatchAttemptRepository(db)
	return h
}

func (h *harness) dedicated(t *testing.T, number string) uuid.UUID {
	biz := &models.Business{Name: "Shop " + number}
	require.NoError(t, repository.NewAccountRepository(h.db).CreateBusiness(context.Background(), biz))
	require.NoError(t, h.alloc.Save(context.Background(), &models.AccountNumber{Number: number, BusinessID: &biz.ID, IsActive: true}))
	return biz.ID
}

func (h *harness) pool(t *testing.T, number string) {
	require.NoError(t, h.alloc.Save(context.Background(), &models.AccountNumber{Number: number, IsActive: true}))
}

func (h *harness) request(t *testing.T, number string, amount int64, name string, biz *uuid.UUID) *models.PaymentRequest {
	p, err := h.payments.Create(context.Background(), payments.NewPayment{
		AccountNumber: number,
		Amount:        decimal.NewFromInt(amount),
		PayerName:     name,
		BusinessID:    biz,
	})
	require.NoError(t, err)
	return p
}

func (h *harness) transaction(t *testing.T, number, amount, name string) *models.ExtractedTransaction {
	tx := &models.ExtractedTransaction{
		ID:               uuid.New(),
		AccountNumber:    number,
		Amount:           decimal.RequireFromString(amount),
		SenderName:       name,
		ValueDate:        h.now,
		OccurredAt:       h.now.Add(10 * time.Minute),
		Fingerprint:      uuid.NewString(),
		ExtractionMethod: []byte(`{"template":"GTBank"}`),
		MatchStatus:      models.TransactionMatchPending,
	}
	require.NoError(t, h.db.Create(tx).Error)
	return tx
}

func (h *harness) status(t *testing.T, id uuid.UUID) *models.PaymentRequest {
	p, err := h.payments.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestMatchDedicatedAccountWithoutName(t *testing.T) {
	h := newHarness(t)
	biz := h.dedicated(t, "0123456789")
	p := h.request(t, "0123456789", 5000, "Ada Obi", &biz)

	res, err := h.matcher.Match(context.Background(), h.transaction(t, "0123456789", "5000", ""))
	require.NoError(t, err)
	require.True(t, res.Matched())

	got := h.status(t, p.ID)
	assert.Equal(t, models.PaymentApproved, got.Status)
	assert.False(t, got.IsMismatch)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, models.MatchOutcomeMatched, res.Attempts[0].Outcome)
}

func TestMatchPoolAccountByName(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.pool(t, "9999999999")
	jane := h.request(t, "9999999999", 5000, "Jane Doe", nil)
	john := h.request(t, "9999999999", 5000, "John Smith", nil)
	tx := h.transaction(t, "9999999999", "5000", "Jane D.")

	res, err := h.matcher.Match(ctx, tx)
	require.NoError(t, err)
	require.True(t, res.Matched())
	assert.Equal(t, jane.ID, res.Payment.ID)
	assert.Equal(t, models.PaymentPending, h.status(t, john.ID).Status)

	stored, err := h.attempts.ListForTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	byPayment := map[uuid.UUID]models.MatchAttempt{}
	for _, a := range stored {
		byPayment[*a.PaymentRequestID] = a
	}
	assert.Equal(t, models.MatchOutcomeMatched, byPayment[jane.ID].Outcome)
	assert.Equal(t, models.MatchOutcomeRejected, byPayment[john.ID].Outcome)
	assert.Equal(t, ReasonLowNameSimilarity, byPayment[john.ID].Reason)
	require.NotNil(t, byPayment[john.ID].NameSimilarityPercent)
	assert.Less(t, *byPayment[john.ID].NameSimilarityPercent, 65)
	assert.Equal(t, `{"template":"GTBank"}`, byPayment[jane.ID].ExtractionMethod)
}

func TestMatchShortfallFlagsMismatch(t *testing.T) {
	h := newHarness(t)
	biz := h.dedicated(t, "0123456789")
	p := h.request(t, "0123456789", 10000, "", &biz)

	res, err := h.matcher.Match(context.Background(), h.transaction(t, "0123456789", "9800", ""))
	require.NoError(t, err)
	require.True(t, res.Matched())

	got := h.status(t, p.ID)
	assert.Equal(t, models.PaymentApproved, got.Status)
	assert.True(t, got.IsMismatch)
	assert.Contains(t, got.MismatchReason, "shortfall: ₦200.00")
	require.NotNil(t, got.ReceivedAmount)
	assert.True(t, decimal.NewFromInt(9800).Equal(*got.ReceivedAmount))
}

func TestMatchWithoutCandidatesRecordsAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tx := h.transaction(t, "5555555555", "100", "Nobody")

	res, err := h.matcher.Match(ctx, tx)
	require.NoError(t, err)
	assert.False(t, res.Matched())

	stored, err := h.attempts.ListForTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.MatchOutcomeUnmatched, stored[0].Outcome)
	assert.Equal(t, ReasonNoCandidates, stored[0].Reason)
	assert.Nil(t, stored[0].PaymentRequestID)

	reloaded, err := repository.NewBankTransactionRepository(h.db).GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionMatchUnmatched, reloaded.MatchStatus)
}

func TestMatchPartialPaymentStaysPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	biz := h.dedicated(t, "0123456789")
	p := h.request(t, "0123456789", 10000, "", &biz)
	tx := h.transaction(t, "0123456789", "6000", "")

	res, err := h.matcher.Match(ctx, tx)
	require.NoError(t, err)
	assert.False(t, res.Matched())
	assert.Equal(t, models.PaymentPending, h.status(t, p.ID).Status)

	stored, err := h.attempts.ListForTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.MatchOutcomePartial, stored[0].Outcome)
	assert.Equal(t, ReasonPartialPayment, stored[0].Reason)
}

func TestMatchIgnoresPaymentCreatedAfterTransaction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.pool(t, "9999999999")
	early := h.request(t, "9999999999", 5000, "Jane Doe", nil)
	h.now = h.now.Add(time.Hour)
	late := h.request(t, "9999999999", 5000, "Jane Doe", nil)
	h.now = h.now.Add(-time.Hour)

	res, err := h.matcher.Match(ctx, h.transaction(t, "9999999999", "5000", "Jane Doe"))
	require.NoError(t, err)
	require.True(t, res.Matched())
	assert.Equal(t, early.ID, res.Payment.ID)
	assert.Equal(t, models.PaymentPending, h.status(t, late.ID).Status)
}

func TestMatchAlreadyApprovedIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	biz := h.dedicated(t, "0123456789")
	p := h.request(t, "0123456789", 5000, "", &biz)

	first, err := h.matcher.Match(ctx, h.transaction(t, "0123456789", "5000", ""))
	require.NoError(t, err)
	require.True(t, first.Matched())

	second, err := h.matcher.Match(ctx, h.transaction(t, "0123456789", "5000", ""))
	require.NoError(t, err)
	assert.False(t, second.Matched())
	require.Len(t, second.Attempts, 1)
	assert.Equal(t, ReasonNoCandidates, second.Attempts[0].Reason)
	assert.Equal(t, models.PaymentApproved, h.status(t, p.ID).Status)
}

// racingSettler loses the race for the first payment it is asked to settle.
type racingSettler struct {
	Settler
	lostFor uuid.UUID
	tried   []uuid.UUID
}

func (r *racingSettler) Approve(ctx context.Context, st payments.Settlement) (*models.PaymentRequest, error) {
	r.tried = append(r.tried, st.PaymentID)
	if st.PaymentID == r.lostFor {
		return nil, payments.ErrNotPending
	}
	return r.Settler.Approve(ctx, st)
}

func TestMatchFallsBackAfterLostRace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.pool(t, "9999999999")
	first := h.request(t, "9999999999", 5000, "Jane Doe", nil)
	h.now = h.now.Add(time.Minute)
	second := h.request(t, "9999999999", 5000, "Jane Doe", nil)

	settler := &racingSettler{Settler: h.payments, lostFor: second.ID}
	h.matcher.settler = settler

	tx := h.transaction(t, "9999999999", "5000", "Jane Doe")
	res, err := h.matcher.Match(ctx, tx)
	require.NoError(t, err)
	require.True(t, res.Matched())
	assert.Equal(t, first.ID, res.Payment.ID)
	assert.Equal(t, []uuid.UUID{second.ID, first.ID}, settler.tried)

	stored, err := h.attempts.ListForTransaction(ctx, tx.ID)
	require.NoError(t, err)
	reasons := map[uuid.UUID]string{}
	for _, a := range stored {
		reasons[*a.PaymentRequestID] = a.Reason
	}
	assert.Equal(t, ReasonNoLongerPending, reasons[second.ID])
	assert.NotEqual(t, ReasonNoLongerPending, reasons[first.ID])
}

func TestMatchPoolAccountRequiresSenderName(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.pool(t, "9999999999")
	jane := h.request(t, "9999999999", 5000, "Jane Doe", nil)
	john := h.request(t, "9999999999", 5000, "John Smith", nil)

	tx := h.transaction(t, "9999999999", "5000", "")
	res, err := h.matcher.Match(ctx, tx)
	require.NoError(t, err)
	assert.False(t, res.Matched())
	require.Len(t, res.Attempts, 2)
	for _, a := range res.Attempts {
		assert.Equal(t, models.MatchOutcomeRejected, a.Outcome)
		assert.Equal(t, ReasonSenderNameUnavailable, a.Reason)
	}
	assert.Equal(t, models.PaymentPending, h.status(t, jane.ID).Status)
	assert.Equal(t, models.PaymentPending, h.status(t, john.ID).Status)
}

func TestMatchSameTransactionSettlesOnePayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.pool(t, "9999999999")
	first := h.request(t, "9999999999", 5000, "Jane Doe", nil)
	h.now = h.now.Add(time.Minute)
	second := h.request(t, "9999999999", 5000, "Jane Doe", nil)
	tx := h.transaction(t, "9999999999", "5000", "Jane Doe")

	res, err := h.matcher.Match(ctx, tx)
	require.NoError(t, err)
	require.True(t, res.Matched())
	winner := res.Payment.ID

	again, err := h.matcher.Match(ctx, tx)
	require.NoError(t, err)
	assert.True(t, again.Settled)
	assert.False(t, again.Matched())

	approved := 0
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		if h.status(t, id).Status == models.PaymentApproved {
			approved++
		}
	}
	assert.Equal(t, 1, approved)

	stored, err := h.attempts.ListForTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2, "the second run records nothing")

	var got models.ExtractedTransaction
	require.NoError(t, h.db.First(&got, "id = ?", tx.ID).Error)
	assert.Equal(t, models.TransactionMatchMatched, got.MatchStatus)
	require.NotNil(t, got.MatchedPaymentID)
	assert.Equal(t, winner, *got.MatchedPaymentID)
}

// interleavingSettler runs a complete second Match on the same transaction
// just before its first settlement commits.
type interleavingSettler struct {
	Settler
	matcher *Matcher
	inner   *Result
	done    bool
}

func (s *interleavingSettler) Approve(ctx context.Context, st payments.Settlement) (*models.PaymentRequest, error) {
	if !s.done {
		s.done = true
		res, err := s.matcher.Match(ctx, st.Transaction)
		if err != nil {
			return nil, err
		}
		s.inner = res
	}
	return s.Settler.Approve(ctx, st)
}

func TestMatchStopsWhenTransactionSettledConcurrently(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.pool(t, "9999999999")
	first := h.request(t, "9999999999", 5000, "Jane Doe", nil)
	h.now = h.now.Add(time.Minute)
	second := h.request(t, "9999999999", 5000, "Jane Doe", nil)
	tx := h.transaction(t, "9999999999", "5000", "Jane Doe")

	inner := NewMatcher(NewEngine(DefaultConfig()), repository.NewPaymentRepository(h.db), h.alloc, h.payments, logger.Discard())
	inner.now = h.matcher.now
	settler := &interleavingSettler{Settler: h.payments, matcher: inner}
	h.matcher.settler = settler

	res, err := h.matcher.Match(ctx, tx)
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.False(t, res.Matched())
	assert.Empty(t, res.Attempts)

	require.NotNil(t, settler.inner)
	require.True(t, settler.inner.Matched())

	approved := 0
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		if h.status(t, id).Status == models.PaymentApproved {
			approved++
		}
	}
	assert.Equal(t, 1, approved)

	stored, err := h.attempts.ListForTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}
