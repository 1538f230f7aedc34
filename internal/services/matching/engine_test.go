package matching

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/services/accounts"
)

var txTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func pending(amount int64, name string, created time.Time) models.PaymentRequest {
	return models.PaymentRequest{
		ID:            uuid.New(),
		AccountNumber: "9999999999",
		Amount:        decimal.NewFromInt(amount),
		PayerName:     name,
		Status:        models.PaymentPending,
		CreatedAt:     created,
	}
}

func transaction(amount string, name string) *models.ExtractedTransaction {
	return &models.ExtractedTransaction{
		ID:            uuid.New(),
		AccountNumber: "9999999999",
		Amount:        decimal.RequireFromString(amount),
		SenderName:    name,
		OccurredAt:    txTime,
	}
}

var poolScope = &accounts.Scope{AccountNumber: "9999999999", Known: true}

func TestEvaluateNameDecidesOnPoolAccount(t *testing.T) {
	e := NewEngine(DefaultConfig())
	jane := pending(5000, "Jane Doe", txTime.Add(-10*time.Minute))
	john := pending(5000, "John Smith", txTime.Add(-5*time.Minute))

	evals := e.Evaluate(transaction("5000", "Jane D."), []models.PaymentRequest{john, jane}, poolScope)
	require.Len(t, evals, 2)

	assert.True(t, evals[0].Accepted)
	assert.Equal(t, jane.ID, evals[0].Payment.ID)
	assert.True(t, evals[0].Exact)
	assert.False(t, evals[0].IsMismatch)

	assert.False(t, evals[1].Accepted)
	assert.Equal(t, john.ID, evals[1].Payment.ID)
	assert.Equal(t, ReasonLowNameSimilarity, evals[1].Reason)
	assert.Equal(t, models.MatchOutcomeRejected, evals[1].Outcome)
}

func TestEvaluateDedicatedAccountSkipsNameCheck(t *testing.T) {
	e := NewEngine(DefaultConfig())
	biz := uuid.New()
	scope := &accounts.Scope{AccountNumber: "0123456789", Known: true, Dedicated: true, BusinessID: &biz}
	p := pending(5000, "Somebody Else", txTime.Add(-time.Hour))
	p.BusinessID = &biz

	evals := e.Evaluate(transaction("5000", "Unrelated Sender"), []models.PaymentRequest{p}, scope)
	require.Len(t, evals, 1)
	assert.True(t, evals[0].Accepted)
	assert.Equal(t, "exact amount on dedicated account", evals[0].Reason)
}

func TestEvaluateMissingSenderNameRejectedOnPoolAccount(t *testing.T) {
	e := NewEngine(DefaultConfig())
	jane := pending(5000, "Jane Doe", txTime.Add(-10*time.Minute))
	john := pending(5000, "John Smith", txTime.Add(-5*time.Minute))

	evals := e.Evaluate(transaction("5000", ""), []models.PaymentRequest{jane, john}, poolScope)
	require.Len(t, evals, 2)
	for _, ev := range evals {
		assert.False(t, ev.Accepted)
		assert.False(t, ev.NameKnown)
		assert.Equal(t, models.MatchOutcomeRejected, ev.Outcome)
		assert.Equal(t, ReasonSenderNameUnavailable, ev.Reason)
	}
}

func TestEvaluateMissingSenderNameWithoutScope(t *testing.T) {
	e := NewEngine(DefaultConfig())
	p := pending(5000, "Jane Doe", txTime.Add(-time.Hour))

	evals := e.Evaluate(transaction("5000", ""), []models.PaymentRequest{p}, nil)
	require.Len(t, evals, 1)
	assert.False(t, evals[0].Accepted)
	assert.Equal(t, ReasonSenderNameUnavailable, evals[0].Reason)
}

func TestEvaluateNoPayerNameIsNeutralOnPoolAccount(t *testing.T) {
	e := NewEngine(DefaultConfig())
	p := pending(5000, "", txTime.Add(-time.Hour))

	evals := e.Evaluate(transaction("5000", ""), []models.PaymentRequest{p}, poolScope)
	require.Len(t, evals, 1)
	assert.True(t, evals[0].Accepted)
	assert.False(t, evals[0].NameKnown)
	assert.Equal(t, 50, evals[0].NameScore)
	assert.Equal(t, "exact amount, no payer name on request", evals[0].Reason)
}

func TestEvaluateAmountRules(t *testing.T) {
	e := NewEngine(DefaultConfig())
	created := txTime.Add(-time.Hour)

	cases := []struct {
		name     string
		received string
		accepted bool
		mismatch bool
		outcome  string
		reason   string
	}{
		{"exact", "10000", true, false, models.MatchOutcomeMatched, ""},
		{"rounding", "9999.99", true, false, models.MatchOutcomeMatched, ""},
		{"small shortfall", "9800", true, true, models.MatchOutcomeMatched, "Amount mismatch: expected ₦10,000.00, received ₦9,800.00 (shortfall: ₦200.00)"},
		{"shortfall at tolerance", "9500", false, false, models.MatchOutcomePartial, ReasonPartialPayment},
		{"overpayment", "12000", true, true, models.MatchOutcomeMatched, "Amount mismatch: expected ₦10,000.00, received ₦12,000.00 (overpayment: ₦2,000.00)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evals := e.Evaluate(transaction(tc.received, "Jane Doe"), []models.PaymentRequest{pending(10000, "Jane Doe", created)}, poolScope)
			require.Len(t, evals, 1)
			ev := evals[0]
			assert.Equal(t, tc.accepted, ev.Accepted)
			assert.Equal(t, tc.mismatch, ev.IsMismatch)
			assert.Equal(t, tc.outcome, ev.Outcome)
			if tc.reason != "" {
				assert.Equal(t, tc.reason, ev.Reason)
			}
		})
	}
}

func TestEvaluateOverpaymentWhenDisallowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowOverpayment = false
	e := NewEngine(cfg)

	evals := e.Evaluate(transaction("10400", "Jane Doe"), []models.PaymentRequest{pending(10000, "Jane Doe", txTime.Add(-time.Hour))}, poolScope)
	assert.True(t, evals[0].Accepted)
	assert.True(t, evals[0].IsMismatch)

	evals = e.Evaluate(transaction("11000", "Jane Doe"), []models.PaymentRequest{pending(10000, "Jane Doe", txTime.Add(-time.Hour))}, poolScope)
	assert.False(t, evals[0].Accepted)
	assert.Equal(t, ReasonAmountOutsideTolerance, evals[0].Reason)
}

func TestEvaluateExcludesPrematureCandidates(t *testing.T) {
	e := NewEngine(DefaultConfig())
	early := pending(5000, "Jane Doe", txTime.Add(-3*time.Hour))
	late := pending(5000, "Jane Doe", txTime.Add(30*time.Minute))
	withinSkew := pending(5000, "Jane Doe", txTime.Add(2*time.Minute))

	evals := e.Evaluate(transaction("5000", "Jane Doe"), []models.PaymentRequest{late, early, withinSkew}, poolScope)
	require.Len(t, evals, 3)

	assert.Equal(t, early.ID, evals[0].Payment.ID, "earlier-created request beats one inside the skew")
	assert.Equal(t, withinSkew.ID, evals[1].Payment.ID)
	assert.True(t, evals[1].Accepted)
	assert.Equal(t, late.ID, evals[2].Payment.ID)
	assert.False(t, evals[2].Accepted)
	assert.Equal(t, ReasonCreatedAfter, evals[2].Reason)
}

func TestEvaluateTimeWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeWindow = time.Hour
	e := NewEngine(cfg)

	evals := e.Evaluate(transaction("5000", "Jane Doe"), []models.PaymentRequest{pending(5000, "Jane Doe", txTime.Add(-2*time.Hour))}, poolScope)
	assert.False(t, evals[0].Accepted)
	assert.Equal(t, ReasonOutsideTimeWindow, evals[0].Reason)
}

func TestEvaluateDedicatedAccountRejectsOtherBusiness(t *testing.T) {
	e := NewEngine(DefaultConfig())
	owner, other := uuid.New(), uuid.New()
	scope := &accounts.Scope{Known: true, Dedicated: true, BusinessID: &owner}
	p := pending(5000, "Jane Doe", txTime.Add(-time.Hour))
	p.BusinessID = &other

	evals := e.Evaluate(transaction("5000", "Jane Doe"), []models.PaymentRequest{p}, scope)
	assert.False(t, evals[0].Accepted)
	assert.Equal(t, ReasonOtherBusiness, evals[0].Reason)
}

func TestRankingPrefersExactThenName(t *testing.T) {
	e := NewEngine(DefaultConfig())
	created := txTime.Add(-time.Hour)
	mismatch := pending(5100, "Jane Doe", created.Add(50*time.Minute))
	noName := pending(5000, "", created.Add(40*time.Minute))
	named := pending(5000, "Jane Doe", created)

	evals := e.Evaluate(transaction("5000", "Jane Doe"), []models.PaymentRequest{mismatch, noName, named}, poolScope)
	require.Len(t, evals, 3)
	assert.Equal(t, named.ID, evals[0].Payment.ID)
	assert.Equal(t, noName.ID, evals[1].Payment.ID)
	assert.Equal(t, mismatch.ID, evals[2].Payment.ID)
	for _, ev := range evals {
		assert.True(t, ev.Accepted)
	}
}

func TestMismatchReason(t *testing.T) {
	assert.Equal(t, "Amount mismatch: expected ₦5,000.00, received ₦5,000.50 (overpayment: ₦0.50)",
		MismatchReason(decimal.NewFromInt(5000), decimal.RequireFromString("5000.5")))
}

func TestMismatchReasonKeepsLargeAmountsExact(t *testing.T) {
	expected := decimal.RequireFromString("123456789012345678.90")
	received := decimal.RequireFromString("123456789012345678.95")
	assert.Equal(t, "Amount mismatch: expected ₦123,456,789,012,345,678.90, received ₦123,456,789,012,345,678.95 (overpayment: ₦0.05)",
		MismatchReason(expected, received))
}

func TestNaira(t *testing.T) {
	assert.Equal(t, "0.00", naira(decimal.Zero))
	assert.Equal(t, "999.50", naira(decimal.RequireFromString("999.5")))
	assert.Equal(t, "1,000.01", naira(decimal.RequireFromString("1000.005")))
	assert.Equal(t, "-2,500.00", naira(decimal.NewFromInt(-2500)))
}
