// Package matching scores extracted bank transactions against pending
// payment requests and settles the best acceptable one.
package matching

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/services/accounts"
)

const (
	ReasonAmountOutsideTolerance = "amount outside tolerance"
	ReasonPartialPayment         = "partial payment"
	ReasonLowNameSimilarity      = "low name similarity"
	ReasonSenderNameUnavailable  = "sender name unavailable on pool account"
	ReasonCreatedAfter           = "payment created after transaction"
	ReasonOutsideTimeWindow      = "outside time window"
	ReasonOtherBusiness          = "payment belongs to a different business"
	ReasonNoLongerPending        = "payment no longer pending"
	ReasonOutranked              = "another candidate ranked higher"
	ReasonNoCandidates           = "no pending payment for this account"
)

// Evaluation is the verdict on one candidate payment.
type Evaluation struct {
	Payment *models.PaymentRequest

	Accepted bool
	// Outcome and Reason describe a rejection; accepted candidates get their
	// final outcome once the winner is settled.
	Outcome string
	Reason  string
	Detail  string

	Exact          bool
	IsMismatch     bool
	MismatchReason string
	// AmountDiff is received minus expected.
	AmountDiff decimal.Decimal
	NameScore  int
	NameKnown  bool
	// TimeDiff is transaction time minus payment creation time.
	TimeDiff  time.Duration
	Dedicated bool
}

// NameMatched reports a known name at or above the threshold.
func (e Evaluation) NameMatched(threshold int) bool {
	return e.NameKnown && e.NameScore >= threshold
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate scores every candidate against tx. Accepted candidates come first
// in rank order, followed by the rejected ones in input order. A nil scope
// places no business restriction on the candidates.
func (e *Engine) Evaluate(tx *models.ExtractedTransaction, candidates []models.PaymentRequest, scope *accounts.Scope) []Evaluation {
	dedicated := scope != nil && scope.Dedicated
	accepted := make([]Evaluation, 0, len(candidates))
	var rejected []Evaluation
	for i := range candidates {
		ev := e.evaluate(tx, &candidates[i], scope, dedicated)
		if ev.Accepted {
			accepted = append(accepted, ev)
		} else {
			rejected = append(rejected, ev)
		}
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		return e.ranksBefore(accepted[i], accepted[j])
	})
	return append(accepted, rejected...)
}

func (e *Engine) evaluate(tx *models.ExtractedTransaction, p *models.PaymentRequest, scope *accounts.Scope, dedicated bool) Evaluation {
	ev := Evaluation{
		Payment:    p,
		AmountDiff: tx.Amount.Sub(p.Amount),
		TimeDiff:   tx.OccurredAt.Sub(p.CreatedAt),
		Dedicated:  dedicated,
		Outcome:    models.MatchOutcomeRejected,
	}
	ev.NameScore, ev.NameKnown = e.nameScore(p.PayerName, tx.SenderName)

	if !scope.Allows(p.BusinessID) {
		ev.Reason = ReasonOtherBusiness
		return ev
	}
	if p.CreatedAt.After(tx.OccurredAt.Add(e.cfg.ClockSkew)) {
		ev.Reason = ReasonCreatedAfter
		ev.Detail = fmt.Sprintf("payment created %s after the transaction", (-ev.TimeDiff).Round(time.Second))
		return ev
	}
	if e.cfg.TimeWindow > 0 && ev.TimeDiff > e.cfg.TimeWindow {
		ev.Reason = ReasonOutsideTimeWindow
		ev.Detail = fmt.Sprintf("transaction %s after payment (max %s)", ev.TimeDiff.Round(time.Minute), e.cfg.TimeWindow)
		return ev
	}

	abs := ev.AmountDiff.Abs()
	switch {
	case abs.LessThanOrEqual(e.cfg.ExactTolerance):
		ev.Exact = true
	case ev.AmountDiff.IsNegative():
		if abs.GreaterThanOrEqual(e.cfg.AmountTolerance) {
			ev.Outcome = models.MatchOutcomePartial
			ev.Reason = ReasonPartialPayment
			ev.Detail = MismatchReason(p.Amount, tx.Amount)
			return ev
		}
		ev.IsMismatch = true
	default:
		if !e.cfg.AllowOverpayment && abs.GreaterThan(e.cfg.AmountTolerance) {
			ev.Reason = ReasonAmountOutsideTolerance
			ev.Detail = MismatchReason(p.Amount, tx.Amount)
			return ev
		}
		ev.IsMismatch = true
	}
	if ev.IsMismatch {
		ev.MismatchReason = MismatchReason(p.Amount, tx.Amount)
	}

	// Pool accounts are shared, so a payer name on the request must be
	// confirmed by the sender name on the alert.
	if !dedicated && normalizeName(p.PayerName) != "" {
		if !ev.NameKnown {
			ev.Reason = ReasonSenderNameUnavailable
			ev.Detail = fmt.Sprintf("expected %q, alert carries no sender name", p.PayerName)
			return ev
		}
		if ev.NameScore < e.cfg.NameSimilarityThreshold {
			ev.Reason = ReasonLowNameSimilarity
			ev.Detail = fmt.Sprintf("expected %q, got %q (similarity: %d%%)", p.PayerName, tx.SenderName, ev.NameScore)
			return ev
		}
	}

	ev.Accepted = true
	ev.Outcome = models.MatchOutcomeMatched
	ev.Reason = e.acceptReason(ev)
	return ev
}

// nameScore falls back to the neutral score when either side has no name.
// The neutral score only affects ranking; evaluate decides whether a missing
// name disqualifies.
func (e *Engine) nameScore(expected, received string) (int, bool) {
	if normalizeName(expected) == "" || normalizeName(received) == "" {
		return e.cfg.NeutralNameScore, false
	}
	return NameSimilarity(expected, received), true
}

func (e *Engine) acceptReason(ev Evaluation) string {
	if ev.IsMismatch {
		return ev.MismatchReason
	}
	switch {
	case ev.NameMatched(e.cfg.NameSimilarityThreshold):
		return fmt.Sprintf("exact amount and name match (%d%%)", ev.NameScore)
	case ev.Dedicated:
		return "exact amount on dedicated account"
	default:
		return "exact amount, no payer name on request"
	}
}

// ranksBefore orders accepted candidates: exact amount, then a name at or
// above the threshold, then requests created before the transaction over
// those inside the clock skew, then the closest creation time, then the
// better name, then the smaller amount difference, then the oldest request.
func (e *Engine) ranksBefore(a, b Evaluation) bool {
	if a.Exact != b.Exact {
		return a.Exact
	}
	threshold := e.cfg.NameSimilarityThreshold
	if am, bm := a.NameMatched(threshold), b.NameMatched(threshold); am != bm {
		return am
	}
	if ae, be := a.TimeDiff >= 0, b.TimeDiff >= 0; ae != be {
		return ae
	}
	if at, bt := absDuration(a.TimeDiff), absDuration(b.TimeDiff); at != bt {
		return at < bt
	}
	if a.NameScore != b.NameScore {
		return a.NameScore > b.NameScore
	}
	if c := a.AmountDiff.Abs().Cmp(b.AmountDiff.Abs()); c != 0 {
		return c < 0
	}
	if !a.Payment.CreatedAt.Equal(b.Payment.CreatedAt) {
		return a.Payment.CreatedAt.Before(b.Payment.CreatedAt)
	}
	return a.Payment.ID.String() < b.Payment.ID.String()
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// MismatchReason describes an amount difference for operators, e.g.
// "Amount mismatch: expected ₦10,000.00, received ₦9,800.00 (shortfall: ₦200.00)".
func MismatchReason(expected, received decimal.Decimal) string {
	diff := received.Sub(expected)
	kind := "overpayment"
	if diff.IsNegative() {
		kind = "shortfall"
	}
	return fmt.Sprintf("Amount mismatch: expected ₦%s, received ₦%s (%s: ₦%s)",
		naira(expected), naira(received), kind, naira(diff.Abs()))
}

func naira(d decimal.Decimal) string {
	d = d.Round(2)
	whole, frac, _ := strings.Cut(d.Abs().StringFixed(2), ".")
	n, _ := new(big.Int).SetString(whole, 10)
	out := humanize.BigComma(n) + "." + frac
	if d.IsNegative() {
		return "-" + out
	}
	return out
}
