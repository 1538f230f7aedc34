package matching

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/services/accounts"
	"payment-reconciliation-engine/internal/services/payments"
)

// CandidateSource lists the pending, unexpired payments for an account.
type CandidateSource interface {
	FindPendingForAccount(ctx context.Context, accountNumber string, now time.Time) ([]models.PaymentRequest, error)
}

// ScopeResolver tells which business an account number belongs to.
type ScopeResolver interface {
	AccountsForMatching(ctx context.Context, number string) (*accounts.Scope, error)
}

// Settler commits the outcome of a match.
type Settler interface {
	Approve(ctx context.Context, st payments.Settlement) (*models.PaymentRequest, error)
	RecordUnmatched(ctx context.Context, tx *models.ExtractedTransaction, attempts []models.MatchAttempt) error
}

// Result is what one Match call decided and recorded.
type Result struct {
	Payment     *models.PaymentRequest
	Attempts    []models.MatchAttempt
	Evaluations []Evaluation
	// Settled is set when the transaction had already been matched or
	// marked unmatched by another run. Nothing was recorded.
	Settled bool
}

func (r *Result) Matched() bool {
	return r.Payment != nil
}

type Matcher struct {
	engine     *Engine
	candidates CandidateSource
	scopes     ScopeResolver
	settler    Settler
	log        logger.Logger
	now        func() time.Time
}

func NewMatcher(engine *Engine, candidates CandidateSource, scopes ScopeResolver, settler Settler, log logger.Logger) *Matcher {
	return &Matcher{
		engine:     engine,
		candidates: candidates,
		scopes:     scopes,
		settler:    settler,
		log:        log.WithComponent("matcher"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Match evaluates tx against the pending payments on its account and
// settles the best acceptable one. Every call records at least one attempt.
// When the best candidate was settled by someone else in the meantime it is
// recorded as no longer pending and the next acceptable candidate is tried.
// When the transaction itself was settled by another run, Match stops and
// returns a Result with Settled set.
func (m *Matcher) Match(ctx context.Context, tx *models.ExtractedTransaction) (*Result, error) {
	start := time.Now()
	log := m.log.WithFields(logger.Fields{"transaction": tx.ID, "account": tx.AccountNumber, "amount": tx.Amount.StringFixed(2)})

	var candidates []models.PaymentRequest
	if tx.AccountNumber != "" {
		var err error
		candidates, err = m.candidates.FindPendingForAccount(ctx, tx.AccountNumber, m.now())
		if err != nil {
			return nil, err
		}
	}
	if len(candidates) == 0 {
		attempt := m.baseAttempt(tx, nil, start)
		attempt.Outcome = models.MatchOutcomeUnmatched
		attempt.Reason = ReasonNoCandidates
		attempts := []models.MatchAttempt{attempt}
		if err := m.settler.RecordUnmatched(ctx, tx, attempts); err != nil {
			if isSettled(err) {
				log.Warn("transaction already settled by another run")
				return &Result{Settled: true}, nil
			}
			return nil, err
		}
		log.Info("no pending payment for account")
		return &Result{Attempts: attempts}, nil
	}

	scope, err := m.scopes.AccountsForMatching(ctx, tx.AccountNumber)
	if err != nil {
		return nil, err
	}
	evals := m.engine.Evaluate(tx, candidates, scope)
	res := &Result{Evaluations: evals}

	lost := make(map[int]bool)
	for i := range evals {
		if !evals[i].Accepted {
			break
		}
		attempts := m.attempts(tx, evals, i, lost, start)
		p, err := m.settler.Approve(ctx, payments.Settlement{
			PaymentID:      evals[i].Payment.ID,
			Transaction:    tx,
			ReceivedAmount: tx.Amount,
			IsMismatch:     evals[i].IsMismatch,
			MismatchReason: evals[i].MismatchReason,
			Attempts:       attempts,
		})
		if err == nil {
			res.Payment = p
			res.Attempts = attempts
			log.WithFields(logger.Fields{"payment": p.ID, "mismatch": p.IsMismatch, "candidates": len(evals)}).Info("transaction matched")
			return res, nil
		}
		if isSettled(err) {
			log.Warn("transaction already settled by another run")
			res.Settled = true
			return res, nil
		}
		if apperrors.CodeOf(err) != apperrors.CodePaymentNotPending {
			return nil, err
		}
		log.WithField("payment", evals[i].Payment.ID).Warn("candidate settled concurrently, trying next")
		lost[i] = true
	}

	res.Attempts = m.attempts(tx, evals, -1, lost, start)
	if err := m.settler.RecordUnmatched(ctx, tx, res.Attempts); err != nil {
		if isSettled(err) {
			log.Warn("transaction already settled by another run")
			res.Attempts = nil
			res.Settled = true
			return res, nil
		}
		return nil, err
	}
	log.WithField("candidates", len(evals)).Info("no acceptable candidate")
	return res, nil
}

func isSettled(err error) bool {
	return apperrors.CodeOf(err) == apperrors.CodeTransactionSettled
}

// attempts builds the audit rows for one settlement try. winner is the index
// being settled, or -1 when nothing is.
func (m *Matcher) attempts(tx *models.ExtractedTransaction, evals []Evaluation, winner int, lost map[int]bool, start time.Time) []models.MatchAttempt {
	out := make([]models.MatchAttempt, 0, len(evals))
	for i := range evals {
		ev := &evals[i]
		a := m.baseAttempt(tx, ev, start)
		switch {
		case i == winner:
			a.Outcome = models.MatchOutcomeMatched
			a.Reason = ev.Reason
		case lost[i]:
			a.Outcome = models.MatchOutcomeRejected
			a.Reason = ReasonNoLongerPending
		case ev.Accepted && winner >= 0:
			a.Outcome = models.MatchOutcomeRejected
			a.Reason = ReasonOutranked
		case ev.Accepted:
			// Only reachable when every accepted candidate was lost.
			a.Outcome = models.MatchOutcomeRejected
			a.Reason = ReasonNoLongerPending
		default:
			a.Outcome = ev.Outcome
			a.Reason = ev.Reason
		}
		a.Details = m.details(ev, i)
		out = append(out, a)
	}
	return out
}

func (m *Matcher) baseAttempt(tx *models.ExtractedTransaction, ev *Evaluation, start time.Time) models.MatchAttempt {
	a := models.MatchAttempt{
		ID:                     uuid.New(),
		TransactionID:          tx.ID,
		ExtractedAmount:        tx.Amount,
		ExtractedName:          tx.SenderName,
		ExtractedAccountNumber: tx.AccountNumber,
		TransactionTime:        tx.OccurredAt,
		ExtractionMethod:       string(tx.ExtractionMethod),
		ProcessingTimeMs:       float64(time.Since(start).Microseconds()) / 1000,
		ReviewStatus:           models.ReviewPending,
	}
	if ev == nil {
		return a
	}
	p := ev.Payment
	pid, amount, created := p.ID, p.Amount, p.CreatedAt
	diff := ev.AmountDiff.Abs()
	score := ev.NameScore
	minutes := int(math.Round(ev.TimeDiff.Minutes()))
	a.PaymentRequestID = &pid
	a.PaymentAmount = &amount
	a.PaymentPayerName = p.PayerName
	a.PaymentAccountNumber = p.AccountNumber
	a.PaymentCreatedAt = &created
	a.AmountDiff = &diff
	a.NameSimilarityPercent = &score
	a.TimeDiffMinutes = &minutes
	return a
}

func (m *Matcher) details(ev *Evaluation, rank int) datatypes.JSON {
	d := map[string]interface{}{
		"rank":        rank + 1,
		"exact":       ev.Exact,
		"name_known":  ev.NameKnown,
		"dedicated":   ev.Dedicated,
		"signed_diff": ev.AmountDiff.StringFixed(2),
		"is_mismatch": ev.IsMismatch,
	}
	if ev.Detail != "" {
		d["detail"] = ev.Detail
	}
	if ev.MismatchReason != "" {
		d["mismatch_reason"] = ev.MismatchReason
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
