// Package payments is the payment request state machine. Every transition is
// a compare-and-set on the current status, so concurrent settlers, sweepers
// and admins cannot both win.
package payments

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/events"
	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/repository"
	"payment-reconciliation-engine/internal/services/accounts"
)

// ErrNotPending is returned when a payment left the pending state before the
// transition could be applied.
var ErrNotPending = apperrors.New(apperrors.CategoryConflict, apperrors.CodePaymentNotPending, "payment is no longer pending")

// ErrTransactionSettled is returned when the transaction was already matched
// or marked unmatched by another run. Nothing is written.
var ErrTransactionSettled = apperrors.New(apperrors.CategoryConflict, apperrors.CodeTransactionSettled, "transaction already settled")

const sweepBatchSize = 500

type Service struct {
	db           *gorm.DB
	payments     *repository.PaymentRepository
	transactions *repository.BankTransactionRepository
	attempts     *repository.MatchAttemptRepository
	accounts     *repository.AccountRepository
	allocator    *accounts.Allocator
	publisher    events.Publisher
	log          logger.Logger
	defaultTTL   time.Duration
	now          func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaultTTL sets the expiry applied to requests created without one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) { s.defaultTTL = ttl }
}

func NewService(db *gorm.DB, allocator *accounts.Allocator, publisher events.Publisher, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		db:           db,
		payments:     repository.NewPaymentRepository(db),
		transactions: repository.NewBankTransactionRepository(db),
		attempts:     repository.NewMatchAttemptRepository(db),
		accounts:     repository.NewAccountRepository(db),
		allocator:    allocator,
		publisher:    publisher,
		log:          log.WithComponent("payments"),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewPayment is a request to receive money.
type NewPayment struct {
	Reference     string          `json:"reference"`
	BusinessID    *uuid.UUID      `json:"business_id"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	PayerName     string          `json:"payer_name"`
	TTL           time.Duration   `json:"-"`
	Invoice       bool            `json:"invoice"`
}

// Create stores a pending payment request. Without an explicit account
// number one is allocated from the business's dedicated accounts or the pool.
func (s *Service) Create(ctx context.Context, in NewPayment) (*models.PaymentRequest, error) {
	if !in.Amount.IsPositive() {
		return nil, apperrors.Validation(apperrors.CodeInvalidAmount, "amount must be positive, got %s", in.Amount)
	}
	ref := strings.TrimSpace(in.Reference)
	if ref == "" {
		ref = "PAY-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	}
	existing, err := s.payments.GetByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Newf(apperrors.CategoryConflict, apperrors.CodeInvalidInput, "payment reference %q already exists", ref)
	}

	number := strings.TrimSpace(in.AccountNumber)
	if number == "" {
		acct, err := s.allocator.Assign(ctx, in.BusinessID, in.Invoice)
		if err != nil {
			return nil, err
		}
		number = acct.Number
	}

	now := s.now()
	p := &models.PaymentRequest{
		ID:            uuid.New(),
		Reference:     ref,
		BusinessID:    in.BusinessID,
		AccountNumber: number,
		Amount:        in.Amount.Round(2),
		PayerName:     strings.TrimSpace(in.PayerName),
		Status:        models.PaymentPending,
		CreatedAt:     now,
	}
	ttl := in.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		p.ExpiresAt = &exp
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}
	s.log.WithFields(logger.Fields{"payment": p.ID, "reference": p.Reference, "account": p.AccountNumber}).Info("payment request created")
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error) {
	return s.payments.GetByID(ctx, id)
}

// Search lists payment requests for operators. Every status must be a known
// payment status.
func (s *Service) Search(ctx context.Context, accountNumber string, statuses []string, limit int) ([]models.PaymentRequest, error) {
	for _, st := range statuses {
		switch st {
		case models.PaymentPending, models.PaymentApproved, models.PaymentRejected, models.PaymentExpired:
		default:
			return nil, apperrors.Validation(apperrors.CodeInvalidInput, "unknown payment status %q", st)
		}
	}
	return s.payments.Search(ctx, strings.TrimSpace(accountNumber), statuses, limit)
}

// Attempts lists the audit trail of a payment.
func (s *Service) Attempts(ctx context.Context, id uuid.UUID) ([]models.MatchAttempt, error) {
	if _, err := s.payments.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.attempts.ListForPayment(ctx, id)
}

// Review records a reviewer's verdict on a match attempt.
func (s *Service) Review(ctx context.Context, attemptID uuid.UUID, status, notes, reviewer string) (*models.MatchAttempt, error) {
	a, err := s.attempts.Review(ctx, attemptID, status, strings.TrimSpace(notes), strings.TrimSpace(reviewer), s.now())
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logger.Fields{"attempt": attemptID, "review": status, "reviewer": reviewer}).Info("match attempt reviewed")
	return a, nil
}

// SearchAttempts lists audit rows for the review queue, newest first.
func (s *Service) SearchAttempts(ctx context.Context, outcome, reviewStatus string, limit int) ([]models.MatchAttempt, error) {
	return s.attempts.Search(ctx, outcome, reviewStatus, limit)
}

// Settlement is everything committed together when a transaction settles a payment.
type Settlement struct {
	PaymentID      uuid.UUID
	Transaction    *models.ExtractedTransaction
	ReceivedAmount decimal.Decimal
	IsMismatch     bool
	MismatchReason string
	// Attempts is the full audit set for the transaction, including the
	// winning attempt.
	Attempts []models.MatchAttempt
}

// Approve settles a pending payment with a pending transaction. The status
// change, the transaction link, the account usage counter and the audit rows
// commit together. When the transaction was settled elsewhere nothing is
// written and ErrTransactionSettled is returned; when only the payment moved
// on, ErrNotPending.
func (s *Service) Approve(ctx context.Context, st Settlement) (*models.PaymentRequest, error) {
	if st.Transaction == nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "settlement has no transaction")
	}
	now := s.now()
	txID := st.Transaction.ID
	received := st.ReceivedAmount
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		claimed, err := s.transactions.WithTx(db).SetMatchResult(ctx, txID, models.TransactionMatchMatched, &st.PaymentID)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrTransactionSettled
		}
		ok, err := s.payments.WithTx(db).ApprovePending(ctx, st.PaymentID, now, map[string]interface{}{
			"status":                 models.PaymentApproved,
			"is_mismatch":            st.IsMismatch,
			"mismatch_reason":        st.MismatchReason,
			"received_amount":        received,
			"matched_transaction_id": txID,
			"matched_at":             now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotPending
		}
		if err := s.accounts.WithTx(db).IncrementUsage(ctx, st.Transaction.AccountNumber); err != nil {
			return err
		}
		return s.attempts.WithTx(db).CreateAll(ctx, st.Attempts)
	})
	if err != nil {
		return nil, err
	}

	p, err := s.payments.GetByID(ctx, st.PaymentID)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logger.Fields{
		"payment":     p.ID,
		"transaction": txID,
		"mismatch":    p.IsMismatch,
	}).Info("payment approved")

	s.publish(ctx, events.Event{Type: events.PaymentMatched, PaymentID: p.ID, TransactionID: &txID, Amount: received, IsMismatch: p.IsMismatch, OccurredAt: now})
	s.publish(ctx, events.Event{
		Type:          events.PaymentApproved,
		PaymentID:     p.ID,
		TransactionID: &txID,
		Amount:        p.Amount,
		IsMismatch:    p.IsMismatch,
		OccurredAt:    now,
		Data:          map[string]interface{}{"mismatch_reason": p.MismatchReason, "received_amount": received.StringFixed(2)},
	})
	return p, nil
}

// RecordUnmatched stores the audit rows of a transaction that settled
// nothing. It returns ErrTransactionSettled when another run finished the
// transaction first.
func (s *Service) RecordUnmatched(ctx context.Context, tx *models.ExtractedTransaction, attempts []models.MatchAttempt) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		claimed, err := s.transactions.WithTx(db).SetMatchResult(ctx, tx.ID, models.TransactionMatchUnmatched, nil)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrTransactionSettled
		}
		return s.attempts.WithTx(db).CreateAll(ctx, attempts)
	})
}

// Reject is an admin decision. It applies to pending payments and to
// approved ones found to be wrong.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason, actor string) (*models.PaymentRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "rejection reason is required")
	}
	now := s.now()
	ok, err := s.payments.TransitionFromStatus(ctx, id,
		[]string{models.PaymentPending, models.PaymentApproved},
		map[string]interface{}{
			"status":           models.PaymentRejected,
			"rejection_reason": reason,
			"rejected_by":      actor,
			"rejected_at":      now,
		})
	if err != nil {
		return nil, err
	}
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.Newf(apperrors.CategoryConflict, apperrors.CodeInvalidTransition,
			"cannot reject a %s payment", p.Status).WithContext("payment", id)
	}
	s.log.WithFields(logger.Fields{"payment": id, "actor": actor}).Info("payment rejected")
	s.publish(ctx, events.Event{
		Type:          events.PaymentRejected,
		PaymentID:     id,
		TransactionID: p.MatchedTransactionID,
		Amount:        p.Amount,
		OccurredAt:    now,
		Data:          map[string]interface{}{"reason": reason, "actor": actor},
	})
	return p, nil
}

// ExpireStale moves every pending payment past its expiry to expired and
// returns how many it moved. Payments settled concurrently are left alone.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()
	expired := 0
	for {
		stale, err := s.payments.FindExpiredPending(ctx, now, sweepBatchSize)
		if err != nil {
			return expired, err
		}
		moved := 0
		for _, p := range stale {
			ok, err := s.payments.TransitionFromStatus(ctx, p.ID, []string{models.PaymentPending},
				map[string]interface{}{"status": models.PaymentExpired, "expired_at": now})
			if err != nil {
				return expired, err
			}
			if !ok {
				continue
			}
			moved++
			s.publish(ctx, events.Event{Type: events.PaymentExpired, PaymentID: p.ID, Amount: p.Amount, OccurredAt: now})
		}
		expired += moved
		if len(stale) < sweepBatchSize || moved == 0 {
			break
		}
	}
	if expired > 0 {
		s.log.WithField("count", expired).Info("expired stale payments")
	}
	return expired, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.WithError(err).WithFields(logger.Fields{"event": e.Type, "payment": e.PaymentID}).Error("event delivery failed")
	}
}
