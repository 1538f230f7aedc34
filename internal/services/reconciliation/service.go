// Package reconciliation runs a bank notification through extraction,
// deduplication, matching and settlement.
package reconciliation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/repository"
	"payment-reconciliation-engine/internal/services/dedup"
	"payment-reconciliation-engine/internal/services/extraction"
	"payment-reconciliation-engine/internal/services/matching"
)

const (
	StatusExtractionFailed = "extraction_failed"
	StatusDuplicate        = "duplicate"
	StatusUnmatched        = "unmatched"
	StatusMatched          = "matched"
)

// Outcome is the result of processing one email.
type Outcome struct {
	Status      string                       `json:"status"`
	EmailID     uuid.UUID                    `json:"email_id"`
	Reason      string                       `json:"reason,omitempty"`
	Resumed     bool                         `json:"resumed,omitempty"`
	Transaction *models.ExtractedTransaction `json:"transaction,omitempty"`
	Payment     *models.PaymentRequest       `json:"payment,omitempty"`
	Attempts    []models.MatchAttempt        `json:"attempts,omitempty"`
}

// Progress is the in-memory view of a running batch.
type Progress struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Status    string `json:"status"`
}

type Service struct {
	db           *gorm.DB
	extractor    *extraction.Extractor
	dedup        *dedup.Store
	matcher      *matching.Matcher
	emails       *repository.InboundEmailRepository
	transactions *repository.BankTransactionRepository
	log          logger.Logger
	resumeAfter  time.Duration
	now          func() time.Time

	progressCache sync.Map // batchID -> *Progress
}

func NewService(
	db *gorm.DB,
	extractor *extraction.Extractor,
	matcher *matching.Matcher,
	resumeAfter time.Duration,
	log logger.Logger,
) *Service {
	return &Service{
		db:           db,
		extractor:    extractor,
		dedup:        dedup.NewStore(db),
		matcher:      matcher,
		emails:       repository.NewInboundEmailRepository(db),
		transactions: repository.NewBankTransactionRepository(db),
		log:          log.WithComponent("reconciliation"),
		resumeAfter:  resumeAfter,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Process handles one email end to end. Extraction failures and duplicates
// are outcomes, not errors; an error means storage failed and the email
// should be delivered again.
func (s *Service) Process(ctx context.Context, email extraction.RawEmail) (*Outcome, error) {
	return s.process(ctx, email, nil)
}

func (s *Service) process(ctx context.Context, email extraction.RawEmail, batchID *uuid.UUID) (*Outcome, error) {
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = s.now()
	}
	rec := &models.InboundEmail{
		MessageID:   email.MessageID,
		FromAddress: email.From,
		Subject:     email.Subject,
		ReceivedAt:  email.ReceivedAt.UTC(),
		Status:      models.EmailReceived,
		BatchID:     batchID,
	}
	if err := s.emails.Create(ctx, rec); err != nil {
		return nil, err
	}
	log := s.log.WithFields(logger.Fields{"email": rec.ID, "from": email.From})
	out := &Outcome{EmailID: rec.ID}

	res, err := s.extractor.Extract(email)
	if err != nil {
		if !apperrors.IsCategory(err, apperrors.CategoryExtraction) {
			return nil, err
		}
		out.Status = StatusExtractionFailed
		out.Reason = err.Error()
		log.WithError(err).Warn("extraction failed")
		if ferr := s.emails.Finish(ctx, rec.ID, models.EmailFailed, out.Reason, nil); ferr != nil {
			return nil, ferr
		}
		return out, nil
	}

	fp := dedup.Fingerprint(res.AccountNumber, res.Amount, res.ValueDate, res.Narration)
	tx := res.Transaction(fp, &rec.ID)
	accepted, existing, err := s.dedup.Accept(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !accepted {
		if !dedup.Resumable(existing, s.now(), s.resumeAfter) {
			out.Status = StatusDuplicate
			out.Transaction = existing
			out.Reason = "transaction already received"
			log.WithField("transaction", existing.ID).Info("duplicate transaction dropped")
			if err := s.emails.Finish(ctx, rec.ID, models.EmailDuplicate, out.Reason, &existing.ID); err != nil {
				return nil, err
			}
			return out, nil
		}
		log.WithField("transaction", existing.ID).Warn("resuming unfinished transaction")
		tx = existing
		out.Resumed = true
	}
	out.Transaction = tx

	result, err := s.matcher.Match(ctx, tx)
	if err != nil {
		return nil, err
	}
	if result.Settled {
		out.Status = StatusDuplicate
		out.Reason = "transaction settled by another delivery"
		log.WithField("transaction", tx.ID).Info("transaction settled concurrently")
		if err := s.emails.Finish(ctx, rec.ID, models.EmailDuplicate, out.Reason, &tx.ID); err != nil {
			return nil, err
		}
		return out, nil
	}
	out.Attempts = result.Attempts
	out.Status = StatusUnmatched
	if result.Matched() {
		out.Status = StatusMatched
		out.Payment = result.Payment
	}
	if err := s.emails.Finish(ctx, rec.ID, models.EmailProcessed, "", &tx.ID); err != nil {
		return nil, err
	}
	return out, nil
}

// ProcessBatch runs emails through Process on a bounded worker pool and
// records the run as an IngestionBatch. A storage failure on one email is
// counted and logged; the rest of the batch continues.
func (s *Service) ProcessBatch(ctx context.Context, source string, emails []extraction.RawEmail, workers int) (*models.IngestionBatch, error) {
	batch, err := s.StartBatch(ctx, source, len(emails))
	if err != nil {
		return nil, err
	}
	return batch, s.RunBatch(ctx, batch, emails, workers)
}

// StartBatch stores a new batch so callers can hand out its ID before the
// emails are processed.
func (s *Service) StartBatch(ctx context.Context, source string, total int) (*models.IngestionBatch, error) {
	batch := &models.IngestionBatch{
		Source:    source,
		Total:     total,
		Status:    "processing",
		StartedAt: s.now(),
	}
	if err := s.emails.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}
	s.progressCache.Store(batch.ID, &Progress{Total: total, Status: batch.Status})
	return batch, nil
}

// RunBatch processes emails for a batch created by StartBatch.
func (s *Service) RunBatch(ctx context.Context, batch *models.IngestionBatch, emails []extraction.RawEmail, workers int) error {
	if workers < 1 {
		workers = 1
	}
	log := s.log.WithFields(logger.Fields{"batch": batch.ID, "source": batch.Source, "total": len(emails)})
	log.Info("batch started")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range emails {
		email := emails[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			out, err := s.process(gctx, email, &batch.ID)

			mu.Lock()
			defer mu.Unlock()
			batch.Processed++
			s.progressCache.Store(batch.ID, &Progress{Processed: batch.Processed, Total: batch.Total, Status: batch.Status})
			if err != nil {
				batch.Errors++
				log.WithError(err).WithField("message_id", email.MessageID).Error("email processing failed")
				return nil
			}
			switch out.Status {
			case StatusMatched:
				batch.Matched++
			case StatusUnmatched:
				batch.Unmatched++
			case StatusDuplicate:
				batch.Duplicates++
			case StatusExtractionFailed:
				batch.Failed++
			}
			return nil
		})
	}
	waitErr := g.Wait()

	stats, err := s.BatchStats(ctx, batch.ID)
	if err == nil {
		if b, merr := json.Marshal(stats); merr == nil {
			batch.Stats = b
		}
	}
	if err := s.emails.CompleteBatch(ctx, batch, s.now()); err != nil {
		return err
	}
	s.progressCache.Store(batch.ID, &Progress{Processed: batch.Processed, Total: batch.Total, Status: batch.Status})
	log.WithFields(logger.Fields{
		"matched":    batch.Matched,
		"unmatched":  batch.Unmatched,
		"duplicates": batch.Duplicates,
		"failed":     batch.Failed,
		"errors":     batch.Errors,
	}).Info("batch completed")
	return waitErr
}

// GetBatch returns a stored batch.
func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*models.IngestionBatch, error) {
	return s.emails.GetBatch(ctx, id)
}

// BatchProgress reports progress of a batch started by this process.
func (s *Service) BatchProgress(id uuid.UUID) (Progress, bool) {
	v, ok := s.progressCache.Load(id)
	if !ok {
		return Progress{}, false
	}
	return *v.(*Progress), true
}

// BatchStats summarizes a batch's emails by ingestion status.
type BatchStats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}

type statRow struct {
	Status string
	Count  int64
}

func (s *Service) BatchStats(ctx context.Context, batchID uuid.UUID) (BatchStats, error) {
	var rows []statRow
	err := s.db.WithContext(ctx).Model(&models.InboundEmail{}).
		Where("batch_id = ?", batchID).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return BatchStats{}, apperrors.Storage(err, "batch stats")
	}
	stats := BatchStats{ByStatus: make(map[string]int64, len(rows))}
	for _, r := range rows {
		stats.Total += r.Count
		stats.ByStatus[r.Status] = r.Count
	}
	return stats, nil
}
