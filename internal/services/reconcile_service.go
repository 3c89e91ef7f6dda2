package services

import (
	"context"
	"errors"
	"log"
	"time"

	"mpesa-payment-service/internal/daraja"
	"mpesa-payment-service/internal/models"
	"mpesa-payment-service/internal/store"

	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
)

// ResultCodeCancelled is the Daraja code for the payer dismissing the PIN
// prompt.
const ResultCodeCancelled = 1032

// MapResultCode maps a gateway result code to a transaction status. Total
// function: every code lands in exactly one bucket.
func MapResultCode(code int) string {
	switch code {
	case 0:
		return models.StatusSuccess
	case ResultCodeCancelled:
		return models.StatusCancelled
	default:
		return models.StatusFailed
	}
}

// OrphanEnqueuer schedules a later re-reconciliation attempt for an
// orphaned callback. Implemented by the asynq-backed worker client; may be
// nil when no worker is wired.
type OrphanEnqueuer interface {
	EnqueueOrphanReconcile(orphanId uint, delay time.Duration) error
}

type ReconcileService struct {
	Store    *store.TransactionStore
	Lookup   *CorrelationLookup
	Enqueuer OrphanEnqueuer

	// StalePendingAge is how long a pending transaction may wait for a
	// callback before the sweep moves it to error.
	StalePendingAge time.Duration
}

func NewReconcileService(st *store.TransactionStore, enqueuer OrphanEnqueuer) *ReconcileService {
	return &ReconcileService{
		Store:           st,
		Lookup:          NewCorrelationLookup(st),
		Enqueuer:        enqueuer,
		StalePendingAge: 2 * time.Hour,
	}
}

// ReconcileOutcome reports what a callback did, for logging and tests.
type ReconcileOutcome struct {
	TransactionId string
	Status        string
	Strategy      int
	Duplicate     bool
	Anomaly       bool
	Orphaned      bool
}

// HandleCallback parses an STK result callback and applies it to the
// matching transaction. Returns daraja.ErrMalformedCallback for a bad
// envelope; any other error is a storage failure the HTTP layer surfaces as
// 500 so the gateway redelivers.
func (s *ReconcileService) HandleCallback(ctx context.Context, rawBody []byte) (*ReconcileOutcome, error) {
	result, err := daraja.ParseSTKCallback(rawBody)
	if err != nil {
		return nil, err
	}

	newStatus := MapResultCode(result.ResultCode)

	transaction, strategy, err := s.Lookup.Find(result.CheckoutRequestID)
	if errors.Is(err, store.ErrNotFound) {
		return s.recordOrphan(result, rawBody)
	}
	if err != nil {
		return nil, err
	}

	if models.IsTerminal(transaction.Status) {
		return s.handleRedelivery(transaction, result, rawBody, newStatus, strategy)
	}

	fields := map[string]interface{}{
		"status":           newStatus,
		"result_code":      result.ResultCode,
		"result_desc":      result.ResultDesc,
		"callback_payload": datatypes.JSON(rawBody),
	}
	if strategy != StrategyCanonical {
		// Legacy record matched through a fallback strategy: backfill the
		// canonical column so the next lookup is a strategy-1 hit.
		fields["checkout_request_id"] = result.CheckoutRequestID
	}
	if newStatus == models.StatusSuccess {
		amount, _ := result.Amount()
		fields["payment_details"] = marshalJSON(models.PaymentDetails{
			MpesaReceiptNumber: result.ReceiptNumber(),
			Amount:             amount,
			PhoneNumber:        result.PhoneNumber(),
			TransactionDate:    result.TransactionDate(),
		})
	}

	updated, err := s.Store.UpdateIfPending(transaction.ID, fields)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Lost the race to a concurrent duplicate delivery; the transaction
		// is terminal now. Re-read and fall through to redelivery handling.
		current, err := s.Store.FindByID(transaction.ID)
		if err != nil {
			return nil, err
		}
		return s.handleRedelivery(current, result, rawBody, newStatus, strategy)
	}

	s.logCallback(result.CheckoutRequestID, string(rawBody), "applied "+newStatus, 1)

	return &ReconcileOutcome{
		TransactionId: transaction.ID,
		Status:        newStatus,
		Strategy:      strategy,
	}, nil
}

// handleRedelivery deals with a callback for an already-terminal
// transaction. Same outcome: idempotent no-op. Different outcome: the
// stored state is kept and the conflict logged for an operator.
func (s *ReconcileService) handleRedelivery(transaction *models.Transaction, result *daraja.CallbackResult, rawBody []byte, newStatus string, strategy int) (*ReconcileOutcome, error) {
	if transaction.Status == newStatus {
		s.logCallback(result.CheckoutRequestID, string(rawBody), "duplicate delivery, no-op", 1)
		return &ReconcileOutcome{
			TransactionId: transaction.ID,
			Status:        transaction.Status,
			Strategy:      strategy,
			Duplicate:     true,
		}, nil
	}

	storedCode := -1
	if transaction.ResultCode != nil {
		storedCode = *transaction.ResultCode
	}
	log.Printf("Callback anomaly: transaction %s is %s (code %d) but gateway redelivered code %d (%s); keeping stored outcome",
		transaction.ID, transaction.Status, storedCode, result.ResultCode, result.ResultDesc)
	s.logCallback(result.CheckoutRequestID, string(rawBody), "conflicting redelivery ignored", 0)

	return &ReconcileOutcome{
		TransactionId: transaction.ID,
		Status:        transaction.Status,
		Strategy:      strategy,
		Duplicate:     true,
		Anomaly:       true,
	}, nil
}

// recordOrphan persists the unmatched callback and schedules a delayed
// retry, covering the rare case where the callback beats the pending write.
// Never fails the acknowledgement: orphan persistence is best effort.
func (s *ReconcileService) recordOrphan(result *daraja.CallbackResult, rawBody []byte) (*ReconcileOutcome, error) {
	orphan := &models.OrphanedCallback{
		CheckoutRequestId: result.CheckoutRequestID,
		ResultCode:        result.ResultCode,
		ResultDesc:        result.ResultDesc,
		Payload:           datatypes.JSON(rawBody),
		SearchNotes:       SearchNotes(result.CheckoutRequestID),
	}

	if err := s.Store.CreateOrphan(orphan); err != nil {
		log.Printf("Failed to persist orphaned callback for %s: %v", result.CheckoutRequestID, err)
	} else if s.Enqueuer != nil {
		if err := s.Enqueuer.EnqueueOrphanReconcile(orphan.ID, 30*time.Second); err != nil {
			log.Printf("Failed to enqueue orphan reconcile for %d: %v", orphan.ID, err)
		}
	}

	s.logCallback(result.CheckoutRequestID, string(rawBody), "orphaned: no matching transaction", 0)

	return &ReconcileOutcome{
		Status:   MapResultCode(result.ResultCode),
		Orphaned: true,
	}, nil
}

// ReconcileOrphan retries matching a previously orphaned callback, used by
// the background worker after the initiation write had time to land.
func (s *ReconcileService) ReconcileOrphan(ctx context.Context, orphanId uint) error {
	orphan, err := s.Store.FindOrphanByID(orphanId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if orphan.Resolved {
		return nil
	}

	outcome, err := s.HandleCallback(ctx, []byte(orphan.Payload))
	if err != nil {
		return err
	}
	if outcome.Orphaned {
		// Still no match; leave the record for operator investigation.
		return nil
	}

	return s.Store.ResolveOrphan(orphan.ID, outcome.TransactionId)
}

// SweepStalePending moves pending transactions past the callback deadline
// to error so merchants are not left watching a spinner forever.
func (s *ReconcileService) SweepStalePending() error {
	cutoff := time.Now().Add(-s.StalePendingAge)
	stale, err := s.Store.FindPendingOlderThan(cutoff)
	if err != nil {
		return err
	}

	for _, t := range stale {
		updated, err := s.Store.UpdateIfPending(t.ID, map[string]interface{}{
			"status":      models.StatusError,
			"result_desc": "no callback received before deadline",
		})
		if err != nil {
			log.Printf("Failed to expire stale transaction %s: %v", t.ID, err)
			continue
		}
		if updated {
			log.Printf("Expired stale pending transaction %s (created %s)", t.ID, t.CreatedAt.Format(time.RFC3339))
		}
	}
	return nil
}

// StartScheduler initializes the cron job for the stale-pending sweep.
func (s *ReconcileService) StartScheduler() {
	c := cron.New()
	// Run every 10 minutes: "*/10 * * * *"
	_, err := c.AddFunc("*/10 * * * *", func() {
		log.Println("Running scheduled stale-pending sweep...")
		if err := s.SweepStalePending(); err != nil {
			log.Printf("Error in SweepStalePending: %v", err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling stale-pending sweep: %v", err)
		return
	}
	c.Start()
	log.Println("ReconcileService scheduler started (every 10 minutes)")
}

func (s *ReconcileService) logCallback(checkoutRequestId, request, response string, status int) {
	entry := &models.CallbackLog{
		Request:       request,
		Response:      response,
		Status:        status,
		RequestType:   "Webhook",
		TransactionId: checkoutRequestId,
		PaymentMethod: "Mpesa",
	}
	if err := s.Store.LogCallback(entry); err != nil {
		log.Printf("Failed to write callback log for %s: %v", checkoutRequestId, err)
	}
}
