package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"mpesa-payment-service/internal/models"
	"mpesa-payment-service/internal/store"

	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func TestMapResultCode(t *testing.T) {
	assert.Equal(t, models.StatusSuccess, MapResultCode(0))
	assert.Equal(t, models.StatusCancelled, MapResultCode(1032))
	// Everything else lands in failed: the mapping is total.
	for _, code := range []int{1, 17, 26, 1001, 1019, 1025, 1037, 2001, 9999, -1} {
		assert.Equal(t, models.StatusFailed, MapResultCode(code), "code %d", code)
	}
}

func stkCallbackBody(checkoutRequestId string, resultCode int, withMetadata bool) []byte {
	callback := map[string]interface{}{
		"MerchantRequestID": "29115-34620561-1",
		"CheckoutRequestID": checkoutRequestId,
		"ResultCode":        resultCode,
		"ResultDesc":        "test result",
	}
	if withMetadata {
		callback["CallbackMetadata"] = map[string]interface{}{
			"Item": []map[string]interface{}{
				{"Name": "Amount", "Value": 10},
				{"Name": "MpesaReceiptNumber", "Value": "ABC123"},
				{"Name": "TransactionDate", "Value": 20191219102115},
				{"Name": "PhoneNumber", "Value": 254708374149},
			},
		}
	}
	body, _ := json.Marshal(map[string]interface{}{
		"Body": map[string]interface{}{"stkCallback": callback},
	})
	return body
}

func createPending(t *testing.T, st *store.TransactionStore, checkoutRequestId string) *models.Transaction {
	t.Helper()
	transaction := &models.Transaction{
		TransactionRef:    "MP-TEST-" + checkoutRequestId,
		PhoneNumber:       SandboxTestNumber,
		Amount:            10,
		Status:            models.StatusPending,
		CheckoutRequestId: checkoutRequestId,
	}
	assert.Nil(t, st.Create(transaction))
	return transaction
}

type fakeEnqueuer struct {
	orphanIds []uint
}

func (f *fakeEnqueuer) EnqueueOrphanReconcile(orphanId uint, delay time.Duration) error {
	f.orphanIds = append(f.orphanIds, orphanId)
	return nil
}

func TestHandleCallbackSuccess(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	st := store.NewTransactionStore(testDB)
	svc := NewReconcileService(st, nil)
	pending := createPending(t, st, "ws_CO_SUCCESS_1")

	outcome, err := svc.HandleCallback(context.Background(), stkCallbackBody("ws_CO_SUCCESS_1", 0, true))
	assert.Nil(t, err)
	assert.Equal(t, pending.ID, outcome.TransactionId)
	assert.Equal(t, models.StatusSuccess, outcome.Status)
	assert.Equal(t, StrategyCanonical, outcome.Strategy)
	assert.False(t, outcome.Duplicate)

	stored, err := st.FindByID(pending.ID)
	assert.Nil(t, err)
	assert.Equal(t, models.StatusSuccess, stored.Status)
	assert.NotNil(t, stored.ResultCode)
	assert.Equal(t, 0, *stored.ResultCode)
	assert.NotEmpty(t, stored.CallbackPayload)

	var details models.PaymentDetails
	assert.Nil(t, json.Unmarshal(stored.PaymentDetails, &details))
	assert.Equal(t, "ABC123", details.MpesaReceiptNumber)
	assert.Equal(t, 10.0, details.Amount)
	assert.Equal(t, "254708374149", details.PhoneNumber)
}

func TestHandleCallbackCancelled(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	st := store.NewTransactionStore(testDB)
	svc := NewReconcileService(st, nil)
	pending := createPending(t, st, "ws_CO_CANCEL_1")

	outcome, err := svc.HandleCallback(context.Background(), stkCallbackBody("ws_CO_CANCEL_1", 1032, false))
	assert.Nil(t, err)
	assert.Equal(t, models.StatusCancelled, outcome.Status)

	stored, _ := st.FindByID(pending.ID)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	// No payment details on a non-success outcome.
	assert.Empty(t, stored.PaymentDetails)
}

func TestHandleCallbackIdempotent(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	st := store.NewTransactionStore(testDB)
	svc := NewReconcileService(st, nil)
	pending := createPending(t, st, "ws_CO_DUP_1")

	body := stkCallbackBody("ws_CO_DUP_1", 0, true)

	first, err := svc.HandleCallback(context.Background(), body)
	assert.Nil(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.HandleCallback(context.Background(), body)
	assert.Nil(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Anomaly)
	assert.Equal(t, models.StatusSuccess, second.Status)

	stored, _ := st.FindByID(pending.ID)
	assert.Equal(t, models.StatusSuccess, stored.Status)
}

func TestHandleCallbackConflictingRedelivery(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	st := store.NewTransactionStore(testDB)
	svc := NewReconcileService(st, nil)
	pending := createPending(t, st, "ws_CO_CONFLICT_1")

	_, err := svc.HandleCallback(context.Background(), stkCallbackBody("ws_CO_CONFLICT_1", 0, true))
	assert.Nil(t, err)

	// Same checkout id, different outcome: anomaly, stored outcome kept.
	outcome, err := svc.HandleCallback(context.Background(), stkCallbackBody("ws_CO_CONFLICT_1", 1, false))
	assert.Nil(t, err)
	assert.True(t, outcome.Anomaly)
	assert.Equal(t, models.StatusSuccess, outcome.Status)

	stored, _ := st.FindByID(pending.ID)
	assert.Equal(t, models.StatusSuccess, stored.Status)
	assert.Equal(t, 0, *stored.ResultCode)
}

func TestHandleCallbackOrphan(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	st := store.NewTransactionStore(testDB)
	enqueuer := &fakeEnqueuer{}
	svc := NewReconcileService(st, enqueuer)

	outcome, err := svc.HandleCallback(context.Background(), stkCallbackBody("ws_CO_UNKNOWN_1", 0, true))
	assert.Nil(t, err)
	assert.True(t, outcome.Orphaned)

	var orphan models.OrphanedCallback
	assert.Nil(t, testDB.Where("checkout_request_id = ?", "ws_CO_UNKNOWN_1").First(&orphan).Error)
	assert.Equal(t, 0, orphan.ResultCode)
	assert.False(t, orphan.Resolved)
	assert.NotEmpty(t, orphan.SearchNotes)
	assert.Equal(t, []uint{orphan.ID}, enqueuer.orphanIds)
}

func TestReconcileOrphanResolvesAfterLateCreate(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	st := store.NewTransactionStore(testDB)
	svc := NewReconcileService(st, nil)

	// Callback arrives before the pending write lands.
	outcome, err := svc.HandleCallback(context.Background(), stkCallbackBody("ws_CO_LATE_1", 0, true))
	assert.Nil(t, err)
	assert.True(t, outcome.Orphaned)

	var orphan models.OrphanedCallback
	assert.Nil(t, testDB.Where("checkout_request_id = ?", "ws_CO_LATE_1").First(&orphan).Error)

	// The pending write lands; the delayed task retries.
	pending := createPending(t, st, "ws_CO_LATE_1")
	assert.Nil(t, svc.ReconcileOrphan(context.Background(), orphan.ID))

	stored, _ := st.FindByID(pending.ID)
	assert.Equal(t, models.StatusSuccess, stored.Status)

	assert.Nil(t, testDB.Where("id = ?", orphan.ID).First(&orphan).Error)
	assert.True(t, orphan.Resolved)
	assert.Equal(t, pending.ID, orphan.ResolvedTransactionId)
}

func TestHandleCallbackLegacyRecord(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	st := store.NewTransactionStore(testDB)
	svc := NewReconcileService(st, nil)

	// Legacy document: correlation id only inside the raw gateway response.
	legacy := &models.Transaction{
		TransactionRef:  "MP-LEGACY-1",
		PhoneNumber:     SandboxTestNumber,
		Amount:          10,
		Status:          models.StatusPending,
		GatewayResponse: datatypes.JSON(fmt.Sprintf(`{"CheckoutRequestID":%q,"ResponseCode":"0"}`, "ws_CO_LEGACY_1")),
	}
	assert.Nil(t, st.Create(legacy))

	outcome, err := svc.HandleCallback(context.Background(), stkCallbackBody("ws_CO_LEGACY_1", 0, true))
	assert.Nil(t, err)
	assert.Equal(t, StrategyLegacy, outcome.Strategy)
	assert.Equal(t, legacy.ID, outcome.TransactionId)

	stored, _ := st.FindByID(legacy.ID)
	assert.Equal(t, models.StatusSuccess, stored.Status)
}

func TestSweepStalePending(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	st := store.NewTransactionStore(testDB)
	svc := NewReconcileService(st, nil)

	stale := createPending(t, st, "ws_CO_STALE_1")
	fresh := createPending(t, st, "ws_CO_FRESH_1")

	// Backdate the stale record past the sweep deadline.
	testDB.Exec("UPDATE transactions SET created_at = ? WHERE id = ?",
		time.Now().Add(-3*time.Hour), stale.ID)

	assert.Nil(t, svc.SweepStalePending())

	staleStored, _ := st.FindByID(stale.ID)
	assert.Equal(t, models.StatusError, staleStored.Status)

	freshStored, _ := st.FindByID(fresh.ID)
	assert.Equal(t, models.StatusPending, freshStored.Status)
}
