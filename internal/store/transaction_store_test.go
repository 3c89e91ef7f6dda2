package store

import (
	"log"
	"os"
	"testing"
	"time"

	"mpesa-payment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NOTE: These tests require a running MySQL instance (DATABASE_URL) and are
// skipped otherwise, matching the rest of the integration suite.

var testDB *gorm.DB

func TestMain(m *testing.M) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Println("Skipping DB tests: DATABASE_URL not set")
		os.Exit(m.Run())
	}

	var err error
	testDB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(m.Run())
	}

	testDB.AutoMigrate(&models.Transaction{}, &models.OrphanedCallback{}, &models.CallbackLog{})
	code := m.Run()
	testDB.Exec("DELETE FROM transactions")
	os.Exit(code)
}

func cleanup() {
	if testDB != nil {
		testDB.Exec("DELETE FROM transactions")
	}
}

func TestCreateAssignsIdAndStatus(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	st := NewTransactionStore(testDB)
	transaction := &models.Transaction{
		TransactionRef: "MP-STORE-1",
		PhoneNumber:    "254708374149",
		Amount:         25,
	}
	assert.Nil(t, st.Create(transaction))
	assert.NotEmpty(t, transaction.ID)
	assert.Equal(t, models.StatusPending, transaction.Status)
}

func TestUpdateNotFound(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}

	st := NewTransactionStore(testDB)
	err := st.Update("no-such-id", map[string]interface{}{"status": models.StatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRefreshesUpdatedAt(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	st := NewTransactionStore(testDB)
	transaction := &models.Transaction{
		TransactionRef: "MP-STORE-2",
		PhoneNumber:    "254708374149",
		Amount:         25,
	}
	assert.Nil(t, st.Create(transaction))

	testDB.Exec("UPDATE transactions SET updated_at = ? WHERE id = ?",
		time.Now().Add(-time.Hour), transaction.ID)

	assert.Nil(t, st.Update(transaction.ID, map[string]interface{}{"result_desc": "touched"}))

	stored, err := st.FindByID(transaction.ID)
	assert.Nil(t, err)
	assert.WithinDuration(t, time.Now(), stored.UpdatedAt, time.Minute)
}

func TestListByMerchantFilters(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	st := NewTransactionStore(testDB)
	merchantA := "merchant-a"
	merchantB := "merchant-b"

	seed := []models.Transaction{
		{MerchantId: &merchantA, TransactionRef: "MP-L1", PhoneNumber: "254708374149", Amount: 10, Status: models.StatusPending},
		{MerchantId: &merchantA, TransactionRef: "MP-L2", PhoneNumber: "254708374149", Amount: 20, Status: models.StatusSuccess},
		{MerchantId: &merchantB, TransactionRef: "MP-L3", PhoneNumber: "254708374149", Amount: 30, Status: models.StatusSuccess},
	}
	for i := range seed {
		assert.Nil(t, st.Create(&seed[i]))
	}

	all, total, err := st.ListByMerchant(merchantA, ListFilters{})
	assert.Nil(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)

	successes, total, err := st.ListByMerchant(merchantA, ListFilters{Status: models.StatusSuccess})
	assert.Nil(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "MP-L2", successes[0].TransactionRef)

	future := time.Now().Add(time.Hour)
	none, total, err := st.ListByMerchant(merchantA, ListFilters{From: &future})
	assert.Nil(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, none)
}

func TestUpdateIfPendingIsAtomic(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	st := NewTransactionStore(testDB)
	transaction := &models.Transaction{
		TransactionRef:    "MP-STORE-3",
		PhoneNumber:       "254708374149",
		Amount:            25,
		CheckoutRequestId: "ws_CO_ATOMIC_1",
	}
	assert.Nil(t, st.Create(transaction))

	updated, err := st.UpdateIfPending(transaction.ID, map[string]interface{}{"status": models.StatusSuccess})
	assert.Nil(t, err)
	assert.True(t, updated)

	// Second transition attempt affects zero rows.
	updated, err = st.UpdateIfPending(transaction.ID, map[string]interface{}{"status": models.StatusFailed})
	assert.Nil(t, err)
	assert.False(t, updated)

	stored, _ := st.FindByID(transaction.ID)
	assert.Equal(t, models.StatusSuccess, stored.Status)
}
