package store

import (
	"errors"
	"time"

	"mpesa-payment-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("transaction not found")

// TransactionStore owns all durable reads and writes for the payment
// ledger. No in-process caching: every read is a fresh query.
type TransactionStore struct {
	DB *gorm.DB
}

func NewTransactionStore(db *gorm.DB) *TransactionStore {
	return &TransactionStore{DB: db}
}

// Create inserts a new transaction, assigning the id if the caller did not.
func (s *TransactionStore) Create(t *models.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.StatusPending
	}
	return s.DB.Create(t).Error
}

// Update merges fields into an existing transaction. updated_at is refreshed
// by gorm on every Updates call.
func (s *TransactionStore) Update(id string, fields map[string]interface{}) error {
	res := s.DB.Model(&models.Transaction{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateIfPending applies fields only while the transaction is still
// pending. The WHERE clause makes the status transition atomic: a
// concurrent duplicate callback affects zero rows instead of double-writing.
func (s *TransactionStore) UpdateIfPending(id string, fields map[string]interface{}) (bool, error) {
	res := s.DB.Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *TransactionStore) FindByID(id string) (*models.Transaction, error) {
	var t models.Transaction
	err := s.DB.Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindByCheckoutRequestID is the canonical correlation query: an exact,
// indexed match on the checkout_request_id column.
func (s *TransactionStore) FindByCheckoutRequestID(checkoutRequestId string) (*models.Transaction, error) {
	var t models.Transaction
	err := s.DB.Where("checkout_request_id = ?", checkoutRequestId).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindByLegacyResponseID matches documents written before the correlation id
// had a canonical column, where the id lives only inside the raw gateway
// response.
func (s *TransactionStore) FindByLegacyResponseID(checkoutRequestId string) (*models.Transaction, error) {
	var t models.Transaction
	err := s.DB.
		Where("JSON_UNQUOTE(JSON_EXTRACT(gateway_response, '$.CheckoutRequestID')) = ?", checkoutRequestId).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type ListFilters struct {
	Status string
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

// ListByMerchant returns a merchant's transactions, newest first, with
// status and date-range filtering.
func (s *TransactionStore) ListByMerchant(merchantId string, f ListFilters) ([]models.Transaction, int64, error) {
	query := s.DB.Model(&models.Transaction{}).Where("merchant_id = ?", merchantId)

	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.From != nil {
		query = query.Where("created_at >= ?", f.From)
	}
	if f.To != nil {
		query = query.Where("created_at <= ?", f.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit < 1 {
		limit = 50
	}

	var transactions []models.Transaction
	err := query.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&transactions).Error
	if err != nil {
		return nil, 0, err
	}

	return transactions, total, nil
}

// FindPendingOlderThan lists pending transactions created before the cutoff,
// used by the stale-pending sweep.
func (s *TransactionStore) FindPendingOlderThan(cutoff time.Time) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := s.DB.Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Find(&transactions).Error
	return transactions, err
}

func (s *TransactionStore) CreateOrphan(o *models.OrphanedCallback) error {
	return s.DB.Create(o).Error
}

func (s *TransactionStore) FindOrphanByID(id uint) (*models.OrphanedCallback, error) {
	var o models.OrphanedCallback
	err := s.DB.Where("id = ?", id).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *TransactionStore) ResolveOrphan(id uint, transactionId string) error {
	return s.DB.Model(&models.OrphanedCallback{}).Where("id = ?", id).Updates(map[string]interface{}{
		"resolved":                true,
		"resolved_transaction_id": transactionId,
	}).Error
}

func (s *TransactionStore) LogCallback(entry *models.CallbackLog) error {
	return s.DB.Create(entry).Error
}
