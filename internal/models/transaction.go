package models

import (
	"time"

	"gorm.io/datatypes"
)

// Transaction statuses. pending is the only non-terminal state; error is
// reserved for request-submission failures (as opposed to gateway-reported
// failures, which land in failed).
const (
	StatusPending   = "pending"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

type Transaction struct {
	ID                string         `gorm:"primaryKey;size:36" json:"id"`
	MerchantId        *string        `gorm:"column:merchant_id;size:64;index" json:"merchant_id"`
	TransactionRef    string         `gorm:"column:transaction_ref;size:64;not null;index" json:"transaction_ref"`
	PhoneNumber       string         `gorm:"column:phone_number;size:20;not null" json:"phone_number"`
	Amount            float64        `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	Status            string         `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`
	CheckoutRequestId string         `gorm:"column:checkout_request_id;size:100;index" json:"checkout_request_id"`
	MerchantRequestId string         `gorm:"column:merchant_request_id;size:100" json:"merchant_request_id"`
	ResultCode        *int           `gorm:"column:result_code" json:"result_code"`
	ResultDesc        string         `gorm:"column:result_desc;size:255" json:"result_desc"`
	PaymentDetails    datatypes.JSON `gorm:"column:payment_details" json:"payment_details"`
	GatewayResponse   datatypes.JSON `gorm:"column:gateway_response" json:"gateway_response"`
	CallbackPayload   datatypes.JSON `gorm:"column:callback_payload" json:"callback_payload"`
	Source            string         `gorm:"column:source;size:50" json:"source"`
	PaymentType       string         `gorm:"column:payment_type;size:50" json:"payment_type"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// PaymentDetails is the confirmed-payment block stored on success only.
type PaymentDetails struct {
	MpesaReceiptNumber string  `json:"mpesaReceiptNumber"`
	Amount             float64 `json:"amount"`
	PhoneNumber        string  `json:"phoneNumber"`
	TransactionDate    string  `json:"transactionDate"`
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusSuccess, StatusFailed, StatusCancelled, StatusError:
		return true
	}
	return false
}

// IsValidTransition checks the status state machine: pending may move to any
// terminal state, terminal states never move.
func IsValidTransition(from, to string) bool {
	if from != StatusPending {
		return false
	}
	return IsTerminal(to)
}
