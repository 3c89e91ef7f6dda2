package models

import (
	"time"

	"gorm.io/datatypes"
)

// OrphanedCallback records a gateway result that matched no known
// transaction. Kept for operational investigation; not part of the payment
// state machine.
type OrphanedCallback struct {
	ID                    uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CheckoutRequestId     string         `gorm:"column:checkout_request_id;size:100;index" json:"checkout_request_id"`
	ResultCode            int            `gorm:"column:result_code" json:"result_code"`
	ResultDesc            string         `gorm:"column:result_desc;size:255" json:"result_desc"`
	Payload               datatypes.JSON `gorm:"column:payload" json:"payload"`
	SearchNotes           string         `gorm:"column:search_notes;type:text" json:"search_notes"`
	Resolved              bool           `gorm:"column:resolved;default:false;index" json:"resolved"`
	ResolvedTransactionId string         `gorm:"column:resolved_transaction_id;size:36" json:"resolved_transaction_id"`
	CreatedAt             time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (OrphanedCallback) TableName() string {
	return "orphaned_callbacks"
}
