package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AttemptStatus represents the outcome of a single charge attempt
type AttemptStatus string

const (
	AttemptStatusPending AttemptStatus = "pending"
	AttemptStatusSuccess AttemptStatus = "success"
	AttemptStatusFailed  AttemptStatus = "failed"
)

// PaymentAttempt is one attempt to charge an invoice. Rows are append-only:
// a row is created before the gateway call and only its terminal status,
// completion time and failure fields are set afterwards.
type PaymentAttempt struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	InvoiceID       uint            `gorm:"index" json:"invoice_id"`
	PaymentMethodID uint            `json:"payment_method_id"`
	AttemptNumber   int             `json:"attempt_number"`
	Amount          decimal.Decimal `gorm:"type:decimal(15,2)" json:"amount"`
	Status          AttemptStatus   `gorm:"type:varchar(20);default:'pending'" json:"status"`
	FailureReason   *string         `gorm:"type:text" json:"failure_reason"`
	GatewayRef      *string         `gorm:"type:varchar(100)" json:"gateway_ref"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at"`

	// Relationships
	Invoice       PerDiemInvoice `gorm:"foreignKey:InvoiceID" json:"invoice,omitempty"`
	PaymentMethod PaymentMethod  `gorm:"foreignKey:PaymentMethodID" json:"payment_method,omitempty"`
}
