package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceStatus represents the collection status of a per-diem invoice
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusFailed  InvoiceStatus = "failed"
)

// PerDiemInvoice is one billing event for one contract on one calendar day.
// The unique index on (contract_id, billing_date) is the final arbiter of the
// one-invoice-per-contract-per-day idempotency contract.
type PerDiemInvoice struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	UUID            string          `gorm:"type:varchar(50);index" json:"uuid"`
	InvoiceNumber   string          `gorm:"type:varchar(120);uniqueIndex" json:"invoice_number"`
	ContractID      uint            `gorm:"index;uniqueIndex:idx_invoice_contract_day" json:"contract_id"`
	BillingDate     time.Time       `gorm:"uniqueIndex:idx_invoice_contract_day" json:"billing_date"`
	DueDate         time.Time       `json:"due_date"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(15,2)" json:"total_amount"`
	PerDiemRate     decimal.Decimal `gorm:"type:decimal(15,2)" json:"per_diem_rate"`
	Currency        string          `gorm:"type:varchar(10);default:'EUR'" json:"currency"`
	ContainerCount  int             `json:"container_count"`
	Status          InvoiceStatus   `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	RetryCount      int             `json:"retry_count"`
	NextRetryAt     *time.Time      `gorm:"index" json:"next_retry_at"`
	LastFailureReason *string       `gorm:"type:text" json:"last_failure_reason"`
	PaymentMethodID *uint           `json:"payment_method_id"`
	PaidAt          *time.Time      `json:"paid_at"`

	// Relationships
	Contract      LeasingContract     `gorm:"foreignKey:ContractID" json:"contract,omitempty"`
	PaymentMethod *PaymentMethod      `gorm:"foreignKey:PaymentMethodID" json:"payment_method,omitempty"`
	Items         []PerDiemInvoiceItem `gorm:"foreignKey:InvoiceID" json:"items,omitempty"`
	Attempts      []PaymentAttempt    `gorm:"foreignKey:InvoiceID" json:"attempts,omitempty"`
}

// PerDiemInvoiceItem is one line per overdue container on an invoice.
// Billing granularity is daily so DaysOverdue is always 1; the field is
// informational. Items are written atomically with their header and never
// mutated afterwards.
type PerDiemInvoiceItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	InvoiceID       uint            `gorm:"index" json:"invoice_id"`
	ContainerNumber string          `gorm:"type:varchar(50)" json:"container_number"`
	ContainerType   string          `gorm:"type:varchar(50)" json:"container_type"`
	DaysOverdue     int             `gorm:"default:1" json:"days_overdue"`
	Rate            decimal.Decimal `gorm:"type:decimal(15,2)" json:"rate"`
	Amount          decimal.Decimal `gorm:"type:decimal(15,2)" json:"amount"`
}
