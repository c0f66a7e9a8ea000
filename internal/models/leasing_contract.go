package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ContractStatus represents the lifecycle status of a leasing contract
type ContractStatus string

const (
	ContractStatusActive    ContractStatus = "active"
	ContractStatusClosed    ContractStatus = "closed"
	ContractStatusCancelled ContractStatus = "cancelled"
)

// LeasingContract represents a container lease agreement.
// EndDate is the flattened end of the contractual free-usage period
// (start date + free days); per-diem billing begins once it has passed.
// This core only reads contracts, contract-management flows own the writes.
type LeasingContract struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	CustomerID     uint            `gorm:"index" json:"customer_id"`
	ContractNumber string          `gorm:"type:varchar(100);uniqueIndex" json:"contract_number"`
	FreeDays       int             `json:"free_days"`
	PerDiemRate    decimal.Decimal `gorm:"type:decimal(15,2)" json:"per_diem_rate"`
	Currency       string          `gorm:"type:varchar(10);default:'EUR'" json:"currency"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `gorm:"index" json:"end_date"`
	Status         ContractStatus  `gorm:"type:varchar(20);default:'active';index" json:"status"`

	// Relationships
	Customer   Customer            `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Containers []ContractContainer `gorm:"foreignKey:ContractID" json:"containers,omitempty"`
	Invoices   []PerDiemInvoice    `gorm:"foreignKey:ContractID" json:"invoices,omitempty"`
}
