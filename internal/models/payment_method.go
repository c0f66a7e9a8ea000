package models

import (
	"time"

	"gorm.io/gorm"
)

// PaymentGateway identifies the provider behind a stored payment method
type PaymentGateway string

const (
	PaymentGatewayMidtrans PaymentGateway = "midtrans"
	PaymentGatewayManual   PaymentGateway = "manual"
)

// PaymentMethod is a stored, tokenized payment instrument belonging to a
// customer. This core only selects methods, the customer-facing flows own
// creation and deactivation.
type PaymentMethod struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	CustomerID    uint           `gorm:"index" json:"customer_id"`
	Gateway       PaymentGateway `gorm:"type:varchar(50);default:'midtrans'" json:"gateway"`
	Token         string         `gorm:"type:varchar(255)" json:"-"`
	MaskedDisplay string         `gorm:"type:varchar(50)" json:"masked_display"`
	IsDefault     bool           `gorm:"default:false" json:"is_default"`
	IsActive      bool           `gorm:"default:true" json:"is_active"`

	// Relationships
	Customer Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
}
