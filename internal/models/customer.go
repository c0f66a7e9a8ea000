package models

import (
	"time"

	"gorm.io/gorm"
)

// CustomerStatus represents the standing of a leasing customer
type CustomerStatus string

const (
	CustomerStatusActive    CustomerStatus = "active"
	CustomerStatusSuspended CustomerStatus = "suspended"
)

// Customer represents a leasing customer that owns contracts and payment methods
type Customer struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name        string         `gorm:"type:varchar(255)" json:"name"`
	CompanyName string         `gorm:"type:varchar(255)" json:"company_name"`
	Phone       string         `gorm:"type:varchar(50)" json:"phone"`
	Email       string         `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Status      CustomerStatus `gorm:"type:varchar(20);default:'active'" json:"status"`

	// Relationships
	Contracts      []LeasingContract `gorm:"foreignKey:CustomerID" json:"contracts,omitempty"`
	PaymentMethods []PaymentMethod   `gorm:"foreignKey:CustomerID" json:"payment_methods,omitempty"`
}
