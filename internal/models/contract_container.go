package models

import (
	"time"

	"gorm.io/gorm"
)

// ContainerStatus represents the pickup/return state of a leased container
type ContainerStatus string

const (
	ContainerStatusPickedUp ContainerStatus = "picked_up"
	ContainerStatusReturned ContainerStatus = "returned"
)

// ContractContainer represents one physical container dispatched under a contract.
// The return workflow owns the picked_up -> returned transition; this core only
// reads status and dates. A returned container with a return date is permanently
// excluded from billing eligibility.
type ContractContainer struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	ContractID      uint            `gorm:"index" json:"contract_id"`
	ContainerNumber string          `gorm:"type:varchar(50);index" json:"container_number"`
	ContainerType   string          `gorm:"type:varchar(50)" json:"container_type"`
	Status          ContainerStatus `gorm:"type:varchar(20);default:'picked_up';index" json:"status"`
	PickupDate      time.Time       `json:"pickup_date"`
	ReturnDate      *time.Time      `json:"return_date"`

	// Relationships
	Contract LeasingContract `gorm:"foreignKey:ContractID" json:"contract,omitempty"`
}

// IsOverdue reports whether the container still counts against per-diem billing
func (c ContractContainer) IsOverdue() bool {
	return c.Status == ContainerStatusPickedUp && c.ReturnDate == nil
}
