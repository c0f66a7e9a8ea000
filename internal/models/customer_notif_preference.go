package models

import (
	"time"

	"gorm.io/gorm"
)

type NotificationChannel string

const (
	NotificationChannelEmail    NotificationChannel = "email"
	NotificationChannelWhatsapp NotificationChannel = "whatsapp"
)

const (
	WhatsappTargetTypePersonal = "personal"
	WhatsappTargetTypeGroup    = "group"
)

// CustomerNotifPreference selects the delivery channel for dunning notices
type CustomerNotifPreference struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	CustomerID uint `gorm:"uniqueIndex" json:"customer_id"`

	Channel NotificationChannel `gorm:"type:varchar(20);default:'email'" json:"channel"`

	// WhatsApp specific options
	WhatsappTargetType string `gorm:"type:varchar(20);default:'personal'" json:"whatsapp_target_type"`
	WhatsappGroupID    string `gorm:"type:varchar(100)" json:"whatsapp_group_id"`
}
