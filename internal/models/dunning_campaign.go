package models

import (
	"time"

	"gorm.io/gorm"
)

// DunningStage represents the escalation stage of a collections campaign
type DunningStage string

const (
	DunningStageReminder DunningStage = "reminder"
	DunningStageWarning  DunningStage = "warning"
)

// DunningStatus represents the lifecycle of a campaign; closing is owned by
// the delivery channel, this core only opens and escalates campaigns
type DunningStatus string

const (
	DunningStatusActive DunningStatus = "active"
	DunningStatusClosed DunningStatus = "closed"
)

// DunningCampaign is the collections workflow for one invoice. There is at
// most one campaign per invoice (unique index on invoice_id); repeated
// triggers escalate the Stage field instead of inserting new rows, and a
// warning never downgrades back to a reminder.
type DunningCampaign struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	UUID         string        `gorm:"type:varchar(50);index" json:"uuid"`
	InvoiceID    uint          `gorm:"uniqueIndex" json:"invoice_id"`
	Stage        DunningStage  `gorm:"type:varchar(20)" json:"stage"`
	Status       DunningStatus `gorm:"type:varchar(20);default:'active'" json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	NextActionAt time.Time     `json:"next_action_at"`
	EmailsSent   int           `gorm:"default:0" json:"emails_sent"`
	CallsMade    int           `gorm:"default:0" json:"calls_made"`
	NoticesSent  int           `gorm:"default:0" json:"notices_sent"`

	// Relationships
	Invoice PerDiemInvoice `gorm:"foreignKey:InvoiceID" json:"invoice,omitempty"`
}

// StageRank orders stages for monotonic escalation
func (s DunningStage) StageRank() int {
	switch s {
	case DunningStageReminder:
		return 1
	case DunningStageWarning:
		return 2
	}
	return 0
}
