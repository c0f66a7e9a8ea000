package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"leasebill_app_echo/internal/models"
)

// SendDunningNotificationArgs defines the arguments for a dunning notice task
type SendDunningNotificationArgs struct {
	CampaignID   uint `json:"campaign_id"`
	AttemptCount int  `json:"attempt_count"`
}

// SendDunningNotificationTaskDef delivers one dunning notice for a campaign
// over the customer's preferred channel and bumps the campaign counters.
type SendDunningNotificationTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *SendDunningNotificationTaskDef) TaskID() string {
	return "send_dunning_notification"
}

// CreateTask builds a ScheduledTask record for this task
func (t *SendDunningNotificationTaskDef) CreateTask(args SendDunningNotificationArgs) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, time.Now(), nil, models.ScheduledTaskTypeOneTime, 3)
}

// HandleExecution resolves the campaign context and sends the notice
func (t *SendDunningNotificationTaskDef) HandleExecution(ctx context.Context, deps *Deps, task models.ScheduledTask) (map[string]interface{}, error) {
	argsBytes, err := json.Marshal(task.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}

	var parsedArgs SendDunningNotificationArgs
	if err := json.Unmarshal(argsBytes, &parsedArgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}

	var campaign models.DunningCampaign
	if err := deps.DB.Preload("Invoice").Preload("Invoice.Contract").Preload("Invoice.Contract.Customer").
		First(&campaign, parsedArgs.CampaignID).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch campaign: %w", err)
	}

	invoice := campaign.Invoice
	customer := invoice.Contract.Customer

	// Channel preference, email when none stored
	var pref models.CustomerNotifPreference
	if err := deps.DB.Where("customer_id = ?", customer.ID).First(&pref).Error; err != nil {
		if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("failed to fetch notification preference: %w", err)
		}
		pref.Channel = models.NotificationChannelEmail
	}

	subject, body := BuildDunningNotice(campaign.Stage, customer.Name, invoice)

	var sendErr error
	counterColumn := "emails_sent"
	switch pref.Channel {
	case models.NotificationChannelWhatsapp:
		counterColumn = "notices_sent"
		chatId := customer.Phone
		if pref.WhatsappTargetType == models.WhatsappTargetTypeGroup {
			chatId = pref.WhatsappGroupID
			if chatId == "" {
				return nil, fmt.Errorf("group ID is empty")
			}
			if !strings.HasSuffix(chatId, "@g.us") {
				chatId = chatId + "@g.us"
			}
		}
		sendErr = deps.Waha.SendMessage(chatId, body)
	default:
		sendErr = deps.Email.SendEmail([]string{customer.Email}, subject, body)
	}

	if sendErr != nil {
		log.Printf("Failed to send %s notice for campaign %d via %s: %v", campaign.Stage, campaign.ID, pref.Channel, sendErr)

		attempt := parsedArgs.AttemptCount
		if attempt < task.MaxAttempt {
			newArgs := parsedArgs
			newArgs.AttemptCount = attempt + 1

			// Re-schedule in 5 minutes
			nextRun := time.Now().Add(5 * time.Minute)
			newTask, buildErr := BuildScheduledTask(t.TaskID(), newArgs, nextRun, nil, models.ScheduledTaskTypeOneTime, task.MaxAttempt)
			if buildErr == nil {
				deps.DB.Create(newTask)
			} else {
				log.Printf("Failed to create retry task: %v", buildErr)
			}
			return map[string]interface{}{"status": "rescheduled", "attempt": attempt + 1}, nil
		}
		return nil, fmt.Errorf("max attempts reached, failed to deliver notice: %w", sendErr)
	}

	if err := deps.DB.Model(&models.DunningCampaign{}).Where("id = ?", campaign.ID).
		Update(counterColumn, gorm.Expr(counterColumn+" + 1")).Error; err != nil {
		log.Printf("Failed to bump %s for campaign %d: %v", counterColumn, campaign.ID, err)
	}

	return map[string]interface{}{
		"status":  "success",
		"channel": string(pref.Channel),
		"stage":   string(campaign.Stage),
	}, nil
}

// SendDunningNotificationTask is the singleton instance
var SendDunningNotificationTask = &SendDunningNotificationTaskDef{}

// BuildDunningNotice renders the plain-text subject and body for a stage
func BuildDunningNotice(stage models.DunningStage, customerName string, invoice models.PerDiemInvoice) (string, string) {
	amount := fmt.Sprintf("%s %s", invoice.TotalAmount.StringFixed(2), invoice.Currency)

	var subject, opening string
	switch stage {
	case models.DunningStageWarning:
		subject = fmt.Sprintf("Final payment warning - invoice %s", invoice.InvoiceNumber)
		opening = "automatic collection of the invoice below has failed and your account is now in collections"
	default:
		subject = fmt.Sprintf("Payment reminder - invoice %s", invoice.InvoiceNumber)
		opening = "the invoice below is awaiting payment"
	}

	body := fmt.Sprintf(
		"Dear %s,\n\n%s.\n\nInvoice: %s\nAmount: %s\nDue date: %s\nContainers billed: %d\n\nPlease settle the open amount or contact us to arrange payment.",
		customerName, opening, invoice.InvoiceNumber, amount,
		invoice.DueDate.Format("2006-01-02"), invoice.ContainerCount,
	)
	return subject, body
}

// TaskNotifier satisfies the billing engine's notification boundary by
// enqueueing a one-time dunning notice task. Fire-and-forget from the
// engine's perspective; the worker owns delivery and retries.
type TaskNotifier struct {
	DB *gorm.DB
}

// CampaignOpened enqueues the notice for a freshly opened or escalated campaign
func (n *TaskNotifier) CampaignOpened(ctx context.Context, campaign *models.DunningCampaign) error {
	task, err := SendDunningNotificationTask.CreateTask(SendDunningNotificationArgs{CampaignID: campaign.ID})
	if err != nil {
		return err
	}
	return n.DB.WithContext(ctx).Create(task).Error
}
