package billing

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"leasebill_app_echo/internal/models"
)

// openOrEscalateCampaign opens the collections campaign for an invoice or
// escalates an existing one. At most one campaign row exists per invoice:
// a repeat trigger at the same stage is a no-op and a stage can only move
// forward (reminder to warning), never back. Every open or escalation is
// announced on the notification channel; delivery failures are only logged.
func (e *Engine) openOrEscalateCampaign(ctx context.Context, invoiceID uint, stage models.DunningStage, now time.Time) {
	existing, err := e.store.GetCampaignByInvoice(ctx, invoiceID)
	if err != nil {
		log.Printf("billing: invoice %d: failed to look up dunning campaign: %v", invoiceID, err)
		return
	}

	if existing == nil {
		campaign := &models.DunningCampaign{
			UUID:         uuid.New().String(),
			InvoiceID:    invoiceID,
			Stage:        stage,
			Status:       models.DunningStatusActive,
			StartedAt:    now,
			NextActionAt: now.AddDate(0, 0, 1),
		}
		if err := e.store.CreateCampaign(ctx, campaign); err != nil {
			log.Printf("billing: invoice %d: failed to open dunning campaign: %v", invoiceID, err)
			return
		}
		log.Printf("billing: opened %s campaign for invoice %d", stage, invoiceID)
		e.notifyCampaign(ctx, campaign)
		return
	}

	if stage.StageRank() <= existing.Stage.StageRank() {
		return
	}

	nextAction := now.AddDate(0, 0, 1)
	if err := e.store.EscalateCampaign(ctx, existing.ID, stage, nextAction); err != nil {
		log.Printf("billing: invoice %d: failed to escalate dunning campaign: %v", invoiceID, err)
		return
	}
	existing.Stage = stage
	existing.NextActionAt = nextAction
	log.Printf("billing: escalated campaign for invoice %d to %s", invoiceID, stage)
	e.notifyCampaign(ctx, existing)
}

func (e *Engine) notifyCampaign(ctx context.Context, campaign *models.DunningCampaign) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.CampaignOpened(ctx, campaign); err != nil {
		log.Printf("billing: campaign %s: notification enqueue failed: %v", campaign.UUID, err)
	}
}
