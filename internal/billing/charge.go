package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"leasebill_app_echo/internal/models"
)

// attemptCharge submits one charge for an invoice. The attempt row is created
// before the gateway call so an operator can see in-flight attempts; the
// gateway call is bounded by the configured timeout and any error, timeout
// included, routes into the standard failure path.
func (e *Engine) attemptCharge(ctx context.Context, invoice *models.PerDiemInvoice, method *models.PaymentMethod, now time.Time) error {
	attempt := &models.PaymentAttempt{
		InvoiceID:       invoice.ID,
		PaymentMethodID: method.ID,
		AttemptNumber:   invoice.RetryCount + 1,
		Amount:          invoice.TotalAmount,
		Status:          models.AttemptStatusPending,
		StartedAt:       now,
	}
	if err := e.store.CreateAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("failed to create payment attempt: %w", err)
	}

	orderID := fmt.Sprintf("%s-a%d-%s", invoice.InvoiceNumber, attempt.AttemptNumber, uuid.New().String()[:8])

	chargeCtx, cancel := context.WithTimeout(ctx, e.config.GatewayTimeout)
	gatewayRef, err := e.gateway.Charge(chargeCtx, method.Token, orderID, invoice.TotalAmount, invoice.Currency)
	cancel()

	if err != nil {
		e.handleFailure(ctx, invoice, attempt.ID, err.Error(), now)
		return err
	}

	if err := e.store.MarkInvoicePaid(ctx, invoice.ID, attempt.ID, gatewayRef, now); err != nil {
		return fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	invoice.Status = models.InvoiceStatusPaid
	log.Printf("billing: invoice %s paid, attempt %d, ref %s", invoice.InvoiceNumber, attempt.AttemptNumber, gatewayRef)
	return nil
}

// handleFailure records a failed attempt and either schedules the next retry
// or, once the bound is exhausted, marks the invoice terminal and opens a
// warning campaign.
func (e *Engine) handleFailure(ctx context.Context, invoice *models.PerDiemInvoice, attemptID uint, reason string, now time.Time) {
	decision := decideRetry(invoice.RetryCount, e.config.MaxRetryAttempts, now, e.config.RetryInterval)

	if err := e.store.RecordFailedAttempt(ctx, invoice.ID, attemptID, reason, decision, now); err != nil {
		log.Printf("billing: invoice %s: failed to record attempt failure: %v", invoice.InvoiceNumber, err)
		return
	}
	invoice.RetryCount = decision.RetryCount
	invoice.NextRetryAt = decision.NextRetryAt

	if decision.Terminal {
		invoice.Status = models.InvoiceStatusFailed
		log.Printf("billing: invoice %s failed after %d attempts: %s", invoice.InvoiceNumber, decision.RetryCount, reason)
		e.openOrEscalateCampaign(ctx, invoice.ID, models.DunningStageWarning, now)
	} else {
		log.Printf("billing: invoice %s attempt %d failed (%s), retry at %s",
			invoice.InvoiceNumber, decision.RetryCount, reason, decision.NextRetryAt.Format(time.RFC3339))
	}
}

// failWithoutGateway terminates automatic collection for a retry-due invoice
// whose payment method is gone or inactive. No gateway call is made and no
// attempt row is written (attemptID 0 tells the store to skip it).
func (e *Engine) failWithoutGateway(ctx context.Context, invoice *models.PerDiemInvoice, reason string, now time.Time) {
	decision := RetryDecision{RetryCount: invoice.RetryCount + 1, Terminal: true}
	if err := e.store.RecordFailedAttempt(ctx, invoice.ID, 0, reason, decision, now); err != nil {
		log.Printf("billing: invoice %s: failed to record terminal failure: %v", invoice.InvoiceNumber, err)
		return
	}
	invoice.Status = models.InvoiceStatusFailed
	e.openOrEscalateCampaign(ctx, invoice.ID, models.DunningStageWarning, now)
}
