package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"leasebill_app_echo/internal/models"
)

// CycleResult summarizes one billing pass
type CycleResult struct {
	AsOf             time.Time `json:"as_of"`
	ContractsScanned int       `json:"contracts_scanned"`
	InvoicesCreated  int       `json:"invoices_created"`
	ChargesSucceeded int       `json:"charges_succeeded"`
	ChargesFailed    int       `json:"charges_failed"`
	Skipped          int       `json:"skipped"`
	Errors           int       `json:"errors"`
	RetriesAttempted int       `json:"retries_attempted"`
}

// RunBillingCycle performs one full billing pass as of the given time:
// new-invoice generation over all eligible contracts, then the retry sweep
// for previously failed invoices. Safe to invoke more than once per day; the
// per-day idempotency check makes repeated passes no-ops. Only a failure to
// enumerate candidate contracts aborts the pass, every per-contract error is
// logged and skipped.
func (e *Engine) RunBillingCycle(ctx context.Context, asOf time.Time) (*CycleResult, error) {
	result := &CycleResult{AsOf: asOf}

	contracts, err := e.store.ListBillableContracts(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list billable contracts: %w", err)
	}
	result.ContractsScanned = len(contracts)

	for _, contract := range contracts {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := e.processContract(ctx, contract, asOf, result); err != nil {
			log.Printf("billing: contract %s: %v", contract.ContractNumber, err)
			result.Errors++
		}
	}

	e.runRetrySweep(ctx, asOf, result)

	return result, nil
}

// RunRetrySweep runs only the retry sweep, outside a full billing pass. Used
// for ops-triggered sweeps; a normal cycle already includes it.
func (e *Engine) RunRetrySweep(ctx context.Context, now time.Time) *CycleResult {
	result := &CycleResult{AsOf: now}
	e.runRetrySweep(ctx, now, result)
	return result
}

// processContract bills a single eligible contract: filters its overdue
// containers, enforces the one-invoice-per-day idempotency gate, creates the
// invoice and hands off to collection.
func (e *Engine) processContract(ctx context.Context, contract models.LeasingContract, asOf time.Time, result *CycleResult) error {
	if contract.PerDiemRate.IsZero() || contract.PerDiemRate.IsNegative() {
		return fmt.Errorf("missing or invalid per-diem rate")
	}

	containers, err := e.store.ListOverdueContainers(ctx, contract.ID)
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}
	overdue := OverdueContainers(containers)
	if len(overdue) == 0 {
		result.Skipped++
		return nil
	}

	dayStart, dayEnd := dayBounds(asOf)
	exists, err := e.store.HasInvoiceForDay(ctx, contract.ID, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("failed idempotency check: %w", err)
	}
	if exists {
		result.Skipped++
		return nil
	}

	if e.locker != nil {
		ok, err := e.locker.AcquireBillingLock(ctx, contract.ID, dayStart)
		if err != nil {
			log.Printf("billing: contract %s: lock unavailable, relying on unique index: %v", contract.ContractNumber, err)
		} else if !ok {
			result.Skipped++
			return nil
		}
	}

	// Resolve the payment method before writing the invoice so the stored row
	// carries it; the retry sweep reloads invoices from the store and charges
	// whatever method the row references. A lookup failure aborts the contract
	// before any row exists and the next pass picks it up again.
	method, err := e.store.DefaultPaymentMethod(ctx, contract.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to look up payment method: %w", err)
	}

	invoice, items := BuildInvoice(contract, overdue, asOf, e.config.GraceDays)
	if method != nil {
		invoice.PaymentMethodID = &method.ID
	}
	if err := e.store.CreateInvoiceWithItems(ctx, invoice, items); err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	result.InvoicesCreated++
	log.Printf("billing: created invoice %s for %d containers, total %s %s",
		invoice.InvoiceNumber, invoice.ContainerCount, invoice.TotalAmount.StringFixed(2), invoice.Currency)

	if method == nil {
		// No automatic collection possible, escalate to manual follow-up right away
		e.openOrEscalateCampaign(ctx, invoice.ID, models.DunningStageReminder, asOf)
		return nil
	}

	if err := e.attemptCharge(ctx, invoice, method, asOf); err != nil {
		result.ChargesFailed++
	} else {
		result.ChargesSucceeded++
	}
	return nil
}

// runRetrySweep re-attempts every pending invoice whose retry is due. Runs
// inside the same pass as generation but touches a disjoint invoice set: a
// freshly created invoice has no next_retry_at yet.
func (e *Engine) runRetrySweep(ctx context.Context, now time.Time, result *CycleResult) {
	invoices, err := e.store.ListDueRetries(ctx, now, e.config.MaxRetryAttempts)
	if err != nil {
		log.Printf("billing: retry sweep aborted: %v", err)
		return
	}

	for i := range invoices {
		invoice := &invoices[i]
		if ctx.Err() != nil {
			return
		}
		result.RetriesAttempted++

		if invoice.PaymentMethodID == nil {
			e.failWithoutGateway(ctx, invoice, "no payment method on file", now)
			result.ChargesFailed++
			continue
		}
		method, err := e.store.GetPaymentMethod(ctx, *invoice.PaymentMethodID)
		if err != nil {
			log.Printf("billing: invoice %s: failed to load payment method: %v", invoice.InvoiceNumber, err)
			result.Errors++
			continue
		}
		if method == nil || !method.IsActive {
			e.failWithoutGateway(ctx, invoice, "payment method inactive", now)
			result.ChargesFailed++
			continue
		}

		if err := e.attemptCharge(ctx, invoice, method, now); err != nil {
			result.ChargesFailed++
		} else {
			result.ChargesSucceeded++
		}
	}
}
