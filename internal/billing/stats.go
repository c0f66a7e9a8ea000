package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"leasebill_app_echo/internal/models"
)

// BillingStats is the read-only aggregation over a customer's invoices for
// one calendar month, consumed by dashboards. No write side effects.
type BillingStats struct {
	CustomerID   uint            `json:"customer_id"`
	Month        string          `json:"month"`
	InvoiceCount int             `json:"invoice_count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	PaidCount    int             `json:"paid_count"`
	PendingCount int             `json:"pending_count"`
	FailedCount  int             `json:"failed_count"`
}

// MonthlyStats aggregates a customer's invoices for the calendar month
// containing the given time.
func (e *Engine) MonthlyStats(ctx context.Context, customerID uint, month time.Time) (*BillingStats, error) {
	month = month.UTC()
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	invoices, err := e.store.ListCustomerInvoices(ctx, customerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	return AggregateStats(customerID, from, invoices), nil
}

// AggregateStats folds invoice rows into a monthly statistics summary
func AggregateStats(customerID uint, monthStart time.Time, invoices []models.PerDiemInvoice) *BillingStats {
	stats := &BillingStats{
		CustomerID:  customerID,
		Month:       monthStart.Format("2006-01"),
		TotalAmount: decimal.Zero,
	}
	for _, inv := range invoices {
		stats.InvoiceCount++
		stats.TotalAmount = stats.TotalAmount.Add(inv.TotalAmount)
		switch inv.Status {
		case models.InvoiceStatusPaid:
			stats.PaidCount++
		case models.InvoiceStatusPending:
			stats.PendingCount++
		case models.InvoiceStatusFailed:
			stats.FailedCount++
		}
	}
	return stats
}
