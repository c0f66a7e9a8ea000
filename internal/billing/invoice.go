package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"leasebill_app_echo/internal/models"
)

// OverdueContainers filters the containers that still count against per-diem
// billing: picked up and never returned. A returned container with a return
// date is excluded no matter how overdue the contract is.
func OverdueContainers(containers []models.ContractContainer) []models.ContractContainer {
	var overdue []models.ContractContainer
	for _, c := range containers {
		if c.IsOverdue() {
			overdue = append(overdue, c)
		}
	}
	return overdue
}

// InvoiceNumber builds the deterministic per-(contract, day) invoice number
func InvoiceNumber(contractNumber string, billingDate time.Time) string {
	return fmt.Sprintf("%s-%s", contractNumber, billingDate.UTC().Format("20060102"))
}

// BuildInvoice assembles the invoice header and one line item per overdue
// container. Each cycle bills a flat one-day charge per container, not the
// accumulated days overdue to date, so every line carries DaysOverdue = 1 and
// the total is rate x container count.
func BuildInvoice(contract models.LeasingContract, overdue []models.ContractContainer, asOf time.Time, graceDays int) (*models.PerDiemInvoice, []models.PerDiemInvoiceItem) {
	dayStart, _ := dayBounds(asOf)

	items := make([]models.PerDiemInvoiceItem, 0, len(overdue))
	total := decimal.Zero
	for _, c := range overdue {
		items = append(items, models.PerDiemInvoiceItem{
			ContainerNumber: c.ContainerNumber,
			ContainerType:   c.ContainerType,
			DaysOverdue:     1,
			Rate:            contract.PerDiemRate,
			Amount:          contract.PerDiemRate,
		})
		total = total.Add(contract.PerDiemRate)
	}

	invoice := &models.PerDiemInvoice{
		UUID:           uuid.New().String(),
		InvoiceNumber:  InvoiceNumber(contract.ContractNumber, dayStart),
		ContractID:     contract.ID,
		BillingDate:    dayStart,
		DueDate:        dayStart.AddDate(0, 0, graceDays),
		TotalAmount:    total,
		PerDiemRate:    contract.PerDiemRate,
		Currency:       contract.Currency,
		ContainerCount: len(overdue),
		Status:         models.InvoiceStatusPending,
	}
	return invoice, items
}
