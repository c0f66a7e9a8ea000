package handlers

import "leasebill_app_echo/internal/models"

// TriggerBillingRunRequest is the admin trigger body; as_of is optional and
// supports backfill/replay of a past billing day.
type TriggerBillingRunRequest struct {
	AsOf string `json:"as_of"`
}

// TriggerBillingRunResponse acknowledges an enqueued billing run
type TriggerBillingRunResponse struct {
	TaskID uint   `json:"task_id"`
	AsOf   string `json:"as_of"`
}

// ListInvoicesResponse wraps the invoice listing
type ListInvoicesResponse struct {
	Invoices []models.PerDiemInvoice `json:"invoices"`
	Count    int                     `json:"count"`
}

// ListAttemptsResponse wraps the attempt log of one invoice
type ListAttemptsResponse struct {
	Attempts []models.PaymentAttempt `json:"attempts"`
	Count    int                     `json:"count"`
}
