package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"leasebill_app_echo/internal/billing"
	"leasebill_app_echo/internal/models"
)

// Repository is the gorm-backed implementation of the billing engine's Store
// boundary plus the read queries used by the API handlers.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListBillableContracts fetches active contracts whose free-usage period has
// ended and that still have at least one unreturned container.
func (r *Repository) ListBillableContracts(ctx context.Context, asOf time.Time) ([]models.LeasingContract, error) {
	var contracts []models.LeasingContract
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_date < ?", models.ContractStatusActive, asOf).
		Where(`EXISTS (
			SELECT 1 FROM contract_containers cc
			WHERE cc.contract_id = leasing_contracts.id
			  AND cc.status = ?
			  AND cc.return_date IS NULL
			  AND cc.deleted_at IS NULL
		)`, models.ContainerStatusPickedUp).
		Find(&contracts).Error
	if err != nil {
		return nil, err
	}
	return contracts, nil
}

// ListOverdueContainers fetches the unreturned containers of a contract
func (r *Repository) ListOverdueContainers(ctx context.Context, contractID uint) ([]models.ContractContainer, error) {
	var containers []models.ContractContainer
	err := r.db.WithContext(ctx).
		Where("contract_id = ? AND status = ? AND return_date IS NULL", contractID, models.ContainerStatusPickedUp).
		Find(&containers).Error
	if err != nil {
		return nil, err
	}
	return containers, nil
}

// HasInvoiceForDay reports whether the contract already has an invoice inside
// the [dayStart, dayEnd) window. This backs the per-day idempotency gate.
func (r *Repository) HasInvoiceForDay(ctx context.Context, contractID uint, dayStart, dayEnd time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PerDiemInvoice{}).
		Where("contract_id = ? AND billing_date >= ? AND billing_date < ?", contractID, dayStart, dayEnd).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateInvoiceWithItems writes the invoice header and its line items in one
// transaction, so a cancelled pass never leaves a half-created invoice.
func (r *Repository) CreateInvoiceWithItems(ctx context.Context, invoice *models.PerDiemInvoice, items []models.PerDiemInvoiceItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(invoice).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].InvoiceID = invoice.ID
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DefaultPaymentMethod returns the customer's default active method, or nil
// when none is stored.
func (r *Repository) DefaultPaymentMethod(ctx context.Context, customerID uint) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND is_default = ? AND is_active = ?", customerID, true, true).
		First(&method).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}

// GetPaymentMethod loads a method by ID, nil when it no longer exists
func (r *Repository) GetPaymentMethod(ctx context.Context, methodID uint) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	err := r.db.WithContext(ctx).First(&method, methodID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}

// CreateAttempt appends a payment attempt row
func (r *Repository) CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

// MarkInvoicePaid transitions the invoice to paid and completes its attempt
// as success in a single transaction.
func (r *Repository) MarkInvoicePaid(ctx context.Context, invoiceID, attemptID uint, gatewayRef string, paidAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.PerDiemInvoice{}).Where("id = ?", invoiceID).
			Updates(map[string]interface{}{
				"status":        models.InvoiceStatusPaid,
				"paid_at":       paidAt,
				"next_retry_at": nil,
			}).Error
		if err != nil {
			return err
		}
		return tx.Model(&models.PaymentAttempt{}).Where("id = ?", attemptID).
			Updates(map[string]interface{}{
				"status":       models.AttemptStatusSuccess,
				"gateway_ref":  gatewayRef,
				"completed_at": paidAt,
			}).Error
	})
}

// RecordFailedAttempt completes the attempt as failed and applies the retry
// decision to the invoice in one transaction. attemptID 0 means no attempt
// row was written (terminal failure without a gateway call).
func (r *Repository) RecordFailedAttempt(ctx context.Context, invoiceID, attemptID uint, reason string, decision billing.RetryDecision, completedAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if attemptID != 0 {
			err := tx.Model(&models.PaymentAttempt{}).Where("id = ?", attemptID).
				Updates(map[string]interface{}{
					"status":         models.AttemptStatusFailed,
					"failure_reason": reason,
					"completed_at":   completedAt,
				}).Error
			if err != nil {
				return err
			}
		}

		updates := map[string]interface{}{
			"retry_count":         decision.RetryCount,
			"last_failure_reason": reason,
		}
		if decision.Terminal {
			updates["status"] = models.InvoiceStatusFailed
			updates["next_retry_at"] = nil
		} else {
			updates["next_retry_at"] = decision.NextRetryAt
		}
		return tx.Model(&models.PerDiemInvoice{}).Where("id = ?", invoiceID).Updates(updates).Error
	})
}

// ListDueRetries fetches pending invoices whose retry window has opened and
// whose retry budget is not exhausted.
func (r *Repository) ListDueRetries(ctx context.Context, now time.Time, maxRetries int) ([]models.PerDiemInvoice, error) {
	var invoices []models.PerDiemInvoice
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ? AND retry_count < ?",
			models.InvoiceStatusPending, now, maxRetries).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// GetCampaignByInvoice loads the campaign for an invoice, nil when none exists
func (r *Repository) GetCampaignByInvoice(ctx context.Context, invoiceID uint) (*models.DunningCampaign, error) {
	var campaign models.DunningCampaign
	err := r.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).First(&campaign).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &campaign, nil
}

// CreateCampaign opens a new dunning campaign
func (r *Repository) CreateCampaign(ctx context.Context, campaign *models.DunningCampaign) error {
	return r.db.WithContext(ctx).Create(campaign).Error
}

// EscalateCampaign moves an existing campaign to a later stage
func (r *Repository) EscalateCampaign(ctx context.Context, campaignID uint, stage models.DunningStage, nextActionAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.DunningCampaign{}).Where("id = ?", campaignID).
		Updates(map[string]interface{}{
			"stage":          stage,
			"next_action_at": nextActionAt,
		}).Error
}

// ListCustomerInvoices fetches a customer's invoices billed inside [from, to)
func (r *Repository) ListCustomerInvoices(ctx context.Context, customerID uint, from, to time.Time) ([]models.PerDiemInvoice, error) {
	var invoices []models.PerDiemInvoice
	err := r.db.WithContext(ctx).
		Joins("JOIN leasing_contracts ON leasing_contracts.id = per_diem_invoices.contract_id").
		Where("leasing_contracts.customer_id = ? AND per_diem_invoices.billing_date >= ? AND per_diem_invoices.billing_date < ?",
			customerID, from, to).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// ListInvoices is the API listing query, optionally filtered by contract and
// status, newest first, line items preloaded.
func (r *Repository) ListInvoices(ctx context.Context, contractID *uint, status string, limit int) ([]models.PerDiemInvoice, error) {
	q := r.db.WithContext(ctx).Preload("Items").Order("billing_date DESC")
	if contractID != nil {
		q = q.Where("contract_id = ?", *contractID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var invoices []models.PerDiemInvoice
	if err := q.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// ListAttempts fetches the attempt log of one invoice, oldest first
func (r *Repository) ListAttempts(ctx context.Context, invoiceID uint) ([]models.PaymentAttempt, error) {
	var attempts []models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("attempt_number ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}
