package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"leasebill_app_echo/internal/models"
)

// Defaults for the collection policy. MaxRetryAttempts bounds automatic
// charges per invoice; once exhausted the invoice is terminal for automatic
// collection and goes to dunning.
const (
	DefaultMaxRetryAttempts = 3
	DefaultRetryInterval    = 24 * time.Hour
	DefaultGraceDays        = 1
	DefaultGatewayTimeout   = 30 * time.Second
)

// Store is the contract/container/invoice persistence boundary of the engine.
// Reads on contracts, containers and payment methods; writes on invoices,
// attempts and campaigns. Mutations that must not leave partial state
// (invoice+items, paid+success, failed+retry bookkeeping) are single calls so
// the implementation can wrap them in one transaction.
type Store interface {
	ListBillableContracts(ctx context.Context, asOf time.Time) ([]models.LeasingContract, error)
	ListOverdueContainers(ctx context.Context, contractID uint) ([]models.ContractContainer, error)
	HasInvoiceForDay(ctx context.Context, contractID uint, dayStart, dayEnd time.Time) (bool, error)
	CreateInvoiceWithItems(ctx context.Context, invoice *models.PerDiemInvoice, items []models.PerDiemInvoiceItem) error
	DefaultPaymentMethod(ctx context.Context, customerID uint) (*models.PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, methodID uint) (*models.PaymentMethod, error)
	CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error
	MarkInvoicePaid(ctx context.Context, invoiceID, attemptID uint, gatewayRef string, paidAt time.Time) error
	RecordFailedAttempt(ctx context.Context, invoiceID, attemptID uint, reason string, decision RetryDecision, completedAt time.Time) error
	ListDueRetries(ctx context.Context, now time.Time, maxRetries int) ([]models.PerDiemInvoice, error)
	GetCampaignByInvoice(ctx context.Context, invoiceID uint) (*models.DunningCampaign, error)
	CreateCampaign(ctx context.Context, campaign *models.DunningCampaign) error
	EscalateCampaign(ctx context.Context, campaignID uint, stage models.DunningStage, nextActionAt time.Time) error
	ListCustomerInvoices(ctx context.Context, customerID uint, from, to time.Time) ([]models.PerDiemInvoice, error)
}

// Gateway charges a stored payment method token. One call per attempt; the
// engine bounds the call with a timeout and treats any error, timeout
// included, as a normal failed attempt.
type Gateway interface {
	Charge(ctx context.Context, token, orderID string, amount decimal.Decimal, currency string) (gatewayRef string, err error)
}

// Notifier delivers dunning campaign events. Fire-and-forget: delivery
// failures are the channel's concern and are only logged here.
type Notifier interface {
	CampaignOpened(ctx context.Context, campaign *models.DunningCampaign) error
}

// Locker gates concurrent billing of the same contract on the same day when
// several runners share a deployment. A nil locker or a lock error never
// blocks billing; the unique index on (contract_id, billing_date) is the
// final arbiter.
type Locker interface {
	AcquireBillingLock(ctx context.Context, contractID uint, day time.Time) (bool, error)
}

// Config tunes the collection policy of an Engine
type Config struct {
	MaxRetryAttempts int
	RetryInterval    time.Duration
	GraceDays        int
	GatewayTimeout   time.Duration
}

// DefaultConfig returns the stock collection policy
func DefaultConfig() Config {
	return Config{
		MaxRetryAttempts: DefaultMaxRetryAttempts,
		RetryInterval:    DefaultRetryInterval,
		GraceDays:        DefaultGraceDays,
		GatewayTimeout:   DefaultGatewayTimeout,
	}
}

// Engine runs the per-diem billing pass: eligibility, invoice generation,
// charge attempts, bounded retries and dunning escalation. It is stateless
// between invocations; all retry state lives in the invoice rows so a pass
// survives process restarts.
type Engine struct {
	store    Store
	gateway  Gateway
	notifier Notifier
	locker   Locker
	config   Config
}

// NewEngine wires an Engine. notifier and locker may be nil.
func NewEngine(store Store, gateway Gateway, notifier Notifier, locker Locker, cfg Config) *Engine {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.GraceDays <= 0 {
		cfg.GraceDays = DefaultGraceDays
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultGatewayTimeout
	}
	return &Engine{store: store, gateway: gateway, notifier: notifier, locker: locker, config: cfg}
}

// dayBounds returns the [startOfDay, endOfDay) window containing t, in UTC
func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
