package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"leasebill_app_echo/internal/models"
)

type paidCall struct {
	invoiceID  uint
	attemptID  uint
	gatewayRef string
}

type failureCall struct {
	invoiceID uint
	attemptID uint
	reason    string
	decision  RetryDecision
}

type escalateCall struct {
	campaignID uint
	stage      models.DunningStage
}

// stubStore is an in-memory Store that records every mutation
type stubStore struct {
	contracts        []models.LeasingContract
	contractsErr     error
	containers       map[uint][]models.ContractContainer
	containersErr    map[uint]error
	hasInvoice       map[uint]bool
	defaultMethod    map[uint]*models.PaymentMethod
	defaultMethodErr error
	methodByID       map[uint]*models.PaymentMethod
	dueRetries       []models.PerDiemInvoice
	campaigns        map[uint]*models.DunningCampaign

	createdInvoices []*models.PerDiemInvoice
	createdItems    [][]models.PerDiemInvoiceItem
	attempts        []*models.PaymentAttempt
	paid            []paidCall
	failures        []failureCall
	escalations     []escalateCall
}

func newStubStore() *stubStore {
	return &stubStore{
		containers:    make(map[uint][]models.ContractContainer),
		containersErr: make(map[uint]error),
		hasInvoice:    make(map[uint]bool),
		defaultMethod: make(map[uint]*models.PaymentMethod),
		methodByID:    make(map[uint]*models.PaymentMethod),
		campaigns:     make(map[uint]*models.DunningCampaign),
	}
}

func (s *stubStore) ListBillableContracts(ctx context.Context, asOf time.Time) ([]models.LeasingContract, error) {
	return s.contracts, s.contractsErr
}

func (s *stubStore) ListOverdueContainers(ctx context.Context, contractID uint) ([]models.ContractContainer, error) {
	return s.containers[contractID], s.containersErr[contractID]
}

func (s *stubStore) HasInvoiceForDay(ctx context.Context, contractID uint, dayStart, dayEnd time.Time) (bool, error) {
	return s.hasInvoice[contractID], nil
}

func (s *stubStore) CreateInvoiceWithItems(ctx context.Context, invoice *models.PerDiemInvoice, items []models.PerDiemInvoiceItem) error {
	invoice.ID = uint(len(s.createdInvoices) + 1)
	s.createdInvoices = append(s.createdInvoices, invoice)
	s.createdItems = append(s.createdItems, items)
	return nil
}

func (s *stubStore) DefaultPaymentMethod(ctx context.Context, customerID uint) (*models.PaymentMethod, error) {
	if s.defaultMethodErr != nil {
		return nil, s.defaultMethodErr
	}
	return s.defaultMethod[customerID], nil
}

func (s *stubStore) GetPaymentMethod(ctx context.Context, methodID uint) (*models.PaymentMethod, error) {
	return s.methodByID[methodID], nil
}

func (s *stubStore) CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error {
	attempt.ID = uint(len(s.attempts) + 1)
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *stubStore) MarkInvoicePaid(ctx context.Context, invoiceID, attemptID uint, gatewayRef string, paidAt time.Time) error {
	s.paid = append(s.paid, paidCall{invoiceID: invoiceID, attemptID: attemptID, gatewayRef: gatewayRef})
	return nil
}

func (s *stubStore) RecordFailedAttempt(ctx context.Context, invoiceID, attemptID uint, reason string, decision RetryDecision, completedAt time.Time) error {
	s.failures = append(s.failures, failureCall{invoiceID: invoiceID, attemptID: attemptID, reason: reason, decision: decision})
	return nil
}

func (s *stubStore) ListDueRetries(ctx context.Context, now time.Time, maxRetries int) ([]models.PerDiemInvoice, error) {
	return s.dueRetries, nil
}

func (s *stubStore) GetCampaignByInvoice(ctx context.Context, invoiceID uint) (*models.DunningCampaign, error) {
	return s.campaigns[invoiceID], nil
}

func (s *stubStore) CreateCampaign(ctx context.Context, campaign *models.DunningCampaign) error {
	campaign.ID = uint(len(s.campaigns) + 1)
	s.campaigns[campaign.InvoiceID] = campaign
	return nil
}

func (s *stubStore) EscalateCampaign(ctx context.Context, campaignID uint, stage models.DunningStage, nextActionAt time.Time) error {
	s.escalations = append(s.escalations, escalateCall{campaignID: campaignID, stage: stage})
	for _, c := range s.campaigns {
		if c.ID == campaignID {
			c.Stage = stage
			c.NextActionAt = nextActionAt
		}
	}
	return nil
}

func (s *stubStore) ListCustomerInvoices(ctx context.Context, customerID uint, from, to time.Time) ([]models.PerDiemInvoice, error) {
	var out []models.PerDiemInvoice
	for _, inv := range s.createdInvoices {
		out = append(out, *inv)
	}
	return out, nil
}

type stubGateway struct {
	ref        string
	err        error
	calls      int
	lastAmount decimal.Decimal
	lastToken  string
}

func (g *stubGateway) Charge(ctx context.Context, token, orderID string, amount decimal.Decimal, currency string) (string, error) {
	g.calls++
	g.lastToken = token
	g.lastAmount = amount
	return g.ref, g.err
}

type stubNotifier struct {
	campaigns []*models.DunningCampaign
}

func (n *stubNotifier) CampaignOpened(ctx context.Context, campaign *models.DunningCampaign) error {
	n.campaigns = append(n.campaigns, campaign)
	return nil
}

type stubLocker struct {
	acquired bool
	err      error
	calls    int
}

func (l *stubLocker) AcquireBillingLock(ctx context.Context, contractID uint, day time.Time) (bool, error) {
	l.calls++
	return l.acquired, l.err
}

var testDay = time.Date(2026, 3, 15, 8, 30, 0, 0, time.UTC)

func testContract(id uint, rate int64) models.LeasingContract {
	return models.LeasingContract{
		ID:             id,
		CustomerID:     id + 100,
		ContractNumber: "LC-2026-001",
		PerDiemRate:    decimal.NewFromInt(rate),
		Currency:       "EUR",
		Status:         models.ContractStatusActive,
	}
}

func pickedUp(contractID uint, number string) models.ContractContainer {
	return models.ContractContainer{
		ContractID:      contractID,
		ContainerNumber: number,
		ContainerType:   "40HC",
		Status:          models.ContainerStatusPickedUp,
	}
}

func returned(contractID uint, number string, at time.Time) models.ContractContainer {
	return models.ContractContainer{
		ContractID:      contractID,
		ContainerNumber: number,
		ContainerType:   "40HC",
		Status:          models.ContainerStatusReturned,
		ReturnDate:      &at,
	}
}

func TestRunBillingCycleChargesOverdueContract(t *testing.T) {
	store := newStubStore()
	contract := testContract(1, 50)
	store.contracts = []models.LeasingContract{contract}
	store.containers[1] = []models.ContractContainer{
		pickedUp(1, "MSKU1000001"),
		pickedUp(1, "MSKU1000002"),
		pickedUp(1, "MSKU1000003"),
	}
	store.defaultMethod[contract.CustomerID] = &models.PaymentMethod{ID: 7, Token: "tok_abc", IsActive: true}

	gateway := &stubGateway{ref: "txn-123"}
	engine := NewEngine(store, gateway, nil, nil, DefaultConfig())

	result, err := engine.RunBillingCycle(context.Background(), testDay)
	if err != nil {
		t.Fatalf("RunBillingCycle returned error: %v", err)
	}

	if result.InvoicesCreated != 1 || result.ChargesSucceeded != 1 {
		t.Errorf("got invoices=%d succeeded=%d; want 1 and 1", result.InvoicesCreated, result.ChargesSucceeded)
	}
	if len(store.createdInvoices) != 1 {
		t.Fatalf("got %d invoices; want 1", len(store.createdInvoices))
	}

	invoice := store.createdInvoices[0]
	if got := invoice.TotalAmount.StringFixed(2); got != "150.00" {
		t.Errorf("total = %s; want 150.00", got)
	}
	if invoice.ContainerCount != 3 {
		t.Errorf("container count = %d; want 3", invoice.ContainerCount)
	}
	if invoice.InvoiceNumber != "LC-2026-001-20260315" {
		t.Errorf("invoice number = %s; want LC-2026-001-20260315", invoice.InvoiceNumber)
	}
	if len(store.createdItems[0]) != 3 {
		t.Errorf("got %d items; want 3", len(store.createdItems[0]))
	}

	if gateway.calls != 1 {
		t.Errorf("gateway calls = %d; want 1", gateway.calls)
	}
	if gateway.lastToken != "tok_abc" {
		t.Errorf("charged token = %s; want tok_abc", gateway.lastToken)
	}
	if !gateway.lastAmount.Equal(decimal.NewFromInt(150)) {
		t.Errorf("charged amount = %s; want 150", gateway.lastAmount)
	}

	if len(store.paid) != 1 || store.paid[0].gatewayRef != "txn-123" {
		t.Errorf("paid calls = %+v; want one with ref txn-123", store.paid)
	}
	if len(store.attempts) != 1 || store.attempts[0].AttemptNumber != 1 {
		t.Errorf("attempts = %+v; want one with number 1", store.attempts)
	}
}

func TestRunBillingCycleExcludesReturnedContainers(t *testing.T) {
	store := newStubStore()
	contract := testContract(1, 75)
	store.contracts = []models.LeasingContract{contract}
	store.containers[1] = []models.ContractContainer{
		pickedUp(1, "MSKU2000001"),
		returned(1, "MSKU2000002", testDay.AddDate(0, 0, -2)),
		pickedUp(1, "MSKU2000003"),
	}
	store.defaultMethod[contract.CustomerID] = &models.PaymentMethod{ID: 7, Token: "tok", IsActive: true}

	engine := NewEngine(store, &stubGateway{ref: "ok"}, nil, nil, DefaultConfig())
	if _, err := engine.RunBillingCycle(context.Background(), testDay); err != nil {
		t.Fatalf("RunBillingCycle returned error: %v", err)
	}

	if len(store.createdInvoices) != 1 {
		t.Fatalf("got %d invoices; want 1", len(store.createdInvoices))
	}
	invoice := store.createdInvoices[0]
	if got := invoice.TotalAmount.StringFixed(2); got != "150.00" {
		t.Errorf("total = %s; want 150.00 (two containers at 75)", got)
	}
	if invoice.ContainerCount != 2 {
		t.Errorf("container count = %d; want 2", invoice.ContainerCount)
	}
	for _, item := range store.createdItems[0] {
		if item.ContainerNumber == "MSKU2000002" {
			t.Error("returned container MSKU2000002 must not be billed")
		}
	}
}

func TestRunBillingCycleSkipsFullyReturnedContract(t *testing.T) {
	store := newStubStore()
	store.contracts = []models.LeasingContract{testContract(1, 50)}
	store.containers[1] = []models.ContractContainer{
		returned(1, "MSKU3000001", testDay.AddDate(0, 0, -1)),
	}

	gateway := &stubGateway{}
	engine := NewEngine(store, gateway, nil, nil, DefaultConfig())
	result, err := engine.RunBillingCycle(context.Background(), testDay)
	if err != nil {
		t.Fatalf("RunBillingCycle returned error: %v", err)
	}

	if result.Skipped != 1 || result.InvoicesCreated != 0 {
		t.Errorf("got skipped=%d invoices=%d; want 1 and 0", result.Skipped, result.InvoicesCreated)
	}
	if gateway.calls != 0 {
		t.Errorf("gateway calls = %d; want 0", gateway.calls)
	}
}

func TestRunBillingCycleIsIdempotentPerDay(t *testing.T) {
	store := newStubStore()
	contract := testContract(1, 50)
	store.contracts = []models.LeasingContract{contract}
	store.containers[1] = []models.ContractContainer{pickedUp(1, "MSKU4000001")}
	store.hasInvoice[1] = true
	store.defaultMethod[contract.CustomerID] = &models.PaymentMethod{ID: 7, Token: "tok", IsActive: true}

	gateway := &stubGateway{}
	engine := NewEngine(store, gateway, nil, nil, DefaultConfig())
	result, err := engine.RunBillingCycle(context.Background(), testDay)
	if err != nil {
		t.Fatalf("RunBillingCycle returned error: %v", err)
	}

	if result.InvoicesCreated != 0 || result.Skipped != 1 {
		t.Errorf("got invoices=%d skipped=%d; want 0 and 1", result.InvoicesCreated, result.Skipped)
	}
	if len(store.attempts) != 0 || gateway.calls != 0 {
		t.Error("idempotent rerun must not charge again")
	}
}

func TestRunBillingCycleWithoutPaymentMethodOpensReminder(t *testing.T) {
	store := newStubStore()
	store.contracts = []models.LeasingContract{testContract(1, 50)}
	store.containers[1] = []models.ContractContainer{pickedUp(1, "MSKU5000001")}

	gateway := &stubGateway{}
	notifier := &stubNotifier{}
	engine := NewEngine(store, gateway, notifier, nil, DefaultConfig())
	result, err := engine.RunBillingCycle(context.Background(), testDay)
	if err != nil {
		t.Fatalf("RunBillingCycle returned error: %v", err)
	}

	if result.InvoicesCreated != 1 {
		t.Errorf("invoices = %d; want 1", result.InvoicesCreated)
	}
	if gateway.calls != 0 {
		t.Errorf("gateway calls = %d; want 0 without a payment method", gateway.calls)
	}

	campaign := store.campaigns[1]
	if campaign == nil {
		t.Fatal("expected a dunning campaign for the unpayable invoice")
	}
	if campaign.Stage != models.DunningStageReminder {
		t.Errorf("campaign stage = %s; want reminder", campaign.Stage)
	}
	if len(notifier.campaigns) != 1 {
		t.Errorf("notifier calls = %d; want 1", len(notifier.campaigns))
	}
}

func TestRunBillingCycleIsolatesContractErrors(t *testing.T) {
	store := newStubStore()
	broken := testContract(1, 50)
	healthy := testContract(2, 50)
	healthy.ContractNumber = "LC-2026-002"
	store.contracts = []models.LeasingContract{broken, healthy}
	store.containersErr[1] = errors.New("db timeout")
	store.containers[2] = []models.ContractContainer{pickedUp(2, "MSKU6000001")}
	store.defaultMethod[healthy.CustomerID] = &models.PaymentMethod{ID: 7, Token: "tok", IsActive: true}

	engine := NewEngine(store, &stubGateway{ref: "ok"}, nil, nil, DefaultConfig())
	result, err := engine.RunBillingCycle(context.Background(), testDay)
	if err != nil {
		t.Fatalf("RunBillingCycle returned error: %v", err)
	}

	if result.Errors != 1 {
		t.Errorf("errors = %d; want 1", result.Errors)
	}
	if result.InvoicesCreated != 1 {
		t.Errorf("invoices = %d; one contract failing must not block the other", result.InvoicesCreated)
	}
	if store.createdInvoices[0].ContractID != 2 {
		t.Errorf("billed contract = %d; want 2", store.createdInvoices[0].ContractID)
	}
}

func TestRunBillingCycleRejectsInvalidRate(t *testing.T) {
	store := newStubStore()
	store.contracts = []models.LeasingContract{testContract(1, 0)}
	store.containers[1] = []models.ContractContainer{pickedUp(1, "MSKU7000001")}

	engine := NewEngine(store, &stubGateway{}, nil, nil, DefaultConfig())
	result, err := engine.RunBillingCycle(context.Background(), testDay)
	if err != nil {
		t.Fatalf("RunBillingCycle returned error: %v", err)
	}

	if result.Errors != 1 || result.InvoicesCreated != 0 {
		t.Errorf("got errors=%d invoices=%d; want 1 and 0", result.Errors, result.InvoicesCreated)
	}
}

func TestFailedChargeSchedulesRetry(t *testing.T) {
	store := newStubStore()
	contract := testContract(1, 50)
	store.contracts = []models.LeasingContract{contract}
	store.containers[1] = []models.ContractContainer{pickedUp(1, "MSKU8000001")}
	store.defaultMethod[contract.CustomerID] = &models.PaymentMethod{ID: 7, Token: "tok", IsActive: true}

	engine := NewEngine(store, &stubGateway{err: errors.New("card declined")}, &stubNotifier{}, nil, DefaultConfig())
	result, err := engine.RunBillingCycle(context.Background(), testDay)
	if err != nil {
		t.Fatalf("RunBillingCycle returned error: %v", err)
	}

	if result.ChargesFailed != 1 {
		t.Errorf("failed = %d; want 1", result.ChargesFailed)
	}
	if len(store.failures) != 1 {
		t.Fatalf("failure records = %d; want 1", len(store.failures))
	}

	failure := store.failures[0]
	if failure.decision.Terminal {
		t.Error("first failure must schedule a retry, not terminate")
	}
	if failure.decision.RetryCount != 1 {
		t.Errorf("retry count = %d; want 1", failure.decision.RetryCount)
	}
	wantRetry := testDay.Add(24 * time.Hour)
	if failure.decision.NextRetryAt == nil || !failure.decision.NextRetryAt.Equal(wantRetry) {
		t.Errorf("next retry = %v; want %v", failure.decision.NextRetryAt, wantRetry)
	}
	if failure.reason != "card declined" {
		t.Errorf("reason = %q; want card declined", failure.reason)
	}
	if len(store.campaigns) != 0 {
		t.Error("a retryable failure must not open a campaign yet")
	}
}

func TestRetrySweepSucceedsAfterEarlierFailures(t *testing.T) {
	store := newStubStore()
	store.dueRetries = []models.PerDiemInvoice{{
		ID:              10,
		InvoiceNumber:   "LC-2026-001-20260314",
		TotalAmount:     decimal.NewFromInt(50),
		Currency:        "EUR",
		Status:          models.InvoiceStatusPending,
		RetryCount:      1,
		PaymentMethodID: ptrUint(7),
	}}
	store.methodByID[7] = &models.PaymentMethod{ID: 7, Token: "tok", IsActive: true}

	engine := NewEngine(store, &stubGateway{ref: "txn-999"}, nil, nil, DefaultConfig())
	result := engine.RunRetrySweep(context.Background(), testDay)

	if result.RetriesAttempted != 1 || result.ChargesSucceeded != 1 {
		t.Errorf("got retries=%d succeeded=%d; want 1 and 1", result.RetriesAttempted, result.ChargesSucceeded)
	}
	if len(store.attempts) != 1 || store.attempts[0].AttemptNumber != 2 {
		t.Errorf("attempts = %+v; want one with number 2", store.attempts)
	}
	if len(store.paid) != 1 || store.paid[0].invoiceID != 10 {
		t.Errorf("paid = %+v; want invoice 10", store.paid)
	}
}

func TestRetrySweepExhaustionOpensWarning(t *testing.T) {
	store := newStubStore()
	store.dueRetries = []models.PerDiemInvoice{{
		ID:              10,
		InvoiceNumber:   "LC-2026-001-20260313",
		TotalAmount:     decimal.NewFromInt(50),
		Currency:        "EUR",
		Status:          models.InvoiceStatusPending,
		RetryCount:      2,
		PaymentMethodID: ptrUint(7),
	}}
	store.methodByID[7] = &models.PaymentMethod{ID: 7, Token: "tok", IsActive: true}

	notifier := &stubNotifier{}
	engine := NewEngine(store, &stubGateway{err: errors.New("card declined")}, notifier, nil, DefaultConfig())
	result := engine.RunRetrySweep(context.Background(), testDay)

	if result.ChargesFailed != 1 {
		t.Errorf("failed = %d; want 1", result.ChargesFailed)
	}
	if len(store.failures) != 1 {
		t.Fatalf("failure records = %d; want 1", len(store.failures))
	}
	failure := store.failures[0]
	if !failure.decision.Terminal || failure.decision.RetryCount != 3 {
		t.Errorf("decision = %+v; want terminal at attempt 3", failure.decision)
	}

	campaign := store.campaigns[10]
	if campaign == nil {
		t.Fatal("expected a warning campaign after exhausting retries")
	}
	if campaign.Stage != models.DunningStageWarning {
		t.Errorf("stage = %s; want warning", campaign.Stage)
	}
	if len(store.campaigns) != 1 {
		t.Errorf("campaigns = %d; want exactly one per invoice", len(store.campaigns))
	}
	if len(notifier.campaigns) != 1 {
		t.Errorf("notifier calls = %d; want 1", len(notifier.campaigns))
	}
}

func TestRetrySweepInactiveMethodTerminatesWithoutCharge(t *testing.T) {
	store := newStubStore()
	store.dueRetries = []models.PerDiemInvoice{{
		ID:              11,
		InvoiceNumber:   "LC-2026-001-20260312",
		TotalAmount:     decimal.NewFromInt(50),
		Currency:        "EUR",
		Status:          models.InvoiceStatusPending,
		RetryCount:      1,
		PaymentMethodID: ptrUint(8),
	}}
	store.methodByID[8] = &models.PaymentMethod{ID: 8, Token: "tok", IsActive: false}

	gateway := &stubGateway{}
	engine := NewEngine(store, gateway, nil, nil, DefaultConfig())
	engine.RunRetrySweep(context.Background(), testDay)

	if gateway.calls != 0 {
		t.Errorf("gateway calls = %d; want 0 for an inactive method", gateway.calls)
	}
	if len(store.attempts) != 0 {
		t.Errorf("attempts = %d; want no attempt row without a gateway call", len(store.attempts))
	}
	if len(store.failures) != 1 || !store.failures[0].decision.Terminal {
		t.Errorf("failures = %+v; want one terminal record", store.failures)
	}
	if campaign := store.campaigns[11]; campaign == nil || campaign.Stage != models.DunningStageWarning {
		t.Errorf("campaign = %+v; want a warning campaign", campaign)
	}
}

func TestCampaignEscalationIsMonotonic(t *testing.T) {
	store := newStubStore()
	engine := NewEngine(store, &stubGateway{}, nil, nil, DefaultConfig())
	ctx := context.Background()

	engine.openOrEscalateCampaign(ctx, 5, models.DunningStageReminder, testDay)
	if got := store.campaigns[5]; got == nil || got.Stage != models.DunningStageReminder {
		t.Fatalf("campaign = %+v; want reminder", got)
	}

	// Repeat at the same stage is a no-op
	engine.openOrEscalateCampaign(ctx, 5, models.DunningStageReminder, testDay)
	if len(store.escalations) != 0 {
		t.Errorf("escalations = %d; want 0 for a same-stage repeat", len(store.escalations))
	}

	// Escalate to warning
	engine.openOrEscalateCampaign(ctx, 5, models.DunningStageWarning, testDay)
	if len(store.escalations) != 1 || store.escalations[0].stage != models.DunningStageWarning {
		t.Fatalf("escalations = %+v; want one to warning", store.escalations)
	}

	// A warning never downgrades
	engine.openOrEscalateCampaign(ctx, 5, models.DunningStageReminder, testDay)
	if len(store.escalations) != 1 {
		t.Errorf("escalations = %d; want no downgrade from warning", len(store.escalations))
	}
	if store.campaigns[5].Stage != models.DunningStageWarning {
		t.Errorf("stage = %s; want warning retained", store.campaigns[5].Stage)
	}
}

func TestBillingLockContendedSkipsContract(t *testing.T) {
	store := newStubStore()
	store.contracts = []models.LeasingContract{testContract(1, 50)}
	store.containers[1] = []models.ContractContainer{pickedUp(1, "MSKU9000001")}

	locker := &stubLocker{acquired: false}
	engine := NewEngine(store, &stubGateway{}, nil, locker, DefaultConfig())
	result, err := engine.RunBillingCycle(context.Background(), testDay)
	if err != nil {
		t.Fatalf("RunBillingCycle returned error: %v", err)
	}

	if locker.calls != 1 {
		t.Errorf("lock calls = %d; want 1", locker.calls)
	}
	if result.Skipped != 1 || len(store.createdInvoices) != 0 {
		t.Errorf("got skipped=%d invoices=%d; contended lock must skip", result.Skipped, len(store.createdInvoices))
	}
}

func TestBillingLockErrorDoesNotBlockBilling(t *testing.T) {
	store := newStubStore()
	contract := testContract(1, 50)
	store.contracts = []models.LeasingContract{contract}
	store.containers[1] = []models.ContractContainer{pickedUp(1, "MSKU9100001")}
	store.defaultMethod[contract.CustomerID] = &models.PaymentMethod{ID: 7, Token: "tok", IsActive: true}

	locker := &stubLocker{err: errors.New("redis down")}
	engine := NewEngine(store, &stubGateway{ref: "ok"}, nil, locker, DefaultConfig())
	result, err := engine.RunBillingCycle(context.Background(), testDay)
	if err != nil {
		t.Fatalf("RunBillingCycle returned error: %v", err)
	}

	if result.InvoicesCreated != 1 {
		t.Errorf("invoices = %d; a lock error must fall back to the unique index", result.InvoicesCreated)
	}
}

func ptrUint(v uint) *uint { return &v }

// persistStore stores value snapshots of invoice rows and applies only the
// column updates the repository writes, so the engine sees rows the way a
// later pass would load them from the database.
type persistStore struct {
	*stubStore
	rows map[uint]models.PerDiemInvoice
}

func newPersistStore() *persistStore {
	return &persistStore{stubStore: newStubStore(), rows: make(map[uint]models.PerDiemInvoice)}
}

func (s *persistStore) CreateInvoiceWithItems(ctx context.Context, invoice *models.PerDiemInvoice, items []models.PerDiemInvoiceItem) error {
	if err := s.stubStore.CreateInvoiceWithItems(ctx, invoice, items); err != nil {
		return err
	}
	s.rows[invoice.ID] = *invoice
	return nil
}

func (s *persistStore) MarkInvoicePaid(ctx context.Context, invoiceID, attemptID uint, gatewayRef string, paidAt time.Time) error {
	if err := s.stubStore.MarkInvoicePaid(ctx, invoiceID, attemptID, gatewayRef, paidAt); err != nil {
		return err
	}
	row := s.rows[invoiceID]
	row.Status = models.InvoiceStatusPaid
	row.PaidAt = &paidAt
	row.NextRetryAt = nil
	s.rows[invoiceID] = row
	return nil
}

func (s *persistStore) RecordFailedAttempt(ctx context.Context, invoiceID, attemptID uint, reason string, decision RetryDecision, completedAt time.Time) error {
	if err := s.stubStore.RecordFailedAttempt(ctx, invoiceID, attemptID, reason, decision, completedAt); err != nil {
		return err
	}
	row := s.rows[invoiceID]
	row.RetryCount = decision.RetryCount
	r := reason
	row.LastFailureReason = &r
	if decision.Terminal {
		row.Status = models.InvoiceStatusFailed
		row.NextRetryAt = nil
	} else {
		row.NextRetryAt = decision.NextRetryAt
	}
	s.rows[invoiceID] = row
	return nil
}

func (s *persistStore) ListDueRetries(ctx context.Context, now time.Time, maxRetries int) ([]models.PerDiemInvoice, error) {
	var due []models.PerDiemInvoice
	for _, row := range s.rows {
		if row.Status == models.InvoiceStatusPending &&
			row.NextRetryAt != nil && !row.NextRetryAt.After(now) &&
			row.RetryCount < maxRetries {
			due = append(due, row)
		}
	}
	return due, nil
}

func TestRetrySweepReusesStoredPaymentMethod(t *testing.T) {
	store := newPersistStore()
	contract := testContract(1, 50)
	store.contracts = []models.LeasingContract{contract}
	store.containers[1] = []models.ContractContainer{
		pickedUp(1, "MSKU1100001"),
		pickedUp(1, "MSKU1100002"),
	}
	method := &models.PaymentMethod{ID: 7, Token: "tok_abc", IsActive: true}
	store.defaultMethod[contract.CustomerID] = method
	store.methodByID[7] = method

	gateway := &stubGateway{err: errors.New("insufficient funds")}
	notifier := &stubNotifier{}
	engine := NewEngine(store, gateway, notifier, nil, DefaultConfig())
	ctx := context.Background()

	// Day 1, generation plus the first failed charge
	if _, err := engine.RunBillingCycle(ctx, testDay); err != nil {
		t.Fatalf("RunBillingCycle returned error: %v", err)
	}
	if gateway.calls != 1 {
		t.Fatalf("gateway calls = %d; want 1 after generation", gateway.calls)
	}

	row := store.rows[1]
	if row.PaymentMethodID == nil || *row.PaymentMethodID != 7 {
		t.Fatalf("stored payment_method_id = %v; want 7 persisted at creation", row.PaymentMethodID)
	}
	if row.RetryCount != 1 || row.Status != models.InvoiceStatusPending {
		t.Fatalf("stored row = retryCount %d, status %s; want 1 and pending", row.RetryCount, row.Status)
	}

	// Next-day sweep loads the row fresh and must charge again
	engine.RunRetrySweep(ctx, testDay.Add(25*time.Hour))
	if gateway.calls != 2 {
		t.Fatalf("gateway calls = %d; want 2, sweep must retry with the stored method", gateway.calls)
	}
	if len(store.attempts) != 2 || store.attempts[1].AttemptNumber != 2 {
		t.Errorf("attempts = %+v; want a second attempt numbered 2", store.attempts)
	}
	if len(store.campaigns) != 0 {
		t.Error("no campaign may open before the retry bound is exhausted")
	}

	// Third failure exhausts the bound
	engine.RunRetrySweep(ctx, testDay.Add(49*time.Hour))
	if gateway.calls != 3 {
		t.Fatalf("gateway calls = %d; want 3", gateway.calls)
	}
	row = store.rows[1]
	if row.Status != models.InvoiceStatusFailed || row.RetryCount != 3 {
		t.Errorf("row = status %s, retryCount %d; want failed and 3", row.Status, row.RetryCount)
	}
	if campaign := store.campaigns[1]; campaign == nil || campaign.Stage != models.DunningStageWarning {
		t.Errorf("campaign = %+v; want a warning after exhaustion", campaign)
	}

	// A failed invoice never gets a fourth automatic charge
	engine.RunRetrySweep(ctx, testDay.Add(73*time.Hour))
	if gateway.calls != 3 {
		t.Errorf("gateway calls = %d; want still 3 after exhaustion", gateway.calls)
	}
}

func TestPaymentMethodLookupErrorLeavesNoInvoice(t *testing.T) {
	store := newStubStore()
	store.contracts = []models.LeasingContract{testContract(1, 50)}
	store.containers[1] = []models.ContractContainer{pickedUp(1, "MSKU1200001")}
	store.defaultMethodErr = errors.New("db timeout")

	engine := NewEngine(store, &stubGateway{}, nil, nil, DefaultConfig())
	result, err := engine.RunBillingCycle(context.Background(), testDay)
	if err != nil {
		t.Fatalf("RunBillingCycle returned error: %v", err)
	}

	if result.Errors != 1 {
		t.Errorf("errors = %d; want 1", result.Errors)
	}
	if len(store.createdInvoices) != 0 {
		t.Errorf("invoices = %d; a failed method lookup must not strand a pending invoice", len(store.createdInvoices))
	}
}
