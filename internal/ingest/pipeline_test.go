package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saan-system/uprl-core/internal/domain"
	"github.com/saan-system/uprl-core/internal/infrastructure/lock"
	"github.com/saan-system/uprl-core/internal/version"
	"github.com/saan-system/uprl-core/pkg/logger"
)

// fakeStore is a minimal in-memory domain.FactStore covering exactly
// what the pipeline exercises: version reads, appends, idempotency,
// and DLQ writes.
type fakeStore struct {
	mu sync.Mutex

	pricingMaxByOrder map[string]int
	paymentMaxByOrder map[string]int
	supplierMax       map[string]int
	refundMax         map[string]int

	pricingRows   []domain.PricingComponentFact
	paymentEvents []domain.PaymentTimelineFact
	supplierRows  []domain.SupplierTimelineFact
	payableLines  []domain.SupplierPayableLine
	refundRows    []domain.RefundTimelineFact
	dlq           []domain.DLQEntry

	committedEventIDs map[string]bool

	// paymentConflictsRemaining, when > 0, makes the next that many
	// AppendPaymentEvent calls fail with a VersionConflictError before
	// succeeding, simulating a storage-level race lost despite holding
	// the scope lock.
	paymentConflictsRemaining int
	paymentAppendAttempts     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pricingMaxByOrder: make(map[string]int),
		paymentMaxByOrder: make(map[string]int),
		supplierMax:       make(map[string]int),
		refundMax:         make(map[string]int),
		committedEventIDs: make(map[string]bool),
	}
}

func (f *fakeStore) MaxVersion(_ context.Context, family domain.VersionFamily, scopeKey string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch family {
	case domain.FamilyPricing:
		return f.pricingMaxByOrder[scopeKey], nil
	case domain.FamilyPayment:
		return f.paymentMaxByOrder[scopeKey], nil
	case domain.FamilySupplier:
		return f.supplierMax[scopeKey], nil
	case domain.FamilyRefund:
		return f.refundMax[scopeKey], nil
	default:
		return 0, nil
	}
}

func (f *fakeStore) AppendPricingComponents(_ context.Context, rows []domain.PricingComponentFact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(rows) > 0 {
		f.pricingMaxByOrder[rows[0].OrderID] = rows[0].Version
	}
	f.pricingRows = append(f.pricingRows, rows...)
	return nil
}
func (f *fakeStore) PricingComponentsByOrder(_ context.Context, orderID string) ([]domain.PricingComponentFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PricingComponentFact
	for _, r := range f.pricingRows {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeStore) PricingLatest(ctx context.Context, orderID string) ([]domain.PricingComponentFact, error) {
	return f.PricingComponentsByOrder(ctx, orderID)
}

func (f *fakeStore) AppendPaymentEvent(_ context.Context, row domain.PaymentTimelineFact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentAppendAttempts++
	if f.paymentConflictsRemaining > 0 {
		f.paymentConflictsRemaining--
		return &domain.VersionConflictError{Family: string(domain.FamilyPayment), ScopeKey: row.OrderID}
	}
	f.paymentMaxByOrder[row.OrderID] = row.TimelineVersion
	if row.EventID != "" {
		f.committedEventIDs["payment:"+row.EventID] = true
	}
	f.paymentEvents = append(f.paymentEvents, row)
	return nil
}
func (f *fakeStore) PaymentTimelineByOrder(_ context.Context, orderID string) ([]domain.PaymentTimelineFact, error) {
	var out []domain.PaymentTimelineFact
	for _, r := range f.paymentEvents {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeStore) PaymentLatest(_ context.Context, orderID string) (*domain.PaymentTimelineFact, error) {
	var latest *domain.PaymentTimelineFact
	for i, r := range f.paymentEvents {
		if r.OrderID == orderID && (latest == nil || r.TimelineVersion > latest.TimelineVersion) {
			latest = &f.paymentEvents[i]
		}
	}
	if latest == nil {
		return nil, domain.ErrOrderNotFound
	}
	return latest, nil
}

func (f *fakeStore) AppendSupplierEvent(_ context.Context, row domain.SupplierTimelineFact, lines []domain.SupplierPayableLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row.EventID != "" {
		f.committedEventIDs["supplier:"+row.EventID] = true
	}
	f.supplierRows = append(f.supplierRows, row)
	f.payableLines = append(f.payableLines, lines...)
	return nil
}
func (f *fakeStore) AppendStandaloneLine(_ context.Context, line domain.SupplierPayableLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payableLines = append(f.payableLines, line)
	return nil
}
func (f *fakeStore) InstanceKeys(context.Context, string) ([]domain.SupplierInstanceKey, error) {
	return nil, nil
}
func (f *fakeStore) SupplierTimelineByInstance(context.Context, string, domain.SupplierInstanceKey) ([]domain.SupplierTimelineFact, error) {
	return nil, nil
}
func (f *fakeStore) SupplierLatestByInstance(context.Context, string, domain.SupplierInstanceKey) (*domain.SupplierTimelineFact, error) {
	return nil, domain.ErrInstanceNotFound
}
func (f *fakeStore) PayableLinesByInstance(context.Context, string, domain.SupplierInstanceKey) ([]domain.SupplierPayableLine, error) {
	return nil, nil
}
func (f *fakeStore) SupplierLatestAll(context.Context, string) ([]domain.SupplierTimelineFact, error) {
	return nil, nil
}

func (f *fakeStore) AppendRefundEvent(_ context.Context, row domain.RefundTimelineFact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row.EventID != "" {
		f.committedEventIDs["refund:"+row.EventID] = true
	}
	f.refundRows = append(f.refundRows, row)
	return nil
}
func (f *fakeStore) RefundTimelineByOrder(context.Context, string) ([]domain.RefundTimelineFact, error) {
	return nil, nil
}
func (f *fakeStore) RefundLatest(context.Context, string) ([]domain.RefundTimelineFact, error) {
	return nil, nil
}

func (f *fakeStore) AppendDLQEntry(_ context.Context, entry domain.DLQEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlq = append(f.dlq, entry)
	return nil
}
func (f *fakeStore) ListDLQ(_ context.Context, filter domain.DLQFilter) ([]domain.DLQEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dlq, nil
}
func (f *fakeStore) IncrementRetry(context.Context, string) error { return nil }
func (f *fakeStore) PendingForReplay(context.Context, int, int) ([]domain.DLQEntry, error) {
	return nil, nil
}

func (f *fakeStore) EventAlreadyCommitted(_ context.Context, family domain.VersionFamily, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committedEventIDs[string(family)+":"+eventID], nil
}

func newTestPipeline(store *fakeStore) *Pipeline {
	log := logger.New("error", "text")
	reg := version.NewRegistry(store, lock.NewShardedMutex(16), log)
	return NewPipeline(store, reg, log)
}

func TestPipeline_PricingUpdatedCommitsAndAssignsVersion(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store)

	raw := []byte(`{
		"event_type": "PricingUpdated",
		"schema_version": "pricing.commerce.v1",
		"order_id": "ORD-9001",
		"components": [
			{"component_type": "RoomRate", "amount": 500000, "currency": "IDR", "dimensions": {"od": "OD-001", "n": "N1"}},
			{"component_type": "RoomRate", "amount": 500000, "currency": "IDR", "dimensions": {"od": "OD-001", "n": "N2"}},
			{"component_type": "Tax", "amount": 110000, "currency": "IDR", "dimensions": {"od": "OD-001"}},
			{"component_type": "Markup", "amount": 50000, "currency": "IDR", "dimensions": {}}
		]
	}`)

	err := p.Process(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, store.pricingRows, 4)
	assert.Empty(t, store.dlq)

	var sum int64
	for _, r := range store.pricingRows {
		sum += r.Amount
		assert.Equal(t, 1, r.Version)
	}
	assert.Equal(t, int64(1160000), sum)
}

func TestPipeline_EmptyComponentsGoesToDLQ(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store)

	raw := []byte(`{
		"event_type": "PricingUpdated",
		"schema_version": "pricing.commerce.v1",
		"order_id": "ORD-9002",
		"components": []
	}`)

	err := p.Process(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, store.dlq, 1)
	assert.Equal(t, domain.ErrorKindValidation, store.dlq[0].ErrorKind)
}

func TestPipeline_UnrecognizedSchemaVersionGoesToDLQ(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store)

	raw := []byte(`{"event_type": "PricingUpdated", "schema_version": "pricing.commerce.v99", "order_id": "ORD-1", "components": [{"component_type":"Tax","amount":1,"currency":"IDR"}]}`)
	err := p.Process(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, store.dlq, 1)
}

func TestPipeline_DuplicateEventIDSkippedSilently(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store)

	raw := []byte(`{
		"event_id": "evt-1",
		"event_type": "PaymentLifecycle",
		"schema_version": "payment.timeline.v1",
		"order_id": "ORD-1",
		"status": "Authorized",
		"currency": "IDR"
	}`)

	require.NoError(t, p.Process(context.Background(), raw))
	require.Len(t, store.paymentEvents, 1)

	require.NoError(t, p.Process(context.Background(), raw))
	assert.Len(t, store.paymentEvents, 1, "redelivery of the same event_id must not create a second row")
	assert.Empty(t, store.dlq)
}

func TestPipeline_PartnerAdjustmentBypassesVersionRegistry(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store)

	raw := []byte(`{
		"event_type": "PartnerAdjustment",
		"schema_version": "partner.adjustment.v1",
		"order_id": "ORD-4001",
		"order_detail_id": "OD-4001",
		"supplier_reference_id": "SUP-4001",
		"party_type": "AFFILIATE",
		"party_id": "AFF-1",
		"obligation_type": "penalty",
		"amount": 500000,
		"amount_effect": "INCREASES_PAYABLE",
		"currency": "IDR"
	}`)

	require.NoError(t, p.Process(context.Background(), raw))
	require.Len(t, store.payableLines, 1)
	assert.Equal(t, domain.StandaloneVersion, store.payableLines[0].SupplierTimelineVersion)
	assert.Empty(t, store.dlq)
}

func TestPipeline_RetriesVersionConflictThenCommits(t *testing.T) {
	store := newFakeStore()
	store.paymentConflictsRemaining = 2
	p := newTestPipeline(store)

	raw := []byte(`{
		"event_id": "evt-retry-1",
		"event_type": "PaymentLifecycle",
		"schema_version": "payment.timeline.v1",
		"order_id": "ORD-5001",
		"status": "Captured",
		"currency": "IDR"
	}`)

	require.NoError(t, p.Process(context.Background(), raw))
	assert.Len(t, store.paymentEvents, 1, "commit should eventually succeed after retrying the conflict")
	assert.Equal(t, 3, store.paymentAppendAttempts, "two failed attempts plus the successful one")
	assert.Empty(t, store.dlq)
}

func TestPipeline_ExhaustsRetriesThenGoesToDLQ(t *testing.T) {
	store := newFakeStore()
	store.paymentConflictsRemaining = 99
	p := newTestPipeline(store)

	raw := []byte(`{
		"event_id": "evt-retry-2",
		"event_type": "PaymentLifecycle",
		"schema_version": "payment.timeline.v1",
		"order_id": "ORD-5002",
		"status": "Captured",
		"currency": "IDR"
	}`)

	require.NoError(t, p.Process(context.Background(), raw))
	assert.Empty(t, store.paymentEvents)
	require.Len(t, store.dlq, 1)
	assert.Equal(t, domain.ErrorKindStorage, store.dlq[0].ErrorKind, "a VersionConflictError wrapped in StorageError still routes to the DLQ")
}

func TestPipeline_MalformedJSONGoesToDLQWithRawBodyPreserved(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store)

	raw := []byte(`{not json`)
	require.NoError(t, p.Process(context.Background(), raw))
	require.Len(t, store.dlq, 1)

	var roundTripped json.RawMessage
	assert.Equal(t, raw, []byte(store.dlq[0].RawEvent))
	_ = json.Unmarshal(store.dlq[0].RawEvent, &roundTripped) // expected to fail; body kept verbatim regardless
}
