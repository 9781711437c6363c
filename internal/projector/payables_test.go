package projector

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saan-system/uprl-core/internal/domain"
	"github.com/saan-system/uprl-core/pkg/logger"
)

// fakeSupplierStore is an in-memory stand-in for domain.SupplierStore,
// built directly from pre-seeded rows rather than through the
// ingestion pipeline, so these tests exercise the projector in
// isolation per §4.5's literal scenarios.
type fakeSupplierStore struct {
	timeline map[string][]domain.SupplierTimelineFact // keyed by instance key string
	lines    map[string][]domain.SupplierPayableLine
}

func newFakeSupplierStore() *fakeSupplierStore {
	return &fakeSupplierStore{
		timeline: make(map[string][]domain.SupplierTimelineFact),
		lines:    make(map[string][]domain.SupplierPayableLine),
	}
}

func keyOf(orderDetailID, supplierRef, instanceKey string) string {
	return orderDetailID + "/" + supplierRef + "/" + instanceKey
}

func (f *fakeSupplierStore) seedTimeline(row domain.SupplierTimelineFact) {
	k := keyOf(row.OrderDetailID, row.SupplierReferenceID, row.InstanceKey())
	f.timeline[k] = append(f.timeline[k], row)
}

func (f *fakeSupplierStore) seedLine(line domain.SupplierPayableLine) {
	k := keyOf(line.OrderDetailID, line.SupplierReferenceID, line.InstanceKey())
	f.lines[k] = append(f.lines[k], line)
}

func (f *fakeSupplierStore) AppendSupplierEvent(_ context.Context, row domain.SupplierTimelineFact, lines []domain.SupplierPayableLine) error {
	f.seedTimeline(row)
	for _, l := range lines {
		f.seedLine(l)
	}
	return nil
}

func (f *fakeSupplierStore) AppendStandaloneLine(_ context.Context, line domain.SupplierPayableLine) error {
	f.seedLine(line)
	return nil
}

func (f *fakeSupplierStore) InstanceKeys(_ context.Context, orderID string) ([]domain.SupplierInstanceKey, error) {
	seen := make(map[string]domain.SupplierInstanceKey)
	for k, rows := range f.timeline {
		if len(rows) == 0 || rows[0].OrderID != orderID {
			continue
		}
		seen[k] = domain.SupplierInstanceKey{
			OrderDetailID:         rows[0].OrderDetailID,
			SupplierReferenceID:   rows[0].SupplierReferenceID,
			FulfillmentInstanceID: rows[0].InstanceKey(),
		}
	}
	out := make([]domain.SupplierInstanceKey, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FulfillmentInstanceID < out[j].FulfillmentInstanceID })
	return out, nil
}

func (f *fakeSupplierStore) SupplierTimelineByInstance(_ context.Context, _ string, key domain.SupplierInstanceKey) ([]domain.SupplierTimelineFact, error) {
	return f.timeline[keyOf(key.OrderDetailID, key.SupplierReferenceID, key.FulfillmentInstanceID)], nil
}

func (f *fakeSupplierStore) SupplierLatestByInstance(_ context.Context, _ string, key domain.SupplierInstanceKey) (*domain.SupplierTimelineFact, error) {
	rows := f.timeline[keyOf(key.OrderDetailID, key.SupplierReferenceID, key.FulfillmentInstanceID)]
	if len(rows) == 0 {
		return nil, domain.ErrInstanceNotFound
	}
	latest := rows[0]
	for _, r := range rows[1:] {
		if r.SupplierTimelineVersion > latest.SupplierTimelineVersion {
			latest = r
		}
	}
	return &latest, nil
}

func (f *fakeSupplierStore) PayableLinesByInstance(_ context.Context, _ string, key domain.SupplierInstanceKey) ([]domain.SupplierPayableLine, error) {
	return f.lines[keyOf(key.OrderDetailID, key.SupplierReferenceID, key.FulfillmentInstanceID)], nil
}

func (f *fakeSupplierStore) SupplierLatestAll(_ context.Context, orderID string) ([]domain.SupplierTimelineFact, error) {
	var out []domain.SupplierTimelineFact
	keys, _ := f.InstanceKeys(context.Background(), orderID)
	for _, k := range keys {
		latest, _ := f.SupplierLatestByInstance(context.Background(), orderID, k)
		if latest != nil {
			out = append(out, *latest)
		}
	}
	return out, nil
}

func ptr(s string) *string { return &s }

func TestProjector_S3_MultiInstancePasses(t *testing.T) {
	store := newFakeSupplierStore()
	const orderID = "ORD-1322884534"
	const detail = "OD-1359185528"

	store.seedTimeline(domain.SupplierTimelineFact{
		OrderID: orderID, OrderDetailID: detail, SupplierReferenceID: "SUP-1",
		FulfillmentInstanceID: nil, SupplierTimelineVersion: 1,
		Status: domain.SupplierStatusConfirmed, Amount: 0, Currency: "IDR",
	})
	for _, inst := range []struct {
		id     string
		amount int64
	}{
		{"ticket_code_1757809185001", 127500},
		{"ticket_code_1757809307001", 127500},
		{"ticket_code_1757772769001", 127500},
	} {
		store.seedTimeline(domain.SupplierTimelineFact{
			OrderID: orderID, OrderDetailID: detail, SupplierReferenceID: "SUP-1",
			FulfillmentInstanceID: ptr(inst.id), SupplierTimelineVersion: 1,
			Status: domain.SupplierStatusConfirmed, Amount: inst.amount, Currency: "IDR",
		})
	}

	p := New(store, logger.New("error", "text"))
	payables, warnings, err := p.ComputeOrderPayables(context.Background(), orderID)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, payables, 4)

	var sum int64
	for _, pay := range payables {
		sum += pay.Total
	}
	assert.Equal(t, int64(382500), sum)
}

func TestProjector_S4_CarryForwardAcrossCancellation(t *testing.T) {
	store := newFakeSupplierStore()
	const orderID = "ORD-4001"
	const detail = "OD-4001"
	const supplier = "SUP-4001"

	store.seedTimeline(domain.SupplierTimelineFact{
		OrderID: orderID, OrderDetailID: detail, SupplierReferenceID: supplier,
		SupplierTimelineVersion: 1, Status: domain.SupplierStatusIssued, Amount: 500000, Currency: "IDR",
	})
	store.seedLine(domain.SupplierPayableLine{
		OrderID: orderID, OrderDetailID: detail, SupplierReferenceID: supplier,
		SupplierTimelineVersion: 1, PartyType: domain.PartyAffiliate, PartyID: "AFF-1",
		ObligationType: "commission", Amount: 4694, AmountEffect: domain.IncreasesPayable, Currency: "IDR",
	})
	store.seedLine(domain.SupplierPayableLine{
		OrderID: orderID, OrderDetailID: detail, SupplierReferenceID: supplier,
		SupplierTimelineVersion: 1, PartyType: domain.PartyAffiliate, PartyID: "AFF-1",
		ObligationType: "commission_vat", Amount: 516, AmountEffect: domain.IncreasesPayable, Currency: "IDR",
	})

	// v2: CancelledWithFee; no affiliate lines this version, only the
	// supplier's cancellation fee, so the v1 affiliate lines carry forward.
	store.seedTimeline(domain.SupplierTimelineFact{
		OrderID: orderID, OrderDetailID: detail, SupplierReferenceID: supplier,
		SupplierTimelineVersion: 2, Status: domain.SupplierStatusCancelledWithFee, Amount: 500000, Currency: "IDR",
	})
	store.seedLine(domain.SupplierPayableLine{
		OrderID: orderID, OrderDetailID: detail, SupplierReferenceID: supplier,
		SupplierTimelineVersion: 2, PartyType: domain.PartySupplier, PartyID: "SUP-4001",
		ObligationType: "cancellation_fee", Amount: 50000, AmountEffect: domain.IncreasesPayable, Currency: "IDR",
	})

	p := New(store, logger.New("error", "text"))
	payables, _, err := p.ComputeOrderPayables(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, payables, 1)
	assert.Equal(t, int64(0), payables[0].Baseline)
	assert.Equal(t, int64(55210), payables[0].Total)
}

func TestProjector_S5_StandaloneAdjustmentAddsOnTop(t *testing.T) {
	store := newFakeSupplierStore()
	const orderID = "ORD-4001"
	const detail = "OD-4001"
	const supplier = "SUP-4001"

	store.seedTimeline(domain.SupplierTimelineFact{
		OrderID: orderID, OrderDetailID: detail, SupplierReferenceID: supplier,
		SupplierTimelineVersion: 2, Status: domain.SupplierStatusCancelledWithFee, Amount: 500000, Currency: "IDR",
	})
	store.seedLine(domain.SupplierPayableLine{
		OrderID: orderID, OrderDetailID: detail, SupplierReferenceID: supplier,
		SupplierTimelineVersion: 1, PartyType: domain.PartyAffiliate, PartyID: "AFF-1",
		ObligationType: "commission", Amount: 4694, AmountEffect: domain.IncreasesPayable, Currency: "IDR",
	})
	store.seedLine(domain.SupplierPayableLine{
		OrderID: orderID, OrderDetailID: detail, SupplierReferenceID: supplier,
		SupplierTimelineVersion: 1, PartyType: domain.PartyAffiliate, PartyID: "AFF-1",
		ObligationType: "commission_vat", Amount: 516, AmountEffect: domain.IncreasesPayable, Currency: "IDR",
	})
	store.seedLine(domain.SupplierPayableLine{
		OrderID: orderID, OrderDetailID: detail, SupplierReferenceID: supplier,
		SupplierTimelineVersion: 2, PartyType: domain.PartySupplier, PartyID: "SUP-4001",
		ObligationType: "cancellation_fee", Amount: 50000, AmountEffect: domain.IncreasesPayable, Currency: "IDR",
	})
	// PartnerAdjustment: standalone line, version = -1.
	store.seedLine(domain.SupplierPayableLine{
		OrderID: orderID, OrderDetailID: detail, SupplierReferenceID: supplier,
		SupplierTimelineVersion: domain.StandaloneVersion, PartyType: domain.PartyAffiliate, PartyID: "AFF-1",
		ObligationType: "penalty", Amount: 500000, AmountEffect: domain.IncreasesPayable, Currency: "IDR",
	})

	p := New(store, logger.New("error", "text"))
	payables, _, err := p.ComputeOrderPayables(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, payables, 1)
	assert.Equal(t, int64(555210), payables[0].Total)
}

func TestProjector_UnknownStatusWarnsButStillReturnsBaseline(t *testing.T) {
	store := newFakeSupplierStore()
	store.seedTimeline(domain.SupplierTimelineFact{
		OrderID: "ORD-X", OrderDetailID: "OD-X", SupplierReferenceID: "SUP-X",
		SupplierTimelineVersion: 1, Status: "SomeNewStatus", Amount: 1000, Currency: "IDR",
	})

	p := New(store, logger.New("error", "text"))
	payables, warnings, err := p.ComputeOrderPayables(context.Background(), "ORD-X")
	require.NoError(t, err)
	require.Len(t, payables, 1)
	assert.NotEmpty(t, warnings)
	assert.Equal(t, int64(1000), payables[0].Total)
}
