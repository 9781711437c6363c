package views

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/saan-system/uprl-core/internal/domain"
)

func TestReducePricingLatest_OutOfOrderVersionsResolveToHighest(t *testing.T) {
	now := time.Now()
	rows := []domain.PricingComponentFact{
		{ComponentSemanticID: "cs-ORD-1-RoomRate", Version: 3, Amount: 500000, EmittedAt: now},
		{ComponentSemanticID: "cs-ORD-1-RoomRate", Version: 2, Amount: 480000, EmittedAt: now.Add(-time.Hour)},
	}

	latest := ReducePricingLatest(rows)
	assert.Len(t, latest, 1)
	assert.Equal(t, 3, latest[0].Version)
	assert.Equal(t, int64(500000), latest[0].Amount)
}

func TestReducePricingLatest_DistinctComponentsAllSurvive(t *testing.T) {
	rows := []domain.PricingComponentFact{
		{ComponentSemanticID: "cs-ORD-9001-OD-001-N1-RoomRate", Version: 1, Amount: 500000},
		{ComponentSemanticID: "cs-ORD-9001-OD-001-N2-RoomRate", Version: 1, Amount: 500000},
		{ComponentSemanticID: "cs-ORD-9001-OD-001-Tax", Version: 1, Amount: 110000},
		{ComponentSemanticID: "cs-ORD-9001-Markup", Version: 1, Amount: 50000},
	}

	latest := ReducePricingLatest(rows)
	assert.Len(t, latest, 4)

	var sum int64
	for _, r := range latest {
		sum += r.Amount
	}
	assert.Equal(t, int64(1160000), sum)
}

func TestReduceRefundLatest_HighestVersionPerRefundID(t *testing.T) {
	rows := []domain.RefundTimelineFact{
		{RefundID: "RFD-1", RefundTimelineVersion: 1, Status: domain.RefundStatusRequested},
		{RefundID: "RFD-1", RefundTimelineVersion: 2, Status: domain.RefundStatusApproved},
		{RefundID: "RFD-2", RefundTimelineVersion: 1, Status: domain.RefundStatusIssued},
	}

	latest := ReduceRefundLatest(rows)
	assert.Len(t, latest, 2)
	for _, r := range latest {
		if r.RefundID == "RFD-1" {
			assert.Equal(t, domain.RefundStatusApproved, r.Status)
		}
	}
}
