// Package http exposes the Core's outbound read interface (§6.2) and
// an HTTP ingestion endpoint for delivering events outside Kafka.
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/saan-system/uprl-core/internal/domain"
	"github.com/saan-system/uprl-core/internal/ingest"
	"github.com/saan-system/uprl-core/internal/projector"
	"github.com/saan-system/uprl-core/internal/views"
	"github.com/saan-system/uprl-core/pkg/logger"
)

// Handler serves the read API and the HTTP ingestion fallback.
type Handler struct {
	views     *views.Service
	projector *projector.Projector
	store     domain.FactStore
	pipeline  *ingest.Pipeline
	log       logger.Logger
}

func NewHandler(v *views.Service, p *projector.Projector, store domain.FactStore, pipeline *ingest.Pipeline, log logger.Logger) *Handler {
	return &Handler{views: v, projector: p, store: store, pipeline: pipeline, log: log}
}

// orderView is the get_order response shape from §6.2.
type orderView struct {
	PricingLatest []domain.PricingComponentFact `json:"pricing_latest"`
	PaymentLatest *domain.PaymentTimelineFact   `json:"payment_latest,omitempty"`
	SupplierLatest []domain.SupplierTimelineFact `json:"supplier_latest"`
	RefundLatest  []domain.RefundTimelineFact   `json:"refund_latest"`
}

// GetOrder handles GET /orders/:orderId
func (h *Handler) GetOrder(c *gin.Context) {
	orderID := c.Param("orderId")
	ctx := c.Request.Context()

	pricing, err := h.views.PricingLatest(ctx, orderID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	supplier, err := h.views.SupplierLatest(ctx, orderID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	refund, err := h.views.RefundLatest(ctx, orderID)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	payment, err := h.views.PaymentLatest(ctx, orderID)
	if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		h.respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, orderView{
		PricingLatest:  pricing,
		PaymentLatest:  payment,
		SupplierLatest: supplier,
		RefundLatest:   refund,
	})
}

// GetEffectivePayables handles GET /orders/:orderId/payables
func (h *Handler) GetEffectivePayables(c *gin.Context) {
	orderID := c.Param("orderId")

	payables, warnings, err := h.projector.ComputeOrderPayables(c.Request.Context(), orderID)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	resp := gin.H{"payables": payables}
	if len(warnings) > 0 {
		details := make([]string, len(warnings))
		for i, w := range warnings {
			details[i] = w.Error()
		}
		resp["warnings"] = details
	}
	c.JSON(http.StatusOK, resp)
}

// ListDLQ handles GET /dlq
func (h *Handler) ListDLQ(c *gin.Context) {
	filter := domain.DLQFilter{
		ErrorKind: c.Query("error_kind"),
		OrderID:   c.Query("order_id"),
		Limit:     100,
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	entries, err := h.store.ListDLQ(c.Request.Context(), filter)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// PricingHistory handles GET /orders/:orderId/pricing/history
func (h *Handler) PricingHistory(c *gin.Context) {
	rows, err := h.store.PricingComponentsByOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"components": filterByVersionRange(rows, c)})
}

// PaymentHistory handles GET /orders/:orderId/payment/history
func (h *Handler) PaymentHistory(c *gin.Context) {
	rows, err := h.store.PaymentTimelineByOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

// RefundHistory handles GET /orders/:orderId/refunds/history
func (h *Handler) RefundHistory(c *gin.Context) {
	rows, err := h.store.RefundTimelineByOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

// SupplierInstanceHistory handles GET /orders/:orderId/supplier-instances/:orderDetailId/:supplierReferenceId/:fulfillmentInstanceId/history
func (h *Handler) SupplierInstanceHistory(c *gin.Context) {
	key := domain.SupplierInstanceKey{
		OrderDetailID:         c.Param("orderDetailId"),
		SupplierReferenceID:   c.Param("supplierReferenceId"),
		FulfillmentInstanceID: c.Param("fulfillmentInstanceId"),
	}
	rows, err := h.store.SupplierTimelineByInstance(c.Request.Context(), c.Param("orderId"), key)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

// IngestEvent handles POST /events — a synchronous alternative to the
// Kafka consumers for callers that deliver events over HTTP.
func (h *Handler) IngestEvent(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}

	if err := h.pipeline.Process(c.Request.Context(), raw); err != nil {
		h.log.WithField("error", err).Error("ingestion pipeline failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event could not be persisted, retry"})
		return
	}
	c.Status(http.StatusAccepted)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "uprl-core"})
}

func (h *Handler) respondErr(c *gin.Context, err error) {
	if err == domain.ErrOrderNotFound || err == domain.ErrInstanceNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.log.WithField("error", err).Error("read request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// filterByVersionRange applies the optional from_version/to_version
// query params a history read can be narrowed by (§6.2 "range queries
// by version"). Absent params mean no bound on that side.
func filterByVersionRange(rows []domain.PricingComponentFact, c *gin.Context) []domain.PricingComponentFact {
	from, hasFrom := queryInt(c, "from_version")
	to, hasTo := queryInt(c, "to_version")
	if !hasFrom && !hasTo {
		return rows
	}
	out := make([]domain.PricingComponentFact, 0, len(rows))
	for _, r := range rows {
		if hasFrom && r.Version < from {
			continue
		}
		if hasTo && r.Version > to {
			continue
		}
		out = append(out, r)
	}
	return out
}

func queryInt(c *gin.Context, key string) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
