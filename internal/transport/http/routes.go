package http

import (
	"github.com/gin-gonic/gin"

	"github.com/saan-system/uprl-core/internal/transport/http/middleware"
	"github.com/saan-system/uprl-core/pkg/logger"
)

// SetupRoutes wires the read API, the HTTP ingestion fallback, and the
// health check behind the logging/recovery middleware stack.
func SetupRoutes(h *Handler, log logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(middleware.LoggingMiddleware(log))
	r.Use(middleware.RecoveryMiddleware(log))

	r.GET("/health", h.HealthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/events", h.IngestEvent)

		orders := v1.Group("/orders")
		{
			orders.GET("/:orderId", h.GetOrder)
			orders.GET("/:orderId/payables", h.GetEffectivePayables)
			orders.GET("/:orderId/pricing/history", h.PricingHistory)
			orders.GET("/:orderId/payment/history", h.PaymentHistory)
			orders.GET("/:orderId/refunds/history", h.RefundHistory)
			orders.GET("/:orderId/supplier-instances/:orderDetailId/:supplierReferenceId/:fulfillmentInstanceId/history", h.SupplierInstanceHistory)
		}

		v1.GET("/dlq", h.ListDLQ)
	}

	return r
}
