package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"

	actorKey = "actor"
)

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	offers   *service.OfferService
	orders   *service.OrderService
	payments *service.PaymentService
	checks   map[string]ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(
	offers *service.OfferService,
	orders *service.OrderService,
	payments *service.PaymentService,
	checks map[string]ReadinessCheck,
) *Handler {
	return &Handler{
		offers:   offers,
		orders:   orders,
		payments: payments,
		checks:   checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", identityMiddleware())
	{
		v1.POST("/offers", h.createOffer)
		v1.GET("/offers", h.listOffers)
		v1.GET("/offers/:id", h.getOffer)
		v1.POST("/offers/:id/accept", h.acceptOffer)
		v1.POST("/offers/:id/reject", h.rejectOffer)
		v1.POST("/offers/:id/counter", h.counterOffer)
		v1.POST("/offers/:id/accept-counter", h.acceptCounterOffer)
		v1.POST("/offers/:id/cancel", h.cancelOffer)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/confirm", h.confirmOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)
		v1.POST("/orders/:id/payment", h.createPayment)
		v1.GET("/orders/:id/payment", h.getPaymentByOrder)

		v1.GET("/payments", h.listOwnPayments)
		v1.GET("/payments/:id", h.getPayment)
		v1.POST("/payments/:id/proof", h.attachProof)

		admin := v1.Group("/admin", requireAdmin())
		{
			admin.GET("/payments", h.listAllPayments)
			admin.GET("/payments/pending", h.listPendingPayments)
			admin.POST("/payments/:id/confirm", h.confirmPayment)
			admin.POST("/payments/:id/reject", h.rejectPayment)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency responds
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// identityMiddleware reads the acting user supplied by the identity provider
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(headerUserID)
		if userID == "" {
			writeError(c, http.StatusUnauthorized, codeUnauthenticated, "missing "+headerUserID+" header")
			return
		}

		role := models.RoleUser
		if models.Role(c.GetHeader(headerUserRole)) == models.RoleAdmin {
			role = models.RoleAdmin
		}

		c.Set(actorKey, models.Actor{UserID: userID, Role: role})
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actorFrom(c).IsAdmin() {
			writeError(c, http.StatusForbidden, codeForbidden, "admin role required")
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) models.Actor {
	actor, _ := c.MustGet(actorKey).(models.Actor)
	return actor
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequestBody, err.Error())
		return false
	}
	return true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
