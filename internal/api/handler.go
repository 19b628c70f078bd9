package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	orderService      *service.OrderService
	reconciler        *service.PaymentReconciler
	withdrawalService *service.WithdrawalService
	gate              *SecurityGate
	webhookTimeout    time.Duration
	logger            *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orderService *service.OrderService,
	reconciler *service.PaymentReconciler,
	withdrawalService *service.WithdrawalService,
	gate *SecurityGate,
	webhookTimeout time.Duration,
) *Handler {
	return &Handler{
		orderService:      orderService,
		reconciler:        reconciler,
		withdrawalService: withdrawalService,
		gate:              gate,
		webhookTimeout:    webhookTimeout,
		logger:            util.GetLogger(),
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

	webhooks := router.Group("/")
	webhooks.Use(h.gate.Middleware())
	{
		webhooks.POST("/webhook", h.paymentWebhook)
		webhooks.POST("/withdrawal-callback", h.withdrawalCallback)
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/ready", h.markReady)
		v1.POST("/orders/:id/confirm", h.confirmReceipt)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/withdrawals", h.requestWithdrawal)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// paymentWebhook ingests a provider payment notification. The response is
// always an acknowledgment when we have durably recorded the event; a
// non-2xx only when the provider should retry or fix the request.
func (h *Handler) paymentWebhook(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.webhookTimeout)
	defer cancel()

	payload := c.MustGet(payloadKey).(map[string]interface{})
	util.WebhooksReceivedTotal.Inc()

	notification, err := buildNotification(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.reconciler.Reconcile(ctx, notification)
	if err != nil {
		if errors.Is(err, service.ErrUnmatchedPayment) {
			// The event is persisted for investigation; tell the provider
			// we have it so it stops retrying.
			c.JSON(http.StatusOK, gin.H{
				"status": "accepted",
				"note":   "no matching payment, flagged for review",
			})
			return
		}
		if errors.Is(err, service.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Webhook reconciliation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}

	resp := gin.H{"status": "ok", "outcome": result.Outcome}
	if result.OrderID != nil {
		resp["order_id"] = *result.OrderID
	}
	c.JSON(http.StatusOK, resp)
}

// withdrawalCallback ingests the provider's transfer confirmation for a
// payout.
func (h *Handler) withdrawalCallback(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.webhookTimeout)
	defer cancel()

	payload := c.MustGet(payloadKey).(map[string]interface{})
	util.WebhooksReceivedTotal.Inc()

	reference, _ := extractReference(payload)
	status, ok := extractStatus(payload)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload carries no status field"})
		return
	}
	reason, _ := extractReason(payload)

	result, err := h.withdrawalService.HandleCallback(ctx, reference, status, reason)
	if err != nil {
		if errors.Is(err, service.ErrUnmatchedPayment) {
			c.JSON(http.StatusOK, gin.H{
				"status": "accepted",
				"note":   "no matching withdrawal, flagged for review",
			})
			return
		}
		if errors.Is(err, service.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Withdrawal callback failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "callback processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"withdrawal_id": result.WithdrawalID,
		"duplicate":     result.Duplicate,
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, items, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

type actorRequest struct {
	SellerID int64 `json:"seller_id"`
	BuyerID  int64 `json:"buyer_id"`
}

type cancelRequest struct {
	Initiator string `json:"initiator" binding:"required,oneof=buyer seller"`
	Reason    string `json:"reason"`
}

// markReady records the seller's dropoff confirmation.
func (h *Handler) markReady(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SellerID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seller_id is required"})
		return
	}

	result, err := h.orderService.MarkReadyForPickup(c.Request.Context(), orderID, req.SellerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondTransition(c, result)
}

// confirmReceipt records the buyer's confirmation and releases escrow.
func (h *Handler) confirmReceipt(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.BuyerID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "buyer_id is required"})
		return
	}

	result, err := h.orderService.ConfirmReceipt(c.Request.Context(), orderID, req.BuyerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondTransition(c, result)
}

// cancelOrder cancels an order on behalf of the buyer or seller.
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.orderService.Cancel(c.Request.Context(), orderID, service.Initiator(req.Initiator), req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondTransition(c, result)
}

// requestWithdrawal debits the owner's escrow balance and starts a payout.
func (h *Handler) requestWithdrawal(c *gin.Context) {
	var req service.WithdrawalInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	withdrawal, err := h.withdrawalService.RequestWithdrawal(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, withdrawal)
}

func (h *Handler) respondTransition(c *gin.Context, result *service.TransitionResult) {
	c.JSON(http.StatusOK, gin.H{
		"from":  result.From,
		"to":    result.To,
		"no_op": result.NoOp,
	})
}

// respondError maps service errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrGuardViolation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient balance"})
	default:
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return 0, false
	}
	return id, true
}

// buildNotification normalizes a parsed webhook payload. The gate has
// already verified a reference field exists.
func buildNotification(payload map[string]interface{}) (service.ProviderNotification, error) {
	reference, _ := extractReference(payload)
	status, ok := extractStatus(payload)
	if !ok {
		return service.ProviderNotification{}, errors.New("payload carries no status field")
	}

	n := service.ProviderNotification{
		Reference: reference,
		Status:    status,
		Timestamp: time.Now(),
	}
	if apiRef, ok := extractAPIRef(payload); ok {
		n.APIRef = apiRef
	}
	if amount, ok := extractAmount(payload); ok {
		n.Amount = amount
	}
	if phone, ok := extractPhone(payload); ok {
		n.Phone = phone
	}
	if provider, ok := extractString(payload, []string{"provider", "channel"}); ok {
		n.Provider = provider
	}
	if ts, ok := extractTimestamp(payload); ok {
		n.Timestamp = ts
	}
	if raw, err := json.Marshal(payload); err == nil {
		n.Raw = raw
	}
	return n, nil
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
