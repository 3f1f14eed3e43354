package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"deposit-service/internal/models"
	"deposit-service/internal/redisclient"
	"deposit-service/internal/service"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"
	"deposit-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// AdminTokenHeader carries the admin token on admin routes
const AdminTokenHeader = "X-Admin-Token"

// Pinger is a dependency checked by the readiness check
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the deposit engine entry points exposed over HTTP
type Services struct {
	Carts    *service.CartService
	Factory  *service.BalanceOrderFactory
	Admin    *service.AdminService
	Reports  *service.ReportService
	Settings *settings.Provider
}

// Handler contains HTTP handlers
type Handler struct {
	svc        Services
	adminToken string
	deps       map[string]Pinger
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, adminToken string, deps map[string]Pinger) *Handler {
	return &Handler{
		svc:        svc,
		adminToken: adminToken,
		deps:       deps,
		logger:     util.GetLogger(),
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

	v1 := router.Group("/api/v1")
	{
		v1.POST("/carts", h.createCart)
		v1.GET("/carts/:id", h.getCart)
		v1.POST("/carts/:id/items", h.addCartItem)
		v1.DELETE("/carts/:id/items/:key", h.removeCartItem)
		v1.POST("/carts/:id/coupons", h.applyCoupon)
		v1.POST("/carts/:id/checkout", h.checkout)

		v1.GET("/products/:id/deposit-offer", h.productOffer)

		v1.POST("/orders/:id/balance", h.createBalanceOrder)
		v1.GET("/orders/:id/deposit-summary", h.depositSummary)
	}

	admin := v1.Group("/admin", h.requireAdmin)
	{
		admin.GET("/reports/outstanding-balances", h.outstandingBalances)
		admin.GET("/settings", h.getSettings)
		admin.PUT("/settings", h.updateSettings)
		admin.PUT("/orders/:id/due-date", h.updateDueDate)
		admin.POST("/orders/:id/reminders", h.sendReminder)
		admin.POST("/orders/:id/mark-paid", h.markBalancePaid)
		admin.POST("/overdue/cancel", h.cancelOverdue)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
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

// requireAdmin rejects requests without the configured admin token
func (h *Handler) requireAdmin(c *gin.Context) {
	token := c.GetHeader(AdminTokenHeader)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing admin token"})
		return
	}
	if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid admin token"})
		return
	}
	c.Next()
}

type createCartRequest struct {
	UserID   int64  `json:"user_id"`
	Currency string `json:"currency"`
}

func (h *Handler) createCart(c *gin.Context) {
	var req createCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cart, err := h.svc.Carts.CreateCart(c.Request.Context(), req.UserID, req.Currency)
	if err != nil {
		h.writeError(c, "Failed to create cart", err)
		return
	}
	c.JSON(http.StatusCreated, cart)
}

func (h *Handler) getCart(c *gin.Context) {
	cart, err := h.svc.Carts.GetCart(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to load cart", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req service.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cart, err := h.svc.Carts.AddItem(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.writeError(c, "Failed to add item", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	cart, err := h.svc.Carts.RemoveItem(c.Request.Context(), c.Param("id"), c.Param("key"))
	if err != nil {
		h.writeError(c, "Failed to remove item", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) applyCoupon(c *gin.Context) {
	var coupon models.Coupon
	if err := c.ShouldBindJSON(&coupon); err != nil {
		badRequest(c, err)
		return
	}
	if coupon.Code == "" || !coupon.PercentOff.IsPositive() {
		badRequest(c, errors.New("coupon needs a code and a positive percent_off"))
		return
	}

	cart, err := h.svc.Carts.ApplyCoupon(c.Request.Context(), c.Param("id"), coupon)
	if err != nil {
		h.writeError(c, "Failed to apply coupon", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.svc.Carts.Checkout(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.writeError(c, "Failed to check out", err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) productOffer(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	offer, err := h.svc.Carts.ProductOffer(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to load deposit offer", err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

// createBalanceOrder fires checkout completion for an order placed outside the cart API
func (h *Handler) createBalanceOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	balance, err := h.svc.Factory.CreateBalanceOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to create balance order", err)
		return
	}
	if balance == nil {
		c.JSON(http.StatusOK, gin.H{"created": false})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": true, "balance_order": balance})
}

func (h *Handler) depositSummary(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	summary, err := h.svc.Reports.DepositSummary(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to load deposit summary", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) outstandingBalances(c *gin.Context) {
	limit := service.OutstandingBalanceLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	rows, err := h.svc.Reports.OutstandingBalances(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, "Failed to load outstanding balances", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": rows, "count": len(rows)})
}

func (h *Handler) getSettings(c *gin.Context) {
	values := settings.Defaults()
	for key := range values {
		values[key] = h.svc.Settings.Get(c.Request.Context(), key)
	}
	c.JSON(http.StatusOK, values)
}

// updateSettings validates every key before writing any
func (h *Handler) updateSettings(c *gin.Context) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	defaults := settings.Defaults()
	for key := range req {
		if _, ok := defaults[key]; !ok {
			badRequest(c, errors.New("unknown setting: "+key))
			return
		}
	}

	for key, value := range req {
		if err := h.svc.Settings.Set(c.Request.Context(), key, value); err != nil {
			h.writeError(c, "Failed to save settings", err)
			return
		}
	}
	h.logger.Info("Settings updated by admin", zap.Int("count", len(req)))
	h.getSettings(c)
}

type dueDateRequest struct {
	DueDate string `json:"due_date" binding:"required"`
}

func (h *Handler) updateDueDate(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req dueDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	due, err := h.svc.Admin.UpdateDueDate(c.Request.Context(), id, req.DueDate)
	if err != nil {
		h.writeError(c, "Failed to update due date", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "balance_due_date": due})
}

func (h *Handler) sendReminder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.svc.Admin.SendReminderNow(c.Request.Context(), id); err != nil {
		h.writeError(c, "Failed to send reminder", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "reminder_sent": true})
}

func (h *Handler) markBalancePaid(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.svc.Admin.MarkBalancePaid(c.Request.Context(), id); err != nil {
		h.writeError(c, "Failed to mark balance paid", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": models.OrderStatusProcessing})
}

func (h *Handler) cancelOverdue(c *gin.Context) {
	result, err := h.svc.Admin.CancelOverdueNow(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to cancel overdue balances", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid ID",
		})
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

// writeError maps service errors onto HTTP statuses
func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, store.ErrProductNotFound),
		errors.Is(err, redisclient.ErrCartNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, settings.ErrUnknownKey):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNoBalanceOrder):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
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
