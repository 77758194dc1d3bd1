package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"stall-service/internal/models"
	"stall-service/internal/redisclient"
	"stall-service/internal/service"
	"stall-service/internal/syncer"
	"stall-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IdempotencyStore remembers which sale an Idempotency-Key produced
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (existing string, claimed bool, err error)
	CompleteIdempotencyKey(ctx context.Context, key, saleID string, ttl time.Duration) error
	ForgetIdempotencyKey(ctx context.Context, key string) error
}

// FailureSource lists recent remote write failures
type FailureSource interface {
	RecentFailures() []syncer.SyncError
}

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	stall          *service.StallService
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	failures       FailureSource
	checks         map[string]Pinger
	logger         *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(stall *service.StallService) *Handler {
	return &Handler{
		stall:  stall,
		checks: map[string]Pinger{},
		logger: util.Named("api"),
	}
}

// WithIdempotency enables the Idempotency-Key header on sale creation
func (h *Handler) WithIdempotency(store IdempotencyStore, ttl time.Duration) *Handler {
	h.idempotency = store
	h.idempotencyTTL = ttl
	return h
}

// WithSyncFailures exposes recent sync failures
func (h *Handler) WithSyncFailures(source FailureSource) *Handler {
	h.failures = source
	return h
}

// WithReadinessCheck adds a dependency to the /ready check
func (h *Handler) WithReadinessCheck(name string, p Pinger) *Handler {
	h.checks[name] = p
	return h
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products", h.listProducts)
		v1.PUT("/products/:id/stock", h.setStock)
		v1.PUT("/stock", h.setStocks)
		v1.GET("/stock/total", h.totalStock)

		v1.GET("/sales", h.listSales)
		v1.POST("/sales", h.createSale)
		v1.GET("/sales/:id", h.getSale)
		v1.PATCH("/sales/:id", h.updateSale)
		v1.POST("/sales/:id/collect", h.markCollected)
		v1.DELETE("/sales/:id", h.deleteSale)

		v1.GET("/totals", h.totals)
		v1.GET("/sync/failures", h.syncFailures)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type setStockRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type setStocksRequest struct {
	Entries []models.StockEntry `json:"entries" binding:"required,dive"`
}

func (h *Handler) listProducts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"products": h.stall.ListProducts(c.Request.Context()),
	})
}

func (h *Handler) setStock(c *gin.Context) {
	var req setStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	product, err := h.stall.SetStock(c.Request.Context(), c.Param("id"), *req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

func (h *Handler) setStocks(c *gin.Context) {
	var req setStocksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	products, err := h.stall.SetStocks(c.Request.Context(), req.Entries)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) totalStock(c *gin.Context) {
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{
		"totalStock": h.stall.TotalStock(ctx),
		"canSell":    h.stall.CanSell(ctx),
	})
}

type saleItemView struct {
	models.SaleItem
	ProductName string          `json:"productName"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type saleView struct {
	models.Sale
	Items          []saleItemView  `json:"items"`
	EffectiveTotal decimal.Decimal `json:"effectiveTotal"`
}

func (h *Handler) view(sale models.Sale) saleView {
	v := saleView{
		Sale:           sale,
		Items:          make([]saleItemView, 0, len(sale.Items)),
		EffectiveTotal: sale.EffectiveTotal(),
	}
	for _, item := range sale.Items {
		v.Items = append(v.Items, saleItemView{
			SaleItem:    item,
			ProductName: h.stall.ProductName(item.ProductID),
			Subtotal:    item.Subtotal(),
		})
	}
	return v
}

func (h *Handler) listSales(c *gin.Context) {
	filter := models.SaleFilter(c.Query("kind"))
	switch filter {
	case models.SaleFilterAll, models.SaleFilterReservation, models.SaleFilterWalkup:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid kind",
			"details": "kind must be reservation or walkup",
		})
		return
	}

	sales := h.stall.ListSales(c.Request.Context(), filter)
	views := make([]saleView, 0, len(sales))
	for _, s := range sales {
		views = append(views, h.view(s))
	}

	c.JSON(http.StatusOK, gin.H{"sales": views})
}

func (h *Handler) getSale(c *gin.Context) {
	sale, err := h.stall.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(sale))
}

// createSale handles sale creation. A repeated Idempotency-Key returns the
// sale created by the first request instead of selling twice.
func (h *Handler) createSale(c *gin.Context) {
	var draft models.SaleDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	key := c.GetHeader("Idempotency-Key")
	if key != "" && h.idempotency != nil {
		existing, claimed, err := h.idempotency.ClaimIdempotencyKey(ctx, key, h.idempotencyTTL)
		switch {
		case err != nil:
			h.logger.Warn("Idempotency store unavailable, creating without it", zap.Error(err))
			key = ""
		case !claimed && existing == redisclient.PendingValue:
			c.JSON(http.StatusConflict, gin.H{
				"error": "A request with this Idempotency-Key is still in progress",
			})
			return
		case !claimed:
			sale, err := h.stall.GetSale(ctx, existing)
			if err != nil {
				c.JSON(http.StatusConflict, gin.H{
					"error":   "Idempotency-Key already used",
					"details": "sale " + existing + " no longer exists",
				})
				return
			}
			c.JSON(http.StatusOK, h.view(sale))
			return
		}
	} else {
		key = ""
	}

	sale, err := h.stall.CreateSale(ctx, draft)
	if err != nil {
		if key != "" {
			if ferr := h.idempotency.ForgetIdempotencyKey(ctx, key); ferr != nil {
				h.logger.Warn("Failed to free idempotency key", zap.Error(ferr))
			}
		}
		h.writeError(c, err)
		return
	}

	if key != "" {
		if err := h.idempotency.CompleteIdempotencyKey(ctx, key, sale.ID, h.idempotencyTTL); err != nil {
			h.logger.Warn("Failed to store idempotency key", zap.String("sale_id", sale.ID), zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, h.view(sale))
}

func (h *Handler) updateSale(c *gin.Context) {
	var patch models.SalePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}

	sale, err := h.stall.UpdateSale(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(sale))
}

func (h *Handler) markCollected(c *gin.Context) {
	sale, err := h.stall.MarkCollected(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(sale))
}

func (h *Handler) deleteSale(c *gin.Context) {
	if err := h.stall.DeleteSale(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) totals(c *gin.Context) {
	c.JSON(http.StatusOK, h.stall.Totals(c.Request.Context()))
}

type syncFailureView struct {
	Op    syncer.Op `json:"op"`
	Key   string    `json:"key"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

func (h *Handler) syncFailures(c *gin.Context) {
	views := []syncFailureView{}
	if h.failures != nil {
		for _, f := range h.failures.RecentFailures() {
			views = append(views, syncFailureView{Op: f.Op, Key: f.Key, Error: f.Message(), At: f.At})
		}
	}
	c.JSON(http.StatusOK, gin.H{"failures": views})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "Internal error"

	switch {
	case errors.Is(err, service.ErrValidation):
		status, message = http.StatusBadRequest, "Invalid request"
	case errors.Is(err, service.ErrNotFound):
		status, message = http.StatusNotFound, "Sale not found"
	case errors.Is(err, service.ErrUnknownProduct):
		status, message = http.StatusNotFound, "Product not found"
	case errors.Is(err, service.ErrInsufficientStock):
		status, message = http.StatusConflict, "Insufficient stock"
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
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
