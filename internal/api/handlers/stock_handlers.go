package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pos-platform/stock-service/internal/allocation"
	"github.com/pos-platform/stock-service/internal/application"
	"github.com/pos-platform/stock-service/pkg/errors"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/middleware"
)

// SaleService is implemented by *application.SaleService.
type SaleService interface {
	Checkout(ctx context.Context, cmd application.CheckoutCommand) (*application.SaleDTO, error)
}

// StockService is implemented by *application.StockService.
type StockService interface {
	ReceiveBatch(ctx context.Context, cmd application.ReceiveBatchCommand) (*application.BatchDTO, error)
	Transfer(ctx context.Context, cmd application.TransferCommand) error
	Allocate(ctx context.Context, cmd application.AllocateCommand) (*application.SaleLineDTO, error)
}

// StockQueries is implemented by *application.StockQueryService.
type StockQueries interface {
	Availability(ctx context.Context, productCode string) (*application.AvailabilityDTO, error)
	Batches(ctx context.Context, query application.BatchesQuery) ([]application.BatchDTO, error)
	Shortages(ctx context.Context, query application.ShortagesQuery) ([]application.ShortageDTO, error)
}

// StockHandlers serves the sale and stock endpoints.
type StockHandlers struct {
	sales   SaleService
	stock   StockService
	queries StockQueries
	logger  *logging.Logger
}

func NewStockHandlers(sales SaleService, stock StockService, queries StockQueries, logger *logging.Logger) *StockHandlers {
	return &StockHandlers{sales: sales, stock: stock, queries: queries, logger: logger}
}

// RegisterRoutes registers the stock routes on the router
func (h *StockHandlers) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/sales", middleware.WrapHandler(h.Checkout))
	router.POST("/allocations", middleware.WrapHandler(h.Allocate))
	router.POST("/batches", middleware.WrapHandler(h.ReceiveBatch))
	router.POST("/transfers", middleware.WrapHandler(h.Transfer))
	router.GET("/shortages", middleware.WrapHandler(h.ListShortages))

	products := router.Group("/products/:productCode")
	{
		products.GET("/availability", middleware.WrapHandler(h.GetAvailability))
		products.GET("/batches", middleware.WrapHandler(h.ListBatches))
	}
}

type saleLineRequest struct {
	ProductCode string `json:"productCode" binding:"required,product_code"`
	Quantity    int    `json:"quantity" binding:"gt=0"`
}

type checkoutRequest struct {
	Lines            []saleLineRequest `json:"lines" binding:"required,min=1,dive"`
	ApproveTransfers bool              `json:"approveTransfers"`
	AcceptPartial    bool              `json:"acceptPartial"`
}

// Checkout sells a basket from the shelf. The request flags answer every
// transfer and partial-sale prompt of the sale.
func (h *StockHandlers) Checkout(c *gin.Context) error {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return middleware.BindingError(err)
	}

	cmd := application.CheckoutCommand{
		Decider: allocation.PolicyDecider{ApproveTransfers: req.ApproveTransfers, AcceptPartial: req.AcceptPartial},
	}
	for _, line := range req.Lines {
		cmd.Lines = append(cmd.Lines, application.SaleLine{ProductCode: line.ProductCode, Quantity: line.Quantity})
	}

	sale, err := h.sales.Checkout(c.Request.Context(), cmd)
	if err != nil {
		return err
	}
	if sale.Status != application.SaleCompleted {
		h.logger.WithContext(c.Request.Context()).Warn("Sale not fully supplied", "saleId", sale.SaleID)
	}
	c.JSON(http.StatusCreated, sale)
	return nil
}

type allocateRequest struct {
	ProductCode      string `json:"productCode" binding:"required,product_code"`
	Quantity         int    `json:"quantity" binding:"gt=0"`
	Location         string `json:"location" binding:"omitempty,stock_location"`
	ApproveTransfers bool   `json:"approveTransfers"`
	AcceptPartial    bool   `json:"acceptPartial"`
}

// Allocate settles one product request. Location defaults to SHELF.
func (h *StockHandlers) Allocate(c *gin.Context) error {
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return middleware.BindingError(err)
	}
	if req.Location == "" {
		req.Location = "SHELF"
	}

	line, err := h.stock.Allocate(c.Request.Context(), application.AllocateCommand{
		ProductCode:      req.ProductCode,
		Quantity:         req.Quantity,
		Location:         req.Location,
		ApproveTransfers: req.ApproveTransfers,
		AcceptPartial:    req.AcceptPartial,
	})
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, line)
	return nil
}

type receiveBatchRequest struct {
	BatchID     string     `json:"batchId"`
	ProductCode string     `json:"productCode" binding:"required,product_code"`
	Location    string     `json:"location" binding:"required,stock_location"`
	Quantity    int        `json:"quantity" binding:"gt=0"`
	ReceivedAt  *time.Time `json:"receivedAt"`
	Expiry      *time.Time `json:"expiry"`
}

func (h *StockHandlers) ReceiveBatch(c *gin.Context) error {
	var req receiveBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return middleware.BindingError(err)
	}

	cmd := application.ReceiveBatchCommand{
		BatchID:     req.BatchID,
		ProductCode: req.ProductCode,
		Location:    req.Location,
		Quantity:    req.Quantity,
		Expiry:      req.Expiry,
	}
	if req.ReceivedAt != nil {
		cmd.ReceivedAt = *req.ReceivedAt
	}

	batch, err := h.stock.ReceiveBatch(c.Request.Context(), cmd)
	if err != nil {
		return err
	}
	c.JSON(http.StatusCreated, batch)
	return nil
}

type transferRequest struct {
	ProductCode string `json:"productCode" binding:"required,product_code"`
	From        string `json:"from" binding:"required,stock_location"`
	To          string `json:"to" binding:"required,stock_location,nefield=From"`
	Quantity    int    `json:"quantity" binding:"gt=0"`
}

func (h *StockHandlers) Transfer(c *gin.Context) error {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return middleware.BindingError(err)
	}

	err := h.stock.Transfer(c.Request.Context(), application.TransferCommand{
		ProductCode: req.ProductCode,
		From:        req.From,
		To:          req.To,
		Quantity:    req.Quantity,
	})
	if err != nil {
		return err
	}
	c.Status(http.StatusNoContent)
	return nil
}

func (h *StockHandlers) GetAvailability(c *gin.Context) error {
	availability, err := h.queries.Availability(c.Request.Context(), c.Param("productCode"))
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, availability)
	return nil
}

// ListBatches lists a product's batches at ?location= (default SHELF) in
// deduction order.
func (h *StockHandlers) ListBatches(c *gin.Context) error {
	batches, err := h.queries.Batches(c.Request.Context(), application.BatchesQuery{
		ProductCode: c.Param("productCode"),
		Location:    c.DefaultQuery("location", "SHELF"),
	})
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
	return nil
}

func (h *StockHandlers) ListShortages(c *gin.Context) error {
	query := application.ShortagesQuery{ProductCode: c.Query("productCode")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return errors.ErrValidation("limit must be a non-negative integer")
		}
		query.Limit = limit
	}

	shortages, err := h.queries.Shortages(c.Request.Context(), query)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"shortages": shortages})
	return nil
}
