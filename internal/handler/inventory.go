package handler

import (
	"net/http"
	"time"

	"stockpos/internal/apierror"
	"stockpos/internal/dto"
	"stockpos/internal/service"

	"github.com/gin-gonic/gin"
)

type InventoryHandler struct {
	stock      service.StockService
	inventory  service.InventoryService
	reconciler service.Reconciler
}

func NewInventoryHandler(stock service.StockService, inventory service.InventoryService, reconciler service.Reconciler) *InventoryHandler {
	return &InventoryHandler{stock: stock, inventory: inventory, reconciler: reconciler}
}

// GetStock godoc
// @Summary      Current stock of a product
// @Tags         products
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string true "Product UUID"
// @Success      200  {object} dto.StockResponse
// @Failure      404  {object} apierror.APIError
// @Router       /v1/products/{id}/stock [get]
func (h *InventoryHandler) GetStock(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.inventory.GetStock(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Adjust godoc
// @Summary      Manual stock movement
// @Description  entrada adds, saida removes, ajuste sets the counted level. Resending the same request_id is a no-op.
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body     dto.ManualAdjustmentRequest true "Movement"
// @Success      200  {object} dto.AdjustmentResponse
// @Failure      409  {object} apierror.InsufficientStock
// @Failure      422  {object} apierror.ValidationError
// @Router       /v1/inventory/adjustments [post]
func (h *InventoryHandler) Adjust(c *gin.Context) {
	var req dto.ManualAdjustmentRequest
	if !bindAndValidate(c, &req) {
		return
	}
	op := operatorID(c)
	resp, err := h.stock.AdjustManual(c.Request.Context(), &op, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListMovements godoc
// @Summary      Stock movement log
// @Tags         inventory
// @Produce      json
// @Security     BearerAuth
// @Param        product_id    query string false "Product UUID"
// @Param        reference_id  query string false "Sale or request UUID"
// @Param        movement_type query string false "entrada | saida | ajuste"
// @Success      200 {object} dto.MovementListResponse
// @Router       /v1/inventory/movements [get]
func (h *InventoryHandler) ListMovements(c *gin.Context) {
	var filter dto.MovementFilter
	if !bindQuery(c, &filter) {
		return
	}
	resp, err := h.inventory.ListMovements(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *InventoryHandler) LowStockAlerts(c *gin.Context) {
	resp, err := h.inventory.LowStockAlerts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *InventoryHandler) Valuation(c *gin.Context) {
	resp, err := h.inventory.Valuation(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Reconciliation godoc
// @Summary      Stock drift report
// @Description  Compares sales with the movement log and replays each product's movement chain.
// @Tags         inventory
// @Produce      json
// @Security     BearerAuth
// @Param        since query string false "Go duration, e.g. 72h (default 24h)"
// @Success      200 {object} dto.ReconciliationReport
// @Router       /v1/inventory/reconciliation [get]
func (h *InventoryHandler) Reconciliation(c *gin.Context) {
	window := 24 * time.Hour
	if raw := c.Query("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, apierror.New(apierror.CodeBadRequest, "since must be a positive duration"))
			return
		}
		window = d
	}
	report, err := h.reconciler.Run(c.Request.Context(), time.Now().Add(-window))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
