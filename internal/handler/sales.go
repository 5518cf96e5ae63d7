package handler

import (
	"net/http"

	"stockpos/internal/dto"
	"stockpos/internal/service"

	"github.com/gin-gonic/gin"
)

type SalesHandler struct{ svc service.SaleService }

func NewSalesHandler(svc service.SaleService) *SalesHandler { return &SalesHandler{svc: svc} }

// RecordSale godoc
// @Summary      Record a sale
// @Description  Creates the sale and reduces stock once per line in one transaction. Resubmitting the same id returns the stored sale.
// @Tags         sales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.RecordSaleRequest true "Sale"
// @Success      201  {object} dto.SaleResponse
// @Success      200  {object} dto.SaleResponse "replayed submission"
// @Failure      404  {object} apierror.APIError
// @Failure      409  {object} apierror.InsufficientStock
// @Failure      422  {object} apierror.ValidationError
// @Failure      503  {object} apierror.APIError
// @Router       /v1/sales [post]
func (h *SalesHandler) RecordSale(c *gin.Context) {
	var req dto.RecordSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.RecordSale(c.Request.Context(), operatorID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// GetSale godoc
// @Summary      Get a sale
// @Tags         sales
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string true "Sale UUID"
// @Success      200  {object} dto.SaleResponse
// @Failure      404  {object} apierror.APIError
// @Router       /v1/sales/{id} [get]
func (h *SalesHandler) GetSale(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.GetSale(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListSales godoc
// @Summary      List sales
// @Tags         sales
// @Produce      json
// @Security     BearerAuth
// @Param        status query string false "pending | completed | cancelled | all"
// @Param        since  query string false "RFC 3339 lower bound on created_at"
// @Param        page   query int    false "Page (default 1)"
// @Param        limit  query int    false "Page size (default 50)"
// @Success      200    {object} dto.SaleListResponse
// @Router       /v1/sales [get]
func (h *SalesHandler) ListSales(c *gin.Context) {
	var filter dto.SaleFilter
	if !bindQuery(c, &filter) {
		return
	}
	resp, err := h.svc.ListSales(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CancelSale godoc
// @Summary      Cancel a sale
// @Description  Marks a completed sale cancelled and restores its stock. Cancelling twice is a no-op.
// @Tags         sales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string                true "Sale UUID"
// @Param        body body     dto.CancelSaleRequest true "Reason"
// @Success      200  {object} dto.SaleResponse
// @Failure      404  {object} apierror.APIError
// @Router       /v1/sales/{id}/cancel [post]
func (h *SalesHandler) CancelSale(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req dto.CancelSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.CancelSale(c.Request.Context(), operatorID(c), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteSale godoc
// @Summary      Delete a sale
// @Description  Restores the stock of a completed sale, then deletes it. Movements are kept.
// @Tags         sales
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string true "Sale UUID"
// @Success      200  {object} dto.DeleteSaleResponse
// @Failure      404  {object} apierror.APIError
// @Router       /v1/sales/{id} [delete]
func (h *SalesHandler) DeleteSale(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.DeleteSale(c.Request.Context(), operatorID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
