package api

import (
	"net/http"

	"marketplace-service/internal/models"

	"github.com/gin-gonic/gin"
)

type createOrderRequest struct {
	ProductID string `json:"product_id" binding:"required"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type updateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
	Reason string             `json:"reason"`
}

func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.CreateDirectOrder(c.Request.Context(), actorFrom(c).UserID, req.ProductID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// listOrders handles GET /orders?type=buying|selling|all&status=
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), actorFrom(c),
		c.DefaultQuery("type", "all"), models.OrderStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) confirmOrder(c *gin.Context) {
	order, err := h.orders.ConfirmOrder(c.Request.Context(), c.Param("id"), actorFrom(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var req cancelOrderRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"), actorFrom(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req updateStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), actorFrom(c), req.Status, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
