package api

import (
	"net/http"

	"marketplace-service/internal/models"

	"github.com/gin-gonic/gin"
)

type attachProofRequest struct {
	Proof string `json:"proof" binding:"required"`
}

type rejectPaymentRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) createPayment(c *gin.Context) {
	payment, target, err := h.payments.CreatePayment(c.Request.Context(), c.Param("id"), actorFrom(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payment":        payment,
		"payment_target": target,
	})
}

func (h *Handler) getPaymentByOrder(c *gin.Context) {
	payment, err := h.payments.GetByOrder(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) listOwnPayments(c *gin.Context) {
	payments, err := h.payments.ListOwn(c.Request.Context(), actorFrom(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *Handler) getPayment(c *gin.Context) {
	payment, err := h.payments.GetPayment(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) attachProof(c *gin.Context) {
	var req attachProofRequest
	if !bindJSON(c, &req) {
		return
	}

	payment, err := h.payments.AttachProof(c.Request.Context(), c.Param("id"), actorFrom(c).UserID, req.Proof)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) listAllPayments(c *gin.Context) {
	payments, err := h.payments.ListAll(c.Request.Context(), actorFrom(c), models.PaymentStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *Handler) listPendingPayments(c *gin.Context) {
	payments, err := h.payments.ListPending(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *Handler) confirmPayment(c *gin.Context) {
	payment, err := h.payments.ConfirmPayment(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) rejectPayment(c *gin.Context) {
	var req rejectPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	payment, err := h.payments.RejectPayment(c.Request.Context(), c.Param("id"), actorFrom(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
