package api

import (
	"net/http"

	"marketplace-service/internal/models"

	"github.com/gin-gonic/gin"
)

type createOfferRequest struct {
	ProductID  string `json:"product_id" binding:"required"`
	OfferPrice int64  `json:"offer_price" binding:"required"`
	Message    string `json:"message"`
}

type counterOfferRequest struct {
	CounterOfferPrice int64  `json:"counter_offer_price" binding:"required"`
	SellerMessage     string `json:"seller_message"`
}

func (h *Handler) createOffer(c *gin.Context) {
	var req createOfferRequest
	if !bindJSON(c, &req) {
		return
	}

	offer, err := h.offers.CreateOffer(c.Request.Context(), actorFrom(c).UserID, req.ProductID, req.OfferPrice, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

// listOffers handles GET /offers?type=sent|received|all&status=
func (h *Handler) listOffers(c *gin.Context) {
	offers, err := h.offers.ListOffers(c.Request.Context(), actorFrom(c),
		c.DefaultQuery("type", "all"), models.OfferStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

func (h *Handler) getOffer(c *gin.Context) {
	offer, err := h.offers.GetOffer(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (h *Handler) acceptOffer(c *gin.Context) {
	offer, order, err := h.offers.AcceptOffer(c.Request.Context(), c.Param("id"), actorFrom(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": offer, "order": order})
}

func (h *Handler) rejectOffer(c *gin.Context) {
	offer, err := h.offers.RejectOffer(c.Request.Context(), c.Param("id"), actorFrom(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (h *Handler) counterOffer(c *gin.Context) {
	var req counterOfferRequest
	if !bindJSON(c, &req) {
		return
	}

	offer, err := h.offers.CounterOffer(c.Request.Context(), c.Param("id"), actorFrom(c).UserID,
		req.CounterOfferPrice, req.SellerMessage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (h *Handler) acceptCounterOffer(c *gin.Context) {
	offer, order, err := h.offers.AcceptCounterOffer(c.Request.Context(), c.Param("id"), actorFrom(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": offer, "order": order})
}

func (h *Handler) cancelOffer(c *gin.Context) {
	offer, err := h.offers.CancelOffer(c.Request.Context(), c.Param("id"), actorFrom(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}
