package api

import (
	"errors"
	"net/http"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidRequestBody = "invalid_request_body"
	codeUnauthenticated    = "unauthenticated"
	codeNotFound           = "not_found"
	codeForbidden          = "forbidden"
	codeInvalidState       = "invalid_state"
	codeConflict           = "conflict"
	codeProductUnavailable = "product_unavailable"
	codeExpired            = "expired"
	codeValidation         = "validation_error"
	codeResourceExhausted  = "resource_exhausted"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, Code: code})
}

// respondError maps a service error onto the HTTP error taxonomy
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(c, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, models.ErrForbidden):
		writeError(c, http.StatusForbidden, codeForbidden, err.Error())
	case errors.Is(err, models.ErrValidation):
		writeError(c, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, models.ErrExpired):
		writeError(c, http.StatusGone, codeExpired, err.Error())
	case errors.Is(err, models.ErrInvalidState):
		writeError(c, http.StatusConflict, codeInvalidState, err.Error())
	case errors.Is(err, models.ErrProductUnavailable):
		writeError(c, http.StatusConflict, codeProductUnavailable, err.Error())
	case errors.Is(err, models.ErrConflict):
		writeError(c, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, models.ErrResourceExhausted):
		writeError(c, http.StatusServiceUnavailable, codeResourceExhausted, err.Error())
	default:
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		writeError(c, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
