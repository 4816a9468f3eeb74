package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"lingopipe/internal/domain/usecase"
)

// writeError maps domain errors onto HTTP statuses. Anything unmapped is a
// 500 with the raw message, same as the rest of the API surface.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, usecase.ErrInputNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "input file not found"})
	case errors.Is(err, usecase.ErrConflictingState):
		c.JSON(http.StatusConflict, gin.H{"error": "job is not in a dispatchable or downloadable state"})
	case errors.Is(err, usecase.ErrInsufficientCredits):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credits"})
	case errors.Is(err, usecase.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
