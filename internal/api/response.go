package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
)

// respond writes the success envelope
func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// respondError maps the error taxonomy onto HTTP statuses. Anything
// unclassified is a 500 with a generic message; the details stay in the
// server log only.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	var (
		rateLimited *apperrors.RateLimitedError
		external    *apperrors.ExternalServiceError
		quota       *apperrors.QuotaExceededError
	)

	switch {
	case errors.Is(err, apperrors.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, apperrors.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, apperrors.ErrConflict):
		status, message = http.StatusConflict, err.Error()
	case errors.As(err, &quota):
		status, message = http.StatusTooManyRequests, err.Error()
	case errors.As(err, &rateLimited):
		status, message = http.StatusTooManyRequests, err.Error()
		c.Header("Retry-After", fmt.Sprintf("%d", int(rateLimited.RetryAfter.Seconds()+0.5)))
	case errors.As(err, &external):
		status, message = http.StatusBadGateway,
			fmt.Sprintf("upstream %s is unavailable", external.Provider)
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": message})
}
