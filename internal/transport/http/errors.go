package http

import (
	"errors"
	"net/http"

	"assessment-attempt-service/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func handleServiceError(c *gin.Context, logger *zap.Logger, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Validation failed", Details: validationErr.Fields})
		return
	}

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "Authentication required"})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Access denied"})
	case errors.Is(err, domain.ErrAssessmentNotFound), errors.Is(err, domain.ErrAssessmentUnavailable):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: err.Error()})
	case errors.Is(err, domain.ErrAttemptNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Attempt not found"})
	case errors.Is(err, domain.ErrAttemptLimitExceeded):
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Maximum attempts reached"})
	case errors.Is(err, domain.ErrAlreadySubmitted):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Attempt already submitted"})
	case errors.Is(err, domain.ErrNotEditable):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Attempt is not editable"})
	default:
		logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
	}
}
