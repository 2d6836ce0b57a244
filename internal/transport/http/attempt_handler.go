package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"assessment-attempt-service/internal/app"
	"assessment-attempt-service/internal/domain"
	"assessment-attempt-service/internal/report"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type AttemptHandler struct {
	service *app.AttemptService
	logger  *zap.Logger
}

func NewAttemptHandler(service *app.AttemptService, logger *zap.Logger) *AttemptHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttemptHandler{service: service, logger: logger}
}

type saveAnswersRequest struct {
	Answers *domain.Answers `json:"answers" binding:"required"`
}

type submitRequest struct {
	Answers *domain.Answers     `json:"answers"`
	Reason  domain.SubmitReason `json:"reason"`
}

type reviewResponse struct {
	Assessment app.AssessmentContent `json:"assessment"`
	Attempts   []domain.Attempt      `json:"attempts"`
}

func (h *AttemptHandler) ListAvailable(c *gin.Context) {
	rows, err := h.service.ListAvailable(c.Request.Context(), identityFrom(c).UserID)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessments": rows})
}

func (h *AttemptHandler) Preview(c *gin.Context) {
	view, err := h.service.Preview(c.Request.Context(), c.Param("id"), identityFrom(c))
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *AttemptHandler) Gate(c *gin.Context) {
	mandatory := false
	if raw := c.Query("mandatory"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			handleServiceError(c, h.logger, domain.NewValidationError("mandatory", "must be a boolean"))
			return
		}
		mandatory = parsed
	}
	decision, err := h.service.GateForApplication(c.Request.Context(), c.Param("id"), identityFrom(c).UserID, mandatory)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": decision})
}

func (h *AttemptHandler) Start(c *gin.Context) {
	attempt, created, err := h.service.Start(c.Request.Context(), c.Param("id"), identityFrom(c).UserID)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, attempt)
}

func (h *AttemptHandler) ListForReview(c *gin.Context) {
	assessment, attempts, err := h.service.ListForReview(c.Request.Context(), c.Param("id"), identityFrom(c))
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	preview, err := app.PreviewView(assessment)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, reviewResponse{
		Assessment: preview.Assessment,
		Attempts:   attempts,
	})
}

func (h *AttemptHandler) Export(c *gin.Context) {
	assessment, attempts, err := h.service.ListForReview(c.Request.Context(), c.Param("id"), identityFrom(c))
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteAttempts(&buf, assessment, attempts); err != nil {
		handleServiceError(c, h.logger, fmt.Errorf("export attempts: %w", err))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-attempts.xlsx"`, assessment.ID))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *AttemptHandler) View(c *gin.Context) {
	view, err := h.service.View(c.Request.Context(), attemptRef(c), identityFrom(c))
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *AttemptHandler) Resume(c *gin.Context) {
	attempt, err := h.service.Resume(c.Request.Context(), attemptRef(c), identityFrom(c).UserID)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

func (h *AttemptHandler) SaveAnswers(c *gin.Context) {
	var req saveAnswersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body", Details: err.Error()})
		return
	}
	attempt, err := h.service.SaveAnswers(c.Request.Context(), attemptRef(c), identityFrom(c).UserID, *req.Answers)
	if errors.Is(err, domain.ErrAlreadySubmitted) && attempt.ID != "" {
		// The client switches to the frozen view with the stored attempt.
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Attempt already submitted", Details: attempt})
		return
	}
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

func (h *AttemptHandler) Submit(c *gin.Context) {
	var req submitRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body", Details: err.Error()})
			return
		}
	}
	if req.Reason != "" && !req.Reason.Valid() {
		handleServiceError(c, h.logger, domain.NewValidationError("reason", "unsupported submit reason %q", req.Reason))
		return
	}
	attempt, err := h.service.Submit(c.Request.Context(), attemptRef(c), identityFrom(c).UserID, req.Answers, req.Reason)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

func attemptRef(c *gin.Context) domain.AttemptRef {
	return domain.AttemptRef{AssessmentID: c.Param("id"), AttemptID: c.Param("attemptId")}
}
