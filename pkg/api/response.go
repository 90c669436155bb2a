package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lisanmuaddib/replydesk/pkg/autoreply"
	"github.com/lisanmuaddib/replydesk/pkg/desk"
	"github.com/lisanmuaddib/replydesk/pkg/ingest"
	"github.com/lisanmuaddib/replydesk/pkg/marketplace"
	"github.com/lisanmuaddib/replydesk/pkg/memory"
)

// APIError is the error body of every failed request
type APIError struct {
	Message    string   `json:"message"`
	Code       string   `json:"code,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

// ErrorEnvelope wraps APIError
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError writes an error envelope
func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	body := APIError{Message: msg, Code: code}

	var guardErr *desk.GuardrailError
	if errors.As(err, &guardErr) {
		body.Violations = guardErr.Verdict.Strings()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: body})
}

// RespondOK writes a 200 with payload
func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondServiceError maps domain errors to HTTP statuses
func respondServiceError(c *gin.Context, err error) {
	var apiErr *marketplace.APIError
	switch {
	case errors.Is(err, memory.ErrNotFound), errors.Is(err, autoreply.ErrJobNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, desk.ErrInvalidInput):
		RespondError(c, http.StatusBadRequest, "invalid_input", err)
	case errors.Is(err, desk.ErrGuardrail):
		RespondError(c, http.StatusUnprocessableEntity, "guardrail", err)
	case errors.Is(err, autoreply.ErrIneligible):
		RespondError(c, http.StatusUnprocessableEntity, "ineligible", err)
	case errors.Is(err, desk.ErrClosed):
		RespondError(c, http.StatusConflict, "closed", err)
	case errors.Is(err, autoreply.ErrAlreadyScheduled):
		RespondError(c, http.StatusConflict, "already_scheduled", err)
	case errors.Is(err, ingest.ErrSyncInProgress):
		RespondError(c, http.StatusConflict, "sync_in_progress", err)
	case marketplace.IsTransient(err):
		RespondError(c, http.StatusServiceUnavailable, "upstream_unavailable", err)
	case errors.As(err, &apiErr):
		RespondError(c, http.StatusBadGateway, "upstream_rejected", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
