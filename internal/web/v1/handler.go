package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	pkgzerolog "github.com/duynhne/pkg/logger/zerolog"

	"github.com/duynhne/trial-service/internal/core/domain"
	logicv1 "github.com/duynhne/trial-service/internal/logic/v1"
	"github.com/duynhne/trial-service/middleware"
)

// Validator is the business operation behind POST /validate-code.
type Validator interface {
	Validate(ctx context.Context, req domain.ValidateRequest) (domain.Decision, error)
}

// Handler groups HTTP handlers for the invite API v1.
// Dependencies are injected via the constructor; there is no global state.
type Handler struct {
	invites Validator
}

// NewHandler creates a new Handler with the given validator.
func NewHandler(invites Validator) *Handler {
	return &Handler{invites: invites}
}

// RegisterRoutes registers the invite routes on the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/validate-code", h.ValidateCode)
}

// MethodNotAllowed answers requests using the wrong HTTP method.
// Install it with engine.NoMethod after setting HandleMethodNotAllowed.
func MethodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, domain.Decision{Error: "method not allowed"})
}

// ValidateCode handles POST /validate-code.
//
//	200 {"status":"valid","durationMs":5520000}
//	200 {"status":"reused","resetTimestamp":1700086400000}
//	404 {"status":"invalid","error":"invalid invite code"}
//	400 {"error":"..."}
func (h *Handler) ValidateCode(c *gin.Context) {
	ctx, span := middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
	defer span.End()

	logger := pkgzerolog.FromContext(ctx)

	var req domain.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		span.RecordError(err)
		logger.Warn().Err(err).Msg("Malformed validate-code body")
		c.JSON(http.StatusBadRequest, domain.Decision{Error: "malformed request body"})
		return
	}

	decision, err := h.invites.Validate(ctx, req)
	if err != nil {
		span.RecordError(err)

		switch {
		case errors.Is(err, logicv1.ErrMissingField):
			span.SetAttributes(attribute.Bool("request.valid", false))
			logger.Warn().Err(err).Msg("Missing validate-code field")
			c.JSON(http.StatusBadRequest, domain.Decision{Error: "code and userId are required"})
		case errors.Is(err, logicv1.ErrInvalidCode):
			logger.Info().Err(err).Msg("Unknown invite code")
			c.JSON(http.StatusNotFound, domain.Decision{Status: domain.StatusInvalid, Error: "invalid invite code"})
		default:
			logger.Error().Err(err).Msg("Invite validation failed")
			c.JSON(http.StatusInternalServerError, domain.Decision{Error: "internal server error"})
		}
		return
	}

	span.SetAttributes(
		attribute.Bool("request.valid", true),
		attribute.String("invite.status", string(decision.Status)),
	)
	logger.Info().
		Str("status", string(decision.Status)).
		Int64("duration_ms", decision.DurationMs).
		Msg("Invite validated")
	c.JSON(http.StatusOK, decision)
}
