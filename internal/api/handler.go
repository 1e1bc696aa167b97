package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/constants"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/intake"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
	apperrors "github.com/DEFRA/apha-integration-bridge-sub000/pkg/errors"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/metrics"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/models"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/retry"
)

const maxBodyBytes = 1 << 20

type ContactLookup interface {
	LookupContact(ctx context.Context, externalID string) (map[string]any, error)
}

// appError is implemented by domain errors that know their HTTP rendering.
type appError interface {
	AppError() *apperrors.Error
}

type HandlerConfig struct {
	IntegrationEnabled bool
	Retry              retry.Policy
}

// Handler serves the synchronous case-management routes. It shares the
// transformer and forwarder with the message intake.
type Handler struct {
	cfg         HandlerConfig
	transformer intake.Transformer
	forwarder   intake.Forwarder
	contacts    ContactLookup
	logger      logger.Logger
}

func NewHandler(cfg HandlerConfig, transformer intake.Transformer, forwarder intake.Forwarder, contacts ContactLookup, log logger.Logger) *Handler {
	return &Handler{
		cfg:         cfg,
		transformer: transformer,
		forwarder:   forwarder,
		contacts:    contacts,
		logger:      log,
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		cm := v1.Group("/case-management")
		{
			cm.POST("/service-users", h.UpsertServiceUser)
			cm.GET("/contacts/:externalId", h.GetContact)
		}
	}
}

// HandleError renders err for the caller. Only coded errors reach the
// response; anything else becomes a generic internal error and is logged.
func (h *Handler) HandleError(c *gin.Context, err error) {
	var rendered error = apperrors.ErrInternal.WithCause(err)

	var domainErr appError
	var coded *apperrors.Error
	switch {
	case errors.As(err, &domainErr):
		rendered = domainErr.AppError()
	case errors.As(err, &coded):
		rendered = coded
	}

	status := apperrors.ToHTTPStatus(rendered)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	_ = c.Error(err)

	c.JSON(status, apperrors.ToErrorResponse(rendered))
}

// UpsertServiceUser transforms the posted event and forwards it, retrying
// transient downstream failures before giving up.
func (h *Handler) UpsertServiceUser(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.HandleError(c, apperrors.ErrPayloadTooLarge.WithCause(err).WithDetail("limit_bytes", tooLarge.Limit))
			return
		}
		h.HandleError(c, apperrors.ErrValidation.WithCause(err).WithDetail("message", "request body could not be read"))
		return
	}

	ev, err := h.transformer.Transform(body)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	req, err := h.transformer.BuildCompositeRequest(ev)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if !h.cfg.IntegrationEnabled {
		h.HandleError(c, &intake.IntegrationDisabledError{Integration: constants.IntegrationSalesforce})
		return
	}

	var resp *models.CompositeResponse
	err = retry.RetryWithCallback(ctx, h.cfg.Retry, func() error {
		var forwardErr error
		resp, forwardErr = h.forwarder.Forward(ctx, req)
		return forwardErr
	}, func(attempt int, err error, next time.Duration) {
		metrics.IncRetryAttempt(constants.IntegrationSalesforce, "composite")
		h.logger.WarnwCtx(ctx, "Forward failed, retrying",
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"results": resp.CompositeResponse,
	})
}

func (h *Handler) GetContact(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("externalId"))
	if externalID == "" {
		h.HandleError(c, apperrors.ErrValidation.WithDetail("message", "externalId is required"))
		return
	}
	if !h.cfg.IntegrationEnabled {
		h.HandleError(c, &intake.IntegrationDisabledError{Integration: constants.IntegrationSalesforce})
		return
	}

	contact, err := h.contacts.LookupContact(c.Request.Context(), externalID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}
