package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sectorhub/wagateway/internal/config"
	"github.com/sectorhub/wagateway/internal/webhook"
	"github.com/sectorhub/wagateway/internal/whatsapp"
)

// WebhookProcessor runs one raw webhook delivery through the inbound pipeline.
type WebhookProcessor interface {
	Process(ctx context.Context, body []byte) error
}

// WebhookHandler serves the provider webhook: subscription verification and
// event delivery. Responses carry only a status; details go to the log.
type WebhookHandler struct {
	processor   WebhookProcessor
	verifyToken string
	appSecret   string
	bodyLimit   int64
	logger      *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, processor WebhookProcessor, cfg config.Config) *WebhookHandler {
	limit := cfg.Server.WebhookBodyLimit
	if limit <= 0 {
		limit = config.DefaultWebhookBodyLimit
	}
	return &WebhookHandler{
		processor:   processor,
		verifyToken: cfg.WhatsApp.VerifyToken,
		appSecret:   cfg.WhatsApp.AppSecret,
		bodyLimit:   limit,
		logger:      log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhook", h.Verify)
	e.POST("/webhook", h.Receive)
}

// Verify answers the subscription handshake with the challenge.
func (h *WebhookHandler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")
	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		h.logger.Warn("webhook verification rejected", slog.String("mode", mode))
		return c.String(http.StatusForbidden, "forbidden")
	}
	return c.String(http.StatusOK, challenge)
}

// Receive processes one event delivery.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, h.bodyLimit+1))
	if err != nil {
		h.logger.Error("read webhook body failed", slog.Any("error", err))
		return c.String(http.StatusInternalServerError, "failed to read body")
	}
	if int64(len(body)) > h.bodyLimit {
		h.logger.Warn("webhook body too large", slog.Int64("limit", h.bodyLimit))
		return c.String(http.StatusRequestEntityTooLarge, "payload too large")
	}
	if h.appSecret != "" && !whatsapp.VerifySignature(h.appSecret, body, c.Request().Header.Get(whatsapp.SignatureHeader)) {
		h.logger.Warn("webhook signature mismatch")
		return c.String(http.StatusForbidden, "invalid signature")
	}

	if err := h.processor.Process(c.Request().Context(), body); err != nil {
		h.logProcessError(err)
		return c.String(http.StatusInternalServerError, "failed to process webhook")
	}
	return c.NoContent(http.StatusOK)
}

func (h *WebhookHandler) logProcessError(err error) {
	var (
		parseErr  *whatsapp.ParseError
		tenantErr *webhook.UnknownTenantError
	)
	switch {
	case errors.As(err, &parseErr):
		h.logger.Error("malformed webhook payload", slog.String("path", parseErr.Path), slog.Any("error", err))
	case errors.As(err, &tenantErr):
		h.logger.Error("webhook for unknown sector", slog.String("phone_number_id", tenantErr.PhoneNumberID))
	default:
		h.logger.Error("webhook processing failed", slog.Any("error", err))
	}
}
