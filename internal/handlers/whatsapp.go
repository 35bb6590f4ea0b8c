package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sectorhub/wagateway/internal/media"
	"github.com/sectorhub/wagateway/internal/message"
	"github.com/sectorhub/wagateway/internal/outbound"
)

// OutboundSender is the send path used by the API.
type OutboundSender interface {
	SendText(ctx context.Context, req outbound.TextRequest) (message.Message, error)
	SendMedia(ctx context.Context, req outbound.MediaRequest) (message.Message, error)
	SendFile(ctx context.Context, req outbound.FileRequest) (message.Message, media.Asset, error)
}

type WhatsAppHandler struct {
	sender OutboundSender
	logger *slog.Logger
}

func NewWhatsAppHandler(log *slog.Logger, sender OutboundSender) *WhatsAppHandler {
	return &WhatsAppHandler{sender: sender, logger: log.With(slog.String("handler", "whatsapp"))}
}

func (h *WhatsAppHandler) Register(e *echo.Echo) {
	g := e.Group("/whatsapp")
	g.POST("/send-message", h.SendMessage)
	g.POST("/send-media", h.SendMedia)
	g.POST("/send-file", h.SendFile)
}

// FileResponse is returned by send-file.
type FileResponse struct {
	Message message.Payload `json:"message"`
	Asset   media.Asset     `json:"asset"`
}

func (h *WhatsAppHandler) SendMessage(c echo.Context) error {
	var req outbound.TextRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	msg, err := h.sender.SendText(c.Request().Context(), req)
	if err != nil {
		h.logger.Error("send text failed", slog.Int64("sector_id", req.SectorID), slog.Any("error", err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, msg.Payload())
}

func (h *WhatsAppHandler) SendMedia(c echo.Context) error {
	var req outbound.MediaRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	msg, err := h.sender.SendMedia(c.Request().Context(), req)
	if err != nil {
		h.logger.Error("send media failed", slog.Int64("sector_id", req.SectorID), slog.Any("error", err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, msg.Payload())
}

func (h *WhatsAppHandler) SendFile(c echo.Context) error {
	var req outbound.FileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	msg, asset, err := h.sender.SendFile(c.Request().Context(), req)
	if err != nil {
		h.logger.Error("send file failed", slog.Int64("sector_id", req.SectorID), slog.Any("error", err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, FileResponse{Message: msg.Payload(), Asset: asset})
}
