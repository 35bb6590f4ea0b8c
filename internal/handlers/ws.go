package handlers

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sectorhub/wagateway/internal/realtime"
)

// ConnectionHub groups real-time connections by sector.
type ConnectionHub interface {
	Register(sectorID int64, conn realtime.Connection)
	Unregister(conn realtime.Connection)
	Broadcast(sectorID int64, v any) error
}

// WebsocketHandler upgrades dashboard clients and joins them to their sector.
type WebsocketHandler struct {
	hub          ConnectionHub
	writeTimeout time.Duration
	logger       *slog.Logger
}

func NewWebsocketHandler(log *slog.Logger, hub ConnectionHub, writeTimeout time.Duration) *WebsocketHandler {
	return &WebsocketHandler{hub: hub, writeTimeout: writeTimeout, logger: log.With(slog.String("handler", "ws"))}
}

func (h *WebsocketHandler) Register(e *echo.Echo) {
	e.GET("/ws", h.Connect)
}

// Connect serves /ws?sectorId=N. Text frames holding valid JSON are relayed
// to every client of the sector; anything else is dropped.
func (h *WebsocketHandler) Connect(c echo.Context) error {
	sectorID, err := int64Param(c.QueryParam("sectorId"), "sector id")
	if err != nil {
		return err
	}
	ws, err := realtime.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return nil
	}
	conn := realtime.NewWSConn(ws, h.writeTimeout)
	log := h.logger.With(slog.Int64("sector_id", sectorID), slog.String("conn_id", conn.ID()))
	h.hub.Register(sectorID, conn)
	log.Debug("client connected")
	defer func() {
		h.hub.Unregister(conn)
		_ = conn.Close()
		log.Debug("client disconnected")
	}()

	if err := conn.ReadLoop(func(data []byte) {
		if !json.Valid(data) {
			log.Debug("dropping non-json frame")
			return
		}
		if err := h.hub.Broadcast(sectorID, json.RawMessage(data)); err != nil {
			log.Warn("relay failed", slog.Any("error", err))
		}
	}); err != nil {
		log.Debug("websocket closed unexpectedly", slog.Any("error", err))
	}
	return nil
}
