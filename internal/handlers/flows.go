package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sectorhub/wagateway/internal/flow"
	"github.com/sectorhub/wagateway/internal/sectors"
)

type FlowStore interface {
	ActiveFlow(ctx context.Context, sectorID int64) (flow.Flow, error)
	SaveDefinition(ctx context.Context, sectorID int64, name string, def flow.Definition) (flow.Flow, error)
}

type SectorGetter interface {
	Get(ctx context.Context, id int64) (sectors.Sector, error)
}

// FlowsHandler reads and replaces a sector's active flow.
type FlowsHandler struct {
	flows   FlowStore
	sectors SectorGetter
	logger  *slog.Logger
}

func NewFlowsHandler(log *slog.Logger, flows FlowStore, sectorGetter SectorGetter) *FlowsHandler {
	return &FlowsHandler{flows: flows, sectors: sectorGetter, logger: log.With(slog.String("handler", "flows"))}
}

func (h *FlowsHandler) Register(e *echo.Echo) {
	e.GET("/sectors/:id/flow", h.Get)
	e.PUT("/sectors/:id/flow", h.Put)
}

// SaveFlowRequest replaces the active flow.
type SaveFlowRequest struct {
	Name       string          `json:"name"`
	Definition flow.Definition `json:"definition"`
}

func (h *FlowsHandler) Get(c echo.Context) error {
	sectorID, err := int64Param(c.Param("id"), "sector id")
	if err != nil {
		return err
	}
	f, err := h.flows.ActiveFlow(c.Request().Context(), sectorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *FlowsHandler) Put(c echo.Context) error {
	sectorID, err := int64Param(c.Param("id"), "sector id")
	if err != nil {
		return err
	}
	var req SaveFlowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if _, err := h.sectors.Get(ctx, sectorID); err != nil {
		return httpError(err)
	}
	f, err := h.flows.SaveDefinition(ctx, sectorID, req.Name, req.Definition)
	if err != nil {
		h.logger.Warn("save flow failed", slog.Int64("sector_id", sectorID), slog.Any("error", err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}
