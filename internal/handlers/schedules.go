package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sectorhub/wagateway/internal/schedule"
)

type ScheduleStore interface {
	Create(ctx context.Context, input schedule.CreateInput) (schedule.Schedule, error)
	ListBySector(ctx context.Context, sectorID int64) ([]schedule.Schedule, error)
}

type ScheduleHandler struct {
	store  ScheduleStore
	logger *slog.Logger
}

func NewScheduleHandler(log *slog.Logger, store ScheduleStore) *ScheduleHandler {
	return &ScheduleHandler{store: store, logger: log.With(slog.String("handler", "schedule"))}
}

func (h *ScheduleHandler) Register(e *echo.Echo) {
	g := e.Group("/schedules")
	g.POST("", h.Create)
	g.GET("/sector/:sectorId", h.List)
}

func (h *ScheduleHandler) Create(c echo.Context) error {
	var req schedule.CreateInput
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	item, err := h.store.Create(c.Request().Context(), req)
	if err != nil {
		h.logger.Error("create schedule failed", slog.Int64("sector_id", req.SectorID), slog.Any("error", err))
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *ScheduleHandler) List(c echo.Context) error {
	sectorID, err := int64Param(c.Param("sectorId"), "sector id")
	if err != nil {
		return err
	}
	items, err := h.store.ListBySector(c.Request().Context(), sectorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}
