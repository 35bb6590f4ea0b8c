package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sectorhub/wagateway/internal/sectors"
)

type SectorService interface {
	Get(ctx context.Context, id int64) (sectors.Sector, error)
	List(ctx context.Context) ([]sectors.Sector, error)
	Create(ctx context.Context, input sectors.CreateInput) (sectors.Sector, error)
	UpdateCredentials(ctx context.Context, id int64, creds sectors.Credentials) (sectors.Sector, error)
}

// SectorsHandler manages sectors and their provider credentials.
type SectorsHandler struct {
	sectors SectorService
	logger  *slog.Logger
}

func NewSectorsHandler(log *slog.Logger, sectorService SectorService) *SectorsHandler {
	return &SectorsHandler{sectors: sectorService, logger: log.With(slog.String("handler", "sectors"))}
}

func (h *SectorsHandler) Register(e *echo.Echo) {
	g := e.Group("/sectors")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id/credentials", h.GetCredentials)
	g.PUT("/:id/credentials", h.UpdateCredentials)
}

func (h *SectorsHandler) List(c echo.Context) error {
	items, err := h.sectors.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	for i := range items {
		items[i].AccessToken = ""
	}
	return c.JSON(http.StatusOK, items)
}

func (h *SectorsHandler) Create(c echo.Context) error {
	var req sectors.CreateInput
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	sector, err := h.sectors.Create(c.Request().Context(), req)
	if err != nil {
		h.logger.Error("create sector failed", slog.Any("error", err))
		return httpError(err)
	}
	sector.AccessToken = ""
	return c.JSON(http.StatusCreated, sector)
}

func (h *SectorsHandler) GetCredentials(c echo.Context) error {
	id, err := int64Param(c.Param("id"), "sector id")
	if err != nil {
		return err
	}
	sector, err := h.sectors.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sectors.Credentials{
		PhoneNumberID: sector.PhoneNumberID,
		AccessToken:   sector.AccessToken,
	})
}

func (h *SectorsHandler) UpdateCredentials(c echo.Context) error {
	id, err := int64Param(c.Param("id"), "sector id")
	if err != nil {
		return err
	}
	var req sectors.Credentials
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	sector, err := h.sectors.UpdateCredentials(c.Request().Context(), id, req)
	if err != nil {
		h.logger.Error("update credentials failed", slog.Int64("sector_id", id), slog.Any("error", err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sectors.Credentials{
		PhoneNumberID: sector.PhoneNumberID,
		AccessToken:   sector.AccessToken,
	})
}
