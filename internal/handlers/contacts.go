package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sectorhub/wagateway/internal/contacts"
	"github.com/sectorhub/wagateway/internal/message"
)

type ContactService interface {
	Get(ctx context.Context, id int64) (contacts.Contact, error)
	ListBySector(ctx context.Context, sectorID int64) ([]contacts.Contact, error)
	ListByTags(ctx context.Context, sectorID int64, tagIDs []string) ([]contacts.Contact, error)
	Save(ctx context.Context, input contacts.SaveInput) (contacts.Contact, error)
	Delete(ctx context.Context, id int64) error
}

type ContactMessages interface {
	ListByContact(ctx context.Context, contactID int64) ([]message.Message, error)
	MarkContactRead(ctx context.Context, contactID int64) (int64, error)
}

// ContactsHandler manages contacts and their message history.
type ContactsHandler struct {
	contacts ContactService
	messages ContactMessages
	logger   *slog.Logger
}

func NewContactsHandler(log *slog.Logger, contactService ContactService, messages ContactMessages) *ContactsHandler {
	return &ContactsHandler{
		contacts: contactService,
		messages: messages,
		logger:   log.With(slog.String("handler", "contacts")),
	}
}

func (h *ContactsHandler) Register(e *echo.Echo) {
	g := e.Group("/contacts")
	g.GET("/sector/:sectorId", h.ListBySector)
	g.GET("/by-tags", h.ListByTags)
	g.POST("", h.Save)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/messages", h.ListMessages)
	g.PUT("/:id/messages/read", h.MarkRead)
}

func (h *ContactsHandler) ListBySector(c echo.Context) error {
	sectorID, err := int64Param(c.Param("sectorId"), "sector id")
	if err != nil {
		return err
	}
	items, err := h.contacts.ListBySector(c.Request().Context(), sectorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// ListByTags expects ?sectorId=1&tagIds=a,b. No tag ids lists every contact.
func (h *ContactsHandler) ListByTags(c echo.Context) error {
	sectorID, err := int64Param(c.QueryParam("sectorId"), "sector id")
	if err != nil {
		return err
	}
	items, err := h.contacts.ListByTags(c.Request().Context(), sectorID, contacts.ParseTagIDs(c.QueryParam("tagIds")))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// Save adds a contact when id is zero and updates it otherwise.
func (h *ContactsHandler) Save(c echo.Context) error {
	var req contacts.SaveInput
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phone number is required")
	}
	contact, err := h.contacts.Save(c.Request().Context(), req)
	if err != nil {
		h.logger.Error("save contact failed", slog.Int64("sector_id", req.SectorID), slog.Any("error", err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, contact)
}

func (h *ContactsHandler) Delete(c echo.Context) error {
	id, err := int64Param(c.Param("id"), "contact id")
	if err != nil {
		return err
	}
	if err := h.contacts.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ContactsHandler) ListMessages(c echo.Context) error {
	id, err := int64Param(c.Param("id"), "contact id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.contacts.Get(ctx, id); err != nil {
		return httpError(err)
	}
	items, err := h.messages.ListByContact(ctx, id)
	if err != nil {
		return httpError(err)
	}
	payloads := make([]message.Payload, 0, len(items))
	for _, m := range items {
		payloads = append(payloads, m.Payload())
	}
	return c.JSON(http.StatusOK, payloads)
}

func (h *ContactsHandler) MarkRead(c echo.Context) error {
	id, err := int64Param(c.Param("id"), "contact id")
	if err != nil {
		return err
	}
	updated, err := h.messages.MarkContactRead(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": updated})
}

func int64Param(raw, name string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" is required")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}
