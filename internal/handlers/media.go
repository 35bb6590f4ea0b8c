package handlers

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sectorhub/wagateway/internal/media"
)

// MediaFiles reads objects written by the local storage provider.
type MediaFiles interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Metadata(key string) (map[string]string, error)
}

// MediaHandler serves locally stored media. With a remote store files is nil
// and no route is registered.
type MediaHandler struct {
	files  MediaFiles
	logger *slog.Logger
}

func NewMediaHandler(log *slog.Logger, files MediaFiles) *MediaHandler {
	return &MediaHandler{files: files, logger: log.With(slog.String("handler", "media"))}
}

func (h *MediaHandler) Register(e *echo.Echo) {
	if h.files == nil {
		return
	}
	e.GET("/media/*", h.Serve)
}

func (h *MediaHandler) Serve(c echo.Context) error {
	key, err := url.PathUnescape(c.Param("*"))
	if err != nil || strings.TrimSpace(key) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid media key")
	}
	reader, err := h.files.Open(c.Request().Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return echo.NewHTTPError(http.StatusNotFound, "media not found")
		case errors.Is(err, media.ErrPathTraversal):
			return echo.NewHTTPError(http.StatusBadRequest, "invalid media key")
		default:
			h.logger.Warn("open media failed", slog.String("key", key), slog.Any("error", err))
			return echo.NewHTTPError(http.StatusNotFound, "media not found")
		}
	}
	defer reader.Close()

	contentType := "application/octet-stream"
	if meta, err := h.files.Metadata(key); err == nil && meta["mime-type"] != "" {
		contentType = meta["mime-type"]
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	return c.Stream(http.StatusOK, contentType, reader)
}
