package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/sectorhub/wagateway/internal/contacts"
	"github.com/sectorhub/wagateway/internal/flow"
	"github.com/sectorhub/wagateway/internal/media"
	"github.com/sectorhub/wagateway/internal/sectors"
	"github.com/sectorhub/wagateway/internal/whatsapp"
)

// RequestValidator plugs go-playground/validator into echo.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *RequestValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// bindAndValidate decodes the request body into dst and validates it when a
// validator is installed.
func bindAndValidate(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if c.Echo().Validator == nil {
		return nil
	}
	return c.Validate(dst)
}

// httpError maps domain errors to HTTP errors.
func httpError(err error) error {
	var (
		httpErr     *echo.HTTPError
		providerErr *whatsapp.ProviderAPIError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &httpErr):
		return httpErr
	case errors.Is(err, sectors.ErrNotFound), errors.Is(err, contacts.ErrNotFound), errors.Is(err, flow.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, flow.ErrInvalidDefinition):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, media.ErrAssetTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, media.ErrProviderUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &providerErr):
		return echo.NewHTTPError(http.StatusBadGateway, providerErr.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
