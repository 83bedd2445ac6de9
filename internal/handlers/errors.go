package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/tools/router"

	"emoney-portal/internal/platform"
	"emoney-portal/internal/services"
	"emoney-portal/internal/status"
)

// ErrorMapping ties a sentinel error to the response it produces.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

// ErrorMapper turns service errors into PocketBase API errors.
type ErrorMapper struct {
	mappings       []ErrorMapping
	defaultStatus  int
	defaultMessage string
}

func NewErrorMapper() *ErrorMapper {
	return &ErrorMapper{
		defaultStatus:  http.StatusInternalServerError,
		defaultMessage: platform.GenericMessage,
	}
}

func (m *ErrorMapper) WithMapping(err error, status int, message string) *ErrorMapper {
	m.mappings = append(m.mappings, ErrorMapping{Error: err, Status: status, Message: message})
	return m
}

func (m *ErrorMapper) WithDefault(status int, message string) *ErrorMapper {
	m.defaultStatus = status
	m.defaultMessage = message
	return m
}

// Map converts err into the API error sent to the browser. Platform error text
// is passed through verbatim; anything unrecognised becomes the generic message.
func (m *ErrorMapper) Map(err error) *router.ApiError {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apis.NewApiError(http.StatusGatewayTimeout, "Request timeout.", nil)
	}
	if errors.Is(err, context.Canceled) {
		return apis.NewApiError(http.StatusServiceUnavailable, "Request cancelled.", nil)
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return apis.NewBadRequestError("Invalid request", verrs)
	}

	var dialog *services.DialogError
	if errors.As(err, &dialog) {
		apiErr := apis.NewBadRequestError("", nil)
		// the constructor rewrites messages into sentences, so set it afterwards
		apiErr.Message = dialog.Message
		apiErr.Data = map[string]any{"code": dialog.Code, "dialog": true}
		return apiErr
	}

	for _, mapping := range m.mappings {
		if errors.Is(err, mapping.Error) {
			return apis.NewApiError(mapping.Status, mapping.Message, nil)
		}
	}

	var apiErr *platform.APIError
	if errors.As(err, &apiErr) {
		code := http.StatusBadRequest
		if apiErr.StatusCode >= http.StatusInternalServerError {
			code = http.StatusBadGateway
		}
		out := apis.NewApiError(code, "", nil)
		out.Message = apiErr.Message
		if apiErr.Code != "" {
			out.Data = map[string]any{"code": apiErr.Code}
		}
		return out
	}

	slog.Error("unhandled error", "error", err)
	return apis.NewApiError(m.defaultStatus, m.defaultMessage, nil)
}

// Respond maps err and returns it as the handler result.
func (m *ErrorMapper) Respond(err error) error {
	if apiErr := m.Map(err); apiErr != nil {
		return apiErr
	}
	return nil
}

var portalErrors = NewErrorMapper().
	WithMapping(status.ErrSessionNotFound, http.StatusUnauthorized, "Your session has expired. Please sign in again.").
	WithMapping(status.ErrUnauthorized, http.StatusUnauthorized, "Your session has expired. Please sign in again.").
	WithMapping(status.ErrForbidden, http.StatusForbidden, "You are not allowed to access this resource.").
	WithMapping(status.ErrNotMerchant, http.StatusForbidden, "A merchant account is required.").
	WithMapping(status.ErrInvalidAmount, http.StatusBadRequest, "Amount must be a positive whole number.").
	WithMapping(status.ErrQRSessionOpen, http.StatusConflict, "A QR code is already open.").
	WithMapping(status.ErrQRSessionNotFound, http.StatusNotFound, "No QR code is open.").
	WithMapping(status.ErrCashoutNotStarted, http.StatusNotFound, "No cashout is in progress.").
	WithMapping(status.ErrCashoutStage, http.StatusConflict, "This step is not available right now.").
	WithMapping(status.ErrCashoutInProgress, http.StatusConflict, "Your previous request is still being processed.").
	WithMapping(status.ErrInquiryRequired, http.StatusConflict, "Please confirm the transfer details first.").
	WithMapping(status.ErrInsufficientBalance, http.StatusBadRequest, "Amount exceeds the available balance.").
	WithMapping(status.ErrDateRangeTooWide, http.StatusBadRequest, "The selected date range is too wide.").
	WithMapping(status.ErrUnknownResource, http.StatusNotFound, "Resource not found.").
	WithMapping(status.ErrReadOnlyResource, http.StatusMethodNotAllowed, "This resource cannot be modified.").
	WithMapping(status.ErrExportUnavailable, http.StatusNotFound, "This report cannot be exported.").
	WithMapping(status.ErrCircuitOpen, http.StatusServiceUnavailable, "The service is temporarily unavailable. Please try again later.")
