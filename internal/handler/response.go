package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fare/internal/repository"
	"fare/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidTripID),
		errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, service.ErrInvalidDistance),
		errors.Is(err, service.ErrInvalidFare),
		errors.Is(err, service.ErrInvalidFareSettings),
		errors.Is(err, service.ErrUnsupportedCurrency):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, service.ErrTrackingActive),
		errors.Is(err, service.ErrTrackingInactive),
		errors.Is(err, service.ErrSampleDropped):
		return http.StatusConflict

	// Location provider errors
	case errors.Is(err, service.ErrLocationDenied):
		return http.StatusForbidden
	case errors.Is(err, service.ErrLocationUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, service.ErrLocationTimeout):
		return http.StatusGatewayTimeout

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
