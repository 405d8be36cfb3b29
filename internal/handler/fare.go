package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fare/internal/domain"
	"fare/internal/service"
)

// FareHandler handles HTTP requests for fare settings and estimates.
type FareHandler struct {
	fareService *service.FareService
}

// NewFareHandler creates a new FareHandler.
func NewFareHandler(fareService *service.FareService) *FareHandler {
	return &FareHandler{fareService: fareService}
}

// FareSettingsRequest is the HTTP request body for updating fare settings.
type FareSettingsRequest struct {
	BaseFare       *float64 `json:"base_fare" binding:"required,gte=0"`
	BaseDistanceKm *float64 `json:"base_distance_km" binding:"required,gte=0"`
	RatePerKm      *float64 `json:"rate_per_km" binding:"required,gte=0"`
	Currency       string   `json:"currency" binding:"required"`
}

// EstimateRequest is the HTTP request body for a fare estimate.
type EstimateRequest struct {
	Distance string `json:"distance" binding:"required"`
}

// EstimateResponse is the HTTP response for a fare estimate.
type EstimateResponse struct {
	DistanceKm float64 `json:"distance_km"`
	Fare       float64 `json:"fare"`
	Currency   string  `json:"currency"`
	Breakdown  string  `json:"breakdown"`
}

// GetSettings handles GET /v1/fare/settings
func (h *FareHandler) GetSettings(c *gin.Context) {
	settings, err := h.fareService.Settings(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, settings)
}

// UpdateSettings handles PUT /v1/fare/settings
func (h *FareHandler) UpdateSettings(c *gin.Context) {
	var req FareSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	settings := domain.FareSettings{
		BaseFare:       *req.BaseFare,
		BaseDistanceKm: *req.BaseDistanceKm,
		RatePerKm:      *req.RatePerKm,
		Currency:       req.Currency,
	}
	if err := h.fareService.UpdateSettings(c.Request.Context(), settings); err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, settings)
}

// Estimate handles POST /v1/fare/estimate
func (h *FareHandler) Estimate(c *gin.Context) {
	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	quote, ok, err := h.fareService.Estimate(c.Request.Context(), req.Distance)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		respondJSON(c, http.StatusUnprocessableEntity, ErrorResponse{Error: service.ErrInvalidDistance.Error()})
		return
	}

	respondJSON(c, http.StatusOK, EstimateResponse{
		DistanceKm: quote.DistanceKm,
		Fare:       quote.Fare,
		Currency:   quote.Currency,
		Breakdown:  quote.Breakdown,
	})
}
