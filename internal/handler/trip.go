package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fare/internal/domain"
	"fare/internal/service"
)

// TripHandler handles HTTP requests for the trip history.
type TripHandler struct {
	history  *service.HistoryService
	fare     *service.FareService
	tracking *service.TrackingService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(
	history *service.HistoryService,
	fare *service.FareService,
	tracking *service.TrackingService,
) *TripHandler {
	return &TripHandler{
		history:  history,
		fare:     fare,
		tracking: tracking,
	}
}

// SaveTripRequest is the HTTP request body for saving a trip.
type SaveTripRequest struct {
	Distance     string `json:"distance" binding:"required"`
	FromTracking bool   `json:"from_tracking"`
}

// SaveTripResponse is the HTTP response for a saved trip.
type SaveTripResponse struct {
	Trip    *domain.TripRecord `json:"trip"`
	Synced  bool               `json:"synced"`
	Message string             `json:"message"`
}

// ListTripsResponse is the HTTP response for the merged trip history.
type ListTripsResponse struct {
	Trips       []*domain.TripRecord `json:"trips"`
	SyncDelayed bool                 `json:"sync_delayed"`
	Message     string               `json:"message,omitempty"`
}

// SyncResponse is the HTTP response for remote sync operations.
type SyncResponse struct {
	Synced  bool   `json:"synced"`
	Message string `json:"message,omitempty"`
	Pushed  int    `json:"pushed,omitempty"`
}

// Save handles POST /v1/trips
func (h *TripHandler) Save(c *gin.Context) {
	var req SaveTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	quote, ok, err := h.fare.Estimate(ctx, req.Distance)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		respondJSON(c, http.StatusUnprocessableEntity, ErrorResponse{Error: service.ErrInvalidDistance.Error()})
		return
	}

	data := domain.NewManualTripData(quote.DistanceKm, quote.Fare, quote.Currency)
	if req.FromTracking && h.tracking != nil {
		if route := h.tracking.Route(); len(route) > 0 {
			data = domain.NewGPSTripData(quote.DistanceKm, quote.Fare, quote.Currency, route)
		}
	}

	result, err := h.history.Save(ctx, data)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, SaveTripResponse{
		Trip:    result.Trip,
		Synced:  result.Sync.Synced,
		Message: result.Message,
	})
}

// List handles GET /v1/trips
func (h *TripHandler) List(c *gin.Context) {
	trips, outcome := h.history.ListMerged(c.Request.Context())
	if trips == nil {
		trips = []*domain.TripRecord{}
	}

	respondJSON(c, http.StatusOK, ListTripsResponse{
		Trips:       trips,
		SyncDelayed: !outcome.Synced,
		Message:     service.OutcomeMessage(outcome),
	})
}

// Delete handles DELETE /v1/trips/:id
func (h *TripHandler) Delete(c *gin.Context) {
	outcome, err := h.history.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, SyncResponse{
		Synced:  outcome.Synced,
		Message: service.OutcomeMessage(outcome),
	})
}

// Clear handles DELETE /v1/trips
func (h *TripHandler) Clear(c *gin.Context) {
	outcome, err := h.history.ClearAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, SyncResponse{
		Synced:  outcome.Synced,
		Message: service.OutcomeMessage(outcome),
	})
}

// Sync handles POST /v1/trips/sync
func (h *TripHandler) Sync(c *gin.Context) {
	pushed, outcome := h.history.SyncPending(c.Request.Context())

	respondJSON(c, http.StatusOK, SyncResponse{
		Synced:  outcome.Synced,
		Message: service.OutcomeMessage(outcome),
		Pushed:  pushed,
	})
}
