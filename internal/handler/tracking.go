package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fare/internal/clock"
	"fare/internal/domain"
	"fare/internal/service"
)

// TrackingHandler handles HTTP requests for GPS distance tracking.
type TrackingHandler struct {
	tracking *service.TrackingService
	push     *service.PushProvider
	identity service.IdentityProvider
	clock    clock.Clock
}

// NewTrackingHandler creates a new TrackingHandler. push is nil when samples
// arrive through another provider.
func NewTrackingHandler(
	tracking *service.TrackingService,
	push *service.PushProvider,
	identity service.IdentityProvider,
	clk clock.Clock,
) *TrackingHandler {
	if clk == nil {
		clk = clock.System{}
	}
	return &TrackingHandler{
		tracking: tracking,
		push:     push,
		identity: identity,
		clock:    clk,
	}
}

// SampleRequest is the HTTP request body for pushing a location sample.
type SampleRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
	Timestamp int64    `json:"timestamp"`
}

// TrackingStateResponse is the HTTP response for the tracking session.
type TrackingStateResponse struct {
	Active     bool                    `json:"active"`
	DistanceKm float64                 `json:"distance_km"`
	Route      []domain.LocationSample `json:"route"`
	Error      string                  `json:"error,omitempty"`
}

func toTrackingStateResponse(s domain.TrackingState) TrackingStateResponse {
	route := s.Route
	if route == nil {
		route = []domain.LocationSample{}
	}
	return TrackingStateResponse{
		Active:     s.Active,
		DistanceKm: s.DistanceKm,
		Route:      route,
		Error:      s.Error,
	}
}

// Start handles POST /v1/tracking/start
func (h *TrackingHandler) Start(c *gin.Context) {
	if err := h.tracking.Start(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTrackingStateResponse(h.tracking.State()))
}

// PushSample handles POST /v1/tracking/samples
func (h *TrackingHandler) PushSample(c *gin.Context) {
	if h.push == nil {
		respondError(c, service.ErrLocationUnsupported)
		return
	}

	var req SampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	deviceID, err := h.identity.DeviceID(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	sample := domain.LocationSample{
		Latitude:        *req.Latitude,
		Longitude:       *req.Longitude,
		TimestampMillis: req.Timestamp,
	}
	if sample.TimestampMillis == 0 {
		sample.TimestampMillis = h.clock.Now().UnixMilli()
	}

	if err := h.push.Push(deviceID, sample); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

// Stop handles POST /v1/tracking/stop
func (h *TrackingHandler) Stop(c *gin.Context) {
	respondJSON(c, http.StatusOK, h.tracking.Stop(c.Request.Context()))
}

// Reset handles POST /v1/tracking/reset
func (h *TrackingHandler) Reset(c *gin.Context) {
	h.tracking.Reset()
	respondJSON(c, http.StatusOK, toTrackingStateResponse(h.tracking.State()))
}

// State handles GET /v1/tracking
func (h *TrackingHandler) State(c *gin.Context) {
	respondJSON(c, http.StatusOK, toTrackingStateResponse(h.tracking.State()))
}
