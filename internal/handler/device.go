package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fare/internal/service"
)

// DeviceHandler exposes this installation's identity.
type DeviceHandler struct {
	identity service.IdentityProvider
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(identity service.IdentityProvider) *DeviceHandler {
	return &DeviceHandler{identity: identity}
}

// DeviceResponse is the HTTP response for GET /v1/device.
type DeviceResponse struct {
	DeviceID string `json:"device_id"`
}

// Get handles GET /v1/device
func (h *DeviceHandler) Get(c *gin.Context) {
	id, err := h.identity.DeviceID(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, DeviceResponse{DeviceID: id})
}
