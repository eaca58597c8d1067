package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"peerdesk-server/internal/middleware"
	"peerdesk-server/internal/model"
	"peerdesk-server/internal/store"
)

type DeviceHandler struct {
	Store *store.Store
}

func deviceJSON(d model.Device) gin.H {
	return gin.H{
		"id":           d.ID,
		"name":         d.Name,
		"fingerprint":  d.Fingerprint,
		"online":       d.Online,
		"lastActiveAt": d.LastActiveAt,
		"createdAt":    d.CreatedAt,
	}
}

type registerDeviceBody struct {
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name"`
}

func (h *DeviceHandler) Register(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body registerDeviceBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Fingerprint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	device, created, err := h.Store.UpsertDevice(id.UserID, body.Fingerprint, body.Name, c.Request.UserAgent(), time.Now())
	if err != nil {
		if err == store.ErrConflict {
			c.JSON(http.StatusConflict, gin.H{"error": "Device belongs to another user"})
			return
		}
		respondStoreError(c, err, "Device not found", "Invalid request")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"device": deviceJSON(device)})
}

type heartbeatBody struct {
	DeviceID string `json:"deviceId"`
}

func (h *DeviceHandler) Heartbeat(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body heartbeatBody
	if err := c.ShouldBindJSON(&body); err != nil || body.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if !h.Store.TouchDevice(body.DeviceID, id.UserID, time.Now()) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Offline is the graceful counterpart to Heartbeat: clients call it on
// shutdown so their devices drop out of available-devices immediately.
func (h *DeviceHandler) Offline(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body heartbeatBody
	if err := c.ShouldBindJSON(&body); err != nil || body.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if !h.Store.SetDeviceOffline(body.DeviceID, id.UserID, time.Now()) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *DeviceHandler) List(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	devices := h.Store.ListDevices(id.UserID)
	resp := make([]gin.H, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, deviceJSON(d))
	}
	c.JSON(http.StatusOK, gin.H{"devices": resp})
}
