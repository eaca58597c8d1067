package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"peerdesk-server/internal/audit"
	"peerdesk-server/internal/middleware"
	"peerdesk-server/internal/model"
	"peerdesk-server/internal/store"
)

type TrustHandler struct {
	Store *store.Store
	Audit audit.Recorder
}

func grantJSON(g model.TrustGrant) gin.H {
	return gin.H{
		"id":              g.ID,
		"ownerDeviceId":   g.OwnerDeviceID,
		"controllerEmail": g.ControllerEmail,
		"permissions":     g.Permissions,
		"autoApprove":     g.AutoApprove,
		"isActive":        g.IsActive,
		"lastUsedAt":      g.LastUsedAt,
		"createdAt":       g.CreatedAt,
	}
}

type addGrantBody struct {
	ControllerEmail string               `json:"controllerEmail"`
	OwnerDeviceID   string               `json:"ownerDeviceId"`
	Permissions     *model.PermissionSet `json:"permissions"`
	AutoApprove     bool                 `json:"autoApprove"`
}

func (h *TrustHandler) Add(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body addGrantBody
	if err := c.ShouldBindJSON(&body); err != nil || body.ControllerEmail == "" || body.OwnerDeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	perms := model.DefaultPermissions()
	if body.Permissions != nil {
		perms = *body.Permissions
	}

	now := time.Now()
	grant, err := h.Store.AddGrant(id.UserID, body.OwnerDeviceID, body.ControllerEmail, perms, body.AutoApprove, now)
	if err != nil {
		if err == store.ErrConflict {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already trusted"})
			return
		}
		respondStoreError(c, err, "Device not found", "Invalid request")
		return
	}

	h.Audit.Record(audit.Event{
		UserID:   id.UserID,
		DeviceID: body.OwnerDeviceID,
		Type:     audit.EventTrustAdded,
		Data:     map[string]any{"controllerEmail": grant.ControllerEmail},
		At:       now,
	})

	c.JSON(http.StatusCreated, gin.H{"grant": grantJSON(grant)})
}

func (h *TrustHandler) List(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	grants := h.Store.ListGrants(id.UserID)
	resp := make([]gin.H, 0, len(grants))
	for _, g := range grants {
		resp = append(resp, grantJSON(g))
	}
	c.JSON(http.StatusOK, gin.H{"grants": resp})
}

func (h *TrustHandler) Revoke(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	grantID := c.Param("id")
	now := time.Now()
	if err := h.Store.RevokeGrant(grantID, id.UserID, now); err != nil {
		respondStoreError(c, err, "Trusted access not found", "Invalid request")
		return
	}

	h.Audit.Record(audit.Event{
		UserID: id.UserID,
		Type:   audit.EventTrustRevoked,
		Data:   map[string]any{"grantId": grantID},
		At:     now,
	})

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AvailableDevices lists the owner devices this controller may connect to:
// active grants addressed to it, online devices only.
func (h *TrustHandler) AvailableDevices(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	entries := h.Store.AvailableDevices(id.UserID, id.Email)
	resp := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, gin.H{
			"grantId": e.Grant.ID,
			"device": gin.H{
				"id":   e.Device.ID,
				"name": e.Device.Name,
			},
			"ownerId":     e.Grant.OwnerID,
			"permissions": e.Grant.Permissions,
			"autoApprove": e.Grant.AutoApprove,
			"lastUsed":    e.Grant.LastUsedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": resp})
}
