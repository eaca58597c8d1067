package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"peerdesk-server/internal/audit"
	"peerdesk-server/internal/middleware"
	"peerdesk-server/internal/model"
	"peerdesk-server/internal/qr"
	"peerdesk-server/internal/store"
)

type SessionHandler struct {
	Store      *store.Store
	Audit      audit.Recorder
	SessionTTL time.Duration
}

func sessionJSON(sess model.Session) gin.H {
	return gin.H{
		"id":                 sess.ID,
		"kind":               sess.Kind,
		"status":             sess.Status,
		"roomId":             sess.RoomID,
		"permissions":        sess.Permissions,
		"ownerDeviceId":      sess.OwnerDeviceID,
		"controllerDeviceId": sess.ControllerDeviceID,
		"createdAt":          sess.CreatedAt,
		"expiresAt":          sess.ExpiresAt,
		"startedAt":          sess.StartedAt,
		"endedAt":            sess.EndedAt,
	}
}

type createInstantBody struct {
	OwnerDeviceID string               `json:"ownerDeviceId"`
	Permissions   *model.PermissionSet `json:"permissions"`
	TTLSeconds    int                  `json:"ttlSeconds"`
}

func (h *SessionHandler) CreateInstant(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body createInstantBody
	if err := c.ShouldBindJSON(&body); err != nil || body.OwnerDeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	perms := model.DefaultPermissions()
	if body.Permissions != nil {
		perms = *body.Permissions
	}
	ttl := h.SessionTTL
	if body.TTLSeconds > 0 {
		ttl = time.Duration(body.TTLSeconds) * time.Second
	}

	now := time.Now()
	sess, err := h.Store.CreateInstantSession(id.UserID, body.OwnerDeviceID, perms, ttl, now)
	if err != nil {
		respondStoreError(c, err, "Device not found", "Invalid request")
		return
	}

	qrPayload, err := qr.DataURL(sess.Token)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sess.ID).Msg("qr encode failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	h.Audit.Record(audit.Event{
		SessionID: sess.ID,
		UserID:    id.UserID,
		DeviceID:  body.OwnerDeviceID,
		Type:      audit.EventSessionCreated,
		Data:      map[string]any{"kind": sess.Kind, "expiresAt": sess.ExpiresAt},
		At:        now,
	})

	resp := sessionJSON(sess)
	resp["token"] = sess.Token
	resp["qrPayload"] = qrPayload
	c.JSON(http.StatusCreated, gin.H{"session": resp})
}

type joinBody struct {
	Token              string `json:"token"`
	ControllerDeviceID string `json:"controllerDeviceId"`
}

func (h *SessionHandler) Join(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body joinBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Token == "" || body.ControllerDeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	now := time.Now()
	sess, err := h.Store.JoinSession(body.Token, id.UserID, body.ControllerDeviceID, now)
	if err != nil {
		respondStoreError(c, err, "Session not found", "Session expired or invalid")
		return
	}

	h.Audit.Record(audit.Event{
		SessionID: sess.ID,
		UserID:    id.UserID,
		DeviceID:  body.ControllerDeviceID,
		Type:      audit.EventSessionJoined,
		At:        now,
	})

	c.JSON(http.StatusOK, gin.H{"session": sessionJSON(sess)})
}

type createPermanentBody struct {
	OwnerDeviceID      string `json:"ownerDeviceId"`
	ControllerDeviceID string `json:"controllerDeviceId"`
}

func (h *SessionHandler) CreatePermanent(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body createPermanentBody
	if err := c.ShouldBindJSON(&body); err != nil || body.OwnerDeviceID == "" || body.ControllerDeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	now := time.Now()
	sess, err := h.Store.CreatePermanentSession(id.UserID, id.Email, body.OwnerDeviceID, body.ControllerDeviceID, now)
	if err != nil {
		respondStoreError(c, err, "Device not found", "Owner device is offline")
		return
	}

	h.Audit.Record(audit.Event{
		SessionID: sess.ID,
		UserID:    id.UserID,
		DeviceID:  body.ControllerDeviceID,
		Type:      audit.EventSessionCreated,
		Data:      map[string]any{"kind": sess.Kind, "ownerDeviceId": body.OwnerDeviceID},
		At:        now,
	})

	c.JSON(http.StatusCreated, gin.H{"session": sessionJSON(sess)})
}

// Approve moves a pending permanent session to active. Only the owner may
// approve; sessions created from an autoApprove grant never pass through here.
func (h *SessionHandler) Approve(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	sessionID := c.Param("id")
	now := time.Now()
	sess, err := h.Store.ApprovePermanentSession(sessionID, id.UserID, now)
	if err != nil {
		respondStoreError(c, err, "Session not found", "Session is not awaiting approval")
		return
	}

	h.Audit.Record(audit.Event{
		SessionID: sess.ID,
		UserID:    id.UserID,
		Type:      audit.EventSessionApproved,
		At:        now,
	})

	c.JSON(http.StatusOK, gin.H{"session": sessionJSON(sess)})
}

func (h *SessionHandler) End(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	sessionID := c.Param("id")
	now := time.Now()
	sess, err := h.Store.EndSession(sessionID, id.UserID, now)
	if err != nil {
		respondStoreError(c, err, "Session not found", "Session expired or invalid")
		return
	}

	h.Audit.Record(audit.Event{
		SessionID: sess.ID,
		UserID:    id.UserID,
		Type:      audit.EventSessionEnded,
		At:        now,
	})

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *SessionHandler) ListActive(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	sessions := h.Store.ListActiveSessions(id.UserID, time.Now())
	resp := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, sessionJSON(sess))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": resp})
}
