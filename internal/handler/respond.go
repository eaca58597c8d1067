package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"peerdesk-server/internal/store"
)

// respondStoreError maps the store's error taxonomy onto HTTP statuses with
// the flat {"error": ...} body every endpoint uses. Not-found and
// invalid-state messages are per operation; the same sentinel means different
// things to different callers.
func respondStoreError(c *gin.Context, err error, notFoundMsg, invalidMsg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMsg})
	case errors.Is(err, store.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
	case errors.Is(err, store.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalidMsg})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Conflict"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
