package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ListNotifications returns the caller's notifications, newest first.
func (h *Handler) ListNotifications(c *gin.Context) {
	unreadOnly, _ := strconv.ParseBool(c.Query("unread"))
	list, err := h.store.ListNotifications(c.Request.Context(), actorFrom(c).UserID, unreadOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]notificationView, len(list))
	for i := range list {
		views[i] = newNotificationView(&list[i])
	}
	c.JSON(http.StatusOK, views)
}

// MarkNotificationRead marks one of the caller's notifications read.
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.store.MarkNotificationRead(c.Request.Context(), actorFrom(c).UserID, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllNotificationsRead marks every unread notification of the caller read.
func (h *Handler) MarkAllNotificationsRead(c *gin.Context) {
	n, err := h.store.MarkAllRead(c.Request.Context(), actorFrom(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}
