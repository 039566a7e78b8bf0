package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chatroom-delivery/internal/events"
	"github.com/tbourn/go-chatroom-delivery/internal/presence"
)

// PresenceResponse lists the identities with a live connection on this
// instance.
type PresenceResponse struct {
	Online []events.PresenceEntry `json:"online"`
	Count  int                    `json:"count" example:"2"`
}

// ListPresence godoc
// @ID          listPresence
// @Summary     List online identities
// @Description Presence is per instance; the list is sorted by identity.
// @Tags        Presence
// @Produce     json
// @Success     200  {object}  handlers.PresenceResponse
// @Router      /presence [get]
func (h *Handlers) ListPresence(c *gin.Context) {
	online := presence.Entries(h.presence.Snapshot())
	ok(c, http.StatusOK, PresenceResponse{Online: online, Count: len(online)})
}
