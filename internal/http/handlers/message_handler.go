// Message HTTP handlers.
//
//   - POST /chatrooms/{name}/messages             (send, same path as the websocket message.send)
//   - GET  /chatrooms/{name}/messages             (paginated history, ETag aware)
//   - GET  /chatrooms/{name}/messages/{id}/acks   (who delivered or read a message)
//
// Idempotency:
// An Idempotency-Key header becomes the send's client message id. Retrying
// with the same key returns the stored message with
// `Idempotency-Replayed: true` instead of appending a second copy.
package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/http/middleware"
	"github.com/tbourn/go-chatroom-delivery/internal/services"
)

// ReplyRequest references the message being replied to.
type ReplyRequest struct {
	ID   string `json:"id"   example:"5f1c3b1e-8a4f-4c55-9a43-0f7a2f2d3c11"`
	Body string `json:"body" example:"see you at 10?"`
}

// PostMessageRequest is the JSON payload for sending a message.
type PostMessageRequest struct {
	Body        string        `json:"body"         binding:"required" example:"hello everyone"`
	MessageType string        `json:"message_type" example:"text"`
	ReplyTo     *ReplyRequest `json:"reply_to"`
	Mentions    []string      `json:"mentions"     example:"u-bob"`
}

// PostMessageResponse is the stored message plus how fan-out went.
type PostMessageResponse struct {
	Message *domain.ChatMessage `json:"message"`
	// Queued counts online recipients the message was handed to.
	Queued int `json:"queued"`
	// Offline counts recipients that will receive it on backfill.
	Offline int `json:"offline"`
}

// ListMessagesResponse contains a page of messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.ChatMessage `json:"messages"`
	Pagination Pagination           `json:"pagination"`
}

// AcknowledgementsResponse lists the acknowledgements of one kind.
type AcknowledgementsResponse struct {
	Kind string             `json:"kind" example:"read"`
	Acks []domain.AckRecord `json:"acks"`
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message to a chatroom
// @Description Appends the message, then fans it out to online participants.
// @Description Supports idempotency via the Idempotency-Key header (same key → same message).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "Sender identity"  example(u-alice)
// @Param       Idempotency-Key  header  string  false "Client message id for safe retries"
// @Param       name             path    string  true  "Chatroom name"
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.PostMessageResponse  "Stored and fanned out"
// @Success     200  {object}  handlers.PostMessageResponse  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Chatroom not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Idempotency-Key reused for a different message"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /chatrooms/{name}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	identity, okID := caller(c)
	if !okID {
		return
	}
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		return
	}

	cmd := services.SendCommand{
		ChatroomName:  c.Param("name"),
		SenderID:      identity,
		Body:          req.Body,
		Type:          domain.MessageType(req.MessageType),
		Mentions:      req.Mentions,
		ClientMsgID:   strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		CorrelationID: middleware.RequestIDFrom(c),
	}
	if cmd.Type == "" {
		cmd.Type = domain.TypeText
	}
	if req.ReplyTo != nil {
		cmd.ReplyTo = &services.ReplyInput{ID: req.ReplyTo.ID, Body: req.ReplyTo.Body}
	}

	res, err := h.router.Send(c.Request.Context(), cmd)
	if err != nil {
		failService(c, err, "send failed")
		return
	}
	resp := PostMessageResponse{Message: res.Message, Queued: res.Queued, Offline: res.Offline}
	if res.Replayed {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, resp)
		return
	}
	ok(c, http.StatusCreated, resp)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chatroom
// @Description Returns a page of the chatroom log, oldest first. Responses carry a weak ETag.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header string  true  "Participant identity"
// @Param       name       path   string  true  "Chatroom name"
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Success     304  "Not modified"
// @Failure     401  {object} handlers.ErrorResponse
// @Failure     403  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /chatrooms/{name}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	identity, okID := caller(c)
	if !okID {
		return
	}
	ctx := c.Request.Context()
	name := c.Param("name")
	page, pageSize := pageParams(c)

	items, total, err := h.router.History(ctx, identity, name, page, pageSize)
	if err != nil {
		failService(c, err, "list messages failed")
		return
	}

	// ETag (best effort); membership was checked by History.
	if count, maxTS, err := h.router.HistoryStats(ctx, name); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"messages:%s:%d:%d:%d:%d"`, url.PathEscape(strings.TrimSpace(name)), count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	if items == nil {
		items = []domain.ChatMessage{}
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items, Pagination: newPagination(page, pageSize, total)})
}

// ListAcknowledgements godoc
// @ID          listAcknowledgements
// @Summary     List who acknowledged a message
// @Description Durable receipts first, then acknowledgements still waiting to be flushed.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header string  true  "Participant identity"
// @Param       name       path   string  true  "Chatroom name"
// @Param       id         path   string  true  "Message ID"  format(uuid)
// @Param       kind       query  string  false "delivered or read"  default(read)
//
// @Success     200  {object} handlers.AcknowledgementsResponse
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     403  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /chatrooms/{name}/messages/{id}/acks [get]
func (h *Handlers) ListAcknowledgements(c *gin.Context) {
	identity, okID := caller(c)
	if !okID {
		return
	}
	kind := domain.AckKind(c.DefaultQuery("kind", string(domain.AckRead)))
	acks, err := h.router.Acknowledgements(c.Request.Context(), identity, c.Param("name"), c.Param("id"), kind)
	if err != nil {
		failService(c, err, "list acknowledgements failed")
		return
	}
	if acks == nil {
		acks = []domain.AckRecord{}
	}
	ok(c, http.StatusOK, AcknowledgementsResponse{Kind: string(kind), Acks: acks})
}
