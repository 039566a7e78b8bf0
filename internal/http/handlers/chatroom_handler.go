// Chatroom HTTP handlers.
//
//   - POST   /chatrooms                                  (create with roster)
//   - GET    /chatrooms                                  (paginated list)
//   - GET    /chatrooms/{name}                           (one chatroom)
//   - PUT    /chatrooms/{name}/name                      (rename)
//   - PUT    /chatrooms/{name}/avatar                    (set avatar)
//   - DELETE /chatrooms/{name}                           (delete)
//   - POST   /chatrooms/{name}/participants              (add member)
//   - DELETE /chatrooms/{name}/participants/{user_id}    (remove member)
//
// Every mutation emits a chatroom change that the change feed turns into a
// chatroom.updated notification for connected members.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
)

// ParticipantInput is one roster entry in a request.
type ParticipantInput struct {
	UserID    string `json:"user_id"    binding:"required" example:"u-alice"`
	FirstName string `json:"first_name" example:"Alice"`
	LastName  string `json:"last_name"  example:"Liddell"`
	Role      string `json:"role"       example:"member"`
	AvatarURL string `json:"avatar_url" example:"https://cdn.example.com/a.png"`
}

func (p ParticipantInput) participant() domain.Participant {
	return domain.Participant{
		UserID:    p.UserID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Role:      p.Role,
		AvatarURL: p.AvatarURL,
	}
}

// CreateChatroomRequest is the body of POST /chatrooms.
type CreateChatroomRequest struct {
	Name         string             `json:"name"         binding:"required" example:"general"`
	AvatarURL    string             `json:"avatar_url"   example:"https://cdn.example.com/general.png"`
	Participants []ParticipantInput `json:"participants" binding:"dive"`
}

// RenameChatroomRequest is the body of PUT /chatrooms/{name}/name.
type RenameChatroomRequest struct {
	Name string `json:"name" binding:"required" example:"random"`
}

// SetAvatarRequest is the body of PUT /chatrooms/{name}/avatar. An empty
// URL clears the avatar.
type SetAvatarRequest struct {
	AvatarURL string `json:"avatar_url" example:"https://cdn.example.com/general.png"`
}

// ListChatroomsResponse is a page of chatrooms.
type ListChatroomsResponse struct {
	Chatrooms  []domain.Chatroom `json:"chatrooms"`
	Pagination Pagination        `json:"pagination"`
}

// CreateChatroom godoc
// @ID          createChatroom
// @Summary     Create a chatroom
// @Tags        Chatrooms
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CreateChatroomRequest  true  "Chatroom and initial roster"
// @Success     201   {object}  domain.Chatroom
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse  "Name taken"
// @Failure     503   {object}  handlers.ErrorResponse
// @Router      /chatrooms [post]
func (h *Handlers) CreateChatroom(c *gin.Context) {
	var req CreateChatroomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid body: name and participant user_id are required")
		return
	}
	ps := make([]domain.Participant, 0, len(req.Participants))
	for _, p := range req.Participants {
		ps = append(ps, p.participant())
	}
	room, err := h.chatrooms.Create(c.Request.Context(), req.Name, req.AvatarURL, ps)
	if err != nil {
		failService(c, err, "create chatroom failed")
		return
	}
	ok(c, http.StatusCreated, room)
}

// ListChatrooms godoc
// @ID          listChatrooms
// @Summary     List chatrooms
// @Tags        Chatrooms
// @Produce     json
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListChatroomsResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /chatrooms [get]
func (h *Handlers) ListChatrooms(c *gin.Context) {
	page, pageSize := pageParams(c)
	items, total, err := h.chatrooms.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		failService(c, err, "list chatrooms failed")
		return
	}
	if items == nil {
		items = []domain.Chatroom{}
	}
	ok(c, http.StatusOK, ListChatroomsResponse{Chatrooms: items, Pagination: newPagination(page, pageSize, total)})
}

// GetChatroom godoc
// @ID          getChatroom
// @Summary     Get a chatroom with its roster
// @Tags        Chatrooms
// @Produce     json
// @Param       name  path      string  true  "Chatroom name"
// @Success     200   {object}  domain.Chatroom
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /chatrooms/{name} [get]
func (h *Handlers) GetChatroom(c *gin.Context) {
	room, err := h.chatrooms.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		failService(c, err, "get chatroom failed")
		return
	}
	ok(c, http.StatusOK, room)
}

// RenameChatroom godoc
// @ID          renameChatroom
// @Summary     Rename a chatroom
// @Tags        Chatrooms
// @Accept      json
// @Produce     json
// @Param       name  path      string                          true  "Current chatroom name"
// @Param       body  body      handlers.RenameChatroomRequest  true  "New name"
// @Success     200   {object}  domain.Chatroom
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse
// @Router      /chatrooms/{name}/name [put]
func (h *Handlers) RenameChatroom(c *gin.Context) {
	var req RenameChatroomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required")
		return
	}
	room, err := h.chatrooms.Rename(c.Request.Context(), c.Param("name"), req.Name)
	if err != nil {
		failService(c, err, "rename chatroom failed")
		return
	}
	ok(c, http.StatusOK, room)
}

// SetChatroomAvatar godoc
// @ID          setChatroomAvatar
// @Summary     Set or clear a chatroom avatar
// @Tags        Chatrooms
// @Accept      json
// @Param       name  path  string                     true  "Chatroom name"
// @Param       body  body  handlers.SetAvatarRequest  true  "Avatar URL"
// @Success     204
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /chatrooms/{name}/avatar [put]
func (h *Handlers) SetChatroomAvatar(c *gin.Context) {
	var req SetAvatarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid body")
		return
	}
	if err := h.chatrooms.SetAvatar(c.Request.Context(), c.Param("name"), req.AvatarURL); err != nil {
		failService(c, err, "set avatar failed")
		return
	}
	noContent(c)
}

// DeleteChatroom godoc
// @ID          deleteChatroom
// @Summary     Delete a chatroom and its history
// @Tags        Chatrooms
// @Param       name  path  string  true  "Chatroom name"
// @Success     204
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /chatrooms/{name} [delete]
func (h *Handlers) DeleteChatroom(c *gin.Context) {
	if err := h.chatrooms.Delete(c.Request.Context(), c.Param("name")); err != nil {
		failService(c, err, "delete chatroom failed")
		return
	}
	noContent(c)
}

// AddParticipant godoc
// @ID          addParticipant
// @Summary     Add a member to a chatroom
// @Tags        Chatrooms
// @Accept      json
// @Param       name  path  string                     true  "Chatroom name"
// @Param       body  body  handlers.ParticipantInput  true  "Member"
// @Success     204
// @Failure     404   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse  "Already a member"
// @Router      /chatrooms/{name}/participants [post]
func (h *Handlers) AddParticipant(c *gin.Context) {
	var req ParticipantInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id required")
		return
	}
	if err := h.chatrooms.AddParticipant(c.Request.Context(), c.Param("name"), req.participant()); err != nil {
		failService(c, err, "add participant failed")
		return
	}
	noContent(c)
}

// RemoveParticipant godoc
// @ID          removeParticipant
// @Summary     Remove a member from a chatroom
// @Tags        Chatrooms
// @Param       name     path  string  true  "Chatroom name"
// @Param       user_id  path  string  true  "Member identity"
// @Success     204
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /chatrooms/{name}/participants/{user_id} [delete]
func (h *Handlers) RemoveParticipant(c *gin.Context) {
	if err := h.chatrooms.RemoveParticipant(c.Request.Context(), c.Param("name"), c.Param("user_id")); err != nil {
		failService(c, err, "remove participant failed")
		return
	}
	noContent(c)
}
