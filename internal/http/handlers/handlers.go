// Package handlers exposes the REST surface of the delivery subsystem:
// chatroom administration, message history and sending, acknowledgement
// listings and the presence snapshot. Live delivery happens on the
// websocket gateway; these endpoints share its services.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/http/middleware"
	"github.com/tbourn/go-chatroom-delivery/internal/presence"
	"github.com/tbourn/go-chatroom-delivery/internal/services"
	"github.com/tbourn/go-chatroom-delivery/internal/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ChatroomService is the contract required by chatroom handlers.
type ChatroomService interface {
	Create(ctx context.Context, name, avatarURL string, participants []domain.Participant) (*domain.Chatroom, error)
	Get(ctx context.Context, name string) (*domain.Chatroom, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Chatroom, int64, error)
	Rename(ctx context.Context, name, newName string) (*domain.Chatroom, error)
	SetAvatar(ctx context.Context, name, avatarURL string) error
	Delete(ctx context.Context, name string) error
	AddParticipant(ctx context.Context, name string, p domain.Participant) error
	RemoveParticipant(ctx context.Context, name, userID string) error
}

// MessageRouter is the contract required by message handlers.
type MessageRouter interface {
	Send(ctx context.Context, cmd services.SendCommand) (*services.SendResult, error)
	History(ctx context.Context, identity, chatroomName string, page, pageSize int) ([]domain.ChatMessage, int64, error)
	HistoryStats(ctx context.Context, chatroomName string) (int64, *time.Time, error)
	Acknowledgements(ctx context.Context, identity, chatroomName, messageID string, kind domain.AckKind) ([]domain.AckRecord, error)
}

// PresenceLister returns the identities currently online.
type PresenceLister interface {
	Snapshot() []presence.Entry
}

// Handlers aggregates the services used by HTTP endpoints.
type Handlers struct {
	chatrooms ChatroomService
	router    MessageRouter
	presence  PresenceLister
}

// New constructs a Handlers bundle with the provided services.
func New(chatrooms ChatroomService, router MessageRouter, presence PresenceLister) *Handlers {
	return &Handlers{chatrooms: chatrooms, router: router, presence: presence}
}

// Pagination is the page metadata returned by list endpoints.
type Pagination struct {
	Page       int   `json:"page"        example:"1"`
	PageSize   int   `json:"page_size"   example:"20"`
	Total      int64 `json:"total"       example:"42"`
	TotalPages int   `json:"total_pages" example:"3"`
	HasNext    bool  `json:"has_next"    example:"true"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

func pageParams(c *gin.Context) (int, int) {
	return utils.ClampPage(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
}

// caller returns the X-User-ID identity, answering 401 when it is missing.
func caller(c *gin.Context) (string, bool) {
	if id := middleware.UserID(c); id != "" {
		return id, true
	}
	if id := strings.TrimSpace(c.GetHeader(middleware.UserIDHeader)); id != "" {
		return id, true
	}
	fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header required")
	return "", false
}
