// Package httpapi wires the HTTP transport (Gin) to the delivery services,
// middleware, route handlers and the websocket gateway. It centralizes
// cross-cutting concerns such as tracing, correlation IDs, logging, panic
// recovery, metrics, compression, CORS and rate limiting.
//
// The websocket route is mounted outside the API group: it must not be
// compressed, body-limited or rate limited per request, since the gateway
// rate limits events per connection.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-delivery/docs"
	"github.com/tbourn/go-chatroom-delivery/internal/cache"
	"github.com/tbourn/go-chatroom-delivery/internal/config"
	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/http/handlers"
	"github.com/tbourn/go-chatroom-delivery/internal/http/middleware"
	"github.com/tbourn/go-chatroom-delivery/internal/repo"
	"github.com/tbourn/go-chatroom-delivery/internal/services"
)

// chatroomRepoShim adapts the repository free functions to the
// services.ChatroomRepo interface expected by the ChatroomService.
type chatroomRepoShim struct{}

func (chatroomRepoShim) CreateChatroom(ctx context.Context, db *gorm.DB, name, avatarURL string, ps []domain.Participant) (*domain.Chatroom, error) {
	return repo.CreateChatroom(ctx, db, name, avatarURL, ps)
}

func (chatroomRepoShim) GetChatroomByName(ctx context.Context, db *gorm.DB, name string) (*domain.Chatroom, error) {
	return repo.GetChatroomByName(ctx, db, name)
}

func (chatroomRepoShim) CountChatrooms(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountChatrooms(ctx, db)
}

func (chatroomRepoShim) ListChatroomsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Chatroom, error) {
	return repo.ListChatroomsPage(ctx, db, offset, limit)
}

func (chatroomRepoShim) RenameChatroom(ctx context.Context, db *gorm.DB, id, newName string) error {
	return repo.RenameChatroom(ctx, db, id, newName)
}

func (chatroomRepoShim) UpdateChatroomAvatar(ctx context.Context, db *gorm.DB, id, avatarURL string) error {
	return repo.UpdateChatroomAvatar(ctx, db, id, avatarURL)
}

func (chatroomRepoShim) DeleteChatroom(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteChatroom(ctx, db, id)
}

func (chatroomRepoShim) AddParticipant(ctx context.Context, db *gorm.DB, id string, p domain.Participant) error {
	return repo.AddParticipant(ctx, db, id, p)
}

func (chatroomRepoShim) RemoveParticipant(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.RemoveParticipant(ctx, db, id, userID)
}

// NewChatroomService builds the chatroom service over the repository.
func NewChatroomService(db *gorm.DB, c *cache.Layer) *services.ChatroomService {
	return services.NewChatroomService(db, chatroomRepoShim{}, c)
}

// Deps are the long-lived components the routes are served by. They are
// built by the entry point because the scheduler shares them.
type Deps struct {
	Chatrooms handlers.ChatroomService
	Router    handlers.MessageRouter
	Presence  handlers.PresenceLister
	// Gateway serves websocket upgrades at cfg.Realtime.Path. Nil skips the route.
	Gateway http.Handler
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Identity: caller id for logs and rate limiting
//  4. Logger: structured access and session logs
//  5. Recovery: capture panics after logger
//  6. Metrics
//  7. CORS (engine level so preflights on unregistered methods still pass)
//
// The API group then adds a body size limit, gzip and the rate limiter.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Identity())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if deps.Gateway != nil {
		r.GET(cfg.Realtime.Path, gin.WrapH(deps.Gateway))
	}

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(deps.Chatrooms, deps.Router, deps.Presence)

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(limitBody(1 << 20))
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	api.Use(rl.Handler())
	{
		// Chatrooms
		api.POST("/chatrooms", h.CreateChatroom)
		api.GET("/chatrooms", h.ListChatrooms)
		api.GET("/chatrooms/:name", h.GetChatroom)
		api.PUT("/chatrooms/:name/name", h.RenameChatroom)
		api.PUT("/chatrooms/:name/avatar", h.SetChatroomAvatar)
		api.DELETE("/chatrooms/:name", h.DeleteChatroom)
		api.POST("/chatrooms/:name/participants", h.AddParticipant)
		api.DELETE("/chatrooms/:name/participants/:user_id", h.RemoveParticipant)

		// Messages
		api.GET("/chatrooms/:name/messages", h.ListMessages)
		api.POST("/chatrooms/:name/messages", h.PostMessage)
		api.GET("/chatrooms/:name/messages/:id/acks", h.ListAcknowledgements)

		// Presence
		api.GET("/presence", h.ListPresence)
	}
}

// corsMiddleware returns the CORS posture: allow all when no origins are
// configured, otherwise echo allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.UserIDHeader, "Idempotency-Key", "If-None-Match"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// Force ACAO: * even for requests without an Origin header.
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody caps the request body size using http.MaxBytesReader. Requests
// exceeding the cap cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
