package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/recap-app/recap/pkg/config"
	"github.com/recap-app/recap/pkg/jwt"
)

// Router holds all handlers
type Router struct {
	cfg            *config.Config
	jwtManager     *jwt.Manager
	authHandler    *AuthHandler
	meetingHandler *MeetingHandler
	agentHandler   *AgentHandler
	webhookHandler *WebhookHandler
}

// NewRouter creates a new router with all handlers
func NewRouter(
	cfg *config.Config,
	jwtManager *jwt.Manager,
	authHandler *AuthHandler,
	meetingHandler *MeetingHandler,
	agentHandler *AgentHandler,
	webhookHandler *WebhookHandler,
) *Router {
	return &Router{
		cfg:            cfg,
		jwtManager:     jwtManager,
		authHandler:    authHandler,
		meetingHandler: meetingHandler,
		agentHandler:   agentHandler,
		webhookHandler: webhookHandler,
	}
}

// Setup configures all application routes
func (rt *Router) Setup(e *echo.Echo) {
	e.GET("/health", rt.healthCheck)

	v1 := e.Group("/v1")

	// Unauthenticated surfaces: the provider signs its own notifications,
	// and the device agent is local-only.
	v1.POST("/webhooks/provider", rt.webhookHandler.HandleProviderWebhook)
	v1.POST("/agent/events", rt.agentHandler.HandleEvent)
	v1.POST("/auth/token", rt.authHandler.Token)

	auth := JWTAuth(rt.jwtManager, nil)

	meetings := v1.Group("/meetings", auth)
	meetings.GET("", rt.meetingHandler.List)
	meetings.POST("", rt.meetingHandler.Create)
	meetings.GET("/:id", rt.meetingHandler.Get)
	meetings.PATCH("/:id", rt.meetingHandler.Update)
	meetings.DELETE("/:id", rt.meetingHandler.Delete)

	recordings := v1.Group("/recordings", auth)
	recordings.POST("/start", rt.meetingHandler.StartRecording)
	recordings.POST("/:handle/stop", rt.meetingHandler.StopRecording)
	recordings.POST("/:handle/pause", rt.meetingHandler.PauseRecording)
	recordings.POST("/:handle/resume", rt.meetingHandler.ResumeRecording)
}

// healthCheck returns health status
func (rt *Router) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"time":        time.Now().Format(time.RFC3339),
		"environment": rt.cfg.Server.Environment,
	})
}
