// Package httpapi exposes the relay's trigger, status and operator surface
// over HTTP with gin.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gocmd "github.com/goliatone/go-command"

	botrelay "github.com/goliatone/go-botrelay"
	"github.com/goliatone/go-botrelay/adapters/gologger"
	botcommand "github.com/goliatone/go-botrelay/command"
	"github.com/goliatone/go-botrelay/core"
	botquery "github.com/goliatone/go-botrelay/query"
)

const (
	HeaderAPIKey = "X-API-Key"

	defaultFeedLimit = 50
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	facade        *botrelay.Facade
	authenticator core.BotAuthenticator
	health        HealthCheck
	logger        core.Logger
	engine        *gin.Engine
}

type Option func(*Server)

func WithLogger(logger core.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(s *Server) {
		if provider != nil {
			s.logger = gologger.Component(provider, s.logger, "httpapi")
		}
	}
}

// WithBotAuthenticator enables the bot-scoped feed.
func WithBotAuthenticator(authenticator core.BotAuthenticator) Option {
	return func(s *Server) {
		s.authenticator = authenticator
	}
}

func WithHealthCheck(check HealthCheck) Option {
	return func(s *Server) {
		s.health = check
	}
}

func NewServer(facade *botrelay.Facade, opts ...Option) (*Server, error) {
	if facade == nil {
		return nil, fmt.Errorf("httpapi: facade is required")
	}
	server := &Server{
		facade: facade,
		logger: gologger.Component(nil, nil, "httpapi"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(server)
		}
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), server.requestLogger())
	server.engine = engine
	server.registerRoutes()
	return server, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.healthz)

	api := s.engine.Group("/api")
	api.POST("/conversations/:id/events", s.triggerEvent)
	api.GET("/bot-events", s.listBotEvents)
	api.GET("/bot-events/:id", s.getBotEvent)
	api.POST("/bot-events/:id/requeue", s.requeueBotEvent)
	api.POST("/delivery/tick", s.runTick)
	if s.authenticator != nil {
		api.GET("/bot/events", s.botFeed)
	}
}

func (s *Server) healthz(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) triggerEvent(c *gin.Context) {
	var body triggerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, fmt.Errorf("httpapi: invalid request body: %w", err))
		return
	}

	collector := gocmd.NewResult[core.FanOutResult]()
	ctx := gocmd.ContextWithResult(c.Request.Context(), collector)
	err := s.facade.Commands().FanOut.Execute(ctx, botcommand.FanOutMessage{Request: core.FanOutRequest{
		ConversationID: c.Param("id"),
		EventType:      body.EventType,
		SourceEventID:  body.SourceEventID,
		Payload:        body.Payload,
	}})
	result, _ := collector.Load()
	if err != nil && len(result.EventIDs) == 0 {
		s.fail(c, err)
		return
	}
	status := http.StatusAccepted
	if err != nil {
		status = http.StatusMultiStatus
	}
	c.JSON(status, newFanOutResponse(result))
}

func (s *Server) getBotEvent(c *gin.Context) {
	event, err := s.facade.Queries().GetBotEvent.Query(c.Request.Context(), botquery.GetBotEventMessage{
		BotEventID: c.Param("id"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newBotEventResponse(event))
}

func (s *Server) listBotEvents(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	filter.BotID = strings.TrimSpace(c.Query("bot_id"))
	filter.ConversationID = strings.TrimSpace(c.Query("conversation_id"))

	events, err := s.facade.Queries().ListBotEvents.Query(c.Request.Context(), botquery.ListBotEventsMessage{Filter: filter})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": newBotEventList(events)})
}

func (s *Server) requeueBotEvent(c *gin.Context) {
	collector := gocmd.NewResult[core.BotEvent]()
	ctx := gocmd.ContextWithResult(c.Request.Context(), collector)
	if err := s.facade.Commands().RequeueBotEvent.Execute(ctx, botcommand.RequeueBotEventMessage{
		BotEventID: c.Param("id"),
	}); err != nil {
		s.fail(c, err)
		return
	}
	event, _ := collector.Load()
	s.logger.Info("bot event requeued", "bot_event_id", event.ID, "bot_id", event.BotID)
	c.JSON(http.StatusOK, newBotEventResponse(event))
}

func (s *Server) runTick(c *gin.Context) {
	collector := gocmd.NewResult[core.TickStats]()
	ctx := gocmd.ContextWithResult(c.Request.Context(), collector)
	if err := s.facade.Commands().RunDeliveryTick.Execute(ctx, botcommand.RunDeliveryTickMessage{}); err != nil {
		s.fail(c, err)
		return
	}
	stats, _ := collector.Load()
	c.JSON(http.StatusOK, newTickResponse(stats))
}

// botFeed lists the calling bot's own events, authenticated by X-API-Key.
func (s *Server) botFeed(c *gin.Context) {
	bot, err := s.authenticator.AuthenticateAPIKey(c.Request.Context(), c.GetHeader(HeaderAPIKey))
	if err != nil {
		s.fail(c, err)
		return
	}
	filter, err := filterFromQuery(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if filter.Limit == 0 {
		filter.Limit = defaultFeedLimit
	}
	filter.BotID = bot.ID
	filter.ConversationID = strings.TrimSpace(c.Query("conversation_id"))

	events, err := s.facade.Queries().ListBotEvents.Query(c.Request.Context(), botquery.ListBotEventsMessage{Filter: filter})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, botFeedResponse{
		Bot:    botIdentity{ID: bot.ID, Name: bot.Name},
		Events: newBotEventList(events),
	})
}

func filterFromQuery(c *gin.Context) (core.BotEventFilter, error) {
	var filter core.BotEventFilter
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := core.ParseBotEventStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	limit, err := intParam(c, "limit")
	if err != nil {
		return filter, err
	}
	offset, err := intParam(c, "offset")
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	filter.Offset = offset
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return filter, fmt.Errorf("httpapi: invalid since %q, want RFC3339", raw)
		}
		since = since.UTC()
		filter.Since = &since
	}
	return filter, nil
}

func intParam(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("httpapi: invalid %s %q", name, raw)
	}
	return value, nil
}

func (s *Server) fail(c *gin.Context, err error) {
	mapped := core.MapError(err)
	if mapped.Code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"text_code", mapped.TextCode,
			"error", err,
		)
	}
	c.AbortWithStatusJSON(mapped.Code, newErrorResponse(mapped))
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}
}
