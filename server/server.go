// Package server exposes the chat and task invocation surfaces over HTTP.
// It is a thin shell: every handler delegates to the façade and translates
// outcomes into JSON or SSE.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/hupe1980/agentrelay"
	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/orchestrator"
)

// Server wires the façade behind a gin engine.
type Server struct {
	relay  *agentrelay.AgentRelay
	cfg    config.ServerConfig
	logger logging.Logger
	engine *gin.Engine
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the HTTP server around the façade.
func New(relay *agentrelay.AgentRelay, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{relay: relay, cfg: cfg, logger: logging.NoOpLogger{}}
	for _, o := range opts {
		o(s)
	}

	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	engine.Use(cors.New(corsConfig))

	engine.GET("/healthz", s.handleHealth)
	v1 := engine.Group("/v1")
	v1.GET("/providers", s.handleProviders)
	v1.POST("/chat", s.handleChat)
	v1.POST("/task", s.handleTask)

	s.engine = engine
	return s
}

// Handler returns the underlying http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run blocks serving on the configured address.
func (s *Server) Run() error {
	s.logger.Info("http server listening", "addr", s.cfg.Addr)
	return s.engine.Run(s.cfg.Addr)
}

// errorPayload is the uniform error shape. Detail carries internals and is
// populated only in dev mode.
type errorPayload struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) abortError(c *gin.Context, status int, public string, err error) {
	payload := errorPayload{Error: public}
	if s.cfg.DevMode && err != nil {
		payload.Detail = err.Error()
	}
	if err != nil {
		s.logger.Error("request failed", "path", c.FullPath(), "status", status, "error", err.Error())
	}
	c.AbortWithStatusJSON(status, payload)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"providers": s.relay.Router().CheckAvailability(c.Request.Context()),
	})
}

// chatRequest extends the façade surface with the stream toggle.
type chatRequest struct {
	agentrelay.ChatRequest
	Stream bool `json:"stream,omitempty"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Message == "" {
		s.abortError(c, http.StatusBadRequest, "message is required", nil)
		return
	}

	if req.Stream {
		s.streamChat(c, req.ChatRequest)
		return
	}

	res, err := s.relay.Chat(c.Request.Context(), req.ChatRequest)
	if err != nil {
		s.abortError(c, http.StatusBadGateway, "chat failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// streamChat writes SSE chunks {content} terminated by a [DONE] sentinel; a
// failure mid-stream becomes an {error} chunk instead of a broken status.
func (s *Server) streamChat(c *gin.Context, req agentrelay.ChatRequest) {
	ch, err := s.relay.ChatStream(c.Request.Context(), req)
	if err != nil {
		s.abortError(c, http.StatusBadGateway, "chat failed", err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	for chunk := range ch {
		if chunk.Err != nil {
			c.SSEvent("message", gin.H{"error": chunk.Err.Error()})
			c.Writer.Flush()
			return
		}
		if chunk.Delta != "" {
			c.SSEvent("message", gin.H{"content": chunk.Delta})
			c.Writer.Flush()
		}
	}
	c.SSEvent("message", "[DONE]")
	c.Writer.Flush()
}

// taskRequest is the multi-agent task surface: agent configs inline, timeout
// in milliseconds.
type taskRequest struct {
	Task          string         `json:"task"`
	Agents        []agent.Config `json:"agents"`
	Strategy      string         `json:"strategy"`
	MaxIterations int            `json:"max_iterations,omitempty"`
	TimeoutMS     int            `json:"timeout,omitempty"`
}

func (s *Server) handleTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Task == "" || len(req.Agents) == 0 {
		s.abortError(c, http.StatusBadRequest, "task and agents are required", nil)
		return
	}

	ctx := c.Request.Context()
	ids := make([]string, 0, len(req.Agents))
	for _, cfg := range req.Agents {
		if cfg.ID != "" {
			if _, ok := s.relay.Agent(cfg.ID); ok {
				ids = append(ids, cfg.ID)
				continue
			}
		}
		a, err := s.relay.RegisterAgent(ctx, cfg)
		if err != nil {
			s.abortError(c, http.StatusBadRequest, fmt.Sprintf("invalid agent config %q", cfg.Name), err)
			return
		}
		ids = append(ids, a.Config().ID)
	}

	res, err := s.relay.ExecuteTask(ctx, orchestrator.Task{
		Task:          req.Task,
		Topology:      orchestrator.Topology(req.Strategy),
		AgentIDs:      ids,
		MaxIterations: req.MaxIterations,
		Timeout:       time.Duration(req.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		s.abortError(c, http.StatusBadRequest, "task failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
