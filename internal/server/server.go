package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"orchid/internal/config"
	"orchid/internal/engine"
	"orchid/internal/engine/ports"
	"orchid/internal/logging"
	"orchid/internal/observability"
)

// Server is the HTTP surface over the run service.
type Server struct {
	service    *engine.Service
	hub        *hub
	engine     *gin.Engine
	httpServer *http.Server
	logger     logging.Logger
}

// Options configures the server.
type Options struct {
	Config  config.ServerConfig
	Metrics *observability.Collector
	Logger  logging.Logger
	// RunRetention is how long finished runs stay queryable. Zero means one
	// hour.
	RunRetention time.Duration
}

// New builds the server and its routes.
func New(service *engine.Service, opts Options) *Server {
	logger := logging.OrNop(opts.Logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(opts.Config.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = opts.Config.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowWebSockets = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		service: service,
		hub:     newHub(opts.RunRetention, logger),
		engine:  router,
		logger:  logger,
	}

	router.GET("/healthz", s.handleHealth)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	api := router.Group("/api")
	{
		api.POST("/runs", s.handleStartRun)
		api.GET("/runs/:id", s.handleGetRun)
		api.POST("/runs/:id/cancel", s.handleCancelRun)
		api.GET("/runs/:id/events", s.handleRunEvents)
		api.GET("/runs/:id/ws", s.handleRunWebSocket)
	}

	s.httpServer = &http.Server{
		Addr:              opts.Config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests. Runs keep executing; their results
// stay available to a restarted server only through the run log.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

type startRunRequest struct {
	OrgID   string `json:"org_id"`
	AgentID string `json:"agent_id" binding:"required"`
	Message string `json:"message" binding:"required"`
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

type runStatusResponse struct {
	RunID  string           `json:"run_id"`
	Status string           `json:"status"` // "running", "finished"
	Result *ports.RunResult `json:"result,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleStartRun(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := newRunSession()
	handle, err := s.service.StartRun(c.Request.Context(), ports.StartRequest{
		OrgID:   req.OrgID,
		AgentID: strings.TrimSpace(req.AgentID),
		Message: req.Message,
	}, session)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ports.ErrUnknownAgent) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	session.handle = handle
	s.hub.track(session)
	s.logger.Info("run %s started over http: agent=%s", handle.RunID, req.AgentID)
	c.JSON(http.StatusAccepted, startRunResponse{RunID: handle.RunID})
}

func (s *Server) handleGetRun(c *gin.Context) {
	session, ok := s.hub.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}

	resp := runStatusResponse{RunID: session.handle.RunID, Status: "running"}
	if result := session.handle.Result(); result != nil {
		resp.Status = "finished"
		resp.Result = result
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCancelRun(c *gin.Context) {
	session, ok := s.hub.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}
	session.handle.Cancel()
	c.JSON(http.StatusAccepted, gin.H{"run_id": session.handle.RunID, "status": "cancelling"})
}

// handleRunEvents streams a run's events as server-sent events: the history
// first, then live events until the run terminates or the client leaves.
func (s *Server) handleRunEvents(c *gin.Context) {
	session, ok := s.hub.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	replay, live := session.subscribe()
	if live != nil {
		defer session.unsubscribe(live)
	}

	for _, payload := range replay {
		writeSSE(c.Writer, payload)
	}
	flusher.Flush()
	if live == nil {
		return
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case payload, open := <-live:
			if !open {
				return
			}
			writeSSE(c.Writer, payload)
			flusher.Flush()
		case <-heartbeat.C:
			c.Writer.WriteString(": heartbeat\n\n")
			flusher.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeSSE(w gin.ResponseWriter, payload []byte) {
	w.WriteString("data: ")
	w.Write(payload)
	w.WriteString("\n\n")
}
