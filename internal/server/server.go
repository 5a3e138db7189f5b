// Package server exposes workflow runs, sessions, connectors and scheduled
// jobs over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opentalon/hybridflow/internal/runner"
	"github.com/opentalon/hybridflow/internal/scheduler"
	"github.com/opentalon/hybridflow/internal/state"
	"github.com/opentalon/hybridflow/internal/version"
	"github.com/opentalon/hybridflow/internal/workflow"
)

// Server wraps a gin engine bound to a Runner. Scheduler is optional; the
// job routes answer 404 without one.
type Server struct {
	engine    *gin.Engine
	runner    *runner.Runner
	scheduler *scheduler.Scheduler
	log       *slog.Logger
	http      *http.Server
}

// New builds the router. gatherer backs /metrics; nil uses the default
// Prometheus registry.
func New(r *runner.Runner, sched *scheduler.Scheduler, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{engine: gin.New(), runner: r, scheduler: sched, log: logger}
	s.engine.Use(gin.Recovery())

	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.engine.Group("/v1")
	v1.POST("/runs", s.createRun)
	v1.GET("/sessions", s.listSessions)
	v1.GET("/sessions/:id", s.getSession)
	v1.DELETE("/sessions/:id", s.deleteSession)
	v1.GET("/connectors", s.listConnectors)
	v1.GET("/jobs", s.listJobs)
	v1.POST("/jobs", s.createJob)
	v1.DELETE("/jobs/:name", s.deleteJob)
	v1.POST("/jobs/:name/pause", s.pauseJob)
	v1.POST("/jobs/:name/resume", s.resumeJob)
	v1.POST("/jobs/:name/run", s.runJob)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()
	s.log.Info("server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.http.Shutdown(context.Background()); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Get().Version})
}

type runRequest struct {
	Workflow   json.RawMessage `json:"workflow" binding:"required"`
	SessionID  string          `json:"sessionId"`
	StartIndex int             `json:"startIndex"`
	Vars       map[string]any  `json:"vars"`
}

type runResponse struct {
	Session *state.Context `json:"session,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (s *Server) createRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	wf, err := workflow.Parse(req.Workflow)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := s.runner.Run(c.Request.Context(), runner.Request{
		Workflow:   wf,
		SessionID:  req.SessionID,
		StartIndex: req.StartIndex,
		Vars:       req.Vars,
	})
	if err != nil {
		s.log.Error("workflow run failed", "workflow", wf.Name, "session", req.SessionID, "error", err)
		c.JSON(runStatus(err, out), runResponse{Session: out, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, runResponse{Session: out})
}

// runStatus maps run errors: bad input is 400, a failed step after which the
// session was still recorded is 422.
func runStatus(err error, out *state.Context) int {
	switch {
	case errors.Is(err, runner.ErrMissingInputs),
		errors.Is(err, state.ErrInvalidID),
		errors.Is(err, workflow.ErrInvalidStartIndex):
		return http.StatusBadRequest
	case out != nil:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) listSessions(c *gin.Context) {
	ids, err := s.runner.Store().List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids})
}

func (s *Server) getSession(c *gin.Context) {
	id := c.Param("id")
	if err := state.ValidateID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.runner.Store().Load(c.Request.Context(), id)
	if errors.Is(err, state.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := state.ValidateID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.runner.Store().Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type connectorInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Available bool   `json:"available"`
}

func (s *Server) listConnectors(c *gin.Context) {
	conns := s.runner.Router().Connectors()
	out := make([]connectorInfo, 0, len(conns))
	for _, conn := range conns {
		out = append(out, connectorInfo{
			Name:      conn.Name(),
			Type:      string(conn.Type()),
			Available: conn.Available(c.Request.Context()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"connectors": out})
}

func (s *Server) listJobs(c *gin.Context) {
	if s.scheduler == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []scheduler.Job{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.scheduler.ListJobs()})
}

type jobRequest struct {
	Name     string         `json:"name" binding:"required"`
	Cron     string         `json:"cron" binding:"required"`
	Workflow string         `json:"workflow" binding:"required"`
	Session  string         `json:"session"`
	Input    map[string]any `json:"input"`
	Paused   bool           `json:"paused"`
}

func (s *Server) createJob(c *gin.Context) {
	if s.scheduler == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scheduler not configured"})
		return
	}
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	job := scheduler.Job{
		Name:     req.Name,
		Cron:     req.Cron,
		Workflow: req.Workflow,
		Session:  req.Session,
		Input:    req.Input,
		Paused:   req.Paused,
	}
	if err := s.scheduler.AddJob(job); err != nil {
		c.JSON(jobStatus(err), gin.H{"error": err.Error()})
		return
	}
	created, _ := s.scheduler.GetJob(req.Name)
	c.JSON(http.StatusCreated, created)
}

func (s *Server) deleteJob(c *gin.Context) {
	s.changeJob(c, s.scheduler.RemoveJob, http.StatusNoContent)
}

func (s *Server) pauseJob(c *gin.Context) {
	s.changeJob(c, s.scheduler.PauseJob, http.StatusOK)
}

func (s *Server) resumeJob(c *gin.Context) {
	s.changeJob(c, s.scheduler.ResumeJob, http.StatusOK)
}

// changeJob applies op to the named job and answers with the job's state.
func (s *Server) changeJob(c *gin.Context, op func(string) error, okStatus int) {
	if s.scheduler == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scheduler not configured"})
		return
	}
	name := c.Param("name")
	if err := op(name); err != nil {
		c.JSON(jobStatus(err), gin.H{"error": err.Error()})
		return
	}
	if okStatus == http.StatusNoContent {
		c.Status(okStatus)
		return
	}
	job, _ := s.scheduler.GetJob(name)
	c.JSON(okStatus, job)
}

func jobStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrInvalidJob):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrJobExists),
		errors.Is(err, scheduler.ErrJobNotPaused),
		errors.Is(err, scheduler.ErrConfigProtected):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) runJob(c *gin.Context) {
	name := c.Param("name")
	if s.scheduler == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scheduler not configured"})
		return
	}
	err := s.scheduler.RunNow(c.Request.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"job": name, "status": "completed"})
	}
}
