package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hieutrtr/ragforge/config"
	"github.com/hieutrtr/ragforge/internal/agent/core"
	"github.com/hieutrtr/ragforge/internal/agent/telemetry"
	"github.com/hieutrtr/ragforge/internal/index"
	"github.com/hieutrtr/ragforge/internal/retrieval"
	"github.com/hieutrtr/ragforge/internal/store"
)

// Server exposes the answering engine over HTTP. Transport stays thin: all
// decisions live in the orchestrator and its collaborators.
type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	orch   *core.Orchestrator
	store  store.Store
	index  index.KnowledgeIndex
	telem  *telemetry.Telemetry
	logger *log.Logger
}

// New wires routes and middleware around the engine.
func New(cfg *config.Config, orch *core.Orchestrator, st store.Store, idx index.KnowledgeIndex, telem *telemetry.Telemetry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	s := &Server{
		echo:   e,
		cfg:    cfg,
		orch:   orch,
		store:  st,
		index:  idx,
		telem:  telem,
		logger: baseLogger,
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if telem != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(telem.Registry(), promhttp.HandlerOpts{})))
	}

	api := e.Group("/api")
	api.POST("/chat", s.handleChat)
	api.GET("/documents", s.handleDocuments)

	return s
}

// Start blocks serving HTTP on the configured address.
func (s *Server) Start() error {
	addr := s.cfg.Server.Listen
	if addr == "" {
		addr = ":10010"
	}
	s.logger.Printf("listening on %s", addr)
	return s.echo.Start(addr)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

type chatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	SessionID      string                   `json:"session_id"`
	Answer         string                   `json:"answer"`
	Sufficient     bool                     `json:"sufficient"`
	ToolsUsed      []string                 `json:"tools_used"`
	Subtasks       []core.SubtaskResult     `json:"subtasks"`
	MergedPassages []retrieval.PassageScore `json:"merged_passages"`
	RetrievalStats core.RetrievalStats      `json:"retrieval_stats"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx := c.Request().Context()
	history, err := s.store.History(ctx, sessionID, s.cfg.Storage.History.MaxMessages)
	if err != nil {
		s.logger.Printf("Warning: loading history for %s failed, answering without it: %v", sessionID, err)
		history = nil
	}

	aggregate, err := s.orch.Answer(ctx, req.Question, history)
	if err != nil {
		if errors.Is(err, core.ErrEmptyQuestion) {
			return echo.NewHTTPError(http.StatusBadRequest, "question is required")
		}
		return fmt.Errorf("answering turn: %w", err)
	}

	// Persisting the exchange is best-effort; the answer still goes out.
	if err := s.store.AppendMessage(ctx, sessionID, retrieval.Message{Role: "human", Content: req.Question}); err != nil {
		s.logger.Printf("Warning: persisting question failed: %v", err)
	}
	if err := s.store.AppendMessage(ctx, sessionID, retrieval.Message{Role: "ai", Content: aggregate.Answer}); err != nil {
		s.logger.Printf("Warning: persisting answer failed: %v", err)
	}

	return c.JSON(http.StatusOK, chatResponse{
		SessionID:      sessionID,
		Answer:         aggregate.Answer,
		Sufficient:     aggregate.Sufficient,
		ToolsUsed:      aggregate.ToolsUsed,
		Subtasks:       aggregate.Results,
		MergedPassages: aggregate.MergedPassages,
		RetrievalStats: aggregate.RetrievalStats,
	})
}

func (s *Server) handleDocuments(c echo.Context) error {
	writable, ok := s.index.(index.Writable)
	if !ok {
		return echo.NewHTTPError(http.StatusNotImplemented, "document listing requires the local index backend")
	}

	docs, err := writable.List(c.Request().Context(), 100)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	count, err := writable.Count()
	if err != nil {
		return fmt.Errorf("counting documents: %w", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":     count,
		"documents": docs,
	})
}
