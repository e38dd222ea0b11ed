package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/gfd-crawler/internal/broker"
	"github.com/JakeFAU/gfd-crawler/internal/config"
	"github.com/JakeFAU/gfd-crawler/internal/crawler"
	"github.com/JakeFAU/gfd-crawler/internal/metrics"
)

// Search paging limits.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	maxTaskURLs     = 1000
)

// Searcher answers paged website searches.
type Searcher interface {
	Search(ctx context.Context, q crawler.SearchQuery) ([]crawler.SearchHit, int, error)
}

// TaskPublisher enqueues crawl tasks at a tier.
type TaskPublisher interface {
	PublishPriority(ctx context.Context, base string, tier broker.Priority, msg any) error
}

// RequestIDs mints request correlation IDs.
type RequestIDs interface {
	NewRequestID() string
}

// ReadyCheck reports whether a downstream dependency is usable.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Search     Searcher
	Tasks      TaskPublisher
	Clock      crawler.Clock
	RequestIDs RequestIDs
	Ready      []ReadyCheck
}

// Server wires HTTP handlers to search and task submission.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if deps.Search == nil || deps.Tasks == nil || deps.Clock == nil || deps.RequestIDs == nil {
		return nil, errors.New("api server requires a searcher, a task publisher, a clock and a request id source")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(deps.RequestIDs))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/api/search", s.search)
		r.Post("/v1/tasks", s.submitTasks)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for _, rc := range s.deps.Ready {
		if err := rc.Check(ctx); err != nil {
			failed[rc.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "failed": failed})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type searchRequest struct {
	Query      string `json:"query"`
	PageSize   int    `json:"pageSize"`
	PageNumber int    `json:"pageNumber"`
}

type searchResponse struct {
	Query           string              `json:"query"`
	Results         []crawler.SearchHit `json:"results"`
	TotalCount      int                 `json:"totalCount"`
	PageNumber      int                 `json:"pageNumber"`
	PageSize        int                 `json:"pageSize"`
	ExecutionTimeMs int64               `json:"executionTimeMs"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	start := s.deps.Clock.Now()
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	q, err := toSearchQuery(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hits, total, err := s.deps.Search.Search(r.Context(), q)
	if err != nil {
		s.logger.Error("search failed", zap.String("query", q.Query), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if hits == nil {
		hits = []crawler.SearchHit{}
	}
	s.writeJSON(w, http.StatusOK, searchResponse{
		Query:           q.Query,
		Results:         hits,
		TotalCount:      total,
		PageNumber:      q.PageNumber,
		PageSize:        q.PageSize,
		ExecutionTimeMs: s.deps.Clock.Now().Sub(start).Milliseconds(),
	})
}

func toSearchQuery(req searchRequest) (crawler.SearchQuery, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return crawler.SearchQuery{}, errors.New("query is required")
	}
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return crawler.SearchQuery{}, fmt.Errorf("pageSize must be between 1 and %d", MaxPageSize)
	}
	pageNumber := req.PageNumber
	if pageNumber == 0 {
		pageNumber = 1
	}
	if pageNumber < 1 {
		return crawler.SearchQuery{}, errors.New("pageNumber must be >= 1")
	}
	return crawler.SearchQuery{Query: query, PageSize: pageSize, PageNumber: pageNumber}, nil
}

type taskRequest struct {
	URLs     []string `json:"urls"`
	Priority string   `json:"priority"`
}

func (s *Server) submitTasks(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		s.writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > maxTaskURLs {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per request", maxTaskURLs))
		return
	}
	tier := broker.Normal
	if req.Priority != "" {
		p, err := broker.ParsePriority(req.Priority)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tier = p
	}
	tasks := make([]crawler.CrawlTask, 0, len(req.URLs))
	for _, raw := range req.URLs {
		u, err := crawler.ParseTaskURL(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tasks = append(tasks, crawler.CrawlTask{URL: u.String()})
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	for i, task := range tasks {
		if err := s.deps.Tasks.PublishPriority(ctx, crawler.CrawlingQueue, tier, task); err != nil {
			s.logger.Error("enqueue crawl task failed", zap.String("url", task.URL), zap.Error(err))
			status := http.StatusInternalServerError
			if broker.IsUnreachable(err) {
				status = http.StatusServiceUnavailable
			}
			s.writeJSON(w, status, map[string]any{"error": "enqueue failed", "accepted": i})
			return
		}
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"accepted": len(tasks), "priority": tier.String()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
