package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"proximg/internal/config"
	"proximg/internal/core"
	"proximg/internal/core/processors"
	"proximg/internal/stats"
)

const greeting = "proximg"

// HTTPServer is the front door: trivial routes, the self-loop guard and
// connection counters around the fetch pipeline
type HTTPServer struct {
	*Server
	pipeline *core.Pipeline
	stats    *stats.Counters
	log      *zap.Logger
}

// statusDocument is the JSON form of /status
type statusDocument struct {
	Status  string `json:"status"`
	Current int64  `json:"current"`
	Total   int64  `json:"total"`
	Since   string `json:"since"`
	Uptime  string `json:"uptime"`
}

// FromConfig builds the host filter, pipeline and server from cfg
func FromConfig(cfg *config.Config, log *zap.Logger) (*HTTPServer, error) {
	filter, err := cfg.Proxy.Filter()
	if err != nil {
		return nil, err
	}

	pipeline := core.NewPipeline(filter, cfg.Proxy.PipelineOptions(), log)
	pipeline.AddProcessor(processors.NewRequestLogger())

	return NewHTTPServer(cfg.Server, pipeline, log), nil
}

// NewHTTPServer creates the front door around pipeline
func NewHTTPServer(cfg config.ServerConfig, pipeline *core.Pipeline, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &HTTPServer{
		pipeline: pipeline,
		stats:    stats.New(),
		log:      log,
	}
	s.Server = New(cfg, s, log)
	return s
}

// Handler returns the root handler, for use with httptest
func (s *HTTPServer) Handler() http.Handler {
	return s
}

// Stats returns the advisory connection counters
func (s *HTTPServer) Stats() *stats.Counters {
	return s.stats
}

// ServeHTTP routes requests. http.ServeMux is avoided since it cleans the
// "//" inside embedded target URLs.
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || r.URL.Path == "/" {
		writeText(w, http.StatusOK, greeting)
		return
	}

	switch r.URL.Path {
	case "/favicon.ico":
		writeText(w, http.StatusOK, "ok")
	case "/status":
		s.handleStatus(w, r)
	case "/health":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	default:
		s.handleProxy(w, r)
	}
}

// handleProxy runs one image fetch. The counters are closed exactly once
// on every path, including aborted streams.
func (s *HTTPServer) handleProxy(w http.ResponseWriter, r *http.Request) {
	s.stats.Open()
	defer s.stats.Close()

	target := strings.TrimPrefix(r.URL.Path, "/")
	rc := s.pipeline.NewRequestContext(r, w, target)

	if core.IsSelfLoop(r.Header, s.pipeline.Identity()) {
		s.pipeline.Reject(rc, core.NewRejection(core.ReasonSelfLoop, ""))
		return
	}

	err := s.pipeline.Fetch(rc, target)
	if err == nil {
		return
	}
	if _, ok := core.AsRejection(err); ok {
		return
	}
	// The status line is already out; cut the connection so the client
	// cannot mistake a truncated body for a complete one.
	panic(http.ErrAbortHandler)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()

	if r.URL.Query().Get("format") == "json" || strings.Contains(r.Header.Get("Accept"), "application/json") {
		body, err := sonic.Marshal(statusDocument{
			Status:  "ok",
			Current: snap.Current,
			Total:   snap.Total,
			Since:   snap.Started.UTC().Format(time.RFC3339),
			Uptime:  time.Since(snap.Started).Round(time.Second).String(),
		})
		if err != nil {
			s.log.Error("failed to encode status", zap.Error(err))
			http.Error(w, "status unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	writeText(w, http.StatusOK, fmt.Sprintf("ok %d/%d since %s",
		snap.Current, snap.Total, snap.Started.Format(time.RFC1123)))
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
