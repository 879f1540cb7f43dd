// Package api exposes the HTTP status and control surface for the grabber.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/config"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/dispatch"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/runstate"
)

// Controller is the slice of the dispatcher the HTTP surface drives.
type Controller interface {
	Run(ctx context.Context, sources []*grab.SourceItem) (dispatch.Summary, error)
	Cancel()
	Skip()
	Status() dispatch.Status
	Active() []runstate.ActiveDownload
}

// Server wires HTTP handlers to the dispatcher.
type Server struct {
	router     chi.Router
	controller Controller
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. gatherer backs
// the /metrics endpoint; pass nil to use the default registry.
func NewServer(controller Controller, cfg config.Config, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		controller: controller,
		cfg:        cfg,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/active", s.getActive)
		r.Post("/runs", s.startRun)
		r.Post("/cancel", s.cancelRun)
		r.Post("/skip", s.skipSource)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) getActive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"active": s.controller.Active()})
}

type runRequest struct {
	Sources []sourceRequest `json:"sources"`
}

type sourceRequest struct {
	URL  string `json:"url"`
	Kind string `json:"kind,omitempty"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Sources) == 0 {
		writeError(w, http.StatusBadRequest, "sources required")
		return
	}
	if s.controller.Status().Running {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}

	sources := make([]*grab.SourceItem, 0, len(req.Sources))
	for _, sr := range req.Sources {
		item, err := s.toSourceItem(sr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		sources = append(sources, item)
	}

	go func() {
		summary, err := s.controller.Run(context.Background(), sources)
		if err != nil {
			s.logger.Error("run failed", zap.Error(err))
			return
		}
		s.logger.Info("run finished",
			zap.String("state", string(summary.State)),
			zap.Duration("dur", summary.Dur),
		)
	}()
	writeJSON(w, http.StatusAccepted, map[string]int{"sources": len(sources)})
}

func (s *Server) cancelRun(w http.ResponseWriter, _ *http.Request) {
	s.controller.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) skipSource(w http.ResponseWriter, _ *http.Request) {
	s.controller.Skip()
	writeJSON(w, http.StatusOK, map[string]string{"status": "skipping"})
}

// toSourceItem validates a submitted URL against the supported-domain rules
// and builds the pending SourceItem.
func (s *Server) toSourceItem(req sourceRequest) (*grab.SourceItem, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Host == "" || !strings.HasPrefix(parsed.Scheme, "http") {
		return nil, &sourceError{url: req.URL, reason: "not an absolute http(s) url"}
	}
	host := grab.Host(req.URL)

	kind := grab.SourceKind(req.Kind)
	if kind == "" {
		kind = classifySource(host)
	}
	switch kind {
	case grab.KindCommunityFeed:
	case grab.KindDirectSite:
		if !s.domainSupported(host) {
			return nil, &sourceError{url: req.URL, reason: "domain is not on the supported list"}
		}
	default:
		return nil, &sourceError{url: req.URL, reason: "unknown source kind"}
	}

	return &grab.SourceItem{
		URL:    req.URL,
		Kind:   kind,
		Domain: host,
		Status: grab.SourcePending,
	}, nil
}

func (s *Server) domainSupported(host string) bool {
	for _, supported := range s.cfg.Sites.Supported {
		supported = strings.ToLower(supported)
		if host == supported || strings.HasSuffix(host, "."+supported) {
			return true
		}
	}
	return false
}

func classifySource(host string) grab.SourceKind {
	if host == "reddit.com" || strings.HasSuffix(host, ".reddit.com") {
		return grab.KindCommunityFeed
	}
	return grab.KindDirectSite
}

type sourceError struct {
	url    string
	reason string
}

func (e *sourceError) Error() string {
	return "invalid source " + e.url + ": " + e.reason
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
