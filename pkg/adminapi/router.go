// Package adminapi exposes a small HTTP surface for operating a coordinator
// or worker: health, the event ledger, a live event stream, a manual
// distribution trigger and container management.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vyvo/bundlecast/pkg/auth"
	"github.com/vyvo/bundlecast/pkg/container"
	"github.com/vyvo/bundlecast/pkg/fault"
	"github.com/vyvo/bundlecast/pkg/ledger"
	"github.com/vyvo/bundlecast/pkg/registry"
)

const (
	defaultEventLimit = 50
	defaultNodeID     = "admin"
)

// Distributor triggers a distribution as if nodeID had announced itself.
type Distributor interface {
	OnNodeAnnounced(ctx context.Context, nodeID string) error
}

// Options selects the routes a router serves. Distributor, Nodes and
// Runtime are optional; their routes are only mounted when set.
type Options struct {
	Role        string
	Recorder    *ledger.Recorder
	Distributor Distributor
	Nodes       *registry.Registry
	Runtime     container.Runtime
	// Token, when set, is required as a bearer token on /api routes.
	Token  string
	Logger *zap.Logger
}

type server struct {
	opts Options
	log  *zap.Logger
}

func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = ledger.NewRecorder(nil, nil, opts.Logger)
	}
	srv := &server{opts: opts, log: opts.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(srv.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(opts.Token))
		r.Get("/events", srv.handleListEvents)
		r.Get("/events/stream", srv.handleStreamEvents)
		if opts.Distributor != nil {
			r.Post("/distribute", srv.handleDistribute)
		}
		if opts.Nodes != nil {
			r.Get("/nodes", srv.handleListNodes)
		}
		if opts.Runtime != nil {
			r.Get("/containers", srv.handleListContainers)
			r.Route("/containers/{containerID}", func(r chi.Router) {
				r.Post("/stop", srv.handleStopContainer)
				r.Delete("/", srv.handleRemoveContainer)
				r.Get("/logs", srv.handleContainerLogs)
			})
		}
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, map[string]string{"status": "ok", "role": s.opts.Role}, http.StatusOK)
}

func (s *server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	events, err := s.opts.Recorder.List(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []ledger.Event{}
	}
	respondJSON(w, map[string]any{"events": events}, http.StatusOK)
}

func (s *server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := s.opts.Recorder.Memory().Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case event, ok := <-ch:
			if !ok {
				fmt.Fprintf(w, "data: %s\n\n", "[stream closed]")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.log.Warn("encode event failed", zap.String("event_id", event.ID), zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
			flusher.Flush()
		}
	}
}

type distributeRequest struct {
	NodeID string `json:"node_id"`
}

func (s *server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	nodeID := strings.TrimSpace(req.NodeID)
	if nodeID == "" {
		nodeID = defaultNodeID
	}

	if err := s.opts.Distributor.OnNodeAnnounced(r.Context(), nodeID); err != nil {
		status := http.StatusBadGateway
		if fault.IsKind(err, fault.KindConfig) {
			status = http.StatusNotFound
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "published", "node_id": nodeID}, http.StatusOK)
}

func (s *server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, map[string]any{"nodes": s.opts.Nodes.List()}, http.StatusOK)
}

func (s *server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := s.opts.Runtime.List(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if containers == nil {
		containers = []container.Container{}
	}
	respondJSON(w, map[string]any{"containers": containers}, http.StatusOK)
}

func (s *server) handleStopContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "containerID")
	if err := s.opts.Runtime.Stop(r.Context(), id); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "stopped", "id": id}, http.StatusOK)
}

func (s *server) handleRemoveContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "containerID")
	if err := s.opts.Runtime.Remove(r.Context(), id); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "removed", "id": id}, http.StatusOK)
}

func (s *server) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "containerID")
	tail := 0
	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "tail must be a non-negative integer")
			return
		}
		tail = n
	}
	logs, err := s.opts.Runtime.Logs(r.Context(), id, tail)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, map[string]string{"id": id, "logs": logs}, http.StatusOK)
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("admin request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, map[string]string{"error": message}, status)
}
