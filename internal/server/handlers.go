package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/opsgrid/inquest/internal/bridge"
	"github.com/opsgrid/inquest/internal/model"
	"github.com/opsgrid/inquest/internal/registry"
	"github.com/opsgrid/inquest/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	supervisor *bridge.Supervisor // nil when no runtime is configured
	reg        *registry.Registry // nil when no capability file is configured
	db         *storage.DB        // nil when no archive is configured
	logger     *slog.Logger
	startedAt  time.Time
	version    string
	maxBody    int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Supervisor, Registry, DB.
type HandlersDeps struct {
	Supervisor *bridge.Supervisor
	Registry   *registry.Registry
	DB         *storage.DB
	Logger     *slog.Logger
	Version    string
	MaxBody    int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		supervisor: d.Supervisor,
		reg:        d.Registry,
		db:         d.DB,
		logger:     d.Logger,
		startedAt:  time.Now(),
		version:    d.Version,
		maxBody:    d.MaxBody,
	}
}

// HandleSubmit handles POST /v1/investigations: validates the input, then
// streams the investigation as SSE until it reaches a terminal state. With no
// runtime configured the stream carries a deterministic synthetic walkthrough
// instead, same framing, same event kinds.
func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeBadRequest, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if err := model.ValidateInput(req.Input); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, err.Error())
		return
	}

	// Readiness gate: a live run needs both a runtime and at least one
	// registered capability. Anything less streams the synthetic walkthrough.
	capabilities := h.capabilityNames()
	live := h.supervisor != nil && len(capabilities) > 0

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var (
		relay *bridge.Relay
		done  <-chan struct{}
	)
	if !live {
		relay, done = bridge.SyntheticRelay(req.Input, capabilities)
	} else {
		inv := model.NewInvestigation(req.Input)
		relay = bridge.NewRelay()
		workerDone := make(chan struct{})
		done = workerDone

		// The run is owned by the server, not the connection: a client
		// disconnect stops delivery but must not cancel the investigation.
		runCtx := context.WithoutCancel(r.Context())
		go func() {
			defer close(workerDone)
			h.supervisor.Run(runCtx, inv, relay)
		}()
	}

	publisher := bridge.NewPublisher(relay, done, h.logger)
	if err := publisher.Serve(r.Context(), w); err != nil {
		h.logger.Debug("stream ended before completion",
			"error", err,
			"request_id", RequestIDFromContext(r.Context()))
	}
}

// HandleRecent handles GET /v1/investigations/recent.
func (h *Handlers) HandleRecent(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "no archive configured")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "limit must be in 1..200")
			return
		}
		limit = n
	}

	invs, err := h.db.RecentInvestigations(r.Context(), limit)
	if err != nil {
		h.logger.Error("recent investigations query failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "query failed")
		return
	}
	if invs == nil {
		invs = []model.Investigation{}
	}
	writeJSON(w, r, http.StatusOK, invs)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbReady := false
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		dbReady = h.db.Ping(ctx) == nil
	}

	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		RuntimeReady:  h.supervisor != nil,
		DatabaseReady: dbReady,
	})
}

// capabilityNames returns the registry's capability names, or nil when the
// registry is missing or unreadable. The synthetic path falls back to its
// canned names in that case.
func (h *Handlers) capabilityNames() []string {
	if h.reg == nil {
		return nil
	}
	snap, err := h.reg.Snapshot()
	if err != nil {
		h.logger.Warn("capability registry unavailable", "error", err)
		return nil
	}
	return snap.Names()
}
