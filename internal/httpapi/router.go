// Package httpapi serves the partition's status, health, transition and
// metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/roleshift/pkg/concurrency"
	"github.com/bft-labs/roleshift/pkg/health"
	"github.com/bft-labs/roleshift/pkg/lifecycle"
	"github.com/bft-labs/roleshift/pkg/log"
	"github.com/bft-labs/roleshift/pkg/partition"
	"github.com/bft-labs/roleshift/pkg/transition"
)

const maxRecordBytes = 1 << 20

// Partition is the part of *partition.Partition the API uses.
type Partition interface {
	Status(ctx context.Context) (partition.Status, error)
	TransitionTo(term int64, role transition.Role) *concurrency.Future[transition.Outcome]
	Append(payload []byte) (uint64, error)
}

// HealthReporter summarizes component health.
type HealthReporter interface {
	Snapshot() []health.Report
	Overall() health.Status
}

// TransitionRequest is the body of POST /transitions.
type TransitionRequest struct {
	Term int64  `json:"term"`
	Role string `json:"role"`
}

// TransitionResponse reports the outcome of a transition.
type TransitionResponse struct {
	Term    int64  `json:"term"`
	Role    string `json:"role"`
	Outcome string `json:"outcome"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Overall    health.Status   `json:"overall"`
	Components []health.Report `json:"components"`
}

type handler struct {
	partition Partition
	health    HealthReporter
	logger    log.Logger
	timeout   time.Duration
}

// NewRouter creates the router.
//
// Routes:
//   - GET /status - partition status
//   - GET /health - component health, 503 when a component is unhealthy
//   - POST /transitions - request a role transition and wait for its outcome
//   - POST /records - append a record (leader only)
//   - GET /metrics - Prometheus metrics from gatherer
func NewRouter(p Partition, hr HealthReporter, gatherer prometheus.Gatherer, logger log.Logger, timeout time.Duration) http.Handler {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	h := &handler{partition: p, health: hr, logger: logger, timeout: timeout}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/status", h.status)
	r.Get("/health", h.healthCheck)
	r.Post("/transitions", h.transition)
	r.Post("/records", h.appendRecord)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.partition.Status(r.Context())
	if err != nil {
		fail(w, http.StatusServiceUnavailable, err)
		return
	}
	ok(w, http.StatusOK, st)
}

func (h *handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Overall:    h.health.Overall(),
		Components: h.health.Snapshot(),
	}
	code := http.StatusOK
	if resp.Overall == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *handler) transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	role, err := transition.ParseRole(req.Role)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	if req.Term < 0 {
		fail(w, http.StatusBadRequest, errors.New("term must not be negative"))
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	outcome, err := h.partition.TransitionTo(req.Term, role).Get(ctx)
	if err != nil {
		fail(w, transitionStatus(err), err)
		return
	}
	ok(w, http.StatusOK, TransitionResponse{Term: req.Term, Role: role.String(), Outcome: outcome.String()})
}

func transitionStatus(err error) int {
	switch {
	case errors.Is(err, transition.ErrOrchestratorMisuse):
		return http.StatusConflict
	case errors.Is(err, transition.ErrClosed), errors.Is(err, lifecycle.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) appendRecord(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxRecordBytes+1))
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	if len(payload) > maxRecordBytes {
		fail(w, http.StatusRequestEntityTooLarge, fmt.Errorf("record exceeds %d bytes", maxRecordBytes))
		return
	}

	pos, err := h.partition.Append(payload)
	switch {
	case errors.Is(err, partition.ErrNotLeader):
		fail(w, http.StatusConflict, err)
	case errors.Is(err, lifecycle.ErrNotRunning):
		fail(w, http.StatusServiceUnavailable, err)
	case err != nil:
		fail(w, http.StatusInternalServerError, err)
	default:
		ok(w, http.StatusCreated, map[string]uint64{"position": pos})
	}
}

func (h *handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.Debug("API request completed",
			log.String("request_id", middleware.GetReqID(r.Context())),
			log.String("method", r.Method),
			log.String("path", r.URL.Path),
			log.Int("status", ww.Status()),
			log.Duration("duration", time.Since(start)),
		)
	})
}
