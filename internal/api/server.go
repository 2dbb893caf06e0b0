// Package api exposes predictions, asynchronous batch runs and the
// prediction history over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/affinity-cli/internal/batch"
	"github.com/sells-group/affinity-cli/internal/resilience"
	"github.com/sells-group/affinity-cli/internal/store"
	"github.com/sells-group/affinity-cli/internal/validate"
	"github.com/sells-group/affinity-cli/pkg/affinity"
)

// Deps are the collaborators a Server needs.
type Deps struct {
	Store     store.Store
	Client    affinity.Client
	Validator *validate.Validator
	Options   batch.Options
}

// Server holds handler state. Batches outlive the request that started
// them and are bound to the server's base context instead.
type Server struct {
	store     store.Store
	client    affinity.Client
	validator *validate.Validator
	opts      batch.Options
	batches   *tracker
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a Server. Cancelling ctx, or calling Close, cancels
// every running batch.
func NewServer(ctx context.Context, d Deps) *Server {
	if d.Validator == nil {
		d.Validator = validate.New(validate.Options{})
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Server{
		store:     d.Store,
		client:    d.Client,
		validator: d.Validator,
		opts:      d.Options,
		batches:   newTracker(maxFinishedBatches),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close cancels running batches and waits for them to be persisted.
func (s *Server) Close() {
	s.cancel()
	s.batches.wait()
}

// Router builds the HTTP handler. An empty origins list allows any origin.
func (s *Server) Router(origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/predict", s.handlePredict)

	r.Route("/batches", func(r chi.Router) {
		r.Get("/", s.handleListBatches)
		r.Post("/", s.handleStartBatch)
		r.Get("/{id}", s.handleGetBatch)
		r.Get("/{id}/results", s.handleBatchResults)
		r.Delete("/{id}", s.handleCancelBatch)
	})

	r.Route("/history", func(r chi.Router) {
		r.Get("/", s.handleListHistory)
		r.Get("/stats", s.handleHistoryStats)
		r.Get("/export", s.handleExportHistory)
		r.Get("/{id}", s.handleGetRecord)
		r.Patch("/{id}", s.handlePatchRecord)
		r.Delete("/{id}", s.handleDeleteRecord)
	})

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
	})

	return r
}

type healthResponse struct {
	Status    string                  `json:"status"`
	Predictor *affinity.CircuitStatus `json:"predictor,omitempty"`
}

// handleHealth reports "degraded" while the predictor circuit is open.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if cr, ok := s.client.(affinity.CircuitReporter); ok {
		c := cr.Circuit()
		resp.Predictor = &c
		if c.State == resilience.Open.String() {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
