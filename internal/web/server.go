// Package web serves the local proxy in front of the remote exchange API.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/events"
	"github.com/vadiminshakov/fxdesk/internal/services/rates"
	"github.com/vadiminshakov/fxdesk/internal/services/settlement"
)

const (
	DefaultUserID = "c1"
	DefaultLimit  = 10

	snapshotPollInterval = 2 * time.Second
	requestTimeout       = 60 * time.Second
	settleWorkers        = 16
)

// Gateway is the raw remote API the proxy forwards to.
type Gateway interface {
	Balances(ctx context.Context, userID string) (json.RawMessage, error)
	CreateJob(ctx context.Context, body []byte) (json.RawMessage, error)
	Jobs(ctx context.Context, userID string, limit int) (json.RawMessage, error)
	Job(ctx context.Context, jobID, userID string) (json.RawMessage, error)
}

type balanceSnapshotReader interface {
	SnapshotsAfter(index uint64) ([]domain.BalanceSnapshotRecord, error)
}

// JobRecorder journals a job created through the proxy.
type JobRecorder interface {
	Adopt(payload, response []byte, expected decimal.Decimal) (domain.JobHandle, error)
}

// JobSettler follows a journaled job to its outcome.
type JobSettler interface {
	Settle(ctx context.Context, handle domain.JobHandle) (settlement.Outcome, error)
}

// Server exposes the /api proxy routes, the balance SSE stream and metrics.
type Server struct {
	Addr    string
	Gateway Gateway
	Quoter  rates.Quoter
	Store   balanceSnapshotReader

	recorder JobRecorder
	settler  JobSettler
	balances *events.Broadcaster[domain.BalanceSnapshot]

	defaultUserID string
	defaultLimit  int
	logger        *zap.Logger

	// settling is the context of background settlements, cancelled on shutdown.
	settling context.Context
	pool     gopool.Pool
	jobs     sync.WaitGroup
}

type Option func(*Server)

func WithStore(store balanceSnapshotReader) Option {
	return func(s *Server) { s.Store = store }
}

// WithJobTracking journals every job created through POST /api/jobs and
// follows it to settlement in the background.
func WithJobTracking(recorder JobRecorder, settler JobSettler) Option {
	return func(s *Server) {
		s.recorder = recorder
		s.settler = settler
	}
}

// WithBalanceUpdates makes the balance stream push new snapshots as soon as
// they are published instead of waiting for the next poll.
func WithBalanceUpdates(b *events.Broadcaster[domain.BalanceSnapshot]) Option {
	return func(s *Server) { s.balances = b }
}

func WithDefaults(userID string, limit int) Option {
	return func(s *Server) {
		if userID != "" {
			s.defaultUserID = userID
		}
		if limit > 0 {
			s.defaultLimit = limit
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new web server instance.
func NewServer(addr string, gateway Gateway, quoter rates.Quoter, opts ...Option) *Server {
	s := &Server{
		Addr:          addr,
		Gateway:       gateway,
		Quoter:        quoter,
		defaultUserID: DefaultUserID,
		defaultLimit:  DefaultLimit,
		logger:        zap.NewNop(),
		settling:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.pool = gopool.NewPool("fxdesk-settle", settleWorkers, gopool.NewConfig())
	s.pool.SetPanicHandler(func(_ context.Context, p interface{}) {
		s.logger.Error("settlement panicked", zap.Any("panic", p))
	})
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// the stream outlives any request timeout
		r.Get("/balance/stream", s.handleBalanceStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Get("/balance", s.handleBalance)
			r.Post("/jobs", s.handleCreateJob)
			r.Get("/jobs/{job_id}", s.handleJob)
			r.Get("/transactions", s.handleTransactions)
			r.Get("/rate", s.handleRate)
		})
	})

	return r
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.settling = ctx

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("proxy listening", zap.String("addr", s.Addr))
	err := server.ListenAndServe()
	s.jobs.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	return nil
}

// track journals a job created through the proxy and settles it in the background.
func (s *Server) track(payload, response []byte) {
	if s.recorder == nil {
		return
	}
	handle, err := s.recorder.Adopt(payload, response, decimal.Zero)
	if err != nil {
		s.logger.Warn("proxied job not tracked", zap.Error(err))
		return
	}
	if s.settler == nil {
		return
	}

	ctx := s.settling
	s.jobs.Add(1)
	s.pool.CtxGo(ctx, func() {
		defer s.jobs.Done()
		if _, err := s.settler.Settle(ctx, handle); err != nil && ctx.Err() == nil {
			s.logger.Info("proxied job settled with error", zap.String("job_id", handle.JobID), zap.Error(err))
		}
	})
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return
	}
}

// respondRaw echoes an upstream body verbatim.
func respondRaw(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
