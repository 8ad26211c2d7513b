// Package telemetry provides the agent's outbound-only HTTP surface:
// health, status, and Prometheus metrics endpoints. Trimmed from
// internal/api/server.go's router/CORS/lifecycle plumbing; the teacher's
// backtest-control and WebSocket UI endpoints are out of scope here (the
// spec's Non-goals exclude a UI surface).
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/internal/broker"
	"github.com/atlas-desktop/agent-core/internal/portfolio"
	"github.com/atlas-desktop/agent-core/internal/session"
)

// Metrics is the set of Prometheus collectors the agent exposes.
type Metrics struct {
	OrdersSubmitted prometheus.Counter
	OrdersRejected  *prometheus.CounterVec
	CircuitOpens    prometheus.Counter
	PortfolioEquity prometheus.Gauge
}

// NewMetrics registers every collector against reg and returns the handle
// the rest of the agent increments.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_orders_submitted_total", Help: "Orders submitted to the broker.",
		}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_orders_rejected_total", Help: "Proposals rejected by the risk gate, by reason.",
		}, []string{"reason"}),
		CircuitOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_circuit_breaker_opens_total", Help: "Times a broker circuit breaker tripped open.",
		}),
		PortfolioEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_portfolio_equity", Help: "Last-computed total portfolio equity.",
		}),
	}
	reg.MustRegister(m.OrdersSubmitted, m.OrdersRejected, m.CircuitOpens, m.PortfolioEquity)
	return m
}

// Server is the agent's read-only observability surface: no endpoint
// mutates agent state, matching spec.md's "outbound-only in push mode"
// framing for the observability config.
type Server struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	addr    string
	router  *mux.Router
	httpSrv *http.Server

	pm       *portfolio.Manager
	sm       *session.Manager
	exec     broker.ExecutionService
	metrics  *Metrics
	registry *prometheus.Registry

	prices func() map[string]float64
}

// New builds a telemetry Server bound to addr. prices supplies last-known
// prices for the equity computation behind /status.
func New(logger *zap.Logger, addr string, pm *portfolio.Manager, sm *session.Manager, exec broker.ExecutionService, prices func() map[string]float64) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		logger:   logger.Named("telemetry"),
		addr:     addr,
		router:   mux.NewRouter(),
		pm:       pm,
		sm:       sm,
		exec:     exec,
		metrics:  NewMetrics(reg),
		registry: reg,
		prices:   prices,
	}
	s.setupRoutes()
	return s
}

// Metrics returns the collector handle so other components can increment
// counters without importing the telemetry package's HTTP concerns.
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// Run starts the HTTP listener and blocks until ctx is canceled, at which
// point it shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(s.router)

	s.mu.Lock()
	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("telemetry server listening", zap.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStatus reports a DEGRADED status when the portfolio is flagged
// unsynchronized, matching spec.md §7's circuit-open/DEGRADED-mode policy.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.pm.Snapshot()
	risk := s.sm.Snapshot()

	status := "healthy"
	if !snap.Portfolio.Synchronized {
		status = "degraded"
	}

	prices := map[string]float64{}
	if s.prices != nil {
		prices = s.prices()
	}

	openOrders := s.countOpenOrders(r.Context())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":             status,
		"cash":               snap.Portfolio.Cash.String(),
		"version":            snap.Version,
		"positions":          len(snap.Portfolio.Positions),
		"daily_trades":       snap.Portfolio.DayTradesCount,
		"consecutive_losses": risk.ConsecutiveLosses,
		"reference_date":     risk.ReferenceDate,
		"last_prices_count":  len(prices),
		"open_orders":        openOrders,
	})
}

// countOpenOrders reports how many of today's orders have not yet reached a
// terminal status, surfacing broker-side order backlog alongside the
// portfolio's own view of the world.
func (s *Server) countOpenOrders(ctx context.Context) int {
	if s.exec == nil {
		return 0
	}
	orders, err := s.exec.GetTodayOrders(ctx)
	if err != nil {
		s.logger.Warn("status: failed to list today's orders", zap.Error(err))
		return 0
	}
	count := 0
	for _, o := range orders {
		if !o.Status.IsTerminal() {
			count++
		}
	}
	return count
}
