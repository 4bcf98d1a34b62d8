package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Collector using prometheus counters and
// gauges registered on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	connectionsOpen   prometheus.Gauge
	connectionsTotal  prometheus.Counter
	authAttempts      *prometheus.CounterVec
	commandsProcessed *prometheus.CounterVec
	cipsPublished     prometheus.Counter
	cipBytes          prometheus.Counter
	oversizedCommands prometheus.Counter
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates a Collector with all metrics registered.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Prometheus{
		registry: registry,
		connectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "robin_connections_open",
			Help: "Number of currently open client connections.",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "robin_connections_total",
			Help: "Total number of accepted client connections.",
		}),
		authAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "robin_auth_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		commandsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "robin_commands_total",
			Help: "Dispatched commands by name.",
		}, []string{"command"}),
		cipsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "robin_cips_published_total",
			Help: "Total number of published cips.",
		}),
		cipBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "robin_cip_bytes_total",
			Help: "Total bytes of published cip text.",
		}),
		oversizedCommands: factory.NewCounter(prometheus.CounterOpts{
			Name: "robin_oversized_commands_total",
			Help: "Command frames rejected for exceeding the size cap.",
		}),
	}
}

func (p *Prometheus) ConnectionOpened() {
	p.connectionsTotal.Inc()
	p.connectionsOpen.Inc()
}

func (p *Prometheus) ConnectionClosed() {
	p.connectionsOpen.Dec()
}

func (p *Prometheus) AuthAttempt(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	p.authAttempts.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) CommandProcessed(command string) {
	p.commandsProcessed.WithLabelValues(command).Inc()
}

func (p *Prometheus) CipPublished(sizeBytes int) {
	p.cipsPublished.Inc()
	p.cipBytes.Add(float64(sizeBytes))
}

func (p *Prometheus) OversizedCommand() {
	p.oversizedCommands.Inc()
}

// Server serves the collector's registry over HTTP at /metrics.
type Server struct {
	srv *http.Server
}

// NewServer builds an HTTP metrics server bound to addr.
func NewServer(addr string, p *Prometheus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	return &Server{srv: &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
