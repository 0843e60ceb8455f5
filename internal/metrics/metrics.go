// Package metrics is the supplemental observability surface both daemons
// expose: segment pool occupancy, request-channel depth, frame/byte
// throughput, and rendezvous wait time, scraped via Prometheus. The
// request-channel depth gauge is registered but neither daemon sets it.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every metric either daemon may record. Both the proxy
// and the cache daemon construct one per process; field names are shared
// so dashboards built against one also work against the other.
type Registry struct {
	reg *prometheus.Registry

	SegmentsIdle      prometheus.Gauge
	SegmentsTotal     prometheus.Gauge
	ChannelDepth      prometheus.Gauge
	FramesTransferred prometheus.Counter
	BytesTransferred  prometheus.Counter
	RendezvousWait    prometheus.Histogram
	RequestsFailed    *prometheus.CounterVec
}

// New builds a fresh Registry under the "gtfileserver" namespace.
func New(subsystem string) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		SegmentsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gtfileserver", Subsystem: subsystem,
			Name: "segments_idle", Help: "Segments currently idle in the pool.",
		}),
		SegmentsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gtfileserver", Subsystem: subsystem,
			Name: "segments_total", Help: "Configured segment pool capacity.",
		}),
		ChannelDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gtfileserver", Subsystem: subsystem,
			Name: "request_channel_depth", Help: "Sampled in-flight depth of the request channel.",
		}),
		FramesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gtfileserver", Subsystem: subsystem,
			Name: "frames_transferred_total", Help: "Data frames published across all segments.",
		}),
		BytesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gtfileserver", Subsystem: subsystem,
			Name: "bytes_transferred_total", Help: "Payload bytes published across all segments.",
		}),
		RendezvousWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gtfileserver", Subsystem: subsystem,
			Name: "rendezvous_wait_seconds", Help: "Time spent blocked on a semaphore during one handshake step.",
			Buckets: prometheus.DefBuckets,
		}),
		RequestsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gtfileserver", Subsystem: subsystem,
			Name: "requests_failed_total", Help: "Requests that ended in a non-OK status, by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		r.SegmentsIdle,
		r.SegmentsTotal,
		r.ChannelDepth,
		r.FramesTransferred,
		r.BytesTransferred,
		r.RendezvousWait,
		r.RequestsFailed,
	)
	return r
}

// ObserveWait records how long a rendezvous step blocked.
func (r *Registry) ObserveWait(since time.Time) {
	r.RendezvousWait.Observe(time.Since(since).Seconds())
}

// Server exposes the registry on /metrics over plain HTTP.
type Server struct {
	http *http.Server
}

// NewServer builds (but does not start) a metrics HTTP server bound to
// addr for registry r.
func NewServer(addr string, r *Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// Serve blocks until ctx is cancelled, then shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
