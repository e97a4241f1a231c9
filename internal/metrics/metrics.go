// Package metrics instruments the protocol engine with Prometheus counters.
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "bgapi"

// Metrics holds the engine's collectors.
type Metrics struct {
	FramesReceived  *prometheus.CounterVec
	FramesSent      prometheus.Counter
	BytesReceived   prometheus.Counter
	BytesSent       prometheus.Counter
	DecodeErrors    *prometheus.CounterVec
	HandlerFailures *prometheus.CounterVec
	ReadTimeouts    prometheus.Counter
	HandlerDuration prometheus.Histogram
	Connected       prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames decoded from the device, by kind.",
		}, []string{"kind"}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Command frames written to the device.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Raw bytes read from the transport.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Raw bytes written to the transport.",
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Frames or bytes dropped while decoding, by reason.",
		}, []string{"reason"}),
		HandlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Handler invocations that returned an error or panicked, by message.",
		}, []string{"message"}),
		ReadTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_timeouts_total",
			Help:      "ReadMessage calls that completed no frame in time.",
		}),
		HandlerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Time spent inside message handlers.",
			Buckets:   prometheus.DefBuckets,
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a session holds an open transport.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FramesReceived,
			m.FramesSent,
			m.BytesReceived,
			m.BytesSent,
			m.DecodeErrors,
			m.HandlerFailures,
			m.ReadTimeouts,
			m.HandlerDuration,
			m.Connected,
		)
	}
	return m
}

func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameSent(n int) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(n))
}

func (m *Metrics) Received(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesReceived.Add(float64(n))
}

func (m *Metrics) DecodeError(reason string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) HandlerFailed(message string) {
	if m == nil {
		return
	}
	m.HandlerFailures.WithLabelValues(message).Inc()
}

func (m *Metrics) ReadTimeout() {
	if m == nil {
		return
	}
	m.ReadTimeouts.Inc()
}

// ObserveHandler records how long a handler ran.
func (m *Metrics) ObserveHandler(d time.Duration) {
	if m == nil {
		return
	}
	m.HandlerDuration.Observe(d.Seconds())
}

func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

// Serve exposes /metrics and /health on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
