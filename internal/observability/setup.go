package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_decisions_total",
			Help: "Moderation decisions executed, by action",
		},
		[]string{"action"},
	)

	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_verifications_total",
			Help: "Resolved join verifications, by outcome",
		},
		[]string{"outcome"},
	)

	classifierRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_classifier_requests_total",
			Help: "Classifier calls, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	classifierDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatewarden_classifier_duration_seconds",
			Help:    "Time spent waiting for the classifier",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	registerOnce sync.Once
)

// Init registers the metrics and installs the tracer provider. The returned
// function flushes the provider.
func Init(_ context.Context) (func(context.Context) error, error) {
	var err error
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{decisionsTotal, verificationsTotal, classifierRequestsTotal, classifierDuration} {
			if regErr := prometheus.Register(c); regErr != nil {
				err = errors.Join(err, regErr)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func RecordDecision(action string) {
	decisionsTotal.WithLabelValues(action).Inc()
}

func RecordVerification(outcome string) {
	verificationsTotal.WithLabelValues(outcome).Inc()
}

func RecordClassification(kind, outcome string) {
	classifierRequestsTotal.WithLabelValues(kind, outcome).Inc()
}

// StartClassification returns a function recording the call duration.
func StartClassification(kind string) func() {
	timer := prometheus.NewTimer(classifierDuration.WithLabelValues(kind))
	return func() {
		timer.ObserveDuration()
	}
}

// MetricsServer serves /metrics as a lifecycle component.
type MetricsServer struct {
	addr   string
	server *http.Server
	done   chan struct{}
}

func NewMetricsServer(addr string) *MetricsServer {
	return &MetricsServer{addr: addr}
}

func (m *MetricsServer) Start(_ context.Context) error {
	if m.addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	m.server = &http.Server{
		Addr:              m.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	log.WithField("addr", m.addr).Info("metrics server started")
	return nil
}

func (m *MetricsServer) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	err := m.server.Shutdown(ctx)
	select {
	case <-m.done:
	case <-ctx.Done():
	}
	return err
}
