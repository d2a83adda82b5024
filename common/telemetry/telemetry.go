package telemetry

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/lyzr/orchestrator/common/logger"
)

// Metrics are the Prometheus gauges/counters/histograms the core registers
// and exposes on /metrics. No code in this repository updates them, so they
// stay at their zero values.
type Metrics struct {
	WorkflowsCreated     prometheus.Counter
	WorkflowsCompleted   prometheus.Counter
	WorkflowsFailed      prometheus.Counter
	TasksDispatched      *prometheus.CounterVec
	TaskDurationSeconds  *prometheus.HistogramVec
	ActiveWorkflows      prometheus.Gauge
	BusReclaimed         prometheus.Counter
	BusDeadLettered      prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WorkflowsCreated:   f.NewCounter(prometheus.CounterOpts{Name: "orchestrator_workflows_created_total"}),
		WorkflowsCompleted: f.NewCounter(prometheus.CounterOpts{Name: "orchestrator_workflows_completed_total"}),
		WorkflowsFailed:    f.NewCounter(prometheus.CounterOpts{Name: "orchestrator_workflows_failed_total"}),
		TasksDispatched: f.NewCounterVec(prometheus.CounterOpts{Name: "orchestrator_tasks_dispatched_total"}, []string{"agent_type"}),
		TaskDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_task_duration_seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent_type", "status"}),
		ActiveWorkflows: f.NewGauge(prometheus.GaugeOpts{Name: "orchestrator_active_workflows"}),
		BusReclaimed:    f.NewCounter(prometheus.CounterOpts{Name: "orchestrator_bus_reclaimed_total"}),
		BusDeadLettered: f.NewCounter(prometheus.CounterOpts{Name: "orchestrator_bus_dead_lettered_total"}),
	}
}

// Telemetry holds observability components: pprof, Prometheus metrics, and
// an OTel tracer provider.
type Telemetry struct {
	log         *logger.Logger
	pprofAddr   string
	metricsAddr string
	registry    *prometheus.Registry

	Metrics *Metrics
	tracerProvider *sdktrace.TracerProvider
}

// New creates telemetry components. serviceName and otlpEndpoint (empty to
// use the stdout exporter instead) configure the OTel tracer provider.
func New(pprofPort, metricsPort int, log *logger.Logger, serviceName, otlpEndpoint string) (*Telemetry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	tp, err := newTracerProvider(serviceName, otlpEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to build tracer provider: %w", err)
	}
	otel.SetTracerProvider(tp)

	return &Telemetry{
		log:            log,
		pprofAddr:      fmt.Sprintf("localhost:%d", pprofPort),
		metricsAddr:    fmt.Sprintf("localhost:%d", metricsPort),
		registry:       reg,
		Metrics:        newMetrics(reg),
		tracerProvider: tp,
	}, nil
}

// newTracerProvider builds an OTel TracerProvider exporting spans either to
// an OTLP/HTTP collector (when otlpEndpoint is set) or to stdout, so a
// dev box gets readable traces with zero external dependencies.
func newTracerProvider(serviceName, otlpEndpoint string) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}

	var exporter sdktrace.SpanExporter
	if otlpEndpoint != "" {
		exporter, err = otlptracehttp.New(context.Background(), otlptracehttp.WithEndpoint(otlpEndpoint), otlptracehttp.WithInsecure())
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// Start starts the pprof and Prometheus metrics endpoints.
func (t *Telemetry) Start(ctx context.Context) error {
	go func() {
		t.log.Info("pprof server starting", "addr", t.pprofAddr)
		if err := http.ListenAndServe(t.pprofAddr, nil); err != nil {
			t.log.Error("pprof server error", "error", err)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))
		t.log.Info("metrics server starting", "addr", t.metricsAddr)
		if err := http.ListenAndServe(t.metricsAddr, mux); err != nil {
			t.log.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Shutdown flushes and stops the tracer provider. Part of the core's
// graceful-shutdown sequence (close DB/bus/KV connections phase).
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.tracerProvider.Shutdown(ctx)
}

// RecordDuration records operation duration
func (t *Telemetry) RecordDuration(operation string, start time.Time) {
	duration := time.Since(start)
	t.log.Debug("operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
}

// RecordEvent records a telemetry event
func (t *Telemetry) RecordEvent(event string, attrs map[string]any) {
	t.log.Info("telemetry_event",
		"event", event,
		"attrs", attrs,
	)
}
