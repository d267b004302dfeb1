package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/awantoch/flowhook/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/awantoch/flowhook"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowhook_http_requests_total",
			Help: "Total number of HTTP requests received.",
		},
		[]string{"handler", "method", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowhook_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowhook_executions_total",
			Help: "Executions that reached a terminal status.",
		},
		[]string{"status"},
	)
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowhook_step_duration_seconds",
			Help:    "Duration of step handler invocations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"app", "key", "status"},
	)
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowhook_polls_total",
			Help: "Poll trigger runs.",
		},
		[]string{"app", "result"},
	)
	triggerItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowhook_trigger_items_total",
			Help: "Trigger items promoted to executions.",
		},
		[]string{"source"},
	)
	tokenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowhook_token_refresh_total",
			Help: "Credential refreshes performed against providers.",
		},
		[]string{"app", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal, httpRequestDuration,
		executionsTotal, stepDuration, pollsTotal, triggerItemsTotal, tokenRefreshesTotal,
	)
}

// Init sets up the tracer provider. Supported exporters: "stdout", "otlp".
// An empty exporter leaves the no-op provider in place. The returned function
// flushes and stops the provider.
func Init(cfg *config.Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if cfg == nil || cfg.Tracing.Exporter == "" {
		return noop, nil
	}
	serviceName := cfg.Tracing.ServiceName
	if serviceName == "" {
		serviceName = "flowhook"
	}
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return noop, err
	}

	var exp sdktrace.SpanExporter
	switch cfg.Tracing.Exporter {
	case "stdout":
		exp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracehttp.Option{}
		if cfg.Tracing.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Tracing.Endpoint))
		}
		exp, err = otlptracehttp.New(context.Background(), opts...)
	default:
		return noop, fmt.Errorf("unknown tracing exporter %q", cfg.Tracing.Exporter)
	}
	if err != nil {
		return noop, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the tracer used for executions and steps.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// WrapHandler applies tracing, Prometheus metrics, and otelhttp middleware.
func WrapHandler(name string, next http.Handler) http.Handler {
	h := otelhttp.NewHandler(next, name)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{w, http.StatusOK}
		h.ServeHTTP(rw, r)
		httpRequestsTotal.WithLabelValues(name, r.Method, fmt.Sprintf("%d", rw.status)).Inc()
		httpRequestDuration.WithLabelValues(name, r.Method).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// MetricsHandler returns the Prometheus metrics endpoint handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func ObserveStep(app, key, status string, d time.Duration) {
	stepDuration.WithLabelValues(app, key, status).Observe(d.Seconds())
}

func CountExecution(status string) {
	executionsTotal.WithLabelValues(status).Inc()
}

func CountPoll(app, result string) {
	pollsTotal.WithLabelValues(app, result).Inc()
}

func CountTriggerItems(source string, n int) {
	triggerItemsTotal.WithLabelValues(source).Add(float64(n))
}

func CountTokenRefresh(app, result string) {
	tokenRefreshesTotal.WithLabelValues(app, result).Inc()
}
