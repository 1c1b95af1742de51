package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/ncecere/voice_gateway/internal/config"
)

const namespace = "voice_gateway"

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter *promreg.CounterVec
	httpRequestLatency *promreg.HistogramVec
	stageLatencyHist   *promreg.HistogramVec
	runCounter         *promreg.CounterVec
	rejectionCounter   *promreg.CounterVec
	tokenCounter       *promreg.CounterVec
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics && !cfg.TraceStdout {
		return nil, nil
	}

	provider := &Provider{}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "voice-gateway"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	var exporter sdktrace.SpanExporter
	switch {
	case cfg.EnableOTLP:
		endpoint, opts := otlpEndpoint(cfg.OTLPEndpoint)
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		client := otlptracegrpc.NewClient(opts...)
		exporter, err = otlptrace.New(ctx, client)
		if err != nil {
			return nil, err
		}
	case cfg.TraceStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
	}
	if exporter != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		if err := provider.setupMetrics(registry, res); err != nil {
			return nil, err
		}
	}

	return provider, nil
}

func otlpEndpoint(raw string) (string, []otlptracegrpc.Option) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	opts := []otlptracegrpc.Option{}
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
		opts = append(opts, otlptracegrpc.WithInsecure())
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	default:
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return endpoint, opts
}

func (p *Provider) setupMetrics(registry *promreg.Registry, res *resource.Resource) error {
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return err
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(promExporter),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	p.meterProvider = mp
	p.promExporter = promExporter
	p.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)

	latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}
	// Local model stages routinely run for tens of seconds.
	stageBuckets := []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

	httpRequests := promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpLatency := promreg.NewHistogramVec(
		promreg.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   latencyBuckets,
		},
		[]string{"method", "route", "status"},
	)
	stageLatency := promreg.NewHistogramVec(
		promreg.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of backend calls per pipeline stage.",
			Buckets:   stageBuckets,
		},
		[]string{"stage", "backend", "success"},
	)
	runs := promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by kind and terminal status.",
		},
		[]string{"kind", "status"},
	)
	rejections := promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Requests turned away because a backend was at capacity.",
		},
		[]string{"backend"},
	)
	tokens := promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "generation_tokens_total",
			Help:      "Total prompt/completion tokens reported by the generator.",
		},
		[]string{"type"},
	)
	for _, c := range []promreg.Collector{httpRequests, httpLatency, stageLatency, runs, rejections, tokens} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	p.httpRequestCounter = httpRequests
	p.httpRequestLatency = httpLatency
	p.stageLatencyHist = stageLatency
	p.runCounter = runs
	p.rejectionCounter = rejections
	p.tokenCounter = tokens
	return nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)

	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}

	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

func (p *Provider) RecordStage(stage, backend string, success bool, duration time.Duration) {
	if p == nil || p.stageLatencyHist == nil {
		return
	}
	p.stageLatencyHist.WithLabelValues(stage, backend, strconv.FormatBool(success)).Observe(duration.Seconds())
}

func (p *Provider) RecordRun(kind, status string) {
	if p == nil || p.runCounter == nil {
		return
	}
	p.runCounter.WithLabelValues(kind, status).Inc()
}

func (p *Provider) RecordAdmissionRejection(backend string) {
	if p == nil || p.rejectionCounter == nil {
		return
	}
	p.rejectionCounter.WithLabelValues(backend).Inc()
}

func (p *Provider) RecordTokens(promptTokens, completionTokens int64) {
	if p == nil || p.tokenCounter == nil {
		return
	}
	if promptTokens > 0 {
		p.tokenCounter.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		p.tokenCounter.WithLabelValues("completion").Add(float64(completionTokens))
	}
}
