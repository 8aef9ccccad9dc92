package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/loqalabs/loqa-s2s/internal/config"
)

// Stage durations range from a cached mock call to a large-model
// transcription of a long recording.
var stageBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

type telemetry struct {
	shutdown func(context.Context) error
	metrics  http.Handler
}

func setupTelemetry(cfg config.Config, version string, logger *slog.Logger) (telemetry, error) {
	ctx := context.Background()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			semconv.ServiceVersion(version),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("loqa.asr.mode", cfg.ASR.Mode),
			attribute.String("loqa.mt.mode", cfg.MT.Mode),
			attribute.String("loqa.tts.mode", cfg.TTS.Mode),
		),
	)
	if err != nil {
		return telemetry{}, err
	}

	tracerProvider, err := initTracer(ctx, cfg.Telemetry, res, logger)
	if err != nil {
		return telemetry{}, err
	}
	otel.SetTracerProvider(tracerProvider)

	meterProvider, metricHandler, err := initMetrics(res, logger)
	if err != nil {
		return telemetry{}, err
	}
	otel.SetMeterProvider(meterProvider)

	return telemetry{
		shutdown: func(ctx context.Context) error {
			return errors.Join(meterProvider.Shutdown(ctx), tracerProvider.Shutdown(ctx))
		},
		metrics: metricHandler,
	}, nil
}

// initTracer exports spans over OTLP when an endpoint is set. Without one,
// spans are dropped unless telemetry.span_exporter asks for stderr; stdout
// carries the daemon's JSON log stream.
func initTracer(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	exporterName := cfg.SpanExporterName()

	switch exporterName {
	case "otlp":
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	case "stderr":
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	logger.Info("telemetry initialized", slog.String("span_exporter", exporterName))
	return sdktrace.NewTracerProvider(opts...), nil
}

// initMetrics serves otel instruments plus Go runtime and process
// collectors from a private registry, so repeated setups never collide.
func initMetrics(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler, error) {
	stageView := sdkmetric.NewView(
		sdkmetric.Instrument{Name: "loqa.s2s.stage.duration"},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: stageBuckets}},
	)

	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithView(stageView)), nil, nil
	}
	meter := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
		sdkmetric.WithView(stageView),
	)
	return meter, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
