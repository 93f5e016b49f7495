package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Environment variables read by TelemetryConfigFromEnv.
const (
	EnvTelemetryEnabled     = "PANELD_OTEL_ENABLED"
	EnvTelemetryEndpoint    = "PANELD_OTEL_ENDPOINT"
	EnvTelemetrySite        = "PANELD_OTEL_SITE"
	EnvTelemetrySampleRatio = "PANELD_OTEL_SAMPLE_RATIO"
)

// DefaultSite is the deployment.environment of a panel in the field.
const DefaultSite = "field"

// AttrPanelID is stamped on every span once the panel identity is known.
const AttrPanelID = attribute.Key("panel.id")

// TelemetryConfig selects where a paneld process sends its spans.
type TelemetryConfig struct {
	Enabled bool
	// Daemon is console, mqtt, or upload; empty for one-shot commands.
	Daemon string
	// Endpoint is an OTLP/HTTP collector as host:port or a full URL. Empty
	// leaves the OTEL_EXPORTER_OTLP_* variables in charge.
	Endpoint string
	// Site becomes deployment.environment.
	Site string
	// SampleRatio is the share of root traces kept, in (0, 1].
	SampleRatio float64
	Version     string
	Commit      string
}

// TelemetryShutdown flushes pending spans and restores the previous globals.
type TelemetryShutdown func(ctx context.Context) error

// TelemetryConfigFromEnv builds the tracing config of a paneld process from
// PANELD_OTEL_* variables.
func TelemetryConfigFromEnv(daemon, version, commit string) (*TelemetryConfig, error) {
	cfg := &TelemetryConfig{
		Enabled:     envBool(EnvTelemetryEnabled),
		Daemon:      daemon,
		Endpoint:    strings.TrimSpace(os.Getenv(EnvTelemetryEndpoint)),
		Site:        strings.TrimSpace(os.Getenv(EnvTelemetrySite)),
		SampleRatio: 1,
		Version:     version,
		Commit:      commit,
	}

	if cfg.Site == "" {
		cfg.Site = DefaultSite
	}

	if raw := strings.TrimSpace(os.Getenv(EnvTelemetrySampleRatio)); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil || ratio <= 0 || ratio > 1 {
			return cfg, fmt.Errorf("%s=%q: want a number in (0, 1]", EnvTelemetrySampleRatio, raw)
		}

		cfg.SampleRatio = ratio
	}

	return cfg, nil
}

// ServiceName is the service.name a paneld process reports.
func ServiceName(daemon string) string {
	if daemon == "" {
		return "paneld"
	}

	return "paneld-" + daemon
}

// SetupTelemetry installs an OTLP/HTTP tracer provider for this process.
// Disabled or nil configs leave the global noop provider alone.
func SetupTelemetry(ctx context.Context, cfg *TelemetryConfig) (TelemetryShutdown, error) {
	if cfg == nil || !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := telemetryResource(cfg)
	if err != nil {
		return nil, err
	}

	// Panels sit behind metered links.
	opts := []otlptracehttp.Option{otlptracehttp.WithCompression(otlptracehttp.GzipCompression)}

	switch {
	case strings.Contains(cfg.Endpoint, "://"):
		opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	case cfg.Endpoint != "":
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithSpanProcessor(panelIDProcessor{}),
		sdktrace.WithBatcher(exporter),
	)

	prevProvider := otel.GetTracerProvider()
	prevHandler := otel.GetErrorHandler()

	otel.SetTracerProvider(provider)

	// A panel without uplink fails every export; keep that out of the
	// daemon log unless debugging.
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		slog.Debug("trace export failed", slog.String("error", err.Error()))
	}))

	return func(shutdownCtx context.Context) error {
		defer func() {
			otel.SetTracerProvider(prevProvider)
			otel.SetErrorHandler(prevHandler)
		}()

		if err := provider.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("flush traces: %w", err)
		}

		return nil
	}, nil
}

func telemetryResource(cfg *TelemetryConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", ServiceName(cfg.Daemon)),
		attribute.String("service.namespace", "paneld"),
		attribute.String("service.version", cfg.Version),
		attribute.String("deployment.environment", cfg.Site),
	}

	if cfg.Commit != "" {
		attrs = append(attrs, attribute.String("vcs.revision", cfg.Commit))
	}

	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, attribute.String("host.name", host))
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	return res, nil
}

var panelID atomic.Pointer[string]

// SetPanelID records the panel identity for spans started from now on.
// The identity is only known after the console handshake, so it cannot be
// part of the resource.
func SetPanelID(id string) {
	panelID.Store(&id)
}

// PanelID returns the identity recorded by SetPanelID, or "".
func PanelID() string {
	if id := panelID.Load(); id != nil {
		return *id
	}

	return ""
}

// panelIDProcessor stamps panel.id on spans as they start.
type panelIDProcessor struct{}

func (panelIDProcessor) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	if id := PanelID(); id != "" {
		s.SetAttributes(AttrPanelID.String(id))
	}
}

func (panelIDProcessor) OnEnd(sdktrace.ReadOnlySpan) {}

func (panelIDProcessor) Shutdown(context.Context) error { return nil }

func (panelIDProcessor) ForceFlush(context.Context) error { return nil }

// Tracer returns a named tracer from the global TracerProvider.
func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
