package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestServiceName(t *testing.T) {
	tests := map[string]string{
		"":        "paneld",
		"console": "paneld-console",
		"mqtt":    "paneld-mqtt",
		"upload":  "paneld-upload",
	}

	for daemon, want := range tests {
		if got := ServiceName(daemon); got != want {
			t.Errorf("ServiceName(%q) = %q, want %q", daemon, got, want)
		}
	}
}

func TestTelemetryConfigFromEnv(t *testing.T) {
	tests := []struct {
		name        string
		enabled     string
		site        string
		ratio       string
		wantEnabled bool
		wantSite    string
		wantRatio   float64
		wantErr     bool
	}{
		{name: "unset", wantSite: DefaultSite, wantRatio: 1},
		{name: "enabled", enabled: "true", wantEnabled: true, wantSite: DefaultSite, wantRatio: 1},
		{name: "enabled on", enabled: " ON ", wantEnabled: true, wantSite: DefaultSite, wantRatio: 1},
		{name: "not enabled", enabled: "no", wantSite: DefaultSite, wantRatio: 1},
		{name: "site", enabled: "1", site: "bench", wantEnabled: true, wantSite: "bench", wantRatio: 1},
		{name: "sampled", ratio: "0.25", wantSite: DefaultSite, wantRatio: 0.25},
		{name: "ratio above one", ratio: "2", wantErr: true},
		{name: "ratio zero", ratio: "0", wantErr: true},
		{name: "ratio garbage", ratio: "half", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvTelemetryEnabled, tt.enabled)
			t.Setenv(EnvTelemetrySite, tt.site)
			t.Setenv(EnvTelemetrySampleRatio, tt.ratio)
			t.Setenv(EnvTelemetryEndpoint, "collector.example.com:4318")

			cfg, err := TelemetryConfigFromEnv("mqtt", "1.4.0", "abc123")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}

				return
			}

			if err != nil {
				t.Fatalf("TelemetryConfigFromEnv() error = %v", err)
			}

			if cfg.Enabled != tt.wantEnabled || cfg.Site != tt.wantSite || cfg.SampleRatio != tt.wantRatio {
				t.Errorf("config = %+v", cfg)
			}

			if cfg.Daemon != "mqtt" || cfg.Endpoint != "collector.example.com:4318" {
				t.Errorf("daemon/endpoint = %q/%q", cfg.Daemon, cfg.Endpoint)
			}
		})
	}
}

func TestTelemetryResource(t *testing.T) {
	res, err := telemetryResource(&TelemetryConfig{
		Daemon:  "upload",
		Site:    "bench",
		Version: "1.4.0",
		Commit:  "abc123",
	})
	if err != nil {
		t.Fatalf("telemetryResource() error = %v", err)
	}

	want := map[attribute.Key]string{
		"service.name":           "paneld-upload",
		"service.namespace":      "paneld",
		"service.version":        "1.4.0",
		"deployment.environment": "bench",
		"vcs.revision":           "abc123",
	}

	for key, value := range want {
		got, ok := res.Set().Value(key)
		if !ok || got.AsString() != value {
			t.Errorf("%s = %q (present %v), want %q", key, got.AsString(), ok, value)
		}
	}
}

func TestPanelIDStampedOnLaterSpans(t *testing.T) {
	t.Cleanup(func() { SetPanelID("") })

	SetPanelID("")

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(panelIDProcessor{}),
		sdktrace.WithSpanProcessor(recorder),
	)

	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	tracer := provider.Tracer("paneld/test")

	_, before := tracer.Start(context.Background(), "console.acquire_identity")
	before.End()

	SetPanelID("10.0.0.5")

	_, after := tracer.Start(context.Background(), "uploader.batch")
	after.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}

	panelOf := func(s sdktrace.ReadOnlySpan) string {
		for _, kv := range s.Attributes() {
			if kv.Key == AttrPanelID {
				return kv.Value.AsString()
			}
		}

		return ""
	}

	if got := panelOf(spans[0]); got != "" {
		t.Errorf("span before identity has panel.id %q", got)
	}

	if got := panelOf(spans[1]); got != "10.0.0.5" {
		t.Errorf("span after identity has panel.id %q, want 10.0.0.5", got)
	}
}

func TestSetupTelemetry_DisabledKeepsProvider(t *testing.T) {
	before := otel.GetTracerProvider()

	for _, cfg := range []*TelemetryConfig{nil, {Enabled: false, Daemon: "console"}} {
		shutdown, err := SetupTelemetry(context.Background(), cfg)
		if err != nil {
			t.Fatalf("SetupTelemetry(%+v) error = %v", cfg, err)
		}

		if otel.GetTracerProvider() != before {
			t.Error("disabled telemetry replaced the tracer provider")
		}

		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown error = %v", err)
		}
	}
}

func TestSetupTelemetry_EnabledInstallsAndRestores(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := SetupTelemetry(context.Background(), &TelemetryConfig{
		Enabled:  true,
		Daemon:   "console",
		Endpoint: "http://127.0.0.1:4318",
		Site:     "test",
	})
	if err != nil {
		t.Fatalf("SetupTelemetry() error = %v", err)
	}

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("provider = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}

	// Nothing was exported, so flushing succeeds without a collector.
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}

	if otel.GetTracerProvider() != before {
		t.Error("tracer provider not restored after shutdown")
	}
}
