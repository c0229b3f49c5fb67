package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tbourn/devlift/internal/config"
)

func keepGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	prop := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func enabled(name string) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    true,
		Endpoint:    "localhost:4317",
		ServiceName: name,
		SampleRatio: 1.0,
	}
}

func TestSetup_DisabledLeavesGlobals(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), config.OTELConfig{Enabled: false}, "v0")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatalf("provider replaced while disabled")
	}
}

func TestSetup_InstallsProviderAndPropagator(t *testing.T) {
	keepGlobals(t)

	shutdown, err := Setup(context.Background(), enabled("devlift-test"), "v1.2.3")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("expected *sdktrace.TracerProvider, got %T", otel.GetTracerProvider())
	}

	ctx, span := otel.Tracer("test").Start(context.Background(), "generate")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()
	if !strings.HasPrefix(carrier.Get("traceparent"), "00-") {
		t.Fatalf("traceparent not injected: %v", carrier)
	}
}

func TestSetup_TLSBranch(t *testing.T) {
	keepGlobals(t)
	cfg := enabled("devlift-tls")
	cfg.Insecure = false

	shutdown, err := Setup(context.Background(), cfg, "v1")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}

func TestSetup_ExporterErrorKeepsGlobals(t *testing.T) {
	keepGlobals(t)
	orig := newExporter
	t.Cleanup(func() { newExporter = orig })
	newExporter = func(context.Context, ...otlptracegrpc.Option) (*otlptrace.Exporter, error) {
		return nil, errors.New("dial refused")
	}

	before := otel.GetTracerProvider()
	if _, err := Setup(context.Background(), enabled("x"), "v0"); err == nil || !strings.Contains(err.Error(), "otlp exporter") {
		t.Fatalf("want wrapped exporter error, got %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatalf("provider changed on failure")
	}
}

func TestSetup_ResourceErrorKeepsGlobals(t *testing.T) {
	keepGlobals(t)
	orig := newResource
	t.Cleanup(func() { newResource = orig })
	newResource = func(context.Context, string, string) (*resource.Resource, error) {
		return nil, errors.New("bad attrs")
	}

	before := otel.GetTracerProvider()
	if _, err := Setup(context.Background(), enabled("x"), "v0"); err == nil || !strings.Contains(err.Error(), "otel resource") {
		t.Fatalf("want wrapped resource error, got %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatalf("provider changed on failure")
	}
}

func TestSampler_Bounds(t *testing.T) {
	cases := map[float64]string{
		1:    "AlwaysOnSampler",
		1.5:  "AlwaysOnSampler",
		0:    "AlwaysOffSampler",
		-1:   "AlwaysOffSampler",
		0.25: "TraceIDRatioBased{0.25}",
	}
	for ratio, want := range cases {
		if got := sampler(ratio).Description(); !strings.Contains(got, want) {
			t.Fatalf("sampler(%v) = %q; want it to mention %q", ratio, got, want)
		}
	}
}
