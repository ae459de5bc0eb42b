package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestProviderConfig_Sampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{ratio: 0, want: "root:AlwaysOnSampler"},
		{ratio: 1, want: "root:AlwaysOnSampler"},
		{ratio: 0.25, want: "root:TraceIDRatioBased{0.25}"},
	}
	for _, tc := range tests {
		got := ProviderConfig{SampleRatio: tc.ratio}.sampler().Description()
		if !strings.Contains(got, tc.want) {
			t.Errorf("ratio %g: sampler %q does not contain %q", tc.ratio, got, tc.want)
		}
	}
}

func TestInitProvider(t *testing.T) {
	prevTP, prevMP, prevProp := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
		otel.SetTextMapPropagator(prevProp)
	})

	reg := prometheus.NewRegistry()
	spans := tracetest.NewInMemoryExporter()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName:   "intake-test",
		TraceExporter: spans,
		Registerer:    reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	counter, err := otel.Meter("test").Int64Counter("intake.test.calls")
	if err != nil {
		t.Fatalf("Int64Counter: %v", err)
	}
	counter.Add(context.Background(), 2)
	_, span := StartSpan(context.Background(), "sampled-turn")
	span.End()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "intake_test_calls") {
			found = true
		}
	}
	if !found {
		t.Error("counter not exposed on the registry")
	}

	if fields := otel.GetTextMapPropagator().Fields(); len(fields) == 0 || fields[0] != "traceparent" {
		t.Errorf("propagator fields: got %v, want traceparent first", fields)
	}

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	got := spans.GetSpans()
	if len(got) != 1 || got[0].Name != "sampled-turn" {
		t.Fatalf("exported spans: got %d, want the sampled-turn span", len(got))
	}
	var service string
	for _, kv := range got[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	if service != "intake-test" {
		t.Errorf("service.name: got %q, want intake-test", service)
	}
}
