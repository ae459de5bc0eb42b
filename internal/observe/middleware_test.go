package observe

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type harness struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

// newHarness installs an in-memory tracer globally and returns metrics backed
// by a manual reader. Tests using it must not run in parallel.
func newHarness(t *testing.T) harness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	return harness{metrics: m, reader: reader, spans: exp}
}

// intakeMux mirrors the shape of the server's routes.
func intakeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (h harness) durationPoints(t *testing.T) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "intake.http.request.duration")
	if met == nil {
		t.Fatal("intake.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data: got %T, want histogram", met.Data)
	}
	return hist.DataPoints
}

func attr(set attribute.Set, key string) string {
	v, ok := set.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.Emit()
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	h := newHarness(t)
	srv := Middleware(h.metrics)(intakeMux())

	for _, id := range []string{"a1", "b2", "missing"} {
		srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/sessions/"+id, nil))
	}

	var total uint64
	for _, dp := range h.durationPoints(t) {
		if got := attr(dp.Attributes, "route"); got != "/sessions/{id}" {
			t.Errorf("route attribute: got %q, want /sessions/{id}", got)
		}
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("recorded requests: got %d, want 3", total)
	}

	spans := h.spans.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("spans: got %d, want 3", len(spans))
	}
	if spans[0].Name != "GET /sessions/{id}" {
		t.Errorf("span name: got %q, want %q", spans[0].Name, "GET /sessions/{id}")
	}
}

func TestMiddleware_UnmatchedPath(t *testing.T) {
	h := newHarness(t)
	srv := Middleware(h.metrics)(intakeMux())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/wp-admin/install.php", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rec.Code)
	}

	dps := h.durationPoints(t)
	if len(dps) != 1 || attr(dps[0].Attributes, "route") != unmatchedRoute {
		t.Errorf("route attribute: got %+v, want %q", dps, unmatchedRoute)
	}
	if got := h.spans.GetSpans()[0].Name; got != "GET" {
		t.Errorf("span name: got %q, want GET", got)
	}
}

func TestMiddleware_StatusOnSpanAndMetric(t *testing.T) {
	h := newHarness(t)
	srv := Middleware(h.metrics)(intakeMux())
	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/sessions/missing", nil))

	var found bool
	for _, a := range h.spans.GetSpans()[0].Attributes {
		if a.Key == "http.response.status_code" && a.Value.AsInt64() == http.StatusNotFound {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code=404")
	}
	if got := attr(h.durationPoints(t)[0].Attributes, "status"); got != "404" {
		t.Errorf("status attribute: got %q, want 404", got)
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{name: "incoming traceparent", traceparent: "00-" + traceID + "-00f067aa0ba902b7-01", want: traceID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			var seen string
			srv := Middleware(h.metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/ws/call", nil)
			if tc.traceparent != "" {
				req.Header.Set("traceparent", tc.traceparent)
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			if len(seen) != 32 {
				t.Fatalf("correlation ID: got %q, want 32 hex chars", seen)
			}
			if tc.want != "" && seen != tc.want {
				t.Errorf("correlation ID: got %q, want %q", seen, tc.want)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID: got %q, want %q", got, seen)
			}
		})
	}
}

func TestMiddleware_QuietRoutes(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	srv := Middleware(h.metrics, WithQuietRoutes("/healthz"))(intakeMux())
	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))
	if strings.Contains(buf.String(), "/healthz") {
		t.Errorf("quiet route logged at info: %s", buf.String())
	}

	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/sessions/a1", nil))
	if !strings.Contains(buf.String(), "route=/sessions/{id}") {
		t.Errorf("regular route not logged: %s", buf.String())
	}
}

// hijackWriter is a ResponseWriter that supports hijacking.
type hijackWriter struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestMiddleware_Hijack(t *testing.T) {
	h := newHarness(t)

	var hijackErr error
	srv := Middleware(h.metrics)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _, hijackErr = http.NewResponseController(w).Hijack()
	}))

	w := &hijackWriter{ResponseRecorder: httptest.NewRecorder()}
	srv.ServeHTTP(w, httptest.NewRequest("GET", "/ws/call", nil))
	if hijackErr != nil {
		t.Fatalf("Hijack: %v", hijackErr)
	}
	if !w.hijacked {
		t.Error("underlying writer was not hijacked")
	}
	if got := attr(h.durationPoints(t)[0].Attributes, "status"); got != "101" {
		t.Errorf("status attribute after upgrade: got %q, want 101", got)
	}

	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/ws/call", nil))
	if hijackErr == nil {
		t.Error("non-hijackable writer: got nil error")
	}
}
