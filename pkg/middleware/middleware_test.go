package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func newRouter(m *Metrics, opts ...OTelOption) *chi.Mux {
	r := chi.NewRouter()
	r.Use(OpenTelemetry(opts...))
	r.Use(m.Middleware)
	r.Get("/posts/{postID}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chi.URLParam(r, "postID")))
	})
	r.Post("/wallet/send", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return r
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg), WithNamespace("test"))
	r := newRouter(m)

	for _, path := range []string{"/posts/p1", "/posts/p2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/wallet/send", nil))

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"route success", metricCounterValue(t, m.requestsTotal.WithLabelValues("/posts/{postID}", "GET", "2xx")), 2},
		{"payment required", metricCounterValue(t, m.requestsTotal.WithLabelValues("/wallet/send", "POST", "4xx")), 1},
		{"error type", metricCounterValue(t, m.requestErrors.WithLabelValues("/wallet/send", "insufficient_balance")), 1},
		{"no error on success", metricCounterValue(t, m.requestErrors.WithLabelValues("/posts/{postID}", "client")), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
	if n := metricHistogramCount(t, m.requestDuration.WithLabelValues("/posts/{postID}")); n != 2 {
		t.Errorf("duration samples = %d, want 2", n)
	}
}

func TestPushMetrics(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	m.PushConnected()
	m.PushConnected()
	m.PushDisconnected()
	m.PushPublished("new-post")

	if v := metricGaugeValue(t, m.pushConnections); v != 1 {
		t.Errorf("connections = %v, want 1", v)
	}
	if v := metricCounterValue(t, m.pushPublished.WithLabelValues("new-post")); v != 1 {
		t.Errorf("published = %v, want 1", v)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.PushConnected()
	m.PushDisconnected()
	m.PushPublished("x")

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestOpenTelemetryPassesThrough(t *testing.T) {
	var resolved, filtered int
	r := newRouter(nil,
		WithUserResolver(func(*http.Request) string { resolved++; return "u1" }),
		WithRequestFilter(func(r *http.Request) bool {
			if r.URL.Path == "/boom" {
				filtered++
				return false
			}
			return true
		}),
	)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/posts/p7", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "p7" {
		t.Errorf("response = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if resolved != 1 || filtered != 1 {
		t.Errorf("resolved = %d, filtered = %d", resolved, filtered)
	}
}

func TestCategorizeStatus(t *testing.T) {
	tests := map[int]string{
		400: "validation",
		401: "unauthorized",
		402: "insufficient_balance",
		404: "not_found",
		409: "conflict",
		418: "client",
		503: "internal",
	}
	for code, want := range tests {
		if got := categorizeStatus(code); got != want {
			t.Errorf("categorizeStatus(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestFormatSpanName(t *testing.T) {
	if got := formatSpanName("GET", ""); got != "GET /" {
		t.Errorf("got %q", got)
	}
	if got := formatSpanName("POST", "/posts/{postID}/like"); got != "POST /posts/{postID}/like" {
		t.Errorf("got %q", got)
	}
}
