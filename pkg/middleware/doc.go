// Package middleware provides net/http middleware for the stub backend.
//
// This package includes:
//   - OpenTelemetry tracing middleware
//   - Prometheus request and push-channel metrics
//
// # OpenTelemetry Middleware
//
// The OpenTelemetry middleware opens a server span for every request. Once the
// router has matched, the span is renamed after the route pattern so that
// /posts/p1/like and /posts/p2/like share one name.
//
//	r := chi.NewRouter()
//	r.Use(middleware.OpenTelemetry(
//	    middleware.WithTracerName("shotonme/stub"),
//	    middleware.WithUserResolver(viewerFromRequest),
//	))
//
// The tracer comes from the global provider; configure it with
// otel.SetTracerProvider before serving.
//
// # Prometheus Metrics
//
// NewMetrics registers the collectors once per registry:
//
//	m := middleware.NewMetrics(middleware.WithNamespace("shotonme"))
//	r.Use(m.Middleware)
//	http.Handle("/metrics", promhttp.Handler())
//
// Collected metrics:
//   - <ns>_stub_requests_total: requests by route, method and status class
//   - <ns>_stub_request_duration_seconds: request latency by route
//   - <ns>_stub_request_errors_total: failed requests by route and error type
//   - <ns>_stub_push_connections: open push connections
//   - <ns>_stub_push_published_total: events published by name
//
// Every method on a nil *Metrics is a no-op.
package middleware
