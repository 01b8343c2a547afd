package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// quietPaths are probe and scrape endpoints hit every few seconds by
// Kubernetes and Prometheus. Tracing and logging them is pure noise.
var quietPaths = map[string]bool{
	"/metrics": true,
	"/healthz": true,
	"/readyz":  true,
}

// responseRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RouteLabel collapses a request path onto its route pattern so span names
// and metric attributes stay bounded by the API surface rather than by agent,
// document, and conversation ids. Under /api, collection and id segments
// alternate (/api/agents/agent_123/documents/doc_9); everything outside /api
// (/media, /telephony/voice, probes) is literal.
func RouteLabel(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}
	seg := strings.Split(trimmed, "/")
	if seg[0] != "api" {
		return path
	}
	for i := 2; i < len(seg); i += 2 {
		seg[i] = "{id}"
	}
	return "/" + strings.Join(seg, "/")
}

// Middleware wraps the VoxRelay HTTP surface (REST CRUD, TwiML callbacks, the
// media WebSocket mount) with observability:
//
//   - extracts W3C Trace Context from incoming headers, or starts a new trace,
//     and opens a server span named after the route pattern;
//   - echoes the trace id to the client as X-Correlation-ID;
//   - records request latency to [Metrics.HTTPRequestDuration] by method and
//     route;
//   - logs completion with status, duration, and trace ids.
//
// Probe and scrape endpoints bypass all of it.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if quietPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			route := RouteLabel(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))

			slog.LogAttrs(ctx, slog.LevelInfo, "request completed",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", rec.status),
				slog.Duration("duration", duration),
			)
		})
	}
}
