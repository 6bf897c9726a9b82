package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/arovia/internal/authmw"
	"github.com/linnemanlabs/arovia/internal/postgres"
	"github.com/linnemanlabs/arovia/internal/triageapi"
)

// newRouter builds the main listener's chi router. Routes added by public
// are served without authentication; the API requires one of tokens when
// any are configured.
func newRouter(api *triageapi.API, tokens []string, public func(chi.Router)) *chi.Mux {
	r := chi.NewRouter()

	// Compress text responses (JSON plus rendered referral notes)
	r.Use(middleware.Compress(5, "application/json", "text/plain"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Body limits are set per route group in triageapi, voice uploads need more than JSON

	if public != nil {
		public(r)
	}

	r.Group(func(r chi.Router) {
		if len(tokens) > 0 {
			r.Use(authmw.BearerTokens(tokens...))
		}
		api.RegisterRoutes(r)
	})
	return r
}

// registerDBMetrics registers the query duration histogram on reg and
// points the postgres query observer at it.
func registerDBMetrics(reg prometheus.Registerer) *prometheus.HistogramVec {
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arovia_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	reg.MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))
	return dbQueryDuration
}

// instrument wraps the router in the listener's outer middleware. Order
// matters: the outermost wrapper sees the raw request first and the
// response last, inner ones see the context the outer ones built.
func instrument(r http.Handler, L log.Logger, metricsMW func(http.Handler) http.Handler, clientIP httpmw.ClientIPOptions) http.Handler {
	// request-scoped logger, inner so it sees trace ids and the chi route
	h := httpmw.WithLogger(L)(r)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(req *http.Request) bool {
			return !isProbe(req.URL.Path)
		}),
		// AnnotateHTTPRoute renames the span to the route pattern later
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)

	h = metricsMW(h)

	// resolved client ip is used by everything downstream
	h = httpmw.ClientIPWithOptions(clientIP)(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)

	// outermost so every response carries them, panics included
	return httpmw.SecurityHeaders(h)
}

func isProbe(path string) bool {
	return path == "/-/healthy" || path == "/-/ready"
}

// drain waits d for in-flight requests and load balancer deregistration.
// A second interrupt cuts the wait short.
func drain(L log.Logger, d time.Duration) {
	ctx := context.Background()
	L.Info(ctx, "sleeping for drain period", "drain_seconds", d.Seconds())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	select {
	case <-time.After(d):
		L.Info(ctx, "drain period complete")
	case <-forceCh:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

type stopFn struct {
	name string
	fn   func(context.Context) error
}

// shutdownComponents stops each component in order, giving each an equal
// slice of budget. Nil stop functions are skipped.
func shutdownComponents(L log.Logger, budget time.Duration, stopFns []stopFn) {
	if len(stopFns) == 0 {
		return
	}
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		if s.fn == nil {
			continue
		}
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}
}
