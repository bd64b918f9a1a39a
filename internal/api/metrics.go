package api

import (
	"net/http"
	"time"

	"github.com/org/oncesecret/internal/metrics"
)

// metricsMiddleware records request metrics labelled by route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := newResponseRecorder(w)
		next.ServeHTTP(rr, r)

		metrics.ObserveHTTPRequest(r.Method, routePattern(r), rr.statusCode, time.Since(start))
	})
}
