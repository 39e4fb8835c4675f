// Package router wires the story API routes and applies the middleware chain
// (RequestID → CORS → Metrics → Timeout).
package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/api/handler"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/ratelimit"
)

// New builds the HTTP handler.
//
// Route table:
//
//	GET    /api/v1/records/{id}/stories           → current view
//	POST   /api/v1/records/{id}/stories/refresh   → start a refresh cycle (rate limited per record)
//	PUT    /api/v1/records/{id}/stories           → inject stories
//	POST   /api/v1/normalize                      → normalize a raw payload
//	GET    /health/live, /health/ready            → probes
//
// Options holds the optional parts of the chain. A nil Metrics skips request
// metrics; a nil RefreshLimiter leaves refreshes unlimited.
type Options struct {
	Metrics        *metrics.Metrics
	Timeout        time.Duration
	RefreshLimiter *ratelimit.Limiter
}

func New(h *handler.Handler, checker *health.Checker, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("GET /api/v1/records/{id}/stories", h.GetStories)
	var refresh http.Handler = http.HandlerFunc(h.Refresh)
	if opts.RefreshLimiter != nil {
		refresh = pkgmw.RateLimit(opts.RefreshLimiter, func(r *http.Request) string {
			return r.PathValue("id")
		})(refresh)
	}
	mux.Handle("POST /api/v1/records/{id}/stories/refresh", refresh)
	mux.HandleFunc("PUT /api/v1/records/{id}/stories", h.InjectStories)
	mux.HandleFunc("POST /api/v1/normalize", h.Normalize)

	// Applied inside-out.
	var chain http.Handler = mux
	if opts.Timeout > 0 {
		chain = pkgmw.Timeout(opts.Timeout)(chain)
	}
	if opts.Metrics != nil {
		chain = pkgmw.Metrics(opts.Metrics)(chain)
	}
	chain = pkgmw.CORS(pkgmw.DefaultCORSConfig())(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
