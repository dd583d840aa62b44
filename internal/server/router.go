package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/captcha"
	"jordanella.com/pogo-fleet/internal/database"
	"jordanella.com/pogo-fleet/internal/logging"
	"jordanella.com/pogo-fleet/internal/worker"
)

// Pool is the account pool surface exposed over HTTP
type Pool interface {
	Stats() accountpool.PoolStats
	ListAccounts() []*accountpool.Account
	Get(username string) (*accountpool.Account, error)
	Unrest(ctx context.Context, username string) error
}

// Workers is the worker manager surface exposed over HTTP
type Workers interface {
	Statuses() []worker.Status
	ForceUpdate()
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// CaptchaQueue lists challenges waiting for an operator
type CaptchaQueue interface {
	Pending(ctx context.Context) ([]captcha.Challenge, error)
}

// ActivitySource returns recorded account history
type ActivitySource interface {
	GetRecentActivityForAccount(ctx context.Context, username string, limit int) ([]*database.Activity, error)
}

// Deps wires the status server. Only Pool is required.
type Deps struct {
	Pool     Pool
	Workers  Workers
	DB       Pinger
	Captcha  CaptchaQueue
	Activity ActivitySource
	Errors   *logging.ErrorReporter
	Gatherer prometheus.Gatherer
}

// NewRouter builds the status and control routes
func NewRouter(deps Deps) *chi.Mux {
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/healthz", h.health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(requestLogger())

		r.Get("/pool", h.poolStats)
		r.Get("/pool/accounts", h.listAccounts)
		r.Get("/pool/accounts/{username}", h.getAccount)
		r.Post("/pool/accounts/{username}/unrest", h.unrest)
		r.Get("/pool/accounts/{username}/activity", h.activity)

		r.Get("/workers", h.workers)
		r.Post("/workers/force-update", h.forceUpdate)

		r.Get("/errors", h.recentErrors)
		r.Get("/captcha/pending", h.pendingCaptchas)
	})

	return r
}

func requestLogger() func(http.Handler) http.Handler {
	return httplog.RequestLogger(
		slog.New(slog.NewJSONHandler(logging.Writer(), &slog.HandlerOptions{})),
		&httplog.Options{
			Level:              slog.LevelInfo,
			Schema:             httplog.Schema{ResponseStatus: "status", ResponseDuration: "duration_ms"},
			LogRequestBody:     func(*http.Request) bool { return false },
			LogResponseBody:    func(*http.Request) bool { return false },
			LogRequestHeaders:  []string{},
			LogResponseHeaders: []string{},
			LogExtraAttrs: func(req *http.Request, _ string, _ int) []slog.Attr {
				route := req.URL.Path
				if rc := chi.RouteContext(req.Context()); rc != nil && rc.RoutePattern() != "" {
					route = rc.RoutePattern()
				}
				return []slog.Attr{
					slog.String("component", "StatusServer"),
					slog.String("request_id", chimw.GetReqID(req.Context())),
					slog.String("route", route),
				}
			},
		},
	)
}

// LogRoutes prints every registered route at debug level
func LogRoutes(r chi.Router, logger *logging.Logger) {
	_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		logger.DebugWithContext("Route registered", map[string]interface{}{
			"method": method,
			"route":  route,
		})
		return nil
	})
}
