package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"reserveledger/core/state"
	"reserveledger/core/state/layout"
	"reserveledger/core/types"
	"reserveledger/gateway/middleware"
	"reserveledger/native/reserve"
)

// LedgerReader is the read side of the reserve engine served by the gateway.
type LedgerReader interface {
	LedgerState() (*layout.LedgerState, error)
	LedgerLayout() (layout.Version, error)
	UserProfile(owner types.Address) (*reserve.UserProfile, error)
	Redemption(requester types.Address, id uint64) (*reserve.RedemptionRequest, error)
	AuditEntries(from uint64, limit int) ([]*state.AuditEntry, error)
}

// Rate limiter keys, one bucket per route group.
const (
	LimitLedger = "ledger"
	LimitAudit  = "audit"
)

type Config struct {
	Ledger        LedgerReader
	Stream        *Hub
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

// New assembles the read-only gateway.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := cfg.Observability
	if obs == nil {
		obs = middleware.NewObservability(middleware.ObservabilityConfig{}, logger)
	}
	api := &handlers{ledger: cfg.Ledger, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	r.With(obs.Middleware("healthz")).Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(g chi.Router) {
			if cfg.RateLimiter != nil {
				g.Use(cfg.RateLimiter.Middleware(LimitLedger))
			}
			g.With(obs.Middleware("ledger")).Get("/ledger", api.ledgerState)
			g.With(obs.Middleware("profile")).Get("/profiles/{address}", api.profile)
			g.With(obs.Middleware("redemption")).Get("/redemptions/{requester}/{id}", api.redemption)
		})
		v1.Group(func(g chi.Router) {
			if cfg.RateLimiter != nil {
				g.Use(cfg.RateLimiter.Middleware(LimitAudit))
			}
			g.With(obs.Middleware("audit")).Get("/audit", api.audit)
			if cfg.Stream != nil {
				g.With(obs.Middleware("audit_stream")).Get("/audit/stream", cfg.Stream.ServeHTTP)
			}
		})
	})

	return otelhttp.NewHandler(r, "reserve-gateway")
}
