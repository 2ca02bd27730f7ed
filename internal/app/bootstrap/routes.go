// internal/app/bootstrap/routes.go
package bootstrap

import (
	"errors"
	"net/http"

	healthfeature "github.com/dalemusser/climatrak/internal/app/features/health"
	ingestfeature "github.com/dalemusser/climatrak/internal/app/features/ingest"
	loginfeature "github.com/dalemusser/climatrak/internal/app/features/login"
	logoutfeature "github.com/dalemusser/climatrak/internal/app/features/logout"
	mefeature "github.com/dalemusser/climatrak/internal/app/features/me"
	discoverfeature "github.com/dalemusser/climatrak/internal/app/features/tenantdiscovery"
	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"github.com/dalemusser/climatrak/internal/app/system/auth"
	"github.com/dalemusser/climatrak/internal/app/system/ratelimit"
	"github.com/dalemusser/climatrak/internal/app/system/tenantctx"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed.
//
// /health and /metrics answer on any host. Everything under /api runs behind,
// in order: tenant resolution (host or override header binds a partition),
// token authentication (claim checked against that partition) and override
// enforcement (an overridden tenant needs an active membership).
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	rt := deps.Runtime
	if rt == nil || rt.Tokens == nil {
		return nil, errors.New("build handler: runtime not started")
	}

	resolver := tenantctx.New(rt.Tenants, tenantctx.Config{
		PublicDomains: appCfg.PublicDomains,
		AllowOverride: appCfg.AllowTenantHeader,
		Header:        appCfg.TenantHeader,
	}, logger)

	chain := auth.NewChain(rt.Sessions, appCfg.AllowHeaderTokens)
	onAuthFail := func(r *http.Request, err error) {
		code := apierr.CodeOf(err)
		if code == apierr.CodeInternal {
			return
		}
		rt.Metrics.AuthFailure(code)
		rt.Audit.TokenRejected(r.Context(), r, tenantctx.SchemaOf(r), code)
	}

	enforcer := tenantctx.NewEnforcer(auth.CurrentEmail, rt.Mirror, rt.Hasher,
		func(r *http.Request, info *tenantctx.Info, emailHash string) {
			rt.Metrics.AuthFailure(apierr.CodeNoTenantMembership)
			rt.Audit.TenantOverrideDenied(r.Context(), r, info.Schema, emailHash)
		}, logger)

	r := chi.NewRouter()
	r.Use(ratelimit.RealIP(rt.Proxies))

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))
	r.Handle("/metrics", rt.Metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(resolver.Middleware)
		api.Use(auth.Middleware(chain, onAuthFail))
		api.Use(enforcer.Middleware)

		loginHandler := &loginfeature.Handler{
			Parts:       deps.Parts,
			Tenants:     rt.Tenants,
			Credentials: rt.Credentials,
			Tokens:      rt.Tokens,
			Sessions:    rt.Sessions,
			Hasher:      rt.Hasher,
			Limiter:     rt.LoginLimiter,
			Hints:       rt.Hints,
			Cookies:     rt.Cookies,
			AuditLog:    rt.Audit,
			Metrics:     rt.Metrics,
			Log:         logger,
		}
		api.Mount("/auth/login", loginfeature.Routes(loginHandler))
		api.Mount("/auth/refresh", loginfeature.RefreshRoutes(loginHandler))

		logoutHandler := logoutfeature.NewHandler(rt.Cookies, rt.Audit, logger)
		api.Mount("/auth/logout", logoutfeature.Routes(logoutHandler))

		meHandler := mefeature.NewHandler(logger)
		api.Mount("/auth/me", mefeature.Routes(meHandler))

		discoverHandler := discoverfeature.NewHandler(rt.Discovery, rt.Hints, rt.Audit, rt.Metrics, logger)
		api.Mount("/auth/discover-tenant", discoverfeature.Routes(discoverHandler, rt.DiscoveryLimiter))

		ingestHandler := ingestfeature.NewHandler(nil, rt.Audit, rt.Metrics, logger)
		api.Mount("/ingest", ingestfeature.Routes(ingestHandler, rt.Verifier, appCfg.MaxIngestBytes))
	})

	return r, nil
}
