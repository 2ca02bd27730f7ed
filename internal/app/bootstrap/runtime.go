// internal/app/bootstrap/runtime.go
package bootstrap

import (
	"fmt"

	"github.com/dalemusser/climatrak/internal/app/store/discoveryindex"
	mirrorstore "github.com/dalemusser/climatrak/internal/app/store/mirror"
	"github.com/dalemusser/climatrak/internal/app/store/replay"
	tenantstore "github.com/dalemusser/climatrak/internal/app/store/tenants"
	"github.com/dalemusser/climatrak/internal/app/system/auditlog"
	"github.com/dalemusser/climatrak/internal/app/system/auth"
	"github.com/dalemusser/climatrak/internal/app/system/authmetrics"
	"github.com/dalemusser/climatrak/internal/app/system/credentials"
	"github.com/dalemusser/climatrak/internal/app/system/devicesig"
	"github.com/dalemusser/climatrak/internal/app/system/discovery"
	"github.com/dalemusser/climatrak/internal/app/system/emailhash"
	"github.com/dalemusser/climatrak/internal/app/system/membersync"
	"github.com/dalemusser/climatrak/internal/app/system/ratelimit"
	"github.com/dalemusser/climatrak/internal/app/system/tenanthint"
	"github.com/dalemusser/climatrak/internal/app/system/tokens"
	"github.com/dalemusser/climatrak/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Runtime holds the long-lived services built once at startup.
type Runtime struct {
	Metrics     *authmetrics.Metrics
	Audit       *auditlog.Logger
	Hasher      *emailhash.Hasher
	Tokens      *tokens.Issuer
	Sessions    *auth.SessionAuthenticator
	Credentials *credentials.Authenticator
	Tenants     *tenantstore.Registry
	Mirror      *mirrorstore.Store
	Discovery   *discovery.Service
	MemberSync  *membersync.Service
	Replays     *replay.Store
	Verifier    *devicesig.Verifier
	Hints       *tenanthint.Codec
	Cookies     auth.CookieConfig

	Proxies          *ratelimit.Proxies
	LoginLimiter     *ratelimit.LoginLimiter
	DiscoveryLimiter *ratelimit.Limiter

	syncWorker   *workers.MemberSync
	replayWorker *workers.ReplayCleanup
}

func (rt *Runtime) build(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	public := deps.Parts.Public()
	secure := coreCfg.Env == "prod"

	hasher, err := emailhash.New([]byte(appCfg.EmailHashKey))
	if err != nil {
		return fmt.Errorf("email hash: %w", err)
	}
	issuer, err := tokens.NewIssuer(tokens.Config{
		Secret:     []byte(appCfg.JWTSecret),
		Issuer:     appCfg.JWTIssuer,
		AccessTTL:  appCfg.AccessTokenTTL,
		RefreshTTL: appCfg.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	creds, err := credentials.New(credentials.PartitionUsers{Parts: deps.Parts}, appCfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}
	hints, err := tenanthint.New([]byte(appCfg.TenantHintKey), appCfg.CookieDomain, secure)
	if err != nil {
		return fmt.Errorf("tenant hint: %w", err)
	}

	rt.Metrics = authmetrics.New(nil)
	rt.Audit = auditlog.New(deps.Parts, logger, auditlog.Config{
		Auth:     appCfg.AuditLogAuth,
		Device:   appCfg.AuditLogDevice,
		Security: appCfg.AuditLogSecurity,
		Admin:    appCfg.AuditLogAdmin,
	})
	rt.Hasher = hasher
	rt.Tokens = issuer
	rt.Sessions = auth.NewSessionAuthenticator(issuer, auth.PartitionUsers{Parts: deps.Parts}, appCfg.AcceptLegacyTokens)
	rt.Credentials = creds
	rt.Tenants = tenantstore.NewRegistry(tenantstore.New(public), appCfg.TenantCacheTTL)
	rt.Mirror = mirrorstore.New(public)
	rt.Discovery = discovery.New(rt.Mirror, discoveryindex.New(public), rt.Tenants, hasher, logger)
	rt.MemberSync = membersync.New(deps.Parts, tenantstore.New(public), hasher, rt.Metrics, logger)
	rt.Replays = replay.New(public)
	rt.Verifier = devicesig.NewVerifier(devicesig.PartitionDevices{Parts: deps.Parts}, rt.Replays, appCfg.DeviceSignatureSkew)
	rt.Hints = hints
	rt.Cookies = auth.CookieConfig{Domain: appCfg.CookieDomain, Secure: secure}

	proxies, err := ratelimit.ParseProxies(appCfg.TrustedProxies)
	if err != nil {
		return err
	}
	rt.Proxies = proxies
	rt.LoginLimiter = ratelimit.NewLoginLimiter(
		appCfg.LoginRateLimit*4, appCfg.LoginRateWindow,
		appCfg.LoginRateLimit, appCfg.LoginRateWindow)
	rt.DiscoveryLimiter = ratelimit.New(appCfg.DiscoveryRateLimit, appCfg.DiscoveryRateWindow)

	if appCfg.MemberSyncInterval > 0 {
		rt.syncWorker = workers.NewMemberSync(rt.MemberSync, logger, appCfg.MemberSyncInterval)
	}
	if appCfg.ReplayCleanupInterval > 0 {
		rt.replayWorker = workers.NewReplayCleanup(rt.Replays, logger, appCfg.ReplayCleanupInterval)
	}
	return nil
}

func (rt *Runtime) start() {
	if rt.syncWorker != nil {
		rt.syncWorker.Start()
	}
	if rt.replayWorker != nil {
		rt.replayWorker.Start()
	}
}

func (rt *Runtime) stop() {
	if rt.syncWorker != nil {
		rt.syncWorker.Stop()
		rt.syncWorker = nil
	}
	if rt.replayWorker != nil {
		rt.replayWorker.Stop()
		rt.replayWorker = nil
	}
	if rt.LoginLimiter != nil {
		rt.LoginLimiter.Stop()
	}
	if rt.DiscoveryLimiter != nil {
		rt.DiscoveryLimiter.Stop()
	}
}
