// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/climatrak/internal/app/system/auditlog"
	"github.com/dalemusser/climatrak/internal/app/system/ratelimit"
	"github.com/dalemusser/climatrak/internal/app/system/tokens"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Development defaults. ValidateConfig refuses them in production.
const (
	devJWTSecret     = "dev-only-jwt-secret-change-me-0123456789ABCDEF"
	devEmailHashKey  = "dev-only-email-hash-key-change-me-0123456789"
	devTenantHintKey = "dev-only-tenant-hint-key-change-me-0123456789"
)

// MinKeyLen is the shortest accepted email hash or tenant hint key.
const MinKeyLen = 32

// appConfigKeys defines the configuration keys for ClimaTrak.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, jwt_secret, etc.
//   - Environment variables: CLIMATRAK_MONGO_URI, CLIMATRAK_JWT_SECRET, etc.
//   - Command-line flags: --mongo_uri, --jwt_secret, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "climatrak", Desc: "Shared partition database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size"},
	{Name: "partition_db_prefix", Default: "climatrak_t_", Desc: "Prefix for tenant partition database names"},

	// Session tokens
	{Name: "jwt_secret", Default: devJWTSecret, Desc: "Session token signing secret (at least 32 bytes; must be set in production)"},
	{Name: "jwt_issuer", Default: "climatrak", Desc: "Session token issuer"},
	{Name: "access_token_ttl", Default: "15m", Desc: "Access token lifetime"},
	{Name: "refresh_token_ttl", Default: "168h", Desc: "Refresh token lifetime"},
	{Name: "cookie_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "allow_header_tokens", Default: true, Desc: "Accept Authorization: Bearer tokens when no session cookie is present"},
	{Name: "accept_legacy_tokens", Default: true, Desc: "Accept tokens without a tenant claim on the shared partition"},
	{Name: "bcrypt_cost", Default: bcrypt.DefaultCost, Desc: "bcrypt cost for password hashes"},

	// Tenant resolution
	{Name: "allow_tenant_header", Default: false, Desc: "Honour the tenant override header (forced off in production)"},
	{Name: "tenant_header", Default: "X-Tenant", Desc: "Tenant override header name"},
	{Name: "public_domains", Default: "localhost", Desc: "Comma-separated hosts bound to the shared partition"},
	{Name: "tenant_cache_ttl", Default: "1m", Desc: "How long resolved tenants are cached"},
	{Name: "trusted_proxies", Default: "", Desc: "Comma-separated proxy CIDRs whose X-Forwarded-For is trusted (blank trusts none)"},

	// Keys
	{Name: "email_hash_key", Default: devEmailHashKey, Desc: "Key for hashed identifiers in the shared partition (at least 32 bytes)"},
	{Name: "tenant_hint_key", Default: devTenantHintKey, Desc: "Key signing the tenant_hint cookie (at least 32 bytes)"},

	// Devices
	{Name: "device_signature_skew", Default: "5m", Desc: "Allowed device clock skew"},
	{Name: "max_ingest_bytes", Default: 1 << 20, Desc: "Largest accepted device request body"},
	{Name: "replay_cleanup_interval", Default: "10m", Desc: "How often expired replay entries are removed"},

	// Throttling
	{Name: "discovery_rate_limit", Default: 5, Desc: "Tenant discovery requests per window per IP"},
	{Name: "discovery_rate_window", Default: "1m", Desc: "Tenant discovery throttle window"},
	{Name: "login_rate_limit", Default: 10, Desc: "Login attempts per window per identifier"},
	{Name: "login_rate_window", Default: "15m", Desc: "Login throttle window"},

	// Membership sync
	{Name: "member_sync_interval", Default: "0s", Desc: "Background membership mirror sync interval (0 disables)"},

	// Audit logging settings
	{Name: "audit_log_auth", Default: "all", Desc: "Auth event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_device", Default: "all", Desc: "Device event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_security", Default: "all", Desc: "Security event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_admin", Default: "all", Desc: "Admin event logging: 'all' (db+log), 'db', 'log', or 'off'"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, CLIMATRAK_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "CLIMATRAK", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:          appValues.String("mongo_uri"),
		MongoDatabase:     appValues.String("mongo_database"),
		MongoMaxPoolSize:  uint64(appValues.Int("mongo_max_pool_size")),
		PartitionDBPrefix: appValues.String("partition_db_prefix"),

		JWTSecret:          appValues.String("jwt_secret"),
		JWTIssuer:          appValues.String("jwt_issuer"),
		AccessTokenTTL:     appValues.Duration("access_token_ttl", 15*time.Minute),
		RefreshTokenTTL:    appValues.Duration("refresh_token_ttl", 7*24*time.Hour),
		CookieDomain:       appValues.String("cookie_domain"),
		AllowHeaderTokens:  appValues.Bool("allow_header_tokens"),
		AcceptLegacyTokens: appValues.Bool("accept_legacy_tokens"),
		BcryptCost:         appValues.Int("bcrypt_cost"),

		AllowTenantHeader: appValues.Bool("allow_tenant_header"),
		TenantHeader:      appValues.String("tenant_header"),
		PublicDomains:     splitList(appValues.String("public_domains")),
		TenantCacheTTL:    appValues.Duration("tenant_cache_ttl", time.Minute),
		TrustedProxies:    splitList(appValues.String("trusted_proxies")),

		EmailHashKey:  appValues.String("email_hash_key"),
		TenantHintKey: appValues.String("tenant_hint_key"),

		DeviceSignatureSkew:   appValues.Duration("device_signature_skew", 5*time.Minute),
		MaxIngestBytes:        int64(appValues.Int("max_ingest_bytes")),
		ReplayCleanupInterval: appValues.Duration("replay_cleanup_interval", 10*time.Minute),

		DiscoveryRateLimit:  appValues.Int("discovery_rate_limit"),
		DiscoveryRateWindow: appValues.Duration("discovery_rate_window", time.Minute),
		LoginRateLimit:      appValues.Int("login_rate_limit"),
		LoginRateWindow:     appValues.Duration("login_rate_window", 15*time.Minute),

		MemberSyncInterval: appValues.Duration("member_sync_interval", 0),

		AuditLogAuth:     appValues.String("audit_log_auth"),
		AuditLogDevice:   appValues.String("audit_log_device"),
		AuditLogSecurity: appValues.String("audit_log_security"),
		AuditLogAdmin:    appValues.String("audit_log_admin"),
	}

	applyEnvPolicy(coreCfg.Env, &appCfg, logger)
	return coreCfg, appCfg, nil
}

// applyEnvPolicy adjusts settings that depend on the environment. The tenant
// override header is a development aid and never honoured in production.
func applyEnvPolicy(env string, appCfg *AppConfig, logger *zap.Logger) {
	if env == "prod" && appCfg.AllowTenantHeader {
		logger.Warn("allow_tenant_header ignored in production")
		appCfg.AllowTenantHeader = false
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// Production refuses the development secrets and the override header.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	return validateApp(coreCfg.Env, appCfg)
}

func validateApp(env string, appCfg AppConfig) error {
	var errs []error

	if len(appCfg.JWTSecret) < tokens.MinSecretLen {
		errs = append(errs, fmt.Errorf("jwt_secret must be at least %d bytes", tokens.MinSecretLen))
	}
	if len(appCfg.EmailHashKey) < MinKeyLen {
		errs = append(errs, fmt.Errorf("email_hash_key must be at least %d bytes", MinKeyLen))
	}
	if len(appCfg.TenantHintKey) < MinKeyLen {
		errs = append(errs, fmt.Errorf("tenant_hint_key must be at least %d bytes", MinKeyLen))
	}
	if appCfg.AccessTokenTTL <= 0 || appCfg.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("access_token_ttl and refresh_token_ttl must be positive"))
	}
	if appCfg.AccessTokenTTL > appCfg.RefreshTokenTTL {
		errs = append(errs, errors.New("access_token_ttl must not exceed refresh_token_ttl"))
	}
	if appCfg.BcryptCost != 0 && (appCfg.BcryptCost < bcrypt.MinCost || appCfg.BcryptCost > bcrypt.MaxCost) {
		errs = append(errs, fmt.Errorf("bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if appCfg.DeviceSignatureSkew <= 0 {
		errs = append(errs, errors.New("device_signature_skew must be positive"))
	}
	if appCfg.DiscoveryRateLimit < 1 || appCfg.LoginRateLimit < 1 {
		errs = append(errs, errors.New("discovery_rate_limit and login_rate_limit must be at least 1"))
	}
	if _, err := ratelimit.ParseProxies(appCfg.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("trusted_proxies: %w", err))
	}
	if appCfg.MemberSyncInterval < 0 {
		errs = append(errs, errors.New("member_sync_interval must not be negative"))
	}
	for name, v := range map[string]string{
		"audit_log_auth":     appCfg.AuditLogAuth,
		"audit_log_device":   appCfg.AuditLogDevice,
		"audit_log_security": appCfg.AuditLogSecurity,
		"audit_log_admin":    appCfg.AuditLogAdmin,
	} {
		switch v {
		case "", auditlog.ModeAll, auditlog.ModeDB, auditlog.ModeLog, auditlog.ModeOff:
		default:
			errs = append(errs, fmt.Errorf("%s must be one of all, db, log, off (got %q)", name, v))
		}
	}

	if env == "prod" {
		if appCfg.JWTSecret == devJWTSecret {
			errs = append(errs, errors.New("jwt_secret must be set in production"))
		}
		if appCfg.EmailHashKey == devEmailHashKey {
			errs = append(errs, errors.New("email_hash_key must be set in production"))
		}
		if appCfg.TenantHintKey == devTenantHintKey {
			errs = append(errs, errors.New("tenant_hint_key must be set in production"))
		}
		if appCfg.AllowTenantHeader {
			errs = append(errs, errors.New("allow_tenant_header must be off in production"))
		}
	}

	return errors.Join(errs...)
}
