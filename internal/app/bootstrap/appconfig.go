// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig covers the
// framework-level settings (ports, TLS, logging, CORS); everything that is
// specific to tenant routing and authentication lives here.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI          string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase     string // Shared partition database name
	MongoMaxPoolSize  uint64
	PartitionDBPrefix string // Tenant partition databases are named <prefix><schema>

	// Session tokens
	JWTSecret          string
	JWTIssuer          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	CookieDomain       string // blank means current host
	AllowHeaderTokens  bool   // accept Authorization: Bearer when no cookie is present
	AcceptLegacyTokens bool   // tokens without a tenant claim, shared partition only
	BcryptCost         int

	// Tenant resolution
	AllowTenantHeader bool     // honour the override header (always off in prod)
	TenantHeader      string   // override header name
	PublicDomains     []string // hosts bound to the shared partition
	TenantCacheTTL    time.Duration

	// TrustedProxies are CIDRs whose X-Forwarded-For is believed when
	// resolving the client address for rate limits and audit.
	TrustedProxies []string

	// Keys
	EmailHashKey  string // keyed hash for identifiers stored in the shared partition
	TenantHintKey string // signs the tenant_hint cookie

	// Devices
	DeviceSignatureSkew   time.Duration
	MaxIngestBytes        int64
	ReplayCleanupInterval time.Duration

	// Throttling
	DiscoveryRateLimit  int
	DiscoveryRateWindow time.Duration
	LoginRateLimit      int // per identifier; the per-IP limit is 4x this
	LoginRateWindow     time.Duration

	// Background membership sync (0 disables)
	MemberSyncInterval time.Duration

	// Audit logging: "all", "db", "log" or "off" per category
	AuditLogAuth     string
	AuditLogDevice   string
	AuditLogSecurity string
	AuditLogAdmin    string
}
