// Command climatrakctl provisions tenants, users and devices directly against
// the database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	tenantstore "github.com/dalemusser/climatrak/internal/app/store/tenants"
	"github.com/dalemusser/climatrak/internal/app/system/auditlog"
	"github.com/dalemusser/climatrak/internal/app/system/credentials"
	"github.com/dalemusser/climatrak/internal/app/system/emailhash"
	"github.com/dalemusser/climatrak/internal/app/system/membersync"
	"github.com/dalemusser/climatrak/internal/app/system/provision"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type globalFlags struct {
	mongoURI     string
	database     string
	prefix       string
	emailHashKey string
	bcryptCost   int
	logLevel     string
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "climatrakctl",
		Short:         "Provision climatrak tenants, users and devices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.mongoURI, "mongo-uri", envOr("CLIMATRAK_MONGO_URI", "mongodb://localhost:27017"), "MongoDB connection URI")
	pf.StringVar(&g.database, "database", envOr("CLIMATRAK_MONGO_DATABASE", "climatrak"), "shared partition database name")
	pf.StringVar(&g.prefix, "db-prefix", envOr("CLIMATRAK_PARTITION_DB_PREFIX", "climatrak_t_"), "prefix for tenant partition database names")
	pf.StringVar(&g.emailHashKey, "email-hash-key", os.Getenv("CLIMATRAK_EMAIL_HASH_KEY"), "key for hashed identifiers; must match the server's")
	pf.IntVar(&g.bcryptCost, "bcrypt-cost", 0, "bcrypt cost for new passwords (0 uses the default)")
	pf.StringVar(&g.logLevel, "log-level", "warn", "debug, info, warn or error")

	cmd.AddCommand(
		newTenantCommand(g),
		newUserCommand(g),
		newMemberCommand(g),
		newDeviceCommand(g),
		newSyncCommand(g),
		newAuditCommand(g),
	)
	return cmd
}

// session is an open connection plus the provisioning service on top of it.
type session struct {
	client *mongo.Client
	svc    *provision.Service
	log    *zap.Logger
}

func (g *globalFlags) open(ctx context.Context) (*session, error) {
	level, err := zapcore.ParseLevel(g.logLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}

	if err := wafflemongo.ValidateURI(g.mongoURI); err != nil {
		return nil, err
	}
	hasher, err := emailhash.New([]byte(g.emailHashKey))
	if err != nil {
		return nil, fmt.Errorf("--email-hash-key: %w", err)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(g.mongoURI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	parts := partitions.New(client, g.database, g.prefix)
	creds, err := credentials.New(credentials.PartitionUsers{Parts: parts}, g.bcryptCost)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	audit := auditlog.New(parts, logger, auditlog.Config{Admin: auditlog.ModeAll})
	sync := membersync.New(parts, tenantstore.New(parts.Public()), hasher, nil, logger)

	return &session{
		client: client,
		svc:    provision.New(parts, creds, sync, audit, logger),
		log:    logger,
	}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Disconnect(ctx)
	_ = s.log.Sync()
}

// run opens a session for the duration of fn.
func (g *globalFlags) run(cmd *cobra.Command, fn func(ctx context.Context, svc *provision.Service) error) error {
	ctx := cmd.Context()
	s, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s.svc)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
