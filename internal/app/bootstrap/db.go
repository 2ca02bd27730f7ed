// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/climatrak/internal/app/store/discoveryindex"
	mirrorstore "github.com/dalemusser/climatrak/internal/app/store/mirror"
	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	"github.com/dalemusser/climatrak/internal/app/store/replay"
	tenantstore "github.com/dalemusser/climatrak/internal/app/store/tenants"
	"github.com/dalemusser/climatrak/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// ConnectDB connects to MongoDB and prepares the partition provider. Tenant
// partitions share the client; only the database name differs.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	opts := options.Client().ApplyURI(appCfg.MongoURI)
	if appCfg.MongoMaxPoolSize > 0 {
		opts.SetMaxPoolSize(appCfg.MongoMaxPoolSize)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return DBDeps{}, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeouts.Ping())
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return DBDeps{}, fmt.Errorf("mongo ping: %w", err)
	}

	parts := partitions.New(client, appCfg.MongoDatabase, appCfg.PartitionDBPrefix)
	logger.Info("connected to MongoDB",
		zap.String("database", appCfg.MongoDatabase),
		zap.String("partition_prefix", appCfg.PartitionDBPrefix))

	return DBDeps{
		MongoClient:   client,
		MongoDatabase: parts.Public(),
		Parts:         parts,
		Runtime:       &Runtime{},
	}, nil
}

// EnsureSchema creates the indexes of the shared partition and of every
// registered tenant partition.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Batch())
	defer cancel()

	public := deps.Parts.Public()
	tenants := tenantstore.New(public)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"tenants", tenants.EnsureIndexes},
		{"membership mirror", mirrorstore.New(public).EnsureIndexes},
		{"discovery index", discoveryindex.New(public).EnsureIndexes},
		{"replay cache", replay.New(public).EnsureIndexes},
		{"shared partition", func(ctx context.Context) error { return partitions.EnsureIndexes(ctx, public) }},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("ensure %s indexes: %w", s.name, err)
		}
	}

	list, err := tenants.List(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	for _, t := range list {
		if err := deps.Parts.EnsureTenantIndexes(ctx, t.SchemaName); err != nil {
			return fmt.Errorf("ensure partition %q indexes: %w", t.SchemaName, err)
		}
	}
	logger.Info("schema ensured", zap.Int("tenant_partitions", len(list)))
	return nil
}
