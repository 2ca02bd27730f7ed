// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
//
// Runtime is filled in by Startup and shared by BuildHandler and Shutdown.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database // shared partition
	Parts         *partitions.Provider
	Runtime       *Runtime
}
