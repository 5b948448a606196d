package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/v2/mongo/otelmongo"
)

const (
	CredentialsCollection = "gsc_credentials" // one OAuth credential per tenant
	SeoMetaCollection     = "seo_meta"        // SEO fields per (tenant, post)
)

// Connect opens the MongoDB client, verifies the connection and returns
// the database handle. Call Close on shutdown.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Database, func(context.Context), error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, nil, err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}

	log.Info().Str("db", dbName).Msg("mongodb connected")

	closeFn := func(ctx context.Context) {
		if err := client.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("closing mongodb connection")
		}
	}
	return client.Database(dbName), closeFn, nil
}

// Ping checks the connection for health endpoints.
func Ping(ctx context.Context, db *mongo.Database) error {
	if db == nil {
		return errors.New("mongodb is not configured")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Client().Ping(pingCtx, readpref.Primary())
}
