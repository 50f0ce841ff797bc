// Package db manages the MongoDB client and index bootstrap for the gateway.
// Indexes are ensured on startup (or via the ensure-indexes subcommand) so a
// freshly deployed container never needs a separate migration step: unique
// constraints back the data-model invariants and TTL indexes implement the
// 90-day retention on usage records and audit logs.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names. The management API and repositories agree on these.
const (
	UsersCollection    = "users"
	TokensCollection   = "personalaccesstokens"
	ProjectsCollection = "projects"
	UsageCollection    = "usagerecords"
	AuditCollection    = "auditlogs"
)

// recordTTL is the retention window for usage records and audit logs.
const recordTTL = 90 * 24 * time.Hour

// Connect establishes a connection to MongoDB and verifies it with a ping.
func Connect(ctx context.Context, uri string, maxPoolSize uint64) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri).SetMaxPoolSize(maxPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, nil
}

// EnsureIndexes creates the unique, lookup, and TTL indexes backing the data
// model. CreateMany is idempotent for identical definitions, so this is safe
// to run on every startup.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	users := database.Collection(UsersCollection)
	_, err := users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// Email uniqueness applies only to non-deleted users; a deleted
			// account must not block re-registration with the same address.
			Keys: bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(
				bson.D{{Key: "status", Value: bson.D{{Key: "$ne", Value: "deleted"}}}},
			),
		},
		{
			Keys:    bson.D{{Key: "externalId", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to ensure user indexes: %w", err)
	}

	tokens := database.Collection(TokensCollection)
	_, err = tokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identifier", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to ensure token indexes: %w", err)
	}

	projects := database.Collection(ProjectsCollection)
	_, err = projects.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "members.userId", Value: 1}}},
		{Keys: bson.D{{Key: "ownerId", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to ensure project indexes: %w", err)
	}

	usage := database.Collection(UsageCollection)
	_, err = usage.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(recordTTL.Seconds())),
		},
		{Keys: bson.D{{Key: "projectId", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to ensure usage indexes: %w", err)
	}

	audit := database.Collection(AuditCollection)
	_, err = audit.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(recordTTL.Seconds())),
		},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to ensure audit indexes: %w", err)
	}

	return nil
}
