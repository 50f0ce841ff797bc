// audit_repository.go implements AuditRepository over the auditlogs
// collection (90-day TTL).
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ai-guard/ai-guard/internal/db/models"
)

// MongoAuditRepository is the MongoDB-backed AuditRepository.
type MongoAuditRepository struct {
	col *mongo.Collection
}

// NewAuditRepository creates a MongoAuditRepository over database.
func NewAuditRepository(database *mongo.Database) *MongoAuditRepository {
	return &MongoAuditRepository{col: database.Collection("auditlogs")}
}

func (r *MongoAuditRepository) Insert(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, entry)
	return err
}

func (r *MongoAuditRepository) ListByUser(ctx context.Context, userID string, limit int64) ([]*models.AuditLog, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.col.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*models.AuditLog
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
