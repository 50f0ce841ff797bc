// usage_repository.go implements UsageRepository over the usagerecords
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

// MongoUsageRepository is the MongoDB-backed UsageRepository.
type MongoUsageRepository struct {
	col *mongo.Collection
}

// NewUsageRepository creates a MongoUsageRepository over database.
func NewUsageRepository(database *mongo.Database) *MongoUsageRepository {
	return &MongoUsageRepository{col: database.Collection("usagerecords")}
}

func (r *MongoUsageRepository) Insert(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, record)
	return err
}

func (r *MongoUsageRepository) ListByProject(ctx context.Context, projectID string, since time.Time, limit int64) ([]*models.UsageRecord, error) {
	filter := bson.M{"projectId": projectID}
	if !since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": since}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*models.UsageRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}
