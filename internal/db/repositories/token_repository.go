// token_repository.go implements TokenRepository over the
// personalaccesstokens collection: indexed identifier lookup for the auth
// hot path, revocation, and secret rotation.
package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ai-guard/ai-guard/internal/db/models"
)

// MongoTokenRepository is the MongoDB-backed TokenRepository.
type MongoTokenRepository struct {
	col *mongo.Collection
}

// NewTokenRepository creates a MongoTokenRepository over database.
func NewTokenRepository(database *mongo.Database) *MongoTokenRepository {
	return &MongoTokenRepository{col: database.Collection("personalaccesstokens")}
}

func (r *MongoTokenRepository) Create(ctx context.Context, token *models.PersonalAccessToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	token.CreatedAt = now
	token.UpdatedAt = now

	_, err := r.col.InsertOne(ctx, token)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (r *MongoTokenRepository) GetByID(ctx context.Context, id string) (*models.PersonalAccessToken, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoTokenRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.PersonalAccessToken, error) {
	return r.findOne(ctx, bson.M{"identifier": identifier})
}

func (r *MongoTokenRepository) findOne(ctx context.Context, filter bson.M) (*models.PersonalAccessToken, error) {
	var token models.PersonalAccessToken
	err := r.col.FindOne(ctx, filter).Decode(&token)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *MongoTokenRepository) ListByUser(ctx context.Context, userID string) ([]*models.PersonalAccessToken, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.col.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var tokens []*models.PersonalAccessToken
	if err := cursor.All(ctx, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *MongoTokenRepository) Revoke(ctx context.Context, id string) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"revoked": true, "updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllForUser revokes every token the user owns; used on account
// suspension and logical deletion.
func (r *MongoTokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.col.UpdateMany(ctx, bson.M{"userId": userID, "revoked": false}, bson.M{
		"$set": bson.M{"revoked": true, "updatedAt": time.Now().UTC()},
	})
	return err
}

func (r *MongoTokenRepository) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"lastUsedAt": at},
	})
	return err
}

// ReplaceSecret swaps identifier and hash during rotation, preserving the
// document id so audit references stay intact.
func (r *MongoTokenRepository) ReplaceSecret(ctx context.Context, id, identifier, hash string) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id, "revoked": false}, bson.M{
		"$set": bson.M{
			"identifier": identifier,
			"hash":       hash,
			"updatedAt":  time.Now().UTC(),
		},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
