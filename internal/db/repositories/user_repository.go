// user_repository.go implements UserRepository over the users collection,
// including the find-or-create used by external identity login.
package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ai-guard/ai-guard/internal/db/models"
)

// MongoUserRepository is the MongoDB-backed UserRepository.
type MongoUserRepository struct {
	col *mongo.Collection
}

// NewUserRepository creates a MongoUserRepository over database.
func NewUserRepository(database *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{col: database.Collection("users")}
}

func (r *MongoUserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = strings.ToLower(user.Email)
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Status == "" {
		user.Status = models.UserActive
	}

	_, err := r.col.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepository) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"externalId": externalID})
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{
		"email":  strings.ToLower(email),
		"status": bson.M{"$ne": models.UserDeleted},
	})
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	err := r.col.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertExternal finds-or-creates a user keyed by external uid. Profile
// fields from the identity provider refresh the document on every login, but
// status never changes here: a suspended user stays suspended.
func (r *MongoUserRepository) UpsertExternal(ctx context.Context, externalID, email, name string) (*models.User, error) {
	now := time.Now().UTC()
	newID := uuid.New().String()

	update := bson.M{
		"$set": bson.M{
			"email":     strings.ToLower(email),
			"name":      name,
			"updatedAt": now,
		},
		"$setOnInsert": bson.M{
			"_id":        newID,
			"externalId": externalID,
			"status":     models.UserActive,
			"createdAt":  now,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var user models.User
	err := r.col.FindOneAndUpdate(ctx, bson.M{"externalId": externalID}, update, opts).Decode(&user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *MongoUserRepository) UpdateStatus(ctx context.Context, id string, status models.UserStatus) error {
	return r.updateOne(ctx, id, bson.M{"status": status})
}

func (r *MongoUserRepository) UpdateName(ctx context.Context, id, name string) error {
	return r.updateOne(ctx, id, bson.M{"name": name})
}

func (r *MongoUserRepository) UpdateDefaultProject(ctx context.Context, id string, projectID *string) error {
	if projectID == nil {
		res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
			"$unset": bson.M{"defaultProjectId": ""},
			"$set":   bson.M{"updatedAt": time.Now().UTC()},
		})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrNotFound
		}
		return nil
	}
	return r.updateOne(ctx, id, bson.M{"defaultProjectId": *projectID})
}

func (r *MongoUserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.updateOne(ctx, id, bson.M{"lastLoginAt": at})
}

func (r *MongoUserRepository) List(ctx context.Context, limit, offset int64) ([]*models.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Delete flips status to deleted; the document is kept for audit and usage
// history.
func (r *MongoUserRepository) Delete(ctx context.Context, id string) error {
	return r.updateOne(ctx, id, bson.M{"status": models.UserDeleted})
}

func (r *MongoUserRepository) updateOne(ctx context.Context, id string, set bson.M) error {
	set["updatedAt"] = time.Now().UTC()
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
