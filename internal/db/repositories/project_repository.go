// project_repository.go implements ProjectRepository over the projects
// collection. Members, credentials, and usage counters live embedded in the
// project document; every mutation targets array elements or counter fields
// with a single atomic update so concurrent writers never clobber each other.
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

// MongoProjectRepository is the MongoDB-backed ProjectRepository.
type MongoProjectRepository struct {
	col *mongo.Collection
}

// NewProjectRepository creates a MongoProjectRepository over database.
func NewProjectRepository(database *mongo.Database) *MongoProjectRepository {
	return &MongoProjectRepository{col: database.Collection("projects")}
}

func (r *MongoProjectRepository) Create(ctx context.Context, project *models.Project) error {
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now
	project.Usage.LastUpdated = now

	// The owner is always present in members with the owner role.
	if project.MemberRoleOf(project.OwnerID) == "" {
		project.Members = append(project.Members, models.Member{
			UserID:  project.OwnerID,
			Role:    models.RoleOwner,
			AddedAt: now,
		})
	}

	_, err := r.col.InsertOne(ctx, project)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (r *MongoProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&project)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *MongoProjectRepository) ListByMember(ctx context.Context, userID string) ([]*models.Project, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.col.Find(ctx, bson.M{"members.userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var projects []*models.Project
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (r *MongoProjectRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoProjectRepository) AddMember(ctx context.Context, projectID string, member models.Member) error {
	if member.AddedAt.IsZero() {
		member.AddedAt = time.Now().UTC()
	}
	// The members.userId guard makes the add idempotent under races: two
	// concurrent adds of the same user match at most once.
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": projectID, "members.userId": bson.M{"$ne": member.UserID}},
		bson.M{
			"$push": bson.M{"members": member},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Either the project is gone or the user is already a member.
		if _, err := r.GetByID(ctx, projectID); err != nil {
			return err
		}
		return ErrDuplicate
	}
	return nil
}

func (r *MongoProjectRepository) RemoveMember(ctx context.Context, projectID, userID string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": projectID},
		bson.M{
			"$pull": bson.M{"members": bson.M{"userId": userID, "role": bson.M{"$ne": models.RoleOwner}}},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertCredential deactivates any active credential for the same provider,
// then appends the new one. Two updates rather than one, but each is atomic
// and the forward-time reader tolerates the intermediate state (it simply
// finds no active credential for one read).
func (r *MongoProjectRepository) UpsertCredential(ctx context.Context, projectID string, cred models.ProviderCredential) error {
	if cred.AddedAt.IsZero() {
		cred.AddedAt = time.Now().UTC()
	}

	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": projectID},
		bson.M{"$set": bson.M{"credentials.$[c].active": false}},
		options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []any{bson.M{"c.provider": cred.Provider, "c.active": true}},
		}),
	)
	if err != nil {
		return err
	}

	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": projectID},
		bson.M{
			"$push": bson.M{"credentials": cred},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoProjectRepository) RemoveCredential(ctx context.Context, projectID, keyID string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": projectID},
		bson.M{
			"$pull": bson.M{"credentials": bson.M{"keyId": keyID}},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoProjectRepository) ReplaceCredentialEnvelope(ctx context.Context, projectID, keyID, envelope string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": projectID, "credentials.keyId": keyID},
		bson.M{"$set": bson.M{
			"credentials.$.envelope": envelope,
			"updatedAt":              time.Now().UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoProjectRepository) UpdateSettings(ctx context.Context, projectID string, settings models.ProjectSettings) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": projectID},
		bson.M{"$set": bson.M{
			"settings":  settings,
			"updatedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementUsage is the single hot write path: one server-side $inc covering
// all three buckets. Racing increments are both reflected because the server
// serializes document updates.
func (r *MongoProjectRepository) IncrementUsage(ctx context.Context, projectID string, delta UsageDelta) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": projectID},
		bson.M{
			"$inc": bson.M{
				"usage.total.requests":        delta.Requests,
				"usage.total.tokens":          delta.Tokens,
				"usage.total.cost":            delta.Cost,
				"usage.currentMonth.requests": delta.Requests,
				"usage.currentMonth.tokens":   delta.Tokens,
				"usage.currentMonth.cost":     delta.Cost,
				"usage.currentDay.requests":   delta.Requests,
				"usage.currentDay.tokens":     delta.Tokens,
				"usage.currentDay.cost":       delta.Cost,
			},
			"$set": bson.M{"usage.lastUpdated": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoProjectRepository) ResetDay(ctx context.Context) error {
	_, err := r.col.UpdateMany(ctx, bson.M{}, bson.M{
		"$set": bson.M{
			"usage.currentDay":  models.UsageBucket{},
			"usage.lastUpdated": time.Now().UTC(),
		},
	})
	return err
}

func (r *MongoProjectRepository) ResetMonth(ctx context.Context) error {
	_, err := r.col.UpdateMany(ctx, bson.M{}, bson.M{
		"$set": bson.M{
			"usage.currentMonth": models.UsageBucket{},
			"usage.lastUpdated":  time.Now().UTC(),
		},
	})
	return err
}
