package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// CollectionName is the MongoDB collection holding conversations.
const CollectionName = "conversations"

// MongoStore is a Store backed by MongoDB.
type MongoStore struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoStore uses db's conversations collection.
func NewMongoStore(db *mongo.Database, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{coll: db.Collection(CollectionName), logger: logger}
}

// EnsureIndexes creates the listing index on (tenant_id, user_id, updated_at).
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("creating conversation index: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *MongoStore) Get(ctx context.Context, tenantID, id string) (*Conversation, error) {
	var c Conversation
	err := s.coll.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("finding conversation %s: %w", id, err)
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return &c, nil
}

// Save implements Store.
func (s *MongoStore) Save(ctx context.Context, c *Conversation) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": c.ID, "tenant_id": c.TenantID},
		c,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("saving conversation %s: %w", c.ID, err)
	}
	s.logger.Debug("conversation saved",
		zap.String("conversation_id", c.ID),
		zap.Int("message_count", c.MessageCount),
	)
	return nil
}

// List implements Store.
func (s *MongoStore) List(ctx context.Context, tenantID, userID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	filter := bson.M{"tenant_id": tenantID}
	if userID != "" {
		filter["user_id"] = userID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"messages": 0})

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	out := make([]Summary, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding conversations: %w", err)
	}
	return out, nil
}

// Delete implements Store.
func (s *MongoStore) Delete(ctx context.Context, tenantID, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// DeleteTenant implements Store.
func (s *MongoStore) DeleteTenant(ctx context.Context, tenantID string) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"tenant_id": tenantID})
	if err != nil {
		return 0, fmt.Errorf("deleting tenant conversations: %w", err)
	}
	return int(res.DeletedCount), nil
}
