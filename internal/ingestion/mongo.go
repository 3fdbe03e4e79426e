package ingestion

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// StatusCollection is the MongoDB collection holding document statuses.
const StatusCollection = "documents"

// MongoStatusStore is a StatusStore backed by MongoDB. Records are keyed
// by "tenant/document".
type MongoStatusStore struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoStatusStore uses db's documents collection.
func NewMongoStatusStore(db *mongo.Database, logger *zap.Logger) *MongoStatusStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStatusStore{coll: db.Collection(StatusCollection), logger: logger}
}

// EnsureIndexes creates the per-tenant listing index.
func (s *MongoStatusStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("creating document status index: %w", err)
	}
	return nil
}

// MarkUploading implements StatusStore.
func (s *MongoStatusStore) MarkUploading(ctx context.Context, tenantID, documentID, source string) error {
	now := timeNow()
	key := statusKey(tenantID, documentID)
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": key, "status": bson.M{"$ne": StatusProcessing}},
		bson.M{
			"$set": bson.M{"status": StatusUploading, "source": source, "error": "", "updated_at": now},
			"$setOnInsert": bson.M{
				"tenant_id": tenantID, "document_id": documentID,
				"attempt": 0, "chunk_count": 0, "created_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		// The document exists and is processing; leave it alone.
		return nil
	}
	if err != nil {
		return fmt.Errorf("marking %s uploading: %w", documentID, err)
	}
	return nil
}

// Begin implements StatusStore.
func (s *MongoStatusStore) Begin(ctx context.Context, tenantID, documentID string) (DocumentStatus, error) {
	now := timeNow()
	var out DocumentStatus
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": statusKey(tenantID, documentID)},
		bson.M{
			"$set": bson.M{"status": StatusProcessing, "error": "", "updated_at": now},
			"$inc": bson.M{"attempt": 1},
			"$setOnInsert": bson.M{
				"tenant_id": tenantID, "document_id": documentID,
				"chunk_count": 0, "created_at": now,
			},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return DocumentStatus{}, fmt.Errorf("starting attempt for %s: %w", documentID, err)
	}
	return out, nil
}

func (s *MongoStatusStore) finish(ctx context.Context, tenantID, documentID string, attempt int, set bson.M) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": statusKey(tenantID, documentID), "attempt": attempt, "status": StatusProcessing},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", documentID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s attempt %d", ErrStaleAttempt, documentID, attempt)
	}
	return nil
}

// Complete implements StatusStore.
func (s *MongoStatusStore) Complete(ctx context.Context, tenantID, documentID string, attempt, chunkCount int, preview string) error {
	now := timeNow()
	return s.finish(ctx, tenantID, documentID, attempt, bson.M{
		"status":       StatusCompleted,
		"chunk_count":  chunkCount,
		"preview":      preview,
		"processed_at": now,
		"updated_at":   now,
	})
}

// Fail implements StatusStore.
func (s *MongoStatusStore) Fail(ctx context.Context, tenantID, documentID string, attempt int, reason string) error {
	return s.finish(ctx, tenantID, documentID, attempt, bson.M{
		"status":     StatusFailed,
		"error":      reason,
		"updated_at": timeNow(),
	})
}

// Get implements StatusStore.
func (s *MongoStatusStore) Get(ctx context.Context, tenantID, documentID string) (DocumentStatus, error) {
	var out DocumentStatus
	err := s.coll.FindOne(ctx, bson.M{"_id": statusKey(tenantID, documentID)}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return DocumentStatus{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	if err != nil {
		return DocumentStatus{}, fmt.Errorf("finding status of %s: %w", documentID, err)
	}
	return out, nil
}

// List implements StatusStore.
func (s *MongoStatusStore) List(ctx context.Context, tenantID string) ([]DocumentStatus, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "document_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{"tenant_id": tenantID}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing statuses: %w", err)
	}
	out := make([]DocumentStatus, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding statuses: %w", err)
	}
	return out, nil
}

// Delete implements StatusStore.
func (s *MongoStatusStore) Delete(ctx context.Context, tenantID, documentID string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": statusKey(tenantID, documentID)}); err != nil {
		return fmt.Errorf("deleting status of %s: %w", documentID, err)
	}
	return nil
}

// DeleteTenant implements StatusStore.
func (s *MongoStatusStore) DeleteTenant(ctx context.Context, tenantID string) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"tenant_id": tenantID})
	if err != nil {
		return 0, fmt.Errorf("deleting tenant statuses: %w", err)
	}
	return int(res.DeletedCount), nil
}
