package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pipeworks-ai/conductor/workflow"
)

// MongoConfig configures the MongoDB-backed instance store.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// instanceDoc wraps the JSON instance document with indexed fields.
type instanceDoc struct {
	ID        string    `bson:"_id"`
	Template  string    `bson:"template"`
	Status    string    `bson:"status"`
	Document  []byte    `bson:"document"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoInstanceStore persists instances in a MongoDB collection.
type MongoInstanceStore struct {
	coll *mongo.Collection
}

// NewMongoInstanceStore connects to MongoDB and verifies the connection.
func NewMongoInstanceStore(ctx context.Context, cfg MongoConfig) (*MongoInstanceStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "workflow_instances"
	}
	return &MongoInstanceStore{coll: client.Database(cfg.Database).Collection(collection)}, nil
}

// NewMongoInstanceStoreFromCollection wraps an existing collection.
func NewMongoInstanceStoreFromCollection(coll *mongo.Collection) *MongoInstanceStore {
	return &MongoInstanceStore{coll: coll}
}

func (s *MongoInstanceStore) Save(ctx context.Context, inst *workflow.Instance) error {
	raw, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	doc := instanceDoc{
		ID:        inst.ID,
		Template:  inst.Template,
		Status:    string(inst.Status),
		Document:  raw,
		CreatedAt: inst.CreatedAt,
	}
	_, err = s.coll.ReplaceOne(ctx,
		bson.M{"_id": inst.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save instance: %w", err)
	}
	return nil
}

func (s *MongoInstanceStore) Load(ctx context.Context, workflowID string) (*workflow.Instance, error) {
	var doc instanceDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": workflowID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	var inst workflow.Instance
	if err := json.Unmarshal(doc.Document, &inst); err != nil {
		return nil, fmt.Errorf("unmarshal instance: %w", err)
	}
	return &inst, nil
}

func (s *MongoInstanceStore) List(ctx context.Context, filter Filter) ([]*workflow.Instance, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.Template != "" {
		query["template"] = filter.Template
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Limit > 0 {
		opts = opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer cursor.Close(ctx)

	var results []*workflow.Instance
	for cursor.Next(ctx) {
		var doc instanceDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode instance: %w", err)
		}
		var inst workflow.Instance
		if err := json.Unmarshal(doc.Document, &inst); err != nil {
			return nil, fmt.Errorf("unmarshal instance %s: %w", doc.ID, err)
		}
		results = append(results, &inst)
	}
	return results, cursor.Err()
}

func (s *MongoInstanceStore) Delete(ctx context.Context, workflowID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": workflowID})
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
