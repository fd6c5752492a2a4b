package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRecorder struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoRecorder(ctx context.Context, uri, database string) (*MongoRecorder, error) {
	clientOptions := options.Client().ApplyURI(uri).SetConnectTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongo history: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &MongoRecorder{
		client:     client,
		collection: client.Database(database).Collection("predictions"),
	}, nil
}

func (r *MongoRecorder) Save(ctx context.Context, rec PredictionRecord) error {
	_, err := r.collection.InsertOne(ctx, rec)
	return err
}

func (r *MongoRecorder) Recent(ctx context.Context, model string, limit int) ([]PredictionRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(ClampLimit(limit)))

	cursor, err := r.collection.Find(ctx, bson.M{"model": model}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []PredictionRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *MongoRecorder) Close() error {
	return r.client.Disconnect(context.Background())
}
