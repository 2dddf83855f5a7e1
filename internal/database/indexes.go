package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateIndexes creates all necessary indexes for the collections
func CreateIndexes(ctx context.Context, db *MongoDB) error {
	slog.Info("Creating MongoDB indexes")

	indexes := map[string][]mongo.IndexModel{
		CollectionChecks: {
			{
				Keys: bson.D{
					{Key: "disabled", Value: 1},
					{Key: "status", Value: 1},
					{Key: "next_check_time", Value: 1},
				},
				Options: options.Index().SetName("idx_due"),
			},
			{
				Keys:    bson.D{{Key: "service_id", Value: 1}},
				Options: options.Index().SetName("idx_service_id"),
			},
		},
		CollectionResults: {
			{
				Keys: bson.D{
					{Key: "check_id", Value: 1},
					{Key: "created_at", Value: -1},
				},
				Options: options.Index().SetName("idx_check_id_created_at"),
			},
			{
				Keys:    bson.D{{Key: "created_at", Value: 1}},
				Options: options.Index().SetName("idx_created_at"),
			},
		},
		CollectionServices: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetName("idx_name"),
			},
		},
	}

	for _, name := range []string{CollectionChecks, CollectionResults, CollectionServices} {
		if err := createIndexes(ctx, db.GetCollection(name), indexes[name]); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", name, err)
		}
		slog.Info("Created indexes", "collection", name)
	}

	slog.Info("Successfully created all MongoDB indexes")
	return nil
}

func createIndexes(ctx context.Context, collection *mongo.Collection, models []mongo.IndexModel) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctxTimeout, models)
	return err
}
