package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tzhukov/pollprobe/logger"
	"github.com/tzhukov/pollprobe/models"
)

var errNotConnected = errors.New("mongo client not initialized")

// Mongo keeps run records in the pollprobe.runs collection.
type Mongo struct {
	client *mongo.Client
	runs   *mongo.Collection
}

// Connect connects to MongoDB, pings, ensures indexes and prepares collections.
func Connect(ctx context.Context, uri string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	m := &Mongo{client: client, runs: client.Database("pollprobe").Collection("runs")}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	logger.Info("mongo initialized", logger.FieldKV("database", "pollprobe"))
	return m, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

// Ping health check.
func (m *Mongo) Ping(ctx context.Context) error {
	if m.client == nil {
		return errNotConnected
	}
	return m.client.Ping(ctx, readpref.Primary())
}

// Record upserts a run record by run id.
func (m *Mongo) Record(ctx context.Context, rec models.RunRecord) error {
	if m.runs == nil {
		return errNotConnected
	}
	filter := bson.M{"run_id": rec.RunID}
	update := bson.M{"$set": rec}
	_, err := m.runs.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// RecentRuns returns up to limit records, newest first.
func (m *Mongo) RecentRuns(ctx context.Context, limit int64) ([]models.RunRecord, error) {
	if m.runs == nil {
		return nil, errNotConnected
	}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}).SetLimit(limit)
	cur, err := m.runs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []models.RunRecord{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.runs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "run_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_run_id")},
		{Keys: bson.D{{Key: "started_at", Value: -1}}, Options: options.Index().SetName("idx_started_at")},
	})
	return err
}
