package repository

import (
	"context"
	"time"

	"fleettrack/internal/core/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// HistoryCursor is the position of the last entry a caller has seen.
// Entries are ordered by (Timestamp, ID).
type HistoryCursor struct {
	Timestamp time.Time
	ID        string
}

// HistoryFilter selects one vehicle's entries in [From, To]. Zero bounds are open.
type HistoryFilter struct {
	VehicleID string
	From      time.Time
	To        time.Time
	After     *HistoryCursor
	Limit     int
}

// HistoryRepository is append-only; entries are removed only by DeleteBefore.
type HistoryRepository interface {
	Append(ctx context.Context, entry *model.HistoryEntry) error
	Query(ctx context.Context, filter HistoryFilter) ([]*model.HistoryEntry, error)
	CountByVehicleID(ctx context.Context, vehicleID string) (int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type MongoHistoryRepository struct {
	collection *mongo.Collection
}

func NewMongoHistoryRepository(db *mongo.Database) *MongoHistoryRepository {
	return &MongoHistoryRepository{
		collection: db.Collection("location_history"),
	}
}

func (r *MongoHistoryRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "vehicleid", Value: 1}, {Key: "timestamp", Value: 1}, {Key: "id", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
	})
	return err
}

func (r *MongoHistoryRepository) Append(ctx context.Context, entry *model.HistoryEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.collection.InsertOne(ctx, entry)
	return err
}

func (r *MongoHistoryRepository) Query(ctx context.Context, filter HistoryFilter) ([]*model.HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conds := bson.A{bson.M{"vehicleid": filter.VehicleID}}
	if !filter.From.IsZero() {
		conds = append(conds, bson.M{"timestamp": bson.M{"$gte": filter.From}})
	}
	if !filter.To.IsZero() {
		conds = append(conds, bson.M{"timestamp": bson.M{"$lte": filter.To}})
	}
	if filter.After != nil {
		conds = append(conds, bson.M{"$or": bson.A{
			bson.M{"timestamp": bson.M{"$gt": filter.After.Timestamp}},
			bson.M{"timestamp": filter.After.Timestamp, "id": bson.M{"$gt": filter.After.ID}},
		}})
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"$and": conds}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*model.HistoryEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *MongoHistoryRepository) CountByVehicleID(ctx context.Context, vehicleID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return r.collection.CountDocuments(ctx, bson.M{"vehicleid": vehicleID})
}

func (r *MongoHistoryRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": before}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
