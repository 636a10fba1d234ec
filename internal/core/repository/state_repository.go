package repository

import (
	"context"
	"fmt"
	"time"

	"fleettrack/internal/core/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// StateRepository persists the latest accepted state of every vehicle.
// Save never moves LastReportAt backwards; a write older than the stored state
// fails with model.ErrStaleReport.
type StateRepository interface {
	Save(ctx context.Context, state model.VehicleState) error
	FindByVehicleID(ctx context.Context, vehicleID string) (*model.VehicleState, error)
	FindAll(ctx context.Context) ([]model.VehicleState, error)
}

type MongoStateRepository struct {
	collection *mongo.Collection
}

func NewMongoStateRepository(db *mongo.Database) *MongoStateRepository {
	return &MongoStateRepository{
		collection: db.Collection("vehicle_states"),
	}
}

func (r *MongoStateRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "vehicleid", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Save upserts only when the stored document is not newer. When another process
// already stored a newer report the filter misses, the upsert collides with the
// unique vehicleid index and the write is reported as stale.
func (r *MongoStateRepository) Save(ctx context.Context, state model.VehicleState) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"vehicleid":    state.VehicleID,
		"lastreportat": bson.M{"$lte": state.LastReportAt},
	}
	_, err := r.collection.ReplaceOne(ctx, filter, state, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: vehicle %s has a newer stored state", model.ErrStaleReport, state.VehicleID)
	}
	return err
}

func (r *MongoStateRepository) FindByVehicleID(ctx context.Context, vehicleID string) (*model.VehicleState, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var state model.VehicleState
	err := r.collection.FindOne(ctx, bson.M{"vehicleid": vehicleID}).Decode(&state)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *MongoStateRepository) FindAll(ctx context.Context) ([]model.VehicleState, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var states []model.VehicleState
	if err = cursor.All(ctx, &states); err != nil {
		return nil, err
	}
	return states, nil
}
