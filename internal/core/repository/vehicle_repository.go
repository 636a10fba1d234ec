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

// VehicleRepository stores vehicles. Find methods return nil, nil when nothing matches.
// Create fails with model.ErrDuplicateDevice when the IMEI is already taken,
// including by a soft-deleted vehicle.
type VehicleRepository interface {
	Create(ctx context.Context, vehicle *model.Vehicle) error
	Update(ctx context.Context, vehicle *model.Vehicle) error
	FindByID(ctx context.Context, id string) (*model.Vehicle, error)
	FindByIMEI(ctx context.Context, imei string) (*model.Vehicle, error)
	FindByOwnerID(ctx context.Context, ownerID string) ([]*model.Vehicle, error)
	FindAll(ctx context.Context) ([]*model.Vehicle, error)
}

type MongoVehicleRepository struct {
	collection *mongo.Collection
}

func NewMongoVehicleRepository(db *mongo.Database) *MongoVehicleRepository {
	return &MongoVehicleRepository{
		collection: db.Collection("vehicles"),
	}
}

// EnsureIndexes creates the unique imei index that guards concurrent registration
// across processes.
func (r *MongoVehicleRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "imei", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "ownerid", Value: 1}}},
	})
	return err
}

func (r *MongoVehicleRepository) Create(ctx context.Context, vehicle *model.Vehicle) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.collection.InsertOne(ctx, vehicle)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: imei %s", model.ErrDuplicateDevice, vehicle.IMEI)
	}
	return err
}

func (r *MongoVehicleRepository) Update(ctx context.Context, vehicle *model.Vehicle) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.collection.ReplaceOne(ctx, vehicleUpdateFilter(vehicle), vehicle)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	existing, err := r.FindByID(ctx, vehicle.ID)
	if err != nil {
		return err
	}
	if err := checkVehicleUpdate(existing, vehicle); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", model.ErrUnknownVehicle, vehicle.ID)
}

// vehicleUpdateFilter matches the stored vehicle only while its imei is unchanged.
func vehicleUpdateFilter(vehicle *model.Vehicle) bson.M {
	return bson.M{"id": vehicle.ID, "imei": vehicle.IMEI}
}

// checkVehicleUpdate rejects updates of missing vehicles and imei changes.
func checkVehicleUpdate(existing, vehicle *model.Vehicle) error {
	if existing == nil {
		return fmt.Errorf("%w: %s", model.ErrUnknownVehicle, vehicle.ID)
	}
	if existing.IMEI != vehicle.IMEI {
		return fmt.Errorf("%w: imei is immutable", model.ErrInvalidVehicle)
	}
	return nil
}

func (r *MongoVehicleRepository) FindByID(ctx context.Context, id string) (*model.Vehicle, error) {
	return r.findOne(ctx, bson.M{"id": id})
}

func (r *MongoVehicleRepository) FindByIMEI(ctx context.Context, imei string) (*model.Vehicle, error) {
	return r.findOne(ctx, bson.M{"imei": imei})
}

func (r *MongoVehicleRepository) FindByOwnerID(ctx context.Context, ownerID string) ([]*model.Vehicle, error) {
	return r.find(ctx, bson.M{"ownerid": ownerID})
}

func (r *MongoVehicleRepository) FindAll(ctx context.Context) ([]*model.Vehicle, error) {
	return r.find(ctx, bson.M{})
}

func (r *MongoVehicleRepository) findOne(ctx context.Context, filter bson.M) (*model.Vehicle, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var vehicle model.Vehicle
	err := r.collection.FindOne(ctx, filter).Decode(&vehicle)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vehicle, nil
}

func (r *MongoVehicleRepository) find(ctx context.Context, filter bson.M) ([]*model.Vehicle, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdat", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var vehicles []*model.Vehicle
	if err = cursor.All(ctx, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}
