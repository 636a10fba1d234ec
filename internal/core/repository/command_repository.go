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

type CommandRepository interface {
	Create(ctx context.Context, cmd *model.Command) error
	Update(ctx context.Context, cmd *model.Command) error
	FindByID(ctx context.Context, id string) (*model.Command, error)
	// FindByVehicleID returns commands newest first.
	FindByVehicleID(ctx context.Context, vehicleID string) ([]*model.Command, error)
	// FindOutstanding returns pending and sent commands of a vehicle, oldest first.
	FindOutstanding(ctx context.Context, vehicleID string) ([]*model.Command, error)
}

type MongoCommandRepository struct {
	collection *mongo.Collection
}

func NewMongoCommandRepository(db *mongo.Database) *MongoCommandRepository {
	return &MongoCommandRepository{
		collection: db.Collection("commands"),
	}
}

func (r *MongoCommandRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "vehicleid", Value: 1}, {Key: "status", Value: 1}}},
	})
	return err
}

func (r *MongoCommandRepository) Create(ctx context.Context, cmd *model.Command) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.collection.InsertOne(ctx, cmd)
	return err
}

func (r *MongoCommandRepository) Update(ctx context.Context, cmd *model.Command) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.collection.ReplaceOne(ctx, bson.M{"id": cmd.ID}, cmd)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", model.ErrCommandNotFound, cmd.ID)
	}
	return nil
}

func (r *MongoCommandRepository) FindByID(ctx context.Context, id string) (*model.Command, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var cmd model.Command
	err := r.collection.FindOne(ctx, bson.M{"id": id}).Decode(&cmd)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

func (r *MongoCommandRepository) FindByVehicleID(ctx context.Context, vehicleID string) ([]*model.Command, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdat", Value: -1}})
	return r.find(ctx, bson.M{"vehicleid": vehicleID}, opts)
}

func (r *MongoCommandRepository) FindOutstanding(ctx context.Context, vehicleID string) ([]*model.Command, error) {
	filter := bson.M{
		"vehicleid": vehicleID,
		"status":    bson.M{"$in": bson.A{model.CommandPending, model.CommandSent}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdat", Value: 1}})
	return r.find(ctx, filter, opts)
}

func (r *MongoCommandRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.Command, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var cmds []*model.Command
	if err = cursor.All(ctx, &cmds); err != nil {
		return nil, err
	}
	return cmds, nil
}
