package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo wraps a mongo client bound to one database.
type Mongo struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// NewMongo connects and pings the primary.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return &Mongo{Client: client, DB: client.Database(database)}, nil
}

// EnsureIndexes creates the unique indexes the stores rely on for conflict
// detection.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		"students": {{
			Keys: bson.D{
				{Key: "department", Value: 1}, {Key: "batch", Value: 1}, {Key: "level", Value: 1},
				{Key: "term", Value: 1}, {Key: "section", Value: 1}, {Key: "rollNo", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("roll_per_class"),
		}},
		"attendance_days": {{
			Keys:    bson.D{{Key: "classKey", Value: 1}, {Key: "day", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("class_day"),
		}},
		"attendance": {
			{
				Keys:    bson.D{{Key: "studentId", Value: 1}, {Key: "classKey", Value: 1}, {Key: "day", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("student_class_day"),
			},
			{
				Keys:    bson.D{{Key: "classKey", Value: 1}, {Key: "day", Value: 1}},
				Options: options.Index().SetName("class_day"),
			},
		},
		"advisor_assignments": {
			{
				Keys: bson.D{
					{Key: "department", Value: 1}, {Key: "batch", Value: 1}, {Key: "level", Value: 1},
					{Key: "term", Value: 1}, {Key: "section", Value: 1},
				},
				Options: options.Index().SetUnique(true).SetName("one_active").
					SetPartialFilterExpression(bson.M{"active": true}),
			},
			{
				Keys:    bson.D{{Key: "facultyId", Value: 1}, {Key: "active", Value: 1}},
				Options: options.Index().SetName("faculty_active"),
			},
		},
	}
	for col, models := range specs {
		if _, err := m.DB.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", col, err)
		}
	}
	return nil
}

// Healthy verifies mongo connectivity.
func (m *Mongo) Healthy(ctx context.Context) bool {
	if m == nil || m.Client == nil {
		return false
	}
	return m.Client.Ping(ctx, readpref.Primary()) == nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}
	return m.Client.Disconnect(ctx)
}
