package roster

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDirectory reads students from the "students" collection.
type MongoDirectory struct {
	col *mongo.Collection
}

// NewMongoDirectory binds the directory to a database.
func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{col: db.Collection("students")}
}

func (m *MongoDirectory) ActiveStudents(ctx context.Context, class Class, department string) ([]Student, error) {
	filter := bson.M{
		"department": department,
		"batch":      class.Batch,
		"level":      class.Level,
		"term":       class.Term,
		"section":    class.Section,
		"status":     StatusActive,
	}
	cur, err := m.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "rollNo", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var res []Student
	if err := cur.All(ctx, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (m *MongoDirectory) Student(ctx context.Context, id string) (Student, error) {
	var s Student
	err := m.col.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Student{}, ErrNotFound
	}
	return s, err
}

// UpsertStudent replaces or inserts a directory entry.
func (m *MongoDirectory) UpsertStudent(ctx context.Context, s Student) error {
	if s.Status == "" {
		s.Status = StatusActive
	}
	_, err := m.col.ReplaceOne(ctx, bson.M{"_id": s.ID}, s, options.Replace().SetUpsert(true))
	return err
}
