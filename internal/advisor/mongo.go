package advisor

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"classledger/internal/roster"
)

// MongoStore keeps assignments in "advisor_assignments" and the cache inside
// "faculty" documents. The one-active rule is a unique index with
// partialFilterExpression {active: true}.
type MongoStore struct {
	assignments *mongo.Collection
	faculty     *mongo.Collection
}

// NewMongoStore binds the store to a database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{assignments: db.Collection("advisor_assignments"), faculty: db.Collection("faculty")}
}

func tupleFilter(t roster.Tuple) bson.M {
	return bson.M{
		"department": t.Department,
		"batch":      t.Batch,
		"level":      t.Level,
		"term":       t.Term,
		"section":    t.Section,
	}
}

func (m *MongoStore) Insert(ctx context.Context, a Assignment) error {
	_, err := m.assignments.InsertOne(ctx, a)
	if mongo.IsDuplicateKeyError(err) {
		return ErrActiveExists
	}
	return err
}

func (m *MongoStore) FindActive(ctx context.Context, t roster.Tuple) (Assignment, error) {
	filter := tupleFilter(t)
	filter["active"] = true
	var a Assignment
	err := m.assignments.FindOne(ctx, filter).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Assignment{}, ErrNotFound
	}
	return a, err
}

func (m *MongoStore) Get(ctx context.Context, id string) (Assignment, error) {
	var a Assignment
	err := m.assignments.FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Assignment{}, ErrNotFound
	}
	return a, err
}

func (m *MongoStore) Deactivate(ctx context.Context, id, by string, at time.Time) (Assignment, error) {
	var a Assignment
	err := m.assignments.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "active": true},
		bson.M{"$set": bson.M{"active": false, "deactivatedDate": at, "deactivatedBy": by}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&a)
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return a, err
	}
	if _, err := m.Get(ctx, id); err != nil {
		return Assignment{}, err
	}
	return Assignment{}, ErrInactive
}

func (m *MongoStore) Delete(ctx context.Context, id string) (Assignment, error) {
	var a Assignment
	err := m.assignments.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Assignment{}, ErrNotFound
	}
	return a, err
}

func (m *MongoStore) List(ctx context.Context, f Filter) ([]Assignment, error) {
	filter := bson.M{}
	if f.FacultyID != "" {
		filter["facultyId"] = f.FacultyID
	}
	if f.Department != "" {
		filter["department"] = f.Department
	}
	if f.ClassKey != "" {
		c, err := roster.ParseKey(f.ClassKey)
		if err != nil {
			return nil, err
		}
		filter["batch"], filter["level"], filter["term"], filter["section"] = c.Batch, c.Level, c.Term, c.Section
	}
	if f.ActiveOnly {
		filter["active"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "assignedDate", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := m.assignments.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var res []Assignment
	if err := cur.All(ctx, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (m *MongoStore) Faculty(ctx context.Context, id string) (Faculty, error) {
	var f Faculty
	err := m.faculty.FindOne(ctx, bson.M{"_id": id}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Faculty{}, ErrNotFound
	}
	return f, err
}

func (m *MongoStore) FacultyIDs(ctx context.Context) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := m.faculty.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// SaveCache matches a missing cacheVersion as version zero so faculty
// imported without the field can still be written.
func (m *MongoStore) SaveCache(ctx context.Context, facultyID string, entries []CacheEntry, version int64) error {
	if entries == nil {
		entries = []CacheEntry{}
	}
	filter := bson.M{"_id": facultyID, "cacheVersion": version}
	if version == 0 {
		filter = bson.M{"_id": facultyID, "$or": bson.A{
			bson.M{"cacheVersion": 0},
			bson.M{"cacheVersion": bson.M{"$exists": false}},
		}}
	}
	res, err := m.faculty.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{"assignments": entries, "updatedAt": time.Now().UTC()},
		"$inc": bson.M{"cacheVersion": 1},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if _, err := m.Faculty(ctx, facultyID); err != nil {
		return err
	}
	return ErrCacheConflict
}

// UpsertFaculty creates or updates the profile fields, leaving the cache.
func (m *MongoStore) UpsertFaculty(ctx context.Context, f Faculty) error {
	_, err := m.faculty.UpdateOne(ctx,
		bson.M{"_id": f.ID},
		bson.M{
			"$set":         bson.M{"name": f.Name, "department": f.Department},
			"$setOnInsert": bson.M{"assignments": bson.A{}, "cacheVersion": int64(0)},
		},
		options.Update().SetUpsert(true))
	return err
}
