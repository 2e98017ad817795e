package attendance

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"classledger/internal/day"
)

// MongoStore keeps claims in "attendance_days" and records in "attendance".
// Unique indexes on both are created by store.EnsureIndexes. Commits and
// edits run in transactions, so the server must be a replica set.
type MongoStore struct {
	days    *mongo.Collection
	records *mongo.Collection
}

// NewMongoStore binds the ledger to a database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{days: db.Collection("attendance_days"), records: db.Collection("attendance")}
}

func claimFilter(classKey string, d day.Day) bson.M {
	return bson.M{"classKey": classKey, "day": d.String()}
}

func keyFilter(k Key) bson.M {
	return bson.M{"studentId": k.StudentID, "classKey": k.ClassKey, "day": k.Day.String()}
}

func (m *MongoStore) ClaimDay(ctx context.Context, c DayClaim) (DayClaim, error) {
	_, err := m.days.InsertOne(ctx, c)
	if err == nil {
		return c, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return DayClaim{}, err
	}
	existing, err := m.GetDay(ctx, c.ClassKey, c.Day)
	if errors.Is(err, ErrNotFound) {
		return c, ErrClaimExists
	}
	if err != nil {
		return DayClaim{}, err
	}
	return existing, ErrClaimExists
}

func (m *MongoStore) ReclaimDay(ctx context.Context, prev, next DayClaim) error {
	filter := claimFilter(prev.ClassKey, prev.Day)
	filter["state"] = ClaimPending
	filter["batchId"] = prev.BatchID
	filter["claimedAt"] = prev.ClaimedAt
	res, err := m.days.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"batchId":    next.BatchID,
		"facultyId":  next.FacultyID,
		"claimedAt":  next.ClaimedAt,
		"department": next.Department,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrClaimLost
	}
	return nil
}

func (m *MongoStore) GetDay(ctx context.Context, classKey string, d day.Day) (DayClaim, error) {
	var c DayClaim
	err := m.days.FindOne(ctx, claimFilter(classKey, d)).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return DayClaim{}, ErrNotFound
	}
	return c, err
}

func (m *MongoStore) Claims(ctx context.Context, classKey string, from, to day.Day) ([]DayClaim, error) {
	filter := bson.M{"classKey": classKey, "day": bson.M{"$gte": from.String(), "$lte": to.String()}}
	cur, err := m.days.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "day", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var res []DayClaim
	if err := cur.All(ctx, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// inTx runs fn in a session transaction, which needs a replica set. The
// driver retries fn on transient write conflicts.
func (m *MongoStore) inTx(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := m.days.Database().Client().StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// CommitDay completes the pending claim and replaces the batch records in
// one transaction. A late writer conflicts on the claim document and, once
// retried, no longer matches it.
func (m *MongoStore) CommitDay(ctx context.Context, claim DayClaim, records []Record, at time.Time) error {
	filter := claimFilter(claim.ClassKey, claim.Day)
	filter["state"] = ClaimPending
	filter["batchId"] = claim.BatchID
	models := make([]mongo.WriteModel, 0, len(records))
	for _, r := range records {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(keyFilter(r.Key)).
			SetReplacement(r).
			SetUpsert(true))
	}

	return m.inTx(ctx, func(sc mongo.SessionContext) error {
		res, err := m.days.UpdateOne(sc, filter, bson.M{"$set": bson.M{"state": ClaimComplete, "completedAt": at}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrClaimLost
		}
		if len(models) == 0 {
			return nil
		}
		_, err = m.records.BulkWrite(sc, models, options.BulkWrite().SetOrdered(true))
		return err
	})
}

// UpdateStatuses bumps editVersion on the complete claim before touching
// records, so concurrent edits of one class-day conflict and run in turn.
// Each update is a pipeline so the Absent to Present reason clear is
// evaluated against the stored status.
func (m *MongoStore) UpdateStatuses(ctx context.Context, updates []StatusUpdate) ([]Key, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	first := updates[0].Key
	claim := claimFilter(first.ClassKey, first.Day)
	claim["state"] = ClaimComplete

	var matched []Key
	err := m.inTx(ctx, func(sc mongo.SessionContext) error {
		matched = matched[:0]
		res, err := m.days.UpdateOne(sc, claim, bson.M{"$inc": bson.M{"editVersion": 1}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return nil
		}
		for _, u := range updates {
			set := bson.D{
				{Key: "status", Value: string(u.Status)},
				{Key: "facultyId", Value: u.FacultyID},
				{Key: "updatedBy", Value: string(u.UpdatedBy)},
				{Key: "updatedAt", Value: u.UpdatedAt},
			}
			if u.Status == StatusPresent {
				set = append(bson.D{{Key: "reason", Value: bson.D{{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$eq", Value: bson.A{"$status", string(StatusAbsent)}}},
					"",
					"$reason",
				}}}}}, set...)
			}
			res, err := m.records.UpdateOne(sc, keyFilter(u.Key), mongo.Pipeline{{{Key: "$set", Value: set}}})
			if err != nil {
				return err
			}
			if res.MatchedCount > 0 {
				matched = append(matched, u.Key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

func (m *MongoStore) GetRecord(ctx context.Context, k Key) (Record, error) {
	var r Record
	err := m.records.FindOne(ctx, keyFilter(k)).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (m *MongoStore) find(ctx context.Context, filter bson.M, sort bson.D) ([]Record, error) {
	cur, err := m.records.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, err
	}
	var res []Record
	if err := cur.All(ctx, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (m *MongoStore) Records(ctx context.Context, classKey string, d day.Day) ([]Record, error) {
	return m.find(ctx, claimFilter(classKey, d), bson.D{{Key: "rollNo", Value: 1}})
}

func (m *MongoStore) ClassRecords(ctx context.Context, classKey string, from, to day.Day) ([]Record, error) {
	return m.find(ctx,
		bson.M{"classKey": classKey, "day": bson.M{"$gte": from.String(), "$lte": to.String()}},
		bson.D{{Key: "day", Value: 1}, {Key: "rollNo", Value: 1}})
}

func (m *MongoStore) StudentRecords(ctx context.Context, studentID string, from, to day.Day) ([]Record, error) {
	return m.find(ctx,
		bson.M{"studentId": studentID, "day": bson.M{"$gte": from.String(), "$lte": to.String()}},
		bson.D{{Key: "day", Value: 1}, {Key: "classKey", Value: 1}})
}

func (m *MongoStore) SetReason(ctx context.Context, k Key, reason string, by UpdatedBy, at time.Time) error {
	filter := keyFilter(k)
	filter["status"] = StatusAbsent
	res, err := m.records.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"reason":    reason,
		"updatedBy": by,
		"updatedAt": at,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if _, err := m.GetRecord(ctx, k); err != nil {
		return err
	}
	return ErrNotAbsent
}

func (m *MongoStore) SetAction(ctx context.Context, k Key, action, facultyID string, by UpdatedBy, at time.Time) error {
	res, err := m.records.UpdateOne(ctx, keyFilter(k), bson.M{"$set": bson.M{
		"actionTaken": action,
		"facultyId":   facultyID,
		"updatedBy":   by,
		"updatedAt":   at,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
