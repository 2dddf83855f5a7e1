package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoOpTimeout = 5 * time.Second

// MongoStore runs every unit of work as a multi-document transaction.
// Transactions need a replica set or sharded cluster.
type MongoStore struct {
	db  *MongoDB
	now func() time.Time
}

// NewMongoStore wraps a connected database
func NewMongoStore(db *MongoDB) *MongoStore {
	return &MongoStore{db: db, now: time.Now}
}

// Begin starts a session and a transaction on it
func (s *MongoStore) Begin(ctx context.Context) (Tx, error) {
	sess, err := s.db.Client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return &mongoTx{db: s.db, sess: sess, now: s.now().Unix()}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.db.Disconnect(ctx)
}

type mongoTx struct {
	db   *MongoDB
	sess mongo.Session
	now  int64
	done bool
}

func (t *mongoTx) Checks() CheckRepository     { return mongoChecks{t} }
func (t *mongoTx) Results() ResultRepository   { return mongoResults{t} }
func (t *mongoTx) Services() ServiceRepository { return mongoServices{t} }
func (t *mongoTx) Now() int64                  { return t.now }

// ctx binds the session so operations join the transaction
func (t *mongoTx) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(mongo.NewSessionContext(ctx, t.sess), mongoOpTimeout)
}

func (t *mongoTx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	defer t.sess.EndSession(ctx)

	if err := t.sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *mongoTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.sess.EndSession(ctx)

	if err := t.sess.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("failed to abort transaction: %w", err)
	}
	return nil
}

type mongoChecks struct{ tx *mongoTx }

func (r mongoChecks) collection() *mongo.Collection {
	return r.tx.db.GetCollection(CollectionChecks)
}

func (r mongoChecks) Add(ctx context.Context, check *model.Check) error {
	ctxTimeout, cancel := r.tx.ctx(ctx)
	defer cancel()

	doc := check.Clone()
	_, err := r.collection().ReplaceOne(ctxTimeout, bson.M{"_id": doc.CheckID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save check %d: %w", check.CheckID, err)
	}
	return nil
}

func (r mongoChecks) Get(ctx context.Context, checkID int64) (*model.Check, error) {
	ctxTimeout, cancel := r.tx.ctx(ctx)
	defer cancel()

	var check model.Check
	err := r.collection().FindOne(ctxTimeout, bson.M{"_id": checkID}).Decode(&check)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get check %d: %w", checkID, err)
	}
	return normalizeCheck(&check), nil
}

func (r mongoChecks) List(ctx context.Context) ([]*model.Check, error) {
	return r.find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

// claimableStatus matches idle documents and processing documents that never recorded a start
func claimableStatus() bson.A {
	return bson.A{
		bson.M{"status": bson.M{"$ne": string(model.CheckStatusProcessing)}},
		bson.M{"processing_started_at": bson.M{"$in": bson.A{0, nil}}},
	}
}

func (r mongoChecks) ListDue(ctx context.Context, now int64) ([]*model.Check, error) {
	filter := bson.M{
		"disabled":        bson.M{"$ne": true},
		"$or":             claimableStatus(),
		"next_check_time": bson.M{"$lte": now},
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "next_check_time", Value: 1},
		{Key: "_id", Value: 1},
	})
	return r.find(ctx, filter, opts)
}

func (r mongoChecks) ListByService(ctx context.Context, serviceID int64) ([]*model.Check, error) {
	return r.find(ctx, bson.M{"service_id": serviceID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

// Claim flips an idle check to processing. The status filter makes the update conditional.
func (r mongoChecks) Claim(ctx context.Context, checkID, now int64) (bool, error) {
	ctxTimeout, cancel := r.tx.ctx(ctx)
	defer cancel()

	if now <= 0 {
		now = 1
	}
	filter := bson.M{
		"_id":      checkID,
		"$or":      claimableStatus(),
		"disabled": bson.M{"$ne": true},
	}
	update := bson.M{
		"$set": bson.M{
			"status":                string(model.CheckStatusProcessing),
			"processing_started_at": now,
		},
	}

	result, err := r.collection().UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to claim check %d: %w", checkID, err)
	}
	if result.MatchedCount == 1 {
		return true, nil
	}

	count, err := r.collection().CountDocuments(ctxTimeout, bson.M{"_id": checkID})
	if err != nil {
		return false, fmt.Errorf("failed to claim check %d: %w", checkID, err)
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (r mongoChecks) Delete(ctx context.Context, checkID int64) error {
	ctxTimeout, cancel := r.tx.ctx(ctx)
	defer cancel()

	result, err := r.collection().DeleteOne(ctxTimeout, bson.M{"_id": checkID})
	if err != nil {
		return fmt.Errorf("failed to delete check %d: %w", checkID, err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}

	_, err = r.tx.db.GetCollection(CollectionResults).DeleteMany(ctxTimeout, bson.M{"check_id": checkID})
	if err != nil {
		return fmt.Errorf("failed to delete results of check %d: %w", checkID, err)
	}
	return nil
}

func (r mongoChecks) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.Check, error) {
	ctxTimeout, cancel := r.tx.ctx(ctx)
	defer cancel()

	cursor, err := r.collection().Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find checks: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var checks []*model.Check
	for cursor.Next(ctxTimeout) {
		var check model.Check
		if err := cursor.Decode(&check); err != nil {
			return nil, fmt.Errorf("failed to decode check: %w", err)
		}
		checks = append(checks, normalizeCheck(&check))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return checks, nil
}

type mongoResults struct{ tx *mongoTx }

func (r mongoResults) collection() *mongo.Collection {
	return r.tx.db.GetCollection(CollectionResults)
}

func (r mongoResults) Add(ctx context.Context, result model.Result) error {
	ctxTimeout, cancel := r.tx.ctx(ctx)
	defer cancel()

	if _, err := r.collection().InsertOne(ctxTimeout, cloneResult(result)); err != nil {
		return fmt.Errorf("failed to save result for check %d: %w", result.CheckID, err)
	}
	return nil
}

func (r mongoResults) ListByCheck(ctx context.Context, checkID int64, limit int) ([]model.Result, error) {
	ctxTimeout, cancel := r.tx.ctx(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection().Find(ctxTimeout, bson.M{"check_id": checkID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find results: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var results []model.Result
	for cursor.Next(ctxTimeout) {
		var res model.Result
		if err := cursor.Decode(&res); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		res.Data = plainMap(res.Data)
		results = append(results, res)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return results, nil
}

func (r mongoResults) LatestStatuses(ctx context.Context, checkIDs []int64) (map[int64]model.ResultStatus, error) {
	statuses := make(map[int64]model.ResultStatus, len(checkIDs))
	if len(checkIDs) == 0 {
		return statuses, nil
	}

	ctxTimeout, cancel := r.tx.ctx(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"check_id": bson.M{"$in": checkIDs}}}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$check_id"},
			{Key: "status", Value: bson.M{"$first": "$status"}},
		}}},
	}

	cursor, err := r.collection().Aggregate(ctxTimeout, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate latest statuses: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	for cursor.Next(ctxTimeout) {
		var row struct {
			CheckID int64  `bson:"_id"`
			Status  string `bson:"status"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode status: %w", err)
		}
		statuses[row.CheckID] = model.ResultStatus(row.Status)
	}
	return statuses, cursor.Err()
}

func (r mongoResults) DeleteOld(ctx context.Context, retentionSeconds int64, batchSize int) (int, error) {
	ctxTimeout, cancel := r.tx.ctx(ctx)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetProjection(bson.M{"_id": 1})
	if batchSize > 0 {
		opts.SetLimit(int64(batchSize))
	}

	cursor, err := r.collection().Find(ctxTimeout, bson.M{"created_at": bson.M{"$lt": r.tx.now - retentionSeconds}}, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to find old results: %w", err)
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctxTimeout, &rows); err != nil {
		return 0, fmt.Errorf("failed to read old results: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	result, err := r.collection().DeleteMany(ctxTimeout, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old results: %w", err)
	}
	return int(result.DeletedCount), nil
}

type mongoServices struct{ tx *mongoTx }

func (r mongoServices) collection() *mongo.Collection {
	return r.tx.db.GetCollection(CollectionServices)
}

func (r mongoServices) Add(ctx context.Context, service *model.Service) error {
	ctxTimeout, cancel := r.tx.ctx(ctx)
	defer cancel()

	_, err := r.collection().ReplaceOne(ctxTimeout, bson.M{"_id": service.ServiceID}, service.Clone(), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save service %d: %w", service.ServiceID, err)
	}
	return nil
}

func (r mongoServices) Get(ctx context.Context, serviceID int64) (*model.Service, error) {
	ctxTimeout, cancel := r.tx.ctx(ctx)
	defer cancel()

	var svc model.Service
	if err := r.collection().FindOne(ctxTimeout, bson.M{"_id": serviceID}).Decode(&svc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get service %d: %w", serviceID, err)
	}
	return &svc, nil
}

func (r mongoServices) List(ctx context.Context) ([]*model.Service, error) {
	ctxTimeout, cancel := r.tx.ctx(ctx)
	defer cancel()

	cursor, err := r.collection().Find(ctxTimeout, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find services: %w", err)
	}
	var services []*model.Service
	if err := cursor.All(ctxTimeout, &services); err != nil {
		return nil, fmt.Errorf("failed to decode services: %w", err)
	}
	return services, nil
}

func normalizeCheck(c *model.Check) *model.Check {
	c.Data = plainMap(c.Data)
	c.Normalize()
	return c
}

// plainMap converts decoded BSON containers into plain maps and slices
func plainMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch val := v.(type) {
	case primitive.M:
		return plainMap(val)
	case map[string]any:
		return plainMap(val)
	case primitive.D:
		return plainMap(val.Map())
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = plainValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = plainValue(item)
		}
		return out
	case int32:
		return int64(val)
	}
	return v
}
