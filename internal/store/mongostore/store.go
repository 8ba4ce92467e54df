// Package mongostore implements store.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ArCaneSec/watcher/internal/models"
	"github.com/ArCaneSec/watcher/internal/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	targetsCollection  = "watch_targets"
	checksCollection   = "content_checks"
	countersCollection = "counters"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Admin = (*Store)(nil)
)

func Open(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	s := &Store{client: client, db: client.Database(database)}
	if err := s.Migrate(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	urlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "url", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := s.db.Collection(targetsCollection).Indexes().CreateOne(ctx, urlIndex); err != nil {
		return fmt.Errorf("mongostore: create index for %s: %w", targetsCollection, err)
	}

	checkIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "target_id", Value: 1}, {Key: "checked_at", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "content_changed", Value: 1}, {Key: "checked_at", Value: -1}}},
	}
	if _, err := s.db.Collection(checksCollection).Indexes().CreateMany(ctx, checkIndexes); err != nil {
		return fmt.Errorf("mongostore: create indexes for %s: %w", checksCollection, err)
	}

	return nil
}

func (s *Store) Flush(ctx context.Context) error {
	for _, name := range []string{checksCollection, targetsCollection, countersCollection} {
		if err := s.db.Collection(name).Drop(ctx); err != nil {
			return fmt.Errorf("mongostore: drop %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// nextID hands out monotonically increasing ids per collection.
func (s *Store) nextID(ctx context.Context, collection string) (uint, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.db.Collection(countersCollection).FindOneAndUpdate(
		ctx,
		bson.M{"_id": collection},
		bson.M{"$inc": bson.M{"seq": 1}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("mongostore: next id for %s: %w", collection, err)
	}

	return uint(counter.Seq), nil
}

func (s *Store) CreateTarget(ctx context.Context, target *models.WatchTarget) error {
	id, err := s.nextID(ctx, targetsCollection)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	target.ID = id
	target.CreatedAt = now
	target.UpdatedAt = now

	if _, err := s.db.Collection(targetsCollection).InsertOne(ctx, target); err != nil {
		target.ID = 0
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicateURL
		}
		return fmt.Errorf("mongostore: insert target: %w", err)
	}

	return nil
}

func (s *Store) GetTarget(ctx context.Context, id uint) (*models.WatchTarget, error) {
	var t models.WatchTarget
	if err := s.db.Collection(targetsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		return nil, translate(err, "get target")
	}
	return &t, nil
}

func (s *Store) ListTargets(ctx context.Context, filter store.TargetFilter) ([]models.WatchTarget, error) {
	query := bson.M{}
	if filter.Enabled != nil {
		query["enabled"] = *filter.Enabled
	}

	cursor, err := s.db.Collection(targetsCollection).Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, translate(err, "list targets")
	}

	targets := []models.WatchTarget{}
	if err := cursor.All(ctx, &targets); err != nil {
		return nil, translate(err, "decode targets")
	}
	return targets, nil
}

func (s *Store) UpdateTarget(ctx context.Context, id uint, patch models.TargetPatch) (*models.WatchTarget, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	if patch.URL != nil {
		set["url"] = strings.TrimSpace(*patch.URL)
	}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.CheckIntervalSeconds != nil {
		set["check_interval_seconds"] = *patch.CheckIntervalSeconds
	}
	if patch.Enabled != nil {
		set["enabled"] = *patch.Enabled
	}
	update := bson.M{"$set": set}
	if patch.ClearName {
		update["$unset"] = bson.M{"name": ""}
	}

	var t models.WatchTarget
	err := s.db.Collection(targetsCollection).FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&t)
	if err != nil {
		return nil, translate(err, "update target")
	}
	return &t, nil
}

// DeleteTarget removes the target first so the scheduler stops resolving it,
// then its checks. Standalone servers have no multi-document transactions.
func (s *Store) DeleteTarget(ctx context.Context, id uint) error {
	res, err := s.db.Collection(targetsCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return translate(err, "delete target")
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}

	if _, err := s.db.Collection(checksCollection).DeleteMany(ctx, bson.M{"target_id": id}); err != nil {
		return translate(err, "delete checks")
	}
	return nil
}

func (s *Store) AppendCheck(ctx context.Context, check *models.ContentCheck) error {
	if check.ID != 0 {
		return fmt.Errorf("mongostore: check %d already persisted", check.ID)
	}

	id, err := s.nextID(ctx, checksCollection)
	if err != nil {
		return err
	}
	if check.CheckedAt.IsZero() {
		check.CheckedAt = time.Now().UTC()
	}

	check.ID = id
	if _, err := s.db.Collection(checksCollection).InsertOne(ctx, check); err != nil {
		check.ID = 0
		return translate(err, "insert check")
	}
	return nil
}

func (s *Store) GetCheck(ctx context.Context, id uint) (*models.ContentCheck, error) {
	var c models.ContentCheck
	if err := s.db.Collection(checksCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, translate(err, "get check")
	}
	return &c, nil
}

func newestFirst() bson.D {
	return bson.D{{Key: "checked_at", Value: -1}, {Key: "_id", Value: -1}}
}

func (s *Store) LatestCheck(ctx context.Context, targetID uint) (*models.ContentCheck, error) {
	var c models.ContentCheck
	err := s.db.Collection(checksCollection).FindOne(
		ctx,
		bson.M{"target_id": targetID},
		options.FindOne().SetSort(newestFirst()),
	).Decode(&c)
	if err != nil {
		return nil, translate(err, "latest check")
	}
	return &c, nil
}

func (s *Store) ListChecks(ctx context.Context, targetID uint, limit, offset int) ([]models.ContentCheck, error) {
	limit, offset = store.NormalizePage(limit, offset, store.DefaultChecksLimit)

	opts := options.Find().
		SetSort(newestFirst()).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	return s.findChecks(ctx, bson.M{"target_id": targetID}, opts)
}

func (s *Store) ListChanges(ctx context.Context, limit int) ([]models.ContentCheck, error) {
	limit, _ = store.NormalizePage(limit, 0, store.DefaultChangesLimit)

	opts := options.Find().
		SetSort(newestFirst()).
		SetLimit(int64(limit))

	return s.findChecks(ctx, bson.M{"content_changed": true}, opts)
}

func (s *Store) findChecks(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.ContentCheck, error) {
	cursor, err := s.db.Collection(checksCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, translate(err, "find checks")
	}

	checks := []models.ContentCheck{}
	if err := cursor.All(ctx, &checks); err != nil {
		return nil, translate(err, "decode checks")
	}
	return checks, nil
}

func translate(err error, op string) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return store.ErrDuplicateURL
	default:
		return fmt.Errorf("mongostore: %s: %w", op, err)
	}
}
