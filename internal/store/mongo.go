package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig locates the audit collection.
type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// MongoStore stores records as documents. Expiry is enforced by a TTL index
// on expiresAt and statistics are computed with an aggregation pipeline.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    logger.Logger
}

// NewMongoStore connects, verifies the primary is reachable and ensures indexes.
func NewMongoStore(ctx context.Context, cfg MongoConfig, log logger.Logger) (*MongoStore, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(50).
		SetMinPoolSize(5)

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		log:    log,
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	log.Info("Connected to MongoDB", logger.String("database", cfg.Database))
	return s, nil
}

func (s *MongoStore) Name() string { return "mongo" }

// EnsureIndexes creates the query, text and TTL indexes. It is idempotent.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	names, err := s.coll.Indexes().CreateMany(ctx, indexModels())
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	s.log.Debug("Ensured MongoDB indexes", logger.Strings("indexes", names))
	return nil
}

func (s *MongoStore) Insert(ctx context.Context, rec *audit.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := s.coll.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return &audit.ValidationError{Field: "id", Message: "record already exists"}
	}
	return err
}

func (s *MongoStore) Get(ctx context.Context, id string) (*audit.Record, error) {
	var rec audit.Record
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &audit.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MongoStore) Find(ctx context.Context, f audit.Filter, p audit.Page) ([]*audit.Record, int64, error) {
	p = p.Normalize()
	query := mongoFilter(f)

	total, err := s.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	var cur *mongo.Cursor
	if p.Sort == audit.SortSeverity {
		cur, err = s.coll.Aggregate(ctx, severityPagePipeline(f, p))
	} else {
		opts := options.Find().
			SetSort(mongoSort(p.Sort)).
			SetSkip(int64(p.Offset)).
			SetLimit(int64(p.Limit))
		cur, err = s.coll.Find(ctx, query, opts)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query records: %w", err)
	}

	out := make([]*audit.Record, 0, p.Limit)
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, fmt.Errorf("failed to decode records: %w", err)
	}
	return out, total, nil
}

func (s *MongoStore) Scan(ctx context.Context, f audit.Filter, fn func(*audit.Record) error) error {
	cur, err := s.coll.Find(ctx, mongoFilter(f), options.Find().SetSort(mongoSort(audit.SortNewest)))
	if err != nil {
		return fmt.Errorf("failed to query records: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var rec audit.Record
		if err := cur.Decode(&rec); err != nil {
			return fmt.Errorf("failed to decode record: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (s *MongoStore) Update(ctx context.Context, id string, fn func(*audit.Record) error) (*audit.Record, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := applyUpdate(current, fn)
	if err != nil {
		return nil, err
	}
	res, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, next)
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, &audit.NotFoundError{ID: id}
	}
	return next, nil
}

func (s *MongoStore) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.D{
			{Key: "timestamp", Value: bson.D{{Key: "$lt", Value: cutoff}}},
			{Key: "flags.isArchived", Value: bson.D{{Key: "$ne", Value: true}}},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "flags.isArchived", Value: true}}}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to archive records: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) DeleteArchivedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{
		{Key: "timestamp", Value: bson.D{{Key: "$lt", Value: cutoff}}},
		{Key: "flags.isArchived", Value: true},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge records: %w", err)
	}
	return res.DeletedCount, nil
}

// Statistics runs the overview and breakdowns server-side in a single $facet.
func (s *MongoStore) Statistics(ctx context.Context, from, to time.Time) (*audit.Statistics, error) {
	cur, err := s.coll.Aggregate(ctx, statisticsPipeline(from, to))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate statistics: %w", err)
	}
	var docs []statsFacetDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode statistics: %w", err)
	}
	if len(docs) == 0 {
		return statsFacetDoc{}.toStatistics(from, to), nil
	}
	return docs[0].toStatistics(from, to), nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
