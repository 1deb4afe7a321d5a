package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/pkg/cloudevents"
	"github.com/pos-platform/stock-service/pkg/idgen"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
	"github.com/pos-platform/stock-service/pkg/outbox"
	"github.com/pos-platform/stock-service/pkg/tracing"
)

const backend = "mongodb"

// fefoSort is the candidate order: expiry ascending with missing expiries
// last, then received time.
var fefoSort = bson.D{
	{Key: "noExpiry", Value: 1},
	{Key: "expiry", Value: 1},
	{Key: "receivedAt", Value: 1},
}

// Store is the MongoDB stock store. Calls made with a session context run
// inside that session's transaction; calls made without one commit on
// their own.
type Store struct {
	client    *mongo.Client
	batches   *mongo.Collection
	shortages *mongo.Collection
	outbox    *OutboxRepository

	events      *cloudevents.EventFactory
	outboxTopic string
	ids         idgen.Generator
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithOutbox queues a CloudEvent for topic whenever a shortage is recorded.
func WithOutbox(factory *cloudevents.EventFactory, topic string) Option {
	return func(s *Store) {
		s.events = factory
		s.outboxTopic = topic
	}
}

// WithIDGenerator sets the generator for batches received without an ID.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Store) { s.ids = g }
}

// WithMetrics records store operation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a Store over the client's database.
func NewStore(c *Client, logger *logging.Logger, opts ...Option) *Store {
	db := c.Database()
	s := &Store{
		client:    c.Client(),
		batches:   db.Collection(batchesCollection),
		shortages: db.Collection(shortagesCollection),
		outbox:    NewOutboxRepository(db),
		ids:       idgen.UUIDGenerator{Prefix: "BATCH-"},
		logger:    logger.WithComponent("mongodb-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outbox returns the repository the outbox publisher reads from.
func (s *Store) Outbox() *OutboxRepository {
	return s.outbox
}

// EnsureIndexes creates every index the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.batches.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: append(bson.D{{Key: "productCode", Value: 1}, {Key: "location", Value: 1}}, fefoSort...)},
	})
	if err != nil {
		return fmt.Errorf("failed to create batch indexes: %w", err)
	}
	_, err = s.shortages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "productCode", Value: 1}, {Key: "detectedAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create shortage indexes: %w", err)
	}
	return s.outbox.EnsureIndexes(ctx)
}

// observe wraps a store call in a span, a metric and a debug log.
func (s *Store) observe(ctx context.Context, op, collection string, fn func(ctx context.Context) error) error {
	spanCtx, span := tracing.StartSpan(ctx, "mongodb."+op, tracing.DatabaseSpanAttributes(backend, op, collection)...)
	// keep the session attached to the context the driver sees
	if sess := mongo.SessionFromContext(ctx); sess != nil {
		spanCtx = mongo.NewSessionContext(spanCtx, sess)
	}

	start := time.Now()
	err := fn(spanCtx)
	duration := time.Since(start)

	tracing.EndSpan(span, err)
	s.metrics.RecordStoreOperation(backend, op, err == nil, duration)
	s.logger.StoreOperation(ctx, backend, op, duration, err)
	return err
}

// inTransaction runs fn inside the caller's transaction when there is one,
// otherwise inside a new one.
func (s *Store) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	return err
}

func (s *Store) TotalAvailable(ctx context.Context, location domain.StockLocation, productCode string) (int, error) {
	var total int
	err := s.observe(ctx, "total_available", batchesCollection, func(ctx context.Context) error {
		pipeline := mongo.Pipeline{
			{{Key: "$match", Value: bson.M{"productCode": productCode, "location": string(location)}}},
			{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$quantity"}}}},
		}
		cursor, err := s.batches.Aggregate(ctx, pipeline)
		if err != nil {
			return fmt.Errorf("failed to sum batches: %w", err)
		}
		defer cursor.Close(ctx)

		var rows []struct {
			Total int `bson:"total"`
		}
		if err := cursor.All(ctx, &rows); err != nil {
			return fmt.Errorf("failed to decode batch total: %w", err)
		}
		if len(rows) > 0 {
			total = rows[0].Total
		}
		return nil
	})
	return total, err
}

func (s *Store) FindDeductionCandidates(ctx context.Context, productCode string, location domain.StockLocation) ([]domain.Batch, error) {
	var batches []domain.Batch
	err := s.observe(ctx, "find_candidates", batchesCollection, func(ctx context.Context) error {
		found, err := s.findBatches(ctx, productCode, location)
		batches = found
		return err
	})
	return batches, err
}

func (s *Store) findBatches(ctx context.Context, productCode string, location domain.StockLocation) ([]domain.Batch, error) {
	filter := bson.M{"productCode": productCode, "location": string(location), "quantity": bson.M{"$gt": 0}}
	cursor, err := s.batches.Find(ctx, filter, options.Find().SetSort(fefoSort))
	if err != nil {
		return nil, fmt.Errorf("failed to find batches: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []batchDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode batches: %w", err)
	}

	batches := make([]domain.Batch, len(docs))
	for i, doc := range docs {
		batches[i] = doc.toDomain()
	}
	return batches, nil
}

func (s *Store) DeductFromBatch(ctx context.Context, batchID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, qty)
	}
	return s.observe(ctx, "deduct", batchesCollection, func(ctx context.Context) error {
		return s.decrement(ctx, batchID, qty)
	})
}

// decrement takes qty from a batch only if the batch holds at least qty.
func (s *Store) decrement(ctx context.Context, batchID string, qty int) error {
	result, err := s.batches.UpdateOne(ctx,
		bson.M{"_id": batchID, "quantity": bson.M{"$gte": qty}},
		bson.M{
			"$inc": bson.M{"quantity": -qty},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to deduct from batch %s: %w", batchID, err)
	}
	if result.MatchedCount == 1 {
		return nil
	}

	var doc batchDocument
	err = s.batches.FindOne(ctx, bson.M{"_id": batchID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
	}
	if err != nil {
		return fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	return fmt.Errorf("%w: batch %s holds %d, asked for %d", domain.ErrBatchQuantityExceeded, batchID, doc.Quantity, qty)
}

func (s *Store) TransferStock(ctx context.Context, productCode string, from, to domain.StockLocation, qty int) error {
	if from == to {
		return domain.ErrSameLocationTransfer
	}
	if !from.IsValid() || !to.IsValid() {
		return domain.ErrInvalidLocation
	}

	return s.observe(ctx, "transfer", batchesCollection, func(ctx context.Context) error {
		return s.inTransaction(ctx, func(ctx context.Context) error {
			sources, err := s.findBatches(ctx, productCode, from)
			if err != nil {
				return err
			}
			plan, err := domain.PlanTransfer(sources, to, qty)
			if err != nil {
				return fmt.Errorf("transfer %d %s from %s: %w", qty, productCode, from, err)
			}

			now := time.Now().UTC()
			for _, slice := range plan {
				if err := s.decrement(ctx, slice.Source.ID, slice.Quantity); err != nil {
					return err
				}

				target := slice.Source
				target.ID = slice.TargetID
				target.Location = to
				doc := toBatchDocument(target, now)

				_, err := s.batches.UpdateOne(ctx,
					bson.M{"_id": slice.TargetID},
					bson.M{
						"$inc": bson.M{"quantity": slice.Quantity},
						"$set": bson.M{"updatedAt": now},
						"$setOnInsert": bson.M{
							"productCode": doc.ProductCode,
							"location":    doc.Location,
							"receivedAt":  doc.ReceivedAt,
							"expiry":      doc.Expiry,
							"noExpiry":    doc.NoExpiry,
						},
					},
					options.Update().SetUpsert(true),
				)
				if err != nil {
					return fmt.Errorf("failed to credit batch %s: %w", slice.TargetID, err)
				}
			}
			return nil
		})
	})
}

func (s *Store) ReceiveBatch(ctx context.Context, batch domain.Batch) error {
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	if err := batch.Validate(); err != nil {
		return err
	}
	if batch.ID == "" {
		batch.ID = s.ids.NewID()
	}

	return s.observe(ctx, "receive", batchesCollection, func(ctx context.Context) error {
		_, err := s.batches.InsertOne(ctx, toBatchDocument(batch, time.Now().UTC()))
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", domain.ErrBatchAlreadyExists, batch.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}
		return nil
	})
}

// RecordShortage stores the event and, with an outbox configured, queues
// its CloudEvent in the same transaction.
func (s *Store) RecordShortage(ctx context.Context, event *domain.ShortageEvent) error {
	return s.observe(ctx, "record_shortage", shortagesCollection, func(ctx context.Context) error {
		return s.inTransaction(ctx, func(ctx context.Context) error {
			_, err := s.shortages.InsertOne(ctx, toShortageDocument(event))
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("%w: %s", domain.ErrShortageAlreadyExists, event.ID)
			}
			if err != nil {
				return fmt.Errorf("failed to insert shortage: %w", err)
			}

			if s.events == nil {
				return nil
			}
			ce := s.events.CreateShortageDetectedEvent(ctx, event)
			ob, err := outbox.NewEvent(event.ProductCode, s.outboxTopic, ce)
			if err != nil {
				return fmt.Errorf("failed to build outbox event: %w", err)
			}
			return s.outbox.Save(ctx, ob)
		})
	})
}

// ListShortages returns shortages newest first. An empty product code
// lists every product; a non-positive limit returns all.
func (s *Store) ListShortages(ctx context.Context, productCode string, limit int) ([]*domain.ShortageEvent, error) {
	var events []*domain.ShortageEvent
	err := s.observe(ctx, "list_shortages", shortagesCollection, func(ctx context.Context) error {
		filter := bson.M{}
		if productCode != "" {
			filter["productCode"] = productCode
		}
		opts := options.Find().SetSort(bson.D{{Key: "detectedAt", Value: -1}})
		if limit > 0 {
			opts.SetLimit(int64(limit))
		}

		cursor, err := s.shortages.Find(ctx, filter, opts)
		if err != nil {
			return fmt.Errorf("failed to find shortages: %w", err)
		}
		defer cursor.Close(ctx)

		var docs []shortageDocument
		if err := cursor.All(ctx, &docs); err != nil {
			return fmt.Errorf("failed to decode shortages: %w", err)
		}
		for _, doc := range docs {
			events = append(events, doc.toDomain())
		}
		return nil
	})
	return events, err
}
