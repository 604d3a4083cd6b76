// Package mongostore implements the remote document store on MongoDB.
//
// Documents keep their id in both "_id" and "id". BatchWrite runs in a
// multi-document transaction, which needs a replica set or sharded cluster.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/logger"
	"github.com/listenupapp/gallery/internal/remote"
)

// Options configures Open.
type Options struct {
	URI          string
	Database     string
	MaxBatchSize int
	Logger       *slog.Logger
}

// Store is a remote.Store backed by a MongoDB database.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	maxBatch int
	logger   *slog.Logger
}

var _ remote.Store = (*Store)(nil)

// Open connects and pings the server.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Database == "" {
		return nil, domainerrors.Validation("mongo database name is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, remote.Unreachable(err, "ping")
	}

	maxBatch := opts.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = remote.DefaultMaxBatchSize
	}
	return &Store{
		client:   client,
		db:       client.Database(opts.Database),
		maxBatch: maxBatch,
		logger:   logger.OrDiscard(opts.Logger),
	}, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// MaxBatchSize implements remote.Store.
func (s *Store) MaxBatchSize() int { return s.maxBatch }

// Create implements remote.Store.
func (s *Store) Create(ctx context.Context, collection string, doc remote.Document) (string, error) {
	doc = doc.WithID(doc.ID())
	id := doc.ID()
	if err := remote.CheckKey(collection, id); err != nil {
		return "", err
	}
	_, err := s.db.Collection(collection).InsertOne(ctx, toBSON(id, doc))
	if mongo.IsDuplicateKeyError(err) {
		return "", domainerrors.Conflictf("%s/%s already exists", collection, id)
	}
	if err != nil {
		return "", remote.Unreachable(err, "create")
	}
	return id, nil
}

// Get implements remote.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	if err := remote.CheckKey(collection, id); err != nil {
		return nil, err
	}
	raw, err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, remote.Unreachable(err, "get")
	}
	return fromBSON(raw)
}

// Update implements remote.Store.
func (s *Store) Update(ctx context.Context, collection, id string, patch remote.Document) error {
	if err := remote.CheckKey(collection, id); err != nil {
		return err
	}
	return s.update(ctx, collection, id, patch)
}

func (s *Store) update(ctx context.Context, collection, id string, patch remote.Document) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": setFields(patch)})
	if err != nil {
		return remote.Unreachable(err, "update")
	}
	if res.MatchedCount == 0 {
		return domainerrors.NotFoundf("%s/%s not found", collection, id)
	}
	return nil
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := remote.CheckKey(collection, id); err != nil {
		return err
	}
	if _, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return remote.Unreachable(err, "delete")
	}
	return nil
}

// Query implements remote.Store.
func (s *Store) Query(ctx context.Context, collection string, where remote.Filter) ([]remote.Document, error) {
	if collection == "" {
		return nil, domainerrors.Validation("collection is required")
	}
	filter := bson.M{}
	for k, v := range where {
		filter[k] = v
	}

	cursor, err := s.db.Collection(collection).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, remote.Unreachable(err, "query")
	}
	defer cursor.Close(ctx)

	var docs []remote.Document
	for cursor.Next(ctx) {
		doc, err := fromBSON(cursor.Current)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, remote.Unreachable(err, "query")
	}
	return docs, nil
}

// BatchWrite implements remote.Store inside a session transaction.
func (s *Store) BatchWrite(ctx context.Context, ops []remote.Op) error {
	if err := remote.CheckBatch(ops, s.maxBatch); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return remote.Unreachable(err, "start session")
	}
	defer sess.EndSession(ctx)

	start := time.Now()
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		for _, op := range ops {
			coll := s.db.Collection(op.Collection)
			switch op.Kind {
			case remote.OpSet:
				_, err := coll.ReplaceOne(ctx, bson.M{"_id": op.ID}, toBSON(op.ID, op.Doc.WithID(op.ID)),
					options.Replace().SetUpsert(true))
				if err != nil {
					return nil, remote.Unreachable(err, "set")
				}
			case remote.OpUpdate:
				if err := s.update(ctx, op.Collection, op.ID, op.Doc); err != nil {
					return nil, err
				}
			case remote.OpDelete:
				if _, err := coll.DeleteOne(ctx, bson.M{"_id": op.ID}); err != nil {
					return nil, remote.Unreachable(err, "delete")
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		var domainErr *domainerrors.Error
		if errors.As(err, &domainErr) {
			return err
		}
		return remote.Unreachable(err, "batch write")
	}
	s.logger.Debug("batch committed", "ops", len(ops), "duration", time.Since(start))
	return nil
}

func toBSON(id string, doc remote.Document) bson.M {
	out := bson.M{"_id": id}
	for k, v := range doc {
		out[k] = v
	}
	out["id"] = id
	return out
}

func setFields(patch remote.Document) bson.M {
	out := bson.M{}
	for k, v := range patch {
		if k == "id" || k == "_id" {
			continue
		}
		out[k] = v
	}
	return out
}

// fromBSON converts a stored document through relaxed extended JSON so
// nested values come back as plain maps, slices and float64 numbers.
func fromBSON(raw bson.Raw) (remote.Document, error) {
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "decode bson document")
	}
	doc, err := remote.Unmarshal(data)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "decode bson document")
	}
	delete(doc, "_id")
	return doc, nil
}
