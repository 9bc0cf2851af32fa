// Package mongo implements the user and credential repositories on MongoDB.
//
// COLLECTIONS:
//   - user:         one document per account, unique index on email
//   - access_token: one document per user holding the live Nylas tokens,
//     unique index on user
//
// CONCURRENCY:
// Nothing here reads a document, edits it in Go and writes it back. Every
// mutation is a single server-side update ($push, $pull, $set, upsert with
// $setOnInsert). Two requests touching the same user can therefore never
// lose each other's writes, and the unique indexes turn a racing double
// insert into a duplicate-key error that the methods retry once.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	usersCollection  = "user"
	tokensCollection = "access_token"
)

// DB owns the client and the two collections. Both repository interfaces
// are implemented on it.
type DB struct {
	client *mongo.Client
	users  *mongo.Collection
	tokens *mongo.Collection
	now    func() time.Time
}

// New connects to uri, verifies the connection and ensures indexes exist.
func New(ctx context.Context, uri, database string) (*DB, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second).
		SetMaxPoolSize(50)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connecting: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: pinging: %w", err)
	}

	db := &DB{
		client: client,
		users:  client.Database(database).Collection(usersCollection),
		tokens: client.Database(database).Collection(tokensCollection),
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := db.migrate(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: running migrations: %w", err)
	}

	return db, nil
}

// Close disconnects the client.
func (db *DB) Close(ctx context.Context) error {
	return db.client.Disconnect(ctx)
}

// Ping is used by /healthz.
func (db *DB) Ping(ctx context.Context) error {
	return db.client.Ping(ctx, readpref.Primary())
}

// migrate creates the unique indexes. CreateOne is a no-op for an index
// that already exists with the same spec.
func (db *DB) migrate(ctx context.Context) error {
	_, err := db.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_email"),
	})
	if err != nil {
		return fmt.Errorf("creating user email index: %w", err)
	}

	_, err = db.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "notification_schedule", Value: 1}},
		Options: options.Index().SetName("idx_notification_schedule"),
	})
	if err != nil {
		return fmt.Errorf("creating user schedule index: %w", err)
	}

	_, err = db.tokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_user"),
	})
	if err != nil {
		return fmt.Errorf("creating access_token user index: %w", err)
	}
	return nil
}

// retryOnDuplicate runs fn and runs it once more if the first attempt lost
// an upsert race against a concurrent insert of the same unique key.
func retryOnDuplicate(fn func() error) error {
	err := fn()
	if err != nil && mongo.IsDuplicateKeyError(err) {
		err = fn()
	}
	return err
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
