package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/code-inbox/internal/model"
	"github.com/sakif/code-inbox/internal/repository"
)

var _ repository.CredentialRepository = (*DB)(nil)

// AppendToken pushes token onto the user's record in one upsert. The first
// login creates the record, later logins add to it. Duplicate tokens are
// allowed; RemoveToken removes every copy.
func (db *DB) AppendToken(ctx context.Context, userID primitive.ObjectID, token string) error {
	err := retryOnDuplicate(func() error {
		now := db.now()
		update := bson.M{
			"$push":        bson.M{"tokens": token},
			"$set":         bson.M{"modified_date": now},
			"$setOnInsert": bson.M{"creation_date": now},
		}
		_, err := db.tokens.UpdateOne(ctx, bson.M{"user": userID}, update, options.Update().SetUpsert(true))
		return err
	})
	if err != nil {
		return fmt.Errorf("mongo: appending token for user %s: %w", userID.Hex(), err)
	}
	return nil
}

// HasToken reports whether token is live for the user. A user who never
// signed in has no record and therefore no live token.
func (db *DB) HasToken(ctx context.Context, userID primitive.ObjectID, token string) (bool, error) {
	rec, err := db.credentials(ctx, userID)
	if isNoDocuments(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mongo: checking token for user %s: %w", userID.Hex(), err)
	}
	return rec.Has(token), nil
}

// RemoveToken pulls every copy of token in one update. The filter only
// matches records holding the token, so an absent token writes nothing.
func (db *DB) RemoveToken(ctx context.Context, userID primitive.ObjectID, token string) error {
	update := bson.M{
		"$pull": bson.M{"tokens": token},
		"$set":  bson.M{"modified_date": db.now()},
	}
	_, err := db.tokens.UpdateOne(ctx, bson.M{"user": userID, "tokens": token}, update)
	if err != nil {
		return fmt.Errorf("mongo: removing token for user %s: %w", userID.Hex(), err)
	}
	return nil
}

// credentials loads the user's record. The error is mongo.ErrNoDocuments
// when the user never signed in.
func (db *DB) credentials(ctx context.Context, userID primitive.ObjectID) (*model.CredentialRecord, error) {
	var rec model.CredentialRecord
	if err := db.tokens.FindOne(ctx, bson.M{"user": userID}).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
