// Package repository declares the storage contracts the services depend on.
//
// Implementations live in subpackages:
//   - mongo:  users and credential records (production document store)
//   - sqlite: profile-image blobs on local disk
//   - deta:   profile-image blobs in Deta Drive
//
// Not-found conditions are reported as *apperror.AppError wrapping
// apperror.ErrNotFound, never as a nil result with a nil error.
package repository

import (
	"context"
	"io"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/sakif/code-inbox/internal/model"
)

type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*model.User, error)
	// Create inserts a user for email unless one exists. created reports
	// whether this call inserted the record. Concurrent calls for the same
	// email yield exactly one record.
	Create(ctx context.Context, email, fullName string) (user *model.User, created bool, err error)
	UpdateProfile(ctx context.Context, id primitive.ObjectID, upd model.ProfileUpdate) (*model.User, error)
	// ListScheduled returns active users with a recurring notification schedule.
	ListScheduled(ctx context.Context) ([]model.User, error)
}

type CredentialRepository interface {
	// AppendToken adds token to the user's record, creating the record on first use.
	AppendToken(ctx context.Context, userID primitive.ObjectID, token string) error
	HasToken(ctx context.Context, userID primitive.ObjectID, token string) (bool, error)
	// RemoveToken drops token from the user's record. Removing an absent
	// token is not an error.
	RemoveToken(ctx context.Context, userID primitive.ObjectID, token string) error
}

// BlobStore keeps opaque binary objects addressed by key.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	// Get returns apperror.ErrNotFound for a missing key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
