package model

import (
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CredentialRecord holds the Nylas access tokens currently valid for one user.
//
// A user can be signed in on several devices at once, so each successful
// OAuth exchange appends another token. Logout removes one. The record is
// kept even when Tokens is empty.
type CredentialRecord struct {
	ID         primitive.ObjectID `bson:"_id"           json:"id"`
	UserID     primitive.ObjectID `bson:"user"          json:"user"`
	Tokens     []string           `bson:"tokens"        json:"-"` // never serialised to clients
	CreatedAt  time.Time          `bson:"creation_date" json:"creation_date"`
	ModifiedAt time.Time          `bson:"modified_date" json:"modified_date"`
}

// Has reports whether token is one of the record's tokens.
func (c *CredentialRecord) Has(token string) bool {
	return c != nil && slices.Contains(c.Tokens, token)
}
