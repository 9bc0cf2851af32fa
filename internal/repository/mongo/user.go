package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/model"
	"github.com/sakif/code-inbox/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// FindByEmail looks a user up by normalized email. A miss is
// apperror.ErrNotFound.
func (db *DB) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	email = model.NormalizeEmail(email)

	var user model.User
	err := db.users.FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if isNoDocuments(err) {
		return nil, apperror.NotFound("user", email)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: finding user by email %s: %w", email, err)
	}
	return &user, nil
}

// FindByID looks a user up by ObjectID. A miss is apperror.ErrNotFound.
func (db *DB) FindByID(ctx context.Context, id primitive.ObjectID) (*model.User, error) {
	var user model.User
	err := db.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if isNoDocuments(err) {
		return nil, apperror.NotFound("user", id.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: finding user %s: %w", id.Hex(), err)
	}
	return &user, nil
}

// Create upserts a user keyed by email.
//
// HOW "created" IS DETECTED:
// We generate the ObjectID up front and put it in $setOnInsert. If the
// document comes back with our ID, this call inserted it. If it comes back
// with some other ID, the user already existed and nothing was written.
// All of this is one FindOneAndUpdate, so two concurrent exchanges for the
// same new email produce one document: the loser either matches the
// winner's document or hits the unique index and retries into a match.
// The email field itself is copied from the filter on insert.
func (db *DB) Create(ctx context.Context, email, fullName string) (*model.User, bool, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil, false, apperror.ValidationFailed("email", "email is required")
	}

	var (
		user  model.User
		newID primitive.ObjectID
	)
	err := retryOnDuplicate(func() error {
		newID = primitive.NewObjectID()
		now := db.now()
		update := bson.M{
			"$setOnInsert": bson.M{
				"_id":                   newID,
				"full_name":             fullName,
				"bio":                   "",
				"birthday":              "",
				"profile_picture":       "",
				"phone_number":          "",
				"programming_language":  "",
				"notification_schedule": model.CadenceUnset,
				"user_status":           model.UserActive,
				"user_role":             model.RoleRegular,
				"creation_date":         now,
				"modified_date":         now,
			},
		}
		opts := options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After)

		return db.users.FindOneAndUpdate(ctx, bson.M{"email": email}, update, opts).Decode(&user)
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil, false, apperror.Conflict("user", email, err)
	}
	if err != nil {
		return nil, false, fmt.Errorf("mongo: creating user %s: %w", email, err)
	}

	return &user, user.ID == newID, nil
}

// UpdateProfile $sets the provided fields and returns the updated document.
func (db *DB) UpdateProfile(ctx context.Context, id primitive.ObjectID, upd model.ProfileUpdate) (*model.User, error) {
	set := profileSet(upd)
	if len(set) == 0 {
		return db.FindByID(ctx, id)
	}
	set["modified_date"] = db.now()

	var user model.User
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := db.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&user)
	if isNoDocuments(err) {
		return nil, apperror.NotFound("user", id.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: updating user %s: %w", id.Hex(), err)
	}
	return &user, nil
}

// ListScheduled returns every active user with an hourly, daily, weekly or
// monthly cadence. Used to re-arm jobs at startup.
func (db *DB) ListScheduled(ctx context.Context) ([]model.User, error) {
	filter := bson.M{
		"user_status": model.UserActive,
		"notification_schedule": bson.M{"$in": []model.Cadence{
			model.CadenceHourly,
			model.CadenceDaily,
			model.CadenceWeekly,
			model.CadenceMonthly,
		}},
	}

	cur, err := db.users.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing scheduled users: %w", err)
	}
	defer cur.Close(ctx)

	users := []model.User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("mongo: decoding scheduled users: %w", err)
	}
	return users, nil
}

func profileSet(upd model.ProfileUpdate) bson.M {
	set := bson.M{}
	if upd.FullName != nil {
		set["full_name"] = *upd.FullName
	}
	if upd.Bio != nil {
		set["bio"] = *upd.Bio
	}
	if upd.Birthday != nil {
		set["birthday"] = *upd.Birthday
	}
	if upd.PhoneNumber != nil {
		set["phone_number"] = *upd.PhoneNumber
	}
	if upd.ProgrammingLanguage != nil {
		set["programming_language"] = *upd.ProgrammingLanguage
	}
	if upd.NotificationSchedule != nil {
		set["notification_schedule"] = *upd.NotificationSchedule
	}
	if upd.ProfilePicture != nil {
		set["profile_picture"] = *upd.ProfilePicture
	}
	return set
}
