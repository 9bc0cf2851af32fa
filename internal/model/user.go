// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserStatus marks whether an account may sign in.
type UserStatus int

const (
	UserDisabled UserStatus = 0
	UserActive   UserStatus = 1
)

// UserRole separates regular accounts from administrators.
type UserRole string

const (
	RoleRegular UserRole = "regular"
	RoleAdmin   UserRole = "admin"
)

// DefaultLanguage is used for tutorials until the user picks a language.
const DefaultLanguage = "python"

// User represents a Code Inbox account.
//
// Nylas is the identity provider, so the email address returned by the OAuth
// exchange is the external identifier. It is unique (enforced by an index in
// the store) and never changes after the record is created.
//
// WHY primitive.ObjectID?
// The users live in MongoDB. ObjectIDs are generated client-side, sort by
// creation time and marshal to a 24-char hex string in JSON, so the API can
// hand them out as opaque IDs without a separate string column.
//
// The BSON field names match the collection layout the service has always
// used (creation_date / modified_date), so existing documents decode as-is.
type User struct {
	ID                   primitive.ObjectID `bson:"_id"                   json:"id"`
	FullName             string             `bson:"full_name"             json:"full_name"`
	Email                string             `bson:"email"                 json:"email"`
	Bio                  string             `bson:"bio"                   json:"bio"`
	Birthday             string             `bson:"birthday"              json:"birthday"`
	ProfilePicture       string             `bson:"profile_picture"       json:"profile_picture"` // blob key, e.g. user/<id>/profile.png
	PhoneNumber          string             `bson:"phone_number"          json:"phone_number"`
	ProgrammingLanguage  string             `bson:"programming_language"  json:"programming_language"`
	NotificationSchedule Cadence            `bson:"notification_schedule" json:"notification_schedule"`
	Status               UserStatus         `bson:"user_status"           json:"user_status"`
	Role                 UserRole           `bson:"user_role"             json:"user_role"`
	CreatedAt            time.Time          `bson:"creation_date"         json:"creation_date"`
	ModifiedAt           time.Time          `bson:"modified_date"         json:"modified_date"`
}

// Language returns the tutorial language, falling back to DefaultLanguage.
func (u *User) Language() string {
	if lang := strings.TrimSpace(u.ProgrammingLanguage); lang != "" {
		return lang
	}
	return DefaultLanguage
}

// NormalizeEmail lowercases and trims an address so lookups and scheduler keys agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ProfileUpdate carries a partial update of a User.
//
// PARTIAL UPDATE SEMANTICS:
// Every field is a pointer. nil means "leave the stored value alone", a
// non-nil pointer (even to "") means "overwrite". This is how PUT /user/profile
// distinguishes a missing JSON key from an explicit empty string.
type ProfileUpdate struct {
	FullName             *string  `json:"full_name"`
	Bio                  *string  `json:"bio"`
	Birthday             *string  `json:"birthday"`
	PhoneNumber          *string  `json:"phone_number"`
	ProgrammingLanguage  *string  `json:"programming_language"`
	NotificationSchedule *Cadence `json:"notification_schedule"`

	// ProfilePicture is set by the image upload, never from a request body.
	ProfilePicture *string `json:"-"`
}

// IsEmpty reports whether the update would change nothing.
func (p ProfileUpdate) IsEmpty() bool {
	return p.FullName == nil &&
		p.Bio == nil &&
		p.Birthday == nil &&
		p.PhoneNumber == nil &&
		p.ProgrammingLanguage == nil &&
		p.NotificationSchedule == nil &&
		p.ProfilePicture == nil
}

// TouchesSchedule reports whether the update changes what the scheduler runs.
func (p ProfileUpdate) TouchesSchedule() bool {
	return p.ProgrammingLanguage != nil || p.NotificationSchedule != nil
}

// Apply copies the provided fields onto u. Non-nil fields only.
func (p ProfileUpdate) Apply(u *User) {
	if p.FullName != nil {
		u.FullName = *p.FullName
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.Birthday != nil {
		u.Birthday = *p.Birthday
	}
	if p.PhoneNumber != nil {
		u.PhoneNumber = *p.PhoneNumber
	}
	if p.ProgrammingLanguage != nil {
		u.ProgrammingLanguage = *p.ProgrammingLanguage
	}
	if p.NotificationSchedule != nil {
		u.NotificationSchedule = *p.NotificationSchedule
	}
	if p.ProfilePicture != nil {
		u.ProfilePicture = *p.ProfilePicture
	}
}
