// Package handler contains the HTTP handlers of the Code Inbox API.
//
// Handlers only translate HTTP to service calls and back:
//
//	decode body / query → call service → writeJSON or writeError
//
// Every dependency is a small interface declared here, so tests can drive
// handlers with fakes and httptest without a database or Nylas.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/auth"
	"github.com/sakif/code-inbox/internal/model"
	"github.com/sakif/code-inbox/internal/nylas"
	"github.com/sakif/code-inbox/internal/service"
)

// AuthFlow is implemented by *service.AuthService.
type AuthFlow interface {
	AuthURL(email, successURL string) (string, error)
	ExchangeCode(ctx context.Context, code string) (*service.AuthResult, error)
	Logout(ctx context.Context, user *model.User, token string) error
}

// Onboarder is implemented by *service.UserService.
type Onboarder interface {
	Onboard(user *model.User, created bool)
}

// Mail is implemented by *service.MailService.
type Mail interface {
	ReadEmails(ctx context.Context, sess *auth.Session) (json.RawMessage, error)
	Mail(ctx context.Context, sess *auth.Session, messageID string) (json.RawMessage, error)
	SendEmail(ctx context.Context, sess *auth.Session, e service.OutgoingEmail) (json.RawMessage, error)
	Reply(ctx context.Context, sess *auth.Session, threadID, body string) (json.RawMessage, error)
	Search(ctx context.Context, sess *auth.Session, query string) (json.RawMessage, error)
	Labels(ctx context.Context, sess *auth.Session) (json.RawMessage, error)
	CreateLabel(ctx context.Context, sess *auth.Session, name, color string) (*nylas.Label, error)
	DeleteLabel(ctx context.Context, sess *auth.Session, labelID string) error
	MoveToFolder(ctx context.Context, sess *auth.Session, labelID string, threadIDs []string) error
	Contacts(ctx context.Context, sess *auth.Session) (json.RawMessage, error)
}

// Users is implemented by *service.UserService.
type Users interface {
	UpdateProfile(ctx context.Context, user *model.User, upd model.ProfileUpdate) (*model.User, error)
	UpdateLanguage(ctx context.Context, user *model.User, language string, cadence *model.Cadence) (*model.User, error)
	Unsubscribe(ctx context.Context, token string) (*model.User, error)
	UploadProfileImage(ctx context.Context, user *model.User, r io.Reader) (*model.User, error)
	ProfileImage(ctx context.Context, userID string) (io.ReadCloser, error)
}

// session returns the caller installed by auth.RequireSession. A route
// mounted without the middleware answers 401 instead of panicking.
func session(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*auth.Session, bool) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, logger, apperror.Unauthorized())
		return nil, false
	}
	return sess, true
}
