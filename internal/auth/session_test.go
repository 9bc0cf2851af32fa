package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/model"
)

// =========================================================================
// FAKES
// =========================================================================

type fakeUsers struct {
	byEmail map[string]*model.User
	err     error
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byEmail[email]
	if !ok {
		return nil, apperror.NotFound("user", email)
	}
	return u, nil
}

func (f *fakeUsers) FindByID(context.Context, primitive.ObjectID) (*model.User, error) {
	return nil, errors.New("not used")
}

func (f *fakeUsers) Create(context.Context, string, string) (*model.User, bool, error) {
	return nil, false, errors.New("not used")
}

func (f *fakeUsers) UpdateProfile(context.Context, primitive.ObjectID, model.ProfileUpdate) (*model.User, error) {
	return nil, errors.New("not used")
}

func (f *fakeUsers) ListScheduled(context.Context) ([]model.User, error) {
	return nil, nil
}

type fakeCreds struct {
	tokens map[primitive.ObjectID][]string
}

func (f *fakeCreds) AppendToken(_ context.Context, id primitive.ObjectID, tok string) error {
	f.tokens[id] = append(f.tokens[id], tok)
	return nil
}

func (f *fakeCreds) HasToken(_ context.Context, id primitive.ObjectID, tok string) (bool, error) {
	rec := &model.CredentialRecord{Tokens: f.tokens[id]}
	return rec.Has(tok), nil
}

func (f *fakeCreds) RemoveToken(context.Context, primitive.ObjectID, string) error { return nil }

func newTestAuthenticator(t *testing.T) (*Authenticator, *model.User, *fakeUsers) {
	t.Helper()
	user := &model.User{ID: primitive.NewObjectID(), Email: "ada@example.com", Status: model.UserActive}
	users := &fakeUsers{byEmail: map[string]*model.User{user.Email: user}}
	creds := &fakeCreds{tokens: map[primitive.ObjectID][]string{user.ID: {"good-token"}}}
	return NewAuthenticator(users, creds), user, users
}

// =========================================================================
// AUTHENTICATE
// =========================================================================

func TestAuthenticate(t *testing.T) {
	a, user, _ := newTestAuthenticator(t)

	tests := []struct {
		name    string
		email   string
		token   string
		wantErr bool
	}{
		{"valid pair", "ada@example.com", "good-token", false},
		{"email is case-insensitive", "ADA@example.com", "good-token", false},
		{"bearer prefix accepted", "ada@example.com", "Bearer good-token", false},
		{"unknown token", "ada@example.com", "stale-token", true},
		{"unknown email", "bob@example.com", "good-token", true},
		{"missing email", "", "good-token", true},
		{"missing token", "ada@example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := a.Authenticate(context.Background(), tt.email, tt.token)
			if tt.wantErr {
				assert.True(t, errors.Is(err, apperror.ErrUnauthorized), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, user.ID, sess.User.ID)
			assert.Equal(t, "good-token", sess.Token)
		})
	}
}

func TestAuthenticate_DisabledUser(t *testing.T) {
	a, user, _ := newTestAuthenticator(t)
	user.Status = model.UserDisabled

	_, err := a.Authenticate(context.Background(), user.Email, "good-token")
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestAuthenticate_StoreFailureIsNotUnauthorized(t *testing.T) {
	a, _, users := newTestAuthenticator(t)
	users.err = errors.New("connection refused")

	_, err := a.Authenticate(context.Background(), "ada@example.com", "good-token")
	require.Error(t, err)
	assert.False(t, errors.Is(err, apperror.ErrUnauthorized))
}

// =========================================================================
// MIDDLEWARE
// =========================================================================

func TestRequireSession(t *testing.T) {
	a, user, _ := newTestAuthenticator(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	var seen *Session
	h := RequireSession(a, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid headers reach the handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/nylas/read-emails", nil)
		req.Header.Set(HeaderEmail, user.Email)
		req.Header.Set(HeaderAuthorization, "good-token")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, user.Email, seen.User.Email)
	})

	t.Run("bad token is rejected with 401", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/api/v1/nylas/read-emails", nil)
		req.Header.Set(HeaderEmail, user.Email)
		req.Header.Set(HeaderAuthorization, "nope")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
		assert.Nil(t, seen)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Unauthorized User!", body["message"])
	})
}

func TestStripBearer(t *testing.T) {
	assert.Equal(t, "abc", StripBearer("abc"))
	assert.Equal(t, "abc", StripBearer("Bearer abc"))
	assert.Equal(t, "abc", StripBearer("bearer  abc "))
	assert.Equal(t, "Bearer", StripBearer("Bearer"))
}
