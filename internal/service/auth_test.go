package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/auth"
	"github.com/sakif/code-inbox/internal/model"
	"github.com/sakif/code-inbox/internal/nylas"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository.
type fakeUserRepo struct {
	mu        sync.Mutex
	byID      map[primitive.ObjectID]*model.User
	createErr error
	findErr   error
	updateErr error
	updates   []model.ProfileUpdate
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: make(map[primitive.ObjectID]*model.User)}
}

func (f *fakeUserRepo) add(u model.User) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if u.Status == 0 {
		u.Status = model.UserActive
	}
	f.byID[u.ID] = &u
	c := u
	return &c
}

func (f *fakeUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, u := range f.byID {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) FindByID(_ context.Context, id primitive.ObjectID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFound("user", id.Hex())
	}
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) Create(_ context.Context, email, fullName string) (*model.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, false, f.createErr
	}
	for _, u := range f.byID {
		if u.Email == email {
			c := *u
			return &c, false, nil
		}
	}
	u := &model.User{
		ID:        primitive.NewObjectID(),
		Email:     email,
		FullName:  fullName,
		Status:    model.UserActive,
		Role:      model.RoleRegular,
		CreatedAt: time.Now(),
	}
	f.byID[u.ID] = u
	c := *u
	return &c, true, nil
}

func (f *fakeUserRepo) UpdateProfile(_ context.Context, id primitive.ObjectID, upd model.ProfileUpdate) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFound("user", id.Hex())
	}
	f.updates = append(f.updates, upd)
	upd.Apply(u)
	u.ModifiedAt = time.Now()
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) ListScheduled(context.Context) ([]model.User, error) {
	return nil, nil
}

func (f *fakeUserRepo) get(t *testing.T, id primitive.ObjectID) model.User {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	require.True(t, ok)
	return *u
}

// fakeCredRepo is an in-memory repository.CredentialRepository.
type fakeCredRepo struct {
	mu        sync.Mutex
	tokens    map[primitive.ObjectID][]string
	appendErr error
}

func newFakeCredRepo() *fakeCredRepo {
	return &fakeCredRepo{tokens: make(map[primitive.ObjectID][]string)}
}

func (f *fakeCredRepo) AppendToken(_ context.Context, id primitive.ObjectID, tok string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.tokens[id] = append(f.tokens[id], tok)
	return nil
}

func (f *fakeCredRepo) HasToken(_ context.Context, id primitive.ObjectID, tok string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := model.CredentialRecord{Tokens: f.tokens[id]}
	return rec.Has(tok), nil
}

func (f *fakeCredRepo) RemoveToken(_ context.Context, id primitive.ObjectID, tok string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.tokens[id][:0]
	for _, t := range f.tokens[id] {
		if t != tok {
			kept = append(kept, t)
		}
	}
	f.tokens[id] = kept
	return nil
}

// snapshot returns a copy of the tokens stored for id.
func (f *fakeCredRepo) snapshot(id primitive.ObjectID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens[id]...)
}

// fakeProvider stands in for auth.NylasProvider.
type fakeProvider struct {
	grant *auth.Grant
	err   error
	calls []string // redirect URIs passed to AuthURL
}

func (f *fakeProvider) AuthURL(email, redirectURI, state string) string {
	f.calls = append(f.calls, redirectURI)
	return "https://nylas.test/oauth/authorize?login_hint=" + email + "&state=" + state
}

func (f *fakeProvider) Exchange(_ context.Context, code string) (*auth.Grant, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.grant, nil
}

type fakeAccounts struct {
	name string
	err  error
}

func (f fakeAccounts) Account(context.Context, string) (*nylas.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &nylas.Account{Name: f.name}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestAuthService(p *fakeProvider, acc fakeAccounts, users *fakeUserRepo, creds *fakeCredRepo) *AuthService {
	return NewAuthService(p, acc, users, creds, "https://app.test/", testLogger())
}

// =========================================================================
// AuthURL TESTS
// =========================================================================

func TestAuthURL_BuildsRedirectFromClientURI(t *testing.T) {
	p := &fakeProvider{}
	svc := newTestAuthService(p, fakeAccounts{}, newFakeUserRepo(), newFakeCredRepo())

	u, err := svc.AuthURL("Ada@Example.com", "auth/success")
	require.NoError(t, err)
	assert.Contains(t, u, "login_hint=ada@example.com")
	assert.Equal(t, []string{"https://app.test/auth/success"}, p.calls)
}

func TestAuthURL_StateIsRandom(t *testing.T) {
	svc := newTestAuthService(&fakeProvider{}, fakeAccounts{}, newFakeUserRepo(), newFakeCredRepo())

	a, err := svc.AuthURL("ada@example.com", "/s")
	require.NoError(t, err)
	b, err := svc.AuthURL("ada@example.com", "/s")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestAuthURL_RequiresEmail(t *testing.T) {
	svc := newTestAuthService(&fakeProvider{}, fakeAccounts{}, newFakeUserRepo(), newFakeCredRepo())

	_, err := svc.AuthURL(" ", "/s")
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

// =========================================================================
// ExchangeCode TESTS
// =========================================================================

func TestExchangeCode_NewUser(t *testing.T) {
	users, creds := newFakeUserRepo(), newFakeCredRepo()
	p := &fakeProvider{grant: &auth.Grant{AccessToken: "tok-1", EmailAddress: "ada@example.com"}}
	svc := newTestAuthService(p, fakeAccounts{name: "Ada Lovelace"}, users, creds)

	res, err := svc.ExchangeCode(context.Background(), "code")
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, "Ada Lovelace", res.User.FullName)

	assert.Equal(t, []string{"tok-1"}, creds.snapshot(res.User.ID))
}

func TestExchangeCode_ExistingUserAppendsToken(t *testing.T) {
	users, creds := newFakeUserRepo(), newFakeCredRepo()
	existing := users.add(model.User{Email: "ada@example.com", FullName: "Ada"})
	creds.tokens[existing.ID] = []string{"tok-1"}

	p := &fakeProvider{grant: &auth.Grant{AccessToken: "tok-2", EmailAddress: "ada@example.com"}}
	svc := newTestAuthService(p, fakeAccounts{name: "ignored"}, users, creds)

	res, err := svc.ExchangeCode(context.Background(), "code")
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, existing.ID, res.User.ID)
	assert.Equal(t, "Ada", res.User.FullName, "existing profile is not overwritten")
	assert.Equal(t, []string{"tok-1", "tok-2"}, creds.tokens[existing.ID])
}

func TestExchangeCode_AccountLookupFailureFallsBackToLocalPart(t *testing.T) {
	users := newFakeUserRepo()
	p := &fakeProvider{grant: &auth.Grant{AccessToken: "tok", EmailAddress: "grace.hopper@example.com"}}
	svc := newTestAuthService(p, fakeAccounts{err: errors.New("timeout")}, users, newFakeCredRepo())

	res, err := svc.ExchangeCode(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "grace.hopper", res.User.FullName)
}

func TestExchangeCode_ProviderRejection(t *testing.T) {
	users, creds := newFakeUserRepo(), newFakeCredRepo()
	p := &fakeProvider{err: apperror.UpstreamAuth(auth.ExchangeFailedMessage, errors.New("invalid_grant"))}
	svc := newTestAuthService(p, fakeAccounts{}, users, creds)

	_, err := svc.ExchangeCode(context.Background(), "bad")
	assert.True(t, errors.Is(err, apperror.ErrUpstreamAuth))
	assert.Empty(t, users.byID, "no user created on a rejected code")
	assert.Empty(t, creds.tokens)
}

func TestExchangeCode_StoreFailureIsGeneric(t *testing.T) {
	users, creds := newFakeUserRepo(), newFakeCredRepo()
	creds.appendErr = errors.New("mongo: write concern")
	p := &fakeProvider{grant: &auth.Grant{AccessToken: "tok", EmailAddress: "ada@example.com"}}
	svc := newTestAuthService(p, fakeAccounts{name: "Ada"}, users, creds)

	_, err := svc.ExchangeCode(context.Background(), "code")
	require.Error(t, err)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, auth.ExchangeFailedMessage, appErr.Message)
	assert.True(t, errors.Is(err, apperror.ErrInternal))
}

func TestExchangeCode_ConcurrentFirstLogins(t *testing.T) {
	users, creds := newFakeUserRepo(), newFakeCredRepo()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := &fakeProvider{grant: &auth.Grant{AccessToken: "tok", EmailAddress: "ada@example.com"}}
			svc := newTestAuthService(p, fakeAccounts{name: "Ada"}, users, creds)
			_, err := svc.ExchangeCode(context.Background(), "code")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, users.byID, 1)
	for id := range users.byID {
		assert.Len(t, creds.tokens[id], 10)
	}
}

// =========================================================================
// Logout TESTS
// =========================================================================

func TestLogout_RemovesOnlyThatToken(t *testing.T) {
	users, creds := newFakeUserRepo(), newFakeCredRepo()
	u := users.add(model.User{Email: "ada@example.com"})
	creds.tokens[u.ID] = []string{"phone", "laptop"}
	svc := newTestAuthService(&fakeProvider{}, fakeAccounts{}, users, creds)

	require.NoError(t, svc.Logout(context.Background(), u, "Bearer laptop"))
	assert.Equal(t, []string{"phone"}, creds.tokens[u.ID])

	require.NoError(t, svc.Logout(context.Background(), u, "laptop"), "second logout is a no-op")
}

func TestLogout_RequiresToken(t *testing.T) {
	users := newFakeUserRepo()
	u := users.add(model.User{Email: "ada@example.com"})
	svc := newTestAuthService(&fakeProvider{}, fakeAccounts{}, users, newFakeCredRepo())

	err := svc.Logout(context.Background(), u, "")
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

// =========================================================================
// SHARED FAKES FOR USER SERVICE TESTS
// =========================================================================

type fakeBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{data: make(map[string][]byte)} }

func (f *fakeBlobs) Put(_ context.Context, key string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = b
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[key]
	if !ok {
		return nil, apperror.NotFound("blob", key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlobs) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	welcomeErr error
	welcomes   []string
	tutorials  []string // "email:language"
}

func (f *fakeNotifier) SendWelcome(_ context.Context, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.welcomeErr != nil {
		return f.welcomeErr
	}
	f.welcomes = append(f.welcomes, to)
	return nil
}

// SendTutorial gives a concurrent welcome time to fail first, and records
// nothing when ctx is already done.
func (f *fakeNotifier) SendTutorial(ctx context.Context, to, language string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tutorials = append(f.tutorials, to+":"+language)
	return nil
}

func (f *fakeNotifier) snapshot() (welcomes, tutorials []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.welcomes...), append([]string(nil), f.tutorials...)
}

type fakeLinks struct{}

func (fakeLinks) Validate(token string) (string, error) {
	email, ok := strings.CutPrefix(token, "valid:")
	if !ok {
		return "", errors.New("bad signature")
	}
	return email, nil
}
