package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/mail"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sakif/code-inbox/internal/nylas"
)

// =========================================================================
// FAKES
// =========================================================================

type fakeMailbox struct {
	mu           sync.Mutex
	sent         [][]byte
	tokens       []string
	accountCalls int
	accountErr   error
	sendErr      error
}

func (f *fakeMailbox) SendRaw(_ context.Context, token string, msg []byte) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, msg)
	f.tokens = append(f.tokens, token)
	return json.RawMessage(`{"id":"m"}`), nil
}

func (f *fakeMailbox) Account(context.Context, string) (*nylas.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountCalls++
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return &nylas.Account{EmailAddress: "system@codeinbox.dev"}, nil
}

type fakeGenerator struct {
	languages []string
	err       error
}

func (f *fakeGenerator) Generate(_ context.Context, language string) (string, error) {
	f.languages = append(f.languages, language)
	if f.err != nil {
		return "", f.err
	}
	return "<html><body><h1>Tries</h1></body></html>", nil
}

type fakeLinks struct{}

func (fakeLinks) Issue(email string) (string, error) { return "tok-" + email, nil }

func newTestNotifier(t *testing.T, opts Options) (*Notifier, *fakeMailbox, *fakeGenerator) {
	t.Helper()
	if opts.SystemToken == "" {
		opts.SystemToken = "system-token"
	}
	if opts.PublicURL == "" {
		opts.PublicURL = "https://api.test/"
	}
	opts.TutorialRate = rate.Inf

	mb := &fakeMailbox{}
	gen := &fakeGenerator{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	n, err := New(opts, mb, gen, fakeLinks{}, logger)
	require.NoError(t, err)
	return n, mb, gen
}

func parse(t *testing.T, raw []byte) *mail.Message {
	t.Helper()
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	return msg
}

func decodedSubject(t *testing.T, msg *mail.Message) string {
	t.Helper()
	s, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	return s
}

// =========================================================================
// TESTS
// =========================================================================

func TestNew_RequiresSystemToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	_, err := New(Options{}, &fakeMailbox{}, &fakeGenerator{}, fakeLinks{}, logger)
	assert.Error(t, err)
}

func TestSendWelcome(t *testing.T) {
	n, mb, gen := newTestNotifier(t, Options{})

	require.NoError(t, n.SendWelcome(context.Background(), "ada@example.com"))

	require.Len(t, mb.sent, 1)
	assert.Equal(t, "system-token", mb.tokens[0])
	assert.Empty(t, gen.languages, "welcome email needs no generation")

	msg := parse(t, mb.sent[0])
	assert.Equal(t, WelcomeSubject, decodedSubject(t, msg))
	assert.Contains(t, msg.Header.Get("To"), "ada@example.com")
	assert.Contains(t, msg.Header.Get("From"), "system@codeinbox.dev")
}

func TestSendTutorial(t *testing.T) {
	n, mb, gen := newTestNotifier(t, Options{FromEmail: "tutor@codeinbox.dev"})

	require.NoError(t, n.SendTutorial(context.Background(), "ada@example.com", "rust"))

	assert.Equal(t, []string{"rust"}, gen.languages)
	require.Len(t, mb.sent, 1)

	msg := parse(t, mb.sent[0])
	assert.Equal(t, TutorialSubject, decodedSubject(t, msg))
	assert.Contains(t, msg.Header.Get("From"), "tutor@codeinbox.dev")
	assert.Equal(t, 0, mb.accountCalls, "configured sender skips the account lookup")
}

func TestSendTutorial_GeneratorFailureSendsNothing(t *testing.T) {
	n, mb, gen := newTestNotifier(t, Options{})
	gen.err = errors.New("model overloaded")

	err := n.SendTutorial(context.Background(), "ada@example.com", "go")
	require.Error(t, err)
	assert.Empty(t, mb.sent)
}

func TestSender_LookedUpOnceAndRetriedAfterFailure(t *testing.T) {
	n, mb, _ := newTestNotifier(t, Options{})
	ctx := context.Background()

	mb.accountErr = errors.New("nylas down")
	require.Error(t, n.SendWelcome(ctx, "a@example.com"))

	mb.accountErr = nil
	require.NoError(t, n.SendWelcome(ctx, "a@example.com"))
	require.NoError(t, n.SendWelcome(ctx, "b@example.com"))

	assert.Equal(t, 2, mb.accountCalls)
	assert.Len(t, mb.sent, 2)
}

func TestSendTutorial_RateLimitHonoursContext(t *testing.T) {
	n, mb, _ := newTestNotifier(t, Options{})
	n.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	n.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := n.SendTutorial(ctx, "ada@example.com", "go")
	require.Error(t, err)
	assert.Empty(t, mb.sent)
}

func TestWithUnsubscribeFooter(t *testing.T) {
	out := WithUnsubscribeFooter("<html><body><p>x</p></BODY></html>", "https://api.test/u?token=a&b")

	assert.True(t, strings.HasSuffix(out, "</BODY></html>"), "footer goes inside the body")
	assert.Contains(t, out, `href="https://api.test/u?token=a&amp;b"`)

	plain := WithUnsubscribeFooter("<p>no body tag</p>", "https://x")
	assert.True(t, strings.HasPrefix(plain, "<p>no body tag</p><hr"))
}

func TestUnsubscribeURL(t *testing.T) {
	n, _, _ := newTestNotifier(t, Options{PublicURL: "https://api.test/"})

	link, err := n.unsubscribeURL("ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://api.test/api/v1/user/unsubscribe?token=tok-ada%40example.com", link)
}

func TestCompose_Headers(t *testing.T) {
	raw, err := Compose("from@x.io", "Code Inbox", "to@x.io", "Hello", "<p>hi</p>")
	require.NoError(t, err)

	msg := parse(t, raw)
	assert.Equal(t, "Hello", decodedSubject(t, msg))
	assert.Contains(t, msg.Header.Get("Content-Type"), "multipart/")
}
