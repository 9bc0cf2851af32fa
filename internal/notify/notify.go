// Package notify composes and sends the emails Code Inbox itself sends:
// the welcome email after a first login and the recurring tutorials.
//
// FLOW (tutorial):
//  1. wait for the LLM rate limiter
//  2. generate the HTML tutorial for the user's language
//  3. append an unsubscribe footer with a signed link
//  4. build a MIME message with mailyak
//  5. POST it to Nylas /send as message/rfc822 with the system account token
//
// The system token never changes at runtime and is only ever passed as an
// argument, never stored on a shared client.
package notify

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/domodwyer/mailyak/v3"
	"golang.org/x/time/rate"

	"github.com/sakif/code-inbox/internal/metrics"
	"github.com/sakif/code-inbox/internal/nylas"
)

//go:embed welcome_email.html
var welcomeHTML string

const (
	WelcomeSubject  = "Welcome to Code Inbox 🚀"
	TutorialSubject = "Your Daily Dose of Algorithms"

	defaultFromName = "Code Inbox"
)

// Mailbox is the part of the Nylas client the notifier uses.
type Mailbox interface {
	SendRaw(ctx context.Context, token string, mime []byte) (json.RawMessage, error)
	Account(ctx context.Context, token string) (*nylas.Account, error)
}

// Generator produces a tutorial document for a language.
type Generator interface {
	Generate(ctx context.Context, language string) (string, error)
}

// LinkIssuer signs unsubscribe tokens.
type LinkIssuer interface {
	Issue(email string) (string, error)
}

// Options configures the Notifier.
type Options struct {
	SystemToken string
	FromEmail   string // empty: looked up from the system account once
	FromName    string
	PublicURL   string // base for unsubscribe links, e.g. https://api.codeinbox.dev

	// TutorialRate limits LLM calls across all users.
	TutorialRate  rate.Limit
	TutorialBurst int
}

// Notifier is safe for concurrent use. The only mutable state is the cached
// sender address, guarded by mu.
type Notifier struct {
	opts    Options
	mailbox Mailbox
	gen     Generator
	links   LinkIssuer
	logger  *slog.Logger
	limiter *rate.Limiter

	mu   sync.Mutex
	from string
}

// New creates a Notifier.
func New(opts Options, mailbox Mailbox, gen Generator, links LinkIssuer, logger *slog.Logger) (*Notifier, error) {
	if opts.SystemToken == "" {
		return nil, fmt.Errorf("notify: system token is required")
	}
	if mailbox == nil || gen == nil || links == nil {
		return nil, fmt.Errorf("notify: mailbox, generator and link issuer are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("notify: logger is required")
	}
	if opts.FromName == "" {
		opts.FromName = defaultFromName
	}
	if opts.TutorialRate == 0 {
		opts.TutorialRate = rate.Every(2 * time.Second)
	}
	if opts.TutorialBurst <= 0 {
		opts.TutorialBurst = 5
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")

	return &Notifier{
		opts:    opts,
		mailbox: mailbox,
		gen:     gen,
		links:   links,
		logger:  logger,
		limiter: rate.NewLimiter(opts.TutorialRate, opts.TutorialBurst),
		from:    opts.FromEmail,
	}, nil
}

// SendWelcome sends the onboarding email to a newly created user.
func (n *Notifier) SendWelcome(ctx context.Context, to string) (err error) {
	defer func() { metrics.EmailsSentTotal.WithLabelValues("welcome", metrics.Result(err)).Inc() }()

	if err := n.send(ctx, to, WelcomeSubject, welcomeHTML); err != nil {
		return fmt.Errorf("notify: sending welcome email to %s: %w", to, err)
	}
	n.logger.Info("welcome email sent", slog.String("to", to))
	return nil
}

// SendTutorial generates and sends one tutorial. It blocks while the rate
// limiter is exhausted, up to ctx's deadline.
func (n *Notifier) SendTutorial(ctx context.Context, to, language string) (err error) {
	defer func() { metrics.EmailsSentTotal.WithLabelValues("tutorial", metrics.Result(err)).Inc() }()

	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: waiting for tutorial rate limit: %w", err)
	}

	tutorial, err := n.gen.Generate(ctx, language)
	if err != nil {
		return fmt.Errorf("notify: generating %s tutorial: %w", language, err)
	}

	link, err := n.unsubscribeURL(to)
	if err != nil {
		return err
	}

	if err := n.send(ctx, to, TutorialSubject, WithUnsubscribeFooter(tutorial, link)); err != nil {
		return fmt.Errorf("notify: sending tutorial to %s: %w", to, err)
	}
	n.logger.Info("tutorial sent", slog.String("to", to), slog.String("language", language))
	return nil
}

func (n *Notifier) send(ctx context.Context, to, subject, body string) error {
	from, err := n.sender(ctx)
	if err != nil {
		return err
	}
	msg, err := Compose(from, n.opts.FromName, to, subject, body)
	if err != nil {
		return err
	}
	_, err = n.mailbox.SendRaw(ctx, n.opts.SystemToken, msg)
	return err
}

// sender returns the system From address, asking Nylas once if it was not
// configured. A failed lookup is retried on the next send.
func (n *Notifier) sender(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.from != "" {
		return n.from, nil
	}
	acc, err := n.mailbox.Account(ctx, n.opts.SystemToken)
	if err != nil {
		return "", fmt.Errorf("notify: looking up system account: %w", err)
	}
	if acc.EmailAddress == "" {
		return "", errors.New("notify: system account has no email address")
	}
	n.from = acc.EmailAddress
	return n.from, nil
}

func (n *Notifier) unsubscribeURL(email string) (string, error) {
	tok, err := n.links.Issue(email)
	if err != nil {
		return "", fmt.Errorf("notify: issuing unsubscribe link: %w", err)
	}
	return n.opts.PublicURL + "/api/v1/user/unsubscribe?token=" + url.QueryEscape(tok), nil
}

// Compose builds an RFC 822 message with an HTML body.
func Compose(from, fromName, to, subject, htmlBody string) ([]byte, error) {
	// Host and auth are only used by mailyak's own SMTP Send, which we never call.
	mail := mailyak.New("", nil)
	mail.To(to)
	mail.From(from)
	mail.FromName(fromName)
	mail.Subject(subject)
	mail.HTML().Set(htmlBody)

	buf, err := mail.MimeBuf()
	if err != nil {
		return nil, fmt.Errorf("notify: building MIME message: %w", err)
	}
	return buf.Bytes(), nil
}

// WithUnsubscribeFooter appends the opt-out footer to a tutorial. The footer
// goes before </body> when the document has one, otherwise at the end.
func WithUnsubscribeFooter(doc, link string) string {
	footer := fmt.Sprintf(
		`<hr style="margin-top:32px;border:none;border-top:1px solid #ddd;">`+
			`<p style="font-size:12px;color:#6b7280;">You receive these tutorials because you connected your mailbox to Code Inbox. `+
			`<a href="%s">Unsubscribe</a></p>`,
		html.EscapeString(link),
	)

	if i := strings.LastIndex(strings.ToLower(doc), "</body>"); i >= 0 {
		return doc[:i] + footer + doc[i:]
	}
	return doc + footer
}
