package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/auth"
	"github.com/sakif/code-inbox/internal/nylas"
)

const (
	inboxPageSize    = 20
	searchPageSize   = 20
	contactsPageSize = 100

	// folderUpdateParallelism caps concurrent PUT /threads calls per request.
	folderUpdateParallelism = 4
)

// Mailbox is the part of nylas.Client used for per-user mail operations.
type Mailbox interface {
	ListThreads(ctx context.Context, token string, limit int) (json.RawMessage, error)
	GetThread(ctx context.Context, token, id string) (*nylas.Thread, error)
	SearchThreads(ctx context.Context, token, query string, limit int) (json.RawMessage, error)
	UpdateThreadLabels(ctx context.Context, token, threadID string, labelIDs []string) (json.RawMessage, error)
	GetMessage(ctx context.Context, token, id string) (json.RawMessage, error)
	Send(ctx context.Context, token string, d nylas.Draft) (json.RawMessage, error)
	ListLabels(ctx context.Context, token string) (json.RawMessage, error)
	CreateLabel(ctx context.Context, token, name, color string) (*nylas.Label, error)
	DeleteLabel(ctx context.Context, token, id string) error
	ListContacts(ctx context.Context, token string, limit int) (json.RawMessage, error)
}

// MailService performs mail operations on behalf of a session. Every call
// uses the session's own token.
type MailService struct {
	mailbox Mailbox
}

func NewMailService(mailbox Mailbox) *MailService {
	return &MailService{mailbox: mailbox}
}

// OutgoingEmail is a new message composed in the web client.
type OutgoingEmail struct {
	To      []nylas.Participant
	CC      []nylas.Participant
	BCC     []nylas.Participant
	Subject string
	Body    string
}

func (m *MailService) ReadEmails(ctx context.Context, sess *auth.Session) (json.RawMessage, error) {
	return m.mailbox.ListThreads(ctx, sess.Token, inboxPageSize)
}

func (m *MailService) Mail(ctx context.Context, sess *auth.Session, messageID string) (json.RawMessage, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, apperror.ValidationFailed("mailId", "mailId is required")
	}
	return m.mailbox.GetMessage(ctx, sess.Token, messageID)
}

// SendEmail sends a new message from the session's mailbox.
func (m *MailService) SendEmail(ctx context.Context, sess *auth.Session, e OutgoingEmail) (json.RawMessage, error) {
	to := cleanParticipants(e.To)
	if len(to) == 0 {
		return nil, apperror.ValidationFailed("to", "at least one recipient is required")
	}
	return m.mailbox.Send(ctx, sess.Token, nylas.Draft{
		Subject: e.Subject,
		To:      to,
		CC:      cleanParticipants(e.CC),
		BCC:     cleanParticipants(e.BCC),
		Body:    e.Body,
	})
}

// Reply answers the last message of a thread. The thread's cc and bcc are
// kept; everyone else who took part goes to To. The session user is never
// a recipient.
func (m *MailService) Reply(ctx context.Context, sess *auth.Session, threadID, body string) (json.RawMessage, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, apperror.ValidationFailed("thread_id", "thread_id is required")
	}

	thread, err := m.mailbox.GetThread(ctx, sess.Token, threadID)
	if err != nil {
		return nil, err
	}

	self := []string{sess.User.Email}
	cc := excluding(thread.CC, self)
	bcc := excluding(thread.BCC, self)

	skip := self
	for _, p := range append(append([]nylas.Participant{}, cc...), bcc...) {
		skip = append(skip, p.Email)
	}
	to := excluding(thread.Participants, skip)
	if len(to) == 0 && len(cc) == 0 && len(bcc) == 0 {
		return nil, apperror.ValidationFailed("thread_id", "thread has no other participants to reply to")
	}

	return m.mailbox.Send(ctx, sess.Token, nylas.Draft{
		Subject:          replySubject(thread.Subject),
		To:               to,
		CC:               cc,
		BCC:              bcc,
		Body:             body,
		ReplyToMessageID: thread.LastMessageID(),
	})
}

func (m *MailService) Search(ctx context.Context, sess *auth.Session, query string) (json.RawMessage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperror.ValidationFailed("search", "search is required")
	}
	return m.mailbox.SearchThreads(ctx, sess.Token, query, searchPageSize)
}

func (m *MailService) Labels(ctx context.Context, sess *auth.Session) (json.RawMessage, error) {
	return m.mailbox.ListLabels(ctx, sess.Token)
}

func (m *MailService) CreateLabel(ctx context.Context, sess *auth.Session, name, color string) (*nylas.Label, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}
	return m.mailbox.CreateLabel(ctx, sess.Token, name, color)
}

func (m *MailService) DeleteLabel(ctx context.Context, sess *auth.Session, labelID string) error {
	if strings.TrimSpace(labelID) == "" {
		return apperror.ValidationFailed("item_id", "item_id is required")
	}
	return m.mailbox.DeleteLabel(ctx, sess.Token, labelID)
}

// MoveToFolder puts every thread under labelID. The first failure cancels
// the remaining updates and is returned.
func (m *MailService) MoveToFolder(ctx context.Context, sess *auth.Session, labelID string, threadIDs []string) error {
	if strings.TrimSpace(labelID) == "" {
		return apperror.ValidationFailed("label_id", "label_id is required")
	}
	if len(threadIDs) == 0 {
		return apperror.ValidationFailed("body", "at least one thread id is required")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(folderUpdateParallelism)
	for _, id := range threadIDs {
		if strings.TrimSpace(id) == "" {
			continue
		}
		g.Go(func() error {
			if _, err := m.mailbox.UpdateThreadLabels(gctx, sess.Token, id, []string{labelID}); err != nil {
				return fmt.Errorf("service/mail: labelling thread %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *MailService) Contacts(ctx context.Context, sess *auth.Session) (json.RawMessage, error) {
	return m.mailbox.ListContacts(ctx, sess.Token, contactsPageSize)
}

func cleanParticipants(ps []nylas.Participant) []nylas.Participant {
	out := make([]nylas.Participant, 0, len(ps))
	for _, p := range ps {
		p.Email = strings.TrimSpace(p.Email)
		if p.Email == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// excluding returns the cleaned participants whose address is not in emails,
// compared case-insensitively.
func excluding(ps []nylas.Participant, emails []string) []nylas.Participant {
	var out []nylas.Participant
	for _, p := range cleanParticipants(ps) {
		if !slices.ContainsFunc(emails, func(e string) bool { return strings.EqualFold(e, p.Email) }) {
			out = append(out, p)
		}
	}
	return out
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
