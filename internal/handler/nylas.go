package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/code-inbox/internal/model"
	"github.com/sakif/code-inbox/internal/nylas"
	"github.com/sakif/code-inbox/internal/service"
)

// NylasHandler serves /api/v1/nylas: the OAuth handshake and the mail
// operations proxied to Nylas for the signed-in user.
type NylasHandler struct {
	auth    AuthFlow
	onboard Onboarder
	mail    Mail
	logger  *slog.Logger
}

// NewNylasHandler returns a handler whose exchange route onboards through
// onboard and whose mail routes go through mail.
func NewNylasHandler(auth AuthFlow, onboard Onboarder, mail Mail, logger *slog.Logger) *NylasHandler {
	return &NylasHandler{auth: auth, onboard: onboard, mail: mail, logger: logger}
}

type authURLRequest struct {
	EmailAddress string `json:"email_address"`
	SuccessURL   string `json:"success_url"`
}

// HandleGenerateAuthURL returns the hosted-auth URL as a JSON string.
//
// HTTP: POST /api/v1/nylas/generate-auth-url
func (h *NylasHandler) HandleGenerateAuthURL(w http.ResponseWriter, r *http.Request) {
	var req authURLRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	u, err := h.auth.AuthURL(req.EmailAddress, req.SuccessURL)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type exchangeRequest struct {
	Token string `json:"token"`
}

type exchangeResponse struct {
	StatusCode int         `json:"status_code"`
	Message    string      `json:"message"`
	User       *model.User `json:"user"`
	Token      string      `json:"token"`
}

// HandleExchangeToken trades the authorization code for a session.
//
// HTTP: POST /api/v1/nylas/exchange-mailbox-token
//
// Onboarding (welcome email, schedule) starts in the background after the
// exchange succeeded and never delays or fails this response.
func (h *NylasHandler) HandleExchangeToken(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	res, err := h.auth.ExchangeCode(r.Context(), req.Token)
	if err != nil {
		h.logger.Warn("mailbox token exchange failed", slog.String("error", err.Error()))
		writeError(w, h.logger, err)
		return
	}

	h.onboard.Onboard(res.User, res.Created)

	message := "Welcome back!"
	if res.Created {
		message = "Welcome to Code Inbox!"
	}
	writeJSON(w, http.StatusOK, exchangeResponse{
		StatusCode: http.StatusOK,
		Message:    message,
		User:       res.User,
		Token:      res.Token,
	})
}

// HTTP: GET /api/v1/nylas/read-emails
func (h *NylasHandler) HandleReadEmails(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	threads, err := h.mail.ReadEmails(r.Context(), sess)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

// HTTP: GET /api/v1/nylas/mail?mailId=
func (h *NylasHandler) HandleMail(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	msg, err := h.mail.Mail(r.Context(), sess, r.URL.Query().Get("mailId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type sendEmailRequest struct {
	To      []nylas.Participant `json:"to"`
	CC      []nylas.Participant `json:"cc"`
	BCC     []nylas.Participant `json:"bcc"`
	Subject string              `json:"subject"`
	Message string              `json:"message"`
	// Attachments are accepted for client compatibility. They are URLs, not
	// Nylas file IDs, and are not forwarded.
	Attachments []string `json:"attachments"`
}

// HTTP: POST /api/v1/nylas/send-email
func (h *NylasHandler) HandleSendEmail(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	var req sendEmailRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	sent, err := h.mail.SendEmail(r.Context(), sess, service.OutgoingEmail{
		To:      req.To,
		CC:      req.CC,
		BCC:     req.BCC,
		Subject: req.Subject,
		Body:    req.Message,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sent)
}

type replyRequest struct {
	ThreadID string `json:"thread_id"`
	Body     string `json:"body"`
}

// HTTP: POST /api/v1/nylas/reply-email
func (h *NylasHandler) HandleReplyEmail(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	var req replyRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	sent, err := h.mail.Reply(r.Context(), sess, req.ThreadID, req.Body)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sent)
}

// HTTP: GET /api/v1/nylas/search-emails?search=
func (h *NylasHandler) HandleSearchEmails(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	threads, err := h.mail.Search(r.Context(), sess, r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

// HTTP: GET /api/v1/nylas/read-labels
func (h *NylasHandler) HandleReadLabels(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	labels, err := h.mail.Labels(r.Context(), sess)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, labels)
}

type createLabelRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type createLabelResponse struct {
	StatusCode int          `json:"status_code"`
	Message    string       `json:"message"`
	Label      *nylas.Label `json:"label"`
}

// HTTP: POST /api/v1/nylas/labels
func (h *NylasHandler) HandleCreateLabel(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	var req createLabelRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	label, err := h.mail.CreateLabel(r.Context(), sess, req.Name, req.Color)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, createLabelResponse{
		StatusCode: http.StatusOK,
		Message:    "A label has been created successfully!",
		Label:      label,
	})
}

// HTTP: DELETE /api/v1/nylas/labels/{item_id}
func (h *NylasHandler) HandleDeleteLabel(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.mail.DeleteLabel(r.Context(), sess, chi.URLParam(r, "item_id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Item deleted")
}

// HandleUpdateFolders applies label_id to every thread ID in the body.
//
// HTTP: PUT /api/v1/nylas/folders?label_id=
func (h *NylasHandler) HandleUpdateFolders(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	var threadIDs []string
	if !decodeJSON(w, r, h.logger, &threadIDs) {
		return
	}
	if err := h.mail.MoveToFolder(r.Context(), sess, r.URL.Query().Get("label_id"), threadIDs); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Emails' folders updated successfully")
}

// HTTP: GET /api/v1/nylas/contacts
func (h *NylasHandler) HandleContacts(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	contacts, err := h.mail.Contacts(r.Context(), sess)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}
