package handler

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/model"
)

// MaxProfileImageBytes caps profile image uploads.
const MaxProfileImageBytes = 5 << 20

// UserHandler serves /api/v1/user.
type UserHandler struct {
	auth   AuthFlow
	users  Users
	logger *slog.Logger
}

// NewUserHandler returns a handler for the profile routes of the signed-in
// user.
func NewUserHandler(auth AuthFlow, users Users, logger *slog.Logger) *UserHandler {
	return &UserHandler{auth: auth, users: users, logger: logger}
}

type userResponse struct {
	StatusCode int         `json:"status_code"`
	Message    string      `json:"message,omitempty"`
	User       *model.User `json:"user"`
}

// HTTP: GET /api/v1/user/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, userResponse{StatusCode: http.StatusOK, User: sess.User})
}

type logoutRequest struct {
	Token string `json:"token"`
}

// HTTP: POST /api/v1/user/logout
func (h *UserHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	var req logoutRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	if err := h.auth.Logout(r.Context(), sess.User, req.Token); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Good Bye!")
}

// HandleUpdateProfile applies a partial update. Keys missing from the body
// are left unchanged.
//
// HTTP: PUT /api/v1/user/profile
func (h *UserHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	var upd model.ProfileUpdate
	if !decodeJSON(w, r, h.logger, &upd) {
		return
	}
	user, err := h.users.UpdateProfile(r.Context(), sess.User, upd)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{
		StatusCode: http.StatusOK,
		Message:    "Your personal information has been updated successfully!",
		User:       user,
	})
}

type languageRequest struct {
	Language string         `json:"language"`
	Schedule *model.Cadence `json:"schedule"`
}

// HTTP: PUT /api/v1/user/language
func (h *UserHandler) HandleUpdateLanguage(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}
	var req languageRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	user, err := h.users.UpdateLanguage(r.Context(), sess.User, req.Language, req.Schedule)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{
		StatusCode: http.StatusOK,
		Message:    "Your programming language has been updated successfully!",
		User:       user,
	})
}

// HTTP: GET /api/v1/user/unsubscribe?token=
func (h *UserHandler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if _, err := h.users.Unsubscribe(r.Context(), r.URL.Query().Get("token")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "You have been unsubscribed from Code Inbox tutorials.")
}

// HandleUploadProfileImage stores the multipart field "file".
//
// HTTP: PUT /api/v1/user/profile-image
//
// The body is capped with MaxBytesReader before parsing. The file itself
// must fit in MaxProfileImageBytes and sniff as an image.
func (h *UserHandler) HandleUploadProfileImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r, h.logger)
	if !ok {
		return
	}

	// Multipart framing needs a little room on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, MaxProfileImageBytes+1<<10)
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, h.logger, apperror.ValidationFailed("file", "image must be at most 5 MiB"))
			return
		}
		writeError(w, h.logger, apperror.ValidationFailed("file", "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	// One byte past the limit tells an oversized file from one that fits exactly.
	data, err := io.ReadAll(io.LimitReader(file, MaxProfileImageBytes+1))
	if err != nil {
		writeError(w, h.logger, apperror.ValidationFailed("file", "could not read the uploaded file"))
		return
	}
	if len(data) > MaxProfileImageBytes {
		writeError(w, h.logger, apperror.ValidationFailed("file", "image must be at most 5 MiB"))
		return
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		writeError(w, h.logger, apperror.ValidationFailed("file", "file must be an image"))
		return
	}

	user, err := h.users.UploadProfileImage(r.Context(), sess.User, bytes.NewReader(data))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{
		StatusCode: http.StatusOK,
		Message:    "Your profile image has been updated successfully!",
		User:       user,
	})
}

// HTTP: GET /api/v1/user/{user_id}/profile.png
func (h *UserHandler) HandleProfileImage(w http.ResponseWriter, r *http.Request) {
	rc, err := h.users.ProfileImage(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("streaming profile image aborted", slog.String("error", err.Error()))
	}
}
