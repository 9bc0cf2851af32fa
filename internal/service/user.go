package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/model"
	"github.com/sakif/code-inbox/internal/repository"
	"github.com/sakif/code-inbox/internal/scheduler"
)

// Scheduler is the part of scheduler.Scheduler the user service drives.
type Scheduler interface {
	SetSchedule(email, language string, cadence model.Cadence) (scheduler.Job, error)
	CancelSchedule(email string) bool
	Active(email string) (scheduler.Job, bool)
}

// Notifier sends the system emails.
type Notifier interface {
	SendWelcome(ctx context.Context, to string) error
	SendTutorial(ctx context.Context, to, language string) error
}

// UnsubscribeValidator checks signed unsubscribe links.
type UnsubscribeValidator interface {
	Validate(token string) (email string, err error)
}

// UserServiceOptions tunes background work.
type UserServiceOptions struct {
	// BackgroundTimeout bounds one onboarding run or immediate tutorial. Default 3m.
	BackgroundTimeout time.Duration
}

// UserService owns profile changes and keeps the scheduler in step with the
// schedule stored on each user.
//
// THE STORED SCHEDULE IS THE SOURCE OF TRUTH:
// Every change to programming_language or notification_schedule is written
// to the user record first, then mirrored into the scheduler. After a
// restart, scheduler.Rearm rebuilds the jobs from the same fields.
type UserService struct {
	users     repository.UserRepository
	blobs     repository.BlobStore
	schedules Scheduler
	notifier  Notifier
	links     UnsubscribeValidator
	opts      UserServiceOptions
	logger    *slog.Logger

	// background tracks onboarding and immediate tutorials so shutdown can
	// wait for them. Once draining is set, no new work is started.
	mu         sync.Mutex
	draining   bool
	background sync.WaitGroup
}

// NewUserService wires the user service. A zero BackgroundTimeout means 3m.
func NewUserService(
	users repository.UserRepository,
	blobs repository.BlobStore,
	schedules Scheduler,
	notifier Notifier,
	links UnsubscribeValidator,
	opts UserServiceOptions,
	logger *slog.Logger,
) *UserService {
	if opts.BackgroundTimeout <= 0 {
		opts.BackgroundTimeout = 3 * time.Minute
	}
	return &UserService{
		users:     users,
		blobs:     blobs,
		schedules: schedules,
		notifier:  notifier,
		links:     links,
		opts:      opts,
		logger:    logger,
	}
}

// =========================================================================
// PROFILE
// =========================================================================

// UpdateProfile applies a partial update. When the update touches the
// language or the schedule, the scheduler is reconciled with the result.
func (s *UserService) UpdateProfile(ctx context.Context, user *model.User, upd model.ProfileUpdate) (*model.User, error) {
	if upd.IsEmpty() {
		return nil, apperror.ValidationFailed("body", "no profile fields provided")
	}
	if err := validateUpdate(&upd); err != nil {
		return nil, err
	}
	// A language change installs a job, so a never-chosen cadence is stored
	// as the default with it. Otherwise Rearm would not see the job.
	if upd.ProgrammingLanguage != nil && upd.NotificationSchedule == nil && user.NotificationSchedule == model.CadenceUnset {
		c := model.CadenceUnset.OrDefault()
		upd.NotificationSchedule = &c
	}

	updated, err := s.users.UpdateProfile(ctx, user.ID, upd)
	if err != nil {
		return nil, fmt.Errorf("service/user: updating profile of %s: %w", user.ID.Hex(), err)
	}

	if upd.TouchesSchedule() {
		if err := s.reconcile(updated); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// UpdateLanguage sets the tutorial language (and optionally the cadence),
// (re)installs the job and sends one tutorial in the new language right away.
//
// A nil cadence keeps the stored one, falling back to daily when never set.
// A user who unsubscribed stays unsubscribed until a cadence is passed.
func (s *UserService) UpdateLanguage(ctx context.Context, user *model.User, language string, cadence *model.Cadence) (*model.User, error) {
	language = strings.TrimSpace(language)
	if language == "" {
		return nil, apperror.ValidationFailed("language", "language is required")
	}

	c := user.NotificationSchedule.OrDefault()
	if cadence != nil {
		c = *cadence
	}
	upd := model.ProfileUpdate{ProgrammingLanguage: &language, NotificationSchedule: &c}
	if err := validateUpdate(&upd); err != nil {
		return nil, err
	}

	updated, err := s.users.UpdateProfile(ctx, user.ID, upd)
	if err != nil {
		return nil, fmt.Errorf("service/user: updating language of %s: %w", user.ID.Hex(), err)
	}
	if err := s.reconcile(updated); err != nil {
		return nil, err
	}

	if updated.NotificationSchedule.Recurring() {
		s.goBackground("immediate tutorial", updated.Email, func(ctx context.Context) error {
			return s.notifier.SendTutorial(ctx, updated.Email, updated.Language())
		})
	}
	return updated, nil
}

// Unsubscribe handles the signed link in tutorial footers: it cancels the
// job and stores "none" so the schedule is not re-armed after a restart.
func (s *UserService) Unsubscribe(ctx context.Context, token string) (*model.User, error) {
	email, err := s.links.Validate(token)
	if err != nil {
		return nil, apperror.ValidationFailed("token", "invalid or expired unsubscribe link")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("service/user: finding %s to unsubscribe: %w", email, err)
	}

	none := model.CadenceNone
	updated, err := s.users.UpdateProfile(ctx, user.ID, model.ProfileUpdate{NotificationSchedule: &none})
	if err != nil {
		return nil, fmt.Errorf("service/user: storing unsubscribe for %s: %w", email, err)
	}
	s.schedules.CancelSchedule(updated.Email)

	s.logger.Info("user unsubscribed from tutorials", slog.String("email", updated.Email))
	return updated, nil
}

// reconcile makes the scheduler match the stored schedule of u.
func (s *UserService) reconcile(u *model.User) error {
	if u.NotificationSchedule == model.CadenceNone {
		s.schedules.CancelSchedule(u.Email)
		return nil
	}
	if _, err := s.schedules.SetSchedule(u.Email, u.Language(), u.NotificationSchedule.OrDefault()); err != nil {
		return fmt.Errorf("service/user: scheduling tutorials for %s: %w", u.Email, err)
	}
	return nil
}

func validateUpdate(upd *model.ProfileUpdate) error {
	if upd.ProgrammingLanguage != nil {
		lang := strings.TrimSpace(*upd.ProgrammingLanguage)
		if lang == "" {
			return apperror.ValidationFailed("programming_language", "programming_language must not be empty")
		}
		upd.ProgrammingLanguage = &lang
	}
	if upd.NotificationSchedule != nil {
		c, ok := model.ParseCadence(string(*upd.NotificationSchedule))
		if !ok || c == model.CadenceUnset {
			return apperror.ValidationFailed("notification_schedule",
				"notification_schedule must be one of hourly, daily, weekly, monthly, none")
		}
		upd.NotificationSchedule = &c
	}
	return nil
}

// =========================================================================
// PROFILE IMAGE
// =========================================================================

// ProfileImageKey is the blob key of a user's picture.
func ProfileImageKey(id primitive.ObjectID) string {
	return "user/" + id.Hex() + "/profile.png"
}

// UploadProfileImage stores r as the user's picture and records the key.
// If the key cannot be recorded on a user who had no picture before, the
// new blob is deleted again so no unreferenced object is left behind.
func (s *UserService) UploadProfileImage(ctx context.Context, user *model.User, r io.Reader) (*model.User, error) {
	key := ProfileImageKey(user.ID)
	if err := s.blobs.Put(ctx, key, r); err != nil {
		return nil, fmt.Errorf("service/user: storing profile image for %s: %w", user.ID.Hex(), err)
	}

	updated, err := s.users.UpdateProfile(ctx, user.ID, model.ProfileUpdate{ProfilePicture: &key})
	if err != nil {
		if user.ProfilePicture == "" {
			if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				s.logger.Warn("orphaned profile image",
					slog.String("key", key),
					slog.String("error", delErr.Error()),
				)
			}
		}
		return nil, fmt.Errorf("service/user: recording profile image for %s: %w", user.ID.Hex(), err)
	}
	return updated, nil
}

// ProfileImage opens the stored picture of the user with hex ID userID.
// The caller closes the reader.
func (s *UserService) ProfileImage(ctx context.Context, userID string) (io.ReadCloser, error) {
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperror.NotFound("user", userID)
	}

	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/user: finding %s: %w", userID, err)
	}
	if user.ProfilePicture == "" {
		return nil, apperror.NotFound("profile image", userID)
	}

	rc, err := s.blobs.Get(ctx, user.ProfilePicture)
	if err != nil {
		return nil, fmt.Errorf("service/user: reading profile image of %s: %w", userID, err)
	}
	return rc, nil
}

// =========================================================================
// ONBOARDING
// =========================================================================

// Onboard runs the post-login side effects in the background:
//   - welcome email (new users only)
//   - persist default language and cadence when never chosen
//   - install the schedule unless the same one is already running
//   - one immediate tutorial (new users only)
//
// An unsubscribed user gets no schedule. It never blocks the caller.
func (s *UserService) Onboard(user *model.User, created bool) {
	u := *user
	s.goBackground("onboarding", u.Email, func(ctx context.Context) error {
		return s.onboard(ctx, &u, created)
	})
}

func (s *UserService) onboard(ctx context.Context, u *model.User, created bool) error {
	if u.NotificationSchedule == model.CadenceUnset || strings.TrimSpace(u.ProgrammingLanguage) == "" {
		c := u.NotificationSchedule.OrDefault()
		lang := u.Language()
		updated, err := s.users.UpdateProfile(ctx, u.ID, model.ProfileUpdate{
			ProgrammingLanguage:  &lang,
			NotificationSchedule: &c,
		})
		if err != nil {
			return fmt.Errorf("service/user: storing default schedule for %s: %w", u.Email, err)
		}
		u = updated
	}

	subscribed := u.NotificationSchedule.Recurring()
	if subscribed && !s.sameJobRunning(u) {
		if err := s.reconcile(u); err != nil {
			return err
		}
	}

	if !created {
		return nil
	}

	// The two emails are independent: a failed welcome must not cancel the
	// first tutorial, so the group shares ctx and every error is kept.
	var (
		g                       errgroup.Group
		welcomeErr, tutorialErr error
	)
	g.Go(func() error {
		welcomeErr = s.notifier.SendWelcome(ctx, u.Email)
		return nil
	})
	if subscribed {
		g.Go(func() error {
			tutorialErr = s.notifier.SendTutorial(ctx, u.Email, u.Language())
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(welcomeErr, tutorialErr)
}

// sameJobRunning avoids resetting a job's phase on every login.
func (s *UserService) sameJobRunning(u *model.User) bool {
	job, ok := s.schedules.Active(u.Email)
	return ok && job.Cadence == u.NotificationSchedule && job.Language == u.Language()
}

func (s *UserService) goBackground(what, email string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		s.logger.Warn(what+" skipped, shutting down", slog.String("email", email))
		return
	}
	s.background.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.BackgroundTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.logger.Error(what+" failed",
				slog.String("email", email),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Drain stops accepting background work and waits for what is running.
// Onboard and UpdateLanguage called after Drain skip their background part.
func (s *UserService) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("service/user: waiting for background work: %w", ctx.Err())
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, apperror.ErrNotFound)
}
