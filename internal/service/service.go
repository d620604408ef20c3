// Package service orchestrates user commands across the session
// coordinator, the access evaluator, the batch dispatcher, and the store.
//
// Every public method serializes per user: no two actions from the same
// user id run simultaneously, while distinct users proceed concurrently.
// Top-level commands reset the user's session modes before doing anything
// else, so a new command always wins over an in-progress flow.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stashkeep/stashkeep/internal/access"
	"github.com/stashkeep/stashkeep/internal/dispatch"
	"github.com/stashkeep/stashkeep/internal/logutil"
	"github.com/stashkeep/stashkeep/internal/session"
	"github.com/stashkeep/stashkeep/internal/store"
)

// ErrInvalidMode reports a mode-specific action arriving while the user
// is not in that mode. Callers surface it as a no-op with an explanation,
// never as a crash.
var ErrInvalidMode = errors.New("action not valid in current mode")

// Store is the persistence surface the orchestrator needs.
type Store interface {
	store.UserStore
	store.CollectionStore
	store.ItemStore
	store.ShareStore
}

// Archiver mirrors stored uploads and activity to an archive channel.
// Failures are logged and swallowed; archiving never fails a user action.
type Archiver interface {
	MirrorItem(ctx context.Context, uploader *store.User, col *store.Collection, item *store.Item)
	Event(ctx context.Context, format string, args ...any)
}

// Service is the orchestrator. Construct with New; the zero value is not
// usable.
type Service struct {
	store      Store
	sessions   *session.Coordinator
	access     *access.Evaluator
	dispatcher *dispatch.Dispatcher
	archive    Archiver // may be nil
	logger     *slog.Logger

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	now func() time.Time
}

// New wires a Service. archive may be nil when no archive channel is
// configured.
func New(st Store, sessions *session.Coordinator, ev *access.Evaluator, d *dispatch.Dispatcher, archive Archiver, logger *slog.Logger) *Service {
	return &Service{
		store:      st,
		sessions:   sessions,
		access:     ev,
		dispatcher: d,
		archive:    archive,
		logger:     logutil.Component(logger, "service"),
		locks:      make(map[int64]*sync.Mutex),
		now:        time.Now,
	}
}

// lockUser acquires the per-user mutex, creating it lazily. The returned
// function releases it.
func (s *Service) lockUser(userID int64) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[userID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// RegisterContact upserts the user on any inbound activity. First contact
// records the first-seen timestamp; later contacts refresh profile fields.
func (s *Service) RegisterContact(ctx context.Context, u *store.User) error {
	defer s.lockUser(u.ID)()

	if u.FirstSeen == 0 {
		u.FirstSeen = s.now().Unix()
	}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return fmt.Errorf("register contact: %w", err)
	}
	return nil
}

// CurrentMode reports the user's active conversational mode. The command
// layer uses it to route free-form text.
func (s *Service) CurrentMode(userID int64) session.Mode {
	mode, _ := s.sessions.Mode(userID)
	return mode
}

// Cancel is the explicit top-level reset: back to Idle, in-flight batches
// cancelled, pending verification codes invalidated (via reset hooks).
func (s *Service) Cancel(userID int64) {
	defer s.lockUser(userID)()
	s.sessions.ResetModes(userID)
}

// resetForCommand applies the reset-on-new-command rule. Must be called
// with the user lock held, at the top of every top-level command handler.
func (s *Service) resetForCommand(userID int64) {
	s.sessions.ResetModes(userID)
}

// requireMode returns the scratch if the user is in the wanted mode, or
// ErrInvalidMode.
func (s *Service) requireMode(userID int64, mode session.Mode) (session.Scratch, error) {
	current, scratch := s.sessions.Mode(userID)
	if current != mode {
		return session.Scratch{}, fmt.Errorf("%w: in %s, need %s", ErrInvalidMode, current, mode)
	}
	return scratch, nil
}

func (s *Service) archiveEvent(ctx context.Context, format string, args ...any) {
	if s.archive != nil {
		s.archive.Event(ctx, format, args...)
	}
}
