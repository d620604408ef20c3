// Package session tracks the single active conversational mode per user.
//
// A user is always in exactly one mode. Entering a mode replaces the
// previous mode and its scratch data wholesale, so stale state from an
// abandoned flow can never leak into a new one. Sessions are in-memory
// only; a restart returns every user to Idle.
package session

import "sync"

// Mode is the active conversational flow a user is in.
type Mode string

const (
	ModeIdle              Mode = "idle"
	ModeBrowsing          Mode = "browsing"
	ModeCollecting        Mode = "collecting" // uploads go into the active collection
	ModeDelete            Mode = "delete"
	ModeIDLookup          Mode = "id_lookup"
	ModeAwaitingShareCode Mode = "awaiting_share_code"
	ModeAwaitingVerify    Mode = "awaiting_verification"
	ModeNamingCollection  Mode = "naming_collection"
	ModeImporting         Mode = "importing"
)

// Scratch holds mode-scoped working data. Only the fields relevant to the
// current mode are meaningful; EnterMode replaces the whole struct.
type Scratch struct {
	// CollectionID is the collection the mode operates on (Collecting,
	// Browsing, AwaitingVerify).
	CollectionID int64

	// Page is the browsing pagination cursor.
	Page int

	// DeleteTargetID is the item or collection picked in delete mode.
	DeleteTargetID int64

	// PendingOp is the destructive operation a verification code was
	// issued for (AwaitingVerify).
	PendingOp string

	// ShareCode is the code a shared-access viewer is browsing under.
	ShareCode string
}

type state struct {
	mode    Mode
	scratch Scratch
}

// Coordinator is the single mutation point for per-user session state.
// All methods are safe for concurrent use; state is partitioned by user id.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[int64]*state
	hooks    []func(userID int64)
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		sessions: make(map[int64]*state),
	}
}

// OnReset registers a hook invoked after a user's modes are reset.
// The batch dispatcher uses this to cancel in-flight batches and the
// access evaluator to invalidate pending verification codes.
// Not safe to call concurrently with other methods; register at wiring time.
func (c *Coordinator) OnReset(hook func(userID int64)) {
	c.hooks = append(c.hooks, hook)
}

// EnterMode unconditionally replaces the user's mode and scratch data.
// It always starts fresh, even when re-entering the current mode.
func (c *Coordinator) EnterMode(userID int64, mode Mode, scratch Scratch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[userID] = &state{mode: mode, scratch: scratch}
}

// Mode returns the user's current mode and scratch. Unseen users are Idle
// with empty scratch; no session record is fabricated.
func (c *Coordinator) Mode(userID int64) (Mode, Scratch) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.sessions[userID]
	if !ok {
		return ModeIdle, Scratch{}
	}
	return s.mode, s.scratch
}

// InMode reports whether the user is currently in the given mode.
func (c *Coordinator) InMode(userID int64, mode Mode) bool {
	current, _ := c.Mode(userID)
	return current == mode
}

// ResetModes forces the user back to Idle, clearing all scratch data, and
// fires the registered reset hooks. Called before any top-level command is
// handled; a new command always wins over an in-progress flow.
func (c *Coordinator) ResetModes(userID int64) {
	c.mu.Lock()
	delete(c.sessions, userID)
	c.mu.Unlock()

	for _, hook := range c.hooks {
		hook(userID)
	}
}
