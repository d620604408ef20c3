// Package access is the single decision point for "may actor A perform
// operation O on collection T, optionally presenting code C".
//
// The evaluator is stateless apart from the verification-code registry;
// everything else is read-only lookups against the store.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stashkeep/stashkeep/internal/logutil"
	"github.com/stashkeep/stashkeep/internal/store"
)

// Operation identifies what the actor is trying to do.
type Operation string

const (
	OpView             Operation = "view"
	OpAddItem          Operation = "add_item"
	OpDeleteItem       Operation = "delete_item"
	OpDeleteCollection Operation = "delete_collection" // destructive, verification-gated
	OpSendCollection   Operation = "send_collection"   // destructive, verification-gated
	OpManageShare      Operation = "manage_share"
	OpAccessShared     Operation = "access_shared" // redemption of a share code
)

// Destructive reports whether the operation requires a confirmation code
// once one has been issued.
func (op Operation) Destructive() bool {
	return op == OpDeleteCollection || op == OpSendCollection
}

// Reason tags a decision so the caller can present a specific message.
type Reason string

const (
	ReasonAdmin           Reason = "admin"
	ReasonOwner           Reason = "owner"
	ReasonSharedAccess    Reason = "shared_access"
	ReasonVerified        Reason = "verified"
	ReasonNotOwner        Reason = "not_owner"
	ReasonBlocked         Reason = "blocked"
	ReasonInvalidCode     Reason = "invalid_code"
	ReasonExpiredCode     Reason = "expired_code"
	ReasonCodeAlreadyUsed Reason = "code_already_used"
	ReasonNotFound        Reason = "not_found"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allow  bool
	Reason Reason
}

func allow(r Reason) Decision { return Decision{Allow: true, Reason: r} }
func deny(r Reason) Decision  { return Decision{Allow: false, Reason: r} }

// PermissionDeniedError carries a deny decision as an error.
type PermissionDeniedError struct {
	Reason Reason
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

// Denied converts a deny decision into an error; nil for allow decisions.
func Denied(d Decision) error {
	if d.Allow {
		return nil
	}
	return &PermissionDeniedError{Reason: d.Reason}
}

// Store is the read-mostly slice of persistence the evaluator needs.
type Store interface {
	GetCollection(ctx context.Context, id int64) (*store.Collection, error)
	IsUserBlocked(ctx context.Context, userID int64) (bool, error)
	GetShareCode(ctx context.Context, code string) (*store.ShareCode, error)
	RecordAccess(ctx context.Context, entry *store.AccessLogEntry) error
}

// Evaluator composes ownership, admin-bypass, share-code and
// verification-code checks into a single yes/no decision.
type Evaluator struct {
	store  Store
	admins map[int64]bool
	codes  *verificationRegistry
	logger *slog.Logger
	now    func() time.Time
}

// NewEvaluator creates an evaluator. adminIDs is the static admin set.
func NewEvaluator(s Store, adminIDs []int64, logger *slog.Logger) *Evaluator {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	e := &Evaluator{
		store:  s,
		admins: admins,
		logger: logutil.NoopIfNil(logger),
		now:    time.Now,
	}
	e.codes = newVerificationRegistry(e.nowFunc)
	return e
}

func (e *Evaluator) nowFunc() time.Time { return e.now() }

// IsAdmin reports whether the user is in the static admin set.
func (e *Evaluator) IsAdmin(userID int64) bool {
	return e.admins[userID]
}

// Authorize decides whether actor may perform op on the collection,
// optionally presenting a code (share code or verification code).
//
// Precedence: block status first (admins are exempt from blocking), then a
// presented confirmation code for destructive operations (the code is the
// confirmation step, so a bad code denies even owners and admins), then
// admin bypass, ownership, and share-code redemption. Successful share-code
// redemptions are appended to the access log.
func (e *Evaluator) Authorize(ctx context.Context, actorID, collectionID int64, op Operation, code string) (Decision, error) {
	if !e.IsAdmin(actorID) {
		blocked, err := e.store.IsUserBlocked(ctx, actorID)
		if err != nil {
			return deny(ReasonNotFound), err
		}
		if blocked {
			return deny(ReasonBlocked), nil
		}
	}

	if op.Destructive() && code != "" {
		d := e.codes.redeem(actorID, op, collectionID, code)
		e.logger.Info("verification code redeemed",
			"user_id", actorID, "op", string(op), "collection_id", collectionID, "allow", d.Allow, "reason", string(d.Reason))
		return d, nil
	}

	if e.IsAdmin(actorID) {
		return allow(ReasonAdmin), nil
	}

	col, err := e.store.GetCollection(ctx, collectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return deny(ReasonNotFound), nil
		}
		return deny(ReasonNotFound), err
	}

	if col.OwnerID == actorID {
		return allow(ReasonOwner), nil
	}

	if op == OpAccessShared && code != "" {
		return e.redeemShareCode(ctx, actorID, collectionID, code)
	}

	return deny(ReasonNotOwner), nil
}

func (e *Evaluator) redeemShareCode(ctx context.Context, actorID, collectionID int64, code string) (Decision, error) {
	sc, err := e.store.GetShareCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return deny(ReasonInvalidCode), nil
		}
		return deny(ReasonInvalidCode), err
	}
	if !sc.Active {
		return deny(ReasonExpiredCode), nil
	}
	if sc.CollectionID != collectionID {
		return deny(ReasonInvalidCode), nil
	}

	entry := &store.AccessLogEntry{
		ShareCodeID: sc.ID,
		UserID:      actorID,
		AccessedAt:  e.now().Unix(),
	}
	if err := e.store.RecordAccess(ctx, entry); err != nil {
		// The decision stands; losing a log row is not a denial.
		e.logger.Warn("failed to record share access", "share_code_id", sc.ID, "error", err)
	}
	return allow(ReasonSharedAccess), nil
}

// IssueVerification generates a single-use confirmation code bound to
// (actor, op, collection). Any previously issued code for the same triple
// is replaced.
func (e *Evaluator) IssueVerification(actorID int64, op Operation, collectionID int64) (string, error) {
	return e.codes.issue(actorID, op, collectionID)
}

// InvalidateVerifications drops all pending verification codes for a user.
// Wired as a session reset hook: an abandoned destructive flow cannot be
// resumed with a stale code.
func (e *Evaluator) InvalidateVerifications(userID int64) {
	e.codes.invalidateUser(userID)
}
