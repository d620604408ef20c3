package service

import (
	"context"
	"fmt"

	"github.com/stashkeep/stashkeep/internal/access"
	"github.com/stashkeep/stashkeep/internal/dispatch"
	"github.com/stashkeep/stashkeep/internal/session"
)

// VerifyRequest is an armed destructive operation awaiting its code.
type VerifyRequest struct {
	Op           access.Operation
	CollectionID int64
	Code         string // shown to the user; typing it back confirms
}

// RequestDestructive arms a verification-gated operation (full delete or
// full send). The actor must already be entitled to the operation; the
// code only confirms intent. The issued code is returned so the command
// layer can show it.
func (s *Service) RequestDestructive(ctx context.Context, actorID, collectionID int64, op access.Operation) (*VerifyRequest, error) {
	defer s.lockUser(actorID)()
	s.resetForCommand(actorID)

	if !op.Destructive() {
		return nil, fmt.Errorf("operation %s does not require verification", op)
	}

	d, err := s.access.Authorize(ctx, actorID, collectionID, op, "")
	if err != nil {
		return nil, err
	}
	if err := access.Denied(d); err != nil {
		return nil, err
	}

	code, err := s.access.IssueVerification(actorID, op, collectionID)
	if err != nil {
		return nil, err
	}
	s.sessions.EnterMode(actorID, session.ModeAwaitingVerify, session.Scratch{
		CollectionID: collectionID,
		PendingOp:    string(op),
	})
	return &VerifyRequest{Op: op, CollectionID: collectionID, Code: code}, nil
}

// ConfirmResult reports what a confirmed destructive operation did.
type ConfirmResult struct {
	Op           access.Operation
	CollectionID int64
	Deleted      bool
	Delivery     *dispatch.Result // set for send operations
}

// ConfirmDestructive redeems the typed-back code and, on success, executes
// the armed operation. Any outcome ends the verification flow; a wrong
// code burns it and the user must start over.
func (s *Service) ConfirmDestructive(ctx context.Context, actorID, chatID int64, code string) (*ConfirmResult, error) {
	defer s.lockUser(actorID)()

	scratch, err := s.requireMode(actorID, session.ModeAwaitingVerify)
	if err != nil {
		return nil, err
	}
	op := access.Operation(scratch.PendingOp)
	collectionID := scratch.CollectionID

	d, err := s.access.Authorize(ctx, actorID, collectionID, op, code)
	if err != nil {
		return nil, err
	}
	if !d.Allow {
		s.sessions.ResetModes(actorID)
		return nil, access.Denied(d)
	}

	// Leave the verification mode before the (possibly long) execution so
	// the session is not wedged while chunks go out.
	s.sessions.EnterMode(actorID, session.ModeIdle, session.Scratch{})

	res := &ConfirmResult{Op: op, CollectionID: collectionID}
	switch op {
	case access.OpDeleteCollection:
		col, err := s.store.GetCollection(ctx, collectionID)
		if err != nil {
			return nil, err
		}
		if err := s.store.DeleteCollection(ctx, collectionID); err != nil {
			return nil, err
		}
		res.Deleted = true
		s.archiveEvent(ctx, "collection %q deleted by user %d", col.Name, actorID)
		s.logger.Info("collection deleted", "collection_id", collectionID, "user_id", actorID)

	case access.OpSendCollection:
		delivery, err := s.deliverAll(ctx, actorID, collectionID, chatID)
		if err != nil {
			return nil, err
		}
		res.Delivery = delivery

	default:
		return nil, fmt.Errorf("unknown destructive operation %q", op)
	}
	return res, nil
}

// deliverAll pulls every item of the collection in insertion order and
// hands them to the dispatcher.
func (s *Service) deliverAll(ctx context.Context, actorID, collectionID, chatID int64) (*dispatch.Result, error) {
	total, err := s.store.CountItems(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, collectionID, 0, int(total))
	if err != nil {
		return nil, err
	}
	res, err := s.dispatcher.Deliver(ctx, actorID, collectionID, chatID, items)
	if err != nil {
		return nil, err
	}
	s.logger.Info("collection sent",
		"collection_id", collectionID, "user_id", actorID,
		"delivered", res.Delivered, "failed", len(res.Failed), "cancelled", res.Cancelled)
	return res, nil
}
