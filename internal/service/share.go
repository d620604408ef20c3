package service

import (
	"context"
	"errors"
	"strings"

	"github.com/stashkeep/stashkeep/internal/access"
	"github.com/stashkeep/stashkeep/internal/session"
	"github.com/stashkeep/stashkeep/internal/store"
)

// CreateShare issues a share code for the collection. A collection has at
// most one active code; creating a new one revokes the old, so a leaked
// code can always be rotated away.
func (s *Service) CreateShare(ctx context.Context, actorID, collectionID int64) (*store.ShareCode, error) {
	defer s.lockUser(actorID)()
	s.resetForCommand(actorID)

	d, err := s.access.Authorize(ctx, actorID, collectionID, access.OpManageShare, "")
	if err != nil {
		return nil, err
	}
	if err := access.Denied(d); err != nil {
		return nil, err
	}

	if _, err := s.store.RevokeShareCodes(ctx, collectionID); err != nil {
		return nil, err
	}
	sc, err := access.NewShareCode(collectionID, actorID)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateShareCode(ctx, sc); err != nil {
		return nil, err
	}
	s.archiveEvent(ctx, "share code created for collection %d by user %d", collectionID, actorID)
	return sc, nil
}

// RevokeShare deactivates the collection's share codes and reports how
// many were active.
func (s *Service) RevokeShare(ctx context.Context, actorID, collectionID int64) (int64, error) {
	defer s.lockUser(actorID)()
	s.resetForCommand(actorID)

	d, err := s.access.Authorize(ctx, actorID, collectionID, access.OpManageShare, "")
	if err != nil {
		return 0, err
	}
	if err := access.Denied(d); err != nil {
		return 0, err
	}
	return s.store.RevokeShareCodes(ctx, collectionID)
}

// ShareInfo is the owner-facing view of a collection's sharing state.
type ShareInfo struct {
	Share *store.ShareCode
	Stats *store.ShareStats
}

// ShareStatus reports the active share code and its redemption stats.
func (s *Service) ShareStatus(ctx context.Context, actorID, collectionID int64) (*ShareInfo, error) {
	defer s.lockUser(actorID)()

	d, err := s.access.Authorize(ctx, actorID, collectionID, access.OpManageShare, "")
	if err != nil {
		return nil, err
	}
	if err := access.Denied(d); err != nil {
		return nil, err
	}

	sc, err := s.store.GetShareForCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.ShareStats(ctx, sc.ID)
	if err != nil {
		return nil, err
	}
	return &ShareInfo{Share: sc, Stats: stats}, nil
}

// ShareAccessLog pages through the redemption log of the collection's
// active share code, newest first.
func (s *Service) ShareAccessLog(ctx context.Context, actorID, collectionID int64, offset, limit int) ([]*store.AccessLogEntry, error) {
	defer s.lockUser(actorID)()

	d, err := s.access.Authorize(ctx, actorID, collectionID, access.OpManageShare, "")
	if err != nil {
		return nil, err
	}
	if err := access.Denied(d); err != nil {
		return nil, err
	}

	sc, err := s.store.GetShareForCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	return s.store.ListAccessLog(ctx, sc.ID, offset, limit)
}

// StartShareEntry puts the user into share-code entry: the next text
// message is treated as a code.
func (s *Service) StartShareEntry(userID int64) {
	defer s.lockUser(userID)()
	s.resetForCommand(userID)
	s.sessions.EnterMode(userID, session.ModeAwaitingShareCode, session.Scratch{})
}

// RedeemShareCode resolves a typed share code and opens the shared
// collection for browsing. The redemption is access-logged.
func (s *Service) RedeemShareCode(ctx context.Context, userID int64, code string) (*store.Collection, error) {
	defer s.lockUser(userID)()

	if _, err := s.requireMode(userID, session.ModeAwaitingShareCode); err != nil {
		return nil, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))

	sc, err := s.store.GetShareCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, access.Denied(access.Decision{Reason: access.ReasonInvalidCode})
		}
		return nil, err
	}

	d, err := s.access.Authorize(ctx, userID, sc.CollectionID, access.OpAccessShared, code)
	if err != nil {
		return nil, err
	}
	if err := access.Denied(d); err != nil {
		return nil, err
	}

	col, err := s.store.GetCollection(ctx, sc.CollectionID)
	if err != nil {
		return nil, err
	}
	// Carry the code only for true shared access; owners browse as owners.
	scratchCode := ""
	if d.Reason == access.ReasonSharedAccess {
		scratchCode = code
	}
	s.sessions.EnterMode(userID, session.ModeBrowsing, session.Scratch{
		CollectionID: col.ID,
		ShareCode:    scratchCode,
	})
	return col, nil
}
