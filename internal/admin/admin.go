// Package admin implements the admin panel operations: global stats,
// user moderation, collection transfer/clone, and broadcast.
//
// Every operation checks the static admin set first; there is no
// privilege escalation path through the store.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/stashkeep/stashkeep/internal/access"
	"github.com/stashkeep/stashkeep/internal/dispatch"
	"github.com/stashkeep/stashkeep/internal/logutil"
	"github.com/stashkeep/stashkeep/internal/store"
)

// ErrNotAdmin rejects a non-admin caller.
var ErrNotAdmin = errors.New("admin access required")

// ErrCannotBlockAdmin rejects moderation aimed at the admin set.
var ErrCannotBlockAdmin = errors.New("admins cannot be blocked")

// Store is the persistence surface the admin panel needs.
type Store interface {
	store.UserStore
	store.CollectionStore
	store.ItemStore
}

// Service exposes the admin panel.
type Service struct {
	store      Store
	access     *access.Evaluator
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// New wires the admin panel service.
func New(st Store, ev *access.Evaluator, d *dispatch.Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		store:      st,
		access:     ev,
		dispatcher: d,
		logger:     logutil.Component(logger, "admin"),
	}
}

func (s *Service) requireAdmin(actorID int64) error {
	if !s.access.IsAdmin(actorID) {
		return fmt.Errorf("user %d: %w", actorID, ErrNotAdmin)
	}
	return nil
}

// Stats returns the global rollup.
func (s *Service) Stats(ctx context.Context, actorID int64) (*store.GlobalStats, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, err
	}
	return s.store.Stats(ctx)
}

// ListUsers pages through all known users.
func (s *Service) ListUsers(ctx context.Context, actorID int64, offset, limit int) ([]*store.User, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx, offset, limit)
}

// UserDetail is one user together with their collections.
type UserDetail struct {
	User        *store.User
	Collections []*store.Collection
	ItemCounts  map[int64]int64 // collection id -> item count
}

// GetUserDetail returns the moderation view of one user.
func (s *Service) GetUserDetail(ctx context.Context, actorID, userID int64) (*UserDetail, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	cols, err := s.store.ListCollections(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts := make(map[int64]int64, len(cols))
	for _, col := range cols {
		n, err := s.store.CountItems(ctx, col.ID)
		if err != nil {
			return nil, err
		}
		counts[col.ID] = n
	}
	return &UserDetail{User: u, Collections: cols, ItemCounts: counts}, nil
}

// RankedCollection is one row of the top-collections report.
type RankedCollection struct {
	Collection *store.Collection
	ItemCount  int64
}

// TopCollections returns the largest collections across all users,
// biggest first.
func (s *Service) TopCollections(ctx context.Context, actorID int64, limit int) ([]*RankedCollection, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	const pageSize = 500
	var ranked []*RankedCollection
	for offset := 0; ; offset += pageSize {
		cols, err := s.store.ListAllCollections(ctx, offset, pageSize)
		if err != nil {
			return nil, err
		}
		for _, col := range cols {
			n, err := s.store.CountItems(ctx, col.ID)
			if err != nil {
				return nil, err
			}
			ranked = append(ranked, &RankedCollection{Collection: col, ItemCount: n})
		}
		if len(cols) < pageSize {
			break
		}
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].ItemCount > ranked[j].ItemCount })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// SetBlocked blocks or unblocks a user. Admins are not blockable.
func (s *Service) SetBlocked(ctx context.Context, actorID, targetID int64, blocked bool) error {
	if err := s.requireAdmin(actorID); err != nil {
		return err
	}
	if blocked && s.access.IsAdmin(targetID) {
		return ErrCannotBlockAdmin
	}
	if err := s.store.SetUserBlocked(ctx, targetID, blocked); err != nil {
		return err
	}
	s.logger.Info("user block status changed", "target_id", targetID, "blocked", blocked, "by", actorID)
	return nil
}

// Transfer moves a collection to a new owner.
func (s *Service) Transfer(ctx context.Context, actorID, collectionID, newOwnerID int64) error {
	if err := s.requireAdmin(actorID); err != nil {
		return err
	}
	if _, err := s.store.GetUser(ctx, newOwnerID); err != nil {
		return fmt.Errorf("new owner %d: %w", newOwnerID, err)
	}
	if err := s.store.TransferCollection(ctx, collectionID, newOwnerID); err != nil {
		return err
	}
	s.logger.Info("collection transferred", "collection_id", collectionID, "new_owner", newOwnerID, "by", actorID)
	return nil
}

// Clone copies a collection and its items to another user. The copy is
// independent; share codes are not cloned.
func (s *Service) Clone(ctx context.Context, actorID, collectionID, toUserID int64) (*store.Collection, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, err
	}
	src, err := s.store.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountItems(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, collectionID, 0, int(total))
	if err != nil {
		return nil, err
	}

	clone := &store.Collection{Name: src.Name, OwnerID: toUserID, CreatedAt: src.CreatedAt}
	if err := s.store.CreateCollection(ctx, clone); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			clone.Name = fmt.Sprintf("%s (copy)", src.Name)
			err = s.store.CreateCollection(ctx, clone)
		}
		if err != nil {
			return nil, err
		}
	}
	for _, it := range items {
		copied := *it
		copied.ID = 0
		copied.CollectionID = clone.ID
		if err := s.store.AddItem(ctx, &copied); err != nil {
			return nil, fmt.Errorf("clone item %d: %w", it.ID, err)
		}
	}
	s.logger.Info("collection cloned", "source_id", collectionID, "clone_id", clone.ID, "to", toUserID, "by", actorID)
	return clone, nil
}

// BroadcastResult summarizes a broadcast run.
type BroadcastResult struct {
	Sent   int
	Failed []int64
}

// Broadcast sends a text message to every known user, paced through the
// dispatcher so it cannot trip platform-wide flood limits.
func (s *Service) Broadcast(ctx context.Context, actorID int64, text string) (*BroadcastResult, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, err
	}

	const pageSize = 500
	var chatIDs []int64
	for offset := 0; ; offset += pageSize {
		users, err := s.store.ListUsers(ctx, offset, pageSize)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if !u.Blocked {
				chatIDs = append(chatIDs, u.ID)
			}
		}
		if len(users) < pageSize {
			break
		}
	}

	sent, failed, err := s.dispatcher.Broadcast(ctx, chatIDs, text)
	if err != nil {
		return nil, err
	}
	return &BroadcastResult{Sent: sent, Failed: failed}, nil
}
