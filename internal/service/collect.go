package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/stashkeep/stashkeep/internal/access"
	"github.com/stashkeep/stashkeep/internal/session"
	"github.com/stashkeep/stashkeep/internal/store"
)

const maxCollectionNameLen = 100

// StartNewCollection begins the naming flow for a fresh collection. The
// next text message from the user becomes the collection name.
func (s *Service) StartNewCollection(userID int64) {
	defer s.lockUser(userID)()
	s.resetForCommand(userID)
	s.sessions.EnterMode(userID, session.ModeNamingCollection, session.Scratch{})
}

// NameCollection consumes the pending name, creates the collection, and
// drops the user straight into collecting mode for it.
func (s *Service) NameCollection(ctx context.Context, userID int64, name string) (*store.Collection, error) {
	defer s.lockUser(userID)()

	if _, err := s.requireMode(userID, session.ModeNamingCollection); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxCollectionNameLen {
		return nil, fmt.Errorf("collection name must be 1-%d characters", maxCollectionNameLen)
	}

	col := &store.Collection{Name: name, OwnerID: userID, CreatedAt: s.now().Unix()}
	if err := s.store.CreateCollection(ctx, col); err != nil {
		return nil, err
	}

	s.sessions.EnterMode(userID, session.ModeCollecting, session.Scratch{CollectionID: col.ID})
	s.archiveEvent(ctx, "collection %q created by user %d", col.Name, userID)
	s.logger.Info("collection created", "collection_id", col.ID, "owner_id", userID)
	return col, nil
}

// ResumeCollecting reopens an existing collection for uploads.
func (s *Service) ResumeCollecting(ctx context.Context, actorID, collectionID int64) (*store.Collection, error) {
	defer s.lockUser(actorID)()
	s.resetForCommand(actorID)

	d, err := s.access.Authorize(ctx, actorID, collectionID, access.OpAddItem, "")
	if err != nil {
		return nil, err
	}
	if err := access.Denied(d); err != nil {
		return nil, err
	}

	col, err := s.store.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	s.sessions.EnterMode(actorID, session.ModeCollecting, session.Scratch{CollectionID: col.ID})
	return col, nil
}

// SaveResult reports one upload intake.
type SaveResult struct {
	Item      *store.Item
	Duplicate bool // skipped, same file already in the collection
	Count     int  // running batch count
}

// SaveItem stores one uploaded payload into the user's active collection.
// Valid only in collecting mode. Duplicate files (same reference and
// size) are skipped, not stored twice.
func (s *Service) SaveItem(ctx context.Context, userID, chatID int64, item *store.Item) (*SaveResult, error) {
	defer s.lockUser(userID)()

	scratch, err := s.requireMode(userID, session.ModeCollecting)
	if err != nil {
		return nil, err
	}
	col, err := s.store.GetCollection(ctx, scratch.CollectionID)
	if err != nil {
		return nil, err
	}

	if item.FileRef != "" {
		dup, err := s.store.HasDuplicateItem(ctx, col.ID, item.FileRef, item.FileSize)
		if err != nil {
			return nil, err
		}
		if dup {
			return &SaveResult{Duplicate: true, Count: s.dispatcher.Count(userID, col.ID)}, nil
		}
	}

	item.CollectionID = col.ID
	item.AddedAt = s.now().Unix()
	if err := s.store.AddItem(ctx, item); err != nil {
		return nil, err
	}

	s.dispatcher.EnqueueItem(ctx, userID, col.ID, chatID, col.Name)

	if s.archive != nil {
		uploader, uerr := s.store.GetUser(ctx, userID)
		if uerr != nil {
			uploader = &store.User{ID: userID}
		}
		s.archive.MirrorItem(ctx, uploader, col, item)
	}

	return &SaveResult{Item: item, Count: s.dispatcher.Count(userID, col.ID)}, nil
}

// FinishCollecting closes the upload flow and reports how many items the
// batch accepted.
func (s *Service) FinishCollecting(ctx context.Context, userID int64) (int, error) {
	defer s.lockUser(userID)()

	scratch, err := s.requireMode(userID, session.ModeCollecting)
	if err != nil {
		return 0, err
	}
	count := s.dispatcher.CloseBatch(userID, scratch.CollectionID)
	s.sessions.ResetModes(userID)
	return count, nil
}

// ListCollections returns the user's own collections.
func (s *Service) ListCollections(ctx context.Context, userID int64) ([]*store.Collection, error) {
	defer s.lockUser(userID)()
	s.resetForCommand(userID)
	return s.store.ListCollections(ctx, userID)
}
