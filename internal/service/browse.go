package service

import (
	"context"
	"fmt"

	"github.com/stashkeep/stashkeep/internal/access"
	"github.com/stashkeep/stashkeep/internal/session"
	"github.com/stashkeep/stashkeep/internal/store"
)

// PageSize is how many items one browse page shows.
const PageSize = 10

// Page is one browse page of a collection.
type Page struct {
	Collection *store.Collection
	Items      []*store.Item
	Number     int // zero-based
	TotalPages int
	TotalItems int64
}

// Header is the human-readable position line for the page.
func (p *Page) Header() string {
	if p.TotalItems == 0 {
		return fmt.Sprintf("%s: empty", p.Collection.Name)
	}
	first := p.Number*PageSize + 1
	last := first + len(p.Items) - 1
	return fmt.Sprintf("%s: items %d-%d of %d", p.Collection.Name, first, last, p.TotalItems)
}

// Browse opens or pages through a collection. Owners and admins browse
// directly; others must present a share code on the first call — once
// browsing, the redeemed code is carried in session scratch so paging
// does not re-redeem (and re-log) it.
func (s *Service) Browse(ctx context.Context, actorID, collectionID int64, page int, code string) (*Page, error) {
	defer s.lockUser(actorID)()

	// A redeemed share code is sticky for the browsing session: page
	// turns ride on the session grant instead of re-redeeming (and
	// re-logging) the code. A fresh open is a top-level command and
	// resets any in-progress flow first.
	mode, scratch := s.sessions.Mode(actorID)
	paging := mode == session.ModeBrowsing && scratch.CollectionID == collectionID
	if !paging {
		s.resetForCommand(actorID)
	}

	switch {
	case paging && code == "" && scratch.ShareCode != "":
		code = scratch.ShareCode
	default:
		op := access.OpView
		if code != "" {
			op = access.OpAccessShared
		}
		d, err := s.access.Authorize(ctx, actorID, collectionID, op, code)
		if err != nil {
			return nil, err
		}
		if err := access.Denied(d); err != nil {
			return nil, err
		}
		// Carry the code forward only when it granted the access.
		if d.Reason != access.ReasonSharedAccess {
			code = ""
		}
	}

	col, err := s.store.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountItems(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	totalPages := int((total + PageSize - 1) / PageSize)
	if page < 0 {
		page = 0
	}
	if totalPages > 0 && page >= totalPages {
		page = totalPages - 1
	}

	items, err := s.store.ListItems(ctx, collectionID, page*PageSize, PageSize)
	if err != nil {
		return nil, err
	}

	s.sessions.EnterMode(actorID, session.ModeBrowsing, session.Scratch{
		CollectionID: collectionID,
		Page:         page,
		ShareCode:    code,
	})

	return &Page{
		Collection: col,
		Items:      items,
		Number:     page,
		TotalPages: totalPages,
		TotalItems: total,
	}, nil
}

// CurrentBrowse reports which collection the user is browsing, if any.
func (s *Service) CurrentBrowse(userID int64) (int64, bool) {
	mode, scratch := s.sessions.Mode(userID)
	if mode != session.ModeBrowsing {
		return 0, false
	}
	return scratch.CollectionID, true
}

// StartDeleteMode arms single-item deletion for a collection the actor
// may modify. Subsequent DeleteItem calls operate on this collection.
func (s *Service) StartDeleteMode(ctx context.Context, actorID, collectionID int64) error {
	defer s.lockUser(actorID)()
	s.resetForCommand(actorID)

	d, err := s.access.Authorize(ctx, actorID, collectionID, access.OpDeleteItem, "")
	if err != nil {
		return err
	}
	if err := access.Denied(d); err != nil {
		return err
	}
	s.sessions.EnterMode(actorID, session.ModeDelete, session.Scratch{CollectionID: collectionID})
	return nil
}

// DeleteItem removes one item while in delete mode. The item must belong
// to the armed collection.
func (s *Service) DeleteItem(ctx context.Context, actorID, itemID int64) error {
	defer s.lockUser(actorID)()

	scratch, err := s.requireMode(actorID, session.ModeDelete)
	if err != nil {
		return err
	}
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.CollectionID != scratch.CollectionID {
		return fmt.Errorf("item %d: %w", itemID, store.ErrNotFound)
	}
	if err := s.store.DeleteItem(ctx, itemID); err != nil {
		return err
	}
	s.logger.Info("item deleted", "item_id", itemID, "collection_id", item.CollectionID, "user_id", actorID)
	return nil
}

// DeleteByFileRef removes every copy of a file from the armed collection,
// matching a forwarded message against stored items. Returns the count.
func (s *Service) DeleteByFileRef(ctx context.Context, actorID int64, fileRef string) (int64, error) {
	defer s.lockUser(actorID)()

	scratch, err := s.requireMode(actorID, session.ModeDelete)
	if err != nil {
		return 0, err
	}
	return s.store.DeleteItemsByFileRef(ctx, scratch.CollectionID, fileRef)
}

// StartIDLookup arms file-identifier lookup: the next forwarded media
// item is answered with its stored reference instead of being saved.
func (s *Service) StartIDLookup(userID int64) {
	defer s.lockUser(userID)()
	s.resetForCommand(userID)
	s.sessions.EnterMode(userID, session.ModeIDLookup, session.Scratch{})
}

// LookupID answers an id-lookup request with the payload's reference.
// The session returns to idle after one lookup.
func (s *Service) LookupID(userID int64, kind, fileRef string) (string, error) {
	defer s.lockUser(userID)()

	if _, err := s.requireMode(userID, session.ModeIDLookup); err != nil {
		return "", err
	}
	s.sessions.ResetModes(userID)
	return fmt.Sprintf("%s: %s", kind, fileRef), nil
}
