package service

import (
	"context"

	"github.com/stashkeep/stashkeep/internal/access"
	"github.com/stashkeep/stashkeep/internal/export"
	"github.com/stashkeep/stashkeep/internal/session"
)

// ExportCollection serializes a collection the actor may view into its
// portable text snapshot.
func (s *Service) ExportCollection(ctx context.Context, actorID, collectionID int64) (string, error) {
	defer s.lockUser(actorID)()
	s.resetForCommand(actorID)

	d, err := s.access.Authorize(ctx, actorID, collectionID, access.OpView, "")
	if err != nil {
		return "", err
	}
	if err := access.Denied(d); err != nil {
		return "", err
	}
	return export.Snapshot(ctx, s.store, collectionID)
}

// StartImport puts the user into import mode: the next text message is
// parsed as a collection snapshot.
func (s *Service) StartImport(userID int64) {
	defer s.lockUser(userID)()
	s.resetForCommand(userID)
	s.sessions.EnterMode(userID, session.ModeImporting, session.Scratch{})
}

// ImportSnapshot restores a snapshot into a new collection owned by the
// user. Per-row errors are tolerated and reported as skip counts.
func (s *Service) ImportSnapshot(ctx context.Context, userID int64, snapshot string) (*export.ImportResult, error) {
	defer s.lockUser(userID)()

	if _, err := s.requireMode(userID, session.ModeImporting); err != nil {
		return nil, err
	}

	res, err := export.Restore(ctx, s.store, userID, snapshot, s.now().Unix())
	if err != nil {
		return nil, err
	}
	s.sessions.ResetModes(userID)
	s.archiveEvent(ctx, "collection %q imported by user %d (%d items, %d skipped)",
		res.Collection.Name, userID, res.Imported, res.Skipped)
	s.logger.Info("collection imported",
		"collection_id", res.Collection.ID, "user_id", userID,
		"imported", res.Imported, "skipped", res.Skipped)
	return res, nil
}
