package session_test

import (
	"sync"
	"testing"

	"github.com/stashkeep/stashkeep/internal/session"
)

func TestUnseenUserIsIdle(t *testing.T) {
	c := session.NewCoordinator()

	mode, scratch := c.Mode(1)
	if mode != session.ModeIdle {
		t.Errorf("expected idle for unseen user, got %q", mode)
	}
	if scratch != (session.Scratch{}) {
		t.Errorf("expected empty scratch, got %+v", scratch)
	}
}

func TestEnterModeReplacesScratchWholesale(t *testing.T) {
	c := session.NewCoordinator()

	c.EnterMode(1, session.ModeBrowsing, session.Scratch{CollectionID: 42, Page: 3})
	c.EnterMode(1, session.ModeDelete, session.Scratch{DeleteTargetID: 7})

	mode, scratch := c.Mode(1)
	if mode != session.ModeDelete {
		t.Fatalf("expected delete mode, got %q", mode)
	}
	if scratch.DeleteTargetID != 7 {
		t.Errorf("expected delete target 7, got %d", scratch.DeleteTargetID)
	}
	// No blend: browsing scratch must be gone.
	if scratch.CollectionID != 0 || scratch.Page != 0 {
		t.Errorf("stale scratch leaked across modes: %+v", scratch)
	}
}

func TestEnterSameModeStartsFresh(t *testing.T) {
	c := session.NewCoordinator()

	c.EnterMode(1, session.ModeBrowsing, session.Scratch{CollectionID: 42, Page: 9})
	c.EnterMode(1, session.ModeBrowsing, session.Scratch{CollectionID: 42})

	_, scratch := c.Mode(1)
	if scratch.Page != 0 {
		t.Errorf("re-entering a mode must reset scratch, got page %d", scratch.Page)
	}
}

func TestResetModes(t *testing.T) {
	c := session.NewCoordinator()

	var hookCalls []int64
	c.OnReset(func(userID int64) {
		hookCalls = append(hookCalls, userID)
	})

	c.EnterMode(5, session.ModeAwaitingVerify, session.Scratch{CollectionID: 11})
	c.ResetModes(5)

	mode, scratch := c.Mode(5)
	if mode != session.ModeIdle {
		t.Errorf("expected idle after reset, got %q", mode)
	}
	if scratch != (session.Scratch{}) {
		t.Errorf("expected empty scratch after reset, got %+v", scratch)
	}
	if len(hookCalls) != 1 || hookCalls[0] != 5 {
		t.Errorf("expected one reset hook call for user 5, got %v", hookCalls)
	}
}

func TestResetUnseenUserFiresHooks(t *testing.T) {
	c := session.NewCoordinator()

	called := false
	c.OnReset(func(int64) { called = true })
	c.ResetModes(99)

	if !called {
		t.Error("reset hooks should fire even for unseen users")
	}
}

func TestInMode(t *testing.T) {
	c := session.NewCoordinator()

	if c.InMode(1, session.ModeDelete) {
		t.Error("unseen user should not be in delete mode")
	}
	if !c.InMode(1, session.ModeIdle) {
		t.Error("unseen user should be idle")
	}

	c.EnterMode(1, session.ModeIDLookup, session.Scratch{})
	if !c.InMode(1, session.ModeIDLookup) {
		t.Error("expected id-lookup mode")
	}
	if c.InMode(1, session.ModeIdle) {
		t.Error("user in a mode is not idle")
	}
}

func TestUsersAreIndependent(t *testing.T) {
	c := session.NewCoordinator()

	c.EnterMode(1, session.ModeBrowsing, session.Scratch{CollectionID: 1})
	c.EnterMode(2, session.ModeDelete, session.Scratch{DeleteTargetID: 2})
	c.ResetModes(1)

	if !c.InMode(2, session.ModeDelete) {
		t.Error("resetting user 1 must not touch user 2")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := session.NewCoordinator()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		userID := int64(i % 5)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.EnterMode(userID, session.ModeBrowsing, session.Scratch{CollectionID: userID})
			c.Mode(userID)
			c.InMode(userID, session.ModeBrowsing)
			c.ResetModes(userID)
		}()
	}
	wg.Wait()
}
