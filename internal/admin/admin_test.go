package admin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stashkeep/stashkeep/internal/access"
	"github.com/stashkeep/stashkeep/internal/dispatch"
	"github.com/stashkeep/stashkeep/internal/messenger"
	"github.com/stashkeep/stashkeep/internal/store"
	_ "github.com/stashkeep/stashkeep/internal/store/memory"
)

type nullMessenger struct {
	mu    sync.Mutex
	texts map[int64][]string
}

func (n *nullMessenger) SendMediaGroup(ctx context.Context, chatID int64, media []messenger.Media) error {
	return nil
}

func (n *nullMessenger) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.texts == nil {
		n.texts = make(map[int64][]string)
	}
	n.texts[chatID] = append(n.texts[chatID], text)
	return 1, nil
}

func (n *nullMessenger) EditText(ctx context.Context, chatID, messageID int64, text string) error {
	return nil
}

const (
	adminID = int64(1)
	aliceID = int64(2)
	bobID   = int64(3)
)

func newPanel(t *testing.T) (*Service, store.Driver, *nullMessenger) {
	t.Helper()
	ctx := context.Background()

	st, err := store.New(&store.DriverConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	if err := st.Init(ctx); err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	for _, u := range []*store.User{
		{ID: adminID, Username: "root"},
		{ID: aliceID, Username: "alice"},
		{ID: bobID, Username: "bob"},
	} {
		if err := st.UpsertUser(ctx, u); err != nil {
			t.Fatalf("seed user failed: %v", err)
		}
	}

	nm := &nullMessenger{}
	d := dispatch.New(nm, dispatch.Config{ChunkDelay: time.Nanosecond}, nil)
	ev := access.NewEvaluator(st, []int64{adminID}, nil)
	return New(st, ev, d, nil), st, nm
}

func seedCollection(t *testing.T, st store.Driver, owner int64, name string, items int) *store.Collection {
	t.Helper()
	ctx := context.Background()
	col := &store.Collection{Name: name, OwnerID: owner}
	if err := st.CreateCollection(ctx, col); err != nil {
		t.Fatalf("seed collection failed: %v", err)
	}
	for i := 0; i < items; i++ {
		it := &store.Item{CollectionID: col.ID, Kind: store.KindPhoto, FileRef: name + "-f", FileSize: int64(i + 100)}
		if err := st.AddItem(ctx, it); err != nil {
			t.Fatalf("seed item failed: %v", err)
		}
	}
	return col
}

func TestNonAdminRejectedEverywhere(t *testing.T) {
	panel, _, _ := newPanel(t)
	ctx := context.Background()

	if _, err := panel.Stats(ctx, aliceID); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("Stats: expected ErrNotAdmin, got %v", err)
	}
	if err := panel.SetBlocked(ctx, aliceID, bobID, true); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("SetBlocked: expected ErrNotAdmin, got %v", err)
	}
	if _, err := panel.Broadcast(ctx, aliceID, "hi"); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("Broadcast: expected ErrNotAdmin, got %v", err)
	}
}

func TestStatsAndUserDetail(t *testing.T) {
	panel, st, _ := newPanel(t)
	ctx := context.Background()
	seedCollection(t, st, aliceID, "a1", 3)
	seedCollection(t, st, aliceID, "a2", 2)
	seedCollection(t, st, bobID, "b1", 1)

	stats, err := panel.Stats(ctx, adminID)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Users != 3 || stats.Collections != 3 || stats.Items != 6 {
		t.Errorf("stats = %+v", stats)
	}

	detail, err := panel.GetUserDetail(ctx, adminID, aliceID)
	if err != nil {
		t.Fatalf("GetUserDetail failed: %v", err)
	}
	if detail.User.Username != "alice" || len(detail.Collections) != 2 {
		t.Errorf("detail = %+v", detail)
	}
	var total int64
	for _, n := range detail.ItemCounts {
		total += n
	}
	if total != 5 {
		t.Errorf("alice item total = %d, want 5", total)
	}
}

func TestTopCollections(t *testing.T) {
	panel, st, _ := newPanel(t)
	ctx := context.Background()
	seedCollection(t, st, aliceID, "small", 1)
	big := seedCollection(t, st, bobID, "big", 5)
	mid := seedCollection(t, st, aliceID, "mid", 3)

	ranked, err := panel.TopCollections(ctx, adminID, 2)
	if err != nil {
		t.Fatalf("TopCollections failed: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("got %d rows, want 2", len(ranked))
	}
	if ranked[0].Collection.ID != big.ID || ranked[0].ItemCount != 5 {
		t.Errorf("first = %q (%d items)", ranked[0].Collection.Name, ranked[0].ItemCount)
	}
	if ranked[1].Collection.ID != mid.ID || ranked[1].ItemCount != 3 {
		t.Errorf("second = %q (%d items)", ranked[1].Collection.Name, ranked[1].ItemCount)
	}

	if _, err := panel.TopCollections(ctx, aliceID, 2); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("expected ErrNotAdmin, got %v", err)
	}
}

func TestBlockUnblockAndAdminProtection(t *testing.T) {
	panel, st, _ := newPanel(t)
	ctx := context.Background()

	if err := panel.SetBlocked(ctx, adminID, bobID, true); err != nil {
		t.Fatalf("block failed: %v", err)
	}
	if blocked, _ := st.IsUserBlocked(ctx, bobID); !blocked {
		t.Error("bob should be blocked")
	}
	if err := panel.SetBlocked(ctx, adminID, bobID, false); err != nil {
		t.Fatalf("unblock failed: %v", err)
	}
	if blocked, _ := st.IsUserBlocked(ctx, bobID); blocked {
		t.Error("bob should be unblocked")
	}

	if err := panel.SetBlocked(ctx, adminID, adminID, true); !errors.Is(err, ErrCannotBlockAdmin) {
		t.Errorf("expected ErrCannotBlockAdmin, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	panel, st, _ := newPanel(t)
	ctx := context.Background()
	col := seedCollection(t, st, aliceID, "movable", 1)

	if err := panel.Transfer(ctx, adminID, col.ID, bobID); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	got, err := st.GetCollection(ctx, col.ID)
	if err != nil {
		t.Fatalf("GetCollection failed: %v", err)
	}
	if got.OwnerID != bobID {
		t.Errorf("owner = %d, want %d", got.OwnerID, bobID)
	}

	if err := panel.Transfer(ctx, adminID, col.ID, 999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("transfer to unknown user should fail, got %v", err)
	}
}

func TestCloneCopiesItemsIndependently(t *testing.T) {
	panel, st, _ := newPanel(t)
	ctx := context.Background()
	src := seedCollection(t, st, aliceID, "originals", 4)

	clone, err := panel.Clone(ctx, adminID, src.ID, bobID)
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	if clone.OwnerID != bobID || clone.ID == src.ID {
		t.Fatalf("clone = %+v", clone)
	}
	if n, _ := st.CountItems(ctx, clone.ID); n != 4 {
		t.Errorf("clone has %d items, want 4", n)
	}

	// Deleting the clone leaves the original intact.
	if err := st.DeleteCollection(ctx, clone.ID); err != nil {
		t.Fatalf("delete clone failed: %v", err)
	}
	if n, _ := st.CountItems(ctx, src.ID); n != 4 {
		t.Errorf("original has %d items after clone delete, want 4", n)
	}
}

func TestCloneNameClashGetsCopySuffix(t *testing.T) {
	panel, st, _ := newPanel(t)
	ctx := context.Background()
	src := seedCollection(t, st, aliceID, "shared-name", 1)
	seedCollection(t, st, bobID, "shared-name", 1)

	clone, err := panel.Clone(ctx, adminID, src.ID, bobID)
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	if clone.Name != "shared-name (copy)" {
		t.Errorf("clone name = %q", clone.Name)
	}
}

func TestBroadcastSkipsBlockedUsers(t *testing.T) {
	panel, st, nm := newPanel(t)
	ctx := context.Background()

	if err := st.SetUserBlocked(ctx, bobID, true); err != nil {
		t.Fatalf("block failed: %v", err)
	}

	res, err := panel.Broadcast(ctx, adminID, "maintenance tonight")
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if res.Sent != 2 || len(res.Failed) != 0 {
		t.Errorf("broadcast result = %+v, want 2 sent", res)
	}
	if len(nm.texts[bobID]) != 0 {
		t.Error("blocked user must not receive broadcasts")
	}
	if len(nm.texts[aliceID]) != 1 || nm.texts[aliceID][0] != "maintenance tonight" {
		t.Errorf("alice texts = %v", nm.texts[aliceID])
	}
}
