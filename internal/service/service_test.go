package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stashkeep/stashkeep/internal/access"
	"github.com/stashkeep/stashkeep/internal/dispatch"
	"github.com/stashkeep/stashkeep/internal/messenger"
	"github.com/stashkeep/stashkeep/internal/session"
	"github.com/stashkeep/stashkeep/internal/store"
	_ "github.com/stashkeep/stashkeep/internal/store/memory"
)

type captureMessenger struct {
	mu     sync.Mutex
	groups [][]messenger.Media
	texts  []string
	nextID int64
}

func (c *captureMessenger) SendMediaGroup(ctx context.Context, chatID int64, media []messenger.Media) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups = append(c.groups, media)
	return nil
}

func (c *captureMessenger) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	c.nextID++
	return c.nextID, nil
}

func (c *captureMessenger) EditText(ctx context.Context, chatID, messageID int64, text string) error {
	return nil
}

type fixture struct {
	svc *Service
	st  store.Driver
	fm  *captureMessenger
	ev  *access.Evaluator
}

const (
	owner    = int64(1)
	stranger = int64(2)
	admin    = int64(99)
	chat     = int64(1000)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.New(&store.DriverConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fm := &captureMessenger{}
	d := dispatch.New(fm, dispatch.Config{ChunkDelay: time.Nanosecond}, nil)
	sessions := session.NewCoordinator()
	ev := access.NewEvaluator(st, []int64{admin}, nil)
	sessions.OnReset(d.CancelAll)
	sessions.OnReset(ev.InvalidateVerifications)

	svc := New(st, sessions, ev, d, nil, nil)
	for _, id := range []int64{owner, stranger, admin} {
		if err := svc.RegisterContact(context.Background(), &store.User{ID: id}); err != nil {
			t.Fatalf("RegisterContact failed: %v", err)
		}
	}
	return &fixture{svc: svc, st: st, fm: fm, ev: ev}
}

var colSeq atomic.Int64

func (f *fixture) collectionWithItems(t *testing.T, n int) *store.Collection {
	t.Helper()
	ctx := context.Background()

	f.svc.StartNewCollection(owner)
	col, err := f.svc.NameCollection(ctx, owner, fmt.Sprintf("col-%d", colSeq.Add(1)))
	if err != nil {
		t.Fatalf("NameCollection failed: %v", err)
	}
	for i := 0; i < n; i++ {
		item := &store.Item{Kind: store.KindPhoto, FileRef: fmt.Sprintf("f%d", i), FileSize: int64(i + 1)}
		if _, err := f.svc.SaveItem(ctx, owner, chat, item); err != nil {
			t.Fatalf("SaveItem %d failed: %v", i, err)
		}
	}
	return col
}

func TestUploadFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.StartNewCollection(owner)

	// An upload before the collection is named is rejected, not saved.
	if _, err := f.svc.SaveItem(ctx, owner, chat, &store.Item{Kind: store.KindPhoto, FileRef: "early"}); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode before naming, got %v", err)
	}

	col, err := f.svc.NameCollection(ctx, owner, "  holiday  ")
	if err != nil {
		t.Fatalf("NameCollection failed: %v", err)
	}
	if col.Name != "holiday" {
		t.Errorf("name not trimmed: %q", col.Name)
	}

	for i := 0; i < 3; i++ {
		res, err := f.svc.SaveItem(ctx, owner, chat, &store.Item{Kind: store.KindPhoto, FileRef: fmt.Sprintf("f%d", i), FileSize: 10})
		if err != nil {
			t.Fatalf("SaveItem failed: %v", err)
		}
		if res.Duplicate || res.Count != i+1 {
			t.Errorf("save %d: got %+v", i, res)
		}
	}

	// Same file reference and size is skipped.
	res, err := f.svc.SaveItem(ctx, owner, chat, &store.Item{Kind: store.KindPhoto, FileRef: "f1", FileSize: 10})
	if err != nil {
		t.Fatalf("SaveItem dup failed: %v", err)
	}
	if !res.Duplicate {
		t.Error("expected duplicate to be skipped")
	}

	count, err := f.svc.FinishCollecting(ctx, owner)
	if err != nil {
		t.Fatalf("FinishCollecting failed: %v", err)
	}
	if count != 3 {
		t.Errorf("batch count = %d, want 3", count)
	}
	if n, _ := f.st.CountItems(ctx, col.ID); n != 3 {
		t.Errorf("stored %d items, want 3", n)
	}
}

func TestNewCommandResetsPreviousFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.StartNewCollection(owner)
	f.svc.StartIDLookup(owner) // user changed their mind

	if _, err := f.svc.NameCollection(ctx, owner, "orphan"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("naming after a new command must be invalid, got %v", err)
	}
}

func TestDuplicateCollectionName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.StartNewCollection(owner)
	if _, err := f.svc.NameCollection(ctx, owner, "twice"); err != nil {
		t.Fatalf("first NameCollection failed: %v", err)
	}
	f.svc.StartNewCollection(owner)
	if _, err := f.svc.NameCollection(ctx, owner, "twice"); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestDeleteCollectionRequiresVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col := f.collectionWithItems(t, 2)

	req, err := f.svc.RequestDestructive(ctx, owner, col.ID, access.OpDeleteCollection)
	if err != nil {
		t.Fatalf("RequestDestructive failed: %v", err)
	}
	if len(req.Code) != 4 {
		t.Fatalf("expected 4-digit code, got %q", req.Code)
	}

	res, err := f.svc.ConfirmDestructive(ctx, owner, chat, req.Code)
	if err != nil {
		t.Fatalf("ConfirmDestructive failed: %v", err)
	}
	if !res.Deleted {
		t.Error("expected deletion")
	}
	if _, err := f.st.GetCollection(ctx, col.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("collection should be gone, got %v", err)
	}
}

func TestWrongVerificationCodeBurnsFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col := f.collectionWithItems(t, 1)

	req, err := f.svc.RequestDestructive(ctx, owner, col.ID, access.OpDeleteCollection)
	if err != nil {
		t.Fatalf("RequestDestructive failed: %v", err)
	}
	wrong := "0000"
	if wrong == req.Code {
		wrong = "0001"
	}

	var pd *access.PermissionDeniedError
	_, err = f.svc.ConfirmDestructive(ctx, owner, chat, wrong)
	if !errors.As(err, &pd) || pd.Reason != access.ReasonInvalidCode {
		t.Fatalf("expected InvalidCode denial, got %v", err)
	}

	// The flow ended; even the correct code is dead now.
	if _, err := f.svc.ConfirmDestructive(ctx, owner, chat, req.Code); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode after burned flow, got %v", err)
	}
	if _, err := f.st.GetCollection(ctx, col.ID); err != nil {
		t.Errorf("collection must survive, got %v", err)
	}
}

func TestStrangerCannotArmDestructive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col := f.collectionWithItems(t, 1)

	var pd *access.PermissionDeniedError
	_, err := f.svc.RequestDestructive(ctx, stranger, col.ID, access.OpDeleteCollection)
	if !errors.As(err, &pd) || pd.Reason != access.ReasonNotOwner {
		t.Errorf("expected NotOwner denial, got %v", err)
	}
}

func TestSendCollectionDeliversChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col := f.collectionWithItems(t, 25)

	req, err := f.svc.RequestDestructive(ctx, owner, col.ID, access.OpSendCollection)
	if err != nil {
		t.Fatalf("RequestDestructive failed: %v", err)
	}
	res, err := f.svc.ConfirmDestructive(ctx, owner, chat, req.Code)
	if err != nil {
		t.Fatalf("ConfirmDestructive failed: %v", err)
	}
	if res.Delivery == nil || res.Delivery.Delivered != 25 {
		t.Fatalf("expected 25 delivered, got %+v", res.Delivery)
	}
	if len(f.fm.groups) != 3 {
		t.Errorf("expected 3 media groups, got %d", len(f.fm.groups))
	}
}

func TestShareFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col := f.collectionWithItems(t, 12)

	sc, err := f.svc.CreateShare(ctx, owner, col.ID)
	if err != nil {
		t.Fatalf("CreateShare failed: %v", err)
	}

	// A stranger without the code cannot browse.
	var pd *access.PermissionDeniedError
	if _, err := f.svc.Browse(ctx, stranger, col.ID, 0, ""); !errors.As(err, &pd) {
		t.Fatalf("expected denial without code, got %v", err)
	}

	f.svc.StartShareEntry(stranger)
	got, err := f.svc.RedeemShareCode(ctx, stranger, sc.Code)
	if err != nil {
		t.Fatalf("RedeemShareCode failed: %v", err)
	}
	if got.ID != col.ID {
		t.Fatalf("redeemed wrong collection %d", got.ID)
	}

	// Paging works without retyping the code.
	page, err := f.svc.Browse(ctx, stranger, col.ID, 1, "")
	if err != nil {
		t.Fatalf("Browse page 1 failed: %v", err)
	}
	if len(page.Items) != 2 || page.TotalItems != 12 {
		t.Errorf("page 1: got %d items of %d", len(page.Items), page.TotalItems)
	}

	stats, err := f.st.ShareStats(ctx, sc.ID)
	if err != nil {
		t.Fatalf("ShareStats failed: %v", err)
	}
	if stats.TotalAccesses != 1 {
		t.Errorf("expected 1 logged redemption, got %d", stats.TotalAccesses)
	}

	// Rotation kills the old code.
	if _, err := f.svc.CreateShare(ctx, owner, col.ID); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	f.svc.StartShareEntry(stranger)
	_, err = f.svc.RedeemShareCode(ctx, stranger, sc.Code)
	if !errors.As(err, &pd) || pd.Reason != access.ReasonExpiredCode {
		t.Errorf("expected ExpiredCode after rotation, got %v", err)
	}
}

func TestShareAccessLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col := f.collectionWithItems(t, 2)

	sc, err := f.svc.CreateShare(ctx, owner, col.ID)
	if err != nil {
		t.Fatalf("CreateShare failed: %v", err)
	}
	f.svc.StartShareEntry(stranger)
	if _, err := f.svc.RedeemShareCode(ctx, stranger, sc.Code); err != nil {
		t.Fatalf("RedeemShareCode failed: %v", err)
	}

	entries, err := f.svc.ShareAccessLog(ctx, owner, col.ID, 0, 10)
	if err != nil {
		t.Fatalf("ShareAccessLog failed: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != stranger {
		t.Errorf("log = %+v, want one entry for the stranger", entries)
	}

	// The log is owner-facing.
	var pd *access.PermissionDeniedError
	if _, err := f.svc.ShareAccessLog(ctx, stranger, col.ID, 0, 10); !errors.As(err, &pd) {
		t.Errorf("expected denial for non-owner, got %v", err)
	}
}

func TestBrowsePagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col := f.collectionWithItems(t, 25)

	page, err := f.svc.Browse(ctx, owner, col.ID, 0, "")
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if page.TotalPages != 3 || len(page.Items) != 10 {
		t.Fatalf("page 0: %d pages, %d items", page.TotalPages, len(page.Items))
	}
	if page.Header() != fmt.Sprintf("%s: items 1-10 of 25", col.Name) {
		t.Errorf("unexpected header %q", page.Header())
	}

	page, err = f.svc.Browse(ctx, owner, col.ID, 99, "")
	if err != nil {
		t.Fatalf("Browse clamped page failed: %v", err)
	}
	if page.Number != 2 || len(page.Items) != 5 {
		t.Errorf("clamped page: number=%d items=%d", page.Number, len(page.Items))
	}
}

func TestDeleteItemFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col := f.collectionWithItems(t, 3)
	other := f.collectionWithItems(t, 1)

	items, err := f.st.ListItems(ctx, col.ID, 0, 10)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}

	if err := f.svc.StartDeleteMode(ctx, owner, col.ID); err != nil {
		t.Fatalf("StartDeleteMode failed: %v", err)
	}
	if err := f.svc.DeleteItem(ctx, owner, items[1].ID); err != nil {
		t.Fatalf("DeleteItem failed: %v", err)
	}
	if n, _ := f.st.CountItems(ctx, col.ID); n != 2 {
		t.Errorf("count after delete = %d, want 2", n)
	}

	// An item from another collection is invisible to this delete mode.
	otherItems, _ := f.st.ListItems(ctx, other.ID, 0, 1)
	if err := f.svc.DeleteItem(ctx, owner, otherItems[0].ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign item, got %v", err)
	}

	// Outside delete mode the action is a no-op error.
	f.svc.Cancel(owner)
	if err := f.svc.DeleteItem(ctx, owner, items[0].ID); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
}

func TestAdminBypassOnBrowse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col := f.collectionWithItems(t, 2)

	page, err := f.svc.Browse(ctx, admin, col.ID, 0, "")
	if err != nil {
		t.Fatalf("admin browse failed: %v", err)
	}
	if page.TotalItems != 2 {
		t.Errorf("admin sees %d items, want 2", page.TotalItems)
	}
}

func TestIDLookupSingleShot(t *testing.T) {
	f := newFixture(t)

	f.svc.StartIDLookup(owner)
	out, err := f.svc.LookupID(owner, store.KindPhoto, "abc123")
	if err != nil {
		t.Fatalf("LookupID failed: %v", err)
	}
	if out != "photo: abc123" {
		t.Errorf("unexpected lookup output %q", out)
	}
	if _, err := f.svc.LookupID(owner, store.KindPhoto, "again"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("lookup mode must be single shot, got %v", err)
	}
}
