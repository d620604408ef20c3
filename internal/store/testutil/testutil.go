// Package testutil provides shared test helpers for store driver tests.
package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stashkeep/stashkeep/internal/store"
)

// TestUser creates a test user.
func TestUser(id int64) *store.User {
	return &store.User{
		ID:        id,
		Username:  "tester",
		FirstName: "Test",
		LastName:  "User",
		FirstSeen: time.Now().Unix(),
	}
}

// TestCollection creates a test collection owned by the given user.
func TestCollection(ownerID int64, name string) *store.Collection {
	return &store.Collection{
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: time.Now().Unix(),
	}
}

// TestItem creates a test photo item for the given collection.
func TestItem(collectionID int64, fileRef string) *store.Item {
	return &store.Item{
		CollectionID: collectionID,
		Kind:         store.KindPhoto,
		FileRef:      fileRef,
		FileSize:     1024,
		AddedAt:      time.Now().Unix(),
	}
}

// TestShareCode creates a test share code for the given collection.
func TestShareCode(collectionID, createdBy int64, code string) *store.ShareCode {
	return &store.ShareCode{
		ID:           uuid.NewString(),
		CollectionID: collectionID,
		Code:         code,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now().Unix(),
		Active:       true,
	}
}

// RunDriverTests runs the standard test suite against a driver.
func RunDriverTests(t *testing.T, driverName string, cfg *store.DriverConfig) {
	ctx := context.Background()

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create %s driver: %v", driverName, err)
	}
	defer driver.Close()

	if err := driver.Init(ctx); err != nil {
		t.Fatalf("failed to init %s driver: %v", driverName, err)
	}

	if driver.Name() != driverName {
		t.Errorf("expected driver name %q, got %q", driverName, driver.Name())
	}

	t.Run("UserLifecycle", func(t *testing.T) {
		TestUserLifecycle(t, ctx, driver)
	})

	t.Run("CollectionCRUD", func(t *testing.T) {
		TestCollectionCRUD(t, ctx, driver)
	})

	t.Run("ItemOrderingAndDuplicates", func(t *testing.T) {
		TestItemOrderingAndDuplicates(t, ctx, driver)
	})

	t.Run("ShareCodeFlow", func(t *testing.T) {
		TestShareCodeFlow(t, ctx, driver)
	})

	t.Run("CollectionDeleteCascades", func(t *testing.T) {
		TestCollectionDeleteCascades(t, ctx, driver)
	})
}

// TestUserLifecycle tests upsert, block and unblock.
func TestUserLifecycle(t *testing.T, ctx context.Context, d store.Driver) {
	user := TestUser(1001)

	if err := d.UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	got, err := d.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Username != "tester" {
		t.Errorf("expected username 'tester', got %q", got.Username)
	}
	firstSeen := got.FirstSeen

	// Second contact refreshes the profile but keeps FirstSeen.
	user.Username = "renamed"
	user.FirstSeen = firstSeen + 9999
	if err := d.UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser (second) failed: %v", err)
	}
	got, _ = d.GetUser(ctx, user.ID)
	if got.Username != "renamed" {
		t.Errorf("expected refreshed username, got %q", got.Username)
	}
	if got.FirstSeen != firstSeen {
		t.Errorf("expected FirstSeen preserved at %d, got %d", firstSeen, got.FirstSeen)
	}

	// Block / unblock
	if err := d.SetUserBlocked(ctx, user.ID, true); err != nil {
		t.Fatalf("SetUserBlocked failed: %v", err)
	}
	blocked, err := d.IsUserBlocked(ctx, user.ID)
	if err != nil {
		t.Fatalf("IsUserBlocked failed: %v", err)
	}
	if !blocked {
		t.Error("expected user to be blocked")
	}
	if err := d.SetUserBlocked(ctx, user.ID, false); err != nil {
		t.Fatalf("SetUserBlocked (unblock) failed: %v", err)
	}
	blocked, _ = d.IsUserBlocked(ctx, user.ID)
	if blocked {
		t.Error("expected user to be unblocked")
	}

	// Unknown user is simply not blocked.
	blocked, err = d.IsUserBlocked(ctx, 424242)
	if err != nil {
		t.Fatalf("IsUserBlocked (unknown) failed: %v", err)
	}
	if blocked {
		t.Error("unknown user should not be blocked")
	}
}

// TestCollectionCRUD tests collection create, lookup, list, transfer, delete.
func TestCollectionCRUD(t *testing.T, ctx context.Context, d store.Driver) {
	col := TestCollection(2001, "vacation")

	if err := d.CreateCollection(ctx, col); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	if col.ID == 0 {
		t.Fatal("expected assigned collection ID")
	}

	// Duplicate (owner, name) is rejected.
	dup := TestCollection(2001, "vacation")
	if err := d.CreateCollection(ctx, dup); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists for duplicate name, got %v", err)
	}

	// Same name under another owner is fine.
	other := TestCollection(2002, "vacation")
	if err := d.CreateCollection(ctx, other); err != nil {
		t.Errorf("CreateCollection for other owner failed: %v", err)
	}

	got, err := d.GetCollection(ctx, col.ID)
	if err != nil {
		t.Fatalf("GetCollection failed: %v", err)
	}
	if got.Name != "vacation" || got.OwnerID != 2001 {
		t.Errorf("unexpected collection %+v", got)
	}

	cols, err := d.ListCollections(ctx, 2001)
	if err != nil {
		t.Fatalf("ListCollections failed: %v", err)
	}
	if len(cols) != 1 {
		t.Errorf("expected 1 collection for owner, got %d", len(cols))
	}

	if err := d.TransferCollection(ctx, col.ID, 2003); err != nil {
		t.Fatalf("TransferCollection failed: %v", err)
	}
	got, _ = d.GetCollection(ctx, col.ID)
	if got.OwnerID != 2003 {
		t.Errorf("expected owner 2003 after transfer, got %d", got.OwnerID)
	}

	if err := d.DeleteCollection(ctx, col.ID); err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}
	if _, err := d.GetCollection(ctx, col.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := d.DeleteCollection(ctx, other.ID); err != nil {
		t.Fatalf("DeleteCollection (other) failed: %v", err)
	}
}

// TestItemOrderingAndDuplicates verifies Seq assignment, insertion-order
// listing, pagination and duplicate detection.
func TestItemOrderingAndDuplicates(t *testing.T, ctx context.Context, d store.Driver) {
	col := TestCollection(3001, "ordered")
	if err := d.CreateCollection(ctx, col); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	defer d.DeleteCollection(ctx, col.ID)

	refs := []string{"file-a", "file-b", "file-c", "file-d", "file-e"}
	for _, ref := range refs {
		if err := d.AddItem(ctx, TestItem(col.ID, ref)); err != nil {
			t.Fatalf("AddItem %s failed: %v", ref, err)
		}
	}

	count, err := d.CountItems(ctx, col.ID)
	if err != nil {
		t.Fatalf("CountItems failed: %v", err)
	}
	if count != 5 {
		t.Errorf("expected 5 items, got %d", count)
	}

	items, err := d.ListItems(ctx, col.ID, 0, 100)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	for i, item := range items {
		if item.FileRef != refs[i] {
			t.Errorf("position %d: expected %s, got %s", i, refs[i], item.FileRef)
		}
	}

	// Pagination: offset 2, limit 2 -> file-c, file-d
	page, err := d.ListItems(ctx, col.ID, 2, 2)
	if err != nil {
		t.Fatalf("ListItems (paged) failed: %v", err)
	}
	if len(page) != 2 || page[0].FileRef != "file-c" || page[1].FileRef != "file-d" {
		t.Errorf("unexpected page contents: %+v", page)
	}

	dup, err := d.HasDuplicateItem(ctx, col.ID, "file-b", 1024)
	if err != nil {
		t.Fatalf("HasDuplicateItem failed: %v", err)
	}
	if !dup {
		t.Error("expected duplicate for file-b")
	}
	dup, _ = d.HasDuplicateItem(ctx, col.ID, "file-b", 2048)
	if dup {
		t.Error("different size should not be a duplicate")
	}

	// Delete by file ref
	n, err := d.DeleteItemsByFileRef(ctx, col.ID, "file-b")
	if err != nil {
		t.Fatalf("DeleteItemsByFileRef failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}

	// Bulk delete
	n, err = d.DeleteItems(ctx, col.ID)
	if err != nil {
		t.Fatalf("DeleteItems failed: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 deleted, got %d", n)
	}
}

// TestShareCodeFlow tests share code create, lookup, revoke and access logging.
func TestShareCodeFlow(t *testing.T, ctx context.Context, d store.Driver) {
	col := TestCollection(4001, "shared")
	if err := d.CreateCollection(ctx, col); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	defer d.DeleteCollection(ctx, col.ID)

	sc := TestShareCode(col.ID, 4001, "AB12CD34")
	if err := d.CreateShareCode(ctx, sc); err != nil {
		t.Fatalf("CreateShareCode failed: %v", err)
	}

	got, err := d.GetShareCode(ctx, "AB12CD34")
	if err != nil {
		t.Fatalf("GetShareCode failed: %v", err)
	}
	if got.CollectionID != col.ID || !got.Active {
		t.Errorf("unexpected share code %+v", got)
	}

	byCol, err := d.GetShareForCollection(ctx, col.ID)
	if err != nil {
		t.Fatalf("GetShareForCollection failed: %v", err)
	}
	if byCol.Code != "AB12CD34" {
		t.Errorf("expected code AB12CD34, got %q", byCol.Code)
	}

	// Access log
	for _, uid := range []int64{7, 7, 8} {
		entry := &store.AccessLogEntry{
			ShareCodeID: sc.ID,
			UserID:      uid,
			AccessedAt:  time.Now().Unix(),
		}
		if err := d.RecordAccess(ctx, entry); err != nil {
			t.Fatalf("RecordAccess failed: %v", err)
		}
	}

	stats, err := d.ShareStats(ctx, sc.ID)
	if err != nil {
		t.Fatalf("ShareStats failed: %v", err)
	}
	if stats.TotalAccesses != 3 {
		t.Errorf("expected 3 total accesses, got %d", stats.TotalAccesses)
	}
	if stats.UniqueUsers != 2 {
		t.Errorf("expected 2 unique users, got %d", stats.UniqueUsers)
	}
	if stats.LastAccess == 0 {
		t.Error("expected non-zero last access")
	}

	log, err := d.ListAccessLog(ctx, sc.ID, 0, 10)
	if err != nil {
		t.Fatalf("ListAccessLog failed: %v", err)
	}
	if len(log) != 3 {
		t.Errorf("expected 3 log entries, got %d", len(log))
	}

	// Revoke
	n, err := d.RevokeShareCodes(ctx, col.ID)
	if err != nil {
		t.Fatalf("RevokeShareCodes failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 revoked, got %d", n)
	}
	got, err = d.GetShareCode(ctx, "AB12CD34")
	if err != nil {
		t.Fatalf("GetShareCode after revoke failed: %v", err)
	}
	if got.Active {
		t.Error("expected code inactive after revoke")
	}
	if _, err := d.GetShareForCollection(ctx, col.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for active share after revoke, got %v", err)
	}
}

// TestCollectionDeleteCascades verifies that deleting a collection removes
// its items and share codes.
func TestCollectionDeleteCascades(t *testing.T, ctx context.Context, d store.Driver) {
	col := TestCollection(5001, "doomed")
	if err := d.CreateCollection(ctx, col); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := d.AddItem(ctx, TestItem(col.ID, uuid.NewString())); err != nil {
			t.Fatalf("AddItem failed: %v", err)
		}
	}
	sc := TestShareCode(col.ID, 5001, "ZZ99YY88")
	if err := d.CreateShareCode(ctx, sc); err != nil {
		t.Fatalf("CreateShareCode failed: %v", err)
	}

	if err := d.DeleteCollection(ctx, col.ID); err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}

	count, err := d.CountItems(ctx, col.ID)
	if err != nil {
		t.Fatalf("CountItems failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 items after cascade, got %d", count)
	}
	if _, err := d.GetShareCode(ctx, "ZZ99YY88"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected share code gone after cascade, got %v", err)
	}
}
