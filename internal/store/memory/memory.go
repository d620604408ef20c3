// Package memory implements an in-memory persistence driver.
// It backs tests and dev mode; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/stashkeep/stashkeep/internal/store"
)

func init() {
	store.Register("memory", NewDriver)
}

// Driver implements store.Driver with plain maps guarded by one mutex.
type Driver struct {
	mu sync.RWMutex

	users       map[int64]*store.User
	collections map[int64]*store.Collection
	items       map[int64]*store.Item
	shares      map[string]*store.ShareCode // by record ID
	accessLog   []*store.AccessLogEntry

	nextCollectionID int64
	nextItemID       int64
	nextLogID        int64
	nextSeq          map[int64]int64 // collectionID -> next Seq
}

// NewDriver creates a new in-memory driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	return &Driver{
		users:       make(map[int64]*store.User),
		collections: make(map[int64]*store.Collection),
		items:       make(map[int64]*store.Item),
		shares:      make(map[string]*store.ShareCode),
		nextSeq:     make(map[int64]int64),
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string { return "memory" }

// Init is a no-op for the memory driver.
func (d *Driver) Init(ctx context.Context) error { return nil }

// Close is a no-op for the memory driver.
func (d *Driver) Close() error { return nil }

// UserStore implementation

func (d *Driver) UpsertUser(ctx context.Context, user *store.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := *user
	if existing, ok := d.users[user.ID]; ok {
		cp.FirstSeen = existing.FirstSeen
		cp.Blocked = existing.Blocked
	}
	d.users[user.ID] = &cp
	return nil
}

func (d *Driver) GetUser(ctx context.Context, id int64) (*store.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (d *Driver) SetUserBlocked(ctx context.Context, id int64, blocked bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.Blocked = blocked
	return nil
}

func (d *Driver) IsUserBlocked(ctx context.Context, id int64) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[id]
	if !ok {
		return false, nil
	}
	return user.Blocked, nil
}

func (d *Driver) ListUsers(ctx context.Context, offset, limit int) ([]*store.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]int64, 0, len(d.users))
	for id := range d.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	users := make([]*store.User, 0, limit)
	for i := offset; i < len(ids) && len(users) < limit; i++ {
		cp := *d.users[ids[i]]
		users = append(users, &cp)
	}
	return users, nil
}

func (d *Driver) CountUsers(ctx context.Context) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.users)), nil
}

// CollectionStore implementation

func (d *Driver) CreateCollection(ctx context.Context, col *store.Collection) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.collections {
		if existing.OwnerID == col.OwnerID && existing.Name == col.Name {
			return store.ErrAlreadyExists
		}
	}

	d.nextCollectionID++
	col.ID = d.nextCollectionID
	cp := *col
	d.collections[col.ID] = &cp
	return nil
}

func (d *Driver) GetCollection(ctx context.Context, id int64) (*store.Collection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	col, ok := d.collections[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *col
	return &cp, nil
}

func (d *Driver) ListCollections(ctx context.Context, ownerID int64) ([]*store.Collection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var cols []*store.Collection
	for _, col := range d.collections {
		if col.OwnerID == ownerID {
			cp := *col
			cols = append(cols, &cp)
		}
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].ID < cols[j].ID })
	return cols, nil
}

func (d *Driver) ListAllCollections(ctx context.Context, offset, limit int) ([]*store.Collection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	all := make([]*store.Collection, 0, len(d.collections))
	for _, col := range d.collections {
		cp := *col
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (d *Driver) CountCollections(ctx context.Context) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.collections)), nil
}

func (d *Driver) TransferCollection(ctx context.Context, id, newOwnerID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	col, ok := d.collections[id]
	if !ok {
		return store.ErrNotFound
	}
	col.OwnerID = newOwnerID
	return nil
}

func (d *Driver) DeleteCollection(ctx context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.collections[id]; !ok {
		return store.ErrNotFound
	}
	delete(d.collections, id)
	delete(d.nextSeq, id)

	for itemID, item := range d.items {
		if item.CollectionID == id {
			delete(d.items, itemID)
		}
	}

	var removedShareIDs []string
	for shareID, sc := range d.shares {
		if sc.CollectionID == id {
			removedShareIDs = append(removedShareIDs, shareID)
			delete(d.shares, shareID)
		}
	}
	if len(removedShareIDs) > 0 {
		kept := d.accessLog[:0]
		for _, entry := range d.accessLog {
			removed := false
			for _, shareID := range removedShareIDs {
				if entry.ShareCodeID == shareID {
					removed = true
					break
				}
			}
			if !removed {
				kept = append(kept, entry)
			}
		}
		d.accessLog = kept
	}
	return nil
}

// ItemStore implementation

func (d *Driver) AddItem(ctx context.Context, item *store.Item) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.collections[item.CollectionID]; !ok {
		return store.ErrNotFound
	}

	d.nextItemID++
	item.ID = d.nextItemID
	d.nextSeq[item.CollectionID]++
	item.Seq = d.nextSeq[item.CollectionID]

	cp := *item
	d.items[item.ID] = &cp
	return nil
}

func (d *Driver) GetItem(ctx context.Context, id int64) (*store.Item, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	item, ok := d.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (d *Driver) ListItems(ctx context.Context, collectionID int64, offset, limit int) ([]*store.Item, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var items []*store.Item
	for _, item := range d.items {
		if item.CollectionID == collectionID {
			cp := *item
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })

	if offset >= len(items) {
		return nil, nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end], nil
}

func (d *Driver) CountItems(ctx context.Context, collectionID int64) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var count int64
	for _, item := range d.items {
		if item.CollectionID == collectionID {
			count++
		}
	}
	return count, nil
}

func (d *Driver) HasDuplicateItem(ctx context.Context, collectionID int64, fileRef string, fileSize int64) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, item := range d.items {
		if item.CollectionID == collectionID && item.FileRef == fileRef && item.FileSize == fileSize {
			return true, nil
		}
	}
	return false, nil
}

func (d *Driver) DeleteItem(ctx context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.items[id]; !ok {
		return store.ErrNotFound
	}
	delete(d.items, id)
	return nil
}

func (d *Driver) DeleteItemsByFileRef(ctx context.Context, collectionID int64, fileRef string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var count int64
	for id, item := range d.items {
		if item.CollectionID == collectionID && item.FileRef == fileRef {
			delete(d.items, id)
			count++
		}
	}
	return count, nil
}

func (d *Driver) DeleteItems(ctx context.Context, collectionID int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var count int64
	for id, item := range d.items {
		if item.CollectionID == collectionID {
			delete(d.items, id)
			count++
		}
	}
	return count, nil
}

func (d *Driver) Stats(ctx context.Context) (*store.GlobalStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := &store.GlobalStats{
		Users:       int64(len(d.users)),
		Collections: int64(len(d.collections)),
		Items:       int64(len(d.items)),
	}
	for _, item := range d.items {
		stats.TotalBytes += item.FileSize
	}
	return stats, nil
}

// ShareStore implementation

func (d *Driver) CreateShareCode(ctx context.Context, sc *store.ShareCode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.shares {
		if existing.Code == sc.Code {
			return store.ErrAlreadyExists
		}
	}
	cp := *sc
	d.shares[sc.ID] = &cp
	return nil
}

func (d *Driver) GetShareCode(ctx context.Context, code string) (*store.ShareCode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, sc := range d.shares {
		if sc.Code == code {
			cp := *sc
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (d *Driver) GetShareForCollection(ctx context.Context, collectionID int64) (*store.ShareCode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, sc := range d.shares {
		if sc.CollectionID == collectionID && sc.Active {
			cp := *sc
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (d *Driver) RevokeShareCodes(ctx context.Context, collectionID int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var count int64
	for _, sc := range d.shares {
		if sc.CollectionID == collectionID && sc.Active {
			sc.Active = false
			count++
		}
	}
	return count, nil
}

func (d *Driver) ListActiveShares(ctx context.Context) ([]*store.ShareCode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var shares []*store.ShareCode
	for _, sc := range d.shares {
		if sc.Active {
			cp := *sc
			shares = append(shares, &cp)
		}
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].CreatedAt < shares[j].CreatedAt })
	return shares, nil
}

func (d *Driver) RecordAccess(ctx context.Context, entry *store.AccessLogEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextLogID++
	entry.ID = d.nextLogID
	cp := *entry
	d.accessLog = append(d.accessLog, &cp)
	return nil
}

func (d *Driver) ListAccessLog(ctx context.Context, shareCodeID string, offset, limit int) ([]*store.AccessLogEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var entries []*store.AccessLogEntry
	for _, entry := range d.accessLog {
		if entry.ShareCodeID == shareCodeID {
			cp := *entry
			entries = append(entries, &cp)
		}
	}
	if offset >= len(entries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end], nil
}

func (d *Driver) ShareStats(ctx context.Context, shareCodeID string) (*store.ShareStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := &store.ShareStats{}
	seen := make(map[int64]bool)
	for _, entry := range d.accessLog {
		if entry.ShareCodeID != shareCodeID {
			continue
		}
		stats.TotalAccesses++
		seen[entry.UserID] = true
		if entry.AccessedAt > stats.LastAccess {
			stats.LastAccess = entry.AccessedAt
		}
	}
	stats.UniqueUsers = int64(len(seen))
	return stats, nil
}
