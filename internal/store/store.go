// Package store provides persistence primitives and driver abstractions.
package store

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("store closed")
)

// Item kinds. Text items carry no file reference.
const (
	KindPhoto    = "photo"
	KindVideo    = "video"
	KindDocument = "document"
	KindAudio    = "audio"
	KindText     = "text"
)

// User is a platform user known to the bot.
type User struct {
	ID        int64  `json:"id" gorm:"primaryKey"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Blocked   bool   `json:"blocked"`
	FirstSeen int64  `json:"first_seen"`
}

// Collection is a named, user-owned group of items.
type Collection struct {
	ID        int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string `json:"name" gorm:"index:idx_collections_owner_name,unique"`
	OwnerID   int64  `json:"owner_id" gorm:"index:idx_collections_owner_name,unique;index"`
	CreatedAt int64  `json:"created_at"`
}

// Item is a single stored payload inside a collection.
// Seq is the insertion order within the collection; delivery preserves it.
type Item struct {
	ID           int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	CollectionID int64  `json:"collection_id" gorm:"index"`
	Kind         string `json:"kind"`
	FileRef      string `json:"file_ref" gorm:"index"` // platform file identifier, empty for text
	Caption      string `json:"caption"`
	FileName     string `json:"file_name"`
	FileSize     int64  `json:"file_size"`
	Seq          int64  `json:"seq"`
	AddedAt      int64  `json:"added_at"`
}

// ShareCode grants read access to one collection to anyone presenting the code.
type ShareCode struct {
	ID           string `json:"id" gorm:"primaryKey"` // UUID
	CollectionID int64  `json:"collection_id" gorm:"index"`
	Code         string `json:"code" gorm:"uniqueIndex"`
	CreatedBy    int64  `json:"created_by"`
	CreatedAt    int64  `json:"created_at"`
	Active       bool   `json:"active"`
}

// AccessLogEntry records one successful share-code redemption. Append-only.
type AccessLogEntry struct {
	ID          int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	ShareCodeID string `json:"share_code_id" gorm:"index"`
	UserID      int64  `json:"user_id"`
	AccessedAt  int64  `json:"accessed_at"`
}

// ShareStats summarizes redemptions of one share code.
type ShareStats struct {
	TotalAccesses int64 `json:"total_accesses"`
	UniqueUsers   int64 `json:"unique_users"`
	LastAccess    int64 `json:"last_access"` // unix seconds, 0 if never
}

// GlobalStats is the admin-panel rollup across all users.
type GlobalStats struct {
	Users       int64 `json:"users"`
	Collections int64 `json:"collections"`
	Items       int64 `json:"items"`
	TotalBytes  int64 `json:"total_bytes"`
}

// UserStore defines operations for user persistence.
type UserStore interface {
	// UpsertUser creates the user on first contact and refreshes the
	// profile fields on subsequent contacts. FirstSeen is preserved.
	UpsertUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	SetUserBlocked(ctx context.Context, id int64, blocked bool) error
	IsUserBlocked(ctx context.Context, id int64) (bool, error)
	ListUsers(ctx context.Context, offset, limit int) ([]*User, error)
	CountUsers(ctx context.Context) (int64, error)
}

// CollectionStore defines operations for collection persistence.
type CollectionStore interface {
	// CreateCollection returns ErrAlreadyExists when the owner already has
	// a collection with the same name.
	CreateCollection(ctx context.Context, col *Collection) error
	GetCollection(ctx context.Context, id int64) (*Collection, error)
	ListCollections(ctx context.Context, ownerID int64) ([]*Collection, error)
	ListAllCollections(ctx context.Context, offset, limit int) ([]*Collection, error)
	CountCollections(ctx context.Context) (int64, error)
	TransferCollection(ctx context.Context, id, newOwnerID int64) error
	// DeleteCollection cascades to items, share codes, and access log rows.
	DeleteCollection(ctx context.Context, id int64) error
}

// ItemStore defines operations for item persistence.
type ItemStore interface {
	// AddItem assigns the next Seq within the collection.
	AddItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, id int64) (*Item, error)
	// ListItems returns items in insertion order.
	ListItems(ctx context.Context, collectionID int64, offset, limit int) ([]*Item, error)
	CountItems(ctx context.Context, collectionID int64) (int64, error)
	// HasDuplicateItem reports whether the collection already holds an item
	// with the same file reference and size.
	HasDuplicateItem(ctx context.Context, collectionID int64, fileRef string, fileSize int64) (bool, error)
	DeleteItem(ctx context.Context, id int64) error
	DeleteItemsByFileRef(ctx context.Context, collectionID int64, fileRef string) (int64, error)
	// DeleteItems removes every item in the collection, returning the count.
	DeleteItems(ctx context.Context, collectionID int64) (int64, error)
	Stats(ctx context.Context) (*GlobalStats, error)
}

// ShareStore defines operations for share codes and their access log.
type ShareStore interface {
	CreateShareCode(ctx context.Context, sc *ShareCode) error
	// GetShareCode looks up by secret code. Inactive codes are returned too;
	// callers decide what an inactive code means.
	GetShareCode(ctx context.Context, code string) (*ShareCode, error)
	// GetShareForCollection returns the active share for a collection.
	GetShareForCollection(ctx context.Context, collectionID int64) (*ShareCode, error)
	// RevokeShareCodes deactivates all codes for a collection.
	RevokeShareCodes(ctx context.Context, collectionID int64) (int64, error)
	ListActiveShares(ctx context.Context) ([]*ShareCode, error)
	RecordAccess(ctx context.Context, entry *AccessLogEntry) error
	ListAccessLog(ctx context.Context, shareCodeID string, offset, limit int) ([]*AccessLogEntry, error)
	ShareStats(ctx context.Context, shareCodeID string) (*ShareStats, error)
}
