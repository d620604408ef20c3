// Package sqlite implements a SQLite-based persistence driver using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/stashkeep/stashkeep/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// Options holds sqlite-specific settings from the driver options map.
type Options struct {
	// Filename overrides the default database file name.
	Filename string `mapstructure:"filename"`
}

// Driver implements the store.Driver interface using SQLite via GORM.
type Driver struct {
	dataDir  string
	filename string
	db       *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	var opts Options
	if err := cfg.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if opts.Filename == "" {
		opts.Filename = "stashkeep.db"
	}

	return &Driver{
		dataDir:  cfg.DataDir,
		filename: opts.Filename,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init initializes the SQLite database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	dbPath := filepath.Join(d.dataDir, d.filename)

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	d.db = db

	// AutoMigrate creates/updates tables based on model structs
	if err := db.AutoMigrate(
		&store.User{},
		&store.Collection{},
		&store.Item{},
		&store.ShareCode{},
		&store.AccessLogEntry{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UserStore implementation

// UpsertUser creates or refreshes a user. FirstSeen and Blocked survive
// repeat contacts.
func (d *Driver) UpsertUser(ctx context.Context, user *store.User) error {
	result := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "first_name", "last_name"}),
	}).Create(user)
	return result.Error
}

// GetUser retrieves a user by id.
func (d *Driver) GetUser(ctx context.Context, id int64) (*store.User, error) {
	var user store.User
	result := d.db.WithContext(ctx).First(&user, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &user, nil
}

// SetUserBlocked updates the block flag for a user.
func (d *Driver) SetUserBlocked(ctx context.Context, id int64, blocked bool) error {
	result := d.db.WithContext(ctx).Model(&store.User{}).Where("id = ?", id).Update("blocked", blocked)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IsUserBlocked reports the block flag; unknown users are not blocked.
func (d *Driver) IsUserBlocked(ctx context.Context, id int64) (bool, error) {
	user, err := d.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.Blocked, nil
}

// ListUsers returns users ordered by id.
func (d *Driver) ListUsers(ctx context.Context, offset, limit int) ([]*store.User, error) {
	var users []*store.User
	result := d.db.WithContext(ctx).Order("id").Offset(offset).Limit(limit).Find(&users)
	if result.Error != nil {
		return nil, result.Error
	}
	return users, nil
}

// CountUsers returns the total number of users.
func (d *Driver) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	result := d.db.WithContext(ctx).Model(&store.User{}).Count(&count)
	return count, result.Error
}

// CollectionStore implementation

// CreateCollection creates a collection. The (owner, name) pair is unique.
func (d *Driver) CreateCollection(ctx context.Context, col *store.Collection) error {
	result := d.db.WithContext(ctx).Create(col)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return store.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

// GetCollection retrieves a collection by id.
func (d *Driver) GetCollection(ctx context.Context, id int64) (*store.Collection, error) {
	var col store.Collection
	result := d.db.WithContext(ctx).First(&col, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &col, nil
}

// ListCollections returns a user's collections ordered by id.
func (d *Driver) ListCollections(ctx context.Context, ownerID int64) ([]*store.Collection, error) {
	var cols []*store.Collection
	result := d.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&cols)
	if result.Error != nil {
		return nil, result.Error
	}
	return cols, nil
}

// ListAllCollections returns all collections with pagination (admin panel).
func (d *Driver) ListAllCollections(ctx context.Context, offset, limit int) ([]*store.Collection, error) {
	var cols []*store.Collection
	result := d.db.WithContext(ctx).Order("id").Offset(offset).Limit(limit).Find(&cols)
	if result.Error != nil {
		return nil, result.Error
	}
	return cols, nil
}

// CountCollections returns the total number of collections.
func (d *Driver) CountCollections(ctx context.Context) (int64, error) {
	var count int64
	result := d.db.WithContext(ctx).Model(&store.Collection{}).Count(&count)
	return count, result.Error
}

// TransferCollection reassigns ownership.
func (d *Driver) TransferCollection(ctx context.Context, id, newOwnerID int64) error {
	result := d.db.WithContext(ctx).Model(&store.Collection{}).Where("id = ?", id).Update("owner_id", newOwnerID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteCollection removes the collection and cascades to items, share codes
// and their access log rows.
func (d *Driver) DeleteCollection(ctx context.Context, id int64) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&store.Collection{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return store.ErrNotFound
		}

		if err := tx.Delete(&store.Item{}, "collection_id = ?", id).Error; err != nil {
			return err
		}

		var shareIDs []string
		if err := tx.Model(&store.ShareCode{}).Where("collection_id = ?", id).Pluck("id", &shareIDs).Error; err != nil {
			return err
		}
		if len(shareIDs) > 0 {
			if err := tx.Delete(&store.AccessLogEntry{}, "share_code_id IN ?", shareIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&store.ShareCode{}, "collection_id = ?", id).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ItemStore implementation

// AddItem inserts an item, assigning the next Seq within its collection.
func (d *Driver) AddItem(ctx context.Context, item *store.Item) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&store.Collection{}).Where("id = ?", item.CollectionID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return store.ErrNotFound
		}

		var maxSeq int64
		if err := tx.Model(&store.Item{}).
			Where("collection_id = ?", item.CollectionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		item.Seq = maxSeq + 1
		return tx.Create(item).Error
	})
}

// GetItem retrieves an item by id.
func (d *Driver) GetItem(ctx context.Context, id int64) (*store.Item, error) {
	var item store.Item
	result := d.db.WithContext(ctx).First(&item, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &item, nil
}

// ListItems returns items in insertion order.
func (d *Driver) ListItems(ctx context.Context, collectionID int64, offset, limit int) ([]*store.Item, error) {
	var items []*store.Item
	result := d.db.WithContext(ctx).
		Where("collection_id = ?", collectionID).
		Order("seq").Offset(offset).Limit(limit).
		Find(&items)
	if result.Error != nil {
		return nil, result.Error
	}
	return items, nil
}

// CountItems returns the number of items in a collection.
func (d *Driver) CountItems(ctx context.Context, collectionID int64) (int64, error) {
	var count int64
	result := d.db.WithContext(ctx).Model(&store.Item{}).Where("collection_id = ?", collectionID).Count(&count)
	return count, result.Error
}

// HasDuplicateItem reports whether the collection already holds an item with
// the same file reference and size.
func (d *Driver) HasDuplicateItem(ctx context.Context, collectionID int64, fileRef string, fileSize int64) (bool, error) {
	var count int64
	result := d.db.WithContext(ctx).Model(&store.Item{}).
		Where("collection_id = ? AND file_ref = ? AND file_size = ?", collectionID, fileRef, fileSize).
		Count(&count)
	return count > 0, result.Error
}

// DeleteItem removes a single item.
func (d *Driver) DeleteItem(ctx context.Context, id int64) error {
	result := d.db.WithContext(ctx).Delete(&store.Item{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteItemsByFileRef removes items matching a file reference.
func (d *Driver) DeleteItemsByFileRef(ctx context.Context, collectionID int64, fileRef string) (int64, error) {
	result := d.db.WithContext(ctx).Delete(&store.Item{}, "collection_id = ? AND file_ref = ?", collectionID, fileRef)
	return result.RowsAffected, result.Error
}

// DeleteItems removes every item in the collection.
func (d *Driver) DeleteItems(ctx context.Context, collectionID int64) (int64, error) {
	result := d.db.WithContext(ctx).Delete(&store.Item{}, "collection_id = ?", collectionID)
	return result.RowsAffected, result.Error
}

// Stats returns the global rollup for the admin panel.
func (d *Driver) Stats(ctx context.Context) (*store.GlobalStats, error) {
	stats := &store.GlobalStats{}

	if err := d.db.WithContext(ctx).Model(&store.User{}).Count(&stats.Users).Error; err != nil {
		return nil, err
	}
	if err := d.db.WithContext(ctx).Model(&store.Collection{}).Count(&stats.Collections).Error; err != nil {
		return nil, err
	}
	if err := d.db.WithContext(ctx).Model(&store.Item{}).Count(&stats.Items).Error; err != nil {
		return nil, err
	}
	if err := d.db.WithContext(ctx).Model(&store.Item{}).
		Select("COALESCE(SUM(file_size), 0)").Scan(&stats.TotalBytes).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// ShareStore implementation

// CreateShareCode creates a share code record.
func (d *Driver) CreateShareCode(ctx context.Context, sc *store.ShareCode) error {
	result := d.db.WithContext(ctx).Create(sc)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return store.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

// GetShareCode retrieves a share code record by its secret code.
func (d *Driver) GetShareCode(ctx context.Context, code string) (*store.ShareCode, error) {
	var sc store.ShareCode
	result := d.db.WithContext(ctx).First(&sc, "code = ?", code)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &sc, nil
}

// GetShareForCollection retrieves the active share for a collection.
func (d *Driver) GetShareForCollection(ctx context.Context, collectionID int64) (*store.ShareCode, error) {
	var sc store.ShareCode
	result := d.db.WithContext(ctx).First(&sc, "collection_id = ? AND active = ?", collectionID, true)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &sc, nil
}

// RevokeShareCodes deactivates all codes for a collection.
func (d *Driver) RevokeShareCodes(ctx context.Context, collectionID int64) (int64, error) {
	result := d.db.WithContext(ctx).Model(&store.ShareCode{}).
		Where("collection_id = ? AND active = ?", collectionID, true).
		Update("active", false)
	return result.RowsAffected, result.Error
}

// ListActiveShares returns all active share codes.
func (d *Driver) ListActiveShares(ctx context.Context) ([]*store.ShareCode, error) {
	var shares []*store.ShareCode
	result := d.db.WithContext(ctx).Where("active = ?", true).Order("created_at").Find(&shares)
	if result.Error != nil {
		return nil, result.Error
	}
	return shares, nil
}

// RecordAccess appends an access log entry.
func (d *Driver) RecordAccess(ctx context.Context, entry *store.AccessLogEntry) error {
	return d.db.WithContext(ctx).Create(entry).Error
}

// ListAccessLog returns access log entries for a share code, oldest first.
func (d *Driver) ListAccessLog(ctx context.Context, shareCodeID string, offset, limit int) ([]*store.AccessLogEntry, error) {
	var entries []*store.AccessLogEntry
	result := d.db.WithContext(ctx).
		Where("share_code_id = ?", shareCodeID).
		Order("id").Offset(offset).Limit(limit).
		Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}
	return entries, nil
}

// ShareStats aggregates redemptions for a share code.
func (d *Driver) ShareStats(ctx context.Context, shareCodeID string) (*store.ShareStats, error) {
	stats := &store.ShareStats{}
	row := d.db.WithContext(ctx).Model(&store.AccessLogEntry{}).
		Where("share_code_id = ?", shareCodeID).
		Select("COUNT(*), COUNT(DISTINCT user_id), COALESCE(MAX(accessed_at), 0)").
		Row()
	if err := row.Scan(&stats.TotalAccesses, &stats.UniqueUsers, &stats.LastAccess); err != nil {
		return nil, err
	}
	return stats, nil
}
