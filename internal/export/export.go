// Package export turns collections into portable text snapshots and back.
//
// The snapshot is line-oriented: a header naming the collection, then one
// pipe-separated row per item. Pipes and newlines inside captions are
// escaped so a row always stays a single line.
package export

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stashkeep/stashkeep/internal/store"
)

// Header marks the first line of a snapshot.
const Header = "# COLLECTION EXPORT:"

// fieldsPerRow is kind|file_ref|caption|file_name|file_size.
const fieldsPerRow = 5

var escaper = strings.NewReplacer("|", "<PIPE>", "\n", "<NL>", "\r", "")
var unescaper = strings.NewReplacer("<PIPE>", "|", "<NL>", "\n")

// Store is the persistence slice export needs.
type Store interface {
	GetCollection(ctx context.Context, id int64) (*store.Collection, error)
	ListItems(ctx context.Context, collectionID int64, offset, limit int) ([]*store.Item, error)
	CountItems(ctx context.Context, collectionID int64) (int64, error)
	CreateCollection(ctx context.Context, col *store.Collection) error
	AddItem(ctx context.Context, item *store.Item) error
}

// Snapshot serializes a collection to its text form, items in insertion
// order.
func Snapshot(ctx context.Context, st Store, collectionID int64) (string, error) {
	col, err := st.GetCollection(ctx, collectionID)
	if err != nil {
		return "", err
	}
	total, err := st.CountItems(ctx, collectionID)
	if err != nil {
		return "", err
	}
	items, err := st.ListItems(ctx, collectionID, 0, int(total))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Header, escaper.Replace(col.Name))
	for _, it := range items {
		fmt.Fprintf(&b, "%s|%s|%s|%s|%d\n",
			it.Kind,
			escaper.Replace(it.FileRef),
			escaper.Replace(it.Caption),
			escaper.Replace(it.FileName),
			it.FileSize)
	}
	return b.String(), nil
}

// ImportResult reports what a snapshot import produced.
type ImportResult struct {
	Collection *store.Collection
	Imported   int
	Skipped    int // malformed rows, tolerated
}

// Restore creates a new collection for ownerID from a snapshot. The name
// comes from the header; when the owner already has a collection by that
// name, a numbered variant is used. Malformed rows are skipped, not fatal.
func Restore(ctx context.Context, st Store, ownerID int64, snapshot string, createdAt int64) (*ImportResult, error) {
	lines := strings.Split(strings.TrimSpace(snapshot), "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], Header) {
		return nil, fmt.Errorf("not a collection export: missing %q header", Header)
	}
	name := unescaper.Replace(strings.TrimSpace(strings.TrimPrefix(lines[0], Header)))
	if name == "" {
		name = "imported"
	}

	col, err := createUniquelyNamed(ctx, st, ownerID, name, createdAt)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{Collection: col}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		item, ok := parseRow(line)
		if !ok {
			res.Skipped++
			continue
		}
		item.CollectionID = col.ID
		item.AddedAt = createdAt
		if err := st.AddItem(ctx, item); err != nil {
			res.Skipped++
			continue
		}
		res.Imported++
	}
	return res, nil
}

// createUniquelyNamed retries with numbered suffixes until the owner has
// no name clash. Bounded so a pathological store cannot loop forever.
func createUniquelyNamed(ctx context.Context, st Store, ownerID int64, name string, createdAt int64) (*store.Collection, error) {
	for i := 1; i <= 50; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s (%d)", name, i)
		}
		col := &store.Collection{Name: candidate, OwnerID: ownerID, CreatedAt: createdAt}
		err := st.CreateCollection(ctx, col)
		if err == nil {
			return col, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("could not find a free name for %q", name)
}

func parseRow(line string) (*store.Item, bool) {
	parts := strings.Split(line, "|")
	if len(parts) != fieldsPerRow {
		return nil, false
	}
	kind := strings.TrimSpace(parts[0])
	switch kind {
	case store.KindPhoto, store.KindVideo, store.KindDocument, store.KindAudio, store.KindText:
	default:
		return nil, false
	}
	size, err := strconv.ParseInt(strings.TrimSpace(parts[4]), 10, 64)
	if err != nil {
		return nil, false
	}
	item := &store.Item{
		Kind:     kind,
		FileRef:  unescaper.Replace(parts[1]),
		Caption:  unescaper.Replace(parts[2]),
		FileName: unescaper.Replace(parts[3]),
		FileSize: size,
	}
	if item.Kind != store.KindText && item.FileRef == "" {
		return nil, false
	}
	return item, true
}
