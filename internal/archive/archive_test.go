package archive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stashkeep/stashkeep/internal/messenger"
	"github.com/stashkeep/stashkeep/internal/store"
)

type recordingMessenger struct {
	mu     sync.Mutex
	texts  []string
	groups [][]messenger.Media
	fail   bool
}

func (r *recordingMessenger) SendMediaGroup(ctx context.Context, chatID int64, media []messenger.Media) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("channel unavailable")
	}
	r.groups = append(r.groups, media)
	return nil
}

func (r *recordingMessenger) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return 0, errors.New("channel unavailable")
	}
	r.texts = append(r.texts, text)
	return int64(len(r.texts)), nil
}

func (r *recordingMessenger) EditText(ctx context.Context, chatID, messageID int64, text string) error {
	return nil
}

func TestMirrorItemMedia(t *testing.T) {
	rm := &recordingMessenger{}
	l := New(rm, 555, nil)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	l.MirrorItem(context.Background(),
		&store.User{ID: 7, Username: "alice"},
		&store.Collection{ID: 1, Name: "trips"},
		&store.Item{ID: 3, Kind: store.KindPhoto, FileRef: "abc", FileSize: 2 << 20})

	if len(rm.groups) != 1 || len(rm.groups[0]) != 1 {
		t.Fatalf("expected one mirrored media, got %v", rm.groups)
	}
	caption := rm.groups[0][0].Caption
	for _, want := range []string{"alice", `"trips"`, "photo", "2.0 MiB", "2026-03-01"} {
		if !strings.Contains(caption, want) {
			t.Errorf("caption %q missing %q", caption, want)
		}
	}
}

func TestMirrorItemTextAndFailureSwallowed(t *testing.T) {
	rm := &recordingMessenger{}
	l := New(rm, 555, nil)

	l.MirrorItem(context.Background(),
		&store.User{ID: 7},
		&store.Collection{Name: "notes"},
		&store.Item{Kind: store.KindText, Caption: "remember this"})
	if len(rm.texts) != 1 || !strings.Contains(rm.texts[0], "remember this") {
		t.Fatalf("expected text mirror, got %v", rm.texts)
	}

	// Failures never propagate.
	rm.fail = true
	l.MirrorItem(context.Background(), &store.User{ID: 7}, &store.Collection{Name: "notes"}, &store.Item{Kind: store.KindText})
	l.Event(context.Background(), "something %s", "happened")
}

func TestEventFormat(t *testing.T) {
	rm := &recordingMessenger{}
	l := New(rm, 555, nil)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	l.Event(context.Background(), "collection %q created by user %d", "trips", 7)
	if len(rm.texts) != 1 {
		t.Fatalf("expected one event line, got %v", rm.texts)
	}
	want := `[2026-03-01 09:30:00] collection "trips" created by user 7`
	if rm.texts[0] != want {
		t.Errorf("got %q, want %q", rm.texts[0], want)
	}
}
