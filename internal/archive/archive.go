// Package archive mirrors stored uploads and activity events to a
// configured archive channel.
//
// Archiving is strictly fire-and-forget: every failure is logged and
// swallowed, never surfaced to the user action that triggered it.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stashkeep/stashkeep/internal/logutil"
	"github.com/stashkeep/stashkeep/internal/messenger"
	"github.com/stashkeep/stashkeep/internal/store"
)

// sendTimeout bounds one archive call so a slow channel cannot stall the
// calling flow.
const sendTimeout = 10 * time.Second

// Logger mirrors activity to one archive channel.
type Logger struct {
	m      messenger.Messenger
	chatID int64
	logger *slog.Logger
	now    func() time.Time
}

// New creates an archive logger for the given channel.
func New(m messenger.Messenger, chatID int64, logger *slog.Logger) *Logger {
	return &Logger{
		m:      m,
		chatID: chatID,
		logger: logutil.Component(logger, "archive"),
		now:    time.Now,
	}
}

// MirrorItem re-posts a stored upload to the archive channel with a
// caption identifying the uploader and collection.
func (l *Logger) MirrorItem(ctx context.Context, uploader *store.User, col *store.Collection, item *store.Item) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	caption := itemCaption(uploader, col, item, l.now())

	var err error
	if item.Kind == store.KindText || item.FileRef == "" {
		_, err = l.m.SendText(ctx, l.chatID, caption+"\n\n"+item.Caption)
	} else {
		err = l.m.SendMediaGroup(ctx, l.chatID, []messenger.Media{{
			Kind:     item.Kind,
			FileRef:  item.FileRef,
			Caption:  caption,
			FileName: item.FileName,
		}})
	}
	if err != nil {
		l.logger.Warn("archive mirror failed", "item_id", item.ID, "error", err)
	}
}

// Event posts a formatted activity line to the archive channel.
func (l *Logger) Event(ctx context.Context, format string, args ...any) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	line := fmt.Sprintf("[%s] %s", l.now().UTC().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))
	if _, err := l.m.SendText(ctx, l.chatID, line); err != nil {
		l.logger.Warn("archive event failed", "error", err)
	}
}

func itemCaption(uploader *store.User, col *store.Collection, item *store.Item, at time.Time) string {
	who := uploader.Username
	if who == "" {
		who = fmt.Sprintf("id:%d", uploader.ID)
	}
	return fmt.Sprintf("from %s | collection %q | %s | %s | %s",
		who, col.Name, item.Kind, humanSize(item.FileSize), at.UTC().Format("2006-01-02 15:04"))
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
