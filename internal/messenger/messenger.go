// Package messenger abstracts the outbound messaging platform.
//
// The core never talks to the platform wire protocol directly; it depends
// on this interface and on the error signals defined here. The thin
// transport layer provides the real implementation.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Media is one deliverable payload inside a media group.
type Media struct {
	Kind     string // photo, video, document, audio
	FileRef  string // platform file identifier
	Caption  string
	FileName string
}

// Messenger sends messages to the platform. Implementations must be safe
// for concurrent use; calls may block on network I/O and honor ctx.
type Messenger interface {
	// SendMediaGroup delivers up to the platform batch limit of media in
	// one call. The platform treats the group as a unit.
	SendMediaGroup(ctx context.Context, chatID int64, media []Media) error

	// SendText sends a plain message and returns its message id.
	SendText(ctx context.Context, chatID int64, text string) (int64, error)

	// EditText replaces the text of a previously sent message.
	EditText(ctx context.Context, chatID, messageID int64, text string) error
}

// RateLimitedError is the platform's flood-control signal. RetryAfter is
// the wait the platform requested; zero means "not specified".
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AsRateLimited extracts a rate-limit signal from an error chain.
func AsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
