package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stashkeep/stashkeep/internal/logutil"
	"github.com/stashkeep/stashkeep/internal/store"
)

// DefaultAPIBase is the bot API origin.
const DefaultAPIBase = "https://api.telegram.org"

// APIClient is the real platform transport. It implements Messenger over
// the bot HTTP API and surfaces flood control as RateLimitedError so the
// dispatcher can back off.
type APIClient struct {
	base   string
	token  string
	http   *http.Client
	logger *slog.Logger
}

// NewAPIClient creates a transport for the given bot token. base may be
// empty for the public API origin.
func NewAPIClient(base, token string, logger *slog.Logger) *APIClient {
	if base == "" {
		base = DefaultAPIBase
	}
	return &APIClient{
		base:   base,
		token:  token,
		http:   &http.Client{Timeout: 90 * time.Second}, // above long-poll timeout
		logger: logutil.Component(logger, "botapi"),
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// call posts one API method and decodes the result envelope. Flood
// control (429) becomes a RateLimitedError carrying the requested wait.
func (c *APIClient) call(ctx context.Context, method string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.base, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	var env apiResponse
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !env.OK {
		if env.ErrorCode == http.StatusTooManyRequests {
			wait := time.Duration(0)
			if env.Parameters != nil {
				wait = time.Duration(env.Parameters.RetryAfter) * time.Second
			}
			return &RateLimitedError{RetryAfter: wait}
		}
		return fmt.Errorf("%s: api error %d: %s", method, env.ErrorCode, env.Description)
	}
	if result != nil {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// SendText implements Messenger.
func (c *APIClient) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	var msg struct {
		MessageID int64 `json:"message_id"`
	}
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, &msg)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditText implements Messenger.
func (c *APIClient) EditText(ctx context.Context, chatID, messageID int64, text string) error {
	return c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}, nil)
}

// SendMediaGroup implements Messenger.
func (c *APIClient) SendMediaGroup(ctx context.Context, chatID int64, media []Media) error {
	group := make([]map[string]any, 0, len(media))
	for _, m := range media {
		entry := map[string]any{
			"type":  m.Kind,
			"media": m.FileRef,
		}
		if m.Caption != "" {
			entry["caption"] = m.Caption
		}
		group = append(group, entry)
	}
	return c.call(ctx, "sendMediaGroup", map[string]any{
		"chat_id": chatID,
		"media":   group,
	}, nil)
}

// Update is one inbound event from long polling.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is the subset of the platform message the bot needs.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *Actor `json:"from"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text     string      `json:"text"`
	Caption  string      `json:"caption"`
	Photo    []FilePart  `json:"photo"`
	Video    *FilePart   `json:"video"`
	Document *NamedPart  `json:"document"`
	Audio    *NamedPart  `json:"audio"`
}

// Actor identifies the sending user.
type Actor struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// FilePart is a stored file reference.
type FilePart struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
}

// NamedPart is a file reference with an original filename.
type NamedPart struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

// Payload extracts the storable item from a message, if any. The largest
// photo size is used. Plain text messages are not items here; command
// routing decides what text means.
func (m *Message) Payload() (*store.Item, bool) {
	switch {
	case len(m.Photo) > 0:
		best := m.Photo[len(m.Photo)-1]
		return &store.Item{Kind: store.KindPhoto, FileRef: best.FileID, FileSize: best.FileSize, Caption: m.Caption}, true
	case m.Video != nil:
		return &store.Item{Kind: store.KindVideo, FileRef: m.Video.FileID, FileSize: m.Video.FileSize, Caption: m.Caption}, true
	case m.Document != nil:
		return &store.Item{Kind: store.KindDocument, FileRef: m.Document.FileID, FileName: m.Document.FileName, FileSize: m.Document.FileSize, Caption: m.Caption}, true
	case m.Audio != nil:
		return &store.Item{Kind: store.KindAudio, FileRef: m.Audio.FileID, FileName: m.Audio.FileName, FileSize: m.Audio.FileSize, Caption: m.Caption}, true
	}
	return nil, false
}

// GetUpdates long-polls for inbound events past offset.
func (c *APIClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}
