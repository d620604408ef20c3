package dispatch

import (
	"context"
	"fmt"
)

// statusAction is what maybeUpdateStatus decided under the lock.
type statusAction int

const (
	statusNone statusAction = iota
	statusNew               // start a fresh status message
	statusEdit              // edit the existing one in place
)

// maybeUpdateStatus emits a progress message for a running batch, bounded
// by both a minimum interval and an item-count threshold. Crossing the
// count threshold starts a fresh message so long uploads leave a visible
// trail; interval-based updates edit the current message in place.
func (d *Dispatcher) maybeUpdateStatus(ctx context.Context, key batchKey) {
	d.mu.Lock()
	b, ok := d.batches[key]
	if !ok || b.cancelled {
		d.mu.Unlock()
		return
	}

	action := statusNone
	switch {
	case b.count-b.lastStatusN >= d.cfg.StatusCountThreshold:
		action = statusNew
	case b.count > b.lastStatusN && d.now().Sub(b.lastStatusAt) >= d.cfg.StatusMinInterval:
		if b.statusMsgID == 0 {
			action = statusNew
		} else {
			action = statusEdit
		}
	}
	if action == statusNone {
		d.mu.Unlock()
		return
	}

	// Mark before sending so a concurrent enqueue does not double-fire.
	b.lastStatusN = b.count
	b.lastStatusAt = d.now()
	text := fmt.Sprintf("Saving to %q: %d items", b.collectionName, b.count)
	chatID, msgID := b.statusChatID, b.statusMsgID
	d.mu.Unlock()

	switch action {
	case statusNew:
		id, err := d.m.SendText(ctx, chatID, text)
		if err != nil {
			d.logger.Warn("status message failed", "chat_id", chatID, "error", err)
			return
		}
		d.mu.Lock()
		if b, ok := d.batches[key]; ok {
			b.statusMsgID = id
		}
		d.mu.Unlock()
	case statusEdit:
		if err := d.m.EditText(ctx, chatID, msgID, text); err != nil {
			d.logger.Warn("status edit failed", "chat_id", chatID, "error", err)
		}
	}
}
