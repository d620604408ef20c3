// Package dispatch implements resilient batch delivery of collection items.
//
// It splits large collections into platform-sized chunks, paces sends to
// stay under flood limits, retries rate-limited chunks with the wait the
// platform asked for, and throttles progress status updates so that rapid
// bursts of uploads do not produce a message per item.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/stashkeep/stashkeep/internal/logutil"
	"github.com/stashkeep/stashkeep/internal/messenger"
	"github.com/stashkeep/stashkeep/internal/store"
)

// Config tunes delivery behavior. Zero values fall back to defaults.
type Config struct {
	// ChunkSize is the maximum items per media group send.
	ChunkSize int
	// ChunkDelay is the minimum spacing between chunk sends.
	ChunkDelay time.Duration
	// RetryBackoff is the wait before retrying a rate-limited send when
	// the platform did not say how long to wait.
	RetryBackoff time.Duration
	// MaxRetries bounds retries per chunk on rate-limit errors.
	MaxRetries int
	// StatusMinInterval is the minimum time between status edits for a
	// running batch.
	StatusMinInterval time.Duration
	// StatusCountThreshold forces a fresh status message every N items.
	StatusCountThreshold int
	// MaxConcurrentSends caps in-flight platform calls across all users.
	MaxConcurrentSends int64
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 10
	}
	if c.ChunkDelay <= 0 {
		c.ChunkDelay = 4 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.StatusMinInterval <= 0 {
		c.StatusMinInterval = 2 * time.Second
	}
	if c.StatusCountThreshold <= 0 {
		c.StatusCountThreshold = 30
	}
	if c.MaxConcurrentSends <= 0 {
		c.MaxConcurrentSends = 4
	}
	return c
}

// ItemRef identifies an item in delivery failure reports.
type ItemRef struct {
	ItemID  int64
	FileRef string
}

// Result summarizes one delivery run.
type Result struct {
	Delivered int
	Failed    []ItemRef
	Cancelled bool
}

type batchKey struct {
	userID       int64
	collectionID int64
}

// batchState tracks one user's running intake into one collection.
type batchState struct {
	id             string
	collectionName string
	count          int
	lastStatusN    int
	lastStatusAt   time.Time
	statusMsgID    int64
	statusChatID   int64
	cancelled      bool
}

// Dispatcher delivers items and tracks per-(user, collection) batch
// progress. Safe for concurrent use.
type Dispatcher struct {
	cfg    Config
	m      messenger.Messenger
	logger *slog.Logger

	sem  *semaphore.Weighted
	pace *rate.Limiter

	mu      sync.Mutex
	batches map[batchKey]*batchState

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Dispatcher around a Messenger.
func New(m messenger.Messenger, cfg Config, logger *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:     cfg,
		m:       m,
		logger:  logutil.Component(logger, "dispatch"),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentSends),
		pace:    rate.NewLimiter(rate.Every(cfg.ChunkDelay), 1),
		batches: make(map[batchKey]*batchState),
		now:     time.Now,
		sleep:   ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// EnqueueItem records one accepted upload into the user's running batch
// for a collection and emits a throttled progress status. The item itself
// is already persisted by the caller; the dispatcher only tracks counts.
func (d *Dispatcher) EnqueueItem(ctx context.Context, userID, collectionID, chatID int64, collectionName string) {
	d.mu.Lock()
	key := batchKey{userID, collectionID}
	b, ok := d.batches[key]
	if !ok {
		b = &batchState{
			id:             uuid.NewString(),
			collectionName: collectionName,
			lastStatusAt:   d.now(),
			statusChatID:   chatID,
		}
		d.batches[key] = b
	}
	b.count++
	d.mu.Unlock()

	d.maybeUpdateStatus(ctx, key)
}

// UpdateStatus re-evaluates the status throttle for the user's running
// batch. EnqueueItem already does this on every accepted item; callers
// use this to force a final check, e.g. when a batch is wrapped up.
func (d *Dispatcher) UpdateStatus(ctx context.Context, userID, collectionID int64) {
	d.maybeUpdateStatus(ctx, batchKey{userID, collectionID})
}

// Count reports how many items the user's running batch for the
// collection has accepted.
func (d *Dispatcher) Count(userID, collectionID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.batches[batchKey{userID, collectionID}]; ok {
		return b.count
	}
	return 0
}

// CancelBatch aborts the user's running batch for one collection. An
// in-flight delivery observes the mark between chunks and stops; the
// batch is forgotten, so a later command starts a fresh one.
func (d *Dispatcher) CancelBatch(userID, collectionID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := batchKey{userID, collectionID}
	if b, ok := d.batches[key]; ok {
		b.cancelled = true
		delete(d.batches, key)
	}
}

// CancelAll aborts every running batch the user has. Used when the
// user's session modes are reset.
func (d *Dispatcher) CancelAll(userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, b := range d.batches {
		if key.userID == userID {
			b.cancelled = true
			delete(d.batches, key)
		}
	}
}

// CloseBatch finalizes and forgets the user's running batch for a
// collection, returning how many items it accepted.
func (d *Dispatcher) CloseBatch(userID, collectionID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := batchKey{userID, collectionID}
	b, ok := d.batches[key]
	if !ok {
		return 0
	}
	delete(d.batches, key)
	return b.count
}

// Deliver sends the items to chatID in order: text items individually,
// then visual media and documents in fixed-size groups. Chunks are paced,
// rate-limit errors are retried with the platform's requested wait, and
// chunks that exhaust their retries are reported per item without
// aborting the rest of the run.
func (d *Dispatcher) Deliver(ctx context.Context, userID, collectionID, chatID int64, items []*store.Item) (*Result, error) {
	key := batchKey{userID, collectionID}
	res := &Result{}

	// Pin the run to the current batch state so a concurrent cancel is
	// observed between chunks, while a cancel that happened before this
	// command does not veto a fresh run.
	d.mu.Lock()
	run, ok := d.batches[key]
	if !ok {
		run = &batchState{id: uuid.NewString(), lastStatusAt: d.now(), statusChatID: chatID}
		d.batches[key] = run
	}
	d.mu.Unlock()

	plan := planDelivery(items, d.cfg.ChunkSize)
	log := d.logger.With("user_id", userID, "collection_id", collectionID, "chunks", len(plan.groups))

	for _, it := range plan.texts {
		if d.isCancelled(run) {
			res.Cancelled = true
			return res, nil
		}
		if err := d.sendText(ctx, chatID, it); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Warn("text item delivery failed", "item_id", it.ID, "error", err)
			res.Failed = append(res.Failed, ItemRef{ItemID: it.ID, FileRef: it.FileRef})
			continue
		}
		res.Delivered++
	}

	for i, chunk := range plan.groups {
		if d.isCancelled(run) {
			res.Cancelled = true
			return res, nil
		}
		if err := d.pace.Wait(ctx); err != nil {
			return res, err
		}
		if err := d.sendChunk(ctx, chatID, chunk); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Warn("chunk delivery failed", "chunk", i, "size", len(chunk), "error", err)
			for _, it := range chunk {
				res.Failed = append(res.Failed, ItemRef{ItemID: it.ID, FileRef: it.FileRef})
			}
			continue
		}
		res.Delivered += len(chunk)
	}

	log.Info("delivery finished", "delivered", res.Delivered, "failed", len(res.Failed))
	return res, nil
}

func (d *Dispatcher) isCancelled(run *batchState) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return run.cancelled
}

func (d *Dispatcher) sendText(ctx context.Context, chatID int64, it *store.Item) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	return d.retrySend(ctx, chatID, func() error {
		_, err := d.m.SendText(ctx, chatID, it.Caption)
		return err
	})
}

// sendChunk pushes one media group, retrying on flood control. The group
// is all-or-nothing from the platform's point of view.
func (d *Dispatcher) sendChunk(ctx context.Context, chatID int64, chunk []*store.Item) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	media := make([]messenger.Media, 0, len(chunk))
	for _, it := range chunk {
		media = append(media, messenger.Media{
			Kind:     it.Kind,
			FileRef:  it.FileRef,
			Caption:  it.Caption,
			FileName: it.FileName,
		})
	}

	return d.retrySend(ctx, chatID, func() error {
		return d.m.SendMediaGroup(ctx, chatID, media)
	})
}

// retrySend runs one platform call with bounded retries on flood control,
// waiting the signaled duration or the configured default. Non-transient
// errors return immediately.
func (d *Dispatcher) retrySend(ctx context.Context, chatID int64, send func() error) error {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		err := send()
		if err == nil {
			return nil
		}
		lastErr = err
		wait, ok := messenger.AsRateLimited(err)
		if !ok {
			return err
		}
		if wait <= 0 {
			wait = d.cfg.RetryBackoff
		}
		d.logger.Debug("rate limited, backing off", "chat_id", chatID, "attempt", attempt+1, "wait", wait)
		if err := d.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

// Broadcast sends the same text to many chats, paced and retried like any
// other outbound traffic. Chats that still fail after retries are
// reported, not fatal.
func (d *Dispatcher) Broadcast(ctx context.Context, chatIDs []int64, text string) (int, []int64, error) {
	sent := 0
	var failed []int64
	for _, chatID := range chatIDs {
		if err := d.pace.Wait(ctx); err != nil {
			return sent, failed, err
		}
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return sent, failed, err
		}
		err := d.retrySend(ctx, chatID, func() error {
			_, err := d.m.SendText(ctx, chatID, text)
			return err
		})
		d.sem.Release(1)
		if err != nil {
			if ctx.Err() != nil {
				return sent, failed, ctx.Err()
			}
			d.logger.Warn("broadcast delivery failed", "chat_id", chatID, "error", err)
			failed = append(failed, chatID)
			continue
		}
		sent++
	}
	d.logger.Info("broadcast finished", "sent", sent, "failed", len(failed))
	return sent, failed, nil
}
