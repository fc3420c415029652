package tools

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bt-bridge/interview-room/shared"
	"go.uber.org/zap"
)

// AudioChunk is one encoded capture slice.
type AudioChunk struct {
	Data     []byte
	Duration time.Duration
}

// AudioSender delivers one batch as a single AUDIO_STREAM message.
type AudioSender func(ctx context.Context, chunks []AudioChunk) error

// ThrottlerHooks observe the queue; either may be nil.
type ThrottlerHooks struct {
	Dropped func(n int)
	Flushed func(n int)
}

type queuedChunk struct {
	seq   uint64
	chunk AudioChunk
}

// Throttler batches audio chunks and sends them on a fixed interval, or
// as soon as a full batch is queued. Chunks stay queued while the sender
// is not ready and only the sent prefix is removed after a successful send.
type Throttler struct {
	logger    shared.LoggerAdapter
	send      AudioSender
	ready     func() bool
	maxBatch  int
	maxQueued int
	hooks     ThrottlerHooks

	mu      sync.Mutex
	queue   []queuedChunk
	nextSeq uint64
	ticker  *shared.Ticker

	flushMu sync.Mutex
}

func NewThrottler(logger shared.LoggerAdapter, send AudioSender, ready func() bool, maxBatch, maxQueued int, hooks ThrottlerHooks) (*Throttler, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if send == nil {
		return nil, shared.ErrNoSender
	}
	if maxBatch <= 0 {
		return nil, errors.New("max batch must be positive")
	}
	if maxQueued < maxBatch {
		maxQueued = maxBatch
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Throttler{
		logger:    logger.With(zap.String("component", "throttler")),
		send:      send,
		ready:     ready,
		maxBatch:  maxBatch,
		maxQueued: maxQueued,
		hooks:     hooks,
	}, nil
}

// Enqueue appends chunks in order and flushes right away once a full batch
// is waiting.
func (t *Throttler) Enqueue(chunks ...AudioChunk) {
	if len(chunks) == 0 {
		return
	}
	t.mu.Lock()
	for _, c := range chunks {
		t.queue = append(t.queue, queuedChunk{seq: t.nextSeq, chunk: c})
		t.nextSeq++
	}
	dropped := 0
	if over := len(t.queue) - t.maxQueued; over > 0 {
		t.queue = append(t.queue[:0:0], t.queue[over:]...)
		dropped = over
	}
	full := len(t.queue) >= t.maxBatch
	t.mu.Unlock()

	if dropped > 0 {
		t.logger.Warn("audio queue full, dropping oldest chunks", zap.Int("dropped", dropped))
		if t.hooks.Dropped != nil {
			t.hooks.Dropped(dropped)
		}
	}
	if full {
		if err := t.Flush(context.Background()); err != nil {
			t.logger.Error("flushing full audio batch", err)
		}
	}
}

// Flush sends everything queued, at most one batch per message. It is a
// no-op when the queue is empty or the sender is not ready.
func (t *Throttler) Flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()
	for {
		if !t.ready() {
			return nil
		}
		t.mu.Lock()
		n := min(len(t.queue), t.maxBatch)
		if n == 0 {
			t.mu.Unlock()
			return nil
		}
		batch := make([]AudioChunk, n)
		for i := range n {
			batch[i] = t.queue[i].chunk
		}
		end := t.queue[n-1].seq + 1
		t.mu.Unlock()

		if err := t.send(ctx, batch); err != nil {
			return err
		}

		t.mu.Lock()
		sent := 0
		for sent < len(t.queue) && t.queue[sent].seq < end {
			sent++
		}
		t.queue = t.queue[sent:]
		t.mu.Unlock()

		t.logger.Trace("audio batch flushed", zap.Int("chunks", n))
		if t.hooks.Flushed != nil {
			t.hooks.Flushed(n)
		}
	}
}

// Start begins periodic flushing. Calling it while running is a no-op.
func (t *Throttler) Start(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticker != nil {
		return
	}
	t.ticker = shared.StartTicker(interval, func() {
		if err := t.Flush(context.Background()); err != nil {
			t.logger.Error("periodic audio flush failed", err)
		}
	})
}

// Stop ends periodic flushing and makes one final flush attempt.
func (t *Throttler) Stop() error {
	t.mu.Lock()
	ticker := t.ticker
	t.ticker = nil
	t.mu.Unlock()
	ticker.Stop()
	return t.Flush(context.Background())
}

// Reset discards queued chunks without sending them.
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = nil
}

func (t *Throttler) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticker != nil
}

func (t *Throttler) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
