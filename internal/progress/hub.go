package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"assetpipe/internal/queue"
)

// ErrClosed is returned by Fetch once the hub is closed and the caller has
// consumed every update.
var ErrClosed = errors.New("progress stream closed")

// Update is one entry of the stream: either a progress event or an item snapshot.
type Update struct {
	Sequence  uint64      `json:"seq"`
	Timestamp time.Time   `json:"ts"`
	Event     *Event      `json:"event,omitempty"`
	Item      *queue.Item `json:"item,omitempty"`
}

// Hub records a run's updates and wakes waiters when new ones arrive. The
// full history is kept so late subscribers replay the run from the start.
type Hub struct {
	mu      sync.Mutex
	cond    *sync.Cond
	updates []Update
	nextSeq uint64
	closed  bool
}

// NewHub constructs an empty, open hub.
func NewHub() *Hub {
	h := &Hub{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Progress implements Reporter.
func (h *Hub) Progress(evt Event) {
	h.publish(Update{Event: &evt})
}

// ItemUpdated implements Reporter. The item is snapshotted before publishing.
func (h *Hub) ItemUpdated(item *queue.Item) {
	if item == nil {
		return
	}
	h.publish(Update{Item: item.Snapshot()})
}

func (h *Hub) publish(u Update) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.nextSeq++
	u.Sequence = h.nextSeq
	u.Timestamp = time.Now().UTC()
	h.updates = append(h.updates, u)
	h.cond.Broadcast()
}

// Close ends the stream. Further publishes are dropped.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.closed = true
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Closed reports whether Close has been called.
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Fetch returns every update with sequence greater than since. When wait is
// true it blocks until at least one update exists, the hub closes, or ctx ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, wait bool) ([]Update, uint64, error) {
	if h == nil {
		return nil, since, ErrClosed
	}

	cancelWait := make(chan struct{})
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		if since < uint64(len(h.updates)) {
			out := make([]Update, len(h.updates)-int(since))
			copy(out, h.updates[since:])
			return out, h.nextSeq, nil
		}
		if h.closed {
			return nil, h.nextSeq, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, since, err
		}
		if !wait {
			return nil, since, nil
		}
		h.cond.Wait()
	}
}

// Subscribe replays the stream from the beginning and follows it until the
// hub closes or ctx ends, then closes the returned channel.
func (h *Hub) Subscribe(ctx context.Context) <-chan Update {
	out := make(chan Update)
	go func() {
		defer close(out)
		var since uint64
		for {
			batch, next, err := h.Fetch(ctx, since, true)
			for _, u := range batch {
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
			since = next
		}
	}()
	return out
}

// History returns a copy of every update published so far.
func (h *Hub) History() []Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Update(nil), h.updates...)
}
