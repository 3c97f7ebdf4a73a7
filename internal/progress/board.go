package progress

import (
	"sort"

	"assetpipe/internal/queue"
)

// Board folds a stream of updates into the latest state per item.
type Board struct {
	items    map[string]*queue.Item
	order    []string
	last     Event
	hasEvent bool
	lastSeq  uint64
}

func NewBoard() *Board {
	return &Board{items: make(map[string]*queue.Item)}
}

// Apply merges one update. Updates older than the last applied sequence are ignored.
func (b *Board) Apply(u Update) {
	if u.Sequence != 0 && u.Sequence <= b.lastSeq {
		return
	}
	if u.Sequence != 0 {
		b.lastSeq = u.Sequence
	}
	if u.Event != nil {
		b.last = *u.Event
		b.hasEvent = true
	}
	if u.Item != nil {
		key := u.Item.CorrelationKey
		if _, seen := b.items[key]; !seen {
			b.order = append(b.order, key)
		}
		b.items[key] = u.Item
	}
}

// Items returns the latest snapshot of every item, ordered by batch position
// and then by first appearance.
func (b *Board) Items() []*queue.Item {
	out := make([]*queue.Item, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, b.items[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out
}

// Item returns the latest snapshot for a correlation key.
func (b *Board) Item(key string) (*queue.Item, bool) {
	item, ok := b.items[key]
	return item, ok
}

// Latest returns the most recent progress event.
func (b *Board) Latest() (Event, bool) {
	return b.last, b.hasEvent
}
