package progress

import (
	"assetpipe/internal/queue"
)

// Event is one progress observation. Values are copied, never shared.
type Event struct {
	Stage         queue.Stage `json:"stage"`
	ItemIndex     int         `json:"item_index"`
	StageProgress float64     `json:"stage_progress"`
	BatchProgress float64     `json:"batch_progress"`
}

// Reporter receives progress from a pipeline or batch run. Implementations
// must not retain or mutate the live item; ItemUpdated is always handed a
// snapshot.
type Reporter interface {
	Progress(Event)
	ItemUpdated(*queue.Item)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Progress(Event)          {}
func (Nop) ItemUpdated(*queue.Item) {}

// Funcs adapts plain callbacks to a Reporter. Nil fields are ignored.
type Funcs struct {
	OnProgress func(Event)
	OnItem     func(*queue.Item)
}

func (f Funcs) Progress(evt Event) {
	if f.OnProgress != nil {
		f.OnProgress(evt)
	}
}

func (f Funcs) ItemUpdated(item *queue.Item) {
	if f.OnItem != nil {
		f.OnItem(item)
	}
}

// Multi fans every call out to each reporter in order.
type Multi []Reporter

func (m Multi) Progress(evt Event) {
	for _, r := range m {
		if r != nil {
			r.Progress(evt)
		}
	}
}

func (m Multi) ItemUpdated(item *queue.Item) {
	for _, r := range m {
		if r != nil {
			r.ItemUpdated(item)
		}
	}
}

// ClampPercent bounds v to [0, 100].
func ClampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
