package workflow

import (
	"time"

	"assetpipe/internal/config"
	"assetpipe/internal/progress"
	"assetpipe/internal/queue"
)

// Phase marks where a batch run currently is.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseSave       Phase = "bulk-save"
	PhaseBackground Phase = "bulk-background"
	PhaseModels     Phase = "per-item"
	PhaseDone       Phase = "done"
)

// Weights are each phase's share of batch progress. They sum to 1.
type Weights struct {
	Save       float64
	Background float64
	Models     float64
}

// DefaultWeights matches the [batch] defaults.
func DefaultWeights() Weights {
	return Weights{Save: 0.2, Background: 0.2, Models: 0.6}
}

// WeightsFromConfig reads the [batch] section.
func WeightsFromConfig(cfg *config.Config) Weights {
	return Weights{
		Save:       cfg.Batch.SaveWeight,
		Background: cfg.Batch.BackgroundWeight,
		Models:     cfg.Batch.ModelWeight,
	}
}

// Input is one pre-scraped product row.
type Input struct {
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	ImageURLs []string `json:"image_urls"`
}

// NewItems builds batch items for inputs, preserving order.
func NewItems(batchID string, inputs []Input) []*queue.Item {
	items := make([]*queue.Item, 0, len(inputs))
	for i, in := range inputs {
		item := queue.NewItem(in.Name, in.URL, queue.BatchPlan)
		item.BatchID = batchID
		item.Position = i
		item.SelectedImages = append([]string(nil), in.ImageURLs...)
		items = append(items, item)
	}
	return items
}

// BatchRun is the coordinator-owned state of one run.
type BatchRun struct {
	ID        string
	Items     []*queue.Item
	Phase     Phase
	Progress  float64
	StartedAt time.Time
	EndedAt   time.Time

	weights        Weights
	saveDone       bool
	backgroundDone bool
	resolved       map[string]bool
	// partial is the current item's in-flight share of its remaining stages.
	partial float64
}

func newBatchRun(id string, items []*queue.Item, weights Weights, now time.Time) *BatchRun {
	return &BatchRun{
		ID:        id,
		Items:     items,
		Phase:     PhasePending,
		StartedAt: now,
		weights:   weights,
		resolved:  make(map[string]bool, len(items)),
	}
}

// resolve counts item as finished for the per-item phase. Repeat calls are
// ignored.
func (r *BatchRun) resolve(item *queue.Item) {
	r.resolved[item.CorrelationKey] = true
	r.partial = 0
}

// advance recomputes batch progress and returns it. The value never decreases.
func (r *BatchRun) advance() float64 {
	var v float64
	if r.saveDone {
		v += r.weights.Save
	}
	if r.backgroundDone {
		v += r.weights.Background
	}
	if n := len(r.Items); n > 0 {
		v += r.weights.Models * (float64(len(r.resolved)) + r.partial) / float64(n)
	}
	pct := progress.ClampPercent(v * 100)
	if r.Phase == PhaseDone && len(r.resolved) == len(r.Items) {
		pct = 100
	}
	if pct > r.Progress {
		r.Progress = pct
	}
	return r.Progress
}

// Summary is the outcome of a run.
type Summary struct {
	BatchID   string
	Total     int
	Completed int
	Failed    int
	Cost      float64
	Progress  float64
	Duration  time.Duration
}

func (r *BatchRun) summary() Summary {
	s := Summary{
		BatchID:  r.ID,
		Total:    len(r.Items),
		Progress: r.Progress,
		Duration: r.EndedAt.Sub(r.StartedAt),
	}
	for _, item := range r.Items {
		switch item.Status {
		case queue.StatusCompleted:
			s.Completed++
		case queue.StatusFailed:
			s.Failed++
		}
		s.Cost += item.Cost
	}
	return s
}
