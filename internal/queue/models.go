package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage names one unit of work in the fixed processing sequence.
type Stage string

const (
	StageScrape           Stage = "scrape"
	StageSelectImages     Stage = "select-images"
	StageRemoveBackground Stage = "remove-background"
	StageGenerate3D       Stage = "generate-3d"
	StageOptimize         Stage = "optimize"
	StageSave             Stage = "save"
)

var allStages = []Stage{
	StageScrape,
	StageSelectImages,
	StageRemoveBackground,
	StageGenerate3D,
	StageOptimize,
	StageSave,
}

// InteractivePlan is the stage order for a single product driven by a person.
var InteractivePlan = []Stage{
	StageScrape,
	StageSelectImages,
	StageRemoveBackground,
	StageGenerate3D,
	StageOptimize,
	StageSave,
}

// BatchPlan is the stage order for pre-scraped rows: the product record is saved
// first so later bulk phases can address it by server id.
var BatchPlan = []Stage{
	StageSave,
	StageRemoveBackground,
	StageGenerate3D,
	StageOptimize,
}

// AllStages returns every known stage in registry order.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	for _, stage := range allStages {
		if stage == normalized {
			return stage, true
		}
	}
	return "", false
}

// Status is shared by items and their stage results.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return 0
	}
}

// IsTerminal reports whether the status is completed or failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrStageSealed is returned when a caller tries to rewrite a completed or
// failed stage result.
var ErrStageSealed = errors.New("stage result already sealed")

// StageResult records the outcome of one stage for one item.
type StageResult struct {
	Status      Status          `json:"status"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Attempts    int             `json:"attempts,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
}

// LOD is one level-of-detail variant produced by the optimize stage.
type LOD struct {
	Level         string `json:"level"`
	URL           string `json:"url"`
	FileSizeBytes int64  `json:"file_size_bytes,omitempty"`
	Triangles     int64  `json:"triangles,omitempty"`
}

// Item is one product moving through the pipeline.
type Item struct {
	CorrelationKey  string                 `json:"correlation_key"`
	ServerID        string                 `json:"server_id,omitempty"`
	BatchID         string                 `json:"batch_id,omitempty"`
	Position        int                    `json:"position"`
	Name            string                 `json:"name"`
	SourceURL       string                 `json:"source_url"`
	CandidateImages []string               `json:"candidate_images,omitempty"`
	SelectedImages  []string               `json:"selected_images,omitempty"`
	ProcessedImages []string               `json:"processed_images,omitempty"`
	TaskID          string                 `json:"task_id,omitempty"`
	ModelURL        string                 `json:"model_url,omitempty"`
	ThumbnailURL    string                 `json:"thumbnail_url,omitempty"`
	LODs            []LOD                  `json:"lods,omitempty"`
	Plan            []Stage                `json:"plan"`
	StageResults    map[Stage]*StageResult `json:"stage_results"`
	Status          Status                 `json:"status"`
	StartedAt       time.Time              `json:"started_at,omitzero"`
	EndedAt         time.Time              `json:"ended_at,omitzero"`
	Cost            float64                `json:"cost"`
}

// NewItem builds a pending item with a fresh correlation key.
func NewItem(name, sourceURL string, plan []Stage) *Item {
	cp := make([]Stage, len(plan))
	copy(cp, plan)
	return &Item{
		CorrelationKey: uuid.NewString(),
		Name:           strings.TrimSpace(name),
		SourceURL:      strings.TrimSpace(sourceURL),
		Plan:           cp,
		StageResults:   make(map[Stage]*StageResult),
		Status:         StatusPending,
	}
}

// Result returns the recorded result for stage, if any.
func (i *Item) Result(stage Stage) (*StageResult, bool) {
	if i == nil || i.StageResults == nil {
		return nil, false
	}
	res, ok := i.StageResults[stage]
	return res, ok && res != nil
}

// StageCompleted reports whether stage has a completed result.
func (i *Item) StageCompleted(stage Stage) bool {
	res, ok := i.Result(stage)
	return ok && res.Status == StatusCompleted
}

// StageFailed reports whether stage has a failed result.
func (i *Item) StageFailed(stage Stage) bool {
	res, ok := i.Result(stage)
	return ok && res.Status == StatusFailed
}

// Identity returns the id the gateway should use for this item.
func (i *Item) Identity() string {
	if strings.TrimSpace(i.ServerID) != "" {
		return i.ServerID
	}
	return i.CorrelationKey
}

// BeginStage creates (or reopens a pending) result for stage and marks it processing.
func (i *Item) BeginStage(stage Stage, now time.Time) (*StageResult, error) {
	if i.StageResults == nil {
		i.StageResults = make(map[Stage]*StageResult)
	}
	if res, ok := i.Result(stage); ok {
		if res.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: %s is %s", ErrStageSealed, stage, res.Status)
		}
		res.Status = StatusProcessing
		res.StartedAt = now
		return res, nil
	}
	res := &StageResult{Status: StatusProcessing, StartedAt: now}
	i.StageResults[stage] = res
	if i.StartedAt.IsZero() {
		i.StartedAt = now
	}
	i.refreshStatus(now)
	return res, nil
}

// CompleteStage seals stage as completed with the gateway payload. Attempts
// add to any recorded by earlier deferred failures of the same stage.
func (i *Item) CompleteStage(stage Stage, data json.RawMessage, attempts int, now time.Time) error {
	res, err := i.openResult(stage, now)
	if err != nil {
		return err
	}
	res.Status = StatusCompleted
	res.Data = data
	res.Error = ""
	res.ErrorKind = ""
	res.Attempts += attempts
	res.CompletedAt = now
	i.refreshStatus(now)
	return nil
}

// FailStage seals stage as failed. The item becomes failed. Attempts add to
// any recorded by earlier deferred failures.
func (i *Item) FailStage(stage Stage, kind, message string, attempts int, now time.Time) error {
	res, err := i.openResult(stage, now)
	if err != nil {
		return err
	}
	res.Status = StatusFailed
	res.Error = strings.TrimSpace(message)
	res.ErrorKind = kind
	res.Attempts += attempts
	res.CompletedAt = now
	i.refreshStatus(now)
	return nil
}

// DeferFailure records an error on stage without sealing it, leaving the stage
// open for another attempt.
func (i *Item) DeferFailure(stage Stage, kind, message string, attempts int) error {
	res, ok := i.Result(stage)
	if !ok {
		return fmt.Errorf("stage %s has not started", stage)
	}
	if res.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrStageSealed, stage, res.Status)
	}
	res.Status = StatusPending
	res.Error = strings.TrimSpace(message)
	res.ErrorKind = kind
	res.Attempts += attempts
	return nil
}

// AddCost accumulates a non-negative charge.
func (i *Item) AddCost(delta float64) {
	if delta > 0 {
		i.Cost += delta
	}
}

// Snapshot returns a deep copy safe to hand to observers.
func (i *Item) Snapshot() *Item {
	if i == nil {
		return nil
	}
	cp := *i
	cp.CandidateImages = cloneStrings(i.CandidateImages)
	cp.SelectedImages = cloneStrings(i.SelectedImages)
	cp.ProcessedImages = cloneStrings(i.ProcessedImages)
	if i.LODs != nil {
		cp.LODs = append([]LOD(nil), i.LODs...)
	}
	if i.Plan != nil {
		cp.Plan = append([]Stage(nil), i.Plan...)
	}
	cp.StageResults = make(map[Stage]*StageResult, len(i.StageResults))
	for stage, res := range i.StageResults {
		if res == nil {
			continue
		}
		copied := *res
		if res.Data != nil {
			copied.Data = append(json.RawMessage(nil), res.Data...)
		}
		cp.StageResults[stage] = &copied
	}
	return &cp
}

func (i *Item) openResult(stage Stage, now time.Time) (*StageResult, error) {
	res, ok := i.Result(stage)
	if !ok {
		var err error
		if res, err = i.BeginStage(stage, now); err != nil {
			return nil, err
		}
	}
	if res.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrStageSealed, stage, res.Status)
	}
	return res, nil
}

// DeriveStatus computes the overall status purely from stage results and plan.
func (i *Item) DeriveStatus() Status {
	started := false
	for _, res := range i.StageResults {
		if res == nil {
			continue
		}
		if res.Status == StatusFailed {
			return StatusFailed
		}
		started = true
	}
	if len(i.Plan) > 0 {
		done := true
		for _, stage := range i.Plan {
			if !i.StageCompleted(stage) {
				done = false
				break
			}
		}
		if done {
			return StatusCompleted
		}
	}
	if started {
		return StatusProcessing
	}
	return StatusPending
}

func (i *Item) refreshStatus(now time.Time) {
	next := i.DeriveStatus()
	if next.rank() <= i.Status.rank() {
		return
	}
	i.Status = next
	if next.IsTerminal() && i.EndedAt.IsZero() {
		i.EndedAt = now
	}
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}
