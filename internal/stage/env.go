package stage

import (
	"context"
	"time"

	"assetpipe/internal/config"
	"assetpipe/internal/gateway"
	"assetpipe/internal/queue"
	"assetpipe/internal/retry"
)

// Settings are the request parameters executors send to the gateway.
type Settings struct {
	Generation   gateway.GenerationSettings
	MaxImages    int
	Optimize     gateway.OptimizeSettings
	PollInterval time.Duration
	PollAttempts int
}

// SettingsFromConfig maps [generation], [optimization] and [polling].
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Generation: gateway.GenerationSettings{
			AIModel:         cfg.Generation.AIModel,
			Topology:        cfg.Generation.Topology,
			TargetPolycount: cfg.Generation.TargetPolycount,
		},
		MaxImages: cfg.Generation.MaxImages,
		Optimize: gateway.OptimizeSettings{
			LODs:         append([]string(nil), cfg.Optimization.LODs...),
			TargetFormat: cfg.Optimization.TargetFormat,
		},
		PollInterval: cfg.PollInterval(),
		PollAttempts: cfg.Polling.MaxAttempts,
	}
}

// Input is what a person supplies when advancing an interactive item.
type Input struct {
	// SelectedImages picks candidate images by URL.
	SelectedImages []string
	// SelectedIndexes picks candidate images by position.
	SelectedIndexes []int
}

// Env is everything an executor may use for one stage run.
type Env struct {
	Gateway  gateway.Gateway
	Policy   retry.Policy
	Settings Settings
	Input    Input
	// OnProgress receives in-stage progress in [0, 100].
	OnProgress func(percent float64)
	// OnRetry is called before each retry wait.
	OnRetry func(attempt int, err error, delay time.Duration)

	retries int
}

// Attempts is one plus every retry made by the stage's gateway calls.
func (e *Env) Attempts() int {
	return e.retries + 1
}

// Retries is the number of retries made so far.
func (e *Env) Retries() int {
	return e.retries
}

func (e *Env) progress(percent float64) {
	if e.OnProgress != nil {
		e.OnProgress(percent)
	}
}

// Call runs one gateway call under the env's retry policy.
func Call[T any](ctx context.Context, env *Env, op func(context.Context) (T, error)) (T, error) {
	policy := env.Policy
	if env.OnRetry != nil {
		policy.OnRetry = env.OnRetry
	}
	value, attempts, err := retry.Value(ctx, policy, op)
	if attempts > 1 {
		env.retries += attempts - 1
	}
	return value, err
}

// Outcome is an executor's result. Apply mutates the item and is only invoked
// after a successful run that was not cancelled. Cost is charged whenever the
// run is still live, even when the executor failed after a billable call.
type Outcome struct {
	Data  any
	Cost  float64
	Apply func(*queue.Item)
}

// Executor performs one stage for one item.
type Executor func(ctx context.Context, env *Env, item *queue.Item) (Outcome, error)
