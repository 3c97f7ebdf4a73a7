package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetpipe/internal/retry"
	"assetpipe/internal/services"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	sleeper := &recordingSleeper{}
	var retries []int
	policy := retry.Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Sleep:      sleeper.sleep,
		OnRetry: func(attempt int, _ error, _ time.Duration) {
			retries = append(retries, attempt)
		},
	}

	calls := 0
	attempts, err := retry.Do(context.Background(), policy, func(context.Context) error {
		calls++
		if calls < 3 {
			return services.Wrap(services.ErrNetwork, "save", "bulk", "connection reset", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries, "two failures before success means two retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays, "backoff is linear")
}

func TestDoValidationRunsOnce(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	attempts, err := retry.Do(context.Background(), retry.Policy{MaxRetries: 5, Sleep: sleeper.sleep}, func(context.Context) error {
		calls++
		return services.Wrap(services.ErrValidation, "scrape", "url", "unsupported", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, sleeper.delays)

	var pipeErr *services.PipelineError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, services.KindValidation, pipeErr.Kind)
	assert.False(t, pipeErr.Retryable)
}

func TestDoExhaustsBudget(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	attempts, err := retry.Do(context.Background(), retry.Policy{MaxRetries: 3, Sleep: sleeper.sleep}, func(context.Context) error {
		calls++
		return services.Wrap(services.ErrProcessing, "generate-3d", "submit", "server exploded", nil)
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, attempts)
	assert.Len(t, sleeper.delays, 2)

	var pipeErr *services.PipelineError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, services.KindProcessing, pipeErr.Kind)
	assert.Equal(t, 3, pipeErr.Attempts)
	assert.ErrorIs(t, err, services.ErrProcessing)
}

func TestDoStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := retry.Do(ctx, retry.Policy{MaxRetries: 5}, func(context.Context) error {
		calls++
		cancel()
		return services.Wrap(services.ErrNetwork, "save", "bulk", "reset", nil)
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestValueReturnsResult(t *testing.T) {
	calls := 0
	got, attempts, err := retry.Value(context.Background(), retry.Policy{MaxRetries: 2, Sleep: (&recordingSleeper{}).sleep},
		func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("flaky")
			}
			return "task-1", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "task-1", got)
	assert.Equal(t, 2, attempts)
}

func TestPolicyDefaults(t *testing.T) {
	assert.Equal(t, 3, retry.Policy{}.Attempts())
	assert.Equal(t, time.Duration(0), retry.Policy{}.Delay(2))
	assert.Equal(t, 1500*time.Millisecond, retry.Policy{BaseDelay: 500 * time.Millisecond}.Delay(3))
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, retry.Sleep(ctx, time.Hour), context.Canceled)
}
