package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetpipe/internal/metrics"
)

func TestCollectorRecordsStageOutcomes(t *testing.T) {
	c := metrics.New()
	c.StageFinished("generate-3d", metrics.OutcomeCompleted, "", 2*time.Second)
	c.StageFinished("generate-3d", metrics.OutcomeFailed, "processing", time.Second)
	c.StageRetried("generate-3d")
	c.StageRetried("generate-3d")
	c.AddCost(1.25)
	c.AddCost(-3)
	c.SetBatchProgress("b-1", 40)
	c.BatchItemFinished("completed")

	expected := `
# HELP assetpipe_stage_retries_total Gateway call retries by stage
# TYPE assetpipe_stage_retries_total counter
assetpipe_stage_retries_total{stage="generate-3d"} 2
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "assetpipe_stage_retries_total"))

	expectedCost := `
# HELP assetpipe_cost_total Accumulated processing cost reported by the gateway
# TYPE assetpipe_cost_total counter
assetpipe_cost_total 1.25
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expectedCost), "assetpipe_cost_total"))

	count, err := testutil.GatherAndCount(c.Registry(), "assetpipe_stage_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCollectorHandlerServesMetrics(t *testing.T) {
	c := metrics.New()
	c.SetBatchProgress("b-2", 100)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `assetpipe_batch_progress_percent{batch_id="b-2"} 100`)
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.StageFinished("save", metrics.OutcomeCompleted, "", time.Second)
		c.StageRetried("save")
		c.AddCost(1)
		c.SetBatchProgress("b", 1)
		c.BatchItemFinished("failed")
	})
	assert.Nil(t, c.Registry())
}
