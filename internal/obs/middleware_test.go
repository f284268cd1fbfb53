package obs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-marketplace/internal/obs"
)

func TestTaskObsRecordsOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewTaskMetrics("marketplace_worker", registry)
	fail := true
	handler := obs.TaskObs{Metrics: metrics}.Middleware(asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	}))

	task := asynq.NewTask("order:placed", []byte(`{"order_id":"o-1"}`))
	require.Error(t, handler.ProcessTask(context.Background(), task))
	fail = false
	require.NoError(t, handler.ProcessTask(context.Background(), task))

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Processed.WithLabelValues("order:placed", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Processed.WithLabelValues("order:placed", "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight.WithLabelValues("order:placed")))
	require.Equal(t, 1, testutil.CollectAndCount(metrics.Duration))
}

func TestNewTaskMetricsReusesRegistered(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewTaskMetrics("dup", registry)
	second := obs.NewTaskMetrics("dup", registry)
	require.Same(t, first.Processed, second.Processed)
}
