package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveProbe(t *testing.T) {
	ObserveProbe("metrics_test_store", true, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(storeOnline.WithLabelValues("metrics_test_store")))

	ObserveProbe("metrics_test_store", false, -time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(storeOnline.WithLabelValues("metrics_test_store")))
}

func TestObserveFixOutcomes(t *testing.T) {
	before := testutil.ToFloat64(fixOutcomes.WithLabelValues("fixed"))
	ObserveFixOutcomes(2, 1, 0)
	assert.Equal(t, before+2, testutil.ToFloat64(fixOutcomes.WithLabelValues("fixed")))
}

func TestObserveShardFailure(t *testing.T) {
	ObserveShardFailure("metrics_test_shard")
	ObserveShardFailure("metrics_test_shard")
	assert.Equal(t, 2.0, testutil.ToFloat64(searchShardFailures.WithLabelValues("metrics_test_shard")))
}
