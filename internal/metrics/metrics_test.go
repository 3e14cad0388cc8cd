package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	InitMetrics(reg)

	before := testutil.ToFloat64(Operations.WithLabelValues("purchase", "ok"))
	Observe("purchase", "ok")
	require.Equal(t, before+1, testutil.ToFloat64(Operations.WithLabelValues("purchase", "ok")))
}
