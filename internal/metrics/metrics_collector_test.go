package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorUpdatesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWithRegistry("poolcore", reg, zaptest.NewLogger(t))

	c.BrowserActive(3)
	c.BrowserRetired(1)
	c.PoolConcurrency(7)

	assert.Equal(t, float64(3), testutil.ToFloat64(c.prometheus.browserActiveCount))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.prometheus.browserRetiredCount))
	assert.Equal(t, float64(7), testutil.ToFloat64(c.prometheus.poolConcurrency))
}

func TestCollectorRecordsRetiredReasonLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWithRegistry("poolcore", reg, zaptest.NewLogger(t))

	c.BrowserInstanceRetired("max_used")
	c.BrowserInstanceRetired("max_used")
	c.BrowserInstanceRetired("disconnected")

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, fam := range families {
		if fam.GetName() != "poolcore_browserpool_instances_retired_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			counts[labelValue(m, "reason")] = m.GetCounter().GetValue()
		}
	}

	assert.Equal(t, float64(2), counts["max_used"])
	assert.Equal(t, float64(1), counts["disconnected"])
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
