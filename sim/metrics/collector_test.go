package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_NilIsSafe(t *testing.T) {
	// GIVEN no collector
	var c *Collector

	// WHEN every recorder is called
	c.IncFrame("NodeB", "DCH")
	c.IncCorrupted("UE", "dedicated")
	c.IncPreamble()
	c.IncAccessFailure()
	c.IncPowerStep("uplink", true)
	c.IncPDU("AM")
	c.IncRetransmit()
	c.ObserveDelivery("AM", 10, 0.01)
	c.IncDiscard("UM")
	c.IncAdmission(true)
	c.SetCodeUtilization("1", 0.5)
	c.IncHandover()
	c.IncConnectionLoss()

	// THEN nothing panics and totals are empty
	totals, err := c.Totals()
	require.NoError(t, err)
	assert.Empty(t, totals)
	assert.NoError(t, c.WriteText(&bytes.Buffer{}))
}

func TestCollector_CountsAndTotals(t *testing.T) {
	// GIVEN a collector
	c := NewCollector()

	// WHEN admissions and deliveries are recorded
	c.IncAdmission(true)
	c.IncAdmission(true)
	c.IncAdmission(false)
	c.ObserveDelivery("AM", 100, 0.02)
	c.ObserveDelivery("UM", 50, 0.01)

	// THEN labelled counters and totals agree
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Admissions.WithLabelValues("admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Admissions.WithLabelValues("rejected")))
	totals, err := c.Totals()
	require.NoError(t, err)
	assert.Equal(t, 3.0, totals["umts_rrc_admissions_total"])
	assert.Equal(t, 150.0, totals["umts_rlc_sdu_bytes_delivered_total"])
	assert.Equal(t, 2.0, totals["umts_rlc_sdu_delay_seconds"])
}

func TestCollector_UtilizationClampedAndDumped(t *testing.T) {
	c := NewCollector()
	c.SetCodeUtilization("7", 1.5)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CodeUtilization.WithLabelValues("7")))

	var buf bytes.Buffer
	require.NoError(t, c.WriteText(&buf))
	assert.Contains(t, buf.String(), `umts_codetree_utilization_ratio{station="7"} 1`)
}
