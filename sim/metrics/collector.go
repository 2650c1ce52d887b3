// Package metrics exposes simulator counters as Prometheus collectors.
//
// Every method is safe on a nil *Collector so layers can be built without metrics.
package metrics

import (
	"fmt"
	"io"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Collector holds the simulator's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	Frames         *prometheus.CounterVec // node_kind, channel
	BlocksCorrupt  *prometheus.CounterVec // node_kind, link
	Preambles      prometheus.Counter
	AccessFailures prometheus.Counter
	PowerSteps     *prometheus.CounterVec // link, direction

	PDUsSent       *prometheus.CounterVec // mode
	Retransmits    prometheus.Counter
	SDUsDelivered  *prometheus.CounterVec // mode
	BytesDelivered prometheus.Counter
	Discards       *prometheus.CounterVec // mode
	SDUDelay       prometheus.Histogram

	Admissions      *prometheus.CounterVec // result
	CodeUtilization *prometheus.GaugeVec   // station
	Handovers       prometheus.Counter
	ConnectionLoss  prometheus.Counter
}

// NewCollector registers all metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umts_phy_frames_total",
			Help: "Frames handed to a channel by physical layers.",
		}, []string{"node_kind", "channel"}),
		BlocksCorrupt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umts_phy_blocks_corrupted_total",
			Help: "Received blocks dropped by block-error injection.",
		}, []string{"node_kind", "link"}),
		Preambles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "umts_rach_preambles_total",
			Help: "Random-access preambles transmitted by terminals.",
		}),
		AccessFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "umts_rach_access_failures_total",
			Help: "Random-access procedures abandoned after the preamble budget.",
		}),
		PowerSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umts_power_control_steps_total",
			Help: "Transmit power changes applied by closed-loop power control.",
		}, []string{"link", "direction"}),
		PDUsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umts_rlc_pdus_sent_total",
			Help: "RLC PDUs submitted to the MAC, first transmissions only.",
		}, []string{"mode"}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "umts_rlc_retransmissions_total",
			Help: "Acknowledged-mode PDUs sent again.",
		}),
		SDUsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umts_rlc_sdus_delivered_total",
			Help: "Reassembled SDUs handed to the upper layer.",
		}, []string{"mode"}),
		BytesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "umts_rlc_sdu_bytes_delivered_total",
			Help: "Payload bytes of delivered SDUs.",
		}),
		Discards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umts_rlc_reassembly_discards_total",
			Help: "Partial SDUs discarded after a sequence gap.",
		}, []string{"mode"}),
		SDUDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "umts_rlc_sdu_delay_seconds",
			Help:    "Time from SDU submission to delivery at the peer.",
			Buckets: []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
		}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umts_rrc_admissions_total",
			Help: "Flow admission decisions by result.",
		}, []string{"result"}),
		CodeUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "umts_codetree_utilization_ratio",
			Help: "Fraction of the code tree held, per station.",
		}, []string{"station"}),
		Handovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "umts_handovers_total",
			Help: "Serving-station changes between two stations.",
		}),
		ConnectionLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "umts_connection_losses_total",
			Help: "Terminals losing coverage of their serving station.",
		}),
	}
	reg.MustRegister(
		c.Frames, c.BlocksCorrupt, c.Preambles, c.AccessFailures, c.PowerSteps,
		c.PDUsSent, c.Retransmits, c.SDUsDelivered, c.BytesDelivered, c.Discards, c.SDUDelay,
		c.Admissions, c.CodeUtilization, c.Handovers, c.ConnectionLoss,
	)
	return c
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) IncFrame(nodeKind, channel string) {
	if c == nil {
		return
	}
	c.Frames.WithLabelValues(nodeKind, channel).Inc()
}

func (c *Collector) IncCorrupted(nodeKind, link string) {
	if c == nil {
		return
	}
	c.BlocksCorrupt.WithLabelValues(nodeKind, link).Inc()
}

func (c *Collector) IncPreamble() {
	if c == nil {
		return
	}
	c.Preambles.Inc()
}

func (c *Collector) IncAccessFailure() {
	if c == nil {
		return
	}
	c.AccessFailures.Inc()
}

// IncPowerStep records one power change; up selects the direction label.
func (c *Collector) IncPowerStep(link string, up bool) {
	if c == nil {
		return
	}
	dir := "down"
	if up {
		dir = "up"
	}
	c.PowerSteps.WithLabelValues(link, dir).Inc()
}

func (c *Collector) IncPDU(mode string) {
	if c == nil {
		return
	}
	c.PDUsSent.WithLabelValues(mode).Inc()
}

func (c *Collector) IncRetransmit() {
	if c == nil {
		return
	}
	c.Retransmits.Inc()
}

// ObserveDelivery records one delivered SDU of size bytes and its one-way delay in seconds.
func (c *Collector) ObserveDelivery(mode string, size int, delay float64) {
	if c == nil {
		return
	}
	c.SDUsDelivered.WithLabelValues(mode).Inc()
	c.BytesDelivered.Add(float64(size))
	c.SDUDelay.Observe(delay)
}

func (c *Collector) IncDiscard(mode string) {
	if c == nil {
		return
	}
	c.Discards.WithLabelValues(mode).Inc()
}

// IncAdmission records an admission decision.
func (c *Collector) IncAdmission(admitted bool) {
	if c == nil {
		return
	}
	result := "rejected"
	if admitted {
		result = "admitted"
	}
	c.Admissions.WithLabelValues(result).Inc()
}

// SetCodeUtilization records the held fraction of a station's code tree, clamped to [0,1].
func (c *Collector) SetCodeUtilization(station string, ratio float64) {
	if c == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.CodeUtilization.WithLabelValues(station).Set(ratio)
}

func (c *Collector) IncHandover() {
	if c == nil {
		return
	}
	c.Handovers.Inc()
}

func (c *Collector) IncConnectionLoss() {
	if c == nil {
		return
	}
	c.ConnectionLoss.Inc()
}

// Totals sums every counter family across its labels, keyed by metric name.
// Histograms contribute their sample count.
func (c *Collector) Totals() (map[string]float64, error) {
	out := make(map[string]float64)
	if c == nil {
		return out, nil
	}
	mfs, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				out[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				out[mf.GetName()] += float64(m.GetHistogram().GetSampleCount())
			case m.GetGauge() != nil:
				out[mf.GetName()] += m.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}

// WriteText dumps the registry in the Prometheus text exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	if c == nil {
		return nil
	}
	mfs, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	sort.Slice(mfs, func(i, j int) bool { return mfs[i].GetName() < mfs[j].GetName() })
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
