package network

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/trace"
)

type deliveryKey struct {
	flow sim.FlowID
	at   sim.NodeID
}

// Recorder collects application deliveries at every node.
type Recorder struct {
	flows map[deliveryKey]*delivery
}

type delivery struct {
	peer   sim.NodeID
	bytes  int
	delays []float64 // seconds
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{flows: make(map[deliveryKey]*delivery)}
}

// Delivered implements manager.Sink.
func (r *Recorder) Delivered(at, peer sim.NodeID, flow sim.FlowID, size int, delay sim.Time) {
	k := deliveryKey{flow: flow, at: at}
	d, ok := r.flows[k]
	if !ok {
		d = &delivery{peer: peer}
		r.flows[k] = d
	}
	d.bytes += size
	d.delays = append(d.delays, delay.Seconds())
}

// FlowReport summarizes what one node received on one flow.
type FlowReport struct {
	Flow      sim.FlowID
	At        sim.NodeID // receiving node
	From      sim.NodeID
	Packets   int
	Bytes     int
	MeanDelay float64 // seconds
	P95Delay  float64 // seconds
}

// Report is the end-of-run summary.
type Report struct {
	Horizon  sim.Time
	Flows    []FlowReport
	Sent     int // packets accepted by flows
	Refused  int // packets flows could not take
	Skipped  int // flows and services that could not be opened
	Trace    *trace.TraceSummary
	Counters map[string]float64
}

// Flows returns per-flow delivery summaries ordered by flow then receiver.
func (r *Recorder) Flows() []FlowReport {
	out := make([]FlowReport, 0, len(r.flows))
	for k, d := range r.flows {
		sorted := append([]float64(nil), d.delays...)
		sort.Float64s(sorted)
		out = append(out, FlowReport{
			Flow:      k.flow,
			At:        k.at,
			From:      d.peer,
			Packets:   len(d.delays),
			Bytes:     d.bytes,
			MeanDelay: stat.Mean(sorted, nil),
			P95Delay:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Flow != out[j].Flow {
			return out[i].Flow < out[j].Flow
		}
		return out[i].At < out[j].At
	})
	return out
}

func (n *Network) report(horizon sim.Time) *Report {
	r := &Report{
		Horizon: horizon,
		Flows:   n.recorder.Flows(),
		Skipped: n.skipped,
		Trace:   trace.Summarize(n.trace),
	}
	for _, src := range n.sources {
		st := src.Stats()
		r.Sent += st.Sent
		r.Refused += st.Refused
	}
	counters, err := n.metrics.Totals()
	if err != nil {
		counters = map[string]float64{}
	}
	r.Counters = counters
	return r
}

// Print writes the summary in human-readable form.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Report ===")
	fmt.Fprintf(w, "Horizon              : %.3f s\n", r.Horizon.Seconds())
	fmt.Fprintf(w, "Packets Sent         : %d\n", r.Sent)
	fmt.Fprintf(w, "Packets Refused      : %d\n", r.Refused)
	if r.Skipped > 0 {
		fmt.Fprintf(w, "Flows Not Started    : %d\n", r.Skipped)
	}
	delivered := 0
	for _, f := range r.Flows {
		delivered += f.Packets
	}
	fmt.Fprintf(w, "Packets Delivered    : %d\n", delivered)
	for _, f := range r.Flows {
		fmt.Fprintf(w, "  flow %#08x %5d <- %-5d : %6d pkts %9d B  mean %7.2f ms  p95 %7.2f ms\n",
			uint32(f.Flow), f.At, f.From, f.Packets, f.Bytes, f.MeanDelay*1e3, f.P95Delay*1e3)
	}
	if r.Trace != nil && (r.Trace.TotalDecisions > 0 || r.Trace.Attaches > 0) {
		fmt.Fprintln(w, "=== Decisions ===")
		fmt.Fprintf(w, "Admitted / Rejected  : %d / %d\n", r.Trace.AdmittedCount, r.Trace.RejectedCount)
		if r.Trace.MeanGrantedSF > 0 {
			fmt.Fprintf(w, "Mean Granted SF      : %.1f\n", r.Trace.MeanGrantedSF)
		}
		fmt.Fprintf(w, "Attaches             : %d\n", r.Trace.Attaches)
		fmt.Fprintf(w, "Handovers            : %d\n", r.Trace.Handovers)
		fmt.Fprintf(w, "Coverage Losses      : %d\n", r.Trace.CoverageLosses)
	}
	if len(r.Counters) > 0 {
		names := make([]string, 0, len(r.Counters))
		for k := range r.Counters {
			names = append(names, k)
		}
		sort.Strings(names)
		fmt.Fprintln(w, "=== Counters ===")
		for _, k := range names {
			fmt.Fprintf(w, "%-32s : %.0f\n", k, r.Counters[k])
		}
	}
}
