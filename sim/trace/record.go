// Package trace records radio-resource decisions for post-run analysis.
// It stores pure data and depends on nothing else in the simulator.
package trace

// AdmissionRecord captures a single flow admission decision taken by a base station.
type AdmissionRecord struct {
	Flow     uint32
	Terminal uint32
	Station  uint32
	Clock    int64 // microseconds
	Admitted bool
	SF       int     // granted spreading factor; 0 when rejected or on a common channel
	Codes    int     // number of codes held by the terminal after the decision
	Rate     float64 // bit/s of the last dedicated frame sent to the terminal
	Reason   string
}

// HandoverRecord captures a change of serving station (or loss of coverage).
// From or To is zero when the terminal attaches for the first time or loses coverage.
type HandoverRecord struct {
	Terminal uint32
	From     uint32
	To       uint32
	Clock    int64 // microseconds
	Reason   string
}
