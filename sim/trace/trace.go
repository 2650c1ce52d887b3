package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures all admission and handover decisions.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects decision records during a run.
// A nil *SimulationTrace discards everything.
type SimulationTrace struct {
	Config     TraceConfig
	Admissions []AdmissionRecord
	Handovers  []HandoverRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
// Returns nil when the level disables tracing.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	if config.Level == TraceLevelNone || config.Level == "" {
		return nil
	}
	return &SimulationTrace{
		Config:     config,
		Admissions: make([]AdmissionRecord, 0),
		Handovers:  make([]HandoverRecord, 0),
	}
}

// RecordAdmission appends an admission decision record.
func (st *SimulationTrace) RecordAdmission(record AdmissionRecord) {
	if st == nil {
		return
	}
	st.Admissions = append(st.Admissions, record)
}

// RecordHandover appends a serving-station change.
func (st *SimulationTrace) RecordHandover(record HandoverRecord) {
	if st == nil {
		return
	}
	st.Handovers = append(st.Handovers, record)
}
