package trace

import (
	"testing"
)

func TestSimulationTrace_RecordAdmission_AppendsRecord(t *testing.T) {
	// GIVEN a trace configured for decisions
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})

	// WHEN an admission record is recorded
	st.RecordAdmission(AdmissionRecord{Flow: 1, Terminal: 7, Station: 1, Clock: 1000, Admitted: true, SF: 32, Reason: "granted"})

	// THEN the trace contains one admission record with correct data
	if len(st.Admissions) != 1 {
		t.Fatalf("expected 1 admission, got %d", len(st.Admissions))
	}
	if st.Admissions[0].Terminal != 7 {
		t.Errorf("expected terminal 7, got %d", st.Admissions[0].Terminal)
	}
	if !st.Admissions[0].Admitted {
		t.Error("expected admitted=true")
	}
}

func TestSimulationTrace_MultipleRecords_PreservesOrder(t *testing.T) {
	// GIVEN a trace
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})

	// WHEN multiple records are added
	st.RecordAdmission(AdmissionRecord{Flow: 1, Clock: 100, Admitted: true})
	st.RecordAdmission(AdmissionRecord{Flow: 2, Clock: 200, Admitted: false, Reason: "no code"})
	st.RecordHandover(HandoverRecord{Terminal: 5, From: 1, To: 2, Clock: 150})

	// THEN order is preserved
	if len(st.Admissions) != 2 {
		t.Fatalf("expected 2 admissions, got %d", len(st.Admissions))
	}
	if st.Admissions[0].Flow != 1 || st.Admissions[1].Flow != 2 {
		t.Error("admission order not preserved")
	}
	if len(st.Handovers) != 1 || st.Handovers[0].To != 2 {
		t.Error("handover record mismatch")
	}
}

func TestSimulationTrace_NilDiscards(t *testing.T) {
	// GIVEN tracing disabled
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelNone})

	// WHEN records are added to the nil trace
	st.RecordAdmission(AdmissionRecord{Flow: 1})
	st.RecordHandover(HandoverRecord{Terminal: 1})

	// THEN nothing panics and the trace stays nil
	if st != nil {
		t.Fatal("expected nil trace for level none")
	}
}

func TestIsValidTraceLevel_ValidLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"none", true},
		{"decisions", true},
		{"", true}, // empty defaults to none
		{"detailed", false},
		{"NONE", false}, // case-sensitive
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := IsValidTraceLevel(tt.level); got != tt.valid {
				t.Errorf("IsValidTraceLevel(%q) = %v, want %v", tt.level, got, tt.valid)
			}
		})
	}
}
