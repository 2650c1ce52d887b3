package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalDecisions      int
	AdmittedCount       int
	RejectedCount       int
	Handovers           int // station-to-station changes
	Attaches            int // first attach or re-attach after loss
	CoverageLosses      int
	StationDistribution map[uint32]int // station → admitted flows
	MeanGrantedSF       float64
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		StationDistribution: make(map[uint32]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalDecisions = len(st.Admissions)
	sfSum, sfCount := 0, 0
	for _, a := range st.Admissions {
		if !a.Admitted {
			summary.RejectedCount++
			continue
		}
		summary.AdmittedCount++
		summary.StationDistribution[a.Station]++
		if a.SF > 0 {
			sfSum += a.SF
			sfCount++
		}
	}
	if sfCount > 0 {
		summary.MeanGrantedSF = float64(sfSum) / float64(sfCount)
	}

	for _, h := range st.Handovers {
		switch {
		case h.From != 0 && h.To != 0:
			summary.Handovers++
		case h.To != 0:
			summary.Attaches++
		default:
			summary.CoverageLosses++
		}
	}
	return summary
}
