package models

// RunHealthCounts holds invariant violation counts found in stored runs.
type RunHealthCounts struct {
	OverlappingRuns    int64
	MultipleActiveRuns int64
	DayCountIssues     int64
}

func (counts RunHealthCounts) Total() int64 {
	return counts.OverlappingRuns + counts.MultipleActiveRuns + counts.DayCountIssues
}
