package planner

import (
	"fmt"
	"time"
)

// Recommendation is the outcome of a sharding evaluation.
type Recommendation struct {
	ShouldShard     bool
	Factors         []string // Human-readable reasons that tipped the decision
	SuggestedShards int
	SuggestedWindow time.Duration
}

// Evaluate decides whether a request is worth sharding at all. It is
// pure: no store access, no side effects. Sharding is recommended when
// total subject-days, subject count, or the date span alone crosses a
// threshold; small requests are better run as a single unit.
func (p *Planner) Evaluate(req Request) Recommendation {
	sizing := p.sizing(req)
	span := req.To.Sub(req.From)
	if span < 0 {
		span = 0
	}

	days := int(span.Hours() / 24)
	subjectDays := days * len(req.Subjects)

	rec := Recommendation{SuggestedWindow: sizing.MaxWindow}
	if subjectDays > sizing.ShardAboveSubjectDays {
		rec.Factors = append(rec.Factors,
			fmt.Sprintf("total subject-days %d exceeds %d", subjectDays, sizing.ShardAboveSubjectDays))
	}
	if len(req.Subjects) > sizing.ShardAboveSubjects {
		rec.Factors = append(rec.Factors,
			fmt.Sprintf("subject count %d exceeds %d", len(req.Subjects), sizing.ShardAboveSubjects))
	}
	if span > sizing.ShardAboveSpan {
		rec.Factors = append(rec.Factors,
			fmt.Sprintf("date span %dd exceeds %dd", days, int(sizing.ShardAboveSpan.Hours()/24)))
	}
	rec.ShouldShard = len(rec.Factors) > 0

	if span > 0 {
		windows, _, _ := planWindows(req.From, req.To, sizing)
		rec.SuggestedShards = len(windows) * len(req.Subjects)
	}
	return rec
}
