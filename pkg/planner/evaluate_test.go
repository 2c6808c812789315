package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Evaluate never touches the store, so a nil store is fine here.
func newEvaluator(t *testing.T, opts ...Option) *Planner {
	t.Helper()
	return New(nil, opts...)
}

func TestEvaluate_SmallRequestRunsUnsharded(t *testing.T) {
	p := newEvaluator(t)
	from := dateUTC(2024, 1, 1)

	rec := p.Evaluate(Request{
		Kind:     "mailbox.collection",
		Subjects: []string{"alice@example.com"},
		From:     from,
		To:       from.AddDate(0, 0, 30),
	})

	assert.False(t, rec.ShouldShard)
	assert.Empty(t, rec.Factors)
	assert.Equal(t, 1, rec.SuggestedShards, "30 days fits a single window")
	assert.Equal(t, DefaultMaxWindow, rec.SuggestedWindow)
}

func TestEvaluate_LongSpanTips(t *testing.T) {
	p := newEvaluator(t)
	from := dateUTC(2024, 1, 1)

	rec := p.Evaluate(Request{
		Kind:     "mailbox.collection",
		Subjects: []string{"alice@example.com"},
		From:     from,
		To:       from.AddDate(0, 0, 90),
	})

	assert.True(t, rec.ShouldShard)
	require.Len(t, rec.Factors, 1)
	assert.Contains(t, rec.Factors[0], "date span")
	assert.Equal(t, 3, rec.SuggestedShards)
}

func TestEvaluate_ManySubjectsTip(t *testing.T) {
	p := newEvaluator(t)
	from := dateUTC(2024, 1, 1)

	rec := p.Evaluate(Request{
		Kind: "mailbox.collection",
		Subjects: []string{
			"a@example.com", "b@example.com", "c@example.com",
			"d@example.com", "e@example.com", "f@example.com", "g@example.com",
		},
		From: from,
		To:   from.AddDate(0, 0, 10),
	})

	assert.True(t, rec.ShouldShard)
	require.Len(t, rec.Factors, 1)
	assert.Contains(t, rec.Factors[0], "subject count")
	assert.Equal(t, 7, rec.SuggestedShards, "one window each")
}

func TestEvaluate_SubjectDaysTip(t *testing.T) {
	p := newEvaluator(t)
	from := dateUTC(2024, 1, 1)

	// 4 subjects x 50 days = 200 subject-days: over the aggregate
	// threshold even though neither dimension trips alone.
	rec := p.Evaluate(Request{
		Kind: "mailbox.collection",
		Subjects: []string{
			"a@example.com", "b@example.com", "c@example.com", "d@example.com",
		},
		From: from,
		To:   from.AddDate(0, 0, 50),
	})

	assert.True(t, rec.ShouldShard)
	require.Len(t, rec.Factors, 1)
	assert.Contains(t, rec.Factors[0], "subject-days")
	assert.Equal(t, 8, rec.SuggestedShards)
}

func TestEvaluate_ThresholdsAreExclusive(t *testing.T) {
	p := newEvaluator(t)
	from := dateUTC(2024, 1, 1)

	// 5 subjects x 36 days lands exactly on every threshold: 180
	// subject-days, 5 subjects, 36-day span. Nothing exceeds, nothing tips.
	rec := p.Evaluate(Request{
		Kind: "mailbox.collection",
		Subjects: []string{
			"a@example.com", "b@example.com", "c@example.com",
			"d@example.com", "e@example.com",
		},
		From: from,
		To:   from.AddDate(0, 0, 36),
	})

	assert.False(t, rec.ShouldShard)
	assert.Empty(t, rec.Factors)
}

func TestEvaluate_AgreesWithPlan(t *testing.T) {
	ctx := context.Background()
	p, _ := setupPlannerTest(t)

	from := dateUTC(2024, 1, 1)
	req := Request{
		Kind:     "mailbox.collection",
		Subjects: []string{"alice@example.com", "bob@example.com"},
		From:     from,
		To:       from.AddDate(0, 0, 400),
	}

	rec := p.Evaluate(req)
	assert.True(t, rec.ShouldShard)
	assert.Len(t, rec.Factors, 2, "span and aggregate subject-days both trip")

	plan, err := p.Plan(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, len(plan.Shards), rec.SuggestedShards,
		"suggestion must match what planning actually produces")
}

func TestEvaluate_CustomThresholds(t *testing.T) {
	p := newEvaluator(t, WithConfig(Config{
		MaxWindow:             DefaultMaxWindow,
		MinWindowFloor:        DefaultMinWindowFloor,
		MaxShardsPerSubject:   DefaultMaxShardsPerSubject,
		RetryMax:              DefaultRetryMax,
		ShardAboveSubjects:    1,
		ShardAboveSubjectDays: DefaultShardAboveSubjectDays,
		ShardAboveSpan:        DefaultShardAboveSpan,
	}))
	from := dateUTC(2024, 1, 1)

	rec := p.Evaluate(Request{
		Kind:     "mailbox.collection",
		Subjects: []string{"a@example.com", "b@example.com"},
		From:     from,
		To:       from.AddDate(0, 0, 7),
	})

	assert.True(t, rec.ShouldShard)
	require.Len(t, rec.Factors, 1)
	assert.Contains(t, rec.Factors[0], "subject count")
}

func TestEvaluate_EmptyRangeSuggestsNothing(t *testing.T) {
	p := newEvaluator(t)
	from := dateUTC(2024, 1, 1)

	rec := p.Evaluate(Request{
		Kind:     "mailbox.collection",
		Subjects: []string{"alice@example.com"},
		From:     from,
		To:       from,
	})

	assert.False(t, rec.ShouldShard)
	assert.Zero(t, rec.SuggestedShards)
}
