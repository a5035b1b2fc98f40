package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Type: EventFlush, Step: 1, Outcome: OutcomeCommitted},
		{Type: EventChange, Step: 1, Batch: 1, Seq: 1, Dictionary: "users", Key: "a", Kind: "add"},
		{Type: EventChange, Step: 1, Batch: 1, Seq: 2, Dictionary: "users", Key: "b", Kind: "add"},
		{Type: EventFlush, Step: 2, Outcome: OutcomeRolledBack, Error: "CONFLICT"},
		{Type: EventFlush, Step: 3, Outcome: OutcomeCommitted},
		{Type: EventChange, Step: 3, Batch: 2, Seq: 3, Dictionary: "users", Key: "a", Kind: "remove"},
	}
	r.State["users"] = map[string]map[string]any{
		"b": {"name": "Bob", "age": float64(3), "tags": []any{"x"}},
	}
	return r
}

func TestAssertTraceContains(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertTraceContains(r, Assertion{Dictionary: "users", Key: "a", Kind: "remove"}))

	err := assertTraceContains(r, Assertion{Dictionary: "users", Key: "b", Kind: "remove"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind=remove dictionary=users key=b")
	assert.Contains(t, err.Error(), "step 2: flush rolled_back CONFLICT")
}

func TestAssertTraceOrder(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertTraceOrder(r, Assertion{Changes: []string{"add users/a", "remove users/a"}}))
	assert.NoError(t, assertTraceOrder(r, Assertion{Changes: []string{"add users/b", "remove users/a"}}))

	err := assertTraceOrder(r, Assertion{Changes: []string{"remove users/a", "add users/b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"add users/b" missing or out of order`)

	assert.Error(t, assertTraceOrder(r, Assertion{Changes: []string{"update users/a"}}))
}

func TestAssertTraceCount(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertTraceCount(r, Assertion{Count: 3}))
	assert.NoError(t, assertTraceCount(r, Assertion{Kind: "add", Count: 2}))
	assert.NoError(t, assertTraceCount(r, Assertion{Key: "a", Count: 2}))
	assert.NoError(t, assertTraceCount(r, Assertion{Dictionary: "teams", Count: 0}))

	err := assertTraceCount(r, Assertion{Kind: "add", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: 2 changes")
}

func TestAssertFinalState(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertFinalState(r, Assertion{Dictionary: "users", Key: "b", Expect: map[string]any{"name": "Bob"}}))
	assert.NoError(t, assertFinalState(r, Assertion{Dictionary: "users", Key: "b", Expect: map[string]any{"age": 3, "tags": []any{"x"}}}), "ints compare in JSON form")
	assert.NoError(t, assertFinalState(r, Assertion{Dictionary: "users", Key: "a", Absent: true}))

	assert.Error(t, assertFinalState(r, Assertion{Dictionary: "users", Key: "b", Expect: map[string]any{"name": "Robert"}}))
	assert.Error(t, assertFinalState(r, Assertion{Dictionary: "users", Key: "b", Absent: true}))

	err := assertFinalState(r, Assertion{Dictionary: "users", Key: "zz", Expect: map[string]any{"name": "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document not found")
}

func TestMatchFields(t *testing.T) {
	actual := map[string]any{"a": float64(1), "b": "x", "c": map[string]any{"d": true}}
	assert.True(t, matchFields(actual, nil))
	assert.True(t, matchFields(actual, map[string]any{"a": 1}))
	assert.True(t, matchFields(actual, map[string]any{"c": map[string]any{"d": true}}))
	assert.False(t, matchFields(actual, map[string]any{"missing": 1}))
	assert.False(t, matchFields("not a map", map[string]any{"a": 1}))
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{{Type: "trace_magic"}, {Type: AssertTraceCount, Count: 3}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "trace_magic"`)
}
