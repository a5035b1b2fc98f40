package harness

import (
	"fmt"
	"reflect"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			switch event.Type {
			case EventChange:
				fmt.Fprintf(&buf, "  [%d] step %d: %s\n", i+1, event.Step, event.describe())
			case EventFlush:
				fmt.Fprintf(&buf, "  [%d] step %d: flush %s %s\n", i+1, event.Step, event.Outcome, event.Error)
			}
		}
	}
	return buf.String()
}

// matches reports whether change event e passes the assertion's
// dictionary, key and kind filters.
func (a Assertion) matches(e TraceEvent) bool {
	return (a.Dictionary == "" || a.Dictionary == e.Dictionary) &&
		(a.Key == "" || a.Key == e.Key) &&
		(a.Kind == "" || a.Kind == e.Kind)
}

func (a Assertion) filterDesc() string {
	var parts []string
	if a.Kind != "" {
		parts = append(parts, "kind="+a.Kind)
	}
	if a.Dictionary != "" {
		parts = append(parts, "dictionary="+a.Dictionary)
	}
	if a.Key != "" {
		parts = append(parts, "key="+a.Key)
	}
	if len(parts) == 0 {
		return "any change"
	}
	return strings.Join(parts, " ")
}

// assertTraceContains checks that a change matching the filters was published.
func assertTraceContains(result *Result, a Assertion) error {
	for _, e := range result.changes() {
		if a.matches(e) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.filterDesc(),
		Actual:   "not found in trace",
		Trace:    result.Trace,
	}
}

// assertTraceOrder checks that changes appear in the specified order.
// Changes don't need to be consecutive (intervening changes are allowed).
func assertTraceOrder(result *Result, a Assertion) error {
	changes := result.changes()
	pos := 0
	for _, want := range a.Changes {
		found := false
		for pos < len(changes) {
			got := changes[pos].describe()
			pos++
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("changes in order: %v", a.Changes),
				Actual:   fmt.Sprintf("%q missing or out of order", want),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count changes match the filters.
func assertTraceCount(result *Result, a Assertion) error {
	count := 0
	for _, e := range result.changes() {
		if a.matches(e) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d changes matching %s", a.Count, a.filterDesc()),
			Actual:   fmt.Sprintf("%d changes", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertFinalState checks the stored document against the expected data
// using subset semantics.
func assertFinalState(result *Result, a Assertion) error {
	data, found := result.State[a.Dictionary][a.Key]
	where := a.Dictionary + "/" + a.Key

	if a.Absent {
		if found {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("no document at %s", where),
				Actual:   fmt.Sprintf("document %v", data),
			}
		}
		return nil
	}
	if !found {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("document at %s", where),
			Actual:   "document not found",
		}
	}

	got, err := normalize(data)
	if err != nil {
		return err
	}
	if !matchFields(got, a.Expect) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s contains %v", where, a.Expect),
			Actual:   fmt.Sprintf("%v", data),
		}
	}
	return nil
}

// matchFields checks if actual contains all expected fields (subset match).
// Extra keys in actual are ignored. Both sides are compared in their JSON
// form.
func matchFields(actual any, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}

	actualMap, ok := actual.(map[string]any)
	if !ok {
		return false
	}

	for key, expectedVal := range expected {
		actualVal, exists := actualMap[key]
		if !exists {
			return false
		}
		want, err := normalize(expectedVal)
		if err != nil {
			return false
		}
		if !reflect.DeepEqual(actualVal, want) {
			return false
		}
	}
	return true
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result, assertion)
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
