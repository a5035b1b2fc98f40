package harness

// Trace event types.
const (
	EventFlush  = "flush"
	EventChange = "change"
)

// Flush outcomes.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
)

// TraceEvent is one flush outcome or one published change.
type TraceEvent struct {
	Type string `json:"type"` // "flush" or "change"
	// Step is 0 for setup and 1-based for flow steps.
	Step int `json:"step"`

	// Flush fields.
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
	Index   *int   `json:"index,omitempty"`

	// Change fields.
	Batch      int64          `json:"batch,omitempty"`
	Seq        int64          `json:"seq,omitempty"`
	Dictionary string         `json:"dictionary,omitempty"`
	Key        string         `json:"key,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Old        map[string]any `json:"old,omitempty"`
	New        map[string]any `json:"new,omitempty"`
}

// describe renders a change event as "<kind> <dictionary>/<key>".
func (e TraceEvent) describe() string {
	return e.Kind + " " + e.Dictionary + "/" + e.Key
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains flush outcomes and published changes in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the final documents: dictionary -> key -> data.
	State map[string]map[string]map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]map[string]map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// changes returns the change events of the trace.
func (r *Result) changes() []TraceEvent {
	out := []TraceEvent{}
	for _, e := range r.Trace {
		if e.Type == EventChange {
			out = append(out, e)
		}
	}
	return out
}
