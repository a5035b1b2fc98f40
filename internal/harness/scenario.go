package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/txdict/internal/catalog"
)

// Scenario defines a conformance test scenario: batches of ops applied to
// a fresh catalog, with expectations on their outcomes, the published
// changes and the final documents.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Dictionaries lists the dictionaries to register.
	Dictionaries []string `yaml:"dictionaries"`

	// Codec is the record codec ("json" or "msgpack"). Defaults to json.
	Codec string `yaml:"codec,omitempty"`

	// KeyPrefix prefixes generated keys ("<prefix>-0001"). Defaults to "key".
	KeyPrefix string `yaml:"key_prefix,omitempty"`

	// Setup ops are applied as one batch before the flow and must commit.
	Setup []catalog.Op `yaml:"setup,omitempty"`

	// Flow contains the batches under test.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one atomic batch.
type FlowStep struct {
	Ops []catalog.Op `yaml:"ops"`

	// Expect specifies the expected outcome.
	// If nil, the batch must commit.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a batch.
type ExpectClause struct {
	// Error is the expected error code (e.g. "CONFLICT"). Empty means the
	// batch must commit.
	Error string `yaml:"error,omitempty"`

	// Index is the expected index of the failing op. Only checked with Error.
	Index *int `yaml:"index,omitempty"`

	// Results subset-match the per-op results of a committed batch, in
	// order. Fields: key, intent, kind, succeeded, old, new.
	Results []map[string]any `yaml:"results,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a change matching dictionary/key/kind was published
	// - "trace_order": Changes were published in this order
	// - "trace_count": exactly Count changes match dictionary/key/kind
	// - "final_state": the document at dictionary/key contains Expect
	Type string `yaml:"type"`

	// Dictionary, Key and Kind filter changes (trace_*) or address a
	// document (final_state). Empty filters match everything.
	Dictionary string `yaml:"dictionary,omitempty"`
	Key        string `yaml:"key,omitempty"`
	Kind       string `yaml:"kind,omitempty"`

	// Changes is the expected change order (used by trace_order), each as
	// "<kind> <dictionary>/<key>".
	Changes []string `yaml:"changes,omitempty"`

	// Count is the expected number of matching changes (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Expect contains expected data fields (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts the document does not exist (used by final_state).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario from YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Dictionaries) == 0 {
		return fmt.Errorf("dictionaries list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if len(step.Ops) == 0 {
			return fmt.Errorf("flow[%d]: ops is required", i)
		}
		if step.Expect != nil && step.Expect.Error != "" && len(step.Expect.Results) > 0 {
			return fmt.Errorf("flow[%d].expect: error and results are mutually exclusive", i)
		}
		if step.Expect != nil && step.Expect.Index != nil && step.Expect.Error == "" {
			return fmt.Errorf("flow[%d].expect: index requires error", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Dictionary == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: dictionary and key are required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Changes) == 0 {
			return fmt.Errorf("assertions[%d]: changes list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Dictionary == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: dictionary and key are required for final_state", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
