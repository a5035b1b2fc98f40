package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/txdict/internal/catalog"
	"github.com/roach88/txdict/internal/config"
	"github.com/roach88/txdict/internal/testutil"
	"github.com/roach88/txdict/internal/txdict"
)

// Harness is the test execution engine.
// It runs scenarios with deterministic key generation against a fresh
// in-memory catalog.
type Harness struct {
	catalog  *catalog.Catalog
	recorder *testutil.Recorder
	keys     *testutil.CountingKeys
	logger   *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Open a catalog over an in-memory SQLite database
// 2. Apply setup ops as one batch
// 3. Apply each flow step as one batch and check its expect clause
// 4. Capture final state and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Backend = config.Backend{Driver: "sqlite", DSN: ":memory:"}
	cfg.Dictionaries = scenario.Dictionaries
	if scenario.Codec != "" {
		cfg.Codec = scenario.Codec
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario configuration: %w", err)
	}

	h := &Harness{
		recorder: &testutil.Recorder{},
		keys:     testutil.NewCountingKeys(scenario.KeyPrefix),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	c, err := catalog.Open(ctx, cfg, catalog.Options{Logger: h.logger, Keys: h.keys})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer c.Close()
	h.catalog = c
	c.Database().Subscribe(h.recorder.Receive)

	result := NewResult()
	if len(scenario.Setup) > 0 {
		if _, err := h.apply(ctx, 0, scenario.Setup, result); err != nil {
			return nil, fmt.Errorf("failed to execute setup: %w", err)
		}
	}

	for i, step := range scenario.Flow {
		h.executeStep(ctx, i+1, step, result)
	}

	if err := h.captureState(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to capture final state: %w", err)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// apply runs one batch and appends its flush outcome and published changes
// to the trace.
func (h *Harness) apply(ctx context.Context, step int, ops []catalog.Op, result *Result) ([]catalog.OpResult, error) {
	results, err := h.catalog.Apply(ctx, ops)

	flush := TraceEvent{Type: EventFlush, Step: step, Outcome: OutcomeCommitted}
	if err != nil {
		flush.Outcome = OutcomeRolledBack
		flush.Error = errorCode(err)
		var te *txdict.Error
		if errors.As(err, &te) && te.Index >= 0 {
			idx := te.Index
			flush.Index = &idx
		}
	}
	result.Trace = append(result.Trace, flush)

	for _, b := range h.recorder.Drain() {
		for _, ch := range b.Changes {
			result.Trace = append(result.Trace, changeEvent(step, b.Seq, ch))
		}
	}
	return results, err
}

func (h *Harness) executeStep(ctx context.Context, step int, fs FlowStep, result *Result) {
	results, err := h.apply(ctx, step, fs.Ops, result)

	expect := fs.Expect
	if expect == nil {
		expect = &ExpectClause{}
	}

	if expect.Error != "" {
		if err == nil {
			result.AddError(fmt.Sprintf("flow[%d]: expected error %s, batch committed", step-1, expect.Error))
			return
		}
		if got := errorCode(err); got != expect.Error {
			result.AddError(fmt.Sprintf("flow[%d]: expected error %s, got %s (%v)", step-1, expect.Error, got, err))
			return
		}
		var te *txdict.Error
		if expect.Index != nil && (!errors.As(err, &te) || te.Index != *expect.Index) {
			result.AddError(fmt.Sprintf("flow[%d]: expected failing op %d, got error %v", step-1, *expect.Index, err))
		}
		return
	}

	if err != nil {
		result.AddError(fmt.Sprintf("flow[%d]: unexpected error: %v", step-1, err))
		return
	}
	if len(expect.Results) > len(results) {
		result.AddError(fmt.Sprintf("flow[%d]: expected %d results, got %d", step-1, len(expect.Results), len(results)))
		return
	}
	for j, want := range expect.Results {
		got, err := normalize(results[j])
		if err != nil {
			result.AddError(fmt.Sprintf("flow[%d].results[%d]: %v", step-1, j, err))
			continue
		}
		if !matchFields(got, want) {
			result.AddError(fmt.Sprintf("flow[%d].results[%d]: expected %v, got %v", step-1, j, want, got))
		}
	}
}

// captureState reads every document of every dictionary into result.State.
func (h *Harness) captureState(ctx context.Context, result *Result) error {
	for _, name := range h.catalog.Names() {
		docs, err := h.catalog.List(ctx, name)
		if err != nil {
			return err
		}
		state := make(map[string]map[string]any, len(docs))
		for _, doc := range docs {
			state[doc.Key] = doc.Data
		}
		result.State[name] = state
	}
	return nil
}

func changeEvent(step int, batch int64, ch txdict.Change) TraceEvent {
	return TraceEvent{
		Type:       EventChange,
		Step:       step,
		Batch:      batch,
		Seq:        ch.Seq,
		Dictionary: ch.Dictionary,
		Key:        ch.EncodedKey,
		Kind:       ch.Kind.String(),
		Old:        documentData(ch.Old),
		New:        documentData(ch.New),
	}
}

func documentData(v txdict.Optional[any]) map[string]any {
	raw, ok := v.Get()
	if !ok {
		return nil
	}
	doc, ok := raw.(*catalog.Document)
	if !ok || doc == nil {
		return nil
	}
	return doc.Data
}

func errorCode(err error) string {
	if code := txdict.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, catalog.ErrUnknownDictionary) || errors.Is(err, catalog.ErrInvalidOp) {
		return string(txdict.ErrCodeInvalid)
	}
	return "ERROR"
}

// normalize round-trips v through JSON so YAML-decoded expectations and
// actual values compare with the same number and map types.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
