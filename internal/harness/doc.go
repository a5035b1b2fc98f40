// Package harness runs conformance scenarios against a catalog of document
// dictionaries.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	dictionaries: [users]
//	codec: json
//	key_prefix: doc
//	setup:
//	  - {dictionary: users, kind: add, key: ada, data: {name: Ada}}
//	flow:
//	  - ops:
//	      - {dictionary: users, kind: add, key: bob}
//	      - {dictionary: users, kind: add, key: ada}
//	    expect:
//	      error: CONFLICT
//	      index: 1
//	assertions:
//	  - type: trace_contains
//	    dictionary: users
//	    key: ada
//	    kind: add
//	  - type: final_state
//	    dictionary: users
//	    key: ada
//	    expect: {name: Ada}
//
// Setup ops run as one batch that must commit. Each flow step is one
// atomic batch; its expect clause names the error code the batch must fail
// with, or subset-matches the per-op results of a committed batch.
//
// # Assertion Types
//
//   - trace_contains: a change with the given dictionary, key and kind was published
//   - trace_order: changes ("<kind> <dictionary>/<key>") were published in order
//   - trace_count: exactly N published changes match the given filters
//   - final_state: the stored document contains (or with absent, lacks) the given data
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory SQLite database with counting
// key generation (testutil.CountingKeys), so change sequence numbers and
// generated keys are identical across runs and traces can be compared
// against golden files.
package harness
