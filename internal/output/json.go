// Package output implements the verifier's machine-readable side
// outputs: JSON and CBOR serializations of a verification Report.
// These do not influence verification semantics — internal/verify never
// imports this package — they only render a *verify.Report already
// produced by the core engine.
//
// Every JSON document Marshal emits is checked, before being returned,
// against its own embedded schema via santhosh-tekuri/jsonschema/v5; the
// CBOR encoding (EncodeCBOR) is not schema-validated. A
// result document that fails its own schema indicates a bug in this
// package, not in the caller's model, so Marshal returns that as an
// *output.SchemaError rather than silently emitting malformed JSON.
package output

import (
	"encoding/json"
	"fmt"
)

// QueryReport is one query's rendered verdict.
type QueryReport struct {
	Kind          string               `json:"kind"`
	Resolved      bool                 `json:"resolved"`
	Holds         bool                 `json:"holds,omitempty"`
	Summary       string               `json:"summary,omitempty"`
	DisplayID     string               `json:"display_id,omitempty"`
	Preconditions []PreconditionReport `json:"preconditions,omitempty"`
}

// PreconditionReport is one evaluated precondition option.
type PreconditionReport struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Constant  string `json:"constant"`
	Held      bool   `json:"held"`
}

// VerifyReport is the top-level JSON document this package emits: the
// compact results code (the canonical regression oracle) alongside the
// human-readable per-query breakdown side outputs build on.
type VerifyReport struct {
	File     string        `json:"file"`
	Attacker string        `json:"attacker"`
	Code     string        `json:"code"`
	Version  string        `json:"version,omitempty"`
	Queries  []QueryReport `json:"queries"`
}

// SchemaError wraps a jsonschema validation failure against this
// package's own embedded schema.
type SchemaError struct{ Err error }

func (e *SchemaError) Error() string { return fmt.Sprintf("output: emitted document fails its own schema: %v", e.Err) }
func (e *SchemaError) Unwrap() error { return e.Err }

// Marshal renders doc as indented JSON, validating it against this
// package's embedded schema first.
func Marshal(doc VerifyReport) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("output: marshal: %w", err)
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("output: re-decode for validation: %w", err)
	}
	if err := resultsSchema.Validate(v); err != nil {
		return nil, &SchemaError{Err: err}
	}
	return json.MarshalIndent(doc, "", "  ")
}
