package output

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/mod/semver"
)

// ReportFormatVersion is this binary's own understanding of the VerifyReport
// shape. It is bumped whenever QueryReport/VerifyReport gain or lose a
// required field.
const ReportFormatVersion = "v1.0.0"

// resultsSchemaVersion is the version the embedded schema below declares
// itself to describe, via its "version" const property. Kept as a
// separate constant (rather than parsed back out of the schema at compile
// time) so the two can be compared explicitly in init — the schema is the
// one artifact a future edit might update without also updating the Go
// version that's supposed to match it.
const resultsSchemaVersion = "v1.0.0"

// resultsSchemaSrc describes the document Marshal produces. Kept as a Go
// string (not a separate embedded file) since this package has no other
// assets and the schema is small enough to review alongside the code that
// must satisfy it.
const resultsSchemaSrc = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["file", "attacker", "code", "queries"],
	"properties": {
		"file": {"type": "string"},
		"attacker": {"type": "string", "enum": ["passive", "active"]},
		"code": {"type": "string"},
		"version": {"const": "` + resultsSchemaVersion + `"},
		"queries": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["kind", "resolved"],
				"properties": {
					"kind": {"type": "string", "enum": ["confidentiality", "authentication", "freshness", "unlinkability", "equivalence"]},
					"resolved": {"type": "boolean"},
					"holds": {"type": "boolean"},
					"summary": {"type": "string"},
					"display_id": {"type": "string"},
					"preconditions": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["sender", "recipient", "constant", "held"],
							"properties": {
								"sender": {"type": "string"},
								"recipient": {"type": "string"},
								"constant": {"type": "string"},
								"held": {"type": "boolean"}
							}
						}
					}
				}
			}
		}
	}
}`

var resultsSchema = mustCompileSchema(resultsSchemaSrc)

func mustCompileSchema(src string) *jsonschema.Schema {
	if semver.Compare(ReportFormatVersion, resultsSchemaVersion) != 0 {
		panic(fmt.Sprintf("output: report format %s and embedded schema %s have drifted apart", ReportFormatVersion, resultsSchemaVersion))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("results.json", bytes.NewReader([]byte(src))); err != nil {
		panic(fmt.Sprintf("output: invalid embedded schema: %v", err))
	}
	s, err := c.Compile("results.json")
	if err != nil {
		panic(fmt.Sprintf("output: embedded schema fails to compile: %v", err))
	}
	return s
}
