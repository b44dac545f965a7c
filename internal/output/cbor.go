package output

import (
	"crypto/sha256"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/opal-lang/verifpal-go/internal/verify"
)

// CanonicalDoc is the canonical CBOR sibling of VerifyReport: every slice the
// engine does not itself guarantee an order for is sorted here before
// encoding, so two serial runs of the same model produce byte-identical
// output regardless of map/goroutine iteration order: a CanonicalXxx
// struct with every field in a fixed, sorted order, CBOR-encoded, then
// hashed. Checking that two runs agree needs exactly this kind of
// byte-stable rendering.
type CanonicalDoc struct {
	File     string              `cbor:"file"`
	Attacker string              `cbor:"attacker"`
	Code     string              `cbor:"code"`
	Version  string              `cbor:"version"`
	Queries  []CanonicalQueryDoc `cbor:"queries"`
}

// CanonicalQueryDoc is one query's canonical verdict.
type CanonicalQueryDoc struct {
	Kind          string               `cbor:"kind"`
	Resolved      bool                 `cbor:"resolved"`
	Holds         bool                 `cbor:"holds"`
	DisplayID     string               `cbor:"display_id"`
	Preconditions []PreconditionReport `cbor:"preconditions"`
}

// ToCanonical builds the canonical form of r.
func ToCanonical(r *verify.Report) CanonicalDoc {
	doc := FromReport(r)
	out := CanonicalDoc{File: doc.File, Attacker: doc.Attacker, Code: doc.Code, Version: doc.Version}
	for _, q := range doc.Queries {
		preconds := append([]PreconditionReport(nil), q.Preconditions...)
		sort.Slice(preconds, func(i, j int) bool {
			if preconds[i].Sender != preconds[j].Sender {
				return preconds[i].Sender < preconds[j].Sender
			}
			if preconds[i].Recipient != preconds[j].Recipient {
				return preconds[i].Recipient < preconds[j].Recipient
			}
			return preconds[i].Constant < preconds[j].Constant
		})
		out.Queries = append(out.Queries, CanonicalQueryDoc{
			Kind: q.Kind, Resolved: q.Resolved, Holds: q.Holds, DisplayID: q.DisplayID, Preconditions: preconds,
		})
	}
	return out
}

// EncodeCBOR returns the canonical CBOR encoding of r, using the
// library's canonical encoding options (sorted map keys, no
// indefinite-length items) so the same Report always yields the same
// bytes.
func EncodeCBOR(r *verify.Report) ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(ToCanonical(r))
}

// Digest returns the sha256 digest of the canonical CBOR encoding of r,
// a compact fingerprint for comparing two verification runs of the same
// model (e.g. serial vs. parallel execution).
func Digest(r *verify.Report) ([32]byte, error) {
	b, err := EncodeCBOR(r)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}
