package diag

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// DisplayID derives a short, stable human-facing identifier for an attack
// trace from its witness chain (the serialized form of the
// attacker.MutationRecord that produced it): an unkeyed BLAKE2b-128
// digest, of which the first 8 bytes are shown as hex after "atk-", so
// two independent verification runs that find "the same" attack — same
// sequence of slot diffs — report it under the same id, deriving the id
// from content rather than from an incrementing counter.
//
// This is unrelated to the 64-bit structural hash in internal/value: that
// one must respect DH-commutative equivalence so that equivalent symbolic
// values hash equal, which rules out a generic content hash. DisplayID has
// no such constraint — it only needs to be stable and collision-resistant
// over opaque witness bytes — so a real digest (rather than a bespoke
// one) is the right tool here.
func DisplayID(witness []byte) string {
	h, err := blake2b.New(16, nil) // 128-bit digest
	if err != nil {
		panic(err) // unreachable: size 16 is always valid for blake2b
	}
	h.Write(witness)
	return "atk-" + hex.EncodeToString(h.Sum(nil)[:8])
}
