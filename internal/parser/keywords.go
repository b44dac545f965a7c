package parser

import "strings"

// Keywords recognized case-insensitively. Package construct also
// consults this set (via IsReserved) to reject user-declared names that
// collide with it.
var keywords = map[string]bool{
	"attacker":        true,
	"passive":         true,
	"active":          true,
	"principal":       true,
	"knows":           true,
	"generates":       true,
	"leaks":           true,
	"phase":           true,
	"public":          true,
	"private":         true,
	"password":        true,
	"queries":         true,
	"confidentiality": true,
	"authentication":  true,
	"freshness":       true,
	"unlinkability":   true,
	"equivalence":     true,
	"precondition":    true,
}

// primitiveNames maps the lower-cased surface spelling of a catalogue
// primitive to its canonical upper-case name. PW_HASH is accepted as an
// alias of PWHASH for readability; both resolve to the same catalogue id.
var primitiveNames = map[string]string{
	"assert":        "ASSERT",
	"concat":        "CONCAT",
	"split":         "SPLIT",
	"pwhash":        "PWHASH",
	"pw_hash":       "PWHASH",
	"hash":          "HASH",
	"hkdf":          "HKDF",
	"aead_enc":      "AEAD_ENC",
	"aead_dec":      "AEAD_DEC",
	"enc":           "ENC",
	"dec":           "DEC",
	"mac":           "MAC",
	"sign":          "SIGN",
	"signverif":     "SIGNVERIF",
	"pke_enc":       "PKE_ENC",
	"pke_dec":       "PKE_DEC",
	"shamir_split":  "SHAMIR_SPLIT",
	"shamir_join":   "SHAMIR_JOIN",
	"ringsign":      "RINGSIGN",
	"ringsignverif": "RINGSIGNVERIF",
	"blind":         "BLIND",
	"unblind":       "UNBLIND",
}

func lookupPrimitive(s string) (string, bool) {
	n, ok := primitiveNames[strings.ToLower(s)]
	return n, ok
}

// IsReserved reports whether name collides with a keyword or primitive
// name (case-insensitively), or with the fixed "g"/"nil"/"Attacker"
// identifiers — used by package construct to reject user-declared names.
func IsReserved(name string) bool {
	lower := strings.ToLower(name)
	if keywords[lower] || primitiveNames[lower] != "" {
		return true
	}
	return lower == "g" || lower == "nil" || lower == "attacker"
}
