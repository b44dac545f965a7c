package search

// Budget bounds the active-attacker mutation search. Every field is
// independently tunable without changing the search's semantics, only
// its thoroughness/cost tradeoff.
type Budget struct {
	ExhaustionThreshold   int
	MaxStage              int
	MaxSubsetWeight       int
	MaxSubsetsPerWeight   int
	MaxWeight1Mutations   int
	MaxMutationsPerSubset int
	MaxFullProduct        int
	MaxScanBudget         int
}

// DefaultBudget holds the documented tunable defaults.
func DefaultBudget() Budget {
	return Budget{
		ExhaustionThreshold:   6,
		MaxStage:              10,
		MaxSubsetWeight:       3,
		MaxSubsetsPerWeight:   150,
		MaxWeight1Mutations:   150,
		MaxMutationsPerSubset: 50000,
		MaxFullProduct:        50000,
		MaxScanBudget:         80000,
	}
}
