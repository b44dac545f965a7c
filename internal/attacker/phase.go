package attacker

import (
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

// BeginPhase advances the attacker to phase and seeds it with every
// value that becomes attacker-visible at or before that phase: public
// constants referenced by at least one principal's local computations,
// and any wire-transmitted or explicitly leaked value whose earliest
// phase has arrived.
func (s *State) BeginPhase(phase int, t *trace.ProtocolTrace, principal *trace.PrincipalState) {
	s.mu.Lock()
	s.currentPhase = phase
	s.mu.Unlock()

	for i, sv := range principal.Values {
		meta := principal.Meta[i]
		c, isConst := value.IsConstant(sv.Assigned)

		if isConst && c.Qualifier == value.QualPublic {
			if !earliestPhaseReached(meta.Phase, phase) {
				continue
			}
			if !t.UsedByAny(meta.Constant.ID) {
				continue
			}
			s.Put(sv.Assigned, principal)
			continue
		}

		// Leaked values become attacker-visible at their leak phase even
		// when they never cross a wire; the trace slot carries the
		// transmit-or-leak phase set the declaring meta does not.
		if meta.Constant.Leaked {
			if idx := t.SlotIndex(meta.Constant.ID); idx >= 0 && earliestPhaseReached(t.Slots[idx].Phases, phase) {
				s.Put(meta.Constant, principal)
				s.Put(sv.Assigned, principal)
				continue
			}
		}

		if len(meta.Wire) == 0 {
			continue
		}
		// Gate on the trace slot's transmit phases, not this meta's
		// declaration phase: a value declared early but only sent in a
		// later phase must stay invisible until that phase arrives.
		if idx := t.SlotIndex(meta.Constant.ID); idx >= 0 {
			if !earliestPhaseReached(t.Slots[idx].Phases, phase) {
				continue
			}
		} else if !earliestPhaseReached(meta.Phase, phase) {
			continue
		}
		// Both the handle and the observed value: the mutation map keys
		// attackable slots by known constant, while the deduction rules
		// work over the resolved form it names.
		s.Put(meta.Constant, principal)
		s.Put(sv.Assigned, principal)
	}
}

func earliestPhaseReached(phases map[int]bool, current int) bool {
	if len(phases) == 0 {
		return true
	}
	earliest := -1
	for p := range phases {
		if earliest == -1 || p < earliest {
			earliest = p
		}
	}
	return earliest <= current
}
