package domain

import "fmt"

// Allowed status transitions. Deleting is terminal; everything may enter
// it (removal is valid from any live state), nothing leaves it.
var transitions = map[MappingStatus][]MappingStatus{
	StatusPendingVerification: {StatusActive, StatusError, StatusDeleting},
	StatusActive:              {StatusError, StatusDeleting},
	StatusError:               {StatusActive, StatusPendingVerification, StatusDeleting},
	StatusDeleting:            {},
}

func CanTransition(from, to MappingStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition mutates the mapping's status or fails with
// ErrInvalidTransition, leaving the mapping untouched. It never silently
// no-ops an illegal move.
func Transition(m *Mapping, to MappingStatus) error {
	if !CanTransition(m.Status, to) {
		return fmt.Errorf("%w: %s -> %s for mapping %s", ErrInvalidTransition, m.Status, to, m.Name)
	}
	m.Status = to
	return nil
}
