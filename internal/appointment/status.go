package appointment

import "fmt"

// allowedTransitions is the whole status lifecycle:
//
//	Scheduled -> Confirmed -> Cancelled
//	Scheduled -> Cancelled
//
// Cancelled is terminal.
var allowedTransitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled},
	StatusCancelled: {},
}

// Transition checks that an appointment in current may move to target.
// Moving to the status it already has is a no-op and always allowed.
func Transition(current, target Status) error {
	if current == target {
		return nil
	}
	for _, s := range allowedTransitions[current] {
		if s == target {
			return nil
		}
	}
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("Cannot change appointment status from %s to %s", current, target),
	}
}
