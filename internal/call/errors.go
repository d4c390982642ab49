package call

import "errors"

// Error taxonomy for call coordination. ErrConflict marks a lost transition
// race, which is an expected outcome under concurrent polling, not a fault.
var (
	ErrNotFound         = errors.New("call: session not found")
	ErrConflict         = errors.New("call: session no longer in expected state")
	ErrUnauthorized     = errors.New("call: caller is not a participant")
	ErrExpired          = errors.New("call: ring timeout elapsed")
	ErrSessionNotActive = errors.New("call: session is terminal, signal rejected")
	ErrValidation       = errors.New("call: malformed payload")
	ErrNoDoctorAssigned = errors.New("call: no doctor assigned to patient")
)
