package models

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a call session.
type CallStatus string

const (
	StatusRinging  CallStatus = "ringing"
	StatusActive   CallStatus = "active"
	StatusEnded    CallStatus = "ended"
	StatusRejected CallStatus = "rejected"
	StatusMissed   CallStatus = "missed"
)

// Terminal reports whether the status is final. Terminal sessions accept no
// further transitions and reject new signals.
func (s CallStatus) Terminal() bool {
	return s == StatusEnded || s == StatusRejected || s == StatusMissed
}

// Role identifies which side of a call a participant is on.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RolePatient {
		return RoleDoctor
	}
	return RolePatient
}

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// CallSession is one call attempt between a patient and their assigned
// doctor. Status is mutated only through conditional transitions in the
// store; the row itself is never rewritten wholesale.
type CallSession struct {
	ID         uuid.UUID  `json:"session_id"`
	PatientID  uuid.UUID  `json:"patient_id"`
	DoctorID   uuid.UUID  `json:"doctor_id"`
	Status     CallStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Participant reports whether the given user takes part in the session
// under the given role.
func (s *CallSession) Participant(userID uuid.UUID, role Role) bool {
	switch role {
	case RolePatient:
		return s.PatientID == userID
	case RoleDoctor:
		return s.DoctorID == userID
	}
	return false
}

// DurationSeconds is the answered call time in whole seconds, 0 if the
// session was never answered or has not ended.
func (s *CallSession) DurationSeconds() int64 {
	if s.AnsweredAt == nil || s.EndedAt == nil {
		return 0
	}
	d := s.EndedAt.Sub(*s.AnsweredAt)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Identity is the authenticated caller of a gateway operation. It is
// resolved by the auth middleware and passed explicitly into every
// operation; there is no ambient session state.
type Identity struct {
	UserID uuid.UUID
	Role   Role
	Name   string
}

// Participant is the display info attached to call lists and history.
type Participant struct {
	ID        uuid.UUID `json:"user_id"`
	Name      string    `json:"user_name"`
	AvatarURL string    `json:"user_avatar"`
	Role      Role      `json:"-"`
}
