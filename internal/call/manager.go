package call

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare-labs/callbridge/internal/metrics"
	"github.com/telecare-labs/callbridge/internal/models"
	"github.com/telecare-labs/callbridge/internal/store"
)

// DefaultRingTimeout bounds how long a session may stay ringing before a
// read lazily marks it missed.
const DefaultRingTimeout = 60 * time.Second

// Directory resolves patient/doctor assignment and display info.
// Implemented by registry.Registry; kept narrow so tests can stub it.
type Directory interface {
	AssignedDoctor(ctx context.Context, patientID uuid.UUID) (*models.Participant, error)
	Participant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
}

// IncomingCall is one entry in a doctor's ringing-call list.
type IncomingCall struct {
	SessionID uuid.UUID `json:"session_id"`
	Patient   models.Participant
	StartedAt time.Time `json:"started_at"`
}

// Manager enforces the call state machine. Every status change is a single
// conditional write in the store; the manager never holds locks and never
// spans a read-then-write across two requests.
//
// State machine (ended/rejected/missed terminal):
//
//	ringing --answer(doctor)--> active
//	ringing --reject(doctor)--> rejected
//	ringing --timeout--------> missed   (lazy, evaluated on read)
//	ringing --cancel(patient)-> ended
//	active  --end(either)-----> ended
type Manager struct {
	db          store.DataStore
	mailbox     store.Mailbox
	directory   Directory
	ringTimeout time.Duration
	logger      zerolog.Logger

	now func() time.Time // injected for timeout tests
}

// NewManager creates a lifecycle manager. ringTimeout <= 0 selects
// DefaultRingTimeout.
func NewManager(db store.DataStore, mailbox store.Mailbox, directory Directory, ringTimeout time.Duration, logger zerolog.Logger) *Manager {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	return &Manager{
		db:          db,
		mailbox:     mailbox,
		directory:   directory,
		ringTimeout: ringTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// Initiate starts a call from patient to their assigned doctor and returns
// the new ringing session.
func (m *Manager) Initiate(ctx context.Context, patientID uuid.UUID) (*models.CallSession, error) {
	doctor, err := m.directory.AssignedDoctor(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("resolve doctor: %w", err)
	}
	if doctor == nil {
		return nil, ErrNoDoctorAssigned
	}

	sess, err := m.db.CreateSession(ctx, patientID, doctor.ID, m.now())
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.CallsInitiated.Inc()
	m.logger.Info().
		Str("session_id", sess.ID.String()).
		Str("patient_id", patientID.String()).
		Str("doctor_id", doctor.ID.String()).
		Msg("call initiated")

	return sess, nil
}

// Answer attempts the ringing→active transition on behalf of the doctor.
// Exactly one of two racing answers wins; the loser gets ErrConflict.
func (m *Manager) Answer(ctx context.Context, sessionID, doctorID uuid.UUID) error {
	sess, err := m.getFresh(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.DoctorID != doctorID {
		return ErrUnauthorized
	}
	if sess.Status == models.StatusMissed {
		return ErrExpired
	}
	if sess.Status != models.StatusRinging {
		return ErrConflict
	}

	ok, err := m.db.TryTransition(ctx, sessionID, models.StatusRinging, models.StatusActive, m.now())
	if err != nil {
		return fmt.Errorf("answer transition: %w", err)
	}
	if !ok {
		// Another actor got there first; normal under concurrent polling.
		metrics.TransitionConflicts.WithLabelValues("answer").Inc()
		m.logger.Info().Str("session_id", sessionID.String()).Msg("answer lost transition race")
		return ErrConflict
	}

	metrics.CallsAnswered.Inc()
	return nil
}

// Reject attempts the ringing→rejected transition on behalf of the doctor.
func (m *Manager) Reject(ctx context.Context, sessionID, doctorID uuid.UUID) error {
	sess, err := m.getFresh(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.DoctorID != doctorID {
		return ErrUnauthorized
	}
	if sess.Status == models.StatusMissed {
		return ErrExpired
	}
	if sess.Status != models.StatusRinging {
		return ErrConflict
	}

	ok, err := m.db.TryTransition(ctx, sessionID, models.StatusRinging, models.StatusRejected, m.now())
	if err != nil {
		return fmt.Errorf("reject transition: %w", err)
	}
	if !ok {
		metrics.TransitionConflicts.WithLabelValues("reject").Inc()
		m.logger.Info().Str("session_id", sessionID.String()).Msg("reject lost transition race")
		return ErrConflict
	}

	metrics.CallsRejected.Inc()
	return nil
}

// End terminates a session for either participant. An active call ends; a
// still-ringing call is a caller cancel and also ends. Ending an
// already-ended session is a no-op success.
func (m *Manager) End(ctx context.Context, sessionID uuid.UUID, ident models.Identity) error {
	sess, err := m.getFresh(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Participant(ident.UserID, ident.Role) {
		return ErrUnauthorized
	}
	if sess.Status == models.StatusEnded {
		return nil
	}

	now := m.now()
	ok, err := m.db.TryTransition(ctx, sessionID, models.StatusActive, models.StatusEnded, now)
	if err != nil {
		return fmt.Errorf("end transition: %w", err)
	}
	if !ok {
		// Never answered: the caller is cancelling before pickup.
		ok, err = m.db.TryTransition(ctx, sessionID, models.StatusRinging, models.StatusEnded, now)
		if err != nil {
			return fmt.Errorf("cancel transition: %w", err)
		}
	}
	if !ok {
		// Re-read to distinguish a concurrent end from a reject/miss.
		sess, err = m.db.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess != nil && sess.Status == models.StatusEnded {
			return nil
		}
		metrics.TransitionConflicts.WithLabelValues("end").Inc()
		return ErrConflict
	}

	metrics.CallsEnded.Inc()
	m.logger.Info().
		Str("session_id", sessionID.String()).
		Str("by", string(ident.Role)).
		Msg("call ended")
	return nil
}

// Status returns the session's current state plus at most one queued signal
// for the caller's role, combining both reads into a single round trip.
func (m *Manager) Status(ctx context.Context, sessionID uuid.UUID, ident models.Identity) (*models.CallSession, *models.SignalMessage, error) {
	sess, err := m.getFresh(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !sess.Participant(ident.UserID, ident.Role) {
		return nil, nil, ErrUnauthorized
	}

	sig, err := m.mailbox.PollOne(ctx, sessionID, ident.Role)
	if err != nil {
		return nil, nil, fmt.Errorf("poll mailbox: %w", err)
	}
	return sess, sig, nil
}

// SendSignal validates and queues a signaling payload for the opposite
// role. Terminal sessions reject signals so late SDP/ICE can't land on a
// dead call.
func (m *Manager) SendSignal(ctx context.Context, sessionID uuid.UUID, ident models.Identity, payload models.SignalPayload) error {
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	sess, err := m.getFresh(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Participant(ident.UserID, ident.Role) {
		return ErrUnauthorized
	}
	if sess.Status.Terminal() {
		return ErrSessionNotActive
	}

	msg := &models.SignalMessage{
		SessionID: sessionID,
		From:      ident.Role,
		Payload:   payload,
	}
	if err := m.mailbox.Append(ctx, msg, ident.Role.Peer()); err != nil {
		return fmt.Errorf("append signal: %w", err)
	}

	metrics.SignalsSent.WithLabelValues(string(payload.Type)).Inc()
	return nil
}

// Incoming lists a doctor's ringing sessions with patient display info,
// newest first, with lazy expiry applied to each candidate.
func (m *Manager) Incoming(ctx context.Context, doctorID uuid.UUID) ([]IncomingCall, error) {
	sessions, err := m.db.ListRinging(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list ringing: %w", err)
	}

	calls := make([]IncomingCall, 0, len(sessions))
	for i := range sessions {
		sess := &sessions[i]
		if err := m.expireIfStale(ctx, sess); err != nil {
			return nil, err
		}
		if sess.Status != models.StatusRinging {
			continue
		}

		patient, err := m.directory.Participant(ctx, sess.PatientID)
		if err != nil {
			return nil, fmt.Errorf("lookup patient: %w", err)
		}
		entry := IncomingCall{SessionID: sess.ID, StartedAt: sess.StartedAt}
		if patient != nil {
			entry.Patient = *patient
		}
		calls = append(calls, entry)
	}
	return calls, nil
}

// getFresh loads a session and applies lazy ring-timeout expiry before
// returning it. Every read path funnels through here.
func (m *Manager) getFresh(ctx context.Context, sessionID uuid.UUID) (*models.CallSession, error) {
	sess, err := m.db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if err := m.expireIfStale(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// expireIfStale performs the lazy ringing→missed transition when the ring
// timeout has elapsed. If the conditional write loses to a concurrent
// transition, the session is re-read; either outcome is correct and
// re-running the check on an already-missed session is a harmless no-op.
func (m *Manager) expireIfStale(ctx context.Context, sess *models.CallSession) error {
	if sess.Status != models.StatusRinging {
		return nil
	}
	now := m.now()
	if now.Sub(sess.StartedAt) <= m.ringTimeout {
		return nil
	}

	ok, err := m.db.TryTransition(ctx, sess.ID, models.StatusRinging, models.StatusMissed, now)
	if err != nil {
		return fmt.Errorf("expire transition: %w", err)
	}
	if ok {
		sess.Status = models.StatusMissed
		endedAt := now.UTC()
		sess.EndedAt = &endedAt
		metrics.CallsMissed.Inc()
		m.logger.Info().Str("session_id", sess.ID.String()).Msg("ring timeout, call missed")
		return nil
	}

	fresh, err := m.db.GetSession(ctx, sess.ID)
	if err != nil {
		return err
	}
	if fresh != nil {
		*sess = *fresh
	}
	return nil
}
