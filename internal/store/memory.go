package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/telecare-labs/callbridge/internal/models"
)

// MemoryStore is an in-process implementation of DataStore and Mailbox.
// A single mutex stands in for the database's row-level atomicity, so
// TryTransition keeps the same compare-and-swap semantics the SQL stores
// get from their conditional UPDATE. Used by tests and ephemeral dev runs.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*models.CallSession
	inboxes     map[string][]*models.SignalMessage // key session|role
	users       map[uuid.UUID]*models.Participant
	assignments map[uuid.UUID]uuid.UUID // patient -> doctor
	tokens      map[string]*models.Identity
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[uuid.UUID]*models.CallSession),
		inboxes:     make(map[string][]*models.SignalMessage),
		users:       make(map[uuid.UUID]*models.Participant),
		assignments: make(map[uuid.UUID]uuid.UUID),
		tokens:      make(map[string]*models.Identity),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// AddUser registers a participant, optionally reachable via tokenHash.
func (s *MemoryStore) AddUser(p models.Participant, tokenHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.users[p.ID] = &cp
	if tokenHash != "" {
		s.tokens[tokenHash] = &models.Identity{UserID: p.ID, Role: p.Role, Name: p.Name}
	}
}

// AddAssignment links a patient to their doctor.
func (s *MemoryStore) AddAssignment(patientID, doctorID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[patientID] = doctorID
}

// CreateSession creates a new ringing call session.
func (s *MemoryStore) CreateSession(ctx context.Context, patientID, doctorID uuid.UUID, startedAt time.Time) (*models.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &models.CallSession{
		ID:        uuid.New(),
		PatientID: patientID,
		DoctorID:  doctorID,
		Status:    models.StatusRinging,
		StartedAt: startedAt.UTC(),
	}
	s.sessions[sess.ID] = sess
	out := *sess
	return &out, nil
}

// GetSession retrieves a session by ID, (nil, nil) when absent.
func (s *MemoryStore) GetSession(ctx context.Context, id uuid.UUID) (*models.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	out := *sess
	return &out, nil
}

// TryTransition applies the conditional status write under the store lock.
func (s *MemoryStore) TryTransition(ctx context.Context, id uuid.UUID, from, to models.CallStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status != from {
		return false, nil
	}

	sess.Status = to
	at = at.UTC()
	switch {
	case to == models.StatusActive:
		sess.AnsweredAt = &at
	case to.Terminal():
		sess.EndedAt = &at
	}
	return true, nil
}

// ListRinging retrieves ringing sessions for a doctor, newest first.
func (s *MemoryStore) ListRinging(ctx context.Context, doctorID uuid.UUID) ([]models.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.CallSession
	for _, sess := range s.sessions {
		if sess.DoctorID == doctorID && sess.Status == models.StatusRinging {
			out = append(out, *sess)
		}
	}
	sortByStartedAtDesc(out)
	return out, nil
}

// ListTerminal retrieves a user's terminal sessions, newest first.
func (s *MemoryStore) ListTerminal(ctx context.Context, userID uuid.UUID, role models.Role, limit int) ([]models.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.CallSession
	for _, sess := range s.sessions {
		if !sess.Status.Terminal() || !sess.Participant(userID, role) {
			continue
		}
		out = append(out, *sess)
	}
	sortByStartedAtDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteSession removes a session row.
func (s *MemoryStore) DeleteSession(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

// ListTerminalIDs retrieves the IDs of a doctor's terminal sessions.
func (s *MemoryStore) ListTerminalIDs(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, sess := range s.sessions {
		if sess.DoctorID == doctorID && sess.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// GetParticipant retrieves a user's display info.
func (s *MemoryStore) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

// AssignedDoctor resolves the doctor assigned to a patient.
func (s *MemoryStore) AssignedDoctor(ctx context.Context, patientID uuid.UUID) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doctorID, ok := s.assignments[patientID]
	if !ok {
		return nil, nil
	}
	p, ok := s.users[doctorID]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

// GetIdentityByTokenHash resolves a hashed bearer token.
func (s *MemoryStore) GetIdentityByTokenHash(ctx context.Context, tokenHash string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.tokens[tokenHash]
	if !ok {
		return nil, nil
	}
	out := *ident
	return &out, nil
}

func memInboxKey(sessionID uuid.UUID, role models.Role) string {
	return sessionID.String() + "|" + string(role)
}

// Append queues a signal for the recipient role.
func (s *MemoryStore) Append(ctx context.Context, msg *models.SignalMessage, to models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	cp := *msg
	key := memInboxKey(msg.SessionID, to)
	s.inboxes[key] = append(s.inboxes[key], &cp)
	return nil
}

// PollOne pops the oldest unconsumed message for role.
func (s *MemoryStore) PollOne(ctx context.Context, sessionID uuid.UUID, role models.Role) (*models.SignalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memInboxKey(sessionID, role)
	queue := s.inboxes[key]
	if len(queue) == 0 {
		return nil, nil
	}
	msg := queue[0]
	s.inboxes[key] = queue[1:]
	out := *msg
	return &out, nil
}

// Purge drops both recipients' queues for a session.
func (s *MemoryStore) Purge(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inboxes, memInboxKey(sessionID, models.RolePatient))
	delete(s.inboxes, memInboxKey(sessionID, models.RoleDoctor))
	return nil
}

func sortByStartedAtDesc(sessions []models.CallSession) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
}
