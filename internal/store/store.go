package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/telecare-labs/callbridge/internal/models"
)

// DataStore defines the interface for persistent storage of call sessions,
// the patient/doctor registry, and call history. Both PostgresStore and
// SQLiteStore implement this interface.
//
// All status mutations go through TryTransition; row-level atomicity of
// that single conditional write is the only serialization mechanism in the
// system. Read methods return (nil, nil) when no row matches.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Session operations
	CreateSession(ctx context.Context, patientID, doctorID uuid.UUID, startedAt time.Time) (*models.CallSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.CallSession, error)
	// TryTransition performs a single conditional write: status moves from
	// `from` to `to` only if the row still holds `from`. Returns true only
	// if exactly one row was affected. `at` stamps answered_at when the
	// target is active, ended_at when the target is terminal.
	TryTransition(ctx context.Context, id uuid.UUID, from, to models.CallStatus, at time.Time) (bool, error)
	ListRinging(ctx context.Context, doctorID uuid.UUID) ([]models.CallSession, error)

	// History operations
	ListTerminal(ctx context.Context, userID uuid.UUID, role models.Role, limit int) ([]models.CallSession, error)
	DeleteSession(ctx context.Context, id uuid.UUID) (bool, error)
	ListTerminalIDs(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error)

	// Registry operations
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	AssignedDoctor(ctx context.Context, patientID uuid.UUID) (*models.Participant, error)
	GetIdentityByTokenHash(ctx context.Context, tokenHash string) (*models.Identity, error)
}

// Mailbox is the per-session, per-recipient FIFO queue of signaling
// payloads. RedisStore backs production; SQLiteStore implements it for
// single-node development deployments.
type Mailbox interface {
	// Append queues msg for the given recipient role of msg.SessionID.
	// Fills in msg.ID and msg.Timestamp if unset.
	Append(ctx context.Context, msg *models.SignalMessage, to models.Role) error
	// PollOne atomically fetches and deletes the oldest unconsumed message
	// addressed to role. Returns (nil, nil) when the queue is empty; an
	// empty queue is a normal polling outcome, not a failure.
	PollOne(ctx context.Context, sessionID uuid.UUID, role models.Role) (*models.SignalMessage, error)
	// Purge discards both recipients' queues for the session. Called when
	// a terminal session is deleted from history.
	Purge(ctx context.Context, sessionID uuid.UUID) error
}
