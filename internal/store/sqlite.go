package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/telecare-labs/callbridge/internal/models"
)

// SQLiteStore handles SQLite database operations. It implements both
// DataStore and Mailbox so a development deployment needs no Redis.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/callbridge.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/callbridge.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL CHECK (role IN ('patient','doctor')),
		name TEXT DEFAULT '',
		avatar_url TEXT DEFAULT '',
		token_hash TEXT UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS assignments (
		patient_id TEXT PRIMARY KEY REFERENCES users(id),
		doctor_id TEXT NOT NULL REFERENCES users(id),
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS call_sessions (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES users(id),
		doctor_id TEXT NOT NULL REFERENCES users(id),
		status TEXT NOT NULL CHECK (status IN ('ringing','active','ended','rejected','missed')),
		started_at DATETIME NOT NULL,
		answered_at DATETIME,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS signal_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		from_role TEXT NOT NULL,
		to_role TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_token_hash ON users(token_hash);
	CREATE INDEX IF NOT EXISTS idx_sessions_doctor_status ON call_sessions(doctor_id, status);
	CREATE INDEX IF NOT EXISTS idx_signals_inbox ON signal_messages(session_id, to_role, seq);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession creates a new ringing call session.
func (s *SQLiteStore) CreateSession(ctx context.Context, patientID, doctorID uuid.UUID, startedAt time.Time) (*models.CallSession, error) {
	id := uuid.New()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_sessions (id, patient_id, doctor_id, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), patientID.String(), doctorID.String(), models.StatusRinging, startedAt.UTC())
	if err != nil {
		return nil, err
	}

	return s.GetSession(ctx, id)
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id uuid.UUID) (*models.CallSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, patient_id, doctor_id, status, started_at, answered_at, ended_at
		FROM call_sessions WHERE id = ?
	`, id.String())

	sess, err := scanSessionSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

// TryTransition applies the conditional status write. The UPDATE's WHERE
// clause carries the expected prior status; the affected-row count decides
// the race.
func (s *SQLiteStore) TryTransition(ctx context.Context, id uuid.UUID, from, to models.CallStatus, at time.Time) (bool, error) {
	var res sql.Result
	var err error

	switch {
	case to == models.StatusActive:
		res, err = s.db.ExecContext(ctx, `
			UPDATE call_sessions SET status = ?, answered_at = ?
			WHERE id = ? AND status = ?
		`, to, at.UTC(), id.String(), from)
	case to.Terminal():
		res, err = s.db.ExecContext(ctx, `
			UPDATE call_sessions SET status = ?, ended_at = ?
			WHERE id = ? AND status = ?
		`, to, at.UTC(), id.String(), from)
	default:
		res, err = s.db.ExecContext(ctx, `
			UPDATE call_sessions SET status = ?
			WHERE id = ? AND status = ?
		`, to, id.String(), from)
	}
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListRinging retrieves ringing sessions for a doctor, newest first.
func (s *SQLiteStore) ListRinging(ctx context.Context, doctorID uuid.UUID) ([]models.CallSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, doctor_id, status, started_at, answered_at, ended_at
		FROM call_sessions
		WHERE doctor_id = ? AND status = ?
		ORDER BY started_at DESC
	`, doctorID.String(), models.StatusRinging)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSessionsSQLite(rows)
}

// ListTerminal retrieves a user's terminal sessions, newest first.
func (s *SQLiteStore) ListTerminal(ctx context.Context, userID uuid.UUID, role models.Role, limit int) ([]models.CallSession, error) {
	col := "patient_id"
	if role == models.RoleDoctor {
		col = "doctor_id"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, doctor_id, status, started_at, answered_at, ended_at
		FROM call_sessions
		WHERE `+col+` = ? AND status IN ('ended','rejected','missed')
		ORDER BY started_at DESC
		LIMIT ?
	`, userID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSessionsSQLite(rows)
}

// DeleteSession removes a session row. Returns false if no row matched.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM call_sessions WHERE id = ?`, id.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListTerminalIDs retrieves the IDs of a doctor's terminal sessions.
func (s *SQLiteStore) ListTerminalIDs(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM call_sessions
		WHERE doctor_id = ? AND status IN ('ended','rejected','missed')
	`, doctorID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		ids = append(ids, uuid.MustParse(idStr))
	}
	return ids, rows.Err()
}

// GetParticipant retrieves a user's display info.
func (s *SQLiteStore) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	p := &models.Participant{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, avatar_url, role FROM users WHERE id = ?
	`, id.String()).Scan(&idStr, &p.Name, &p.AvatarURL, &p.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.ID = uuid.MustParse(idStr)
	return p, nil
}

// AssignedDoctor resolves the doctor assigned to a patient.
func (s *SQLiteStore) AssignedDoctor(ctx context.Context, patientID uuid.UUID) (*models.Participant, error) {
	p := &models.Participant{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.avatar_url, u.role
		FROM assignments a JOIN users u ON u.id = a.doctor_id
		WHERE a.patient_id = ?
	`, patientID.String()).Scan(&idStr, &p.Name, &p.AvatarURL, &p.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.ID = uuid.MustParse(idStr)
	return p, nil
}

// GetIdentityByTokenHash resolves a bearer token's SHA-256 hash to the
// holder's identity.
func (s *SQLiteStore) GetIdentityByTokenHash(ctx context.Context, tokenHash string) (*models.Identity, error) {
	ident := &models.Identity{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, role, name FROM users WHERE token_hash = ?
	`, tokenHash).Scan(&idStr, &ident.Role, &ident.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	ident.UserID = uuid.MustParse(idStr)
	return ident, nil
}

// Append queues a signal for the recipient role. Mailbox implementation.
func (s *SQLiteStore) Append(ctx context.Context, msg *models.SignalMessage, to models.Role) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	payload, err := marshalPayload(&msg.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signal_messages (id, session_id, from_role, to_role, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID.String(), msg.From, to, payload, msg.Timestamp)
	return err
}

// PollOne fetches and deletes the oldest unconsumed message for role.
// Consumption is decided by the single-row DELETE: if a concurrent poller
// took the row first, the delete affects zero rows and we try the next one.
func (s *SQLiteStore) PollOne(ctx context.Context, sessionID uuid.UUID, role models.Role) (*models.SignalMessage, error) {
	for {
		var seq int64
		msg := &models.SignalMessage{SessionID: sessionID}
		var payload string

		err := s.db.QueryRowContext(ctx, `
			SELECT seq, id, from_role, payload, created_at
			FROM signal_messages
			WHERE session_id = ? AND to_role = ?
			ORDER BY seq LIMIT 1
		`, sessionID.String(), role).Scan(&seq, &msg.ID, &msg.From, &payload, &msg.Timestamp)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, err
		}

		res, err := s.db.ExecContext(ctx, `DELETE FROM signal_messages WHERE seq = ?`, seq)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue // lost the row to a concurrent poll
		}

		if err := unmarshalPayload(payload, &msg.Payload); err != nil {
			return nil, err
		}
		return msg, nil
	}
}

// Purge drops all queued signals for a session.
func (s *SQLiteStore) Purge(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM signal_messages WHERE session_id = ?`, sessionID.String())
	return err
}

// SeedUser inserts a user with a pre-hashed token. Development helper used
// by the seed path in cmd/server.
func (s *SQLiteStore) SeedUser(ctx context.Context, id uuid.UUID, role models.Role, name, avatarURL, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (id, role, name, avatar_url, token_hash)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), role, name, avatarURL, tokenHash)
	return err
}

// SeedAssignment links a patient to their doctor. Development helper.
func (s *SQLiteStore) SeedAssignment(ctx context.Context, patientID, doctorID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO assignments (patient_id, doctor_id) VALUES (?, ?)
	`, patientID.String(), doctorID.String())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionSQLite(row rowScanner) (*models.CallSession, error) {
	sess := &models.CallSession{}
	var idStr, patientStr, doctorStr string
	err := row.Scan(
		&idStr,
		&patientStr,
		&doctorStr,
		&sess.Status,
		&sess.StartedAt,
		&sess.AnsweredAt,
		&sess.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	sess.ID = uuid.MustParse(idStr)
	sess.PatientID = uuid.MustParse(patientStr)
	sess.DoctorID = uuid.MustParse(doctorStr)
	return sess, nil
}

func collectSessionsSQLite(rows *sql.Rows) ([]models.CallSession, error) {
	var sessions []models.CallSession
	for rows.Next() {
		sess, err := scanSessionSQLite(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}
