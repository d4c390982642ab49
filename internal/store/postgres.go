package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare-labs/callbridge/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateSession creates a new ringing call session.
func (s *PostgresStore) CreateSession(ctx context.Context, patientID, doctorID uuid.UUID, startedAt time.Time) (*models.CallSession, error) {
	sess := &models.CallSession{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO call_sessions (patient_id, doctor_id, status, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, patient_id, doctor_id, status, started_at, answered_at, ended_at
	`, patientID, doctorID, models.StatusRinging, startedAt.UTC()).Scan(
		&sess.ID,
		&sess.PatientID,
		&sess.DoctorID,
		&sess.Status,
		&sess.StartedAt,
		&sess.AnsweredAt,
		&sess.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession retrieves a session by ID.
func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.CallSession, error) {
	sess := &models.CallSession{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, status, started_at, answered_at, ended_at
		FROM call_sessions WHERE id = $1
	`, id).Scan(
		&sess.ID,
		&sess.PatientID,
		&sess.DoctorID,
		&sess.Status,
		&sess.StartedAt,
		&sess.AnsweredAt,
		&sess.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

// TryTransition applies the conditional status write. The UPDATE's WHERE
// clause carries the expected prior status; the affected-row count decides
// the race.
func (s *PostgresStore) TryTransition(ctx context.Context, id uuid.UUID, from, to models.CallStatus, at time.Time) (bool, error) {
	var tag int64

	switch {
	case to == models.StatusActive:
		res, err := s.pool.Exec(ctx, `
			UPDATE call_sessions SET status = $1, answered_at = $2
			WHERE id = $3 AND status = $4
		`, to, at.UTC(), id, from)
		if err != nil {
			return false, err
		}
		tag = res.RowsAffected()
	case to.Terminal():
		res, err := s.pool.Exec(ctx, `
			UPDATE call_sessions SET status = $1, ended_at = $2
			WHERE id = $3 AND status = $4
		`, to, at.UTC(), id, from)
		if err != nil {
			return false, err
		}
		tag = res.RowsAffected()
	default:
		res, err := s.pool.Exec(ctx, `
			UPDATE call_sessions SET status = $1
			WHERE id = $2 AND status = $3
		`, to, id, from)
		if err != nil {
			return false, err
		}
		tag = res.RowsAffected()
	}

	return tag == 1, nil
}

// ListRinging retrieves ringing sessions for a doctor, newest first.
func (s *PostgresStore) ListRinging(ctx context.Context, doctorID uuid.UUID) ([]models.CallSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, patient_id, doctor_id, status, started_at, answered_at, ended_at
		FROM call_sessions
		WHERE doctor_id = $1 AND status = $2
		ORDER BY started_at DESC
	`, doctorID, models.StatusRinging)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSessionsPgx(rows)
}

// ListTerminal retrieves a user's terminal sessions, newest first.
func (s *PostgresStore) ListTerminal(ctx context.Context, userID uuid.UUID, role models.Role, limit int) ([]models.CallSession, error) {
	col := "patient_id"
	if role == models.RoleDoctor {
		col = "doctor_id"
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, patient_id, doctor_id, status, started_at, answered_at, ended_at
		FROM call_sessions
		WHERE `+col+` = $1 AND status IN ('ended','rejected','missed')
		ORDER BY started_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSessionsPgx(rows)
}

// DeleteSession removes a session row. Returns false if no row matched.
func (s *PostgresStore) DeleteSession(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.pool.Exec(ctx, `DELETE FROM call_sessions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

// ListTerminalIDs retrieves the IDs of a doctor's terminal sessions.
func (s *PostgresStore) ListTerminalIDs(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM call_sessions
		WHERE doctor_id = $1 AND status IN ('ended','rejected','missed')
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetParticipant retrieves a user's display info.
func (s *PostgresStore) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	p := &models.Participant{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, avatar_url, role FROM users WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.AvatarURL, &p.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// AssignedDoctor resolves the doctor assigned to a patient.
func (s *PostgresStore) AssignedDoctor(ctx context.Context, patientID uuid.UUID) (*models.Participant, error) {
	p := &models.Participant{}
	err := s.pool.QueryRow(ctx, `
		SELECT u.id, u.name, u.avatar_url, u.role
		FROM assignments a JOIN users u ON u.id = a.doctor_id
		WHERE a.patient_id = $1
	`, patientID).Scan(&p.ID, &p.Name, &p.AvatarURL, &p.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// GetIdentityByTokenHash resolves a bearer token's SHA-256 hash to the
// holder's identity.
func (s *PostgresStore) GetIdentityByTokenHash(ctx context.Context, tokenHash string) (*models.Identity, error) {
	ident := &models.Identity{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, role, name FROM users WHERE token_hash = $1
	`, tokenHash).Scan(&ident.UserID, &ident.Role, &ident.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ident, nil
}

func collectSessionsPgx(rows pgx.Rows) ([]models.CallSession, error) {
	var sessions []models.CallSession
	for rows.Next() {
		var sess models.CallSession
		err := rows.Scan(
			&sess.ID,
			&sess.PatientID,
			&sess.DoctorID,
			&sess.Status,
			&sess.StartedAt,
			&sess.AnsweredAt,
			&sess.EndedAt,
		)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
