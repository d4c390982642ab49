package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// migrationSQL is the PostgreSQL schema. Statements are idempotent so the
// server can run them on every boot.
const migrationSQL = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	role TEXT NOT NULL CHECK (role IN ('patient','doctor')),
	name TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	token_hash TEXT UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS assignments (
	patient_id UUID PRIMARY KEY REFERENCES users(id),
	doctor_id UUID NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS call_sessions (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	patient_id UUID NOT NULL REFERENCES users(id),
	doctor_id UUID NOT NULL REFERENCES users(id),
	status TEXT NOT NULL CHECK (status IN ('ringing','active','ended','rejected','missed')),
	started_at TIMESTAMPTZ NOT NULL,
	answered_at TIMESTAMPTZ,
	ended_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_users_token_hash ON users(token_hash);
CREATE INDEX IF NOT EXISTS idx_sessions_doctor_status ON call_sessions(doctor_id, status);
CREATE INDEX IF NOT EXISTS idx_sessions_patient ON call_sessions(patient_id);
`

// RunMigrations applies the schema to the PostgreSQL database.
func RunMigrations(databaseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, migrationSQL)
	return err
}
