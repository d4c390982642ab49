// Package registry fronts the patient/doctor directory: bearer-token
// authentication, patient↔doctor assignment, and participant display info.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/telecare-labs/callbridge/internal/models"
	"github.com/telecare-labs/callbridge/internal/store"
)

// Registry resolves identities and assignments over the data store, with a
// Redis cache in front of token lookups. redis may be nil in development.
type Registry struct {
	db    store.DataStore
	redis *store.RedisStore
}

// New creates a registry.
func New(db store.DataStore, redis *store.RedisStore) *Registry {
	return &Registry{db: db, redis: redis}
}

// HashToken returns the hex SHA-256 of a bearer token; tokens are stored
// and looked up only in hashed form.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Authenticate resolves a bearer token to the holder's identity. Returns
// (nil, nil) for unknown tokens.
func (r *Registry) Authenticate(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, nil
	}
	hash := HashToken(token)

	if r.redis != nil {
		if ident := r.redis.GetCachedIdentity(ctx, hash); ident != nil {
			return ident, nil
		}
	}

	ident, err := r.db.GetIdentityByTokenHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if ident != nil && r.redis != nil {
		r.redis.CacheIdentity(ctx, hash, ident)
	}
	return ident, nil
}

// AssignedDoctor resolves the doctor assigned to a patient, nil when the
// patient has none.
func (r *Registry) AssignedDoctor(ctx context.Context, patientID uuid.UUID) (*models.Participant, error) {
	return r.db.AssignedDoctor(ctx, patientID)
}

// Participant retrieves a user's display info, nil when unknown.
func (r *Registry) Participant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	return r.db.GetParticipant(ctx, id)
}
