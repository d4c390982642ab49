package call

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare-labs/callbridge/internal/models"
	"github.com/telecare-labs/callbridge/internal/store"
)

const historyLimit = 200

// HistoryEntry is one archived call in a participant's history.
type HistoryEntry struct {
	SessionID       uuid.UUID          `json:"session_id"`
	Peer            models.Participant `json:"peer"`
	Status          models.CallStatus  `json:"status"`
	StartedAt       time.Time          `json:"started_at"`
	DurationSeconds int64              `json:"duration_seconds"`
}

// History is the archival view over terminal sessions. Deleting a session
// here is the only physical deletion in the system, and it takes the
// session's mailbox with it.
type History struct {
	db        store.DataStore
	mailbox   store.Mailbox
	directory Directory
	logger    zerolog.Logger
}

// NewHistory creates the history component.
func NewHistory(db store.DataStore, mailbox store.Mailbox, directory Directory, logger zerolog.Logger) *History {
	return &History{db: db, mailbox: mailbox, directory: directory, logger: logger}
}

// List returns the caller's terminal sessions, newest first, with the
// peer's display info attached.
func (h *History) List(ctx context.Context, ident models.Identity) ([]HistoryEntry, error) {
	sessions, err := h.db.ListTerminal(ctx, ident.UserID, ident.Role, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("list terminal: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(sessions))
	for i := range sessions {
		sess := &sessions[i]
		peerID := sess.PatientID
		if ident.Role == models.RolePatient {
			peerID = sess.DoctorID
		}

		entry := HistoryEntry{
			SessionID:       sess.ID,
			Status:          sess.Status,
			StartedAt:       sess.StartedAt,
			DurationSeconds: sess.DurationSeconds(),
		}
		peer, err := h.directory.Participant(ctx, peerID)
		if err != nil {
			return nil, fmt.Errorf("lookup peer: %w", err)
		}
		if peer != nil {
			entry.Peer = *peer
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Delete removes one terminal session owned by the requesting doctor.
// Live sessions cannot be deleted; that path is End, not Delete.
func (h *History) Delete(ctx context.Context, callID uuid.UUID, ident models.Identity) error {
	if ident.Role != models.RoleDoctor {
		return ErrUnauthorized
	}

	sess, err := h.db.GetSession(ctx, callID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return ErrNotFound
	}
	if sess.DoctorID != ident.UserID {
		return ErrUnauthorized
	}
	if !sess.Status.Terminal() {
		return ErrConflict
	}

	deleted, err := h.db.DeleteSession(ctx, callID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}

	if err := h.mailbox.Purge(ctx, callID); err != nil {
		// The row is gone; a leftover queue only costs its TTL.
		h.logger.Warn().Err(err).Str("session_id", callID.String()).Msg("mailbox purge failed")
	}
	return nil
}

// ClearAll deletes every terminal session owned by the doctor and returns
// how many were removed.
func (h *History) ClearAll(ctx context.Context, ident models.Identity) (int, error) {
	if ident.Role != models.RoleDoctor {
		return 0, ErrUnauthorized
	}

	ids, err := h.db.ListTerminalIDs(ctx, ident.UserID)
	if err != nil {
		return 0, fmt.Errorf("list terminal ids: %w", err)
	}

	cleared := 0
	for _, id := range ids {
		deleted, err := h.db.DeleteSession(ctx, id)
		if err != nil {
			return cleared, fmt.Errorf("delete session: %w", err)
		}
		if !deleted {
			continue
		}
		cleared++
		if err := h.mailbox.Purge(ctx, id); err != nil {
			h.logger.Warn().Err(err).Str("session_id", id.String()).Msg("mailbox purge failed")
		}
	}

	h.logger.Info().
		Str("doctor_id", ident.UserID.String()).
		Int("cleared", cleared).
		Msg("call history cleared")
	return cleared, nil
}
