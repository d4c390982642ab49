package call

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare-labs/callbridge/internal/models"
	"github.com/telecare-labs/callbridge/internal/registry"
)

func newHistory(f *fixture) *History {
	return NewHistory(f.mem, f.mem, registry.New(f.mem, nil), zerolog.Nop())
}

func (f *fixture) endedSession(t *testing.T) *models.CallSession {
	t.Helper()
	ctx := context.Background()
	sess := f.initiate(t)
	if err := f.manager.Answer(ctx, sess.ID, f.doctor); err != nil {
		t.Fatalf("answer: %v", err)
	}
	f.clock.Advance(30 * time.Second)
	if err := f.manager.End(ctx, sess.ID, f.doctorIdent()); err != nil {
		t.Fatalf("end: %v", err)
	}
	return sess
}

func TestHistoryListsTerminalCalls(t *testing.T) {
	f := newFixture(t)
	h := newHistory(f)
	ctx := context.Background()

	sess := f.endedSession(t)
	f.clock.Advance(time.Second)
	live := f.initiate(t) // still ringing, must not appear

	entries, err := h.List(ctx, f.doctorIdent())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].SessionID != sess.ID {
		t.Fatalf("expected %s, got %s", sess.ID, entries[0].SessionID)
	}
	if entries[0].SessionID == live.ID {
		t.Fatal("live session leaked into history")
	}
	if entries[0].DurationSeconds != 30 {
		t.Fatalf("expected 30s duration, got %d", entries[0].DurationSeconds)
	}
	if entries[0].Peer.Name != "Pat" {
		t.Fatalf("doctor's history should show the patient, got %+v", entries[0].Peer)
	}
}

func TestDeleteRequiresTerminalState(t *testing.T) {
	f := newFixture(t)
	h := newHistory(f)
	sess := f.initiate(t)

	if err := h.Delete(context.Background(), sess.ID, f.doctorIdent()); err != ErrConflict {
		t.Fatalf("expected ErrConflict for live session, got %v", err)
	}
}

func TestDeleteRemovesSessionAndMailbox(t *testing.T) {
	f := newFixture(t)
	h := newHistory(f)
	ctx := context.Background()

	sess := f.initiate(t)
	offer := models.SignalPayload{Type: models.SignalOffer, SDP: "v=0"}
	if err := f.manager.SendSignal(ctx, sess.ID, f.patientIdent(), offer); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := f.manager.End(ctx, sess.ID, f.patientIdent()); err != nil {
		t.Fatalf("end: %v", err)
	}

	if err := h.Delete(ctx, sess.ID, f.doctorIdent()); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, _ := f.mem.GetSession(ctx, sess.ID)
	if got != nil {
		t.Fatal("session row should be gone")
	}
	sig, _ := f.mem.PollOne(ctx, sess.ID, models.RoleDoctor)
	if sig != nil {
		t.Fatal("mailbox should be purged with the session")
	}
}

func TestDeleteByPatientRejected(t *testing.T) {
	f := newFixture(t)
	h := newHistory(f)
	sess := f.endedSession(t)

	if err := h.Delete(context.Background(), sess.ID, f.patientIdent()); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestDeleteByOtherDoctorRejected(t *testing.T) {
	f := newFixture(t)
	h := newHistory(f)
	sess := f.endedSession(t)

	other := models.Identity{UserID: uuid.New(), Role: models.RoleDoctor}
	if err := h.Delete(context.Background(), sess.ID, other); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestClearAllDeletesOnlyTerminal(t *testing.T) {
	f := newFixture(t)
	h := newHistory(f)
	ctx := context.Background()

	f.endedSession(t)
	f.clock.Advance(time.Second)
	f.endedSession(t)
	f.clock.Advance(time.Second)
	live := f.initiate(t)

	cleared, err := h.ClearAll(ctx, f.doctorIdent())
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared != 2 {
		t.Fatalf("expected 2 cleared, got %d", cleared)
	}

	got, _ := f.mem.GetSession(ctx, live.ID)
	if got == nil {
		t.Fatal("ringing session must survive clear_all_history")
	}
}
