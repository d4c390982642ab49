package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare-labs/callbridge/internal/models"
	"github.com/telecare-labs/callbridge/internal/registry"
	"github.com/telecare-labs/callbridge/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	manager *Manager
	mem     *store.MemoryStore
	clock   *testClock
	patient uuid.UUID
	doctor  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := store.NewMemoryStore()
	patient := uuid.New()
	doctor := uuid.New()
	mem.AddUser(models.Participant{ID: patient, Name: "Pat", Role: models.RolePatient}, "")
	mem.AddUser(models.Participant{ID: doctor, Name: "Dr. Who", Role: models.RoleDoctor}, "")
	mem.AddAssignment(patient, doctor)

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	manager := NewManager(mem, mem, registry.New(mem, nil), 60*time.Second, zerolog.Nop())
	manager.now = clock.Now

	return &fixture{manager: manager, mem: mem, clock: clock, patient: patient, doctor: doctor}
}

func (f *fixture) patientIdent() models.Identity {
	return models.Identity{UserID: f.patient, Role: models.RolePatient}
}

func (f *fixture) doctorIdent() models.Identity {
	return models.Identity{UserID: f.doctor, Role: models.RoleDoctor}
}

func (f *fixture) initiate(t *testing.T) *models.CallSession {
	t.Helper()
	sess, err := f.manager.Initiate(context.Background(), f.patient)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return sess
}

func TestInitiateCreatesRingingSession(t *testing.T) {
	f := newFixture(t)

	sess := f.initiate(t)
	if sess.Status != models.StatusRinging {
		t.Fatalf("expected ringing, got %s", sess.Status)
	}
	if sess.DoctorID != f.doctor {
		t.Fatalf("expected assigned doctor %s, got %s", f.doctor, sess.DoctorID)
	}
}

func TestInitiateWithoutAssignedDoctor(t *testing.T) {
	f := newFixture(t)
	stranger := uuid.New()
	f.mem.AddUser(models.Participant{ID: stranger, Role: models.RolePatient}, "")

	_, err := f.manager.Initiate(context.Background(), stranger)
	if err != ErrNoDoctorAssigned {
		t.Fatalf("expected ErrNoDoctorAssigned, got %v", err)
	}
}

func TestAnswerActivatesCall(t *testing.T) {
	f := newFixture(t)
	sess := f.initiate(t)

	if err := f.manager.Answer(context.Background(), sess.ID, f.doctor); err != nil {
		t.Fatalf("answer: %v", err)
	}

	got, _, err := f.manager.Status(context.Background(), sess.ID, f.patientIdent())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.Status != models.StatusActive {
		t.Fatalf("expected active, got %s", got.Status)
	}
	if got.AnsweredAt == nil {
		t.Fatal("expected answered_at to be set")
	}
}

func TestAnswerByWrongDoctor(t *testing.T) {
	f := newFixture(t)
	sess := f.initiate(t)

	if err := f.manager.Answer(context.Background(), sess.ID, uuid.New()); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAnswerUnknownSession(t *testing.T) {
	f := newFixture(t)

	if err := f.manager.Answer(context.Background(), uuid.New(), f.doctor); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Two answer attempts racing on the same ringing session: exactly one wins,
// the other sees ErrConflict. Same doctor, two tabs.
func TestConcurrentAnswerExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	sess := f.initiate(t)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.manager.Answer(context.Background(), sess.ID, f.doctor)
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch err {
		case nil:
			wins++
		case ErrConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected 1 win and 1 conflict, got %d wins, %d conflicts", wins, conflicts)
	}
}

func TestAnswerAfterRejectConflicts(t *testing.T) {
	f := newFixture(t)
	sess := f.initiate(t)

	if err := f.manager.Reject(context.Background(), sess.ID, f.doctor); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := f.manager.Answer(context.Background(), sess.ID, f.doctor); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

// Terminal states absorb: once a session reaches ended/rejected/missed, no
// sequence of operations moves it anywhere else.
func TestTerminalStatesAbsorb(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.initiate(t)

	if err := f.manager.Reject(ctx, sess.ID, f.doctor); err != nil {
		t.Fatalf("reject: %v", err)
	}

	f.manager.Answer(ctx, sess.ID, f.doctor)
	f.manager.Reject(ctx, sess.ID, f.doctor)
	f.manager.End(ctx, sess.ID, f.patientIdent())

	got, _ := f.mem.GetSession(ctx, sess.ID)
	if got.Status != models.StatusRejected {
		t.Fatalf("terminal state moved: expected rejected, got %s", got.Status)
	}
}

func TestRingTimeoutExpiresLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.initiate(t)

	f.clock.Advance(61 * time.Second)

	// Doctor's poll no longer lists the call.
	incoming, err := f.manager.Incoming(ctx, f.doctor)
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if len(incoming) != 0 {
		t.Fatalf("expected no incoming calls, got %d", len(incoming))
	}

	// Patient's poll reports missed, repeatedly and without flapping.
	for i := 0; i < 3; i++ {
		got, _, err := f.manager.Status(ctx, sess.ID, f.patientIdent())
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if got.Status != models.StatusMissed {
			t.Fatalf("poll %d: expected missed, got %s", i, got.Status)
		}
	}
}

func TestAnswerExpiredCall(t *testing.T) {
	f := newFixture(t)
	sess := f.initiate(t)

	f.clock.Advance(61 * time.Second)

	if err := f.manager.Answer(context.Background(), sess.ID, f.doctor); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRingWithinTimeoutStaysRinging(t *testing.T) {
	f := newFixture(t)
	sess := f.initiate(t)

	f.clock.Advance(59 * time.Second)

	got, _, err := f.manager.Status(context.Background(), sess.ID, f.patientIdent())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.Status != models.StatusRinging {
		t.Fatalf("expected ringing, got %s", got.Status)
	}
}

func TestEndActiveCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.initiate(t)

	if err := f.manager.Answer(ctx, sess.ID, f.doctor); err != nil {
		t.Fatalf("answer: %v", err)
	}
	f.clock.Advance(90 * time.Second)
	if err := f.manager.End(ctx, sess.ID, f.doctorIdent()); err != nil {
		t.Fatalf("end: %v", err)
	}

	got, _ := f.mem.GetSession(ctx, sess.ID)
	if got.Status != models.StatusEnded {
		t.Fatalf("expected ended, got %s", got.Status)
	}
	if got.DurationSeconds() != 90 {
		t.Fatalf("expected 90s duration, got %d", got.DurationSeconds())
	}
}

func TestEndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.initiate(t)

	if err := f.manager.Answer(ctx, sess.ID, f.doctor); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := f.manager.End(ctx, sess.ID, f.patientIdent()); err != nil {
		t.Fatalf("first end: %v", err)
	}
	if err := f.manager.End(ctx, sess.ID, f.patientIdent()); err != nil {
		t.Fatalf("second end should be a no-op success, got %v", err)
	}
}

func TestPatientCancelsBeforePickup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.initiate(t)

	if err := f.manager.End(ctx, sess.ID, f.patientIdent()); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, _ := f.mem.GetSession(ctx, sess.ID)
	if got.Status != models.StatusEnded {
		t.Fatalf("expected ended, got %s", got.Status)
	}
	if got.DurationSeconds() != 0 {
		t.Fatalf("never-answered call should have 0 duration, got %d", got.DurationSeconds())
	}
}

func TestEndByNonParticipant(t *testing.T) {
	f := newFixture(t)
	sess := f.initiate(t)

	outsider := models.Identity{UserID: uuid.New(), Role: models.RoleDoctor}
	if err := f.manager.End(context.Background(), sess.ID, outsider); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSignalsDeliveredInSendOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.initiate(t)

	offer := models.SignalPayload{Type: models.SignalOffer, SDP: "v=0 offer"}
	if err := f.manager.SendSignal(ctx, sess.ID, f.patientIdent(), offer); err != nil {
		t.Fatalf("send offer: %v", err)
	}
	if err := f.manager.Answer(ctx, sess.ID, f.doctor); err != nil {
		t.Fatalf("answer: %v", err)
	}
	answer := models.SignalPayload{Type: models.SignalAnswer, SDP: "v=0 answer"}
	if err := f.manager.SendSignal(ctx, sess.ID, f.doctorIdent(), answer); err != nil {
		t.Fatalf("send answer: %v", err)
	}
	ice := models.SignalPayload{Type: models.SignalICECandidate, Candidate: []byte(`{"candidate":"udp 1"}`)}
	if err := f.manager.SendSignal(ctx, sess.ID, f.doctorIdent(), ice); err != nil {
		t.Fatalf("send ice: %v", err)
	}

	// Doctor receives the patient's offer.
	_, sig, err := f.manager.Status(ctx, sess.ID, f.doctorIdent())
	if err != nil {
		t.Fatalf("doctor status: %v", err)
	}
	if sig == nil || sig.Payload.Type != models.SignalOffer {
		t.Fatalf("expected offer, got %+v", sig)
	}

	// Patient polls twice: answer first, then ice, in send order.
	wantOrder := []models.SignalType{models.SignalAnswer, models.SignalICECandidate}
	for i, want := range wantOrder {
		_, sig, err := f.manager.Status(ctx, sess.ID, f.patientIdent())
		if err != nil {
			t.Fatalf("patient poll %d: %v", i, err)
		}
		if sig == nil || sig.Payload.Type != want {
			t.Fatalf("patient poll %d: expected %s, got %+v", i, want, sig)
		}
	}

	// Queue drained: absence of a signal is a normal outcome.
	_, sig, err = f.manager.Status(ctx, sess.ID, f.patientIdent())
	if err != nil {
		t.Fatalf("drain poll: %v", err)
	}
	if sig != nil {
		t.Fatalf("expected empty mailbox, got %+v", sig)
	}
}

func TestSignalRejectedAfterTermination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.initiate(t)

	if err := f.manager.End(ctx, sess.ID, f.patientIdent()); err != nil {
		t.Fatalf("end: %v", err)
	}

	ice := models.SignalPayload{Type: models.SignalICECandidate, Candidate: []byte(`{}`)}
	if err := f.manager.SendSignal(ctx, sess.ID, f.patientIdent(), ice); err != ErrSessionNotActive {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestSignalValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.initiate(t)

	bad := []models.SignalPayload{
		{Type: models.SignalOffer},                      // missing sdp
		{Type: models.SignalICECandidate},               // missing candidate
		{Type: "renegotiate", SDP: "v=0"},               // unknown type
	}
	for _, payload := range bad {
		err := f.manager.SendSignal(ctx, sess.ID, f.patientIdent(), payload)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("payload %+v: expected ErrValidation, got %v", payload, err)
		}
	}
}

func TestSignalFromNonParticipant(t *testing.T) {
	f := newFixture(t)
	sess := f.initiate(t)

	outsider := models.Identity{UserID: uuid.New(), Role: models.RolePatient}
	offer := models.SignalPayload{Type: models.SignalOffer, SDP: "v=0"}
	if err := f.manager.SendSignal(context.Background(), sess.ID, outsider, offer); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestIncomingListsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.initiate(t)
	f.clock.Advance(5 * time.Second)
	second := f.initiate(t)

	incoming, err := f.manager.Incoming(ctx, f.doctor)
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if len(incoming) != 2 {
		t.Fatalf("expected 2 incoming calls, got %d", len(incoming))
	}
	if incoming[0].SessionID != second.ID || incoming[1].SessionID != first.ID {
		t.Fatal("expected newest call first")
	}
	if incoming[0].Patient.Name != "Pat" {
		t.Fatalf("expected patient display info, got %+v", incoming[0].Patient)
	}
}
