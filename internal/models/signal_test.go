package models

import (
	"testing"
	"time"
)

func TestSignalPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload SignalPayload
		wantErr bool
	}{
		{"offer with sdp", SignalPayload{Type: SignalOffer, SDP: "v=0"}, false},
		{"answer with sdp", SignalPayload{Type: SignalAnswer, SDP: "v=0"}, false},
		{"ice with candidate", SignalPayload{Type: SignalICECandidate, Candidate: []byte(`{"candidate":"udp"}`)}, false},
		{"offer without sdp", SignalPayload{Type: SignalOffer}, true},
		{"answer without sdp", SignalPayload{Type: SignalAnswer}, true},
		{"ice without candidate", SignalPayload{Type: SignalICECandidate}, true},
		{"unknown type", SignalPayload{Type: "bye", SDP: "v=0"}, true},
		{"empty", SignalPayload{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCallStatusTerminal(t *testing.T) {
	terminal := []CallStatus{StatusEnded, StatusRejected, StatusMissed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []CallStatus{StatusRinging, StatusActive} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestRolePeer(t *testing.T) {
	if RolePatient.Peer() != RoleDoctor {
		t.Fatal("patient's peer should be doctor")
	}
	if RoleDoctor.Peer() != RolePatient {
		t.Fatal("doctor's peer should be patient")
	}
}

func TestDurationSeconds(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	answered := start.Add(10 * time.Second)
	ended := answered.Add(95 * time.Second)

	sess := CallSession{StartedAt: start, AnsweredAt: &answered, EndedAt: &ended}
	if got := sess.DurationSeconds(); got != 95 {
		t.Fatalf("expected 95, got %d", got)
	}

	never := CallSession{StartedAt: start, EndedAt: &ended}
	if got := never.DurationSeconds(); got != 0 {
		t.Fatalf("never-answered call: expected 0, got %d", got)
	}
}
