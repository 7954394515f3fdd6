package model

import "testing"

func TestSessionTransitionGraph(t *testing.T) {
	allowed := map[SessionStatus][]SessionStatus{
		SessionCreated:    {SessionPending, SessionExpired, SessionFailed},
		SessionPending:    {SessionPaid, SessionExpired, SessionFailed},
		SessionPaid:       {SessionProcessing, SessionFailed},
		SessionProcessing: {SessionFulfilled, SessionFailed},
		SessionFulfilled:  {SessionCompleted, SessionFailed},
	}

	for _, from := range SessionStatuses {
		for _, to := range SessionStatuses {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: expected %v, got %v", from, to, want, got)
			}
		}
	}
}

func TestSessionTerminalStatuses(t *testing.T) {
	for _, s := range SessionStatuses {
		terminal := s == SessionCompleted || s == SessionExpired || s == SessionFailed
		if s.IsTerminal() != terminal {
			t.Errorf("%s: expected terminal=%v", s, terminal)
		}
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if SessionStatus("UNKNOWN").Valid() {
		t.Fatalf("unknown status should be invalid")
	}
	if SessionPaid.Expirable() {
		t.Fatalf("PAID sessions must not be expirable")
	}
	if !SessionPending.Expirable() {
		t.Fatalf("PENDING sessions must be expirable")
	}
}

func TestCodeStatusNeverReturnsToAvailable(t *testing.T) {
	for _, from := range CodeStatuses {
		if from.CanTransitionTo(CodeAvailable) {
			t.Errorf("%s -> AVAILABLE must be rejected", from)
		}
		if from.IsTerminal() {
			for _, to := range CodeStatuses {
				if from.CanTransitionTo(to) {
					t.Errorf("terminal %s must have no successors, got %s", from, to)
				}
			}
		}
	}
	if !CodeAvailable.CanTransitionTo(CodeAllocated) {
		t.Fatalf("AVAILABLE -> ALLOCATED must be allowed")
	}
	if !CodeAllocated.CanTransitionTo(CodeRedeemed) {
		t.Fatalf("ALLOCATED -> REDEEMED must be allowed")
	}
	if CodeAvailable.CanTransitionTo(CodeRedeemed) {
		t.Fatalf("AVAILABLE -> REDEEMED must be rejected")
	}
}

func TestMetadataScanAndMerge(t *testing.T) {
	var m Metadata
	if err := m.Scan([]byte(`{"order":"session-ab12"}`)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if m["order"] != "session-ab12" {
		t.Fatalf("unexpected metadata %v", m)
	}

	merged := m.Merge(Metadata{"tx": "0xabc"})
	if len(m) != 1 || len(merged) != 2 {
		t.Fatalf("merge must not mutate receiver: m=%v merged=%v", m, merged)
	}

	var empty Metadata
	if err := empty.Scan(nil); err != nil || empty != nil {
		t.Fatalf("nil scan should yield nil metadata, got %v %v", empty, err)
	}
	v, err := empty.Value()
	if err != nil || v != nil {
		t.Fatalf("nil metadata should encode as NULL, got %v %v", v, err)
	}
}
