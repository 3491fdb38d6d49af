package core

import "testing"

func TestQuadraticWeightSqrt(t *testing.T) {
	if w := QuadraticWeight(16); w != 4 {
		t.Errorf("QuadraticWeight(16) = %v, want 4", w)
	}
	if w := QuadraticWeight(0); w != 0 {
		t.Errorf("QuadraticWeight(0) = %v, want 0", w)
	}
	if w := QuadraticWeight(-5); w != 0 {
		t.Errorf("QuadraticWeight(-5) = %v, want 0", w)
	}
}

func TestVoteQuadraticChecksBalance(t *testing.T) {
	e, storage := newTestEngine()
	p := setupVotingProposal(t, e, storage, 0.5, 0.5)

	exec := NewExecutor(storage, adminAuth("admin"), "")
	if err := exec.Mint("alice", 16); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if err := e.VoteQuadratic(p.ID, "alice", VoteApprove, 16); err != nil {
		t.Fatalf("VoteQuadratic: %v", err)
	}
	tally, _ := e.Tally(p.ID, 4)
	if tally.ApprovalWeight != 4 {
		t.Fatalf("ApprovalWeight = %v, want 4 (sqrt of 16 committed)", tally.ApprovalWeight)
	}
}

func TestVoteQuadraticRejectsInsufficientBalance(t *testing.T) {
	e, storage := newTestEngine()
	p := setupVotingProposal(t, e, storage, 0.5, 0.5)

	exec := NewExecutor(storage, adminAuth("admin"), "")
	exec.Mint("bob", 5)

	if err := e.VoteQuadratic(p.ID, "bob", VoteApprove, 100); KindOf(err) != ErrKindInsufficientBalance {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}
}
