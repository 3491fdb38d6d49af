package core

import "testing"

func newTestExecutor() *Executor {
	storage := NewInMemoryStorage()
	auth := adminAuth("alice")
	return NewExecutor(storage, auth, "proposals")
}

func TestExecutorStoreLoadRoundTrip(t *testing.T) {
	e := newTestExecutor()
	if err := e.StoreP("title", String("upgrade"), ""); err != nil {
		t.Fatalf("StoreP: %v", err)
	}
	v, err := e.LoadP("title", MissingKeyError)
	if err != nil {
		t.Fatalf("LoadP: %v", err)
	}
	if v.ToCanonicalString() != "upgrade" {
		t.Errorf("got %q, want %q", v.ToCanonicalString(), "upgrade")
	}
}

func TestExecutorLoadMissingKeyDefault(t *testing.T) {
	e := newTestExecutor()
	v, err := e.LoadP("nope", MissingKeyDefault)
	if err != nil {
		t.Fatalf("expected no error with MissingKeyDefault, got %v", err)
	}
	if v.ToCanonicalString() != "0" {
		t.Errorf("expected Number(0) placeholder, got %v", v)
	}
}

func TestExecutorLoadMissingKeyError(t *testing.T) {
	e := newTestExecutor()
	_, err := e.LoadP("nope", MissingKeyError)
	if KindOf(err) != ErrKindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestExecutorNamespaceIsolation(t *testing.T) {
	e := newTestExecutor()
	e.StoreP("k", Number(1), "")

	e2 := NewExecutor(e.storage, e.auth, "other")
	if _, err := e2.LoadP("k", MissingKeyError); KindOf(err) != ErrKindNotFound {
		t.Fatalf("expected key not visible across namespaces, got %v", err)
	}
}

func TestExecutorMintBurnTransferBalance(t *testing.T) {
	e := newTestExecutor()
	if err := e.Mint("treasury", 100); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	bal, err := e.Balance("treasury")
	if err != nil || bal != 100 {
		t.Fatalf("Balance after mint = %v, %v", bal, err)
	}

	if err := e.Transfer("treasury", "alice", 40); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	fromBal, _ := e.Balance("treasury")
	toBal, _ := e.Balance("alice")
	if fromBal != 60 || toBal != 40 {
		t.Fatalf("post-transfer balances = %v / %v, want 60 / 40", fromBal, toBal)
	}

	if err := e.Burn("alice", 10); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	aliceBal, _ := e.Balance("alice")
	if aliceBal != 30 {
		t.Errorf("post-burn balance = %v, want 30", aliceBal)
	}
}

func TestExecutorTransferInsufficientBalance(t *testing.T) {
	e := newTestExecutor()
	e.Mint("treasury", 10)
	if err := e.Transfer("treasury", "bob", 50); KindOf(err) != ErrKindInsufficientBalance {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}
}

func TestExecutorBurnNegativeAmountRejected(t *testing.T) {
	e := newTestExecutor()
	e.Mint("treasury", 10)
	if err := e.Burn("treasury", -5); KindOf(err) != ErrKindInvalidAmount {
		t.Fatalf("expected InvalidAmount, got %v", err)
	}
}

func TestExecutorReputationIsTransient(t *testing.T) {
	e := newTestExecutor()
	e.IncrementReputation("alice", 5)
	e.IncrementReputation("alice", 2.5)
	if got := e.Reputation("alice"); got != 7.5 {
		t.Errorf("Reputation() = %v, want 7.5", got)
	}

	e2 := NewExecutor(e.storage, e.auth, e.namespace)
	if got := e2.Reputation("alice"); got != 0 {
		t.Errorf("expected reputation not to survive a fresh Executor, got %v", got)
	}
}

func TestExecutorEmitAndEmitEvent(t *testing.T) {
	e := newTestExecutor()
	e.Emit("hello")
	e.EmitEvent("governance", "proposal submitted")

	events := e.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Message != "hello" || events[0].Topic != "" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Topic != "governance" || events[1].Message != "proposal submitted" {
		t.Errorf("unexpected second event: %+v", events[1])
	}
}

func TestExecutorArithDispatch(t *testing.T) {
	e := newTestExecutor()
	r, err := e.ArithDispatch(OpAdd, Number(2), Number(3))
	if err != nil || r.ToCanonicalString() != "5" {
		t.Errorf("ArithDispatch(Add, 2, 3) = %v, %v", r, err)
	}
}

// TestExecutorMintDoesNotConsumeNamespaceQuota guards against Mint/Burn/
// Transfer being wired through the byte-quota Set() path: minting a large
// balance into a quota-limited namespace must leave that namespace's
// used_bytes untouched.
func TestExecutorMintDoesNotConsumeNamespaceQuota(t *testing.T) {
	storage := NewInMemoryStorage()
	auth := adminAuth("alice")
	if err := storage.CreateNamespace(auth, "proposals", "alice", 10); err != nil {
		t.Fatalf("CreateNamespace: %v", err)
	}
	e := NewExecutor(storage, auth, "proposals")

	if err := e.Mint("treasury", 1_000_000); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	bal, err := e.Balance("treasury")
	if err != nil || bal != 1_000_000 {
		t.Fatalf("Balance after mint = %v, %v, want 1000000", bal, err)
	}

	nsBalance, nsQuota, err := storage.GetUsage(auth, "proposals")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if used := nsQuota - nsBalance; used != 0 {
		t.Fatalf("namespace used_bytes after Mint = %v, want 0 (mint must not touch byte quota)", used)
	}
}
