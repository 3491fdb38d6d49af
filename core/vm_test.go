package core

import "testing"

func newTestVM() *VM {
	storage := NewInMemoryStorage()
	auth := adminAuth("alice")
	return NewVM(storage, auth, "default", DefaultConfig())
}

func val(v Value) *Value { return &v }

func TestVMPushPopArithmetic(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindPush, Value: val(Number(2))},
		{Kind: OpKindPush, Value: val(Number(3))},
		{Kind: OpKindAdd},
	}
	if err := vm.Run(ops); err != nil {
		t.Fatalf("Run: %v", err)
	}
	top, _ := vm.Stack.Peek()
	if top.ToCanonicalString() != "5" {
		t.Fatalf("top of stack = %v, want 5", top)
	}
}

func TestVMDupSwap(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindPush, Value: val(Number(1))},
		{Kind: OpKindPush, Value: val(Number(2))},
		{Kind: OpKindSwap},
	}
	vm.Run(ops)
	vals, _ := vm.Stack.PopN(2)
	if vals[0].ToCanonicalString() != "2" || vals[1].ToCanonicalString() != "1" {
		t.Fatalf("after Swap = %v", vals)
	}
}

func TestVMStoreLoad(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindPush, Value: val(Number(42))},
		{Kind: OpKindStore, Name: "x"},
		{Kind: OpKindLoad, Name: "x"},
	}
	if err := vm.Run(ops); err != nil {
		t.Fatalf("Run: %v", err)
	}
	top, _ := vm.Stack.Peek()
	if top.ToCanonicalString() != "42" {
		t.Fatalf("got %v, want 42", top)
	}
}

func TestVMIfBranching(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindPush, Value: val(Boolean(true))},
		{Kind: OpKindIf,
			Then: []Operation{{Kind: OpKindPush, Value: val(String("then"))}},
			Else: []Operation{{Kind: OpKindPush, Value: val(String("else"))}},
		},
	}
	vm.Run(ops)
	top, _ := vm.Stack.Peek()
	if top.ToCanonicalString() != "then" {
		t.Fatalf("got %v, want \"then\"", top)
	}
}

func TestVMWhileLoop(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindPush, Value: val(Number(0))},
		{Kind: OpKindStore, Name: "i"},
		{Kind: OpKindLoad, Name: "i"},
		{Kind: OpKindPush, Value: val(Number(3))},
		{Kind: OpKindLt},
	}
	// manual while: condition re-pushed each iteration by the body
	whileOp := Operation{
		Kind: OpKindWhile,
		Body: []Operation{
			{Kind: OpKindLoad, Name: "i"},
			{Kind: OpKindPush, Value: val(Number(1))},
			{Kind: OpKindAdd},
			{Kind: OpKindStore, Name: "i"},
			{Kind: OpKindLoad, Name: "i"},
			{Kind: OpKindPush, Value: val(Number(3))},
			{Kind: OpKindLt},
		},
	}
	full := append(ops, whileOp)
	if err := vm.Run(full); err != nil {
		t.Fatalf("Run: %v", err)
	}
	v, err := vm.Memory.Load("i")
	if err != nil || v.ToCanonicalString() != "3" {
		t.Fatalf("i = %v, %v, want 3", v, err)
	}
}

func TestVMLoopCount(t *testing.T) {
	vm := newTestVM()
	vm.Run([]Operation{{Kind: OpKindPush, Value: val(Number(0))}, {Kind: OpKindStore, Name: "n"}})
	loopOp := Operation{
		Kind:  OpKindLoop,
		Count: 5,
		Body: []Operation{
			{Kind: OpKindLoad, Name: "n"},
			{Kind: OpKindPush, Value: val(Number(1))},
			{Kind: OpKindAdd},
			{Kind: OpKindStore, Name: "n"},
		},
	}
	vm.Run([]Operation{loopOp})
	v, _ := vm.Memory.Load("n")
	if v.ToCanonicalString() != "5" {
		t.Fatalf("n = %v, want 5", v)
	}
}

func TestVMLoopBreak(t *testing.T) {
	vm := newTestVM()
	vm.Run([]Operation{{Kind: OpKindPush, Value: val(Number(0))}, {Kind: OpKindStore, Name: "n"}})
	loopOp := Operation{
		Kind:  OpKindLoop,
		Count: 10,
		Body: []Operation{
			{Kind: OpKindLoad, Name: "n"},
			{Kind: OpKindPush, Value: val(Number(1))},
			{Kind: OpKindAdd},
			{Kind: OpKindStore, Name: "n"},
			{Kind: OpKindLoad, Name: "n"},
			{Kind: OpKindPush, Value: val(Number(3))},
			{Kind: OpKindEq},
			{Kind: OpKindIf, Then: []Operation{{Kind: OpKindBreak}}},
		},
	}
	vm.Run([]Operation{loopOp})
	v, _ := vm.Memory.Load("n")
	if v.ToCanonicalString() != "3" {
		t.Fatalf("n = %v, want 3 (loop should break early)", v)
	}
}

func TestVMMatchWithDefault(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindPush, Value: val(Number(9))},
		{Kind: OpKindMatch, Cases: []MatchCase{
			{Value: val(Number(1)), Body: []Operation{{Kind: OpKindPush, Value: val(String("one"))}}},
			{Value: nil, Body: []Operation{{Kind: OpKindPush, Value: val(String("default"))}}},
		}},
	}
	vm.Run(ops)
	top, _ := vm.Stack.Peek()
	if top.ToCanonicalString() != "default" {
		t.Fatalf("got %v, want \"default\"", top)
	}
}

func TestVMFunctionDefCallReturn(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindDef, FuncName: "square", Params: []string{"x"}, Body: []Operation{
			{Kind: OpKindLoad, Name: "x"},
			{Kind: OpKindLoad, Name: "x"},
			{Kind: OpKindMul},
			{Kind: OpKindReturn},
		}},
		{Kind: OpKindPush, Value: val(Number(6))},
		{Kind: OpKindCall, FuncName: "square"},
	}
	if err := vm.Run(ops); err != nil {
		t.Fatalf("Run: %v", err)
	}
	top, _ := vm.Stack.Peek()
	if top.ToCanonicalString() != "36" {
		t.Fatalf("got %v, want 36", top)
	}
}

func TestVMAssertTopFailure(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindPush, Value: val(Number(0))},
		{Kind: OpKindAssertTop},
	}
	if err := vm.Run(ops); KindOf(err) != ErrKindAssertionFailed {
		t.Fatalf("expected AssertionFailed, got %v", err)
	}
}

func TestVMAssertEqualLeavesStack(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindPush, Value: val(Number(5))},
		{Kind: OpKindPush, Value: val(Number(5))},
		{Kind: OpKindAssertEqual},
	}
	if err := vm.Run(ops); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if vm.Stack.Len() != 2 {
		t.Fatalf("expected both values left on stack, Len() = %d", vm.Stack.Len())
	}
}

func TestVMStorageOpsStoreAndLoadP(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindPush, Value: val(String("hello"))},
		{Kind: OpKindStoreP, Key: "greeting"},
		{Kind: OpKindLoadP, Key: "greeting"},
	}
	if err := vm.Run(ops); err != nil {
		t.Fatalf("Run: %v", err)
	}
	top, _ := vm.Stack.Peek()
	if top.ToCanonicalString() != "hello" {
		t.Fatalf("got %v, want \"hello\"", top)
	}
}

func TestVMSimulationModeSkipsWritesAndPlaceholdersReads(t *testing.T) {
	storage := NewInMemoryStorage()
	auth := adminAuth("alice")
	cfg := DefaultConfig()
	cfg.SimulationMode = true
	vm := NewVM(storage, auth, "default", cfg)

	ops := []Operation{
		{Kind: OpKindPush, Value: val(Number(1))},
		{Kind: OpKindStoreP, Key: "k"},
		{Kind: OpKindLoadP, Key: "k"},
	}
	if err := vm.Run(ops); err != nil {
		t.Fatalf("Run: %v", err)
	}
	top, _ := vm.Stack.Peek()
	if top.ToCanonicalString() != "0" {
		t.Fatalf("expected simulated LoadP to push placeholder 0, got %v", top)
	}
	if _, err := storage.Get(auth, "k"); KindOf(err) != ErrKindNotFound {
		t.Fatalf("expected simulation_mode to skip the StoreP write, got %v", err)
	}
}

func TestVMMintBalanceThroughOps(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindMint, Account: "treasury", Amount: 100},
		{Kind: OpKindBalance, Account: "treasury"},
	}
	if err := vm.Run(ops); err != nil {
		t.Fatalf("Run: %v", err)
	}
	top, _ := vm.Stack.Peek()
	if top.ToCanonicalString() != "100" {
		t.Fatalf("got %v, want 100", top)
	}
}

func TestVMForkIsolation(t *testing.T) {
	vm := newTestVM()
	vm.Run([]Operation{{Kind: OpKindPush, Value: val(Number(1))}, {Kind: OpKindStore, Name: "x"}})

	fork := vm.Fork()
	fork.Run([]Operation{{Kind: OpKindPush, Value: val(Number(99))}, {Kind: OpKindStore, Name: "x"}})

	v, _ := vm.Memory.Load("x")
	if v.ToCanonicalString() != "1" {
		t.Fatalf("expected parent VM's Memory unaffected by fork mutation, got %v", v)
	}
	fv, _ := fork.Memory.Load("x")
	if fv.ToCanonicalString() != "99" {
		t.Fatalf("fork Memory.Load(x) = %v, want 99", fv)
	}
}

func TestVMForkSharesStorage(t *testing.T) {
	vm := newTestVM()
	fork := vm.Fork()
	if err := fork.Executor.StoreP("shared", Number(7), ""); err != nil {
		t.Fatalf("StoreP on fork: %v", err)
	}
	v, err := vm.Executor.LoadP("shared", MissingKeyError)
	if err != nil || v.ToCanonicalString() != "7" {
		t.Fatalf("expected parent to see fork's storage write (shared backend), got %v, %v", v, err)
	}
}

func TestVMRateLimitingRejectsAfterBurstExhausted(t *testing.T) {
	storage := NewInMemoryStorage()
	auth := adminAuth("alice")
	cfg := DefaultConfig()
	cfg.OpRateLimit = 1
	cfg.OpRateBurst = 2
	vm := NewVM(storage, auth, "default", cfg)

	ops := []Operation{{Kind: OpKindPush, Value: val(Number(1))}}
	if err := vm.Run(ops); err != nil {
		t.Fatalf("first op within burst: %v", err)
	}
	if err := vm.Run(ops); err != nil {
		t.Fatalf("second op within burst: %v", err)
	}
	err := vm.Run(ops)
	if KindOf(err) != ErrKindRateLimited {
		t.Fatalf("expected RateLimited once burst exhausted, got %v", err)
	}
}

func TestVMBreakOutsideLoopIsFatal(t *testing.T) {
	vm := newTestVM()
	err := vm.Run([]Operation{{Kind: OpKindBreak}})
	if KindOf(err) != ErrKindInvalidOperation {
		t.Fatalf("expected InvalidOperation for bare Break, got %v", err)
	}
}

func TestVMContinueOutsideLoopIsFatal(t *testing.T) {
	vm := newTestVM()
	err := vm.Run([]Operation{{Kind: OpKindContinue}})
	if KindOf(err) != ErrKindInvalidOperation {
		t.Fatalf("expected InvalidOperation for bare Continue, got %v", err)
	}
}

func TestVMBreakInsideIfOutsideLoopIsFatal(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindPush, Value: val(Boolean(true))},
		{Kind: OpKindIf, Then: []Operation{{Kind: OpKindBreak}}},
	}
	err := vm.Run(ops)
	if KindOf(err) != ErrKindInvalidOperation {
		t.Fatalf("expected InvalidOperation for Break escaping an If with no enclosing loop, got %v", err)
	}
}

func TestVMBreakInsideFunctionBodyOutsideLoopIsFatal(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindDef, FuncName: "f", Params: nil, Body: []Operation{{Kind: OpKindBreak}}},
		{Kind: OpKindCall, FuncName: "f"},
	}
	err := vm.Run(ops)
	if KindOf(err) != ErrKindInvalidOperation {
		t.Fatalf("expected InvalidOperation for Break escaping a function body, got %v", err)
	}
}

func TestVMBreakInsideLoopIsAbsorbed(t *testing.T) {
	vm := newTestVM()
	ops := []Operation{
		{Kind: OpKindLoop, Count: 3, Body: []Operation{{Kind: OpKindBreak}}},
	}
	if err := vm.Run(ops); err != nil {
		t.Fatalf("Break inside a Loop body should be absorbed, got %v", err)
	}
}

func TestVMRateLimitingDisabledByDefault(t *testing.T) {
	vm := newTestVM()
	for i := 0; i < 50; i++ {
		if err := vm.Run([]Operation{{Kind: OpKindPush, Value: val(Number(1))}}); err != nil {
			t.Fatalf("run %d: unexpected error with no rate limit configured: %v", i, err)
		}
	}
}
