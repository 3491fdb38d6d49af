package core

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	opsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "covm",
		Name:      "ops_executed_total",
		Help:      "Number of operations executed by kind.",
	}, []string{"kind"})
	opsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "covm",
		Name:      "ops_failed_total",
		Help:      "Number of operations that returned an error, by kind.",
	}, []string{"kind"})
	forkDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "covm",
		Name:      "fork_depth",
		Help:      "Current VM fork nesting depth.",
	})
)

func init() {
	prometheus.MustRegister(opsExecuted, opsFailed, forkDepth)
}

// Config carries the VM's runtime flags (§7), loaded by config.go from YAML
// plus environment overrides.
type Config struct {
	TraceEnabled        bool
	ExplainEnabled      bool
	SimulationMode      bool
	VerboseStorageTrace bool
	MissingKeyBehavior  MissingKeyBehavior
	MaxRetries          int
	CooldownMillis      int64

	// OpRateLimit caps sustained op dispatch throughput (ops/second); 0
	// means unlimited. OpRateBurst is the token bucket's burst capacity,
	// grounded on the teacher's HTTP-layer rate.Limiter but applied at the
	// dispatch loop instead, so a single malicious oplist can't starve a
	// shared Storage backend regardless of transport.
	OpRateLimit float64
	OpRateBurst int
}

func DefaultConfig() Config {
	return Config{
		MissingKeyBehavior: MissingKeyDefault,
		MaxRetries:         3,
		CooldownMillis:     1000,
	}
}

// VM is the CoVM tree-walking interpreter: an operand Stack, scoped Memory,
// a bound Executor, and the runtime flags controlling trace/simulation
// behavior (§7). It dispatches a flat []Operation sequentially, recursing
// into nested bodies for control flow and function calls.
type VM struct {
	Stack    *Stack
	Memory   *Memory
	Executor *Executor
	Config   Config

	depth      int
	forkParent *VM
	zlog       *zap.Logger
	log        *logrus.Entry
	limiter    *rate.Limiter
}

func NewVM(storage Storage, auth *AuthContext, namespace string, cfg Config) *VM {
	zlog, _ := zap.NewProduction()
	return &VM{
		Stack:    NewStack(),
		Memory:   NewMemory(),
		Executor: NewExecutor(storage, auth, namespace),
		Config:   cfg,
		zlog:     zlog,
		log:      logrus.WithField("component", "vm"),
		limiter:  newDispatchLimiter(cfg),
	}
}

func newDispatchLimiter(cfg Config) *rate.Limiter {
	if cfg.OpRateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.OpRateBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.OpRateLimit), burst)
}

// Run executes an operation list top to bottom. A bare Return escaping the
// top level is a no-op terminator, matching a top-level oplist having no
// enclosing function to return into. A bare Break or Continue escaping the
// top level has no enclosing loop to consume it and is a fatal error (§9
// open question #3, resolved).
func (vm *VM) Run(ops []Operation) error {
	sig, err := vm.execList(ops)
	if err != nil {
		return err
	}
	return loopControlEscapeErr(sig)
}

// loopControlEscapeErr reports a fatal error when sig is a Break or Continue
// that reached a context with no enclosing loop left to consume it (the top
// level, or a function call boundary). SignalReturn and SignalNone are not
// escapes here; they terminate normally.
func loopControlEscapeErr(sig LoopSignal) error {
	switch sig {
	case SignalBreak:
		return ErrBreakOutsideLoop()
	case SignalContinue:
		return ErrContinueOutsideLoop()
	default:
		return nil
	}
}

func (vm *VM) execList(ops []Operation) (LoopSignal, error) {
	for _, op := range ops {
		sig, err := vm.exec(op)
		if err != nil {
			return SignalNone, err
		}
		if sig != SignalNone {
			return sig, nil
		}
	}
	return SignalNone, nil
}

func (vm *VM) exec(op Operation) (LoopSignal, error) {
	if vm.limiter != nil && !vm.limiter.Allow() {
		return SignalNone, ErrRateLimited(string(op.Kind))
	}
	if vm.Config.SimulationMode && isSimulatedOp(op.Kind) {
		vm.log.Infof("[SIMULATION] would execute: %s", op.Kind)
		return vm.simulate(op)
	}
	if vm.Config.TraceEnabled {
		vm.log.WithField("op", op.Kind).Trace("executing op")
	}

	sig, err := vm.dispatch(op)
	if err != nil {
		opsFailed.WithLabelValues(string(op.Kind)).Inc()
		return SignalNone, err
	}
	opsExecuted.WithLabelValues(string(op.Kind)).Inc()
	if vm.Config.VerboseStorageTrace {
		switch op.Kind {
		case OpKindStoreP, OpKindLoadP, OpKindLoadVersionP, OpKindListVersionsP,
			OpKindDiffVersionsP, OpKindDeleteP, OpKindContainsP, OpKindListKeysP:
			vm.log.WithField("key", op.Key).Infof("storage trace: %s", op.Kind)
		}
	}
	if vm.Config.ExplainEnabled {
		vm.zlog.Debug("op executed",
			zap.String("kind", string(op.Kind)),
			zap.Int("stack_depth", vm.Stack.Len()))
	}
	return sig, nil
}

// simulate substitutes a zero placeholder for the LoadP, LoadVersionP and
// Balance reads, and skips every write isMutatingOp lists, per §7's
// simulation_mode contract.
func (vm *VM) simulate(op Operation) (LoopSignal, error) {
	switch op.Kind {
	case OpKindLoadP, OpKindLoadVersionP:
		vm.Stack.Push(Number(0))
		return SignalNone, nil
	case OpKindBalance:
		vm.Stack.Push(Number(0))
		return SignalNone, nil
	default:
		return SignalNone, nil
	}
}

func isMutatingOp(k OpKind) bool {
	switch k {
	case OpKindStoreP, OpKindDeleteP, OpKindMint, OpKindBurn, OpKindTransfer,
		OpKindCreateResource, OpKindIncrementReputation, OpKindLiquidDelegate:
		return true
	default:
		return false
	}
}

// isSimulatedOp reports whether simulation_mode intercepts this op kind,
// either to skip a write (isMutatingOp) or to substitute a placeholder for
// a Storage-backed read, instead of reaching the real backend.
func isSimulatedOp(k OpKind) bool {
	switch k {
	case OpKindLoadP, OpKindLoadVersionP, OpKindBalance:
		return true
	default:
		return isMutatingOp(k)
	}
}

func (vm *VM) dispatch(op Operation) (LoopSignal, error) {
	switch op.Kind {
	case OpKindNop:
		return SignalNone, nil
	case OpKindPush:
		if op.Value == nil {
			return SignalNone, newErr(ErrKindInvalidOperation, "Push", "missing literal value")
		}
		vm.Stack.Push(*op.Value)
		return SignalNone, nil
	case OpKindPop:
		_, err := vm.Stack.Pop()
		return SignalNone, err
	case OpKindDup:
		v, err := vm.Stack.Peek()
		if err != nil {
			return SignalNone, err
		}
		vm.Stack.Push(v)
		return SignalNone, nil
	case OpKindSwap:
		b, err := vm.Stack.Pop()
		if err != nil {
			return SignalNone, err
		}
		a, err := vm.Stack.Pop()
		if err != nil {
			vm.Stack.Push(b)
			return SignalNone, err
		}
		vm.Stack.Push(b)
		vm.Stack.Push(a)
		return SignalNone, nil

	case OpKindAdd, OpKindSub, OpKindMul, OpKindDiv, OpKindMod:
		return SignalNone, vm.execBinaryArith(op.Kind)
	case OpKindNegate:
		return SignalNone, vm.execUnaryArith()

	case OpKindEq, OpKindLt, OpKindGt:
		return SignalNone, vm.execCompare(op.Kind)

	case OpKindNot:
		v, err := vm.Stack.Pop()
		if err != nil {
			return SignalNone, err
		}
		r, _ := v.Logical(OpNot, nil)
		vm.Stack.Push(r)
		return SignalNone, nil
	case OpKindAnd, OpKindOr:
		return SignalNone, vm.execLogicBinary(op.Kind)

	case OpKindStore:
		v, err := vm.Stack.Pop()
		if err != nil {
			return SignalNone, err
		}
		vm.Memory.Store(op.Name, v)
		return SignalNone, nil
	case OpKindLoad:
		v, err := vm.Memory.Load(op.Name)
		if err != nil {
			return SignalNone, err
		}
		vm.Stack.Push(v)
		return SignalNone, nil

	case OpKindIf:
		return vm.execIf(op)
	case OpKindWhile:
		return vm.execWhile(op)
	case OpKindLoop:
		return vm.execLoop(op)
	case OpKindMatch:
		return vm.execMatch(op)
	case OpKindBreak:
		return SignalBreak, nil
	case OpKindContinue:
		return SignalContinue, nil

	case OpKindDef:
		vm.Memory.DefineFunction(&FunctionDef{Name: op.FuncName, Params: op.Params, Body: op.Body})
		return SignalNone, nil
	case OpKindCall:
		return SignalNone, vm.execCall(op)
	case OpKindReturn:
		v, err := vm.Stack.Pop()
		if err != nil {
			v = Null()
		}
		vm.Memory.SetReturn(v)
		return SignalReturn, nil

	case OpKindExplain:
		vm.log.WithField("stack", vm.Stack.Snapshot()).Info(op.Message)
		return SignalNone, nil
	case OpKindAssertTop:
		return SignalNone, vm.execAssertTop(op)
	case OpKindAssertEqual:
		return SignalNone, vm.execAssertEqual()
	case OpKindEmit:
		vm.Executor.Emit(op.Message)
		return SignalNone, nil
	case OpKindEmitEvent:
		vm.Executor.EmitEvent(op.Topic, op.Message)
		return SignalNone, nil

	case OpKindStoreP:
		v, err := vm.Stack.Pop()
		if err != nil {
			return SignalNone, err
		}
		return SignalNone, vm.Executor.StoreP(op.Key, v, op.Message)
	case OpKindLoadP:
		v, err := vm.Executor.LoadP(op.Key, vm.Config.MissingKeyBehavior)
		if err != nil {
			return SignalNone, err
		}
		vm.Stack.Push(v)
		return SignalNone, nil
	case OpKindLoadVersionP:
		v, err := vm.Executor.LoadVersionP(op.Key, op.VersionID)
		if err != nil {
			return SignalNone, err
		}
		vm.Stack.Push(v)
		return SignalNone, nil
	case OpKindListVersionsP:
		versions, err := vm.Executor.ListVersionsP(op.Key)
		if err != nil {
			return SignalNone, err
		}
		vm.Stack.Push(Number(float64(len(versions))))
		return SignalNone, nil
	case OpKindDiffVersionsP:
		diff, err := vm.Executor.DiffVersionsP(op.Key, op.FromVer, op.ToVer)
		if err != nil {
			return SignalNone, err
		}
		vm.Stack.Push(String(diff))
		return SignalNone, nil
	case OpKindDeleteP:
		return SignalNone, vm.Executor.DeleteP(op.Key)
	case OpKindContainsP:
		vm.Stack.Push(Boolean(vm.Executor.ContainsP(op.Key)))
		return SignalNone, nil
	case OpKindListKeysP:
		keys := vm.Executor.ListKeysP(op.Key)
		vm.Stack.Push(Number(float64(len(keys))))
		return SignalNone, nil

	case OpKindCreateResource:
		return SignalNone, vm.Executor.CreateResource(op.Resource)
	case OpKindMint:
		return SignalNone, vm.Executor.Mint(op.Account, op.Amount)
	case OpKindTransfer:
		return SignalNone, vm.Executor.Transfer(op.Account, op.Name, op.Amount)
	case OpKindBurn:
		return SignalNone, vm.Executor.Burn(op.Account, op.Amount)
	case OpKindBalance:
		bal, err := vm.Executor.Balance(op.Account)
		if err != nil {
			return SignalNone, err
		}
		vm.Stack.Push(Number(bal))
		return SignalNone, nil
	case OpKindIncrementReputation:
		score := vm.Executor.IncrementReputation(op.Identity, op.Amount)
		vm.Stack.Push(Number(score))
		return SignalNone, nil

	case OpKindVerifyIdentity, OpKindCheckMembership, OpKindCheckDelegation:
		return SignalNone, vm.execIdentityOp(op)

	case OpKindRankedVote:
		return SignalNone, vm.execRankedVote(op)
	case OpKindLiquidDelegate:
		return SignalNone, vm.execLiquidDelegate(op)
	case OpKindVoteThreshold:
		return SignalNone, vm.execVoteThreshold(op)
	case OpKindQuorumThreshold:
		return SignalNone, vm.execQuorumThreshold(op)

	default:
		return SignalNone, newErr(ErrKindNotImplemented, string(op.Kind), "unrecognized operation kind")
	}
}

func (vm *VM) execBinaryArith(kind OpKind) error {
	b, err := vm.Stack.Pop()
	if err != nil {
		return err
	}
	a, err := vm.Stack.Pop()
	if err != nil {
		vm.Stack.Push(b)
		return err
	}
	op := map[OpKind]ArithOp{OpKindAdd: OpAdd, OpKindSub: OpSub, OpKindMul: OpMul, OpKindDiv: OpDiv, OpKindMod: OpMod}[kind]
	r, err := a.Arith(op, b)
	if err != nil {
		vm.Stack.Push(a)
		vm.Stack.Push(b)
		return err
	}
	vm.Stack.Push(r)
	return nil
}

func (vm *VM) execUnaryArith() error {
	v, err := vm.Stack.Pop()
	if err != nil {
		return err
	}
	r, err := v.Arith(OpNegate, Value{})
	if err != nil {
		vm.Stack.Push(v)
		return err
	}
	vm.Stack.Push(r)
	return nil
}

func (vm *VM) execCompare(kind OpKind) error {
	b, err := vm.Stack.Pop()
	if err != nil {
		return err
	}
	a, err := vm.Stack.Pop()
	if err != nil {
		vm.Stack.Push(b)
		return err
	}
	op := map[OpKind]CmpOp{OpKindEq: OpEq, OpKindLt: OpLt, OpKindGt: OpGt}[kind]
	r, err := a.Cmp(op, b)
	if err != nil {
		vm.Stack.Push(a)
		vm.Stack.Push(b)
		return err
	}
	vm.Stack.Push(Boolean(r))
	return nil
}

func (vm *VM) execLogicBinary(kind OpKind) error {
	b, err := vm.Stack.Pop()
	if err != nil {
		return err
	}
	a, err := vm.Stack.Pop()
	if err != nil {
		vm.Stack.Push(b)
		return err
	}
	op := map[OpKind]LogicOp{OpKindAnd: OpAnd, OpKindOr: OpOr}[kind]
	r, _ := a.Logical(op, &b)
	vm.Stack.Push(r)
	return nil
}

func (vm *VM) execIf(op Operation) (LoopSignal, error) {
	cond, err := vm.Stack.Pop()
	if err != nil {
		return SignalNone, err
	}
	if cond.ToBool() {
		return vm.execList(op.Then)
	}
	return vm.execList(op.Else)
}

func (vm *VM) execWhile(op Operation) (LoopSignal, error) {
	for {
		cond, err := vm.Stack.Pop()
		if err != nil {
			return SignalNone, err
		}
		if !cond.ToBool() {
			return SignalNone, nil
		}
		sig, err := vm.execList(op.Body)
		if err != nil {
			return SignalNone, err
		}
		if sig == SignalBreak {
			return SignalNone, nil
		}
		if sig == SignalReturn {
			return sig, nil
		}
	}
}

// execLoop runs Body Count times (a bounded Loop, distinct from While's
// condition-driven form, §4.5).
func (vm *VM) execLoop(op Operation) (LoopSignal, error) {
	for i := 0; i < op.Count; i++ {
		sig, err := vm.execList(op.Body)
		if err != nil {
			return SignalNone, err
		}
		if sig == SignalBreak {
			break
		}
		if sig == SignalReturn {
			return sig, nil
		}
	}
	return SignalNone, nil
}

func (vm *VM) execMatch(op Operation) (LoopSignal, error) {
	top, err := vm.Stack.Pop()
	if err != nil {
		return SignalNone, err
	}
	for _, c := range op.Cases {
		if c.Value == nil {
			continue
		}
		eq, _ := top.Cmp(OpEq, *c.Value)
		if eq {
			return vm.execList(c.Body)
		}
	}
	for _, c := range op.Cases {
		if c.Value == nil {
			return vm.execList(c.Body)
		}
	}
	return SignalNone, nil
}

func (vm *VM) execCall(op Operation) error {
	def, err := vm.Memory.LookupFunction(op.FuncName)
	if err != nil {
		return err
	}
	args, err := vm.Stack.PopN(len(def.Params))
	if err != nil {
		return err
	}
	if _, err := vm.Memory.PushFrame(def, args); err != nil {
		return err
	}
	sig, err := vm.execList(def.Body)
	result := vm.Memory.PopFrame()
	if err != nil {
		return err
	}
	if err := loopControlEscapeErr(sig); err != nil {
		return err
	}
	vm.Stack.Push(result)
	return nil
}

func (vm *VM) execAssertTop(op Operation) error {
	top, err := vm.Stack.Peek()
	if err != nil {
		return err
	}
	if op.Value != nil {
		eq, _ := top.Cmp(OpEq, *op.Value)
		if !eq {
			return newErr(ErrKindAssertionFailed, "AssertTop",
				fmt.Sprintf("expected %s, found %s", op.Value.ToCanonicalString(), top.ToCanonicalString()))
		}
		return nil
	}
	if !top.ToBool() {
		return newErr(ErrKindAssertionFailed, "AssertTop", "top of stack is falsy")
	}
	return nil
}

func (vm *VM) execAssertEqual() error {
	b, err := vm.Stack.Pop()
	if err != nil {
		return err
	}
	a, err := vm.Stack.Pop()
	if err != nil {
		vm.Stack.Push(b)
		return err
	}
	eq, _ := a.Cmp(OpEq, b)
	vm.Stack.Push(a)
	vm.Stack.Push(b)
	if !eq {
		return newErr(ErrKindAssertionFailed, "AssertEqual",
			fmt.Sprintf("%s != %s", a.ToCanonicalString(), b.ToCanonicalString()))
	}
	return nil
}

// Fork returns an isolated child VM sharing nothing but the same Storage
// backend: its own Stack/Memory/event log, a fresh Executor bound to the
// same auth/namespace. Fork begins a storage transaction on that backend;
// no automatic merge happens, the caller decides via
// CommitForkTransaction/RollbackForkTransaction (§7).
func (vm *VM) Fork() *VM {
	if vm.Executor.storage != nil {
		_ = vm.Executor.storage.BeginTransaction(vm.Executor.auth)
	}
	child := &VM{
		Stack:      vm.Stack.Clone(),
		Memory:     vm.Memory.Clone(),
		Executor:   NewExecutor(vm.Executor.storage, vm.Executor.auth, vm.Executor.namespace),
		Config:     vm.Config,
		depth:      vm.depth + 1,
		forkParent: vm,
		zlog:       vm.zlog,
		log:        vm.log.WithField("fork_depth", vm.depth+1),
		limiter:    newDispatchLimiter(vm.Config),
	}
	forkDepth.Set(float64(child.depth))
	return child
}

// CommitForkTransaction merges a forked VM's storage-side transaction into
// its parent by committing the storage transaction the fork opened; the
// fork's Stack/Memory changes are never merged back, matching fork()'s
// isolation contract.
func (vm *VM) CommitForkTransaction() error {
	if vm.Executor.storage == nil {
		return nil
	}
	return vm.Executor.storage.CommitTransaction(vm.Executor.auth)
}

func (vm *VM) RollbackForkTransaction() error {
	if vm.Executor.storage == nil {
		return nil
	}
	return vm.Executor.storage.RollbackTransaction(vm.Executor.auth)
}
