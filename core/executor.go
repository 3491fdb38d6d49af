package core

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// MissingKeyBehavior controls what LoadP returns when the key is absent,
// grounded on original_source/crates/icn-covm/src/vm/ops/storage.rs's
// MissingKeyBehavior enum. The CoVM rewrite keeps ReturnZero/Error from the
// original and folds ReturnNaN into the same family for parity with a
// tagged Value union that has no NaN-number distinction from Number(0).
type MissingKeyBehavior int

const (
	MissingKeyDefault MissingKeyBehavior = iota // returns Number(0)
	MissingKeyError
)

// ExecutorEvent is one emitted VM event (emit/emit_event ops), collected for
// the caller to inspect after a run and reset on fork (§7).
type ExecutorEvent struct {
	Topic   string
	Message string
	Data    map[string]string
}

// Executor wraps a Storage backend with the CoVM's higher-level
// domain operations: storage ops bound to a namespace/auth pair, resource
// accounting, reputation, and event emission. It is grounded on
// original_source/.../ops/storage.rs's StorageOpImpl, translated from the
// Rust trait-object pattern into a concrete Go struct the VM owns directly.
type Executor struct {
	storage   Storage
	auth      *AuthContext
	namespace string
	events    []ExecutorEvent
	log       *logrus.Entry
	reputation map[string]float64
}

func NewExecutor(storage Storage, auth *AuthContext, namespace string) *Executor {
	if namespace == "" {
		namespace = "default"
	}
	return &Executor{
		storage:    storage,
		auth:       auth,
		namespace:  namespace,
		reputation: make(map[string]float64),
		log:        logrus.WithField("component", "executor"),
	}
}

func (e *Executor) SetNamespace(ns string) { e.namespace = ns }
func (e *Executor) SetAuth(auth *AuthContext) { e.auth = auth }
func (e *Executor) Auth() *AuthContext { return e.auth }
func (e *Executor) Events() []ExecutorEvent { return e.events }

func (e *Executor) qualifiedKey(key string) string {
	if e.namespace == "" || e.namespace == "default" {
		return key
	}
	return e.namespace + "/" + key
}

// StoreP persists v at key under the executor's current namespace/auth.
func (e *Executor) StoreP(key string, v Value, comment string) error {
	if e.storage == nil {
		return newErr(ErrKindStorageUnavailable, "StoreP", "no storage backend bound")
	}
	qk := e.qualifiedKey(key)
	if err := e.storage.Set(e.auth, qk, v, comment); err != nil {
		e.log.WithError(err).WithField("key", qk).Debug("store_p failed")
		return err
	}
	return nil
}

// LoadP reads key, applying behavior on a miss.
func (e *Executor) LoadP(key string, behavior MissingKeyBehavior) (Value, error) {
	if e.storage == nil {
		return Value{}, newErr(ErrKindStorageUnavailable, "LoadP", "no storage backend bound")
	}
	qk := e.qualifiedKey(key)
	v, err := e.storage.Get(e.auth, qk)
	if err == nil {
		return v, nil
	}
	if KindOf(err) == ErrKindNotFound {
		switch behavior {
		case MissingKeyDefault:
			return Number(0), nil
		case MissingKeyError:
			return Value{}, err
		}
	}
	return Value{}, err
}

func (e *Executor) LoadVersionP(key string, version int64) (Value, error) {
	return e.storage.GetVersion(e.auth, e.qualifiedKey(key), version)
}

func (e *Executor) ListVersionsP(key string) ([]VersionInfo, error) {
	return e.storage.ListVersions(e.auth, e.qualifiedKey(key))
}

func (e *Executor) DiffVersionsP(key string, from, to int64) (string, error) {
	return e.storage.DiffVersions(e.auth, e.qualifiedKey(key), from, to)
}

func (e *Executor) DeleteP(key string) error {
	return e.storage.Delete(e.auth, e.qualifiedKey(key))
}

func (e *Executor) ContainsP(key string) bool {
	return e.storage.Contains(e.auth, e.qualifiedKey(key))
}

func (e *Executor) ListKeysP(prefix string) []string {
	return e.storage.ListKeys(e.auth, e.qualifiedKey(prefix))
}

// CreateResource registers a fresh resource account with zero balance.
func (e *Executor) CreateResource(name string) error {
	return e.storage.CreateAccount(e.auth, e.resourceAccountKey(name), 0)
}

func (e *Executor) resourceAccountKey(name string) string {
	return e.namespace + "/resources/" + name
}

// Mint increases an account's balance, routed through setAccountBalance (a
// quota-exempt path) rather than Set, so minted balances never consume the
// namespace's byte quota: storage byte quota and mint/burn/transfer resource
// economics are separate concerns (spec.md §3 vs. the resource/economic op
// family) and must not share a budget.
func (e *Executor) Mint(account string, amount float64) error {
	if amount < 0 {
		return ErrInvalidAmountOp("Mint", amount)
	}
	bal, _, err := e.storage.GetUsage(e.auth, e.resourceAccountKey(account))
	if err != nil {
		if cerr := e.storage.CreateAccount(e.auth, e.resourceAccountKey(account), 0); cerr != nil {
			return cerr
		}
		bal = 0
	}
	return e.setAccountBalance(account, bal+amount)
}

func (e *Executor) Burn(account string, amount float64) error {
	if amount < 0 {
		return ErrInvalidAmountOp("Burn", amount)
	}
	bal, _, err := e.storage.GetUsage(e.auth, e.resourceAccountKey(account))
	if err != nil {
		return err
	}
	if bal < amount {
		return newErr(ErrKindInsufficientBalance, "Burn",
			fmt.Sprintf("account %q has %v, needs %v", account, bal, amount))
	}
	return e.setAccountBalance(account, bal-amount)
}

func (e *Executor) Transfer(from, to string, amount float64) error {
	if amount < 0 {
		return ErrInvalidAmountOp("Transfer", amount)
	}
	fromBal, _, err := e.storage.GetUsage(e.auth, e.resourceAccountKey(from))
	if err != nil {
		return err
	}
	if fromBal < amount {
		return newErr(ErrKindInsufficientBalance, "Transfer",
			fmt.Sprintf("account %q has %v, needs %v", from, fromBal, amount))
	}
	toBal, _, err := e.storage.GetUsage(e.auth, e.resourceAccountKey(to))
	if err != nil {
		if cerr := e.storage.CreateAccount(e.auth, e.resourceAccountKey(to), 0); cerr != nil {
			return cerr
		}
		toBal = 0
	}
	if err := e.setAccountBalance(from, fromBal-amount); err != nil {
		return err
	}
	return e.setAccountBalance(to, toBal+amount)
}

func (e *Executor) Balance(account string) (float64, error) {
	bal, _, err := e.storage.GetUsage(e.auth, e.resourceAccountKey(account))
	return bal, err
}

// setAccountBalance writes the new balance directly to the account's
// ResourceAccount via Storage.SetAccountBalance, which still appends an
// audit log entry but never touches namespace byte quota accounting.
func (e *Executor) setAccountBalance(account string, newBalance float64) error {
	return e.storage.SetAccountBalance(e.auth, e.resourceAccountKey(account), newBalance)
}

// IncrementReputation adjusts an identity's in-memory reputation score. It
// is intentionally not persisted to Storage: reputation here models a
// transient scoring signal consumed within a single proposal evaluation,
// distinct from the durable resource accounts above.
func (e *Executor) IncrementReputation(identity string, delta float64) float64 {
	e.reputation[identity] += delta
	return e.reputation[identity]
}

func (e *Executor) Reputation(identity string) float64 {
	return e.reputation[identity]
}

// Emit records a plain message event.
func (e *Executor) Emit(message string) {
	e.events = append(e.events, ExecutorEvent{Message: message})
}

// EmitEvent records a topic-scoped event, used by proposal/governance ops
// to signal lifecycle transitions the caller can subscribe to.
func (e *Executor) EmitEvent(topic, message string) {
	e.events = append(e.events, ExecutorEvent{Topic: topic, Message: message})
}

// ArithDispatch applies an arithmetic op to two popped values, translating
// VMError kinds as-is (no remapping needed since Value.Arith already
// produces them).
func (e *Executor) ArithDispatch(op ArithOp, a, b Value) (Value, error) {
	return a.Arith(op, b)
}

func isNaNSafe(f float64) bool { return math.IsNaN(f) }
