package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	cid "github.com/ipfs/go-cid"
	lru "github.com/hashicorp/golang-lru/v2"
	mh "github.com/multiformats/go-multihash"
)

// Role is a permission grant, scoped to a namespace prefix (slash-separated,
// e.g. "proposals/42") or to "" for a namespace-less grant. RoleAdmin with
// an empty Namespace is the global admin grant used by bootstrap accounts.
type Role struct {
	Kind      RoleKind
	Namespace string
}

type RoleKind int

const (
	RoleReader RoleKind = iota
	RoleWriter
	RoleAdmin
)

// AuthContext identifies the caller of a Storage operation, grounded on
// original_source/src/storage.rs's AuthContext but generalized from a flat
// role-name list to namespace-scoped Role grants (§5).
type AuthContext struct {
	Caller          string
	Roles           []Role
	Timestamp       int64
	DelegationChain []string
}

func NewAuthContext(caller string) *AuthContext {
	return &AuthContext{Caller: caller, Timestamp: time.Now().UnixMilli()}
}

func (a *AuthContext) Grant(kind RoleKind, namespace string) {
	a.Roles = append(a.Roles, Role{Kind: kind, Namespace: namespace})
}

// Allows reports whether the context holds `need` (or stronger) scoped to a
// namespace containing key. Global admin (RoleAdmin, Namespace "") always
// passes. A RoleAdmin grant implies RoleWriter and RoleReader for the same
// scope; RoleWriter implies RoleReader.
func (a *AuthContext) Allows(need RoleKind, key string) bool {
	for _, r := range a.Roles {
		if r.Namespace == "" && r.Kind == RoleAdmin {
			return true
		}
		if !withinNamespace(r.Namespace, key) {
			continue
		}
		if roleSatisfies(r.Kind, need) {
			return true
		}
	}
	return false
}

func roleSatisfies(have, need RoleKind) bool {
	return have >= need
}

func withinNamespace(ns, key string) bool {
	if ns == "" {
		return true
	}
	return key == ns || strings.HasPrefix(key, ns+"/")
}

// ResourceAccount tracks per-account storage quota consumption, grounded on
// original_source/src/storage.rs's ResourceAccount.
type ResourceAccount struct {
	ID            string
	Balance       float64
	Quota         float64
	UsageHistory  []ResourceUsageEntry
}

type ResourceUsageEntry struct {
	Timestamp int64
	Amount    float64
	Operation string
}

func NewResourceAccount(id string, quota float64) *ResourceAccount {
	return &ResourceAccount{ID: id, Balance: quota, Quota: quota}
}

func (r *ResourceAccount) Deduct(amount float64, operation string) bool {
	if r.Balance < amount {
		return false
	}
	r.Balance -= amount
	r.UsageHistory = append(r.UsageHistory, ResourceUsageEntry{
		Timestamp: time.Now().UnixMilli(), Amount: amount, Operation: operation,
	})
	return true
}

// Refund credits amount back to the account's balance, capped at Quota, for
// the shrink side of a delta-based charge (a smaller overwrite, or an
// explicit rollback).
func (r *ResourceAccount) Refund(amount float64, operation string) {
	if amount <= 0 {
		return
	}
	r.Balance += amount
	if r.Balance > r.Quota {
		r.Balance = r.Quota
	}
	r.UsageHistory = append(r.UsageHistory, ResourceUsageEntry{
		Timestamp: time.Now().UnixMilli(), Amount: -amount, Operation: operation,
	})
}

func (r *ResourceAccount) Reset() { r.Balance = r.Quota }

// VersionInfo describes one historical write to a key.
type VersionInfo struct {
	Version   int64
	Timestamp int64
	Author    string
	Comment   string
	CID       string // content address of the value at this version, §5
}

// StorageEvent is one append-only audit log entry.
type StorageEvent struct {
	Kind      StorageEventKind
	Key       string
	Action    string
	User      string
	Amount    float64
	Operation string
	Timestamp int64
	EntryHash string // keccak256 chain hash, §5
}

type StorageEventKind int

const (
	EventAccess StorageEventKind = iota
	EventTransaction
	EventResourceUsage
)

// NamespaceInfo tracks a created namespace's declared owner and quota.
type NamespaceInfo struct {
	Name  string
	Owner string
	Quota float64
}

// Storage is the CoVM's versioned, permissioned, quota-accounted key-value
// contract (§5). All mutating methods take an AuthContext so the
// implementation can enforce namespace-scoped RBAC before touching state.
type Storage interface {
	Get(auth *AuthContext, key string) (Value, error)
	Set(auth *AuthContext, key string, v Value, comment string) error
	Delete(auth *AuthContext, key string) error
	Contains(auth *AuthContext, key string) bool
	ListKeys(auth *AuthContext, prefix string) []string

	GetVersion(auth *AuthContext, key string, version int64) (Value, error)
	ListVersions(auth *AuthContext, key string) ([]VersionInfo, error)
	DiffVersions(auth *AuthContext, key string, from, to int64) (string, error)

	BeginTransaction(auth *AuthContext) error
	CommitTransaction(auth *AuthContext) error
	RollbackTransaction(auth *AuthContext) error

	CreateNamespace(auth *AuthContext, name, owner string, quota float64) error
	ListNamespaces(auth *AuthContext) []NamespaceInfo
	GetUsage(auth *AuthContext, namespace string) (balance, quota float64, err error)

	CreateAccount(auth *AuthContext, id string, quota float64) error
	SetAccountBalance(auth *AuthContext, id string, balance float64) error

	AppendAuditEntry(ev StorageEvent)
	QueryAudit(prefix string, limit int) []StorageEvent
}

// txFrame is one nested transaction's overlay: writes and tombstones staged
// above whatever the enclosing frame (or base storage) already holds. A
// stack of these is CoVM's rollback log (§5's nested begin/commit/rollback).
type txFrame struct {
	writes  map[string]*versionedValue
	deleted map[string]bool

	// acctSnapshot holds every resource account's balance as of
	// BeginTransaction, so RollbackTransaction can restore used_bytes for
	// all accounts touched by quota charges/refunds during this frame
	// (U3, §8 scenario S4), regardless of how many Set/Delete calls ran.
	acctSnapshot map[string]float64
}

type versionedValue struct {
	versions []VersionInfo
	values   map[int64]Value
	latest   int64
}

// InMemoryStorage is the default Storage backend, grounded on
// original_source/src/storage.rs's InMemoryStorage and generalized with
// namespace RBAC, nested transactions and content-addressed versioning.
type InMemoryStorage struct {
	data        map[string]*versionedValue
	txStack     []*txFrame
	namespaces  map[string]NamespaceInfo
	accounts    map[string]*ResourceAccount
	auditLog    []StorageEvent
	readCache   *lru.Cache[string, Value]
	lastHash    string
}

func NewInMemoryStorage() *InMemoryStorage {
	cache, _ := lru.New[string, Value](1024)
	return &InMemoryStorage{
		data:       make(map[string]*versionedValue),
		namespaces: make(map[string]NamespaceInfo),
		accounts:   make(map[string]*ResourceAccount),
		readCache:  cache,
	}
}

func (s *InMemoryStorage) requireRole(auth *AuthContext, need RoleKind, key string) error {
	if auth == nil || !auth.Allows(need, key) {
		caller := ""
		if auth != nil {
			caller = auth.Caller
		}
		return ErrPermissionDeniedOp(caller, roleName(need), key)
	}
	return nil
}

func roleName(k RoleKind) string {
	switch k {
	case RoleReader:
		return "read"
	case RoleWriter:
		return "write"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

func (s *InMemoryStorage) inTx() bool { return len(s.txStack) > 0 }
func (s *InMemoryStorage) curTx() *txFrame {
	if !s.inTx() {
		return nil
	}
	return s.txStack[len(s.txStack)-1]
}

func (s *InMemoryStorage) Get(auth *AuthContext, key string) (Value, error) {
	if err := s.requireRole(auth, RoleReader, key); err != nil {
		return Value{}, err
	}
	s.logAccess(auth, key, "get")
	if !s.inTx() {
		if v, ok := s.readCache.Get(key); ok {
			return v, nil
		}
	}
	v, err := s.resolve(key)
	if err == nil && !s.inTx() {
		s.readCache.Add(key, v)
	}
	return v, err
}

// resolve walks the transaction stack top-down (most recent nested frame
// first), falling through to base storage.
func (s *InMemoryStorage) resolve(key string) (Value, error) {
	for i := len(s.txStack) - 1; i >= 0; i-- {
		frame := s.txStack[i]
		if frame.deleted[key] {
			return Value{}, ErrNotFoundKey(namespaceOf(key), key)
		}
		if vv, ok := frame.writes[key]; ok {
			return vv.values[vv.latest], nil
		}
	}
	vv, ok := s.data[key]
	if !ok {
		return Value{}, ErrNotFoundKey(namespaceOf(key), key)
	}
	return vv.values[vv.latest], nil
}

func (s *InMemoryStorage) Set(auth *AuthContext, key string, v Value, comment string) error {
	if err := s.requireRole(auth, RoleWriter, key); err != nil {
		return err
	}
	oldBytes := 0
	if oldV, err := s.resolve(key); err == nil {
		oldBytes = len(EncodeWireValue(oldV))
	}
	newBytes := len(EncodeWireValue(v))
	if err := s.chargeQuotaDelta(key, oldBytes, newBytes); err != nil {
		return err
	}
	contentCID := addressValue(v)
	version := s.nextVersion(key) + 1
	info := VersionInfo{
		Version: version, Timestamp: time.Now().UnixMilli(),
		Author: callerOf(auth), Comment: comment, CID: contentCID,
	}

	target := s.data[key]
	if target == nil {
		target = &versionedValue{values: make(map[int64]Value)}
	}

	if tx := s.curTx(); tx != nil {
		vv, ok := tx.writes[key]
		if !ok {
			vv = &versionedValue{values: make(map[int64]Value)}
			if target != nil {
				vv.versions = append(vv.versions, target.versions...)
			}
			tx.writes[key] = vv
			delete(tx.deleted, key)
		}
		vv.versions = append(vv.versions, info)
		vv.values[version] = v
		vv.latest = version
	} else {
		target.versions = append(target.versions, info)
		target.values[version] = v
		target.latest = version
		s.data[key] = target
	}
	s.readCache.Remove(key)
	s.logAccess(auth, key, "set")
	return nil
}

func (s *InMemoryStorage) nextVersion(key string) int64 {
	for i := len(s.txStack) - 1; i >= 0; i-- {
		if vv, ok := s.txStack[i].writes[key]; ok {
			return vv.latest
		}
	}
	if vv, ok := s.data[key]; ok {
		return vv.latest
	}
	return 0
}

func (s *InMemoryStorage) Delete(auth *AuthContext, key string) error {
	if err := s.requireRole(auth, RoleWriter, key); err != nil {
		return err
	}
	if tx := s.curTx(); tx != nil {
		delete(tx.writes, key)
		tx.deleted[key] = true
	} else {
		if _, ok := s.data[key]; !ok {
			return ErrNotFoundKey(namespaceOf(key), key)
		}
		delete(s.data, key)
	}
	s.readCache.Remove(key)
	s.logAccess(auth, key, "delete")
	return nil
}

func (s *InMemoryStorage) Contains(auth *AuthContext, key string) bool {
	if err := s.requireRole(auth, RoleReader, key); err != nil {
		return false
	}
	_, err := s.resolve(key)
	return err == nil
}

func (s *InMemoryStorage) ListKeys(auth *AuthContext, prefix string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(k string) {
		if prefix != "" && !strings.HasPrefix(k, prefix) {
			return
		}
		if !auth.Allows(RoleReader, k) {
			return
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for k := range s.data {
		add(k)
	}
	for _, tx := range s.txStack {
		for k := range tx.writes {
			add(k)
		}
		for k := range tx.deleted {
			seen[k] = true
		}
	}
	sort.Strings(out)
	return out
}

func (s *InMemoryStorage) GetVersion(auth *AuthContext, key string, version int64) (Value, error) {
	if err := s.requireRole(auth, RoleReader, key); err != nil {
		return Value{}, err
	}
	vv := s.versionedEntry(key)
	if vv == nil {
		return Value{}, ErrNotFoundKey(namespaceOf(key), key)
	}
	if v, ok := vv.values[version]; ok {
		return v, nil
	}
	return Value{}, newErr(ErrKindVersionNotFound, "GetVersion", fmt.Sprintf("version %d not found for key %q", version, key))
}

func (s *InMemoryStorage) versionedEntry(key string) *versionedValue {
	for i := len(s.txStack) - 1; i >= 0; i-- {
		if vv, ok := s.txStack[i].writes[key]; ok {
			return vv
		}
	}
	return s.data[key]
}

func (s *InMemoryStorage) ListVersions(auth *AuthContext, key string) ([]VersionInfo, error) {
	if err := s.requireRole(auth, RoleReader, key); err != nil {
		return nil, err
	}
	vv := s.versionedEntry(key)
	if vv == nil {
		return nil, ErrNotFoundKey(namespaceOf(key), key)
	}
	out := make([]VersionInfo, len(vv.versions))
	copy(out, vv.versions)
	return out, nil
}

func (s *InMemoryStorage) DiffVersions(auth *AuthContext, key string, from, to int64) (string, error) {
	a, err := s.GetVersion(auth, key, from)
	if err != nil {
		return "", err
	}
	b, err := s.GetVersion(auth, key, to)
	if err != nil {
		return "", err
	}
	if a.ToCanonicalString() == b.ToCanonicalString() {
		return "", nil
	}
	return fmt.Sprintf("-%s\n+%s", a.ToCanonicalString(), b.ToCanonicalString()), nil
}

func (s *InMemoryStorage) BeginTransaction(auth *AuthContext) error {
	snap := make(map[string]float64, len(s.accounts))
	for id, acc := range s.accounts {
		snap[id] = acc.Balance
	}
	s.txStack = append(s.txStack, &txFrame{
		writes:       make(map[string]*versionedValue),
		deleted:      make(map[string]bool),
		acctSnapshot: snap,
	})
	s.logTx(auth, "begin")
	return nil
}

func (s *InMemoryStorage) CommitTransaction(auth *AuthContext) error {
	if !s.inTx() {
		return newErr(ErrKindTransaction, "CommitTransaction", "no transaction in progress")
	}
	tx := s.txStack[len(s.txStack)-1]
	s.txStack = s.txStack[:len(s.txStack)-1]

	if parent := s.curTx(); parent != nil {
		for k, vv := range tx.writes {
			parent.writes[k] = vv
			delete(parent.deleted, k)
		}
		for k := range tx.deleted {
			delete(parent.writes, k)
			parent.deleted[k] = true
		}
	} else {
		for k, vv := range tx.writes {
			s.data[k] = vv
			s.readCache.Remove(k)
		}
		for k := range tx.deleted {
			delete(s.data, k)
			s.readCache.Remove(k)
		}
	}
	s.logTx(auth, "commit")
	return nil
}

func (s *InMemoryStorage) RollbackTransaction(auth *AuthContext) error {
	if !s.inTx() {
		return newErr(ErrKindTransaction, "RollbackTransaction", "no transaction in progress")
	}
	tx := s.txStack[len(s.txStack)-1]
	s.txStack = s.txStack[:len(s.txStack)-1]
	for id, bal := range tx.acctSnapshot {
		if acc, ok := s.accounts[id]; ok {
			acc.Balance = bal
		}
	}
	s.logTx(auth, "rollback")
	return nil
}

func (s *InMemoryStorage) CreateNamespace(auth *AuthContext, name, owner string, quota float64) error {
	if err := s.requireRole(auth, RoleAdmin, name); err != nil {
		return err
	}
	if _, exists := s.namespaces[name]; exists {
		return newErr(ErrKindValidation, "CreateNamespace", fmt.Sprintf("namespace %q already exists", name))
	}
	s.namespaces[name] = NamespaceInfo{Name: name, Owner: owner, Quota: quota}
	s.accounts[name] = NewResourceAccount(name, quota)
	return nil
}

func (s *InMemoryStorage) ListNamespaces(auth *AuthContext) []NamespaceInfo {
	out := make([]NamespaceInfo, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *InMemoryStorage) GetUsage(auth *AuthContext, namespace string) (float64, float64, error) {
	acc, ok := s.accounts[namespace]
	if !ok {
		return 0, 0, newErr(ErrKindNotFound, "GetUsage", fmt.Sprintf("no account for namespace %q", namespace))
	}
	return acc.Balance, acc.Quota, nil
}

func (s *InMemoryStorage) CreateAccount(auth *AuthContext, id string, quota float64) error {
	if _, exists := s.accounts[id]; exists {
		return newErr(ErrKindResourceAlreadyExists, "CreateAccount", fmt.Sprintf("account %q already exists", id))
	}
	s.accounts[id] = NewResourceAccount(id, quota)
	return nil
}

// SetAccountBalance writes an account's Balance directly, bypassing
// chargeQuotaDelta entirely. This is the path mint/burn/transfer use: those
// ops model economic resource balances (spec.md's resource/economic op
// family), a separate concern from the namespace byte quota Set() enforces,
// and must not consume it.
func (s *InMemoryStorage) SetAccountBalance(auth *AuthContext, id string, balance float64) error {
	acc, ok := s.accounts[id]
	if !ok {
		return newErr(ErrKindResourceNotFound, "SetAccountBalance", fmt.Sprintf("account %q not found", id))
	}
	acc.Balance = balance
	s.AppendAuditEntry(StorageEvent{
		Kind: EventResourceUsage, Key: id, Action: "balance_update",
		User: callerOf(auth), Amount: balance, Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

// chargeQuotaDelta charges only the byte delta between a key's previous
// encoded size and its new one: a same-size overwrite costs nothing, a
// shrink refunds the difference, only growth is deducted from the
// namespace's ResourceAccount (spec.md §3/§4.4: "new_bytes - old_bytes
// charged ... shrinking a value refunds"). Quota is accounted in raw bytes,
// matching quota_bytes/used_bytes in the data model.
func (s *InMemoryStorage) chargeQuotaDelta(key string, oldBytes, newBytes int) error {
	ns := namespaceOf(key)
	acc, ok := s.accounts[ns]
	if !ok {
		return nil // unmetered namespace
	}
	delta := float64(newBytes - oldBytes)
	if delta > 0 {
		if !acc.Deduct(delta, "set:"+key) {
			return ErrQuotaExceededAccount(ns, int64(delta), int64(acc.Balance))
		}
		return nil
	}
	acc.Refund(-delta, "set:"+key)
	return nil
}

func (s *InMemoryStorage) logAccess(auth *AuthContext, key, action string) {
	s.AppendAuditEntry(StorageEvent{
		Kind: EventAccess, Key: key, Action: action,
		User: callerOf(auth), Timestamp: time.Now().UnixMilli(),
	})
}

func (s *InMemoryStorage) logTx(auth *AuthContext, action string) {
	s.AppendAuditEntry(StorageEvent{
		Kind: EventTransaction, Action: action,
		User: callerOf(auth), Timestamp: time.Now().UnixMilli(),
	})
}

// AppendAuditEntry chains each entry's keccak256 hash to the previous one,
// giving the audit log tamper-evidence without a full blockchain (§5).
func (s *InMemoryStorage) AppendAuditEntry(ev StorageEvent) {
	payload := fmt.Sprintf("%d|%s|%s|%s|%d|%s", ev.Kind, ev.Key, ev.Action, ev.User, ev.Timestamp, s.lastHash)
	sum := crypto.Keccak256([]byte(payload))
	ev.EntryHash = fmt.Sprintf("%x", sum)
	s.lastHash = ev.EntryHash
	s.auditLog = append(s.auditLog, ev)
}

func (s *InMemoryStorage) QueryAudit(prefix string, limit int) []StorageEvent {
	var out []StorageEvent
	for i := len(s.auditLog) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		ev := s.auditLog[i]
		if prefix == "" || strings.HasPrefix(ev.Key, prefix) {
			out = append(out, ev)
		}
	}
	return out
}

func callerOf(auth *AuthContext) string {
	if auth == nil {
		return ""
	}
	return auth.Caller
}

// namespaceOf returns the leading path segment of a slash-separated key,
// used both for RBAC scoping and per-namespace quota accounting.
func namespaceOf(key string) string {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}

// addressValue content-addresses a stored value with a CIDv1/sha2-256
// multihash, mirroring how the teacher content-addresses ledger payloads;
// here it gives each VersionInfo a verifiable, storage-backend-independent
// identity (§5).
func addressValue(v Value) string {
	h, err := mh.Sum(EncodeWireValue(v), mh.SHA2_256, -1)
	if err != nil {
		return ""
	}
	c := cid.NewCidV1(cid.Raw, h)
	return c.String()
}
