package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// MemberRole mirrors the teacher's DAORole enum (dao_access_control.go),
// generalized from a DAO-scoped role to the namespace-scoped Role grants
// Storage enforces.
type MemberRole uint8

const (
	MemberRoleReader MemberRole = iota + 1
	MemberRoleWriter
	MemberRoleAdmin
)

func (r MemberRole) roleKind() RoleKind {
	switch r {
	case MemberRoleWriter:
		return RoleWriter
	case MemberRoleAdmin:
		return RoleAdmin
	default:
		return RoleReader
	}
}

// Member records one identity's standing within a namespace, grounded on
// the teacher's DAO.Members map (dao.go) and DAOMember record
// (dao_access_control.go), generalized from an Address-keyed map to
// per-member Storage records so membership survives independently of any
// single DAO/namespace record and can be queried via ListKeys.
type Member struct {
	Identity string
	Role     MemberRole
	JoinedAt int64
}

func memberKey(namespace, identity string) string {
	return "members/" + namespace + "/" + identity
}

// Membership manages namespace membership against a Storage backend,
// replacing the teacher's Ledger-backed DAO registry (dao.go,
// dao_access_control.go) with the CoVM's own versioned/permissioned store.
type Membership struct {
	storage Storage
	auth    *AuthContext
}

func NewMembership(storage Storage, auth *AuthContext) *Membership {
	return &Membership{storage: storage, auth: auth}
}

// Join registers identity as a member of namespace with the given role by
// writing its member record. It grants no Storage Role; GrantAuth applies
// the matching role to an AuthContext as a separate step.
func (m *Membership) Join(namespace, identity string, role MemberRole) error {
	key := memberKey(namespace, identity)
	if m.storage.Contains(m.auth, key) {
		return newErr(ErrKindResourceAlreadyExists, "Join", fmt.Sprintf("%s is already a member of %s", identity, namespace))
	}
	rec := Member{Identity: identity, Role: role, JoinedAt: time.Now().UnixMilli()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return wrapErr(ErrKindSerialization, "Join", "failed to serialize member record", err)
	}
	return m.storage.Set(m.auth, key, String(string(raw)), "member join")
}

func (m *Membership) Leave(namespace, identity string) error {
	key := memberKey(namespace, identity)
	if !m.storage.Contains(m.auth, key) {
		return newErr(ErrKindNotFound, "Leave", fmt.Sprintf("%s is not a member of %s", identity, namespace))
	}
	return m.storage.Delete(m.auth, key)
}

func (m *Membership) IsMember(namespace, identity string) bool {
	return m.storage.Contains(m.auth, memberKey(namespace, identity))
}

func (m *Membership) RoleOf(namespace, identity string) (MemberRole, error) {
	v, err := m.storage.Get(m.auth, memberKey(namespace, identity))
	if err != nil {
		return 0, newErr(ErrKindNotFound, "RoleOf", fmt.Sprintf("%s is not a member of %s", identity, namespace))
	}
	var rec Member
	if err := json.Unmarshal([]byte(v.ToCanonicalString()), &rec); err != nil {
		return 0, wrapErr(ErrKindDeserialization, "RoleOf", "malformed member record", err)
	}
	return rec.Role, nil
}

// ListMembers returns every member of namespace, optionally filtered by
// role (0 returns all).
func (m *Membership) ListMembers(namespace string, role MemberRole) ([]Member, error) {
	keys := m.storage.ListKeys(m.auth, "members/"+namespace+"/")
	var out []Member
	for _, k := range keys {
		v, err := m.storage.Get(m.auth, k)
		if err != nil {
			continue
		}
		var rec Member
		if err := json.Unmarshal([]byte(v.ToCanonicalString()), &rec); err != nil {
			continue
		}
		if role != 0 && rec.Role != role {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// GrantAuth populates auth with the Storage Role corresponding to a
// member's role in namespace, so a freshly constructed AuthContext reflects
// the membership record before the caller issues Storage calls.
func (m *Membership) GrantAuth(auth *AuthContext, namespace, identity string) error {
	role, err := m.RoleOf(namespace, identity)
	if err != nil {
		return err
	}
	auth.Grant(role.roleKind(), namespace)
	return nil
}
