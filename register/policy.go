// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package register implements the CRDT register: a content-addressed
// entry DAG guarded by an owner/permission policy, merged without
// coordination across replicas.
package register

import (
	"bytes"
	"sort"

	"github.com/quorumnet/core/corerr"
	"github.com/quorumnet/core/identity"
)

// Action is an operation a Policy can allow or deny.
type Action int

const (
	ActionRead Action = iota
	ActionWrite
	ActionManagePermissions
)

// User identifies either a specific signing key or every key.
type User struct {
	key      identity.PublicKey
	isAnyone bool
}

// AnyUser is the User matching every requester that has no specific
// grant; it is the permission fallback.
var AnyUser = User{isAnyone: true}

// UserKey wraps a specific public key as a User.
func UserKey(pk identity.PublicKey) User { return User{key: pk} }

func (u User) IsAnyone() bool { return u.isAnyone }

func (u User) Equal(o User) bool {
	if u.isAnyone != o.isAnyone {
		return false
	}
	if u.isAnyone {
		return true
	}
	return u.key.Equal(o.key)
}

func (u User) String() string {
	if u.isAnyone {
		return "Anyone"
	}
	return u.key.String()
}

// sortKey gives User a total order for deterministic policy
// serialisation (tie-breaking on merge).
func (u User) sortKey() string {
	if u.isAnyone {
		return "\x00anyone"
	}
	return "\x01" + string(u.key.Bytes())
}

// tri is a three-valued permission bit: unset falls through to the
// next applicable rule (a specific user's unset bit falls through to
// the Anyone entry; Anyone's unset bit denies).
type tri int

const (
	unset tri = iota
	allow
	deny
)

// PermissionSet grants or denies each Action, three-valued so an
// explicit grant can coexist with an inherited default.
type PermissionSet struct {
	read, write, manage tri
}

// NewPermissionSet builds a PermissionSet with explicit read/write/
// manage-permissions grants (true=allow, false=deny).
func NewPermissionSet(read, write, manage bool) PermissionSet {
	return PermissionSet{read: triOf(read), write: triOf(write), manage: triOf(manage)}
}

func triOf(b bool) tri {
	if b {
		return allow
	}
	return deny
}

func (p PermissionSet) bit(a Action) tri {
	switch a {
	case ActionRead:
		return p.read
	case ActionWrite:
		return p.write
	case ActionManagePermissions:
		return p.manage
	default:
		return unset
	}
}

// Policy binds a register to its owner and the per-user permission
// grants, plus a monotonic version used to resolve concurrent policy
// merges (higher version wins; ties by serialised byte order).
type Policy struct {
	Owner       User
	Permissions map[User]PermissionSet
	Version     uint64
}

// NewPolicy builds a policy with the given owner and no extra grants.
func NewPolicy(owner User) Policy {
	return Policy{Owner: owner, Permissions: make(map[User]PermissionSet)}
}

// IsActionAllowed reports whether requester may perform action. The
// owner is always allowed everything. Otherwise: the requester's own
// entry is consulted; if unset or absent, the Anyone entry is
// consulted; if that is also unset or absent, the action is denied.
func (p Policy) IsActionAllowed(requester User, action Action) error {
	if requester.Equal(p.Owner) {
		return nil
	}
	if ps, ok := p.Permissions[requester]; ok {
		switch ps.bit(action) {
		case allow:
			return nil
		case deny:
			return corerr.New(corerr.KindAccessDenied)
		}
	}
	if ps, ok := p.Permissions[AnyUser]; ok {
		if ps.bit(action) == allow {
			return nil
		}
	}
	return corerr.New(corerr.KindAccessDenied)
}

// PermissionsFor returns the permission set applicable to user,
// falling back to Anyone's grant if the user has none of its own.
func (p Policy) PermissionsFor(user User) (PermissionSet, error) {
	if ps, ok := p.Permissions[user]; ok {
		return ps, nil
	}
	if ps, ok := p.Permissions[AnyUser]; ok {
		return ps, nil
	}
	return PermissionSet{}, corerr.New(corerr.KindNoSuchUser)
}

// bytes gives a deterministic serialisation of p for tie-breaking a
// merge between two policies with the same Version.
func (p Policy) bytes() []byte {
	users := make([]User, 0, len(p.Permissions))
	for u := range p.Permissions {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].sortKey() < users[j].sortKey() })

	var buf bytes.Buffer
	buf.WriteString(p.Owner.sortKey())
	for _, u := range users {
		ps := p.Permissions[u]
		buf.WriteString(u.sortKey())
		buf.WriteByte(byte(ps.read))
		buf.WriteByte(byte(ps.write))
		buf.WriteByte(byte(ps.manage))
	}
	return buf.Bytes()
}

// MergePolicy resolves two policies seen for the same register:
// the higher Version wins; ties are broken by lexicographic
// comparison of the serialised policy.
func MergePolicy(a, b Policy) Policy {
	if a.Version != b.Version {
		if a.Version > b.Version {
			return a
		}
		return b
	}
	if bytes.Compare(a.bytes(), b.bytes()) >= 0 {
		return a
	}
	return b
}
