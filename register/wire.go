// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package register

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/quorumnet/core/identity"
	"github.com/quorumnet/core/xorname"
)

// wireUser is the JSON-friendly projection of a User.
type wireUser struct {
	Anyone bool   `json:"anyone"`
	Key    string `json:"key,omitempty"`
}

func marshalUser(u User) wireUser {
	if u.isAnyone {
		return wireUser{Anyone: true}
	}
	return wireUser{Key: u.key.String()}
}

func unmarshalUser(w wireUser) (User, error) {
	if w.Anyone {
		return AnyUser, nil
	}
	pk, err := publicKeyFromHex(w.Key)
	if err != nil {
		return User{}, err
	}
	return UserKey(pk), nil
}

// wirePermission is one entry of Policy.Permissions.
type wirePermission struct {
	User   wireUser `json:"user"`
	Read   tri      `json:"read"`
	Write  tri      `json:"write"`
	Manage tri      `json:"manage"`
}

// wireEntry is one entry of the Crdt's arena, keyed by its own hash on
// the wire rather than as a map, since json requires string map keys.
type wireEntry struct {
	Hash      string   `json:"hash"`
	Value     Entry    `json:"value"`
	Parents   []string `json:"parents"`
	Authority string   `json:"authority"`
}

// wireReplica is the full on-wire shape of one register replica: its
// policy and its entry DAG, as returned by a register query response
// and as exchanged between replicas outside the CrdtOperation path
// (e.g. seeding a fresh replica from an elder's snapshot).
type wireReplica struct {
	Name          string           `json:"name"`
	Tag           uint64           `json:"tag"`
	Authority     string           `json:"authority"`
	Owner         wireUser         `json:"owner"`
	PolicyVersion uint64           `json:"policy_version"`
	Permissions   []wirePermission `json:"permissions"`
	Entries       []wireEntry      `json:"entries"`
}

// MarshalReplica encodes r's full replica state — CRDT entry DAG and
// policy — for wire transport. The replica's own write authority
// travels too, since a session reconstructing a Register from this
// snapshot still needs an authority key for any further local writes.
func MarshalReplica(r *Register) ([]byte, error) {
	entries := make([]wireEntry, 0, len(r.crdt.entries))
	for hash, n := range r.crdt.entries {
		parents := make([]string, 0, len(n.parents))
		for _, p := range n.parents {
			parents = append(parents, p.String())
		}
		entries = append(entries, wireEntry{
			Hash:      hash.String(),
			Value:     n.value,
			Parents:   parents,
			Authority: n.authority.String(),
		})
	}

	perms := make([]wirePermission, 0, len(r.policy.Permissions))
	for u, ps := range r.policy.Permissions {
		perms = append(perms, wirePermission{
			User: marshalUser(u), Read: ps.read, Write: ps.write, Manage: ps.manage,
		})
	}

	wr := wireReplica{
		Name:          r.Name().String(),
		Tag:           r.Tag(),
		Authority:     r.authority.String(),
		Owner:         marshalUser(r.policy.Owner),
		PolicyVersion: r.policy.Version,
		Permissions:   perms,
		Entries:       entries,
	}
	return json.Marshal(wr)
}

// UnmarshalReplica reverses MarshalReplica, reconstructing a *Register
// whose entry DAG and policy match the snapshot exactly. Entries are
// admitted through the Crdt directly (bypassing per-op signature
// re-verification): the snapshot is an already-accepted replica
// state, not a stream of individually-authored ops.
func UnmarshalReplica(data []byte) (*Register, error) {
	var wr wireReplica
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, fmt.Errorf("register: decode replica: %w", err)
	}
	name, err := nameFromHex(wr.Name)
	if err != nil {
		return nil, err
	}
	authority, err := publicKeyFromHex(wr.Authority)
	if err != nil {
		return nil, err
	}
	owner, err := unmarshalUser(wr.Owner)
	if err != nil {
		return nil, err
	}

	policy := Policy{
		Owner:       owner,
		Permissions: make(map[User]PermissionSet, len(wr.Permissions)),
		Version:     wr.PolicyVersion,
	}
	for _, p := range wr.Permissions {
		u, err := unmarshalUser(p.User)
		if err != nil {
			return nil, err
		}
		policy.Permissions[u] = PermissionSet{read: p.Read, write: p.Write, manage: p.Manage}
	}

	r := New(authority, name, wr.Tag, policy)
	for _, we := range wr.Entries {
		hash, err := entryHashFromHex(we.Hash)
		if err != nil {
			return nil, err
		}
		parents := make([]EntryHash, 0, len(we.Parents))
		for _, ph := range we.Parents {
			p, err := entryHashFromHex(ph)
			if err != nil {
				return nil, err
			}
			parents = append(parents, p)
		}
		entryAuthority, err := publicKeyFromHex(we.Authority)
		if err != nil {
			return nil, err
		}
		if err := r.crdt.ApplyOp(CrdtOperation{
			Address:   r.Address(),
			Hash:      hash,
			Value:     we.Value,
			Parents:   parents,
			Authority: entryAuthority,
		}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func nameFromHex(s string) (xorname.Name, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != xorname.Len {
		return xorname.Name{}, fmt.Errorf("register: decode name %q: %w", s, err)
	}
	return xorname.Name(b), nil
}

func publicKeyFromHex(s string) (identity.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return identity.PublicKey{}, fmt.Errorf("register: decode public key %q: %w", s, err)
	}
	return identity.PublicKeyFromBytes(b)
}

func entryHashFromHex(s string) (EntryHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != HashLen {
		return EntryHash{}, fmt.Errorf("register: decode entry hash %q: %w", s, err)
	}
	return EntryHash(b), nil
}
