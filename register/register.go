// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package register

import (
	"github.com/quorumnet/core/corerr"
	"github.com/quorumnet/core/identity"
	"github.com/quorumnet/core/selfenc"
	"github.com/quorumnet/core/xorname"
)

// MaxEntrySize is MinEncryptableBytes/3: self-encryption's minimum
// encryptable size divided by three, chosen so a register entry never
// straddles the self-encryption boundary.
const MaxEntrySize = selfenc.MinEncryptableBytes / 3 // 1024 bytes

// MaxNumEntries bounds how many entries a single register may hold.
const MaxNumEntries = 1024

// Register binds a replicated entry Crdt to the authority that signs
// this replica's writes and the policy that gates every mutation.
type Register struct {
	authority identity.PublicKey
	crdt      *Crdt
	policy    Policy
}

// New creates an empty register rooted at (name, tag) with an
// explicit policy.
func New(authority identity.PublicKey, name xorname.Name, tag uint64, policy Policy) *Register {
	return &Register{
		authority: authority,
		crdt:      NewCrdt(Address{Name: name, Tag: tag}),
		policy:    policy,
	}
}

// NewOwned creates an empty register owned outright by authority, with
// no extra grants.
func NewOwned(authority identity.PublicKey, name xorname.Name, tag uint64) *Register {
	return New(authority, name, tag, NewPolicy(UserKey(authority)))
}

func (r *Register) Address() Address { return r.crdt.Address() }

func (r *Register) Name() xorname.Name { return r.crdt.Address().Name }

func (r *Register) Tag() uint64 { return r.crdt.Address().Tag }

// Owner returns the register's owning User.
func (r *Register) Owner() User { return r.policy.Owner }

// ReplicaAuthority returns the key this replica expects writes to be
// signed with.
func (r *Register) ReplicaAuthority() identity.PublicKey { return r.authority }

// Size returns the number of entries currently held.
func (r *Register) Size() int { return r.crdt.Size() }

// Get returns the entry for hash.
func (r *Register) Get(hash EntryHash) (Entry, error) {
	e, ok := r.crdt.Get(hash)
	if !ok {
		return nil, corerr.New(corerr.KindNoSuchEntry)
	}
	return e, nil
}

// Read returns the current leaves.
func (r *Register) Read() map[EntryHash]Entry { return r.crdt.Read() }

// Permissions returns the permission set for user.
func (r *Register) Permissions(user User) (PermissionSet, error) {
	return r.policy.PermissionsFor(user)
}

// Policy returns the register's policy.
func (r *Register) Policy() Policy { return r.policy }

// CheckPermissions checks whether requester (defaulting to this
// replica's own authority) may perform action.
func (r *Register) CheckPermissions(action Action, requester *User) error {
	u := UserKey(r.authority)
	if requester != nil {
		u = *requester
	}
	return r.policy.IsActionAllowed(u, action)
}

// Write validates entry size/count/permission, then produces the
// unsigned CRDT operation whose Signature field the caller fills in
// with authority's signature before broadcasting.
func (r *Register) Write(entry Entry, parents []EntryHash) (EntryHash, CrdtOperation, error) {
	if err := r.checkEntryAndRegSizes(entry); err != nil {
		return EntryHash{}, CrdtOperation{}, err
	}
	if err := r.policy.IsActionAllowed(UserKey(r.authority), ActionWrite); err != nil {
		return EntryHash{}, CrdtOperation{}, err
	}
	hash, op := r.crdt.Write(entry, parents, r.authority)
	return hash, op, nil
}

// ApplyOp verifies op's signature against op.Authority and the
// current policy's write permission for that authority, then merges
// it into the entry DAG. Replaying a known op is a no-op success.
func (r *Register) ApplyOp(op CrdtOperation) error {
	if _, exists := r.crdt.Get(op.Hash); exists {
		return nil
	}
	if err := r.checkEntryAndRegSizes(op.Value); err != nil {
		return err
	}
	if err := r.policy.IsActionAllowed(UserKey(op.Authority), ActionWrite); err != nil {
		return err
	}
	if !op.Authority.Verify(op.SignableBytes(), op.Signature) {
		return corerr.New(corerr.KindAccessDenied)
	}
	return r.crdt.ApplyOp(op)
}

// Merge unions other into r: the entry DAG unions by hash, and the
// policy with the higher version wins (ties by serialised order).
func (r *Register) Merge(other *Register) {
	r.crdt.Merge(other.crdt)
	r.policy = MergePolicy(r.policy, other.policy)
}

func (r *Register) checkEntryAndRegSizes(entry Entry) error {
	if len(entry) > MaxEntrySize {
		return corerr.New(corerr.KindEntryTooBig).WithCounts(MaxEntrySize, len(entry))
	}
	if r.crdt.Size() >= MaxNumEntries {
		return corerr.New(corerr.KindTooManyEntries).WithCounts(MaxNumEntries, r.crdt.Size())
	}
	return nil
}
