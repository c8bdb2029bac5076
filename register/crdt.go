// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package register

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/quorumnet/core/corerr"
	"github.com/quorumnet/core/identity"
	"github.com/quorumnet/core/xorname"
	"golang.org/x/crypto/blake2b"
)

// HashLen is the width of an EntryHash.
const HashLen = 32

// EntryHash content-addresses a single register entry: hash(value ||
// sorted(parent_hashes) || authority_pk).
type EntryHash [HashLen]byte

func (h EntryHash) String() string { return hex.EncodeToString(h[:]) }

func (h EntryHash) Less(o EntryHash) bool { return bytes.Compare(h[:], o[:]) < 0 }

// Entry is the opaque payload a register write carries.
type Entry []byte

func hashEntry(value Entry, parents []EntryHash, authority identity.PublicKey) EntryHash {
	sorted := append([]EntryHash(nil), parents...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	h, _ := blake2b.New256(nil)
	h.Write(value)
	for _, p := range sorted {
		h.Write(p[:])
	}
	h.Write(authority.Bytes())

	var out EntryHash
	copy(out[:], h.Sum(nil))
	return out
}

// CrdtOperation is the unsigned mutation a write() produces; the
// caller signs Signature = authority.Sign(canonical bytes) before
// broadcasting it to other replicas.
type CrdtOperation struct {
	Address   Address
	Hash      EntryHash
	Value     Entry
	Parents   []EntryHash
	Authority identity.PublicKey
	Signature []byte
}

// SignableBytes is what the authority signs and apply_op verifies.
func (op CrdtOperation) SignableBytes() []byte {
	var buf bytes.Buffer
	buf.Write(op.Address.Name[:])
	var tagBuf [8]byte
	putUint64(tagBuf[:], op.Address.Tag)
	buf.Write(tagBuf[:])
	buf.Write(op.Hash[:])
	buf.Write(op.Value)
	sorted := append([]EntryHash(nil), op.Parents...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	for _, p := range sorted {
		buf.Write(p[:])
	}
	return buf.Bytes()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

// Address identifies a register by (name, tag).
type Address struct {
	Name xorname.Name
	Tag  uint64
}

func (a Address) String() string { return a.Name.String() }

type entryNode struct {
	value     Entry
	parents   []EntryHash
	authority identity.PublicKey
}

// Crdt is the entry DAG: an arena of entries keyed by content hash,
// with parents stored as hashes rather than pointers, plus the set of
// currently visible leaves.
type Crdt struct {
	address Address
	entries map[EntryHash]entryNode
	leaves  map[EntryHash]struct{}
	// referenced records every hash cited as a parent by some entry,
	// whether or not that parent has arrived yet. A hash that is
	// referenced never becomes a leaf, even if its own entry is
	// delivered after the child that names it.
	referenced map[EntryHash]struct{}
}

// NewCrdt creates an empty Crdt rooted at address.
func NewCrdt(address Address) *Crdt {
	return &Crdt{
		address:    address,
		entries:    make(map[EntryHash]entryNode),
		leaves:     make(map[EntryHash]struct{}),
		referenced: make(map[EntryHash]struct{}),
	}
}

func (c *Crdt) Address() Address { return c.address }

// Size returns the number of entries currently stored.
func (c *Crdt) Size() int { return len(c.entries) }

// Get returns the entry for hash, if present.
func (c *Crdt) Get(hash EntryHash) (Entry, bool) {
	n, ok := c.entries[hash]
	if !ok {
		return nil, false
	}
	return n.value, true
}

// Read returns the current leaves: hash/entry pairs with no children.
func (c *Crdt) Read() map[EntryHash]Entry {
	out := make(map[EntryHash]Entry, len(c.leaves))
	for h := range c.leaves {
		out[h] = c.entries[h].value
	}
	return out
}

// Write builds a new entry with the given value and parents, authored
// by authority, returning its hash and the unsigned operation for the
// caller to sign and broadcast. It does not itself insert the entry;
// callers apply their own writes through ApplyOp like any other
// replica, so local and remote writes share one code path.
func (c *Crdt) Write(value Entry, parents []EntryHash, authority identity.PublicKey) (EntryHash, CrdtOperation) {
	hash := hashEntry(value, parents, authority)
	op := CrdtOperation{
		Address:   c.address,
		Hash:      hash,
		Value:     value,
		Parents:   append([]EntryHash(nil), parents...),
		Authority: authority,
	}
	return hash, op
}

// ApplyOp inserts op's entry if not already present. Parents that are
// not yet present are tolerated: the edge is recorded, and such a
// parent never becomes a leaf, even once its own entry arrives
// (causal delivery by lazy refetch, not blocking). Replaying a known
// hash is a no-op success.
func (c *Crdt) ApplyOp(op CrdtOperation) error {
	if _, exists := c.entries[op.Hash]; exists {
		return nil
	}
	want := hashEntry(op.Value, op.Parents, op.Authority)
	if want != op.Hash {
		return corerr.New(corerr.KindUnexpectedQueryResponse)
	}

	c.entries[op.Hash] = entryNode{value: op.Value, parents: append([]EntryHash(nil), op.Parents...), authority: op.Authority}
	if _, isReferenced := c.referenced[op.Hash]; !isReferenced {
		c.leaves[op.Hash] = struct{}{}
	}

	for _, p := range op.Parents {
		c.referenced[p] = struct{}{}
		delete(c.leaves, p)
	}
	return nil
}

// Merge unions other's entries into c by hash; entries already
// present are skipped. Order does not matter for correctness since
// ApplyOp tracks referenced-but-not-yet-arrived parents.
func (c *Crdt) Merge(other *Crdt) {
	for hash, n := range other.entries {
		if _, exists := c.entries[hash]; exists {
			continue
		}
		_ = c.ApplyOp(CrdtOperation{
			Address:   c.address,
			Hash:      hash,
			Value:     n.value,
			Parents:   n.parents,
			Authority: n.authority,
		})
	}
}
