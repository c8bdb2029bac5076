// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package section

import (
	"github.com/quorumnet/core/blskey"
	"github.com/quorumnet/core/corerr"
	"github.com/quorumnet/core/set"
)

// edge is a single verified parent -> child signature in the DAG.
type edge struct {
	parent blskey.SectionKey
	child  blskey.SectionKey
	sig    blskey.Signature
}

// DAG is a rooted, signed-edge DAG of section public keys. The root
// is the network genesis key; every other node is reachable by a
// chain of signatures, each one made by the parent key over the
// child key's bytes.
type DAG struct {
	genesis blskey.SectionKey
	// children maps a key to the set of keys it has signed into
	// existence.
	children map[string][]edge
	// parents maps a key to the key that signed it (absent for genesis).
	parents map[string]blskey.SectionKey
	keys    map[string]blskey.SectionKey
}

// NewDAG creates a DAG containing only the genesis key.
func NewDAG(genesis blskey.SectionKey) *DAG {
	d := &DAG{
		genesis:  genesis,
		children: make(map[string][]edge),
		parents:  make(map[string]blskey.SectionKey),
		keys:     make(map[string]blskey.SectionKey),
	}
	d.keys[genesis.String()] = genesis
	return d
}

// Genesis returns the DAG's root key.
func (d *DAG) Genesis() blskey.SectionKey { return d.genesis }

// HasKey reports whether pk is a node of the DAG.
func (d *DAG) HasKey(pk blskey.SectionKey) bool {
	_, ok := d.keys[pk.String()]
	return ok
}

// VerifyAndInsert checks and inserts a single parent -> child edge.
func (d *DAG) VerifyAndInsert(parent, child blskey.SectionKey, sig blskey.Signature) error {
	if !d.HasKey(parent) {
		return corerr.New(corerr.KindOrphanBranch)
	}
	if !blskey.Verify(parent, sig, child.Bytes()) {
		return corerr.New(corerr.KindBadSignature)
	}
	if d.HasKey(child) {
		// Already present: re-inserting the identical edge is a no-op;
		// inserting a different parent for an existing child would be
		// a cycle/fork, which acyclicity forbids.
		if existing, ok := d.parents[child.String()]; ok && !existing.Equal(parent) {
			return corerr.New(corerr.KindAcyclicViolation)
		}
		return nil
	}
	if d.wouldCycle(parent, child) {
		return corerr.New(corerr.KindAcyclicViolation)
	}
	d.insert(parent, child, sig)
	return nil
}

func (d *DAG) insert(parent, child blskey.SectionKey, sig blskey.Signature) {
	d.keys[child.String()] = child
	d.parents[child.String()] = parent
	d.children[parent.String()] = append(d.children[parent.String()], edge{parent: parent, child: child, sig: sig})
}

// wouldCycle reports whether child is already an ancestor of parent,
// which would make inserting parent -> child a cycle.
func (d *DAG) wouldCycle(parent, child blskey.SectionKey) bool {
	cur := parent
	for {
		if cur.Equal(child) {
			return true
		}
		p, ok := d.parents[cur.String()]
		if !ok {
			return false
		}
		cur = p
	}
}

// Merge inserts every edge of other into d, in topological order,
// skipping edges already present. Fails if the roots differ.
func (d *DAG) Merge(other *DAG) error {
	if !d.genesis.Equal(other.genesis) {
		return corerr.New(corerr.KindIncompatibleRoots)
	}
	// Topological order: BFS from genesis following other's children map.
	queue := []blskey.SectionKey{other.genesis}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range other.children[cur.String()] {
			if err := d.VerifyAndInsert(e.parent, e.child, e.sig); err != nil {
				return err
			}
			queue = append(queue, e.child)
		}
	}
	return nil
}

// LeafKeys returns the set of keys with no children: the currently
// authoritative section keys, one per live prefix.
func (d *DAG) LeafKeys() set.Set[string] {
	leaves := make(set.Set[string], len(d.keys))
	for k := range d.keys {
		if len(d.children[k]) == 0 {
			leaves.Add(k)
		}
	}
	return leaves
}

// Keys returns every key in the DAG.
func (d *DAG) Keys() []blskey.SectionKey {
	out := make([]blskey.SectionKey, 0, len(d.keys))
	for _, k := range d.keys {
		out = append(out, k)
	}
	return out
}

// LastInsertedChild is a helper for tests: given a parent, returns the
// most recently inserted child edge, if any.
func (d *DAG) LastInsertedChild(parent blskey.SectionKey) (blskey.SectionKey, bool) {
	edges := d.children[parent.String()]
	if len(edges) == 0 {
		return blskey.SectionKey{}, false
	}
	return edges[len(edges)-1].child, true
}

// PartialDAG returns the unique chain from `from` to `to`. Fails with
// NoChain if from is not an ancestor of to, MultipleBranchError if the
// sub-DAG would contain a branch (i.e. some key on the path signed
// more than one child that is also on the path — in a simple linear
// chain this cannot happen, but a `to` reachable via two distinct
// parents within the queried range is rejected).
func (d *DAG) PartialDAG(from, to blskey.SectionKey) (*DAG, error) {
	if !d.HasKey(from) || !d.HasKey(to) {
		return nil, corerr.New(corerr.KindNoChain)
	}
	// Walk back from `to` to `from`, recording the single path.
	type step struct {
		parent, child blskey.SectionKey
		sig           blskey.Signature
	}
	var path []step
	cur := to
	for !cur.Equal(from) {
		parent, ok := d.parents[cur.String()]
		if !ok {
			return nil, corerr.New(corerr.KindNoChain)
		}
		var sig blskey.Signature
		for _, e := range d.children[parent.String()] {
			if e.child.Equal(cur) {
				sig = e.sig
				break
			}
		}
		path = append(path, step{parent: parent, child: cur, sig: sig})
		cur = parent
	}
	partial := NewDAG(from)
	for i := len(path) - 1; i >= 0; i-- {
		s := path[i]
		if len(partial.children[s.parent.String()]) > 0 {
			return nil, corerr.New(corerr.KindMultipleBranchError)
		}
		partial.insert(s.parent, s.child, s.sig)
	}
	return partial, nil
}

// CheckTrust reports whether the DAG contains at least one key from
// trusted and every key in the DAG is reachable from some trusted key.
func (d *DAG) CheckTrust(trusted set.Set[string]) bool {
	foundTrusted := false
	for k := range d.keys {
		if trusted.Contains(k) {
			foundTrusted = true
			break
		}
	}
	if !foundTrusted {
		return false
	}
	for k := range d.keys {
		if !d.reachableFromTrusted(k, trusted) {
			return false
		}
	}
	return true
}

func (d *DAG) reachableFromTrusted(keyStr string, trusted set.Set[string]) bool {
	cur := keyStr
	for {
		if trusted.Contains(cur) {
			return true
		}
		pk, ok := d.keys[cur]
		if !ok {
			return false
		}
		parent, ok := d.parents[pk.String()]
		if !ok {
			return false
		}
		cur = parent.String()
	}
}

// LastKey returns the single leaf key of a linear proof chain (as
// produced by PartialDAG / GenerateUpdate). Errors if the DAG has
// more than one leaf.
func (d *DAG) LastKey() (blskey.SectionKey, error) {
	leaves := d.LeafKeys()
	if leaves.Len() != 1 {
		return blskey.SectionKey{}, corerr.New(corerr.KindMultipleBranchError)
	}
	for _, k := range d.Keys() {
		if leaves.Contains(k.String()) {
			return k, nil
		}
	}
	return blskey.SectionKey{}, corerr.New(corerr.KindNoChain)
}
