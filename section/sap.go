// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package section implements the routing oracle: Section Authority
// Providers, the signed-edge DAG of section keys, and the prefix map
// (SectionTree) that resolves a name to the elders currently
// responsible for it.
package section

import (
	"bytes"
	"sort"

	"github.com/luxfi/ids"
	"github.com/quorumnet/core/blskey"
	"github.com/quorumnet/core/xorname"
)

// SAP (Section Authority Provider) is the self-verifying tuple
// identifying one generation of one section.
type SAP struct {
	Prefix     xorname.Prefix
	SectionKey blskey.SectionKey
	Elders     map[ids.NodeID]xorname.Name // elder node id -> elder's xor name
	Adults     map[ids.NodeID]xorname.Name
	SignerKey  blskey.SectionKey // key that produced Signature; must equal SectionKey
	Signature  blskey.Signature
}

// content is the byte sequence the SAP's signature covers: the
// prefix bits, the section key, and the sorted elder name list. Adults
// are intentionally excluded — elder churn below the signing
// threshold must not invalidate an existing SAP.
func (s SAP) content() []byte {
	var buf bytes.Buffer
	buf.WriteString(s.Prefix.Bits())
	buf.Write(s.SectionKey.Bytes())

	names := make([]xorname.Name, 0, len(s.Elders))
	for _, n := range s.Elders {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Cmp(names[j]) < 0 })
	for _, n := range names {
		buf.Write(n[:])
	}
	return buf.Bytes()
}

// SelfVerify reports whether the SAP's signature verifies under
// SignerKey over the SAP's own content.
func (s SAP) SelfVerify() bool {
	return blskey.Verify(s.SignerKey, s.Signature, s.content())
}

// IsValid reports the full self-verification contract: the signature
// verifies and the signer is the section key itself.
func (s SAP) IsValid() bool {
	return s.SignerKey.Equal(s.SectionKey) && s.SelfVerify()
}

// ElderCount returns the number of elders in the SAP.
func (s SAP) ElderCount() int { return len(s.Elders) }

// Supermajority returns the minimum number of elders required to
// reach a binding quorum: floor(2n/3) + 1.
func Supermajority(n int) int {
	if n == 0 {
		return 0
	}
	return (2*n)/3 + 1
}

// ElderNames returns the elder xor names, sorted for determinism.
func (s SAP) ElderNames() []xorname.Name {
	names := make([]xorname.Name, 0, len(s.Elders))
	for _, n := range s.Elders {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Cmp(names[j]) < 0 })
	return names
}

// ElderIDs returns the elder node ids, sorted for determinism.
func (s SAP) ElderIDs() []ids.NodeID {
	out := make([]ids.NodeID, 0, len(s.Elders))
	for id := range s.Elders {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// SignSAP produces a self-signed SAP, used by tests and by the
// genesis-standing helper to build the network's first section.
func SignSAP(prefix xorname.Prefix, share blskey.SecretShare, elders, adults map[ids.NodeID]xorname.Name) SAP {
	sap := SAP{
		Prefix:     prefix,
		SectionKey: share.Public(),
		Elders:     elders,
		Adults:     adults,
		SignerKey:  share.Public(),
	}
	sap.Signature = share.Sign(sap.content())
	return sap
}
