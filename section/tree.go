// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package section

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/quorumnet/core/blskey"
	"github.com/quorumnet/core/codec"
	"github.com/quorumnet/core/corerr"
	"github.com/quorumnet/core/set"
	"github.com/quorumnet/core/xorname"
)

// Update is a SAP plus the proof chain an out-of-date receiver needs
// to verify it against whatever it currently trusts.
type Update struct {
	SignedSAP   SAP
	ProofChain  *DAG
}

// Stats is the network-size estimate derived from the fraction of the
// prefix space the tree currently covers.
type Stats struct {
	KnownElders      uint64
	TotalElders      uint64
	TotalEldersExact bool
}

// Tree is the prefix -> SAP routing table, backed by a SectionsDAG
// that every SAP's section key must appear as a leaf of.
type Tree struct {
	sections map[string]SAP // keyed by prefix.Bits()
	dag      *DAG
	log      log.Logger
}

// NewTree creates a Tree containing only the genesis section. The
// genesis SAP's prefix must be the empty (root) prefix.
func NewTree(genesisSAP SAP) (*Tree, error) {
	if !genesisSAP.Prefix.IsEmpty() {
		return nil, fmt.Errorf("section: genesis SAP must have the empty prefix")
	}
	t := &Tree{
		sections: map[string]SAP{genesisSAP.Prefix.Bits(): genesisSAP},
		dag:      NewDAG(genesisSAP.SectionKey),
		log:      log.NewNoOpLogger(),
	}
	return t, nil
}

// WithLogger sets t's logger, returning t for chaining.
func (t *Tree) WithLogger(l log.Logger) *Tree {
	t.log = l
	return t
}

// GenesisKey returns the network's immutable root key.
func (t *Tree) GenesisKey() blskey.SectionKey { return t.dag.Genesis() }

// DAG returns the underlying SectionsDAG.
func (t *Tree) DAG() *DAG { return t.dag }

// Prefixes returns every known prefix.
func (t *Tree) Prefixes() []xorname.Prefix {
	out := make([]xorname.Prefix, 0, len(t.sections))
	for _, sap := range t.sections {
		out = append(out, sap.Prefix)
	}
	return out
}

// Closest returns the known SAP whose prefix minimises XOR distance
// to name, optionally excluding one prefix. Regardless of whether
// name actually falls within the returned section.
func (t *Tree) Closest(name xorname.Name, exclude *xorname.Prefix) (SAP, bool) {
	var best SAP
	found := false
	for _, sap := range t.sections {
		if exclude != nil && sap.Prefix.Equal(*exclude) {
			continue
		}
		if !found || sap.Prefix.Name().DistanceCmp(best.Prefix.Name(), name) < 0 {
			best = sap
			found = true
		}
	}
	return best, found
}

// GetSignedByName returns the SAP whose prefix has the longest common
// prefix with name; ties go to the lexicographically smaller prefix
// bit string, so the result does not depend on map iteration order.
func (t *Tree) GetSignedByName(name xorname.Name) (SAP, error) {
	var best SAP
	var bestLen int = -1
	for _, sap := range t.sections {
		cp := int(sap.Prefix.CommonPrefix(name))
		if cp > bestLen || (cp == bestLen && sap.Prefix.Bits() < best.Prefix.Bits()) {
			bestLen = cp
			best = sap
		}
	}
	if bestLen < 0 {
		return SAP{}, corerr.New(corerr.KindNoNetworkKnowledge)
	}
	return best, nil
}

// GetSignedByPrefix returns the SAP matching prefix exactly.
func (t *Tree) GetSignedByPrefix(prefix xorname.Prefix) (SAP, bool) {
	sap, ok := t.sections[prefix.Bits()]
	return sap, ok
}

// Len returns the number of known SAPs.
func (t *Tree) Len() int { return len(t.sections) }

// SectionKeys returns every known SAP's section key.
func (t *Tree) SectionKeys() []blskey.SectionKey {
	out := make([]blskey.SectionKey, 0, len(t.sections))
	for _, sap := range t.sections {
		out = append(out, sap.SectionKey)
	}
	return out
}

// GenerateUpdate builds the SectionTreeUpdate a section at prefix
// would gossip: its own signed SAP plus the proof chain from genesis.
func (t *Tree) GenerateUpdate(prefix xorname.Prefix) (Update, error) {
	sap, ok := t.sections[prefix.Bits()]
	if !ok {
		return Update{}, corerr.New(corerr.KindNoNetworkKnowledge).WithPrefix(prefix.Bits())
	}
	proof, err := t.dag.PartialDAG(t.dag.Genesis(), sap.SectionKey)
	if err != nil {
		return Update{}, err
	}
	return Update{SignedSAP: sap, ProofChain: proof}, nil
}

// Update applies a SectionTreeUpdate, following the validation order
// the anti-entropy protocol depends on:
//  1. no-op if the SAP's section key is already known;
//  2. if we know a SAP for this prefix, require the proof chain to
//     cover that SAP's key;
//  3. otherwise require the proof chain to be trusted by our DAG;
//  4. require the SAP to self-verify and be signed by its own key;
//  5. require the proof chain's last key to equal the SAP's key;
//  6. insert (pruning ancestors) and merge the proof chain.
//
// Returns true iff the tree changed.
func (t *Tree) Update(u Update) (bool, error) {
	if t.dag.HasKey(u.SignedSAP.SectionKey) {
		t.log.Debug("dropping section tree update: key already known")
		return false, nil
	}

	incomingPrefix := u.SignedSAP.Prefix
	if known, ok := t.GetSignedByPrefix(incomingPrefix); ok {
		if u.SignedSAP.ElderCount() < known.ElderCount() {
			t.log.Warn("proposed SAP has fewer elders than current", "proposed", u.SignedSAP.ElderCount(), "current", known.ElderCount())
		}
		if !u.ProofChain.HasKey(known.SectionKey) {
			return false, corerr.New(corerr.KindSAPKeyNotCoveredByProofChain).WithPrefix(incomingPrefix.Bits())
		}
	} else {
		trusted := make(set.Set[string], len(t.dag.keys))
		for _, k := range t.dag.Keys() {
			trusted.Add(k.String())
		}
		if !u.ProofChain.CheckTrust(trusted) {
			return false, corerr.New(corerr.KindUntrustedProofChain).WithPrefix(incomingPrefix.Bits())
		}
	}

	if !u.SignedSAP.IsValid() {
		return false, corerr.New(corerr.KindUntrustedProofChain).WithPrefix(incomingPrefix.Bits())
	}

	lastKey, err := u.ProofChain.LastKey()
	if err != nil {
		return false, err
	}
	if !lastKey.Equal(u.SignedSAP.SectionKey) {
		return false, corerr.New(corerr.KindUntrustedProofChain).WithPrefix(incomingPrefix.Bits())
	}

	if !t.insert(u.SignedSAP) {
		return false, nil
	}
	if err := t.dag.Merge(u.ProofChain); err != nil {
		return false, err
	}
	return true, nil
}

// InsertWithoutChain populates the tree without a proof chain, for
// deterministic test setup only.
func (t *Tree) InsertWithoutChain(sap SAP) bool { return t.insert(sap) }

// insert adds sap, pruning any ancestor prefixes, refusing the insert
// if a descendant prefix is already present.
func (t *Tree) insert(sap SAP) bool {
	prefix := sap.Prefix
	for bits, existing := range t.sections {
		if existing.Prefix.IsExtensionOf(prefix) && existing.Prefix.BitCount() > prefix.BitCount() {
			t.log.Info("dropping update: descendant prefix already present", "descendant", bits)
			return false
		}
	}
	t.sections[prefix.Bits()] = sap
	t.prune(prefix)
	return true
}

// prune removes every ancestor of prefix from the map, keeping prefix
// itself; called after a successful insert of prefix.
func (t *Tree) prune(prefix xorname.Prefix) {
	cur := prefix
	for {
		parent, ok := cur.Popped()
		if !ok {
			return
		}
		delete(t.sections, parent.Bits())
		cur = parent
	}
}

// Stats estimates total network elder count from the fraction of the
// prefix space covered by known sections (plus our own SAP).
func (t *Tree) Stats(our SAP) Stats {
	prefixes := t.Prefixes()
	known := append(append([]xorname.Prefix(nil), prefixes...), our.Prefix)

	exact := xorname.Default().IsCoveredBy(known)

	var fraction float64
	seen := make(map[string]bool)
	for _, p := range known {
		if seen[p.Bits()] {
			continue
		}
		seen[p.Bits()] = true
		bits := p.BitCount()
		fraction += 1.0 / float64(uint64(1)<<bits)
	}

	var knownElders uint64
	for _, sap := range t.sections {
		knownElders += uint64(sap.ElderCount())
	}

	var total float64
	if fraction > 0 {
		total = float64(knownElders) / fraction
	}

	return Stats{
		KnownElders:      knownElders,
		TotalElders:      uint64(total + 0.999999), // ceil
		TotalEldersExact: exact,
	}
}

// wireUpdate is the AE-message wire shape for a SectionTreeUpdate: a
// signed SAP plus its proof chain. Like the on-disk tree layout, this
// form keeps the elder/adult membership — an AE response is exactly
// how a stale session learns a section's live elder set, so dropping
// membership here would make AE redirects/retries unable to target
// anyone.
type wireUpdate struct {
	SAP json.RawMessage `json:"sap"`
	DAG diskDAG         `json:"dag"`
}

// EncodeUpdate serialises a SectionTreeUpdate for wire transport
// between a session and an elder, preserving full elder/adult
// membership so the receiver can target the new section immediately.
func EncodeUpdate(u Update) ([]byte, error) {
	raw, _, err := marshalSAP(u.SignedSAP)
	if err != nil {
		return nil, err
	}
	dd := diskDAG{Genesis: u.ProofChain.Genesis().String()}
	for _, edges := range u.ProofChain.children {
		for _, e := range edges {
			dd.Edges = append(dd.Edges, diskEdge{
				Parent: e.parent.String(),
				Child:  e.child.String(),
				Sig:    fmt.Sprintf("%x", e.sig.Bytes()),
			})
		}
	}
	sort.Slice(dd.Edges, func(i, j int) bool {
		if dd.Edges[i].Parent != dd.Edges[j].Parent {
			return dd.Edges[i].Parent < dd.Edges[j].Parent
		}
		return dd.Edges[i].Child < dd.Edges[j].Child
	})
	return json.Marshal(wireUpdate{SAP: raw, DAG: dd})
}

// DecodeUpdate reverses EncodeUpdate.
func DecodeUpdate(data []byte) (Update, error) {
	var wu wireUpdate
	if err := json.Unmarshal(data, &wu); err != nil {
		return Update{}, fmt.Errorf("section: decode update: %w", err)
	}
	var view sapCodecView
	if _, err := codec.Codec.Unmarshal(wu.SAP, &view); err != nil {
		return Update{}, fmt.Errorf("section: decode update sap: %w", err)
	}
	sap, err := unmarshalSAPView(view)
	if err != nil {
		return Update{}, err
	}

	genesisKey, err := blskeyFromHex(wu.DAG.Genesis)
	if err != nil {
		return Update{}, err
	}
	dag := NewDAG(genesisKey)
	for _, e := range wu.DAG.Edges {
		parent, err := blskeyFromHex(e.Parent)
		if err != nil {
			return Update{}, err
		}
		child, err := blskeyFromHex(e.Child)
		if err != nil {
			return Update{}, err
		}
		sig, err := signatureFromHex(e.Sig)
		if err != nil {
			return Update{}, err
		}
		if err := dag.VerifyAndInsert(parent, child, sig); err != nil {
			return Update{}, err
		}
	}
	return Update{SignedSAP: sap, ProofChain: dag}, nil
}

// unmarshalSAPView reconstructs a full SAP, including elder/adult
// membership, from its codec view. The "id=name" pairs are encoded
// with the raw hex of each id's bytes, not its String() form, so
// decoding never depends on a node-id parsing routine this package
// does not own.
func unmarshalSAPView(view sapCodecView) (SAP, error) {
	prefix, err := xorname.ParseBits(view.Prefix)
	if err != nil {
		return SAP{}, fmt.Errorf("section: decode prefix %q: %w", view.Prefix, err)
	}
	sectionKey, err := blskeyFromHex(view.SectionKey)
	if err != nil {
		return SAP{}, err
	}
	signerKey, err := blskeyFromHex(view.SignerKey)
	if err != nil {
		return SAP{}, err
	}
	signature, err := signatureFromHex(view.Signature)
	if err != nil {
		return SAP{}, err
	}
	elders, err := parseMembers(view.Elders)
	if err != nil {
		return SAP{}, err
	}
	adults, err := parseMembers(view.Adults)
	if err != nil {
		return SAP{}, err
	}
	return SAP{
		Prefix:     prefix,
		SectionKey: sectionKey,
		Elders:     elders,
		Adults:     adults,
		SignerKey:  signerKey,
		Signature:  signature,
	}, nil
}

// parseMembers reverses the "idHex=nameHex" encoding marshalSAP
// writes for a section's elders or adults.
func parseMembers(entries []string) (map[ids.NodeID]xorname.Name, error) {
	out := make(map[ids.NodeID]xorname.Name, len(entries))
	for _, entry := range entries {
		idHex, nameHex, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("section: malformed member entry %q", entry)
		}
		idBytes, err := hexDecode(idHex)
		if err != nil {
			return nil, fmt.Errorf("section: decode member id %q: %w", idHex, err)
		}
		var id ids.NodeID
		copy(id[:], idBytes)
		nameBytes, err := hexDecode(nameHex)
		if err != nil || len(nameBytes) != xorname.Len {
			return nil, fmt.Errorf("section: decode member name %q: %w", nameHex, err)
		}
		out[id] = xorname.Name(nameBytes)
	}
	return out, nil
}

// diskEntry/diskTree mirror the stable on-disk JSON layout described by
// the wire format section: {sections: [{prefix, sap}], dag: {...}}.
// SAP internals (elders/adults/signature) are opaque here and encoded
// through the generic codec, since their byte shapes are owned by
// blskey and the ids package, not by this package's JSON schema.
type diskEntry struct {
	Prefix string          `json:"prefix"`
	SAP    json.RawMessage `json:"sap"`
}

type diskEdge struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
	Sig    string `json:"sig"`
}

type diskDAG struct {
	Genesis string     `json:"genesis"`
	Edges   []diskEdge `json:"edges"`
}

type diskTree struct {
	Sections []diskEntry `json:"sections"`
	DAG      diskDAG     `json:"dag"`
}

// WriteToDisk serialises t to path via temp-file-then-atomic-rename.
func (t *Tree) WriteToDisk(path string) error {
	data, err := t.marshalDisk()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("section: create parent directory %q: %w", dir, err)
		}
	} else {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, ".sectiontree-*")
	if err != nil {
		return fmt.Errorf("section: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("section: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("section: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("section: rename temp file to %q: %w", path, err)
	}
	return nil
}

func (t *Tree) marshalDisk() ([]byte, error) {
	entries := make([]diskEntry, 0, len(t.sections))
	prefixes := make([]string, 0, len(t.sections))
	for bits := range t.sections {
		prefixes = append(prefixes, bits)
	}
	sort.Strings(prefixes)
	for _, bits := range prefixes {
		sap := t.sections[bits]
		raw, _, err := marshalSAP(sap)
		if err != nil {
			return nil, err
		}
		entries = append(entries, diskEntry{Prefix: bits, SAP: raw})
	}

	dd := diskDAG{Genesis: t.dag.Genesis().String()}
	for parentStr, edges := range t.dag.children {
		_ = parentStr
		for _, e := range edges {
			dd.Edges = append(dd.Edges, diskEdge{
				Parent: e.parent.String(),
				Child:  e.child.String(),
				Sig:    fmt.Sprintf("%x", e.sig.Bytes()),
			})
		}
	}
	sort.Slice(dd.Edges, func(i, j int) bool {
		if dd.Edges[i].Parent != dd.Edges[j].Parent {
			return dd.Edges[i].Parent < dd.Edges[j].Parent
		}
		return dd.Edges[i].Child < dd.Edges[j].Child
	})

	return json.Marshal(diskTree{Sections: entries, DAG: dd})
}

func marshalSAP(sap SAP) (json.RawMessage, codec.CodecVersion, error) {
	elders := make([]string, 0, len(sap.Elders))
	for id, name := range sap.Elders {
		elders = append(elders, fmt.Sprintf("%x", id[:])+"="+name.String())
	}
	sort.Strings(elders)
	adults := make([]string, 0, len(sap.Adults))
	for id, name := range sap.Adults {
		adults = append(adults, fmt.Sprintf("%x", id[:])+"="+name.String())
	}
	sort.Strings(adults)

	view := sapCodecView{
		Prefix:     sap.Prefix.Bits(),
		SectionKey: fmt.Sprintf("%x", sap.SectionKey.Bytes()),
		Elders:     elders,
		Adults:     adults,
		SignerKey:  fmt.Sprintf("%x", sap.SignerKey.Bytes()),
		Signature:  fmt.Sprintf("%x", sap.Signature.Bytes()),
	}
	b, err := codec.Codec.Marshal(codec.CurrentVersion, view)
	return b, codec.CurrentVersion, err
}

// sapCodecView is the JSON-friendly projection of a SAP, used for
// on-disk persistence and for the AE update wire form.
type sapCodecView struct {
	Prefix     string   `json:"prefix"`
	SectionKey string   `json:"section_key"`
	Elders     []string `json:"elders"`
	Adults     []string `json:"adults"`
	SignerKey  string   `json:"signer_key"`
	Signature  string   `json:"signature"`
}

// LoadTreeFromDisk reads and parses a Tree written by WriteToDisk. A
// missing file is equivalent to "genesis only" and must be handled by
// the caller (construct a fresh Tree with NewTree instead).
func LoadTreeFromDisk(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("section: read %q: %w", path, err)
	}
	var dt diskTree
	if err := json.Unmarshal(data, &dt); err != nil {
		return nil, fmt.Errorf("section: parse %q: %w", path, err)
	}
	if len(dt.Sections) == 0 {
		return nil, fmt.Errorf("section: %q has no sections", path)
	}

	sections := make(map[string]SAP, len(dt.Sections))
	for _, e := range dt.Sections {
		var view sapCodecView
		if _, err := codec.Codec.Unmarshal(e.SAP, &view); err != nil {
			return nil, fmt.Errorf("section: decode sap for prefix %q: %w", e.Prefix, err)
		}
		prefix, err := xorname.ParseBits(view.Prefix)
		if err != nil {
			return nil, fmt.Errorf("section: decode prefix %q: %w", e.Prefix, err)
		}
		sectionKey, err := blskeyFromHex(view.SectionKey)
		if err != nil {
			return nil, err
		}
		signerKey, err := blskeyFromHex(view.SignerKey)
		if err != nil {
			return nil, err
		}
		signature, err := signatureFromHex(view.Signature)
		if err != nil {
			return nil, err
		}
		elders, err := parseMembers(view.Elders)
		if err != nil {
			return nil, err
		}
		adults, err := parseMembers(view.Adults)
		if err != nil {
			return nil, err
		}
		sections[e.Prefix] = SAP{
			Prefix:     prefix,
			SectionKey: sectionKey,
			Elders:     elders,
			Adults:     adults,
			SignerKey:  signerKey,
			Signature:  signature,
		}
	}

	genesisKey, err := blskeyFromHex(dt.DAG.Genesis)
	if err != nil {
		return nil, err
	}
	dag := NewDAG(genesisKey)
	for _, e := range dt.DAG.Edges {
		parent, err := blskeyFromHex(e.Parent)
		if err != nil {
			return nil, err
		}
		child, err := blskeyFromHex(e.Child)
		if err != nil {
			return nil, err
		}
		sig, err := signatureFromHex(e.Sig)
		if err != nil {
			return nil, err
		}
		if err := dag.VerifyAndInsert(parent, child, sig); err != nil {
			return nil, err
		}
	}

	return &Tree{sections: sections, dag: dag, log: log.NewNoOpLogger()}, nil
}

func blskeyFromHex(s string) (blskey.SectionKey, error) {
	b, err := hexDecode(s)
	if err != nil {
		return blskey.SectionKey{}, err
	}
	return blskey.SectionKeyFromBytes(b)
}

func signatureFromHex(s string) (blskey.Signature, error) {
	b, err := hexDecode(s)
	if err != nil {
		return blskey.Signature{}, err
	}
	return blskey.SignatureFromBytes(b)
}

func hexDecode(s string) ([]byte, error) {
	b := make([]byte, len(s)/2)
	_, err := fmt.Sscanf(s, "%x", &b)
	return b, err
}
