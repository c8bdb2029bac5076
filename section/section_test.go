package section

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/quorumnet/core/blskey"
	"github.com/quorumnet/core/xorname"
	"github.com/stretchr/testify/require"
)

func genesisSAP(t *testing.T) (SAP, blskey.SecretShare) {
	t.Helper()
	share, err := blskey.NewSecretShare()
	require.NoError(t, err)
	elders := map[ids.NodeID]xorname.Name{
		ids.BuildTestNodeID([]byte{0x01}): xorname.FromContent([]byte("elder1")),
		ids.BuildTestNodeID([]byte{0x02}): xorname.FromContent([]byte("elder2")),
	}
	sap := SignSAP(xorname.Default(), share, elders, nil)
	return sap, share
}

func TestSAPSelfVerify(t *testing.T) {
	sap, _ := genesisSAP(t)
	require.True(t, sap.IsValid())

	tampered := sap
	tampered.Elders = map[ids.NodeID]xorname.Name{
		ids.BuildTestNodeID([]byte{0x99}): xorname.FromContent([]byte("intruder")),
	}
	require.False(t, tampered.IsValid())
}

func TestDAGVerifyAndInsert(t *testing.T) {
	genesis, err := blskey.NewSecretShare()
	require.NoError(t, err)
	dag := NewDAG(genesis.Public())

	child, err := blskey.NewSecretShare()
	require.NoError(t, err)
	sig := genesis.Sign(child.Public().Bytes())

	require.NoError(t, dag.VerifyAndInsert(genesis.Public(), child.Public(), sig))
	require.True(t, dag.HasKey(child.Public()))
	require.Equal(t, 1, dag.LeafKeys().Len())

	// Replaying the same edge is a no-op.
	require.NoError(t, dag.VerifyAndInsert(genesis.Public(), child.Public(), sig))
}

func TestDAGOrphanAndBadSignature(t *testing.T) {
	genesis, err := blskey.NewSecretShare()
	require.NoError(t, err)
	dag := NewDAG(genesis.Public())

	orphanParent, err := blskey.NewSecretShare()
	require.NoError(t, err)
	child, err := blskey.NewSecretShare()
	require.NoError(t, err)
	sig := orphanParent.Sign(child.Public().Bytes())

	err = dag.VerifyAndInsert(orphanParent.Public(), child.Public(), sig)
	require.Error(t, err)

	badSig := genesis.Sign([]byte("wrong message"))
	err = dag.VerifyAndInsert(genesis.Public(), child.Public(), badSig)
	require.Error(t, err)
}

func TestDAGPartialDAGAndCheckTrust(t *testing.T) {
	genesis, err := blskey.NewSecretShare()
	require.NoError(t, err)
	dag := NewDAG(genesis.Public())

	mid, err := blskey.NewSecretShare()
	require.NoError(t, err)
	require.NoError(t, dag.VerifyAndInsert(genesis.Public(), mid.Public(), genesis.Sign(mid.Public().Bytes())))

	leaf, err := blskey.NewSecretShare()
	require.NoError(t, err)
	require.NoError(t, dag.VerifyAndInsert(mid.Public(), leaf.Public(), mid.Sign(leaf.Public().Bytes())))

	partial, err := dag.PartialDAG(genesis.Public(), leaf.Public())
	require.NoError(t, err)
	last, err := partial.LastKey()
	require.NoError(t, err)
	require.True(t, last.Equal(leaf.Public()))

	trusted := make(map[string]struct{})
	trusted[genesis.Public().String()] = struct{}{}
	require.True(t, partial.CheckTrust(trusted))
}

func TestTreeUpdateAndPruning(t *testing.T) {
	genesisShare, err := blskey.NewSecretShare()
	require.NoError(t, err)
	genesisSap := SignSAP(xorname.Default(), genesisShare, nil, nil)

	tree, err := NewTree(genesisSap)
	require.NoError(t, err)

	p0, err := xorname.ParseBits("0")
	require.NoError(t, err)
	p00, err := xorname.ParseBits("00")
	require.NoError(t, err)
	p01, err := xorname.ParseBits("01")
	require.NoError(t, err)

	s0Share, err := blskey.NewSecretShare()
	require.NoError(t, err)
	s0Sap := SignSAP(p0, s0Share, nil, nil)
	s0Update := Update{SignedSAP: s0Sap, ProofChain: mustPartial(t, tree, genesisShare, s0Share)}
	changed, err := tree.Update(s0Update)
	require.NoError(t, err)
	require.True(t, changed)

	s00Share, err := blskey.NewSecretShare()
	require.NoError(t, err)
	s00Sap := SignSAP(p00, s00Share, nil, nil)
	s00Update := Update{SignedSAP: s00Sap, ProofChain: mustPartialFrom(t, tree, s0Share, s00Share)}
	changed, err = tree.Update(s00Update)
	require.NoError(t, err)
	require.True(t, changed)

	s01Share, err := blskey.NewSecretShare()
	require.NoError(t, err)
	s01Sap := SignSAP(p01, s01Share, nil, nil)
	s01Update := Update{SignedSAP: s01Sap, ProofChain: mustPartialFrom(t, tree, s0Share, s01Share)}
	changed, err = tree.Update(s01Update)
	require.NoError(t, err)
	require.True(t, changed)

	require.Equal(t, 2, tree.Len())
	_, hasZero := tree.GetSignedByPrefix(p0)
	require.False(t, hasZero)

	var n0 xorname.Name
	n0[0] = 0b0000_0000
	found, err := tree.GetSignedByName(n0)
	require.NoError(t, err)
	require.True(t, found.Prefix.Equal(p00))
}

// mustPartial returns a proof chain from genesis to a genesis-signed
// child. The chain is a separate DAG: the tree's own DAG is left
// untouched, so tree.Update still sees child's key as new.
func mustPartial(t *testing.T, tree *Tree, genesis, child blskey.SecretShare) *DAG {
	t.Helper()
	partial, err := tree.DAG().PartialDAG(tree.GenesisKey(), genesis.Public())
	require.NoError(t, err)
	sig := genesis.Sign(child.Public().Bytes())
	require.NoError(t, partial.VerifyAndInsert(genesis.Public(), child.Public(), sig))
	return partial
}

// mustPartialFrom copies the tree's chain from genesis to parent and
// extends the copy with a parent-signed edge to child.
func mustPartialFrom(t *testing.T, tree *Tree, parent, child blskey.SecretShare) *DAG {
	t.Helper()
	partial, err := tree.DAG().PartialDAG(tree.GenesisKey(), parent.Public())
	require.NoError(t, err)
	sig := parent.Sign(child.Public().Bytes())
	require.NoError(t, partial.VerifyAndInsert(parent.Public(), child.Public(), sig))
	return partial
}

func TestEncodeDecodeUpdateRoundTrip(t *testing.T) {
	sap, genesis := genesisSAP(t)
	tree, err := NewTree(sap)
	require.NoError(t, err)

	child, err := blskey.NewSecretShare()
	require.NoError(t, err)
	childElders := map[ids.NodeID]xorname.Name{
		ids.BuildTestNodeID([]byte{0x10}): xorname.FromContent([]byte("child-elder1")),
		ids.BuildTestNodeID([]byte{0x11}): xorname.FromContent([]byte("child-elder2")),
	}
	childSAP := SignSAP(xorname.Default().PushBit(false), child, childElders, nil)
	sig := genesis.Sign(child.Public().Bytes())
	require.NoError(t, tree.DAG().VerifyAndInsert(genesis.Public(), child.Public(), sig))

	update := Update{SignedSAP: childSAP, ProofChain: mustPartial(t, tree, genesis, child)}

	data, err := EncodeUpdate(update)
	require.NoError(t, err)

	decoded, err := DecodeUpdate(data)
	require.NoError(t, err)

	require.True(t, decoded.SignedSAP.IsValid())
	require.True(t, decoded.SignedSAP.Prefix.Equal(childSAP.Prefix))
	require.Equal(t, len(childSAP.Elders), len(decoded.SignedSAP.Elders))
	for id, name := range childSAP.Elders {
		got, ok := decoded.SignedSAP.Elders[id]
		require.True(t, ok)
		require.True(t, got.Equal(name))
	}
	last, err := decoded.ProofChain.LastKey()
	require.NoError(t, err)
	require.True(t, last.Equal(childSAP.SectionKey))
}
