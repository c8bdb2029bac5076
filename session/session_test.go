// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/quorumnet/core/blskey"
	"github.com/quorumnet/core/identity"
	"github.com/quorumnet/core/register"
	"github.com/quorumnet/core/section"
	"github.com/quorumnet/core/xorname"
	"github.com/stretchr/testify/require"
)

// testElder is a reachable node id plus the xor name a SAP records for
// it; kept together because every helper that builds a SAP also needs
// the plain ids.NodeID slice to register with a fakeNetwork.
type testElder struct {
	id   ids.NodeID
	name xorname.Name
}

func makeElders(t *testing.T, n int) []testElder {
	t.Helper()
	out := make([]testElder, n)
	for i := 0; i < n; i++ {
		out[i] = testElder{
			id:   ids.BuildTestNodeID([]byte{byte(i + 1)}),
			name: xorname.FromContent([]byte{byte(0xA0 + i)}),
		}
	}
	return out
}

func eldersMap(elders []testElder) map[ids.NodeID]xorname.Name {
	m := make(map[ids.NodeID]xorname.Name, len(elders))
	for _, e := range elders {
		m[e.id] = e.name
	}
	return m
}

// newGenesisNetwork builds a single-section network: a genesis SAP
// with elders, a matching Tree, and a fakeNetwork that answers for
// every elder in it. Both the client's tree and the network's own
// "ground truth" share the same genesis key, as they would on a real
// network the client just bootstrapped from.
func newGenesisNetwork(t *testing.T, elders []testElder) (*section.Tree, *fakeNetwork) {
	t.Helper()
	share, err := blskey.NewSecretShare()
	require.NoError(t, err)
	sap := section.SignSAP(xorname.Default(), share, eldersMap(elders), nil)

	tree, err := section.NewTree(sap)
	require.NoError(t, err)

	net := newFakeNetwork(sap, nil)
	return tree, net
}

func newTestSession(t *testing.T, tree *section.Tree, transport Transport, opts ...Option) *Session {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	cfg := NewConfig(opts...)
	return New(kp, tree, transport, cfg)
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	rng := rand.New(rand.NewSource(int64(n) + 1))
	_, err := rng.Read(buf)
	require.NoError(t, err)
	return buf
}

func TestUploadReadSmallFile(t *testing.T) {
	elders := makeElders(t, 3)
	tree, net := newGenesisNetwork(t, elders)
	s := newTestSession(t, tree, net)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	plain := randomBytes(t, 2048) // below SmallFile/LargeFile boundary

	head, err := s.UploadAndVerify(ctx, plain)
	require.NoError(t, err)

	readBack, err := s.ReadBytes(ctx, head)
	require.NoError(t, err)
	require.Equal(t, plain, readBack)
}

func TestUploadReadLargeFile(t *testing.T) {
	elders := makeElders(t, 3)
	tree, net := newGenesisNetwork(t, elders)
	s := newTestSession(t, tree, net)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	plain := randomBytes(t, 5*1024*1024) // well above the self-encryption boundary

	head, err := s.UploadAndVerify(ctx, plain)
	require.NoError(t, err)

	readBack, err := s.ReadBytes(ctx, head)
	require.NoError(t, err)
	require.Equal(t, plain, readBack)
}

func TestReadFromRange(t *testing.T) {
	elders := makeElders(t, 3)
	tree, net := newGenesisNetwork(t, elders)
	s := newTestSession(t, tree, net)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	plain := randomBytes(t, 2*1024*1024)

	head, err := s.Upload(ctx, plain)
	require.NoError(t, err)

	const pos, length = 700_000, 65536
	part, err := s.ReadFrom(ctx, head, pos, length)
	require.NoError(t, err)
	require.Equal(t, plain[pos:pos+length], part)
}

func TestRegisterWriteReadConvergence(t *testing.T) {
	elders := makeElders(t, 3)
	tree, net := newGenesisNetwork(t, elders)

	a := newTestSession(t, tree, net)
	b := newTestSession(t, tree, net)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name := xorname.FromContent([]byte("shared-register"))
	const tag = 7

	openPolicy := register.NewPolicy(register.UserKey(a.Identity().Public()))
	openPolicy.Permissions[register.AnyUser] = register.NewPermissionSet(true, true, true)

	regA := a.CreateRegister(name, tag, openPolicy)
	regB := b.CreateRegister(name, tag, openPolicy)

	_, _, err := a.WriteRegister(ctx, regA, register.Entry("from-a"), nil)
	require.NoError(t, err)
	_, _, err = b.WriteRegister(ctx, regB, register.Entry("from-b"), nil)
	require.NoError(t, err)

	merged, err := a.ReadRegister(ctx, regA.Address())
	require.NoError(t, err)
	require.Equal(t, 2, merged.Size())

	values := make(map[string]bool)
	for _, v := range merged.Read() {
		values[string(v)] = true
	}
	require.True(t, values["from-a"])
	require.True(t, values["from-b"])
}

func TestAERedirectThenCommandSucceeds(t *testing.T) {
	oldShare, err := blskey.NewSecretShare()
	require.NoError(t, err)
	oldElders := makeElders(t, 3)
	oldSAP := section.SignSAP(xorname.Default(), oldShare, eldersMap(oldElders), nil)

	groundTruth, err := section.NewTree(oldSAP)
	require.NoError(t, err)

	newShare, err := blskey.NewSecretShare()
	require.NoError(t, err)
	newElders := makeElders(t, 3)
	for i := range newElders {
		newElders[i].id = ids.BuildTestNodeID([]byte{byte(0x10 + i)})
	}
	newSAP := section.SignSAP(xorname.Default(), newShare, eldersMap(newElders), nil)

	sig := oldShare.Sign(newSAP.SectionKey.Bytes())
	require.NoError(t, groundTruth.DAG().VerifyAndInsert(oldSAP.SectionKey, newSAP.SectionKey, sig))
	require.True(t, groundTruth.InsertWithoutChain(newSAP))

	update, err := groundTruth.GenerateUpdate(xorname.Default())
	require.NoError(t, err)
	updateBytes, err := section.EncodeUpdate(update)
	require.NoError(t, err)

	net := newFakeNetwork(newSAP, updateBytes)
	for _, e := range oldElders {
		net.addStaleNode(e.id)
	}

	clientTree, err := section.NewTree(oldSAP)
	require.NoError(t, err)
	s := newTestSession(t, clientTree, net)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	plain := randomBytes(t, 1024)
	head, err := s.Upload(ctx, plain)
	require.NoError(t, err)

	// The upload command should have learned the new SAP via AE
	// redirect, so a subsequent read hits the real elders directly.
	readBack, err := s.ReadBytes(ctx, head)
	require.NoError(t, err)
	require.Equal(t, plain, readBack)
}
