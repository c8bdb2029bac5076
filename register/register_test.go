package register

import (
	"fmt"
	"testing"

	"github.com/quorumnet/core/corerr"
	"github.com/quorumnet/core/identity"
	"github.com/quorumnet/core/xorname"
	"github.com/stretchr/testify/require"
)

func newOwnedRegister(t *testing.T) (*Register, identity.Keypair) {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	name := xorname.FromContent([]byte("register-under-test"))
	return NewOwned(kp.Public(), name, 43000), kp
}

func signedWrite(t *testing.T, r *Register, kp identity.Keypair, value Entry, parents []EntryHash) (EntryHash, CrdtOperation) {
	t.Helper()
	hash, op, err := r.Write(value, parents)
	require.NoError(t, err)
	op.Signature = kp.Sign(op.SignableBytes())
	return hash, op
}

func TestEntryHashDeterministicByReplica(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)
	name := xorname.FromContent([]byte("shared-name"))

	r1 := New(kp.Public(), name, 1, NewPolicy(UserKey(kp.Public())))
	r2 := New(kp.Public(), name, 1, NewPolicy(UserKey(kp.Public())))

	item := Entry("same content")
	h1, _, err := r1.Write(item, nil)
	require.NoError(t, err)
	h2, _, err := r2.Write(item, nil)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	other, _, err := r1.Write(Entry("different content"), nil)
	require.NoError(t, err)
	require.NotEqual(t, h1, other)
}

func TestWriteApplyOpRoundTrip(t *testing.T) {
	r, kp := newOwnedRegister(t)

	hash, op := signedWrite(t, r, kp, Entry("hello"), nil)
	require.NoError(t, r.ApplyOp(op))

	entries := r.Read()
	require.Len(t, entries, 1)
	require.Equal(t, Entry("hello"), entries[hash])

	// Replay is a no-op success.
	require.NoError(t, r.ApplyOp(op))
	require.Equal(t, 1, r.Size())
}

func TestApplyOpRejectsBadSignature(t *testing.T) {
	r, kp := newOwnedRegister(t)
	_, op := signedWrite(t, r, kp, Entry("hello"), nil)
	op.Signature[0] ^= 0xFF
	require.Error(t, r.ApplyOp(op))
}

func TestForkAndMerge(t *testing.T) {
	kpA, err := identity.Generate()
	require.NoError(t, err)
	name := xorname.FromContent([]byte("forked-register"))
	policy := NewPolicy(UserKey(kpA.Public()))

	a := New(kpA.Public(), name, 7, policy)
	b := New(kpA.Public(), name, 7, policy)

	h1, op1 := signedWrite(t, a, kpA, Entry("e1"), nil)
	require.NoError(t, a.ApplyOp(op1))

	h2, op2 := signedWrite(t, b, kpA, Entry("e2"), nil)
	require.NoError(t, b.ApplyOp(op2))

	// Exchange ops: both replicas learn about the other's write.
	require.NoError(t, a.ApplyOp(op2))
	require.NoError(t, b.ApplyOp(op1))

	readA := a.Read()
	readB := b.Read()
	require.Len(t, readA, 2)
	require.Equal(t, readA, readB)

	// A write with both as parents collapses the fork.
	_, op3 := signedWrite(t, a, kpA, Entry("e3"), []EntryHash{h1, h2})
	require.NoError(t, a.ApplyOp(op3))
	require.NoError(t, b.ApplyOp(op3))

	require.Len(t, a.Read(), 1)
	require.Equal(t, a.Read(), b.Read())
}

func TestEntryTooBigAndTooManyEntries(t *testing.T) {
	r, kp := newOwnedRegister(t)

	ok := make(Entry, MaxEntrySize)
	_, op := signedWrite(t, r, kp, ok, nil)
	require.NoError(t, r.ApplyOp(op))

	tooBig := make(Entry, MaxEntrySize+1)
	_, _, err := r.Write(tooBig, nil)
	require.Error(t, err)
	require.Equal(t, 1, r.Size())

	for i := r.Size(); i < MaxNumEntries; i++ {
		_, op := signedWrite(t, r, kp, Entry(fmt.Sprintf("entry-%d", i)), nil)
		require.NoError(t, r.ApplyOp(op))
	}
	require.Equal(t, MaxNumEntries, r.Size())
	_, _, err = r.Write(Entry("one too many"), nil)
	require.True(t, corerr.Is(err, corerr.KindTooManyEntries))
}

func TestAccessDeniedForNonAuthorizedWriter(t *testing.T) {
	owner, err := identity.Generate()
	require.NoError(t, err)
	intruder, err := identity.Generate()
	require.NoError(t, err)

	name := xorname.FromContent([]byte("owned-only"))
	r := New(owner.Public(), name, 1, NewPolicy(UserKey(owner.Public())))

	hash, op, err := r.Write(Entry("from owner"), nil)
	require.NoError(t, err)
	_ = hash
	op.Authority = intruder.Public()
	op.Signature = intruder.Sign(op.SignableBytes())

	err = r.ApplyOp(op)
	require.Error(t, err)
}

func TestPermissionsAnyoneFallback(t *testing.T) {
	owner, err := identity.Generate()
	require.NoError(t, err)
	policy := NewPolicy(UserKey(owner.Public()))
	policy.Permissions[AnyUser] = NewPermissionSet(true, true, false)

	name := xorname.FromContent([]byte("anyone-write"))
	r := New(owner.Public(), name, 1, policy)

	writer, err := identity.Generate()
	require.NoError(t, err)
	hash, op, err := r.Write(Entry("owner writes fine"), nil)
	require.NoError(t, err)
	op.Signature = owner.Sign(op.SignableBytes())
	require.NoError(t, r.ApplyOp(op))
	_ = hash

	// Anyone (including writer, who has no explicit entry) may write
	// per the Anyone fallback grant.
	h2, rawOp := r.crdt.Write(Entry("anyone writes too"), nil, writer.Public())
	rawOp.Signature = writer.Sign(rawOp.SignableBytes())
	require.NoError(t, r.ApplyOp(rawOp))
	require.Contains(t, r.Read(), h2)

	ps, err := r.Permissions(UserKey(writer.Public()))
	require.NoError(t, err)
	require.True(t, ps.bit(ActionWrite) == allow)
}

func TestMarshalUnmarshalReplicaRoundTrip(t *testing.T) {
	r, kp := newOwnedRegister(t)
	h1, op1 := signedWrite(t, r, kp, Entry("first"), nil)
	require.NoError(t, r.ApplyOp(op1))
	_, op2 := signedWrite(t, r, kp, Entry("second"), []EntryHash{h1})
	require.NoError(t, r.ApplyOp(op2))

	data, err := MarshalReplica(r)
	require.NoError(t, err)

	rebuilt, err := UnmarshalReplica(data)
	require.NoError(t, err)

	require.Equal(t, r.Size(), rebuilt.Size())
	require.Equal(t, r.Read(), rebuilt.Read())
	require.Equal(t, r.Policy().Owner, rebuilt.Policy().Owner)
	require.Equal(t, r.Policy().Version, rebuilt.Policy().Version)
}
