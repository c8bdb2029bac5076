// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package identity provides the client and authority signing identity
// used to author register write operations and sign outbound command
// messages. Section-level keys belong to package blskey; this package
// is strictly the per-client/per-authority ed25519 layer.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/quorumnet/core/xorname"
)

// PublicKeyLen is the ed25519 public key length.
const PublicKeyLen = ed25519.PublicKeySize

// PublicKey identifies a client or register authority. It is backed
// by a fixed-size array rather than ed25519.PublicKey's slice so that
// it remains comparable and usable as a map key (Policy.Permissions
// is keyed by User, which embeds a PublicKey).
type PublicKey struct {
	key [PublicKeyLen]byte
}

// PublicKeyFromBytes decodes a raw ed25519 public key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != PublicKeyLen {
		return PublicKey{}, fmt.Errorf("identity: public key must be %d bytes, got %d", PublicKeyLen, len(b))
	}
	var pk PublicKey
	copy(pk.key[:], b)
	return pk, nil
}

func (pk PublicKey) Bytes() []byte { return append([]byte(nil), pk.key[:]...) }

func (pk PublicKey) Equal(o PublicKey) bool { return pk.key == o.key }

func (pk PublicKey) String() string { return fmt.Sprintf("%x", pk.Bytes()) }

// Name derives the XorName used to address this key's client root,
// e.g. the bootstrap GetSectionQuery target during session startup.
func (pk PublicKey) Name() xorname.Name { return xorname.FromContent(pk.Bytes()) }

// Verify reports whether sig is pk's valid signature over msg.
func (pk PublicKey) Verify(msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pk.key[:]), msg, sig)
}

// Keypair is a client or register-authority signing identity.
type Keypair struct {
	public  PublicKey
	private ed25519.PrivateKey
}

// Generate creates a fresh random keypair.
func Generate() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("identity: generate keypair: %w", err)
	}
	pk, err := PublicKeyFromBytes(pub)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{public: pk, private: priv}, nil
}

// FromSeed derives a deterministic keypair from a 32-byte seed, used
// by deterministic tests that need stable identities across runs.
func FromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	pk, err := PublicKeyFromBytes(pub)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{public: pk, private: priv}, nil
}

// Public returns the keypair's public half.
func (k Keypair) Public() PublicKey { return k.public }

// Sign signs msg with the private key.
func (k Keypair) Sign(msg []byte) []byte { return ed25519.Sign(k.private, msg) }
