// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package blskey wraps github.com/luxfi/crypto/bls with the narrow
// surface the section tree and proof-chain DAG need: section key
// generation, child-key signing, and signature verification. It
// mirrors the pattern the warp message signer in the consensus stack
// uses around the same dependency.
package blskey

import (
	"fmt"

	"github.com/luxfi/crypto/bls"
)

// PublicKeyLen is the compressed BLS12-381 G1 public key length.
const PublicKeyLen = 48

// SignatureLen is the compressed BLS12-381 G2 signature length.
const SignatureLen = 96

// SectionKey identifies one generation of one section: a BLS public key.
type SectionKey struct {
	pk *bls.PublicKey
}

// SectionKeyFromBytes decodes a compressed public key.
func SectionKeyFromBytes(b []byte) (SectionKey, error) {
	pk, err := bls.PublicKeyFromCompressedBytes(b)
	if err != nil {
		return SectionKey{}, fmt.Errorf("blskey: bad section key bytes: %w", err)
	}
	return SectionKey{pk: pk}, nil
}

// Bytes returns the compressed encoding of k.
func (k SectionKey) Bytes() []byte {
	if k.pk == nil {
		return make([]byte, PublicKeyLen)
	}
	return bls.PublicKeyToCompressedBytes(k.pk)
}

// Equal compares two section keys by their byte encoding.
func (k SectionKey) Equal(o SectionKey) bool {
	return string(k.Bytes()) == string(o.Bytes())
}

func (k SectionKey) String() string { return fmt.Sprintf("%x", k.Bytes()) }

// IsZero reports whether k is the unset key.
func (k SectionKey) IsZero() bool { return k.pk == nil }

// Signature is a BLS signature over a message.
type Signature struct {
	sig *bls.Signature
}

// SignatureFromBytes decodes a compressed signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	sig, err := bls.SignatureFromBytes(b)
	if err != nil {
		return Signature{}, fmt.Errorf("blskey: bad signature bytes: %w", err)
	}
	return Signature{sig: sig}, nil
}

// Bytes returns the compressed encoding of s.
func (s Signature) Bytes() []byte {
	if s.sig == nil {
		return make([]byte, SignatureLen)
	}
	return bls.SignatureToBytes(s.sig)
}

func (s Signature) IsZero() bool { return s.sig == nil }

// SecretShare is a section elder's share of the section's BLS secret
// key, used to sign proof-chain edges and SAPs.
type SecretShare struct {
	sk *bls.SecretKey
}

// NewSecretShare generates a fresh random secret key, for tests and
// for standing up a genesis section.
func NewSecretShare() (SecretShare, error) {
	sk, err := bls.NewSecretKey()
	if err != nil {
		return SecretShare{}, fmt.Errorf("blskey: generate secret key: %w", err)
	}
	return SecretShare{sk: sk}, nil
}

// SecretShareFromBytes decodes a raw secret scalar. Handled with care:
// callers must not persist this to disk outside protected storage.
func SecretShareFromBytes(b []byte) (SecretShare, error) {
	sk, err := bls.SecretKeyFromBytes(b)
	if err != nil {
		return SecretShare{}, fmt.Errorf("blskey: bad secret key bytes: %w", err)
	}
	return SecretShare{sk: sk}, nil
}

// Bytes returns the raw secret scalar encoding.
func (s SecretShare) Bytes() []byte {
	if s.sk == nil {
		return nil
	}
	return bls.SecretKeyToBytes(s.sk)
}

// Public derives the corresponding SectionKey.
func (s SecretShare) Public() SectionKey {
	return SectionKey{pk: s.sk.PublicKey()}
}

// Sign produces a signature over msg under this secret share. Used to
// sign a child section key (proof-chain edge) or a SAP's content.
func (s SecretShare) Sign(msg []byte) Signature {
	return Signature{sig: bls.Sign(s.sk, msg)}
}

// Verify reports whether sig is a valid signature by pk over msg. This
// is the primitive every proof-chain edge and SAP self-verification
// check is built on.
func Verify(pk SectionKey, sig Signature, msg []byte) bool {
	if pk.pk == nil || sig.sig == nil {
		return false
	}
	return bls.Verify(pk.pk, sig.sig, msg)
}
