// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chunk implements the immutable content-addressed blob type
// that sits at the bottom of the data model: public chunks addressed
// by content hash, private chunks additionally bound to an owner key.
package chunk

import (
	"github.com/quorumnet/core/identity"
	"github.com/quorumnet/core/xorname"
)

// Kind distinguishes public from owner-bound private chunks.
type Kind int

const (
	Public Kind = iota
	Private
)

func (k Kind) String() string {
	if k == Private {
		return "Private"
	}
	return "Public"
}

// Address is the content-derived location of a Chunk.
type Address struct {
	Kind Kind
	Name xorname.Name
}

func (a Address) String() string { return a.Kind.String() + ":" + a.Name.String() }

// Chunk is an immutable unit of stored content.
type Chunk struct {
	kind     Kind
	bytes    []byte
	ownerKey identity.PublicKey // only meaningful when kind == Private
}

// NewPublic wraps bytes as a Public chunk.
func NewPublic(bytes []byte) Chunk {
	return Chunk{kind: Public, bytes: bytes}
}

// NewPrivate wraps bytes as a Private chunk bound to owner.
func NewPrivate(bytes []byte, owner identity.PublicKey) Chunk {
	return Chunk{kind: Private, bytes: bytes, ownerKey: owner}
}

// Kind reports whether c is Public or Private.
func (c Chunk) Kind() Kind { return c.kind }

// Bytes returns the chunk's raw content.
func (c Chunk) Bytes() []byte { return c.bytes }

// Owner returns the owning key for a Private chunk.
func (c Chunk) Owner() identity.PublicKey { return c.ownerKey }

// Address computes the content-derived address: hash(bytes) for
// Public, hash(bytes || owner_pk) for Private.
func (c Chunk) Address() Address {
	switch c.kind {
	case Private:
		return Address{Kind: Private, Name: xorname.FromContent(c.bytes, c.ownerKey.Bytes())}
	default:
		return Address{Kind: Public, Name: xorname.FromContent(c.bytes)}
	}
}

// Len returns the size in bytes of the chunk's content.
func (c Chunk) Len() int { return len(c.bytes) }
