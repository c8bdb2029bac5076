// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wiremsg implements the bit-exact outer envelope every
// message crossing a client session's transport is wrapped in:
// {msg_id: 16 bytes, kind: one byte, dst: {name: 32 bytes, section_key:
// 48 bytes}, payload: length-prefixed bytes}. The transport itself
// (an authenticated bidirectional stream) and the inner application
// payload (commands, queries, anti-entropy updates) are both external
// to this package; it only owns the framing.
package wiremsg

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/quorumnet/core/blskey"
	"github.com/quorumnet/core/xorname"
	"google.golang.org/protobuf/encoding/protowire"
)

// MsgIDLen is the width of a MsgID in bytes.
const MsgIDLen = 16

// MsgID uniquely identifies one logical request across the retries an
// anti-entropy resend may trigger; responders deduplicate by it.
type MsgID [MsgIDLen]byte

// NewMsgID generates a fresh random message id, once per logical
// request — AE retries and redirects reuse the same id so a
// responder's deduplication sees them as the same request.
func NewMsgID() MsgID {
	var id MsgID
	_, _ = rand.Read(id[:])
	return id
}

func (m MsgID) String() string { return hex.EncodeToString(m[:]) }

func (m MsgID) IsZero() bool { return m == MsgID{} }

// Kind tags the category of a message's destination handling.
type Kind uint8

const (
	KindClient Kind = iota
	KindNode
	KindSection
	KindAntiEntropy
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "Client"
	case KindNode:
		return "Node"
	case KindSection:
		return "Section"
	case KindAntiEntropy:
		return "AntiEntropy"
	default:
		return "Unknown"
	}
}

// Dst identifies the addressee a message is routed towards: the
// target name (used to pick the responsible section) and the section
// key the sender believes is current for it.
type Dst struct {
	Name       xorname.Name
	SectionKey blskey.SectionKey
}

// Message is the outer envelope. Payload is opaque to this package —
// callers encode/decode it with whatever scheme the message kind
// calls for (JSON via the codec package, in this repo).
type Message struct {
	MsgID   MsgID
	Kind    Kind
	Dst     Dst
	Payload []byte
}

// SignableBytes is what a signature over a message covers: the
// payload followed by the message id, per the wire format contract.
func SignableBytes(payload []byte, id MsgID) []byte {
	out := make([]byte, 0, len(payload)+MsgIDLen)
	out = append(out, payload...)
	out = append(out, id[:]...)
	return out
}

// Encode serialises m to its canonical bit-exact wire form: the fixed
// msg_id/kind/dst fields followed by the payload as a protowire
// length-delimited field.
func Encode(m Message) []byte {
	keyBytes := m.Dst.SectionKey.Bytes()
	out := make([]byte, 0, MsgIDLen+1+xorname.Len+len(keyBytes)+10+len(m.Payload))
	out = append(out, m.MsgID[:]...)
	out = append(out, byte(m.Kind))
	out = append(out, m.Dst.Name[:]...)
	out = append(out, keyBytes...)
	out = protowire.AppendBytes(out, m.Payload)
	return out
}

// Decode reverses Encode.
func Decode(data []byte) (Message, error) {
	const fixedLen = MsgIDLen + 1 + xorname.Len + blskey.PublicKeyLen
	if len(data) < fixedLen {
		return Message{}, fmt.Errorf("wiremsg: message too short: %d bytes", len(data))
	}
	var m Message
	copy(m.MsgID[:], data[:MsgIDLen])
	m.Kind = Kind(data[MsgIDLen])
	copy(m.Dst.Name[:], data[MsgIDLen+1:MsgIDLen+1+xorname.Len])

	keyStart := MsgIDLen + 1 + xorname.Len
	sectionKey, err := blskey.SectionKeyFromBytes(data[keyStart : keyStart+blskey.PublicKeyLen])
	if err != nil {
		return Message{}, fmt.Errorf("wiremsg: decode section key: %w", err)
	}
	m.Dst.SectionKey = sectionKey

	payload, n := protowire.ConsumeBytes(data[fixedLen:])
	if n < 0 {
		return Message{}, fmt.Errorf("wiremsg: decode payload: %w", protowire.ParseError(n))
	}
	if fixedLen+n != len(data) {
		return Message{}, fmt.Errorf("wiremsg: trailing bytes after payload")
	}
	m.Payload = append([]byte(nil), payload...)
	return m, nil
}
