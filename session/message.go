// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"encoding/hex"
	"fmt"

	"github.com/quorumnet/core/chunk"
	"github.com/quorumnet/core/codec"
	"github.com/quorumnet/core/identity"
	"github.com/quorumnet/core/register"
	"github.com/quorumnet/core/xorname"
)

// BodyType tags which of Body's optional fields is populated. JSON
// encodes Body as a flat object with every other field omitted: a
// tagged union by optional pointer.
type BodyType string

const (
	TypeGetSectionQuery    BodyType = "get_section_query"
	TypeGetChunkQuery      BodyType = "get_chunk_query"
	TypeGetRegisterQuery   BodyType = "get_register_query"
	TypeStoreChunkCmd      BodyType = "store_chunk_cmd"
	TypeApplyRegisterOpCmd BodyType = "apply_register_op_cmd"
	TypeCmdAck             BodyType = "cmd_ack"
	TypeCmdError           BodyType = "cmd_error"
	TypeChunkResponse      BodyType = "chunk_response"
	TypeRegisterResponse   BodyType = "register_response"
	TypeSectionResponse    BodyType = "section_response"
	TypeAERetry            BodyType = "ae_retry"
	TypeAERedirect         BodyType = "ae_redirect"
)

// wireChunk is chunk.Chunk's JSON projection: Chunk's fields are
// unexported, so this package goes through its accessors rather than
// reaching into the type.
type wireChunk struct {
	Kind  int    `json:"kind"`
	Bytes []byte `json:"bytes"`
	Owner string `json:"owner,omitempty"`
}

func encodeChunk(c chunk.Chunk) wireChunk {
	wc := wireChunk{Kind: int(c.Kind()), Bytes: c.Bytes()}
	if c.Kind() == chunk.Private {
		wc.Owner = c.Owner().String()
	}
	return wc
}

func decodeChunk(wc wireChunk) (chunk.Chunk, error) {
	if chunk.Kind(wc.Kind) == chunk.Private {
		pk, err := pkFromHex(wc.Owner)
		if err != nil {
			return chunk.Chunk{}, err
		}
		return chunk.NewPrivate(wc.Bytes, pk), nil
	}
	return chunk.NewPublic(wc.Bytes), nil
}

// wireChunkAddress is chunk.Address's JSON projection.
type wireChunkAddress struct {
	Kind int    `json:"kind"`
	Name string `json:"name"`
}

func encodeChunkAddress(a chunk.Address) wireChunkAddress {
	return wireChunkAddress{Kind: int(a.Kind), Name: a.Name.String()}
}

func decodeChunkAddress(wa wireChunkAddress) (chunk.Address, error) {
	name, err := nameFromHex(wa.Name)
	if err != nil {
		return chunk.Address{}, err
	}
	return chunk.Address{Kind: chunk.Kind(wa.Kind), Name: name}, nil
}

// wireCrdtOperation is register.CrdtOperation's JSON projection:
// Authority is an identity.PublicKey, which has unexported fields.
type wireCrdtOperation struct {
	Address   register.Address   `json:"address"`
	Hash      register.EntryHash `json:"hash"`
	Value     register.Entry     `json:"value"`
	Parents   []register.EntryHash `json:"parents"`
	Authority string             `json:"authority"`
	Signature []byte             `json:"signature"`
}

func encodeCrdtOperation(op register.CrdtOperation) wireCrdtOperation {
	return wireCrdtOperation{
		Address:   op.Address,
		Hash:      op.Hash,
		Value:     op.Value,
		Parents:   op.Parents,
		Authority: op.Authority.String(),
		Signature: op.Signature,
	}
}

func decodeCrdtOperation(w wireCrdtOperation) (register.CrdtOperation, error) {
	authority, err := pkFromHex(w.Authority)
	if err != nil {
		return register.CrdtOperation{}, err
	}
	return register.CrdtOperation{
		Address:   w.Address,
		Hash:      w.Hash,
		Value:     w.Value,
		Parents:   w.Parents,
		Authority: authority,
		Signature: w.Signature,
	}, nil
}

// GetSectionQuery is the bootstrap request: "who is responsible for
// this name?"
type GetSectionQuery struct {
	Name xorname.Name `json:"name"`
}

// SectionResponse answers a GetSectionQuery with the update the
// responder would gossip for the name's section.
type SectionResponse struct {
	UpdateBytes []byte `json:"update_bytes"`
}

// GetChunkQuery requests one chunk by address.
type GetChunkQuery struct {
	Address wireChunkAddress `json:"address"`
}

// ChunkResponse carries a fetched chunk.
type ChunkResponse struct {
	Chunk wireChunk `json:"chunk"`
}

// GetRegisterQuery requests a register replica snapshot.
type GetRegisterQuery struct {
	Address register.Address `json:"address"`
}

// RegisterResponse carries a register.MarshalReplica snapshot.
type RegisterResponse struct {
	ReplicaBytes []byte `json:"replica_bytes"`
}

// StoreChunkCmd asks every elder of a section to persist a chunk.
type StoreChunkCmd struct {
	Chunk wireChunk `json:"chunk"`
}

// ApplyRegisterOpCmd asks every elder of a section to merge a signed
// CRDT operation into its replica.
type ApplyRegisterOpCmd struct {
	Op wireCrdtOperation `json:"op"`
}

// CmdAck is a bare command success acknowledgement.
type CmdAck struct{}

// CmdError reports a command failure's taxonomy kind.
type CmdError struct {
	Kind string `json:"kind"`
}

// AERetry is returned instead of a normal response when the responder
// was in the target section but the sender's section key was stale.
type AERetry struct {
	UpdateBytes []byte          `json:"update_bytes"`
	Bounced     wireMessageBody `json:"bounced"`
}

// AERedirect is returned when the responder was never in the target
// section at all.
type AERedirect struct {
	UpdateBytes []byte          `json:"update_bytes"`
	Bounced     wireMessageBody `json:"bounced"`
}

// wireMessageBody is the wire shape of the request an elder bounced
// back as part of an AE response; the session only needs the update
// that came alongside it to correct its own routing, not this field.
type wireMessageBody struct {
	MsgIDHex string `json:"msg_id"`
	Kind     uint8  `json:"kind"`
	Name     string `json:"name"`
	Payload  []byte `json:"payload"`
}

// Body is the application-level payload carried inside a wiremsg
// envelope; exactly one field besides Type is populated.
type Body struct {
	Type BodyType `json:"type"`

	GetSectionQuery    *GetSectionQuery    `json:"get_section_query,omitempty"`
	GetChunkQuery      *GetChunkQuery      `json:"get_chunk_query,omitempty"`
	GetRegisterQuery   *GetRegisterQuery   `json:"get_register_query,omitempty"`
	StoreChunkCmd      *StoreChunkCmd      `json:"store_chunk_cmd,omitempty"`
	ApplyRegisterOpCmd *ApplyRegisterOpCmd `json:"apply_register_op_cmd,omitempty"`
	CmdAck             *CmdAck             `json:"cmd_ack,omitempty"`
	CmdError           *CmdError           `json:"cmd_error,omitempty"`
	ChunkResponse      *ChunkResponse      `json:"chunk_response,omitempty"`
	RegisterResponse   *RegisterResponse   `json:"register_response,omitempty"`
	SectionResponse    *SectionResponse    `json:"section_response,omitempty"`
	AERetry            *AERetry            `json:"ae_retry,omitempty"`
	AERedirect         *AERedirect         `json:"ae_redirect,omitempty"`
}

// EncodeBody serialises b via the shared codec.
func EncodeBody(b Body) ([]byte, error) {
	data, err := codec.Codec.Marshal(codec.CurrentVersion, b)
	if err != nil {
		return nil, fmt.Errorf("session: encode body: %w", err)
	}
	return data, nil
}

// DecodeBody reverses EncodeBody.
func DecodeBody(data []byte) (Body, error) {
	var b Body
	if _, err := codec.Codec.Unmarshal(data, &b); err != nil {
		return Body{}, fmt.Errorf("session: decode body: %w", err)
	}
	return b, nil
}

func pkFromHex(s string) (identity.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return identity.PublicKey{}, fmt.Errorf("session: decode public key %q: %w", s, err)
	}
	return identity.PublicKeyFromBytes(b)
}

func nameFromHex(s string) (xorname.Name, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != xorname.Len {
		return xorname.Name{}, fmt.Errorf("session: decode name %q: %w", s, err)
	}
	return xorname.Name(b), nil
}
