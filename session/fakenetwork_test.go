// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"context"
	"sync"

	"github.com/luxfi/ids"
	"github.com/quorumnet/core/chunk"
	"github.com/quorumnet/core/register"
	"github.com/quorumnet/core/section"
	"github.com/quorumnet/core/wiremsg"
)

// fakeNetwork is a deterministic in-memory stand-in for a real
// section's elders: every registered node id answers queries/commands
// against shared chunk and register stores, the way a real elder
// would answer against its own local persistence. Nodes not currently
// part of sap's elder set always answer with an AntiEntropyRedirect,
// simulating churn the client hasn't heard about yet.
type fakeNetwork struct {
	mu sync.Mutex

	sap         section.SAP
	updateBytes []byte

	chunks    map[chunk.Address][]byte
	registers map[register.Address]*register.Register

	nodes map[ids.NodeID]bool // true if this node id belongs to the current sap
}

func newFakeNetwork(sap section.SAP, updateBytes []byte) *fakeNetwork {
	n := &fakeNetwork{
		sap:         sap,
		updateBytes: updateBytes,
		chunks:      make(map[chunk.Address][]byte),
		registers:   make(map[register.Address]*register.Register),
		nodes:       make(map[ids.NodeID]bool),
	}
	for id := range sap.Elders {
		n.nodes[id] = true
	}
	return n
}

// addStaleNode registers a reachable node id that is not part of the
// current section, so requests to it always bounce as a redirect.
func (n *fakeNetwork) addStaleNode(id ids.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[id] = false
}

// Send implements Transport.
func (n *fakeNetwork) Send(_ context.Context, peer ids.NodeID, msg wiremsg.Message) (wiremsg.Message, error) {
	body, err := DecodeBody(msg.Payload)
	if err != nil {
		return wiremsg.Message{}, err
	}

	n.mu.Lock()
	isMember := n.nodes[peer]
	n.mu.Unlock()

	var respBody Body
	if !isMember {
		respBody = Body{Type: TypeAERedirect, AERedirect: &AERedirect{UpdateBytes: n.updateBytes}}
	} else {
		respBody = n.handle(body)
	}

	payload, err := EncodeBody(respBody)
	if err != nil {
		return wiremsg.Message{}, err
	}
	return wiremsg.Message{MsgID: msg.MsgID, Kind: msg.Kind, Dst: msg.Dst, Payload: payload}, nil
}

func (n *fakeNetwork) handle(body Body) Body {
	switch body.Type {
	case TypeGetSectionQuery:
		return Body{Type: TypeSectionResponse, SectionResponse: &SectionResponse{UpdateBytes: n.updateBytes}}

	case TypeGetChunkQuery:
		addr, err := decodeChunkAddress(body.GetChunkQuery.Address)
		if err != nil {
			return Body{Type: TypeCmdError, CmdError: &CmdError{Kind: "BadRequest"}}
		}
		n.mu.Lock()
		data, ok := n.chunks[addr]
		n.mu.Unlock()
		if !ok {
			return Body{Type: TypeCmdError, CmdError: &CmdError{Kind: "NoSuchEntry"}}
		}
		return Body{Type: TypeChunkResponse, ChunkResponse: &ChunkResponse{Chunk: encodeChunk(chunk.NewPublic(data))}}

	case TypeStoreChunkCmd:
		c, err := decodeChunk(body.StoreChunkCmd.Chunk)
		if err != nil {
			return Body{Type: TypeCmdError, CmdError: &CmdError{Kind: "BadRequest"}}
		}
		n.mu.Lock()
		n.chunks[c.Address()] = c.Bytes()
		n.mu.Unlock()
		return Body{Type: TypeCmdAck, CmdAck: &CmdAck{}}

	case TypeGetRegisterQuery:
		n.mu.Lock()
		r, ok := n.registers[body.GetRegisterQuery.Address]
		n.mu.Unlock()
		if !ok {
			return Body{Type: TypeCmdError, CmdError: &CmdError{Kind: "NoSuchEntry"}}
		}
		replicaBytes, err := register.MarshalReplica(r)
		if err != nil {
			return Body{Type: TypeCmdError, CmdError: &CmdError{Kind: "Internal"}}
		}
		return Body{Type: TypeRegisterResponse, RegisterResponse: &RegisterResponse{ReplicaBytes: replicaBytes}}

	case TypeApplyRegisterOpCmd:
		op, err := decodeCrdtOperation(body.ApplyRegisterOpCmd.Op)
		if err != nil {
			return Body{Type: TypeCmdError, CmdError: &CmdError{Kind: "BadRequest"}}
		}
		n.mu.Lock()
		r, ok := n.registers[op.Address]
		if !ok {
			// Real elder-side register creation is out of this
			// package's scope; the fake network grants Anyone write so
			// concurrent authors in tests can converge without a
			// separate creation handshake.
			policy := register.NewPolicy(register.UserKey(op.Authority))
			policy.Permissions[register.AnyUser] = register.NewPermissionSet(true, true, true)
			r = register.New(op.Authority, op.Address.Name, op.Address.Tag, policy)
			n.registers[op.Address] = r
		}
		err = r.ApplyOp(op)
		n.mu.Unlock()
		if err != nil {
			return Body{Type: TypeCmdError, CmdError: &CmdError{Kind: "AccessDenied"}}
		}
		return Body{Type: TypeCmdAck, CmdAck: &CmdAck{}}

	default:
		return Body{Type: TypeCmdError, CmdError: &CmdError{Kind: "BadRequest"}}
	}
}
