// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"context"

	"github.com/luxfi/ids"
	"github.com/quorumnet/core/wiremsg"
	"github.com/quorumnet/core/xorname"
)

// Peer is one elder or adult a session can address: its node id (used
// to open a stream) and its last-known xor name within its section
// (used for AE elder-remapping distance comparisons).
type Peer struct {
	ID   ids.NodeID
	Name xorname.Name
}

// Transport is the secure bidirectional stream provider this package
// treats as an external collaborator: an authenticated, already-
// established transport this package never opens a socket for itself.
// Send opens or reuses a stream to peer, writes msg, and returns the
// single response read back.
type Transport interface {
	Send(ctx context.Context, peer ids.NodeID, msg wiremsg.Message) (wiremsg.Message, error)
}
