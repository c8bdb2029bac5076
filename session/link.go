// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"context"
	"sync"

	"github.com/luxfi/ids"
	"github.com/quorumnet/core/wiremsg"
)

// linkState is one peer's connection state. It carries no stream
// handle of its own — Transport owns actual I/O — but serialises
// concurrent use of one peer's logical connection the way a single
// bidirectional stream would: two requests to the same elder queue
// behind each other rather than racing.
type linkState struct {
	mu sync.Mutex
}

// LinkTable is the session's peer -> connection state map. Per-peer
// locks are fine-grained: concurrent sends to distinct peers never
// contend on the table lock itself, only on acquiring/creating an
// entry.
type LinkTable struct {
	mu    sync.RWMutex
	links map[ids.NodeID]*linkState
}

// NewLinkTable creates an empty link table.
func NewLinkTable() *LinkTable {
	return &LinkTable{links: make(map[ids.NodeID]*linkState)}
}

// ensure returns the linkState for peer, creating it if absent.
func (l *LinkTable) ensure(peer ids.NodeID) *linkState {
	l.mu.RLock()
	ls, ok := l.links[peer]
	l.mu.RUnlock()
	if ok {
		return ls
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ls, ok := l.links[peer]; ok {
		return ls
	}
	ls = &linkState{}
	l.links[peer] = ls
	return ls
}

// ForceNewLink evicts any existing link state for peer, so the next
// send establishes a fresh one. Used when a peer's stream is believed
// to be broken (e.g. after a transport-level send error).
func (l *LinkTable) ForceNewLink(peer ids.NodeID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.links, peer)
}

// send serialises concurrent use of peer's link (a suspension point:
// acquiring a per-peer connect permit) and then delegates the actual
// round trip to transport.
func (l *LinkTable) send(ctx context.Context, transport Transport, peer ids.NodeID, msg wiremsg.Message) (wiremsg.Message, error) {
	ls := l.ensure(peer)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return transport.Send(ctx, peer, msg)
}
