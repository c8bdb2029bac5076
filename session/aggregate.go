// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"github.com/quorumnet/core/chunk"
	"github.com/quorumnet/core/corerr"
	"github.com/quorumnet/core/register"
)

// aggregateChunkQuery returns the first response whose decoded chunk
// actually hashes to want (byzantine-safe since the address is the
// content hash). Any response that isn't a matching chunk — wrong
// shape, undecodable, or a different address — is discarded and
// counted as an invalid vote; only once more than half of targetCount
// have voted invalid is an error returned. Waits for more responses
// otherwise.
func aggregateChunkQuery(want chunk.Address) func([]Body, int) (chunk.Chunk, bool, error) {
	return func(bodies []Body, targetCount int) (chunk.Chunk, bool, error) {
		invalid := 0
		for _, b := range bodies {
			if b.Type != TypeChunkResponse {
				invalid++
				continue
			}
			c, err := decodeChunk(b.ChunkResponse.Chunk)
			if err != nil {
				invalid++
				continue
			}
			if c.Address() == want {
				return c, true, nil
			}
			invalid++
		}
		if invalid*2 > targetCount {
			return chunk.Chunk{}, false, corerr.New(corerr.KindUnexpectedQueryResponse)
		}
		return chunk.Chunk{}, false, nil
	}
}

// aggregateRegisterQuery merges every decodable RegisterResponse into
// a single replica, using the variant with the larger Size() as the
// base and keeping all history regardless via Merge. Waits for more
// responses if none have arrived yet.
func aggregateRegisterQuery() func([]Body, int) (*register.Register, bool, error) {
	return func(bodies []Body, _ int) (*register.Register, bool, error) {
		if len(bodies) == 0 {
			return nil, false, nil
		}
		var merged *register.Register
		for _, b := range bodies {
			if b.Type != TypeRegisterResponse {
				continue
			}
			r, err := register.UnmarshalReplica(b.RegisterResponse.ReplicaBytes)
			if err != nil {
				continue
			}
			if merged == nil {
				merged = r
				continue
			}
			if r.Size() > merged.Size() {
				r.Merge(merged)
				merged = r
				continue
			}
			merged.Merge(r)
		}
		if merged == nil {
			return nil, false, corerr.New(corerr.KindUnexpectedQueryResponse)
		}
		return merged, true, nil
	}
}
