// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/quorumnet/core/chunk"
	"github.com/quorumnet/core/corerr"
	"github.com/quorumnet/core/register"
	"github.com/quorumnet/core/selfenc"
	"github.com/quorumnet/core/xorname"
)

// ChunkBytes classifies and deterministically chunks plain without
// any network I/O, matching the pure entry point of the external
// client API.
func (s *Session) ChunkBytes(plain []byte) (xorname.Name, []chunk.Chunk, error) {
	return selfenc.ChunkBytes(plain, s.config.UploadSizeLimit)
}

// CalculateAddress returns the address ChunkBytes would produce for
// plain, without performing any chunking or network I/O.
func (s *Session) CalculateAddress(plain []byte) (xorname.Name, error) {
	return selfenc.CalculateAddress(plain, s.config.UploadSizeLimit)
}

// Upload self-encrypts plain, stores every resulting chunk across the
// network in batches of at most config.ChunksBatchMax concurrent
// commands, and returns the head chunk's address.
func (s *Session) Upload(ctx context.Context, plain []byte) (xorname.Name, error) {
	head, chunks, err := s.ChunkBytes(plain)
	if err != nil {
		return xorname.Name{}, err
	}
	if err := s.storeChunks(ctx, chunks); err != nil {
		return xorname.Name{}, err
	}
	return head, nil
}

// UploadAndVerify uploads plain and then reads it back from the
// network to confirm every chunk is retrievable and the reassembled
// bytes match, surfacing storage failures immediately rather than at
// the first unrelated read.
func (s *Session) UploadAndVerify(ctx context.Context, plain []byte) (xorname.Name, error) {
	head, err := s.Upload(ctx, plain)
	if err != nil {
		return xorname.Name{}, err
	}
	readBack, err := s.ReadBytes(ctx, head)
	if err != nil {
		if ctx.Err() != nil {
			return xorname.Name{}, corerr.Wrap(corerr.KindChunkUploadValidationTimeout, err)
		}
		return xorname.Name{}, err
	}
	if !bytes.Equal(readBack, plain) {
		return xorname.Name{}, corerr.New(corerr.KindNotEnoughChunksRetrieved)
	}
	return head, nil
}

// ReadBytes reconstructs the full content stored at head.
func (s *Session) ReadBytes(ctx context.Context, head xorname.Name) ([]byte, error) {
	headBytes, err := s.fetchChunk(ctx, chunk.Address{Kind: chunk.Public, Name: head})
	if err != nil {
		return nil, err
	}
	return selfenc.ReadAll(headBytes, s.fetcherFor(ctx))
}

// ReadFrom reconstructs bytes [pos, pos+length) of the content stored
// at head, without fetching unrelated content chunks.
func (s *Session) ReadFrom(ctx context.Context, head xorname.Name, pos, length int) ([]byte, error) {
	headBytes, err := s.fetchChunk(ctx, chunk.Address{Kind: chunk.Public, Name: head})
	if err != nil {
		return nil, err
	}
	return selfenc.ReadRange(headBytes, s.fetcherFor(ctx), pos, length)
}

// fetcherFor adapts fetchChunk into the selfenc.Fetcher shape, closing
// over ctx since Fetcher itself carries none.
func (s *Session) fetcherFor(ctx context.Context) selfenc.Fetcher {
	return func(addr chunk.Address) ([]byte, error) {
		return s.fetchChunk(ctx, addr)
	}
}

// fetchChunk returns addr's content, consulting the LRU cache first.
func (s *Session) fetchChunk(ctx context.Context, addr chunk.Address) ([]byte, error) {
	if data, ok := s.cache.Get(addr); ok {
		s.metrics.cacheHits.Inc()
		return data, nil
	}
	s.metrics.cacheMisses.Inc()

	body := Body{Type: TypeGetChunkQuery, GetChunkQuery: &GetChunkQuery{Address: encodeChunkAddress(addr)}}
	c, err := doQuery(s, ctx, addr.Name, body, aggregateChunkQuery(addr))
	if err != nil {
		return nil, err
	}
	s.cache.Put(addr, c.Bytes())
	return c.Bytes(), nil
}

// storeChunks stores every chunk across the network, running up to
// config.ChunksBatchMax commands concurrently and returning the first
// error encountered (subsequent in-flight commands are still allowed
// to finish, but their results are discarded).
func (s *Session) storeChunks(ctx context.Context, chunks []chunk.Chunk) error {
	batch := s.config.ChunksBatchMax
	if batch <= 0 {
		batch = len(chunks)
	}
	sem := make(chan struct{}, batch)
	var wg sync.WaitGroup
	errCh := make(chan error, len(chunks))

	for _, c := range chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(c chunk.Chunk) {
			defer wg.Done()
			defer func() { <-sem }()
			errCh <- s.storeChunk(ctx, c)
		}(c)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// storeChunk issues a StoreChunkCmd for c against its own address's
// section.
func (s *Session) storeChunk(ctx context.Context, c chunk.Chunk) error {
	addr := c.Address()
	body := Body{Type: TypeStoreChunkCmd, StoreChunkCmd: &StoreChunkCmd{Chunk: encodeChunk(c)}}
	return s.doCommand(ctx, addr.Name, body)
}

// CreateRegister builds an empty register replica rooted at (name,
// tag), signed by this session's identity, with the given policy.
// This is a pure local operation; the register becomes visible to the
// network only once a write is broadcast.
func (s *Session) CreateRegister(name xorname.Name, tag uint64, policy register.Policy) *register.Register {
	return register.New(s.identity.Public(), name, tag, policy)
}

// WriteRegister builds the unsigned CRDT operation for entry, signs it
// with this session's identity, merges it into the local replica reg,
// and broadcasts it to every elder of reg's section.
func (s *Session) WriteRegister(ctx context.Context, reg *register.Register, entry register.Entry, parents []register.EntryHash) (register.EntryHash, register.CrdtOperation, error) {
	hash, op, err := reg.Write(entry, parents)
	if err != nil {
		return register.EntryHash{}, register.CrdtOperation{}, err
	}
	op.Signature = s.identity.Sign(op.SignableBytes())
	if err := reg.ApplyOp(op); err != nil {
		return register.EntryHash{}, register.CrdtOperation{}, fmt.Errorf("session: apply own write locally: %w", err)
	}
	if err := s.broadcastOp(ctx, op); err != nil {
		return register.EntryHash{}, register.CrdtOperation{}, err
	}
	return hash, op, nil
}

// ApplyOp merges a signed CRDT operation obtained from elsewhere (e.g.
// another replica) into reg and broadcasts it onward so the network
// converges.
func (s *Session) ApplyOp(ctx context.Context, reg *register.Register, op register.CrdtOperation) error {
	if err := reg.ApplyOp(op); err != nil {
		return err
	}
	return s.broadcastOp(ctx, op)
}

func (s *Session) broadcastOp(ctx context.Context, op register.CrdtOperation) error {
	body := Body{Type: TypeApplyRegisterOpCmd, ApplyRegisterOpCmd: &ApplyRegisterOpCmd{Op: encodeCrdtOperation(op)}}
	return s.doCommand(ctx, op.Address.Name, body)
}

// ReadRegister queries the network for addr's replica, merging every
// valid response the fan-out receives.
func (s *Session) ReadRegister(ctx context.Context, addr register.Address) (*register.Register, error) {
	body := Body{Type: TypeGetRegisterQuery, GetRegisterQuery: &GetRegisterQuery{Address: addr}}
	return doQuery(s, ctx, addr.Name, body, aggregateRegisterQuery())
}
