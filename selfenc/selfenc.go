// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package selfenc implements the self-encryption boundary: splitting a
// byte sequence into content-obfuscated chunks plus a DataMap, and the
// inverse decrypt/reassemble path. Chunk transport itself is the
// session package's concern; this package only deals in bytes and
// chunk.Chunk values.
package selfenc

import (
	"crypto/cipher"
	"encoding/json"
	"fmt"

	"github.com/quorumnet/core/chunk"
	"github.com/quorumnet/core/corerr"
	"github.com/quorumnet/core/xorname"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// MinEncryptableBytes is the smallest byte length self-encrypted as a
// LargeFile; anything smaller is a SmallFile packaged as a single
// padded chunk. register.MaxEntrySize is derived from this same
// constant (MinEncryptableBytes/3) so an entry never straddles the
// self-encryption boundary.
const MinEncryptableBytes = 3072

// MaxChunkSize bounds a single content chunk's plaintext size for
// large inputs; the chunk count grows rather than the chunk size
// once a file exceeds MinChunks*MaxChunkSize.
const MaxChunkSize = 1 << 20

// MinChunks is the minimum number of chunks a LargeFile splits into;
// each chunk's obfuscation key is derived from its two neighbours, so
// fewer than three chunks cannot chain.
const MinChunks = 3

// DefaultUploadSizeLimit is the pre-encryption upload size guard's
// default. Zero means unlimited; Session.Config may override it.
const DefaultUploadSizeLimit = 0

// ChunkInfo locates one content-obfuscated chunk and carries the hash
// of its plaintext, which the DataMap needs to derive decryption keys
// without re-fetching neighbouring ciphertexts.
type ChunkInfo struct {
	Index     int           `json:"index"`
	PreHash   [32]byte      `json:"pre_hash"`
	Address   chunk.Address `json:"address"`
	PlainSize int           `json:"plain_size"`
}

// DataMap lists, in order, the chunks that reconstruct one level of
// content (either the user's bytes, or a wrapped, over-sized DataMap
// from a deeper level).
type DataMap struct {
	Chunks    []ChunkInfo `json:"chunks"`
	ChildSize int         `json:"child_size"`
}

// DataMapLevel tags whether Map describes the user's content directly
// (First) or another, recursively wrapped DataMap (Additional).
type DataMapLevel struct {
	First      *DataMap `json:"first,omitempty"`
	Additional *DataMap `json:"additional,omitempty"`
}

func (l DataMapLevel) Map() (DataMap, bool) {
	if l.First != nil {
		return *l.First, true
	}
	if l.Additional != nil {
		return *l.Additional, true
	}
	return DataMap{}, false
}

func (l DataMapLevel) IsAdditional() bool { return l.Additional != nil }

// Fetcher resolves a chunk address to its stored (possibly encrypted)
// bytes; the session's link table / chunk cache implements this.
type Fetcher func(addr chunk.Address) ([]byte, error)

func preHash(plain []byte) [32]byte {
	return blake2b.Sum256(plain)
}

func chunkAEAD(neighbour1, neighbour2 [32]byte) (cipher.AEAD, []byte, error) {
	keyMaterial := blake2b.Sum256(append(append([]byte("selfenc-key"), neighbour1[:]...), neighbour2[:]...))
	nonceMaterial := blake2b.Sum256(append(append([]byte("selfenc-nonce"), neighbour1[:]...), neighbour2[:]...))
	aead, err := chacha20poly1305.New(keyMaterial[:])
	if err != nil {
		return nil, nil, err
	}
	return aead, nonceMaterial[:chacha20poly1305.NonceSize], nil
}

// splitBounds computes n chunk boundaries over a byte length, each
// roughly equal, the last absorbing any remainder.
func splitBounds(total, n int) [][2]int {
	bounds := make([][2]int, n)
	base := total / n
	rem := total % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		bounds[i] = [2]int{start, start + size}
		start += size
	}
	return bounds
}

func numChunksFor(size int) int {
	n := (size + MaxChunkSize - 1) / MaxChunkSize
	if n < MinChunks {
		return MinChunks
	}
	return n
}

// encryptChunks splits plain into obfuscated content chunks, each
// chunk's key/nonce derived from its two successor neighbours' plain
// hashes (wrapping around), so the DataMap alone (no access to sibling
// ciphertext) is enough to derive every chunk's decryption key.
func encryptChunks(plain []byte) (DataMap, []chunk.Chunk, error) {
	n := numChunksFor(len(plain))
	bounds := splitBounds(len(plain), n)

	plainChunks := make([][]byte, n)
	hashes := make([][32]byte, n)
	for i, b := range bounds {
		plainChunks[i] = plain[b[0]:b[1]]
		hashes[i] = preHash(plainChunks[i])
	}

	infos := make([]ChunkInfo, n)
	chunks := make([]chunk.Chunk, n)
	for i := 0; i < n; i++ {
		n1 := hashes[(i+1)%n]
		n2 := hashes[(i+2)%n]
		aead, nonce, err := chunkAEAD(n1, n2)
		if err != nil {
			return DataMap{}, nil, fmt.Errorf("selfenc: derive chunk cipher: %w", err)
		}
		ciphertext := aead.Seal(nil, nonce, plainChunks[i], nil)
		c := chunk.NewPublic(ciphertext)
		chunks[i] = c
		infos[i] = ChunkInfo{
			Index:     i,
			PreHash:   hashes[i],
			Address:   c.Address(),
			PlainSize: len(plainChunks[i]),
		}
	}

	return DataMap{Chunks: infos, ChildSize: len(plain)}, chunks, nil
}

// decryptChunks reverses encryptChunks given the DataMap and a way to
// fetch each chunk's stored (ciphertext) bytes.
func decryptChunks(dm DataMap, fetch Fetcher) ([]byte, error) {
	n := len(dm.Chunks)
	if n == 0 {
		return nil, nil
	}
	hashes := make([][32]byte, n)
	for _, info := range dm.Chunks {
		hashes[info.Index] = info.PreHash
	}

	out := make([]byte, dm.ChildSize)
	offset := 0
	for i := 0; i < n; i++ {
		info := dm.Chunks[i]
		ciphertext, err := fetch(info.Address)
		if err != nil {
			return nil, corerr.Wrap(corerr.KindNotEnoughChunksRetrieved, err)
		}
		n1 := hashes[(info.Index+1)%n]
		n2 := hashes[(info.Index+2)%n]
		aead, nonce, err := chunkAEAD(n1, n2)
		if err != nil {
			return nil, err
		}
		plain, err := aead.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return nil, corerr.Wrap(corerr.KindNotEnoughChunksRetrieved, err)
		}
		if preHash(plain) != info.PreHash {
			return nil, corerr.New(corerr.KindUnexpectedQueryResponse)
		}
		copy(out[offset:], plain)
		offset += len(plain)
	}
	return out, nil
}

// decryptRange decrypts only the chunks overlapping [pos, pos+length)
// and trims the result, avoiding a full fetch for seek reads.
func decryptRange(dm DataMap, fetch Fetcher, pos, length int) ([]byte, error) {
	n := len(dm.Chunks)
	if n == 0 {
		return nil, nil
	}
	hashes := make([][32]byte, n)
	offsets := make([]int, n)
	off := 0
	for _, info := range dm.Chunks {
		hashes[info.Index] = info.PreHash
		offsets[info.Index] = off
		off += info.PlainSize
	}

	end := pos + length
	if end > dm.ChildSize {
		end = dm.ChildSize
	}
	if pos >= end {
		return []byte{}, nil
	}

	var out []byte
	for i := 0; i < n; i++ {
		info := dm.Chunks[i]
		chunkStart := offsets[i]
		chunkEnd := chunkStart + info.PlainSize
		if chunkEnd <= pos || chunkStart >= end {
			continue
		}
		ciphertext, err := fetch(info.Address)
		if err != nil {
			return nil, corerr.Wrap(corerr.KindNotEnoughChunksRetrieved, err)
		}
		n1 := hashes[(info.Index+1)%n]
		n2 := hashes[(info.Index+2)%n]
		aead, nonce, err := chunkAEAD(n1, n2)
		if err != nil {
			return nil, err
		}
		plain, err := aead.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return nil, corerr.Wrap(corerr.KindNotEnoughChunksRetrieved, err)
		}
		lo := 0
		if pos > chunkStart {
			lo = pos - chunkStart
		}
		hi := len(plain)
		if end < chunkEnd {
			hi = len(plain) - (chunkEnd - end)
		}
		out = append(out, plain[lo:hi]...)
	}
	return out, nil
}

// EncryptLarge self-encrypts bytes (which must be >= MinEncryptableBytes)
// into a content chunk list plus a DataMap, recursively wrapping the
// DataMap itself if its serialised form is also over the threshold.
// Returns the head address (the terminal, outermost chunk) and every
// chunk produced along the way, content chunks first.
func EncryptLarge(plain []byte) (xorname.Name, []chunk.Chunk, error) {
	if len(plain) < MinEncryptableBytes {
		return xorname.Name{}, nil, corerr.New(corerr.KindTooSmallForSelfEncryption)
	}

	dm, contentChunks, err := encryptChunks(plain)
	if err != nil {
		return xorname.Name{}, nil, err
	}

	level := DataMapLevel{First: &dm}
	allChunks := append([]chunk.Chunk(nil), contentChunks...)

	for {
		levelBytes, err := json.Marshal(level)
		if err != nil {
			return xorname.Name{}, nil, fmt.Errorf("selfenc: marshal data map level: %w", err)
		}
		if len(levelBytes) < MinEncryptableBytes {
			head := chunk.NewPublic(levelBytes)
			allChunks = append(allChunks, head)
			return head.Address().Name, allChunks, nil
		}

		wrappedDM, wrappedChunks, err := encryptChunks(levelBytes)
		if err != nil {
			return xorname.Name{}, nil, err
		}
		allChunks = append(allChunks, wrappedChunks...)
		level = DataMapLevel{Additional: &wrappedDM}
	}
}

// PackageSmall pads/marks bytes as a single chunk; requires len(bytes)
// < MinEncryptableBytes.
func PackageSmall(plain []byte) (chunk.Chunk, error) {
	if len(plain) >= MinEncryptableBytes {
		return chunk.Chunk{}, corerr.New(corerr.KindSmallFilePaddingNeeded)
	}
	return chunk.NewPublic(append([]byte{smallFileMarker}, plain...)), nil
}

// smallFileMarker prefixes a SmallFile's packaged bytes so a head
// chunk can never collide with a DataMapLevel's JSON encoding (which
// always begins with '{').
const smallFileMarker = 0x00

func unpackSmall(packaged []byte) ([]byte, bool) {
	if len(packaged) == 0 || packaged[0] != smallFileMarker {
		return nil, false
	}
	return packaged[1:], true
}

// ChunkBytes is the pure entry point matching the external client API:
// classify, chunk deterministically, and report the head address
// without performing any network I/O.
func ChunkBytes(plain []byte, uploadSizeLimit int) (xorname.Name, []chunk.Chunk, error) {
	if uploadSizeLimit > 0 && len(plain) > uploadSizeLimit {
		return xorname.Name{}, nil, corerr.New(corerr.KindUploadSizeLimitExceeded)
	}
	if len(plain) < MinEncryptableBytes {
		c, err := PackageSmall(plain)
		if err != nil {
			return xorname.Name{}, nil, err
		}
		return c.Address().Name, []chunk.Chunk{c}, nil
	}
	return EncryptLarge(plain)
}

// CalculateAddress returns the same address ChunkBytes would produce,
// without retaining the intermediate chunk list.
func CalculateAddress(plain []byte, uploadSizeLimit int) (xorname.Name, error) {
	name, _, err := ChunkBytes(plain, uploadSizeLimit)
	return name, err
}

// DecodeHead tries to interpret headBytes as a DataMapLevel. ok is
// false when headBytes is a SmallFile's packaged payload instead.
func DecodeHead(headBytes []byte) (level DataMapLevel, plain []byte, ok bool) {
	if raw, isSmall := unpackSmall(headBytes); isSmall {
		return DataMapLevel{}, raw, false
	}
	var l DataMapLevel
	if err := json.Unmarshal(headBytes, &l); err != nil {
		return DataMapLevel{}, nil, false
	}
	if _, hasMap := l.Map(); !hasMap {
		return DataMapLevel{}, nil, false
	}
	return l, nil, true
}

// ReadAll reconstructs the full original bytes behind a head chunk's
// contents, recursing through any Additional DataMapLevel wrapping.
func ReadAll(headBytes []byte, fetch Fetcher) ([]byte, error) {
	level, raw, ok := DecodeHead(headBytes)
	if !ok {
		return raw, nil
	}
	for {
		m, _ := level.Map()
		decoded, err := decryptChunks(m, fetch)
		if err != nil {
			return nil, err
		}
		if !level.IsAdditional() {
			return decoded, nil
		}
		var next DataMapLevel
		if err := json.Unmarshal(decoded, &next); err != nil {
			return nil, fmt.Errorf("selfenc: decode wrapped data map: %w", err)
		}
		level = next
	}
}

// ReadRange reconstructs bytes [pos, pos+length) of the content
// behind a head chunk, fetching only the overlapping leaf chunks of
// the First-level DataMap (wrapper levels must still be fully
// decoded, since they are metadata, not user content).
func ReadRange(headBytes []byte, fetch Fetcher, pos, length int) ([]byte, error) {
	level, raw, ok := DecodeHead(headBytes)
	if !ok {
		end := pos + length
		if end > len(raw) {
			end = len(raw)
		}
		if pos >= end {
			return []byte{}, nil
		}
		return raw[pos:end], nil
	}
	for level.IsAdditional() {
		m, _ := level.Map()
		decoded, err := decryptChunks(m, fetch)
		if err != nil {
			return nil, err
		}
		var next DataMapLevel
		if err := json.Unmarshal(decoded, &next); err != nil {
			return nil, fmt.Errorf("selfenc: decode wrapped data map: %w", err)
		}
		level = next
	}
	m, _ := level.Map()
	return decryptRange(m, fetch, pos, length)
}
