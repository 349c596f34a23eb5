package indexstore

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Composite keys are encoded big-endian so lexicographic byte order matches
// numeric order, which makes bbolt range scans walk snapshots and symbols in
// ID order without any decoding during the scan.

func u64be(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func u32be(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func beU64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func beU32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// stringHash keys the interning reverse indexes. Collisions are resolved by
// comparing the stored strings under the shared hash prefix.
func stringHash(s string) uint64 {
	return xxhash.Sum64String(s)
}

// Chunk-map values are packed binary, shared by both backends: a 4-byte
// big-endian entry count, then repeated 32-byte digest + 4-byte length.
// The count prefix keeps a zero-entry map (empty file) distinguishable from
// a missing row.
const chunkMapEntrySize = 32 + 4

func encodeChunkMap(entries []ChunkMapEntry) []byte {
	v := make([]byte, 0, 4+len(entries)*chunkMapEntrySize)
	v = append(v, u32be(uint32(len(entries)))...)
	for _, e := range entries {
		v = append(v, e.Digest[:]...)
		v = append(v, u32be(e.Length)...)
	}
	return v
}

func decodeChunkMap(id uint64, v []byte) ([]ChunkMapEntry, error) {
	if len(v) < 4 {
		return nil, fmt.Errorf("indexstore: corrupt chunk-map %d", id)
	}
	count := int(beU32(v[:4]))
	v = v[4:]
	if len(v) != count*chunkMapEntrySize {
		return nil, fmt.Errorf("indexstore: corrupt chunk-map %d", id)
	}
	entries := make([]ChunkMapEntry, 0, count)
	for off := 0; off < len(v); off += chunkMapEntrySize {
		var e ChunkMapEntry
		copy(e.Digest[:], v[off:off+32])
		e.Length = beU32(v[off+32 : off+36])
		entries = append(entries, e)
	}
	return entries, nil
}
