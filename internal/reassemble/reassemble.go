// Package reassemble reconstructs a file's exact byte content from its
// chunk-map at any snapshot, verifying the result against the digest
// recorded at commit time.
package reassemble

import (
	"fmt"

	"github.com/alessandrobrunoh/mnemosyne/internal/cas"
	"github.com/alessandrobrunoh/mnemosyne/internal/indexstore"
	"github.com/alessandrobrunoh/mnemosyne/internal/mnemerr"
)

// Snapshot fetches the snapshot's chunk-map and concatenates its chunks in
// order. The output is guaranteed to match the snapshot's content digest; a
// mismatch is a fatal IntegrityError, never silently returned.
func Snapshot(store indexstore.Store, blobs *cas.Store, snapshotID uint64) ([]byte, error) {
	var rec indexstore.SnapshotRecord
	var entries []indexstore.ChunkMapEntry

	err := store.View(func(tx indexstore.Tx) error {
		var ok bool
		var err error
		rec, ok, err = tx.GetSnapshot(snapshotID)
		if err != nil {
			return err
		}
		if !ok {
			return mnemerr.New(mnemerr.CodeIONotFound,
				fmt.Sprintf("snapshot %d not found", snapshotID), nil)
		}
		entries, ok, err = tx.GetChunkMap(rec.ChunkMapID)
		if err != nil {
			return err
		}
		if !ok {
			return mnemerr.New(mnemerr.CodeIntegrityMissing,
				fmt.Sprintf("snapshot %d references missing chunk-map %d", snapshotID, rec.ChunkMapID), nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return FromChunkMap(blobs, rec, entries)
}

// FromChunkMap is the inner reconstruction step, usable when the caller has
// already read the snapshot record and chunk-map inside its own view
// transaction.
func FromChunkMap(blobs *cas.Store, rec indexstore.SnapshotRecord, entries []indexstore.ChunkMapEntry) ([]byte, error) {
	out := make([]byte, 0, rec.Size)
	for _, e := range entries {
		chunk, err := blobs.Get(e.Digest)
		if err != nil {
			return nil, err
		}
		if uint32(len(chunk)) != e.Length {
			return nil, mnemerr.New(mnemerr.CodeIntegrityMismatch,
				fmt.Sprintf("chunk %s length %d does not match chunk-map entry %d",
					e.Digest, len(chunk), e.Length), nil)
		}
		out = append(out, chunk...)
	}

	if int64(len(out)) != rec.Size {
		return nil, mnemerr.New(mnemerr.CodeIntegrityMismatch,
			fmt.Sprintf("snapshot %d reassembled to %d bytes, recorded size %d",
				rec.ID, len(out), rec.Size), nil)
	}
	if got := cas.Sum(out); got != rec.ContentDigest {
		return nil, mnemerr.New(mnemerr.CodeIntegrityMismatch,
			fmt.Sprintf("snapshot %d digest mismatch: want %s got %s",
				rec.ID, rec.ContentDigest, got), nil)
	}
	return out, nil
}
