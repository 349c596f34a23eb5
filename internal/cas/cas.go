// Package cas implements the content-addressed blob store: the on-disk
// CAS subtree at <project>/.mnemosyne/cas/, keyed by a 256-bit digest with
// a two-level hex fan-out directory, atomic temp-file-plus-rename writes,
// and optional snappy compression for payloads at or above 256 bytes.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/alessandrobrunoh/mnemosyne/internal/mnemerr"
)

// Digest is a 256-bit content hash, the address of a blob in the store.
type Digest [32]byte

// String renders the digest as lowercase hex, the on-disk directory name.
func (d Digest) String() string {
	return fmt.Sprintf("%x", [32]byte(d))
}

// Sum computes the digest of b.
func Sum(b []byte) Digest {
	return Digest(sha256.Sum256(b))
}

// MarshalText renders the digest as lowercase hex so JSON-encoded records
// carry digests in the same form as the on-disk CAS layout.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a lowercase hex digest.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest parses a lowercase hex digest string.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != 64 {
		return d, fmt.Errorf("cas: digest must be 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("cas: invalid digest %q: %w", s, err)
	}
	copy(d[:], b)
	return d, nil
}

// compressionThreshold is the minimum payload size, in bytes, at or above
// which put() compresses. Below it, snappy's framing overhead would make
// the blob larger, not smaller.
const compressionThreshold = 256

const (
	headerUncompressed byte = 0
	headerCompressed    byte = 1
)

// Store is a filesystem-backed content-addressed blob store rooted at a
// single project's .mnemosyne/cas directory.
type Store struct {
	root string
}

// Open returns a Store rooted at root, creating the directory if absent.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) pathFor(d Digest) string {
	hex := d.String()
	return filepath.Join(s.root, hex[:2], hex[2:])
}

// Exists reports whether a blob for d is already stored.
func (s *Store) Exists(d Digest) bool {
	_, err := os.Stat(s.pathFor(d))
	return err == nil
}

// Put stores b under its own digest. It is idempotent: a second Put of the
// same bytes is a metadata-only no-op (dedup invariant). Concurrent Put
// calls for the same key race harmlessly — first writer wins, both callers
// observe a stored, readable blob afterward.
func (s *Store) Put(b []byte) (Digest, error) {
	d := Sum(b)
	target := s.pathFor(d)

	if _, err := os.Stat(target); err == nil {
		return d, nil
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return d, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}

	payload := b
	header := headerUncompressed
	if len(b) >= compressionThreshold {
		payload = snappy.Encode(nil, b)
		header = headerCompressed
	}

	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return d, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write([]byte{header}); err != nil {
		f.Close()
		cleanup()
		return d, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		cleanup()
		return d, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		cleanup()
		return d, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return d, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		cleanup()
		// Another writer may have won the race; that's fine.
		if _, statErr := os.Stat(target); statErr == nil {
			return d, nil
		}
		return d, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	return d, nil
}

// Get retrieves and decompresses the blob for d, verifying the recomputed
// digest matches the key. A mismatch is an IntegrityError: get never
// attempts repair.
func (s *Store) Get(d Digest) ([]byte, error) {
	f, err := os.Open(s.pathFor(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mnemerr.New(mnemerr.CodeIntegrityMissing, "blob not found: "+d.String(), err)
		}
		return nil, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	if len(raw) == 0 {
		return nil, mnemerr.New(mnemerr.CodeIntegrityMismatch, "empty blob for "+d.String(), nil)
	}

	header, payload := raw[0], raw[1:]
	var body []byte
	switch header {
	case headerUncompressed:
		body = payload
	case headerCompressed:
		body, err = snappy.Decode(nil, payload)
		if err != nil {
			return nil, mnemerr.New(mnemerr.CodeIntegrityMismatch, "corrupt compressed blob "+d.String(), err)
		}
	default:
		return nil, mnemerr.New(mnemerr.CodeIntegrityMismatch, "unknown blob header for "+d.String(), nil)
	}

	if got := Sum(body); got != d {
		return nil, mnemerr.New(mnemerr.CodeIntegrityMismatch,
			fmt.Sprintf("digest mismatch: want %s got %s", d, got), nil)
	}
	return body, nil
}

// Unlink removes the blob for d. Safe to call on a missing blob.
func (s *Store) Unlink(d Digest) error {
	if err := os.Remove(s.pathFor(d)); err != nil && !os.IsNotExist(err) {
		return mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	return nil
}
