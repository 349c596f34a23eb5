package cas

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alessandrobrunoh/mnemosyne/internal/mnemerr"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestDigest_StringAndParse(t *testing.T) {
	d := Sum([]byte("hello"))
	s := d.String()
	assert.Len(t, s, 64)

	parsed, err := ParseDigest(s)
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	_, err = ParseDigest("short")
	assert.Error(t, err)
	_, err = ParseDigest(string(bytes.Repeat([]byte("z"), 64)))
	assert.Error(t, err)
}

func TestDigest_TextMarshalRoundTrip(t *testing.T) {
	d := Sum([]byte("payload"))
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, d.String(), string(text))

	var back Digest
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, d, back)
}

func TestPutGet_SmallUncompressed(t *testing.T) {
	s := openStore(t)
	content := []byte("tiny") // below the compression threshold

	d, err := s.Put(content)
	require.NoError(t, err)
	assert.True(t, s.Exists(d))

	got, err := s.Get(d)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPutGet_LargeCompressed(t *testing.T) {
	s := openStore(t)
	content := bytes.Repeat([]byte("compressible data! "), 200)

	d, err := s.Put(content)
	require.NoError(t, err)
	got, err := s.Get(d)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPut_IdempotentDedup(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	content := bytes.Repeat([]byte("x"), 4096)
	d1, err := s.Put(content)
	require.NoError(t, err)

	countFiles := func() int {
		n := 0
		_ = filepath.WalkDir(dir, func(_ string, e os.DirEntry, err error) error {
			if err == nil && !e.IsDir() {
				n++
			}
			return nil
		})
		return n
	}
	before := countFiles()

	d2, err := s.Put(content)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Equal(t, before, countFiles(), "second Put of identical bytes must not add files")
}

func TestGet_MissingBlob(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(Sum([]byte("never stored")))
	require.Error(t, err)
	assert.Equal(t, mnemerr.CategoryIntegrity, mnemerr.GetCategory(err))
}

func TestGet_CorruptBlobDetected(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	content := []byte("will be corrupted")
	d, err := s.Put(content)
	require.NoError(t, err)

	// Flip payload bytes behind the store's back.
	hex := d.String()
	path := filepath.Join(dir, hex[:2], hex[2:])
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = s.Get(d)
	require.Error(t, err)
	assert.Equal(t, mnemerr.CategoryIntegrity, mnemerr.GetCategory(err))
}

func TestUnlink_SafeOnMissing(t *testing.T) {
	s := openStore(t)
	d, err := s.Put([]byte("to remove"))
	require.NoError(t, err)

	require.NoError(t, s.Unlink(d))
	assert.False(t, s.Exists(d))
	assert.NoError(t, s.Unlink(d), "unlink of a missing blob is a no-op")
}

func TestPut_ConcurrentSameKey(t *testing.T) {
	s := openStore(t)
	content := bytes.Repeat([]byte("racing"), 100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Put(content)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(Sum(content))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestFanOutLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	d, err := s.Put([]byte("layout check"))
	require.NoError(t, err)

	hex := d.String()
	_, err = os.Stat(filepath.Join(dir, hex[:2], hex[2:]))
	assert.NoError(t, err, "blob lives under the two-hex-char fan-out directory")
}
