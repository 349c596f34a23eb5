//go:build unix

package pipeline

import (
	"os"
	"syscall"
)

// mappedFile is a read-only memory mapping. The pipeline closes it when the
// ingest that opened it returns, so no mapping outlives one ingest.
type mappedFile struct {
	data []byte
}

func mapFile(path string) (*mappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return &mappedFile{data: []byte{}}, nil
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &mappedFile{data: data}, nil
}

func (m *mappedFile) Bytes() []byte { return m.data }

func (m *mappedFile) Close() error {
	if len(m.data) == 0 {
		return nil
	}
	data := m.data
	m.data = nil
	return syscall.Munmap(data)
}
