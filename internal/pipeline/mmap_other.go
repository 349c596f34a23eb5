//go:build !unix

package pipeline

import "os"

// mappedFile falls back to a plain read on platforms without a usable mmap
// syscall surface; the rest of the pipeline is oblivious to the difference.
type mappedFile struct {
	data []byte
}

func mapFile(path string) (*mappedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &mappedFile{data: data}, nil
}

func (m *mappedFile) Bytes() []byte { return m.data }

func (m *mappedFile) Close() error {
	m.data = nil
	return nil
}
