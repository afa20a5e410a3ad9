//go:build unix

package vcraft

import (
	"bytes"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps the whole file read-only. Workers read disjoint windows of the
// mapping concurrently without copying the capture into the heap.
func mapFile(f *os.File, size int64) (io.ReaderAt, func() error, error) {
	if size == 0 {
		return f, func() error { return nil }, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
	return bytes.NewReader(data), func() error { return unix.Munmap(data) }, nil
}
