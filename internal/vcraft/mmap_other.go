//go:build !unix

package vcraft

import (
	"io"
	"os"
)

func mapFile(f *os.File, _ int64) (io.ReaderAt, func() error, error) {
	return f, func() error { return nil }, nil
}
