//go:build !unix

package zimfile

import (
	"errors"
	"os"
)

var errNoMmap = errors.New("mmap not supported on this platform")

func mmapFile(f *os.File, size int64) ([]byte, error) {
	return nil, errNoMmap
}

func munmap(b []byte) error {
	return nil
}
