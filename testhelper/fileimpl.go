// Package testhelper provides in-memory stand-ins for backend.Storage,
// letting package tests exercise byte-offset decoders (superblocks,
// inodes, directory blocks) against hand-built fixtures instead of real
// disk images.
package testhelper

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/extls-project/extls/backend"
)

type reader func(b []byte, offset int64) (int, error)
type writer func(b []byte, offset int64) (int, error)

// FileImpl implements backend.Storage by dispatching Read/ReadAt and
// WriteAt through caller-supplied functions.
type FileImpl struct {
	Reader reader
	Writer writer
}

var _ backend.Storage = (*FileImpl)(nil)

func (f *FileImpl) Stat() (fs.FileInfo, error) {
	return nil, nil
}

func (f *FileImpl) Read(b []byte) (int, error) {
	return f.Reader(b, 0)
}

func (f *FileImpl) Close() error {
	return nil
}

func (f *FileImpl) ReadAt(b []byte, offset int64) (int, error) {
	return f.Reader(b, offset)
}

func (f *FileImpl) WriteAt(b []byte, offset int64) (int, error) {
	return f.Writer(b, offset)
}

// Seek is not implemented: fixtures in this package are only ever read
// via ReadAt, which is all the ext4 decoder needs.
//
//nolint:unused,revive // to implement the interface
func (f *FileImpl) Seek(offset int64, whence int) (int64, error) {
	return 0, fmt.Errorf("FileImpl does not implement Seek()")
}

func (f *FileImpl) Sys() (*os.File, error) {
	return nil, backend.ErrNotSuitable
}

func (f *FileImpl) Writable() (backend.WritableFile, error) {
	return nil, backend.ErrIncorrectOpenMode
}

// FromBytes returns a FileImpl backed by a fixed byte slice, reading
// zero-extended beyond the slice's length (matching how a sparse disk
// image reads as zero past its last written block).
func FromBytes(data []byte) *FileImpl {
	return &FileImpl{
		Reader: func(b []byte, offset int64) (int, error) {
			n := 0
			for n < len(b) {
				srcIdx := offset + int64(n)
				if srcIdx >= 0 && srcIdx < int64(len(data)) {
					b[n] = data[srcIdx]
				} else {
					b[n] = 0
				}
				n++
			}
			return n, nil
		},
		Writer: func(b []byte, offset int64) (int, error) {
			return 0, fmt.Errorf("FromBytes fixtures are read-only")
		},
	}
}
