// Package volumereader defines the contract the scanner requires from an
// external ext2/3/4 volume implementation: open a handle, report inode
// count and the first non-reserved inode, iterate inode records in
// on-disk order, and iterate one directory's entries. The scanner never
// imports a concrete filesystem package directly; filesystem/ext4
// implements this interface.
package volumereader

import (
	"context"
	"errors"
)

// ErrIterationDone is the sentinel InodeIterator.Next returns once every
// inode record has been produced, mirroring the "ino == 0 signals
// end-of-scan" rule of the on-disk iterator this wraps.
var ErrIterationDone = errors.New("volumereader: inode iteration complete")

// InodeRecord is the subset of on-disk inode fields the scanner's pass 1
// needs to decide whether an inode is used, whether it is a directory,
// and whether it is selected under an --after filter.
type InodeRecord struct {
	Ino        uint32
	IsDir      bool
	LinksCount uint16
	Mtime      uint32
	Ctime      uint32
}

// InodeIterator yields InodeRecords in ascending inode-number order. A
// non-nil, non-ErrIterationDone error from Next is a per-inode failure:
// the scanner logs it and continues to the next inode ino+1, matching
// the "per-inode warnings" category of the error handling design. The
// scanner treats every such error from Next as a per-inode warning;
// there is no separate signal for a failure of the iterator as a whole,
// and only an error from ScanInodes itself aborts the scan.
type InodeIterator interface {
	Next() (InodeRecord, error)
}

// DirEntryFunc is invoked once per directory entry by IterateDir. It
// returns false to stop iteration early.
type DirEntryFunc func(childIno uint32, name string, fileType uint8) (cont bool)

// Handle is an open volume. Close must be safe to call exactly once.
type Handle interface {
	InodeCount() uint32
	FirstUsableInode() uint32
	ScanInodes(ctx context.Context) (InodeIterator, error)
	IterateDir(ctx context.Context, dirIno uint32, fn DirEntryFunc) error
	Close() error
}

// Opener opens a volume given a path to a device, image file, or any
// path on a mounted ext2/3/4 filesystem. filesystem/ext4.Open has this
// signature. Nothing in this module refers to Opener: cmd/extls imports
// filesystem/ext4 and calls ext4.Open directly.
type Opener func(path string, readOnly bool) (Handle, error)
