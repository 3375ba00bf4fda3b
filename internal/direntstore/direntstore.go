// Package direntstore implements the variable-length, 4-byte-aligned,
// byte-offset-addressed array of directory entries built during pass 2
// and rewritten in place during the pass-2.5 parent fix-up.
package direntstore

import (
	"encoding/binary"

	"github.com/extls-project/extls/internal/packedvector"
)

const headerLen = 8 // ino_idx (u32) + parent_idx (u32)

// Dirent is one decoded DirentStore record.
type Dirent struct {
	InoIdx    uint32
	ParentRef uint32 // InodeTable index during pass 2, DirentStore offset after fix-up
	Name      []byte // empty for the root sentinel
}

// Store is a PackedVector of Dirent records.
type Store struct {
	pv *packedvector.PackedVector
}

// New returns an empty Store.
func New() *Store {
	return &Store{pv: packedvector.New()}
}

// Len returns the number of bytes used so far, i.e. the offset the next
// Append would return.
func (s *Store) Len() int {
	return s.pv.Len()
}

// recordLen computes the padded on-disk length of a record holding a
// name of the given length: header + name + NUL terminator, rounded up
// to a multiple of 4.
func recordLen(nameLen int) int {
	n := headerLen + nameLen + 1
	if rem := n % 4; rem != 0 {
		n += 4 - rem
	}
	return n
}

// Append adds a dirent record and returns its byte offset. name is empty
// for the root sentinel.
func (s *Store) Append(inoIdx, parentRef uint32, name []byte) int {
	n := recordLen(len(name))
	rec := make([]byte, n)
	binary.LittleEndian.PutUint32(rec[0:4], inoIdx)
	binary.LittleEndian.PutUint32(rec[4:8], parentRef)
	copy(rec[headerLen:], name)
	// rec[headerLen+len(name)] is already the NUL terminator (zero value);
	// any bytes beyond that up to the 4-byte boundary are padding, also zero.
	return s.pv.Append(rec)
}

// At decodes the dirent record at byte offset off.
func (s *Store) At(off int) Dirent {
	header := s.pv.At(off, headerLen)
	inoIdx := binary.LittleEndian.Uint32(header[0:4])
	parentRef := binary.LittleEndian.Uint32(header[4:8])

	// Scan forward from the end of the header for the NUL terminator;
	// the record's true length is recomputed from the name length found,
	// matching how it was originally padded by Append.
	rest := s.pv.Bytes()[off+headerLen:]
	nameLen := 0
	for nameLen < len(rest) && rest[nameLen] != 0 {
		nameLen++
	}
	name := make([]byte, nameLen)
	copy(name, rest[:nameLen])

	return Dirent{InoIdx: inoIdx, ParentRef: parentRef, Name: name}
}

// RecordLenAt returns the padded on-disk length of the record at byte
// offset off, for callers walking the store sequentially.
func (s *Store) RecordLenAt(off int) int {
	d := s.At(off)
	return recordLen(len(d.Name))
}

// SetParentRef overwrites the parent_idx/parent_offset field of the
// record at byte offset off in place. Used by the pass-2.5 fix-up to
// replace each dirent's InodeTable-index parent reference with the
// DirentStore byte offset of that parent's own dirent.
func (s *Store) SetParentRef(off int, parentRef uint32) {
	header := s.pv.At(off, headerLen)
	binary.LittleEndian.PutUint32(header[4:8], parentRef)
}
