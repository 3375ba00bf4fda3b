package ext4

import "encoding/binary"

// minDirEntryLength is the fixed-size header before a directory entry's
// variable-length name: inode (4) + rec_len (2) + name_len (1) +
// file_type (1).
const minDirEntryLength = 8

// directoryEntry is one decoded (inode, name) pair from a directory's
// data blocks.
type directoryEntry struct {
	inode    uint32
	filename string
}

// parseDirEntriesLinear decodes every directory entry in a directory's
// raw block bytes, in on-disk order. It never follows the htree index
// (see design notes): when a directory has hashed indexing, the blocks
// still contain either ordinary linear entries (leaf blocks) or a single
// inode-0 "entry" spanning the whole block (index/root blocks),
// and an inode-0 entry is simply skipped here like any deleted entry —
// so every real name is still visited, just not in hash order.
func parseDirEntriesLinear(b []byte, blockSize uint32) []directoryEntry {
	var entries []directoryEntry

	numBlocks := uint32(len(b)) / blockSize
	for blk := uint32(0); blk < numBlocks; blk++ {
		block := b[blk*blockSize : (blk+1)*blockSize]
		pos := uint32(0)
		for pos+minDirEntryLength <= blockSize {
			ino := binary.LittleEndian.Uint32(block[pos : pos+4])
			recLen := binary.LittleEndian.Uint16(block[pos+4 : pos+6])
			nameLen := block[pos+6]

			if recLen < minDirEntryLength {
				break // corrupt or end-of-usable-space sentinel
			}

			if ino != 0 {
				nameStart := pos + minDirEntryLength
				nameEnd := nameStart + uint32(nameLen)
				if nameEnd <= blockSize {
					entries = append(entries, directoryEntry{
						inode:    ino,
						filename: string(block[nameStart:nameEnd]),
					})
				}
			}

			pos += uint32(recLen)
		}
	}

	return entries
}
