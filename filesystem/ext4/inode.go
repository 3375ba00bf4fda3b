package ext4

import "encoding/binary"

// fileType mirrors the four high bits of an inode's on-disk mode field
// (i_mode & 0xf000), enough to distinguish directories from everything
// else this reader cares about.
type fileType uint16

const (
	fileTypeFifo            fileType = 0x1000
	fileTypeCharacterDevice fileType = 0x2000
	fileTypeDirectory       fileType = 0x4000
	fileTypeBlockDevice     fileType = 0x6000
	fileTypeRegularFile     fileType = 0x8000
	fileTypeSymbolicLink    fileType = 0xA000
	fileTypeSocket          fileType = 0xC000
)

const inodeFlagUsesExtents uint32 = 0x80000

// inode is the decoded subset of an on-disk inode record this scanner
// needs: enough to classify the inode (pass 1) and, for directories, to
// locate its data blocks (pass 2). Owner/group/permission/xattr/project
// fields the reference toolkit's inode carries are not needed by a
// read-only path scanner and are not decoded.
type inode struct {
	number     uint32
	fileType   fileType
	linksCount uint16
	size       uint64
	mtime      uint32
	ctime      uint32
	extents    extentBlockFinder
}

// inodeFromBytes decodes one fixed-size inode record. Checksum
// validation is not performed (see design notes: the crc package this
// would depend on implements a CRC variant no other pack dependency
// provides, and the scanner's own correctness does not depend on
// detecting on-disk bitrot).
func inodeFromBytes(b []byte, sb *superblock, number uint32) (*inode, error) {
	mode := binary.LittleEndian.Uint16(b[0x0:0x2])
	linksCount := binary.LittleEndian.Uint16(b[0x1a:0x1c])
	sizeLo := binary.LittleEndian.Uint32(b[0x4:0x8])
	sizeHi := binary.LittleEndian.Uint32(b[0x6c:0x70])
	mtime := binary.LittleEndian.Uint32(b[0x10:0x14])
	ctime := binary.LittleEndian.Uint32(b[0xc:0x10])
	flags := binary.LittleEndian.Uint32(b[0x20:0x24])

	ft := fileType(mode & 0xf000)

	var extents extentBlockFinder
	if ft == fileTypeDirectory || (flags&inodeFlagUsesExtents != 0) {
		// the 60-byte block-map/extent-root union
		root := b[0x28:0x64]
		parsed, err := parseExtents(root, sb.blockSize)
		if err == nil {
			extents = parsed
		}
		// a parse failure here (e.g. an inline-data or legacy
		// direct/indirect-block inode that never set the extents
		// flag) is tolerated: extents stays nil and the caller treats
		// the inode as having no readable blocks, matching this
		// reader's documented non-support for legacy block mapping.
	}

	return &inode{
		number:     number,
		fileType:   ft,
		linksCount: linksCount,
		size:       uint64(sizeHi)<<32 | uint64(sizeLo),
		mtime:      mtime,
		ctime:      ctime,
		extents:    extents,
	}, nil
}
