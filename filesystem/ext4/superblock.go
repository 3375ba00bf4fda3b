package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// superblockMagic is the fixed value at offset 0x38 of every ext2/3/4
// superblock.
const superblockMagic uint16 = 0xef53

// superblockOffset is the fixed byte offset of the superblock from the
// start of the filesystem.
const superblockOffset = 1024

// superblockSize is the size read off disk; the superblock struct
// itself only occupies the first ~264 bytes of it on old-revision
// filesystems, more on ext4 ones, but it is always padded to this size.
const superblockSize = 1024

// incompatible feature flags this decoder understands; features.fs64Bit
// widens the block-count fields, features.extents is assumed set (see
// design notes on legacy block mapping), features.fileType adds a type
// byte to every directory entry so linear scanning does not need to
// read the child's inode just to know if it is a directory.
const (
	incompatCompression uint32 = 0x0001
	incompatFileType     uint32 = 0x0002
	incompatRecover      uint32 = 0x0004
	incompatJournalDev   uint32 = 0x0008
	incompatMetaBG       uint32 = 0x0010
	incompatExtents      uint32 = 0x0040
	incompat64Bit        uint32 = 0x0080
	incompatMMP          uint32 = 0x0100
	incompatFlexBG       uint32 = 0x0200
	incompatLargeDir     uint32 = 0x4000
	incompatInlineData   uint32 = 0x8000
	incompatMetadataCsum uint32 = 0x10000
)

const roCompatHugeFile uint32 = 0x0008
const roCompatGdtChecksum uint32 = 0x0010
const roCompatMetadataCsum uint32 = 0x0400

// featureFlags is the decoded subset of the three ext2/3/4 feature
// bitmasks (compat/incompat/ro_compat) this reader's behavior actually
// branches on.
type featureFlags struct {
	fs64Bit          bool
	extents          bool
	fileType         bool
	largeDirectory   bool
	hugeFile         bool
	gdtChecksum      bool
	metadataChecksum bool
}

// superblock is the decoded subset of the on-disk ext2/3/4 superblock
// this read-only scanner needs: sizing and addressing fields to locate
// the group descriptor table and inode table, and the feature flags
// that change how inode and directory-entry records are laid out.
// Field names follow the reference disk toolkit's Create()/Read() usage
// rather than the wire field names, since this is the naming convention
// the rest of this package's adapted code already assumes.
type superblock struct {
	inodeCount            uint32
	blockCount            uint64
	firstDataBlock        uint32
	blockSize             uint32
	blocksPerGroup         uint32
	inodesPerGroup        uint32
	firstNonReservedInode uint32
	inodeSize             uint16
	groupDescriptorSize   uint16
	features              featureFlags
	checksumSeed          uint32
	uuid                  uuid.UUID
	volumeLabel           string
}

func (sb *superblock) blockGroupCount() uint64 {
	if sb.blocksPerGroup == 0 {
		return 0
	}
	count := sb.blockCount / uint64(sb.blocksPerGroup)
	if sb.blockCount%uint64(sb.blocksPerGroup) != 0 {
		count++
	}
	return count
}

// superblockFromBytes decodes a superblock from the 1024-byte buffer
// read at byte offset 1024 of the volume. Checksum validation
// (s_checksum, group-descriptor checksums) is intentionally not
// performed; see design notes.
func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) < 264 {
		return nil, fmt.Errorf("ext4: superblock data too short: %d bytes", len(b))
	}

	magic := binary.LittleEndian.Uint16(b[0x38:0x3a])
	if magic != superblockMagic {
		return nil, fmt.Errorf("ext4: invalid superblock magic %#x, expected %#x", magic, superblockMagic)
	}

	inodeCount := binary.LittleEndian.Uint32(b[0x0:0x4])
	blocksLo := binary.LittleEndian.Uint32(b[0x4:0x8])
	firstDataBlock := binary.LittleEndian.Uint32(b[0x14:0x18])
	logBlockSize := binary.LittleEndian.Uint32(b[0x18:0x1c])
	blocksPerGroup := binary.LittleEndian.Uint32(b[0x20:0x24])
	inodesPerGroup := binary.LittleEndian.Uint32(b[0x28:0x2c])

	revLevel := binary.LittleEndian.Uint32(b[0x4c:0x50])

	var firstNonReservedInode uint32 = 11
	var inodeSize uint16 = 128
	if revLevel > 0 {
		firstNonReservedInode = binary.LittleEndian.Uint32(b[0x54:0x58])
		inodeSize = binary.LittleEndian.Uint16(b[0x58:0x5a])
	}

	featureCompat := binary.LittleEndian.Uint32(b[0x5c:0x60])
	featureIncompat := binary.LittleEndian.Uint32(b[0x60:0x64])
	featureRoCompat := binary.LittleEndian.Uint32(b[0x64:0x68])
	_ = featureCompat

	features := featureFlags{
		fs64Bit:          featureIncompat&incompat64Bit != 0,
		extents:          featureIncompat&incompatExtents != 0,
		fileType:         featureIncompat&incompatFileType != 0,
		largeDirectory:   featureIncompat&incompatLargeDir != 0,
		hugeFile:         featureRoCompat&roCompatHugeFile != 0,
		gdtChecksum:      featureRoCompat&roCompatGdtChecksum != 0,
		metadataChecksum: featureRoCompat&roCompatMetadataCsum != 0,
	}

	blockCount := uint64(blocksLo)
	if features.fs64Bit {
		blocksHi := binary.LittleEndian.Uint32(b[0x150:0x154])
		blockCount |= uint64(blocksHi) << 32
	}

	groupDescriptorSize := uint16(32)
	if features.fs64Bit {
		groupDescriptorSize = binary.LittleEndian.Uint16(b[0xfe:0x100])
		if groupDescriptorSize == 0 {
			groupDescriptorSize = 64
		}
	}

	checksumSeed := binary.LittleEndian.Uint32(b[0x270:0x274])

	fsUUID, _ := uuid.FromBytes(b[0x68:0x78])

	volumeLabel := nullTerminated(b[0x78:0x88])

	return &superblock{
		inodeCount:            inodeCount,
		blockCount:            blockCount,
		firstDataBlock:        firstDataBlock,
		blockSize:             1024 << logBlockSize,
		blocksPerGroup:        blocksPerGroup,
		inodesPerGroup:        inodesPerGroup,
		firstNonReservedInode: firstNonReservedInode,
		inodeSize:             inodeSize,
		groupDescriptorSize:   groupDescriptorSize,
		features:              features,
		checksumSeed:          checksumSeed,
		uuid:                  fsUUID,
		volumeLabel:           volumeLabel,
	}, nil
}

func nullTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
