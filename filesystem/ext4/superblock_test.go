package ext4

import (
	"encoding/binary"
	"testing"
)

// buildSuperblock constructs a syntactically valid 1024-byte superblock
// buffer with the given field values, leaving every other byte zero.
func buildSuperblock(t *testing.T, inodeCount, blocksLo, firstDataBlock, logBlockSize,
	blocksPerGroup, inodesPerGroup uint32, revLevel uint32, incompat, roCompat uint32) []byte {
	t.Helper()

	b := make([]byte, superblockSize)
	binary.LittleEndian.PutUint32(b[0x0:0x4], inodeCount)
	binary.LittleEndian.PutUint32(b[0x4:0x8], blocksLo)
	binary.LittleEndian.PutUint32(b[0x14:0x18], firstDataBlock)
	binary.LittleEndian.PutUint32(b[0x18:0x1c], logBlockSize)
	binary.LittleEndian.PutUint32(b[0x20:0x24], blocksPerGroup)
	binary.LittleEndian.PutUint32(b[0x28:0x2c], inodesPerGroup)
	binary.LittleEndian.PutUint32(b[0x4c:0x50], revLevel)
	binary.LittleEndian.PutUint32(b[0x54:0x58], 11) // firstNonReservedInode
	binary.LittleEndian.PutUint16(b[0x58:0x5a], 256) // inodeSize
	binary.LittleEndian.PutUint32(b[0x60:0x64], incompat)
	binary.LittleEndian.PutUint32(b[0x64:0x68], roCompat)
	binary.LittleEndian.PutUint16(b[0x38:0x3a], superblockMagic)
	return b
}

func TestSuperblockFromBytesBasicFields(t *testing.T) {
	b := buildSuperblock(t, 1024, 8192, 1, 2 /* 4096-byte blocks */, 8192, 128, 1, incompatExtents|incompatFileType, 0)

	sb, err := superblockFromBytes(b)
	if err != nil {
		t.Fatalf("superblockFromBytes: %v", err)
	}
	if sb.inodeCount != 1024 {
		t.Errorf("inodeCount = %d, want 1024", sb.inodeCount)
	}
	if sb.blockCount != 8192 {
		t.Errorf("blockCount = %d, want 8192", sb.blockCount)
	}
	if sb.blockSize != 4096 {
		t.Errorf("blockSize = %d, want 4096 (1024 << 2)", sb.blockSize)
	}
	if sb.inodesPerGroup != 128 {
		t.Errorf("inodesPerGroup = %d, want 128", sb.inodesPerGroup)
	}
	if sb.firstNonReservedInode != 11 {
		t.Errorf("firstNonReservedInode = %d, want 11", sb.firstNonReservedInode)
	}
	if sb.inodeSize != 256 {
		t.Errorf("inodeSize = %d, want 256", sb.inodeSize)
	}
	if !sb.features.extents || !sb.features.fileType {
		t.Errorf("features = %+v, want extents and fileType set", sb.features)
	}
	if sb.features.fs64Bit {
		t.Error("fs64Bit unexpectedly set")
	}
	if sb.groupDescriptorSize != 32 {
		t.Errorf("groupDescriptorSize = %d, want 32 (non-64bit)", sb.groupDescriptorSize)
	}
}

func TestSuperblockFromBytesRevision0Defaults(t *testing.T) {
	b := make([]byte, superblockSize)
	binary.LittleEndian.PutUint16(b[0x38:0x3a], superblockMagic)
	// revLevel left at 0: firstNonReservedInode/inodeSize must fall back
	// to the fixed rev-0 defaults rather than reading garbage at
	// 0x54/0x58.
	binary.LittleEndian.PutUint32(b[0x20:0x24], 8192)
	binary.LittleEndian.PutUint32(b[0x28:0x2c], 128)

	sb, err := superblockFromBytes(b)
	if err != nil {
		t.Fatalf("superblockFromBytes: %v", err)
	}
	if sb.firstNonReservedInode != 11 {
		t.Errorf("firstNonReservedInode = %d, want rev-0 default 11", sb.firstNonReservedInode)
	}
	if sb.inodeSize != 128 {
		t.Errorf("inodeSize = %d, want rev-0 default 128", sb.inodeSize)
	}
}

func TestSuperblockFromBytesBadMagic(t *testing.T) {
	b := make([]byte, superblockSize)
	if _, err := superblockFromBytes(b); err == nil {
		t.Fatal("expected an error for a zeroed (wrong-magic) superblock")
	}
}

func TestSuperblockFromBytesTooShort(t *testing.T) {
	if _, err := superblockFromBytes(make([]byte, 10)); err == nil {
		t.Fatal("expected an error for a too-short buffer")
	}
}

func TestSuperblock64Bit(t *testing.T) {
	b := buildSuperblock(t, 1024, 0xFFFFFFFF, 1, 2, 8192, 128, 1, incompat64Bit, 0)
	binary.LittleEndian.PutUint32(b[0x150:0x154], 1) // blocksHi
	binary.LittleEndian.PutUint16(b[0xfe:0x100], 64) // group descriptor size

	sb, err := superblockFromBytes(b)
	if err != nil {
		t.Fatalf("superblockFromBytes: %v", err)
	}
	want := uint64(1)<<32 | 0xFFFFFFFF
	if sb.blockCount != want {
		t.Errorf("blockCount = %d, want %d", sb.blockCount, want)
	}
	if sb.groupDescriptorSize != 64 {
		t.Errorf("groupDescriptorSize = %d, want 64", sb.groupDescriptorSize)
	}
}

func TestBlockGroupCount(t *testing.T) {
	sb := &superblock{blockCount: 100, blocksPerGroup: 30}
	if got := sb.blockGroupCount(); got != 4 { // 30*3=90 < 100, rounds up
		t.Errorf("blockGroupCount() = %d, want 4", got)
	}

	exact := &superblock{blockCount: 90, blocksPerGroup: 30}
	if got := exact.blockGroupCount(); got != 3 {
		t.Errorf("blockGroupCount() (exact) = %d, want 3", got)
	}

	zero := &superblock{blockCount: 90, blocksPerGroup: 0}
	if got := zero.blockGroupCount(); got != 0 {
		t.Errorf("blockGroupCount() with zero blocksPerGroup = %d, want 0", got)
	}
}
