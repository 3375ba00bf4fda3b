package ext4

import (
	"encoding/binary"
	"testing"
)

func buildInodeBytes(t *testing.T, mode uint16, linksCount uint16, size uint64, mtime, ctime, flags uint32) []byte {
	t.Helper()
	b := make([]byte, 160)
	binary.LittleEndian.PutUint16(b[0x0:0x2], mode)
	binary.LittleEndian.PutUint16(b[0x1a:0x1c], linksCount)
	binary.LittleEndian.PutUint32(b[0x4:0x8], uint32(size))
	binary.LittleEndian.PutUint32(b[0x6c:0x70], uint32(size>>32))
	binary.LittleEndian.PutUint32(b[0x10:0x14], mtime)
	binary.LittleEndian.PutUint32(b[0xc:0x10], ctime)
	binary.LittleEndian.PutUint32(b[0x20:0x24], flags)
	return b
}

func TestInodeFromBytesRegularFile(t *testing.T) {
	b := buildInodeBytes(t, uint16(fileTypeRegularFile)|0o644, 1, 4096, 1000, 1001, 0)
	sb := &superblock{blockSize: 4096}

	in, err := inodeFromBytes(b, sb, 42)
	if err != nil {
		t.Fatalf("inodeFromBytes: %v", err)
	}
	if in.number != 42 {
		t.Errorf("number = %d, want 42", in.number)
	}
	if in.fileType != fileTypeRegularFile {
		t.Errorf("fileType = %#x, want regular file", in.fileType)
	}
	if in.linksCount != 1 {
		t.Errorf("linksCount = %d, want 1", in.linksCount)
	}
	if in.size != 4096 {
		t.Errorf("size = %d, want 4096", in.size)
	}
	if in.mtime != 1000 || in.ctime != 1001 {
		t.Errorf("mtime/ctime = %d/%d, want 1000/1001", in.mtime, in.ctime)
	}
	if in.extents != nil {
		t.Error("extents should be nil: inode has neither the directory bit nor the extents flag")
	}
}

func TestInodeFromBytesLargeFileSize(t *testing.T) {
	const want = uint64(1) << 33 // exceeds 32 bits, exercises size_hi
	b := buildInodeBytes(t, uint16(fileTypeRegularFile), 1, want, 0, 0, 0)
	sb := &superblock{blockSize: 4096}

	in, err := inodeFromBytes(b, sb, 1)
	if err != nil {
		t.Fatalf("inodeFromBytes: %v", err)
	}
	if in.size != want {
		t.Errorf("size = %d, want %d", in.size, want)
	}
}

func TestInodeFromBytesDirectoryParsesExtents(t *testing.T) {
	b := buildInodeBytes(t, uint16(fileTypeDirectory), 2, 4096, 0, 0, inodeFlagUsesExtents)
	// write a valid single-leaf extent tree into the 60-byte root union at 0x28
	root := b[0x28:0x64]
	writeExtentHeader(root, 1, 4, 0)
	writeLeafEntry(root, 0, 0, 1, 500)

	sb := &superblock{blockSize: 4096}
	in, err := inodeFromBytes(b, sb, 2)
	if err != nil {
		t.Fatalf("inodeFromBytes: %v", err)
	}
	if in.fileType != fileTypeDirectory {
		t.Fatalf("fileType = %#x, want directory", in.fileType)
	}
	if in.extents == nil {
		t.Fatal("expected a parsed extent tree for a directory inode")
	}
	blocks, err := in.extents.blocks(nil)
	if err != nil || len(blocks) != 1 || blocks[0].startingBlock != 500 {
		t.Fatalf("blocks() = %+v, err=%v", blocks, err)
	}
}

func TestInodeFromBytesDirectoryWithInvalidExtentRootTolerated(t *testing.T) {
	// A directory inode whose 60-byte union does not hold a valid extent
	// tree (e.g. legacy direct/indirect pointers) must not error — it is
	// reported by leaving extents nil, per the documented non-support
	// for legacy block mapping.
	b := buildInodeBytes(t, uint16(fileTypeDirectory), 2, 4096, 0, 0, 0)
	sb := &superblock{blockSize: 4096}

	in, err := inodeFromBytes(b, sb, 2)
	if err != nil {
		t.Fatalf("inodeFromBytes unexpectedly failed: %v", err)
	}
	if in.extents != nil {
		t.Error("expected nil extents for an unparseable extent root")
	}
}
