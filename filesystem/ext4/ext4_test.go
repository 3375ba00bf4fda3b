package ext4

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/extls-project/extls/testhelper"
	"github.com/extls-project/extls/volumereader"
)

// buildMiniVolume assembles a complete, minimal 1KiB-block ext4 image in
// memory: one block group, a 5-entry inode table, a root directory
// (inode 2) holding "." / ".." / "hello.txt", and a regular file inode
// (inode 3) with no data blocks of its own.
//
// Block layout (1024-byte blocks):
//
//	0: boot sector (unused)
//	1: superblock
//	2: group descriptor table
//	3: inode table (5 * 128 bytes fits in one block)
//	4: root directory data
func buildMiniVolume(t *testing.T) []byte {
	t.Helper()
	const blockSize = 1024
	img := make([]byte, 5*blockSize)

	// superblock, at byte offset 1024
	sb := img[1*blockSize : 2*blockSize]
	binary.LittleEndian.PutUint32(sb[0x0:0x4], 5)    // inode count
	binary.LittleEndian.PutUint32(sb[0x4:0x8], 5)    // block count
	binary.LittleEndian.PutUint32(sb[0x14:0x18], 1)  // first data block
	binary.LittleEndian.PutUint32(sb[0x18:0x1c], 0)  // log block size: 1024<<0
	binary.LittleEndian.PutUint32(sb[0x20:0x24], 8)  // blocks per group
	binary.LittleEndian.PutUint32(sb[0x28:0x2c], 5)  // inodes per group
	binary.LittleEndian.PutUint32(sb[0x4c:0x50], 1)  // rev level > 0
	binary.LittleEndian.PutUint32(sb[0x54:0x58], 11) // first non-reserved inode
	binary.LittleEndian.PutUint16(sb[0x58:0x5a], 128) // inode size
	binary.LittleEndian.PutUint32(sb[0x60:0x64], incompatExtents|incompatFileType)
	binary.LittleEndian.PutUint16(sb[0x38:0x3a], superblockMagic)

	// group descriptor table, at block 2
	gdt := img[2*blockSize : 3*blockSize]
	binary.LittleEndian.PutUint32(gdt[0x8:0xc], 3) // inode table location: block 3

	// inode table, at block 3: inode N at offset (N-1)*128
	inodeTable := img[3*blockSize : 4*blockSize]
	rootInode := inodeTable[1*128 : 2*128] // inode 2
	binary.LittleEndian.PutUint16(rootInode[0x0:0x2], uint16(fileTypeDirectory))
	binary.LittleEndian.PutUint16(rootInode[0x1a:0x1c], 2) // links count
	binary.LittleEndian.PutUint32(rootInode[0x4:0x8], blockSize) // size
	binary.LittleEndian.PutUint32(rootInode[0x20:0x24], inodeFlagUsesExtents)
	extentRoot := rootInode[0x28:0x64]
	writeExtentHeader(extentRoot, 1, 4, 0)
	writeLeafEntry(extentRoot, 0, 0, 1, 4) // one block, starting at disk block 4

	fileInode := inodeTable[2*128 : 3*128] // inode 3
	binary.LittleEndian.PutUint16(fileInode[0x0:0x2], uint16(fileTypeRegularFile))
	binary.LittleEndian.PutUint16(fileInode[0x1a:0x1c], 1) // links count
	binary.LittleEndian.PutUint32(fileInode[0x4:0x8], 0)   // size

	// root directory data, at block 4
	dirBlock := img[4*blockSize : 5*blockSize]
	pos := 0
	pos = writeDirEntry(dirBlock, pos, 2, 12, ".")
	pos = writeDirEntry(dirBlock, pos, 2, 12, "..")
	writeDirEntry(dirBlock, pos, 3, uint16(blockSize-pos), "hello.txt")

	return img
}

func TestReadFileSystemDecodesSuperblockAndOpensVolume(t *testing.T) {
	img := buildMiniVolume(t)
	backing := testhelper.FromBytes(img)

	fsys, err := ReadFileSystem(backing, 0)
	if err != nil {
		t.Fatalf("ReadFileSystem: %v", err)
	}
	defer fsys.Close()

	if got := fsys.InodeCount(); got != 5 {
		t.Fatalf("InodeCount() = %d, want 5", got)
	}
	if got := fsys.FirstUsableInode(); got != 11 {
		t.Fatalf("FirstUsableInode() = %d, want 11", got)
	}
}

func TestFileSystemScanInodes(t *testing.T) {
	img := buildMiniVolume(t)
	fsys, err := ReadFileSystem(testhelper.FromBytes(img), 0)
	if err != nil {
		t.Fatalf("ReadFileSystem: %v", err)
	}
	defer fsys.Close()

	it, err := fsys.ScanInodes(context.Background())
	if err != nil {
		t.Fatalf("ScanInodes: %v", err)
	}

	var records []volumereader.InodeRecord
	for {
		rec, err := it.Next()
		if err == volumereader.ErrIterationDone {
			break
		}
		if err != nil {
			t.Fatalf("iterator error: %v", err)
		}
		records = append(records, rec)
	}

	if len(records) != 5 {
		t.Fatalf("scanned %d inodes, want 5", len(records))
	}
	root := records[1] // ino 2, second record (1-indexed scan)
	if root.Ino != 2 || !root.IsDir || root.LinksCount != 2 {
		t.Fatalf("root record = %+v", root)
	}
	file := records[2] // ino 3
	if file.Ino != 3 || file.IsDir || file.LinksCount != 1 {
		t.Fatalf("file record = %+v", file)
	}
}

func TestFileSystemIterateDir(t *testing.T) {
	img := buildMiniVolume(t)
	fsys, err := ReadFileSystem(testhelper.FromBytes(img), 0)
	if err != nil {
		t.Fatalf("ReadFileSystem: %v", err)
	}
	defer fsys.Close()

	type seen struct {
		ino  uint32
		name string
	}
	var got []seen
	err = fsys.IterateDir(context.Background(), 2, func(childIno uint32, name string, fileType uint8) bool {
		got = append(got, seen{childIno, name})
		return true
	})
	if err != nil {
		t.Fatalf("IterateDir: %v", err)
	}

	want := []seen{{2, "."}, {2, ".."}, {3, "hello.txt"}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFileSystemIterateDirStopsEarly(t *testing.T) {
	img := buildMiniVolume(t)
	fsys, err := ReadFileSystem(testhelper.FromBytes(img), 0)
	if err != nil {
		t.Fatalf("ReadFileSystem: %v", err)
	}
	defer fsys.Close()

	count := 0
	err = fsys.IterateDir(context.Background(), 2, func(childIno uint32, name string, fileType uint8) bool {
		count++
		return false
	})
	if err != nil {
		t.Fatalf("IterateDir: %v", err)
	}
	if count != 1 {
		t.Fatalf("callback invoked %d times, want exactly 1 (early stop)", count)
	}
}

func TestFileSystemIterateDirRejectsNonDirectory(t *testing.T) {
	img := buildMiniVolume(t)
	fsys, err := ReadFileSystem(testhelper.FromBytes(img), 0)
	if err != nil {
		t.Fatalf("ReadFileSystem: %v", err)
	}
	defer fsys.Close()

	err = fsys.IterateDir(context.Background(), 3, func(uint32, string, uint8) bool { return true })
	if err == nil {
		t.Fatal("expected an error iterating a regular file as a directory")
	}
}
