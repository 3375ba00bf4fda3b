// Package ext4 implements a read-only ext2/3/4 volume decoder: enough
// of the on-disk format to open a volume, iterate every inode record in
// the inode table, and iterate the directory entries of a given
// directory inode. It is adapted from a disk/filesystem toolkit's
// read-write ext4 driver, trimmed to the read paths a directory
// scanner needs — see DESIGN.md for what was dropped and why.
package ext4

import (
	"context"
	"errors"
	"fmt"

	"github.com/extls-project/extls/backend"
	backendfile "github.com/extls-project/extls/backend/file"
	"github.com/extls-project/extls/volumereader"
)

const (
	sectorSize512  = 512
	bootSectorSize = 2 * sectorSize512
)

// FileSystem is an open, read-only ext2/3/4 volume.
type FileSystem struct {
	backend          backend.Storage
	superblock       *superblock
	groupDescriptors *groupDescriptors
}

var _ volumereader.Handle = (*FileSystem)(nil)

// Open opens path (a block device, a filesystem image file, or any path
// on a mounted ext2/3/4 filesystem already resolved to its backing file
// by the caller) and decodes its superblock and group descriptor table.
// readOnly is accepted for interface-contract parity with a
// read-write-capable implementation; this decoder never writes
// regardless of its value.
func Open(path string, readOnly bool) (volumereader.Handle, error) {
	f, err := backendfile.OpenFromPath(path, readOnly)
	if err != nil {
		return nil, fmt.Errorf("ext4: opening %s: %w", path, err)
	}
	return ReadFileSystem(f, 0)
}

// ReadFileSystem decodes an ext2/3/4 volume starting at byte offset
// start within b — start is nonzero when the volume lives inside a
// partition rather than occupying the whole device/image. The volume is
// accessed through a backend.SubStorage view offset by start, so every
// other method on FileSystem can address the volume in its own
// zero-based byte space without repeating the offset arithmetic.
func ReadFileSystem(b backend.Storage, start int64) (*FileSystem, error) {
	size := int64(0)
	if info, err := b.Stat(); err == nil && info != nil {
		size = info.Size() - start
	}
	vol := backend.Sub(b, start, size)

	sbBytes := make([]byte, superblockSize)
	if _, err := vol.ReadAt(sbBytes, bootSectorSize); err != nil {
		return nil, fmt.Errorf("ext4: reading superblock: %w", err)
	}
	sb, err := superblockFromBytes(sbBytes)
	if err != nil {
		return nil, fmt.Errorf("ext4: decoding superblock: %w", err)
	}

	groups := sb.blockGroupCount()
	gdtSize := uint64(sb.groupDescriptorSize) * groups
	if gdtSize == 0 {
		return nil, errors.New("ext4: computed group descriptor table size is zero")
	}

	gdtBlock := uint64(1)
	if sb.blockSize == 1024 {
		gdtBlock = 2
	}
	gdtBytes := make([]byte, gdtSize)
	if _, err := vol.ReadAt(gdtBytes, int64(gdtBlock)*int64(sb.blockSize)); err != nil {
		return nil, fmt.Errorf("ext4: reading group descriptor table: %w", err)
	}
	gdt, err := groupDescriptorsFromBytes(gdtBytes, sb.groupDescriptorSize, groups)
	if err != nil {
		return nil, fmt.Errorf("ext4: decoding group descriptor table: %w", err)
	}

	return &FileSystem{
		backend:          vol,
		superblock:       sb,
		groupDescriptors: gdt,
	}, nil
}

// Close releases the underlying backend.
func (fs *FileSystem) Close() error {
	return fs.backend.Close()
}

// InodeCount returns the filesystem's configured total inode count.
func (fs *FileSystem) InodeCount() uint32 {
	return fs.superblock.inodeCount
}

// FirstUsableInode returns the "good-old-first-inode" threshold: the
// smallest non-reserved inode number (reserved inodes below it, other
// than the root, are never used).
func (fs *FileSystem) FirstUsableInode() uint32 {
	return fs.superblock.firstNonReservedInode
}

// readBlock reads one filesystem block. It implements the blockReader
// interface extent.go's tree walker needs to follow internal nodes.
func (fs *FileSystem) readBlock(n uint64) ([]byte, error) {
	buf := make([]byte, fs.superblock.blockSize)
	if _, err := fs.backend.ReadAt(buf, int64(n)*int64(fs.superblock.blockSize)); err != nil {
		return nil, fmt.Errorf("ext4: reading block %d: %w", n, err)
	}
	return buf, nil
}

// readInode decodes a single inode record from its position in the
// owning block group's inode table.
func (fs *FileSystem) readInode(number uint32) (*inode, error) {
	sb := fs.superblock
	if number == 0 {
		return nil, errors.New("ext4: cannot read inode 0")
	}

	bg := (number - 1) / sb.inodesPerGroup
	if int(bg) >= len(fs.groupDescriptors.descriptors) {
		return nil, fmt.Errorf("ext4: inode %d maps to out-of-range block group %d", number, bg)
	}
	gd := fs.groupDescriptors.descriptors[bg]

	offsetInGroup := (number - 1) % sb.inodesPerGroup
	byteStart := gd.inodeTableLocation*uint64(sb.blockSize) + uint64(offsetInGroup)*uint64(sb.inodeSize)

	buf := make([]byte, sb.inodeSize)
	if _, err := fs.backend.ReadAt(buf, int64(byteStart)); err != nil {
		return nil, fmt.Errorf("ext4: reading inode %d: %w", number, err)
	}

	return inodeFromBytes(buf, sb, number)
}

// readFileBytes reads the full contents addressed by a list of extents,
// truncated to filesize — used to read a directory's data blocks in
// full (a directory's "file size" is the byte length of its entries).
func (fs *FileSystem) readFileBytes(extents []extent, filesize uint64) ([]byte, error) {
	out := make([]byte, 0, filesize)
	for _, e := range extents {
		if uint64(len(out)) >= filesize {
			break
		}
		start := e.startingBlock * uint64(fs.superblock.blockSize)
		count := uint64(e.count) * uint64(fs.superblock.blockSize)
		if uint64(len(out))+count > filesize {
			count = filesize - uint64(len(out))
		}
		buf := make([]byte, count)
		if _, err := fs.backend.ReadAt(buf, int64(start)); err != nil {
			return nil, fmt.Errorf("ext4: reading extent at block %d: %w", e.startingBlock, err)
		}
		out = append(out, buf...)
	}
	return out, nil
}

// ScanInodes returns an iterator over every inode record in the volume,
// in ascending inode-number order — the on-disk order of the inode
// table across block groups.
func (fs *FileSystem) ScanInodes(ctx context.Context) (volumereader.InodeIterator, error) {
	return &inodeIterator{fs: fs, next: 1}, nil
}

type inodeIterator struct {
	fs   *FileSystem
	next uint32
}

func (it *inodeIterator) Next() (volumereader.InodeRecord, error) {
	if it.next > it.fs.superblock.inodeCount {
		return volumereader.InodeRecord{}, volumereader.ErrIterationDone
	}
	number := it.next
	it.next++

	in, err := it.fs.readInode(number)
	if err != nil {
		return volumereader.InodeRecord{Ino: number}, fmt.Errorf("ext4: inode %d: %w", number, err)
	}

	return volumereader.InodeRecord{
		Ino:        number,
		IsDir:      in.fileType == fileTypeDirectory,
		LinksCount: in.linksCount,
		Mtime:      in.mtime,
		Ctime:      in.ctime,
	}, nil
}

// IterateDir decodes dirIno's directory blocks and invokes fn once per
// entry, in on-disk order, stopping early if fn returns false.
func (fs *FileSystem) IterateDir(ctx context.Context, dirIno uint32, fn volumereader.DirEntryFunc) error {
	in, err := fs.readInode(dirIno)
	if err != nil {
		return fmt.Errorf("ext4: reading directory inode %d: %w", dirIno, err)
	}
	if in.fileType != fileTypeDirectory {
		return fmt.Errorf("ext4: inode %d is not a directory", dirIno)
	}
	if in.extents == nil {
		return fmt.Errorf("ext4: directory inode %d has no readable extent tree (legacy block mapping is not supported)", dirIno)
	}

	blocks, err := in.extents.blocks(fs)
	if err != nil {
		return fmt.Errorf("ext4: walking extent tree for directory inode %d: %w", dirIno, err)
	}

	raw, err := fs.readFileBytes(blocks, in.size)
	if err != nil {
		return fmt.Errorf("ext4: reading directory blocks for inode %d: %w", dirIno, err)
	}

	for _, de := range parseDirEntriesLinear(raw, fs.superblock.blockSize) {
		if !fn(de.inode, de.filename, 0) {
			break
		}
	}

	return nil
}
