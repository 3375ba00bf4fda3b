package ext4

import "encoding/binary"

// groupDescriptor is the decoded subset of one block group descriptor
// table entry this reader needs: where that group's inode table starts.
// (Bitmap locations and free counts are parsed for completeness —
// mirroring the field set the reference toolkit's own groupDescriptor
// carries in its Create() path — but are not consulted by a read-only
// inode-table/directory scanner, which determines "used" purely from
// each inode's own links_count rather than from the free-inode bitmap.)
type groupDescriptor struct {
	inodeTableLocation uint64
	blockBitmapLocation uint64
	inodeBitmapLocation uint64
	freeBlocks          uint32
	freeInodes          uint32
	usedDirectories     uint32
}

type groupDescriptors struct {
	descriptors []groupDescriptor
}

// groupDescriptorsFromBytes decodes the group descriptor table
// immediately following the superblock's block. Each record is 32 bytes,
// or 64 when the 64-bit feature is set (descSize comes from the
// superblock, already resolved to one of those two values by
// superblockFromBytes).
func groupDescriptorsFromBytes(b []byte, descSize uint16, count uint64) (*groupDescriptors, error) {
	gdt := &groupDescriptors{descriptors: make([]groupDescriptor, 0, count)}

	for i := uint64(0); i < count; i++ {
		off := i * uint64(descSize)
		if off+32 > uint64(len(b)) {
			break
		}
		rec := b[off:]

		inodeTableLo := binary.LittleEndian.Uint32(rec[0x8:0xc])
		blockBitmapLo := binary.LittleEndian.Uint32(rec[0x0:0x4])
		inodeBitmapLo := binary.LittleEndian.Uint32(rec[0x4:0x8])
		freeBlocksLo := binary.LittleEndian.Uint16(rec[0xc:0xe])
		freeInodesLo := binary.LittleEndian.Uint16(rec[0xe:0x10])
		usedDirsLo := binary.LittleEndian.Uint16(rec[0x10:0x12])

		gd := groupDescriptor{
			inodeTableLocation:  uint64(inodeTableLo),
			blockBitmapLocation: uint64(blockBitmapLo),
			inodeBitmapLocation: uint64(inodeBitmapLo),
			freeBlocks:          uint32(freeBlocksLo),
			freeInodes:          uint32(freeInodesLo),
			usedDirectories:     uint32(usedDirsLo),
		}

		if descSize >= 64 && off+64 <= uint64(len(b)) {
			inodeTableHi := binary.LittleEndian.Uint32(rec[0x28:0x2c])
			blockBitmapHi := binary.LittleEndian.Uint32(rec[0x20:0x24])
			inodeBitmapHi := binary.LittleEndian.Uint32(rec[0x24:0x28])
			freeBlocksHi := binary.LittleEndian.Uint16(rec[0x14:0x16])
			freeInodesHi := binary.LittleEndian.Uint16(rec[0x16:0x18])

			gd.inodeTableLocation |= uint64(inodeTableHi) << 32
			gd.blockBitmapLocation |= uint64(blockBitmapHi) << 32
			gd.inodeBitmapLocation |= uint64(inodeBitmapHi) << 32
			gd.freeBlocks |= uint32(freeBlocksHi) << 16
			gd.freeInodes |= uint32(freeInodesHi) << 16
		}

		gdt.descriptors = append(gdt.descriptors, gd)
	}

	return gdt, nil
}
