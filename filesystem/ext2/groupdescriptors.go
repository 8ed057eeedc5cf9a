package ext2

import (
	"encoding/binary"
	"fmt"
)

// groupDescriptor mirrors the 32-byte on-disk group descriptor record:
// bitmap/inode-table locations plus the three free-space hint counters
// that the allocators keep authoritative.
//
// Grounded on filesystem/ext4/ext4.go's groupDescriptor handling
// (initGroupDescriptorTables, incrGDFreeBlocks), simplified to drop the
// ext4-only checksum and 64-bit high-order fields.
type groupDescriptor struct {
	number           int
	blockBitmap      uint32
	inodeBitmap      uint32
	inodeTable       uint32
	freeBlocksCount  uint16
	freeInodesCount  uint16
	usedDirsCount    uint16
}

func groupDescriptorFromBytes(b []byte, number int) (*groupDescriptor, error) {
	if len(b) < groupDescriptorSize {
		return nil, fmt.Errorf("%w: group descriptor buffer too short", ErrCorrupt)
	}
	return &groupDescriptor{
		number:          number,
		blockBitmap:     binary.LittleEndian.Uint32(b[0x00:0x04]),
		inodeBitmap:     binary.LittleEndian.Uint32(b[0x04:0x08]),
		inodeTable:      binary.LittleEndian.Uint32(b[0x08:0x0c]),
		freeBlocksCount: binary.LittleEndian.Uint16(b[0x0c:0x0e]),
		freeInodesCount: binary.LittleEndian.Uint16(b[0x0e:0x10]),
		usedDirsCount:   binary.LittleEndian.Uint16(b[0x10:0x12]),
	}, nil
}

func (gd *groupDescriptor) toBytes() []byte {
	b := make([]byte, groupDescriptorSize)
	binary.LittleEndian.PutUint32(b[0x00:0x04], gd.blockBitmap)
	binary.LittleEndian.PutUint32(b[0x04:0x08], gd.inodeBitmap)
	binary.LittleEndian.PutUint32(b[0x08:0x0c], gd.inodeTable)
	binary.LittleEndian.PutUint16(b[0x0c:0x0e], gd.freeBlocksCount)
	binary.LittleEndian.PutUint16(b[0x0e:0x10], gd.freeInodesCount)
	binary.LittleEndian.PutUint16(b[0x10:0x12], gd.usedDirsCount)
	return b
}

// groupDescriptorTable is the pinned, in-memory array of every group's
// descriptor, read once at mount and written back on every mutation —
// pinned from mount to unmount.
type groupDescriptorTable struct {
	descriptors []*groupDescriptor
}

func groupDescriptorTableFromBytes(b []byte, count int) (*groupDescriptorTable, error) {
	gdt := &groupDescriptorTable{descriptors: make([]*groupDescriptor, count)}
	for i := 0; i < count; i++ {
		start := i * groupDescriptorSize
		end := start + groupDescriptorSize
		if end > len(b) {
			return nil, fmt.Errorf("%w: group descriptor table truncated at group %d", ErrCorrupt, i)
		}
		gd, err := groupDescriptorFromBytes(b[start:end], i)
		if err != nil {
			return nil, err
		}
		gdt.descriptors[i] = gd
	}
	return gdt, nil
}

func (gdt *groupDescriptorTable) toBytes() []byte {
	b := make([]byte, len(gdt.descriptors)*groupDescriptorSize)
	for i, gd := range gdt.descriptors {
		copy(b[i*groupDescriptorSize:(i+1)*groupDescriptorSize], gd.toBytes())
	}
	return b
}

func (gdt *groupDescriptorTable) equal(o *groupDescriptorTable) bool {
	if gdt == nil || o == nil {
		return gdt == o
	}
	if len(gdt.descriptors) != len(o.descriptors) {
		return false
	}
	for i := range gdt.descriptors {
		if *gdt.descriptors[i] != *o.descriptors[i] {
			return false
		}
	}
	return true
}

// getGroupDesc returns the descriptor for group. Group indices are
// validated by the caller's knowledge of blockGroupCount; an
// out-of-range lookup is itself a filesystem error.
func (fs *FileSystem) getGroupDesc(group int) (*groupDescriptor, error) {
	if group < 0 || group >= len(fs.groupDescriptors.descriptors) {
		return nil, fs.corrupt("getGroupDesc", "group %d out of range [0,%d)", group, len(fs.groupDescriptors.descriptors))
	}
	return fs.groupDescriptors.descriptors[group], nil
}

// blockGroupForInode computes the group owning inode number ino:
// group = (ino-1) / inodes_per_group.
func blockGroupForInode(ino uint32, inodesPerGroup uint32) int {
	return int((ino - 1) / inodesPerGroup)
}

// blockGroupForBlock computes the group owning an absolute block number.
func blockGroupForBlock(block uint32, firstDataBlock, blocksPerGroup uint32) int {
	return int((block - firstDataBlock) / blocksPerGroup)
}

// groupFirstBlock returns the first block number belonging to group.
func groupFirstBlock(group int, firstDataBlock, blocksPerGroup uint32) uint32 {
	return firstDataBlock + uint32(group)*blocksPerGroup
}

// blocksInGroup returns how many blocks belong to group, accounting for
// the last, possibly-short, group.
func (sb *superblock) blocksInGroup(group int) uint32 {
	first := groupFirstBlock(group, sb.firstDataBlock, sb.blocksPerGroup)
	remaining := sb.blocksCount - first
	if remaining > sb.blocksPerGroup {
		return sb.blocksPerGroup
	}
	return remaining
}
