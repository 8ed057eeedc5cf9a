package ext2

import (
	"fmt"

	"github.com/vasiatsp/ece-ext2lite/util/bitmap"
)

// readBlock reads one full block-sized chunk starting at block number n.
// Grounded on filesystem/ext4/ext4.go's readBlock.
func (fs *FileSystem) readBlock(n uint32) ([]byte, error) {
	b := make([]byte, fs.superblock.blockSize)
	offset := int64(n) * int64(fs.superblock.blockSize)
	read, err := fs.backend.ReadAt(b, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: reading block %d: %v", ErrIO, n, err)
	}
	if read != int(fs.superblock.blockSize) {
		return nil, fs.corrupt("readBlock", "short read of block %d: got %d of %d bytes", n, read, fs.superblock.blockSize)
	}
	return b, nil
}

// writeBlock writes b (which must be exactly one block in length) to block
// number n.
func (fs *FileSystem) writeBlock(n uint32, b []byte) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	if uint32(len(b)) != fs.superblock.blockSize {
		return fmt.Errorf("%w: writeBlock given %d bytes, want %d", ErrInvalid, len(b), fs.superblock.blockSize)
	}
	w, err := fs.backend.Writable()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadOnly, err)
	}
	offset := int64(n) * int64(fs.superblock.blockSize)
	wrote, err := w.WriteAt(b, offset)
	if err != nil {
		return fmt.Errorf("%w: writing block %d: %v", ErrIO, n, err)
	}
	if wrote != int(fs.superblock.blockSize) {
		return fs.corrupt("writeBlock", "short write of block %d: wrote %d of %d bytes", n, wrote, fs.superblock.blockSize)
	}
	return nil
}

// zeroBlock writes an all-zero block to n, used when a freshly allocated
// block or inode-table block must not expose stale data.
func (fs *FileSystem) zeroBlock(n uint32) error {
	return fs.writeBlock(n, make([]byte, fs.superblock.blockSize))
}

// zeroedBitmap returns a fresh, all-free bitmap sized to exactly one
// block, the fixed unit the on-disk layout dedicates to each bitmap.
func zeroedBitmap(blockSize uint32) *bitmap.Bitmap {
	return bitmap.NewBits(int(blockSize) * 8)
}

// readBlockBitmap reads the block-usage bitmap for group, sized to exactly
// one block: the on-disk layout always dedicates a whole block to it.
func (fs *FileSystem) readBlockBitmap(group int) (*bitmap.Bitmap, error) {
	gd, err := fs.getGroupDesc(group)
	if err != nil {
		return nil, err
	}
	b, err := fs.readBlock(gd.blockBitmap)
	if err != nil {
		return nil, err
	}
	return bitmap.FromBytes(b), nil
}

func (fs *FileSystem) writeBlockBitmap(bm *bitmap.Bitmap, group int) error {
	gd, err := fs.getGroupDesc(group)
	if err != nil {
		return err
	}
	return fs.writeBlock(gd.blockBitmap, bm.ToBytes())
}

func (fs *FileSystem) readInodeBitmap(group int) (*bitmap.Bitmap, error) {
	gd, err := fs.getGroupDesc(group)
	if err != nil {
		return nil, err
	}
	b, err := fs.readBlock(gd.inodeBitmap)
	if err != nil {
		return nil, err
	}
	return bitmap.FromBytes(b), nil
}

func (fs *FileSystem) writeInodeBitmap(bm *bitmap.Bitmap, group int) error {
	gd, err := fs.getGroupDesc(group)
	if err != nil {
		return err
	}
	return fs.writeBlock(gd.inodeBitmap, bm.ToBytes())
}

// writeGDT flushes the pinned in-memory group descriptor table back to
// disk. Called after any change to a descriptor's free counters.
func (fs *FileSystem) writeGDT() error {
	if fs.readOnly {
		return ErrReadOnly
	}
	w, err := fs.backend.Writable()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadOnly, err)
	}
	gdtBlock := fs.superblock.firstDataBlock + 1
	offset := int64(gdtBlock) * int64(fs.superblock.blockSize)
	b := fs.groupDescriptors.toBytes()
	if _, err := w.WriteAt(b, offset); err != nil {
		return fmt.Errorf("%w: writing group descriptor table: %v", ErrIO, err)
	}
	return nil
}

// syncFreeCounts recomputes the superblock's free-block and free-inode
// hints by summing the authoritative group descriptors, so that after a
// write-back sum(bg_free_blocks_count) == s_free_blocks_count (and
// likewise for inodes) even though every allocation and free only
// updates the group descriptors in place.
func (fs *FileSystem) syncFreeCounts() {
	var freeBlocks, freeInodes uint32
	for _, gd := range fs.groupDescriptors.descriptors {
		freeBlocks += uint32(gd.freeBlocksCount)
		freeInodes += uint32(gd.freeInodesCount)
	}
	fs.superblock.freeBlocksCount = freeBlocks
	fs.superblock.freeInodesCount = freeInodes
}

// writeSuperblock flushes the pinned in-memory superblock to its fixed
// absolute offset: byte 1024.
func (fs *FileSystem) writeSuperblock() error {
	if fs.readOnly {
		return ErrReadOnly
	}
	w, err := fs.backend.Writable()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadOnly, err)
	}
	fs.syncFreeCounts()
	if _, err := w.WriteAt(fs.superblock.toBytes(), superblockOffset); err != nil {
		return fmt.Errorf("%w: writing superblock: %v", ErrIO, err)
	}
	return nil
}
