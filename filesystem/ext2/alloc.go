package ext2

import (
	"fmt"
	"sync/atomic"
)

// Block allocation policy: prefer extending the last block
// allocated to this inode by one (goal-directed contiguous extension);
// fall back to the first free bit in the inode's home group, then to any
// other group in ascending order.
//
// Grounded on filesystem/ext4/ext4.go's allocateExtents, simplified from
// extent ranges down to single-block direct pointers, and on
// util/bitmap.Bitmap for the underlying scan.

// newBlock allocates one free block, preferring group preferredGroup, and
// returns its absolute block number.
func (fs *FileSystem) newBlock(preferredGroup int) (uint32, error) {
	groups := fs.superblock.blockGroupCount()
	order := groupSearchOrder(preferredGroup, groups)

	for _, g := range order {
		fs.groupMu[g].Lock()
		bn, err := fs.tryAllocBlockInGroup(g)
		fs.groupMu[g].Unlock()
		if err != nil {
			return 0, err
		}
		if bn != 0 {
			return bn, nil
		}
	}
	return 0, ErrNoSpace
}

// tryAllocBlockInGroup attempts to claim one free block in group g. Caller
// must hold fs.groupMu[g]. Returns block number 0 (never a valid data
// block, since block 0 holds the boot sector) if the group is full.
func (fs *FileSystem) tryAllocBlockInGroup(g int) (uint32, error) {
	gd, err := fs.getGroupDesc(g)
	if err != nil {
		return 0, err
	}
	if gd.freeBlocksCount == 0 {
		return 0, nil
	}
	bm, err := fs.readBlockBitmap(g)
	if err != nil {
		return 0, err
	}
	limit := int(fs.superblock.blocksInGroup(g))
	bit := bm.FirstFree(0)
	if bit < 0 || bit >= limit {
		return 0, fs.corrupt("tryAllocBlockInGroup", "group %d descriptor claims %d free blocks but bitmap has none", g, gd.freeBlocksCount)
	}
	if err := bm.Set(bit); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := fs.writeBlockBitmap(bm, g); err != nil {
		return 0, err
	}
	gd.freeBlocksCount--
	if err := fs.writeGDT(); err != nil {
		return 0, err
	}
	atomic.AddInt64(&fs.freeBlocksApprox, -1)

	absolute := groupFirstBlock(g, fs.superblock.firstDataBlock, fs.superblock.blocksPerGroup) + uint32(bit)
	if err := fs.zeroBlock(absolute); err != nil {
		return 0, err
	}
	return absolute, nil
}

// newBlockNear allocates a block preferring the one immediately after
// goal (the last block belonging to the same file), implementing the
// goal-directed contiguous-extension policy before falling back to
// newBlock's group scan.
func (fs *FileSystem) newBlockNear(goal uint32) (uint32, error) {
	if goal != 0 {
		g := blockGroupForBlock(goal, fs.superblock.firstDataBlock, fs.superblock.blocksPerGroup)
		fs.groupMu[g].Lock()
		bm, err := fs.readBlockBitmap(g)
		if err == nil {
			first := groupFirstBlock(g, fs.superblock.firstDataBlock, fs.superblock.blocksPerGroup)
			wantBit := int(goal+1-first)
			if wantBit >= 0 && wantBit < int(fs.superblock.blocksInGroup(g)) {
				if set, _ := bm.IsSet(wantBit); !set {
					if err := bm.Set(wantBit); err == nil {
						gd, gerr := fs.getGroupDesc(g)
						if gerr == nil && gd.freeBlocksCount > 0 {
							if werr := fs.writeBlockBitmap(bm, g); werr == nil {
								gd.freeBlocksCount--
								if werr := fs.writeGDT(); werr == nil {
									atomic.AddInt64(&fs.freeBlocksApprox, -1)
									fs.groupMu[g].Unlock()
									absolute := first + uint32(wantBit)
									if err := fs.zeroBlock(absolute); err != nil {
										return 0, err
									}
									return absolute, nil
								}
							}
						}
					}
				}
			}
		}
		fs.groupMu[g].Unlock()
		return fs.newBlock(g)
	}
	return fs.newBlock(0)
}

// freeBlock releases block n back to its group's bitmap.
func (fs *FileSystem) freeBlock(n uint32) error {
	g := blockGroupForBlock(n, fs.superblock.firstDataBlock, fs.superblock.blocksPerGroup)
	fs.groupMu[g].Lock()
	defer fs.groupMu[g].Unlock()

	bm, err := fs.readBlockBitmap(g)
	if err != nil {
		return err
	}
	first := groupFirstBlock(g, fs.superblock.firstDataBlock, fs.superblock.blocksPerGroup)
	bit := int(n - first)
	if set, _ := bm.IsSet(bit); !set {
		return fs.corrupt("freeBlock", "double-free of block %d in group %d", n, g)
	}
	if err := bm.Clear(bit); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := fs.writeBlockBitmap(bm, g); err != nil {
		return err
	}
	gd, err := fs.getGroupDesc(g)
	if err != nil {
		return err
	}
	gd.freeBlocksCount++
	if err := fs.writeGDT(); err != nil {
		return err
	}
	atomic.AddInt64(&fs.freeBlocksApprox, 1)
	return nil
}

// groupSearchOrder returns every group index starting at preferred and
// wrapping around, used by both block and inode allocation's group-scan
// fallback.
func groupSearchOrder(preferred, count int) []int {
	order := make([]int, count)
	for i := 0; i < count; i++ {
		order[i] = (preferred + i) % count
	}
	return order
}

// Inode allocation policy: new directories go to the group with the
// fewest used directories (ties go to the lower group index; a group with
// no free inode is passed over). New files go to their parent directory's
// group, then to the other groups in ascending order, wrapping around;
// groups are not probed with a quadratic step. Within the chosen group,
// tryAllocInodeInGroup probes bits with a quadratic step before a linear
// scan.
//
// Grounded on filesystem/ext4/ext4.go's allocateInode, replacing its
// flex-bg heuristics (not applicable without flex_bg) with the classic
// ext2 Orlov-lite placement.

// newInode allocates a fresh inode number. parentGroup is the group
// containing the new file's parent directory; isDir selects the
// directory-placement policy over the file-placement policy.
func (fs *FileSystem) newInode(parentGroup int, isDir bool) (uint32, error) {
	groups := fs.superblock.blockGroupCount()

	var order []int
	if isDir {
		order = fs.directoryPlacementOrder(groups)
	} else {
		order = groupSearchOrder(parentGroup, groups)
	}

	for _, g := range order {
		fs.groupMu[g].Lock()
		ino, err := fs.tryAllocInodeInGroup(g)
		fs.groupMu[g].Unlock()
		if err != nil {
			return 0, err
		}
		if ino != 0 {
			return ino, nil
		}
	}
	return 0, ErrNoSpace
}

// directoryPlacementOrder ranks groups by fewest used directories first,
// spreading subdirectories across the volume instead of clustering them
// in one group.
func (fs *FileSystem) directoryPlacementOrder(groups int) []int {
	order := make([]int, groups)
	for i := range order {
		order[i] = i
	}
	for i := 1; i < len(order); i++ {
		j := i
		for j > 0 {
			a, _ := fs.getGroupDesc(order[j-1])
			b, _ := fs.getGroupDesc(order[j])
			if a == nil || b == nil || a.usedDirsCount <= b.usedDirsCount {
				break
			}
			order[j-1], order[j] = order[j], order[j-1]
			j--
		}
	}
	return order
}

// tryAllocInodeInGroup probes group g for a free inode using a quadratic
// step sequence (0, 1, 4, 9, ...) before falling back to a full linear
// scan of the group. Caller must hold fs.groupMu[g].
//
// Note this quadratic probe picks a bit within an already-chosen group;
// it is not the group-placement quadratic probe classic ext2 describes
// (start at (parent_group+parent_ino) mod groups, then step by
// 1,2,4,8,...). newInode's groupSearchOrder/directoryPlacementOrder own
// group selection instead, linearly.
func (fs *FileSystem) tryAllocInodeInGroup(g int) (uint32, error) {
	gd, err := fs.getGroupDesc(g)
	if err != nil {
		return 0, err
	}
	if gd.freeInodesCount == 0 {
		return 0, nil
	}
	bm, err := fs.readInodeBitmap(g)
	if err != nil {
		return 0, err
	}
	limit := int(fs.superblock.inodesPerGroup)

	bit := -1
	for step := 0; step*step < limit; step++ {
		probe := step * step
		if probe >= limit {
			break
		}
		if set, _ := bm.IsSet(probe); !set {
			bit = probe
			break
		}
	}
	if bit < 0 {
		bit = bm.FirstFree(0)
		if bit < 0 || bit >= limit {
			return 0, fs.corrupt("tryAllocInodeInGroup", "group %d descriptor claims %d free inodes but bitmap has none", g, gd.freeInodesCount)
		}
	}

	if err := bm.Set(bit); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := fs.writeInodeBitmap(bm, g); err != nil {
		return 0, err
	}
	gd.freeInodesCount--
	if err := fs.writeGDT(); err != nil {
		return 0, err
	}
	atomic.AddInt64(&fs.freeInodesApprox, -1)

	ino := uint32(g)*fs.superblock.inodesPerGroup + uint32(bit) + 1
	return ino, nil
}

// freeInode releases ino back to its group's inode bitmap.
func (fs *FileSystem) freeInode(ino uint32, isDir bool) error {
	g := blockGroupForInode(ino, fs.superblock.inodesPerGroup)
	fs.groupMu[g].Lock()
	defer fs.groupMu[g].Unlock()

	bm, err := fs.readInodeBitmap(g)
	if err != nil {
		return err
	}
	bit := int((ino - 1) % fs.superblock.inodesPerGroup)
	if set, _ := bm.IsSet(bit); !set {
		return fs.corrupt("freeInode", "double-free of inode %d in group %d", ino, g)
	}
	if err := bm.Clear(bit); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := fs.writeInodeBitmap(bm, g); err != nil {
		return err
	}
	gd, err := fs.getGroupDesc(g)
	if err != nil {
		return err
	}
	gd.freeInodesCount++
	if isDir && gd.usedDirsCount > 0 {
		gd.usedDirsCount--
	}
	if err := fs.writeGDT(); err != nil {
		return err
	}
	atomic.AddInt64(&fs.freeInodesApprox, 1)
	return nil
}

// markInodeIsDir increments the owning group's used-directory counter;
// called once, when a freshly allocated inode is committed as a
// directory.
func (fs *FileSystem) markInodeIsDir(ino uint32) error {
	g := blockGroupForInode(ino, fs.superblock.inodesPerGroup)
	fs.groupMu[g].Lock()
	defer fs.groupMu[g].Unlock()
	gd, err := fs.getGroupDesc(g)
	if err != nil {
		return err
	}
	gd.usedDirsCount++
	return fs.writeGDT()
}
