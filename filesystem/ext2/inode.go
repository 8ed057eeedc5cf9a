package ext2

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"
)

type fileType uint16

const (
	fileTypeFifo            fileType = 0x1000
	fileTypeCharacterDevice fileType = 0x2000
	fileTypeDirectory       fileType = 0x4000
	fileTypeBlockDevice     fileType = 0x6000
	fileTypeRegularFile     fileType = 0x8000
	fileTypeSymbolicLink    fileType = 0xa000
	fileTypeSocket          fileType = 0xc000

	fileTypeMask fileType = 0xf000

	// inodeStateNew marks an inode allocated in the bitmap but not yet
	// linked into any directory; tracked in-core only, never on disk.
	inodeStateNew uint32 = 0x1

	symlinkFastMaxLen = 60 // bytes available in i_block when stored inline
)

// inode is the in-memory decode of one 128-byte classic ext2 inode
// record. Only the first nDirectBlocks entries of the
// on-disk 15-pointer i_block array are meaningful; ext2-lite carries no
// indirect, double-indirect or triple-indirect blocks, so the remaining
// three legacy pointer slots are always zero and rejected on read.
//
// Grounded on filesystem/ext4/inode.go's inode struct and
// inodeFromBytes/toBytes, pared down from the ext4 96-byte extent tree
// and wide-timestamp "extra" fields back to the classic 128-byte layout.
type inode struct {
	number     uint32
	mode       uint16 // low 12 bits permissions, high 4 bits file type
	uid        uint16
	size       uint64 // low 32 bits on-disk; dir_acl/size_high not used (no large files)
	atime      time.Time
	ctime      time.Time
	mtime      time.Time
	dtime      uint32
	gid        uint16
	linksCount uint16
	blocks512  uint32 // 512-byte sectors consumed, matches i_blocks semantics
	flags      uint32
	generation uint32
	fileACL    uint32
	block      [15]uint32 // only [0:nDirectBlocks) are populated
	state      uint32     // in-core only; never serialized

	mu sync.RWMutex
}

func (i *inode) fileType() fileType {
	return fileType(i.mode) & fileTypeMask
}

func (i *inode) isDir() bool      { return i.fileType() == fileTypeDirectory }
func (i *inode) isRegular() bool  { return i.fileType() == fileTypeRegularFile }
func (i *inode) isSymlink() bool  { return i.fileType() == fileTypeSymbolicLink }
func (i *inode) perm() os.FileMode {
	return os.FileMode(i.mode & 0o7777)
}

// fastSymlink reports whether the link target is short enough to live
// inline in i_block instead of consuming a data block ("fast" vs "slow"
// symlinks; threshold mirrors the classic ext2 value of 60 bytes, the
// size of i_block). A target of exactly 60 bytes is slow, not fast: this
// matches the kernel's strlen(target)+1 > sizeof(i_block) check (the
// trailing NUL has to fit too), not a naive "60 bytes fits in 60 bytes"
// reading.
func fastSymlinkEligible(target string) bool {
	return len(target) < symlinkFastMaxLen
}

func inodeFromBytes(b []byte, number uint32) (*inode, error) {
	if len(b) < int(goodOldInodeSize) {
		return nil, fmt.Errorf("%w: inode %d record too short: %d bytes", ErrCorrupt, number, len(b))
	}
	i := &inode{
		number:     number,
		mode:       binary.LittleEndian.Uint16(b[0x00:0x02]),
		uid:        binary.LittleEndian.Uint16(b[0x02:0x04]),
		size:       uint64(binary.LittleEndian.Uint32(b[0x04:0x08])),
		atime:      time.Unix(int64(binary.LittleEndian.Uint32(b[0x08:0x0c])), 0).UTC(),
		ctime:      time.Unix(int64(binary.LittleEndian.Uint32(b[0x0c:0x10])), 0).UTC(),
		mtime:      time.Unix(int64(binary.LittleEndian.Uint32(b[0x10:0x14])), 0).UTC(),
		dtime:      binary.LittleEndian.Uint32(b[0x14:0x18]),
		gid:        binary.LittleEndian.Uint16(b[0x18:0x1a]),
		linksCount: binary.LittleEndian.Uint16(b[0x1a:0x1c]),
		blocks512:  binary.LittleEndian.Uint32(b[0x1c:0x20]),
		flags:      binary.LittleEndian.Uint32(b[0x20:0x24]),
		generation: binary.LittleEndian.Uint32(b[0x64:0x68]),
		fileACL:    binary.LittleEndian.Uint32(b[0x68:0x6c]),
	}
	for idx := 0; idx < 15; idx++ {
		off := 0x28 + idx*4
		i.block[idx] = binary.LittleEndian.Uint32(b[off : off+4])
	}
	fastSymlink := i.isSymlink() && i.blocks512 == 0
	for idx := nDirectBlocks; idx < 15 && !fastSymlink; idx++ {
		if i.block[idx] != 0 {
			return nil, fmt.Errorf("%w: inode %d uses indirect block pointer %d, unsupported", ErrNotSupported, number, idx)
		}
	}
	return i, nil
}

func (i *inode) toBytes() []byte {
	b := make([]byte, goodOldInodeSize)
	binary.LittleEndian.PutUint16(b[0x00:0x02], i.mode)
	binary.LittleEndian.PutUint16(b[0x02:0x04], i.uid)
	binary.LittleEndian.PutUint32(b[0x04:0x08], uint32(i.size))
	binary.LittleEndian.PutUint32(b[0x08:0x0c], uint32(i.atime.Unix()))
	binary.LittleEndian.PutUint32(b[0x0c:0x10], uint32(i.ctime.Unix()))
	binary.LittleEndian.PutUint32(b[0x10:0x14], uint32(i.mtime.Unix()))
	binary.LittleEndian.PutUint32(b[0x14:0x18], i.dtime)
	binary.LittleEndian.PutUint16(b[0x18:0x1a], i.gid)
	binary.LittleEndian.PutUint16(b[0x1a:0x1c], i.linksCount)
	binary.LittleEndian.PutUint32(b[0x1c:0x20], i.blocks512)
	binary.LittleEndian.PutUint32(b[0x20:0x24], i.flags)
	for idx := 0; idx < 15; idx++ {
		off := 0x28 + idx*4
		binary.LittleEndian.PutUint32(b[off:off+4], i.block[idx])
	}
	binary.LittleEndian.PutUint32(b[0x64:0x68], i.generation)
	binary.LittleEndian.PutUint32(b[0x68:0x6c], i.fileACL)
	return b
}

// inodeBlockLocation returns the byte offset and block number of the
// inode table record holding ino: the group descriptor
// names the inode table's first block, and ino's offset within it is
// ((ino-1) mod inodes_per_group) * inode_size.
func (fs *FileSystem) inodeBlockLocation(ino uint32) (block uint32, offsetInBlock uint32, err error) {
	g := blockGroupForInode(ino, fs.superblock.inodesPerGroup)
	gd, err := fs.getGroupDesc(g)
	if err != nil {
		return 0, 0, err
	}
	indexInGroup := (ino - 1) % fs.superblock.inodesPerGroup
	byteOffsetInTable := uint64(indexInGroup) * uint64(fs.superblock.inodeSize)
	blocksIntoTable := uint32(byteOffsetInTable / uint64(fs.superblock.blockSize))
	return gd.inodeTable + blocksIntoTable, uint32(byteOffsetInTable % uint64(fs.superblock.blockSize)), nil
}

// readInode loads inode ino fresh from disk, bypassing the cache; used by
// iget on a cache miss.
func (fs *FileSystem) readInode(ino uint32) (*inode, error) {
	if ino == 0 || ino > fs.superblock.inodesCount {
		return nil, fmt.Errorf("%w: inode number %d out of range", ErrInvalid, ino)
	}
	block, off, err := fs.inodeBlockLocation(ino)
	if err != nil {
		return nil, err
	}
	raw, err := fs.readBlock(block)
	if err != nil {
		return nil, err
	}
	end := off + uint32(goodOldInodeSize)
	if end > uint32(len(raw)) {
		return nil, fs.corrupt("readInode", "inode %d record crosses block boundary", ino)
	}
	return inodeFromBytes(raw[off:end], ino)
}

// writeInode flushes i to its inode-table slot.
func (fs *FileSystem) writeInode(i *inode) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	block, off, err := fs.inodeBlockLocation(i.number)
	if err != nil {
		return err
	}
	raw, err := fs.readBlock(block)
	if err != nil {
		return err
	}
	copy(raw[off:off+uint32(goodOldInodeSize)], i.toBytes())
	return fs.writeBlock(block, raw)
}

// iget returns the in-memory inode for ino, consulting fs's open-inode
// cache first and reading through to disk on a miss.
func (fs *FileSystem) iget(ino uint32) (*inode, error) {
	fs.icacheMu.Lock()
	if cached, ok := fs.icache[ino]; ok {
		fs.icacheRefs[ino]++
		fs.icacheMu.Unlock()
		return cached, nil
	}
	fs.icacheMu.Unlock()

	i, err := fs.readInode(ino)
	if err != nil {
		return nil, err
	}

	fs.icacheMu.Lock()
	if cached, ok := fs.icache[ino]; ok {
		fs.icacheRefs[ino]++
		fs.icacheMu.Unlock()
		return cached, nil
	}
	fs.icache[ino] = i
	fs.icacheRefs[ino] = 1
	fs.icacheMu.Unlock()
	return i, nil
}

// iput releases one reference to ino, dropping it from the cache once the
// reference count reaches zero, and freeing it through evictInode when
// its link count is also zero (the delete-on-last-close rule).
func (fs *FileSystem) iput(i *inode) error {
	fs.icacheMu.Lock()
	fs.icacheRefs[i.number]--
	refs := fs.icacheRefs[i.number]
	if refs <= 0 {
		delete(fs.icache, i.number)
		delete(fs.icacheRefs, i.number)
	}
	fs.icacheMu.Unlock()

	if refs <= 0 && i.linksCount == 0 {
		return fs.evictInode(i)
	}
	return nil
}

// evictInode truncates all of i's data blocks, frees the inode number and
// writes a tombstone dtime.
func (fs *FileSystem) evictInode(i *inode) error {
	if i.isRegular() || i.isDir() || (i.isSymlink() && i.blocks512 != 0) {
		if err := fs.truncateBlocks(i, 0); err != nil {
			return err
		}
	}
	isDir := i.isDir()
	i.dtime = uint32(fs.now().Unix())
	i.linksCount = 0
	i.mode = 0
	if err := fs.writeInode(i); err != nil {
		return err
	}
	return fs.freeInode(i.number, isDir)
}

// getBlock returns the absolute block number backing logical block index
// idx within i, allocating and linking a new block if alloc is true and
// none exists yet. idx must be < nDirectBlocks; ext2-lite has no indirect
// blocks (Non-goals).
func (fs *FileSystem) getBlock(i *inode, idx int, alloc bool) (uint32, error) {
	if idx < 0 || idx >= nDirectBlocks {
		return 0, fmt.Errorf("%w: logical block %d exceeds direct-block limit %d", ErrNotSupported, idx, nDirectBlocks)
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.block[idx] != 0 {
		return i.block[idx], nil
	}
	if !alloc {
		return 0, nil
	}

	var goal uint32
	for j := idx - 1; j >= 0; j-- {
		if i.block[j] != 0 {
			goal = i.block[j]
			break
		}
	}
	var bn uint32
	var err error
	if goal != 0 {
		bn, err = fs.newBlockNear(goal)
	} else {
		bn, err = fs.newBlock(blockGroupForInode(i.number, fs.superblock.inodesPerGroup))
	}
	if err != nil {
		return 0, err
	}
	i.block[idx] = bn
	i.blocks512 += fs.superblock.blockSize / 512
	return bn, nil
}

// truncateBlocks releases every direct block at or beyond the block that
// contains byte offset newSize, coalescing the freed run where
// contiguous (truncate_blocks).
func (fs *FileSystem) truncateBlocks(i *inode, newSize uint64) error {
	i.mu.Lock()
	firstFree := int((newSize + uint64(fs.superblock.blockSize) - 1) / uint64(fs.superblock.blockSize))
	toFree := make([]uint32, 0, nDirectBlocks)
	for idx := firstFree; idx < nDirectBlocks; idx++ {
		if i.block[idx] != 0 {
			toFree = append(toFree, i.block[idx])
			i.block[idx] = 0
		}
	}
	i.size = newSize
	i.mu.Unlock()

	for _, run := range coalesceRuns(toFree) {
		for n := run.start; n < run.start+run.count; n++ {
			if err := fs.freeBlock(n); err != nil {
				return err
			}
		}
		i.mu.Lock()
		i.blocks512 -= (run.count * fs.superblock.blockSize) / 512
		i.mu.Unlock()
	}
	return nil
}

type blockRun struct {
	start uint32
	count uint32
}

// coalesceRuns groups a set of block numbers into maximal contiguous
// runs, used only for accounting; each block is still freed
// individually since the bitmap has no run-length API.
func coalesceRuns(blocks []uint32) []blockRun {
	if len(blocks) == 0 {
		return nil
	}
	sorted := append([]uint32(nil), blocks...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	var runs []blockRun
	start := sorted[0]
	count := uint32(1)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == start+count {
			count++
			continue
		}
		runs = append(runs, blockRun{start, count})
		start = sorted[i]
		count = 1
	}
	runs = append(runs, blockRun{start, count})
	return runs
}

func (fs *FileSystem) now() time.Time {
	if fs.clock != nil {
		return fs.clock()
	}
	return time.Now()
}
