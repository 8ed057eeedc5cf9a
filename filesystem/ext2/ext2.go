// Package ext2 implements a simplified, direct-block-only, single-mount
// ext2 filesystem: classical superblock + group-descriptor + bitmap +
// inode-table + data-block layout, without journaling, extents,
// quotas, xattrs, ACLs or encryption.
//
// Grounded throughout on github.com/vasiatsp/ece-ext2lite/filesystem/ext4,
// pared down to the classic ext2 on-disk format and extended with real
// read-write support where the teacher package was read-only.
package ext2

import (
	"fmt"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vasiatsp/ece-ext2lite/backend"
	"github.com/vasiatsp/ece-ext2lite/filesystem"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	rootInode      uint32 = 2
	lostFoundInode uint32 = 11

	// SectorSize512 is the logical sector size assumed throughout, mirroring
	// filesystem/ext4's SectorSize512.
	SectorSize512 int64 = 512

	defaultBlockSize    uint32 = 1024
	defaultInodeRatio   int64  = 8192
	defaultVolumeName          = "ext2lite"
	minBlocksPerGroup   uint32 = 256
)

// Params configures a freshly created ext2-lite filesystem, mirroring
// filesystem/ext4.Params but scoped to what the classic ext2 on-disk
// format actually exposes.
type Params struct {
	UUID           *uuid.UUID
	BlockSize      uint32
	BlocksPerGroup uint32
	InodeRatio     int64
	VolumeName     string
	MountOptions   string
}

// FileSystem is a reference to a single mounted ext2-lite filesystem.
// superblock and groupDescriptors are pinned in memory from mount to
// unmount; every mutation updates them in place and
// flushes the affected on-disk copy immediately since ext2-lite has no
// journal to defer writeback through.
type FileSystem struct {
	backend          backend.Storage
	size             int64
	start            int64

	superblock       *superblock
	groupDescriptors *groupDescriptorTable
	rootInode        uint32

	mu          sync.Mutex
	errorPolicy errorPolicy
	readOnly    bool
	mountOpts   mountOptions

	groupMu []sync.Mutex

	freeBlocksApprox int64
	freeInodesApprox int64

	icache     map[uint32]*inode
	icacheRefs map[uint32]int
	icacheMu   sync.Mutex

	iversion   map[uint32]uint64
	iversionMu sync.Mutex

	// clock overrides time.Now for deterministic tests; nil means use
	// the real wall clock.
	clock func() time.Time
}

var _ filesystem.FileSystem = (*FileSystem)(nil)

// Type returns filesystem.TypeExt2.
func (fs *FileSystem) Type() filesystem.Type {
	return filesystem.TypeExt2
}

// Label returns the on-disk volume label.
func (fs *FileSystem) Label() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.superblock.volumeLabel
}

// SetLabel changes the volume label, truncating to the 16-byte on-disk
// field.
func (fs *FileSystem) SetLabel(label string) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	fs.mu.Lock()
	if len(label) > 16 {
		label = label[:16]
	}
	fs.superblock.volumeLabel = label
	fs.mu.Unlock()
	return fs.writeSuperblock()
}

// Remove removes a file or empty directory, dispatching to Unlink or
// Rmdir depending on the target's type.
func (fs *FileSystem) Remove(p string) error {
	i, err := fs.lookupPath(p)
	if err != nil {
		return err
	}
	isDir := i.isDir()
	_ = fs.iput(i)
	if isDir {
		return fs.Rmdir(p)
	}
	return fs.Unlink(p)
}

// Chmod changes a file's permission bits, following symlinks.
func (fs *FileSystem) Chmod(name string, mode os.FileMode) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	i, err := fs.lookupPath(name)
	if err != nil {
		return err
	}
	defer fs.iput(i)

	i.mu.Lock()
	i.mode = uint16(i.fileType()) | uint16(mode.Perm())
	i.ctime = fs.now()
	i.mu.Unlock()
	return fs.writeInode(i)
}

// Chown changes a file's owning uid/gid, following symlinks. A value of
// -1 leaves the corresponding field unchanged.
func (fs *FileSystem) Chown(name string, uid, gid int) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	i, err := fs.lookupPath(name)
	if err != nil {
		return err
	}
	defer fs.iput(i)

	i.mu.Lock()
	if uid != -1 {
		i.uid = uint16(uid)
	}
	if gid != -1 {
		i.gid = uint16(gid)
	}
	i.ctime = fs.now()
	i.mu.Unlock()
	return fs.writeInode(i)
}

// Chtimes sets a file's access and modification times, following
// symlinks. ctime is set to the caller-supplied ctime argument, not to
// the current time.
func (fs *FileSystem) Chtimes(name string, ctime, atime, mtime time.Time) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	i, err := fs.lookupPath(name)
	if err != nil {
		return err
	}
	defer fs.iput(i)

	i.mu.Lock()
	i.atime = atime
	i.mtime = mtime
	i.ctime = ctime
	i.mu.Unlock()
	return fs.writeInode(i)
}

// ReadDir returns the contents of the directory at p.
func (fs *FileSystem) ReadDir(p string) ([]os.FileInfo, error) {
	dir, err := fs.lookupPath(p)
	if err != nil {
		return nil, err
	}
	defer fs.iput(dir)
	if !dir.isDir() {
		return nil, ErrNotDirectory
	}

	entries, err := fs.readdirFrom(dir, 0)
	if err != nil {
		return nil, err
	}
	out := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.name == "." || e.name == ".." {
			continue
		}
		childIno, err := fs.iget(e.inode)
		if err != nil {
			return nil, err
		}
		out = append(out, &fileInfo{name: e.name, ino: childIno})
		_ = fs.iput(childIno)
	}
	return out, nil
}

// Open returns a read-only handle on p, the same as OpenFile(p, os.O_RDONLY).
func (fs *FileSystem) Open(p string) (*File, error) {
	return fs.openFile(p, os.O_RDONLY)
}

// OpenFile opens pathname with the given os.OpenFile-style flags,
// creating the file first if O_CREATE is set and it does not yet exist.
func (fs *FileSystem) OpenFile(p string, flag int) (filesystem.File, error) {
	return fs.openFile(p, flag)
}

func (fs *FileSystem) openFile(p string, flag int) (*File, error) {
	i, err := fs.lookupPath(p)
	if err == ErrNotFound && flag&os.O_CREATE != 0 {
		i, err = fs.create(p, 0o644)
	}
	if err != nil {
		return nil, err
	}
	if i.isDir() && (flag&os.O_WRONLY != 0 || flag&os.O_RDWR != 0) {
		_ = fs.iput(i)
		return nil, ErrIsDirectory
	}
	if flag&os.O_TRUNC != 0 && i.isRegular() {
		if err := fs.truncateBlocks(i, 0); err != nil {
			_ = fs.iput(i)
			return nil, err
		}
		if err := fs.writeInode(i); err != nil {
			_ = fs.iput(i)
			return nil, err
		}
	}
	return &File{name: path.Base(p), ino: i, fs: fs, flag: flag}, nil
}

// Close flushes the superblock and group descriptor table. ext2-lite has
// no write-back cache of its own (every mutation writes through
// immediately), so Close is mostly a formality kept for symmetry with
// the teacher's Close.
func (fs *FileSystem) Close() error {
	if fs.readOnly {
		return nil
	}
	if err := fs.writeSuperblock(); err != nil {
		return err
	}
	return fs.writeGDT()
}

// logEntry returns a logrus entry tagged with this filesystem's volume
// label, used for the debug mount option and other non-fatal
// diagnostics (corrupt() in errors.go handles the fatal path).
func (fs *FileSystem) logEntry() *logrus.Entry {
	return logrus.WithField("volume", fs.superblock.volumeLabel)
}

func (fs *FileSystem) debugf(format string, args ...interface{}) {
	if fs.mountOpts.debug {
		fs.logEntry().Debugf(format, args...)
	}
}

// Statfs reports aggregate space accounting for the mounted filesystem.
type Statfs struct {
	TotalBlocks    uint32 // blocksCount minus OverheadBlocks
	OverheadBlocks uint32 // superblock, GDT, bitmap and inode-table blocks
	FreeBlocks     uint32
	Inodes         uint32
	FreeInodes     uint32
	NameLen        uint32 // maximum file name length in bytes
	MaxFileSize    uint64
	FilesystemID   uint64 // XOR of the volume UUID's two 64-bit halves
	MountOptions   string
}

// Statfs computes the statfs(2)-equivalent summary: total blocks net of
// layout overhead, free blocks/inodes (from the approximate counters the
// allocators maintain), the name-length limit and a filesystem id
// derived from the volume UUID.
//
// Grounded on the superblock's own derived-value helpers: itbPerGroup
// and gdbCount (superblock.go) compute the per-group and GDT overhead,
// filesystemID and maxFileSize supply the id and size-limit fields. No
// teacher equivalent exists (filesystem/ext4 is read-only and has no
// statfs), so the field set follows classic ext2's own statfs(2) fields.
func (fs *FileSystem) Statfs() Statfs {
	fs.mu.Lock()
	sb := fs.superblock
	groups := len(fs.groupDescriptors.descriptors)
	overhead := uint32(1) + uint32(sb.gdbCount()) // superblock + group descriptor table
	overhead += uint32(groups) * (2 + sb.itbPerGroup())
	opts := fs.showOptions()
	fs.mu.Unlock()

	return Statfs{
		TotalBlocks:    sb.blocksCount - overhead,
		OverheadBlocks: overhead,
		FreeBlocks:     uint32(atomic.LoadInt64(&fs.freeBlocksApprox)),
		Inodes:         sb.inodesCount,
		FreeInodes:     uint32(atomic.LoadInt64(&fs.freeInodesApprox)),
		NameLen:        maxNameLen,
		MaxFileSize:    sb.maxFileSize(),
		FilesystemID:   sb.filesystemID(),
		MountOptions:   opts,
	}
}

// Read mounts an existing ext2-lite filesystem found on b starting at
// byte offset start and spanning size bytes.
//
// Grounded on filesystem/ext4/ext4.go's Read: superblock decode,
// feature-bit validation, group descriptor table read, then handed off
// to mountOptions parsing which is specific to ext2-lite.
func Read(b backend.Storage, size, start int64, mountOptionString string) (*FileSystem, error) {
	opts, err := parseMountOptions(mountOptionString)
	if err != nil {
		return nil, err
	}

	fsBackend := backend.Sub(b, start, size)

	sbBuf := make([]byte, superblockSize)
	if _, err := fsBackend.ReadAt(sbBuf, superblockOffset); err != nil {
		return nil, fmt.Errorf("%w: reading superblock: %v", ErrIO, err)
	}
	sb, err := superblockFromBytes(sbBuf)
	if err != nil {
		return nil, err
	}

	groups := sb.blockGroupCount()
	gdtBlock := sb.firstDataBlock + 1
	gdtBytes := make([]byte, groups*groupDescriptorSize)
	offset := int64(gdtBlock) * int64(sb.blockSize)
	if _, err := fsBackend.ReadAt(gdtBytes, offset); err != nil {
		return nil, fmt.Errorf("%w: reading group descriptor table: %v", ErrIO, err)
	}
	gdt, err := groupDescriptorTableFromBytes(gdtBytes, groups)
	if err != nil {
		return nil, err
	}

	fs := &FileSystem{
		backend:          fsBackend,
		size:             size,
		start:            start,
		superblock:       sb,
		groupDescriptors: gdt,
		rootInode:        rootInode,
		errorPolicy:      opts.policy,
		mountOpts:        opts,
		groupMu:          make([]sync.Mutex, groups),
		icache:           map[uint32]*inode{},
		icacheRefs:       map[uint32]int{},
		iversion:         map[uint32]uint64{},
	}
	var freeBlocks, freeInodes int64
	for _, gd := range gdt.descriptors {
		freeBlocks += int64(gd.freeBlocksCount)
		freeInodes += int64(gd.freeInodesCount)
	}
	fs.freeBlocksApprox = freeBlocks
	fs.freeInodesApprox = freeInodes

	sb.mountTime = fs.now()
	sb.mountCount++
	if err := fs.writeSuperblock(); err != nil && opts.policy != errorsContinue {
		return nil, err
	}

	fs.debugf("mounted volume %q: %d groups, %d bytes/block", sb.volumeLabel, groups, sb.blockSize)
	return fs, nil
}

// Create initializes a brand-new ext2-lite filesystem on b (the
// equivalent of mkfs), and returns it already mounted.
//
// Grounded on filesystem/ext4/ext4.go's Create: blocksize/group sizing,
// then superblock + group descriptor table + bitmaps + inode table
// layout, simplified to ext2-lite's single fixed inode size and no
// flex_bg/resize-inode/journal reservations.
func Create(b backend.Storage, size, start int64, p *Params) (*FileSystem, error) {
	if p == nil {
		p = &Params{}
	}
	blockSize := p.BlockSize
	if blockSize == 0 {
		blockSize = defaultBlockSize
	}
	if blockSize < 1024 || blockSize&(blockSize-1) != 0 {
		return nil, fmt.Errorf("%w: block size %d must be a power of two >= 1024", ErrInvalid, blockSize)
	}

	numBlocks := uint32(size / int64(blockSize))
	blocksPerGroup := p.BlocksPerGroup
	if blocksPerGroup == 0 {
		blocksPerGroup = blockSize * 8
	}
	if blocksPerGroup < minBlocksPerGroup {
		return nil, fmt.Errorf("%w: blocks per group %d below minimum %d", ErrInvalid, blocksPerGroup, minBlocksPerGroup)
	}

	firstDataBlock := uint32(1)
	if blockSize > 1024 {
		firstDataBlock = 0
	}

	groups := int((numBlocks - firstDataBlock + blocksPerGroup - 1) / blocksPerGroup)
	if groups < 1 {
		return nil, fmt.Errorf("%w: device too small for a single block group", ErrInvalid)
	}

	fsBackend := backend.Sub(b, start, size)

	inodeRatio := p.InodeRatio
	if inodeRatio <= 0 {
		inodeRatio = defaultInodeRatio
	}
	totalInodes := uint32(int64(numBlocks) * int64(blockSize) / inodeRatio)
	inodesPerGroup := (totalInodes + uint32(groups) - 1) / uint32(groups)
	inodesPerBlock := blockSize / uint32(goodOldInodeSize)
	if inodesPerGroup%inodesPerBlock != 0 {
		inodesPerGroup += inodesPerBlock - inodesPerGroup%inodesPerBlock
	}
	totalInodes = inodesPerGroup * uint32(groups)

	fsUUID := p.UUID
	if fsUUID == nil {
		u, err := uuid.NewRandom()
		if err != nil {
			return nil, fmt.Errorf("%w: generating volume UUID: %v", ErrIO, err)
		}
		fsUUID = &u
	}
	volumeName := p.VolumeName
	if volumeName == "" {
		volumeName = defaultVolumeName
	}

	opts, err := parseMountOptions(p.MountOptions)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sb := &superblock{
		inodesCount:     totalInodes,
		blocksCount:     numBlocks,
		firstDataBlock:  firstDataBlock,
		logBlockSize:    log2(blockSize / 1024),
		blocksPerGroup:  blocksPerGroup,
		inodesPerGroup:  inodesPerGroup,
		mountTime:       now,
		writeTime:       now,
		lastCheck:       now,
		state:           fsStateValid,
		errorBehavior:   errorBehaviorFromPolicy(opts.policy),
		revLevel:        revDynamic,
		firstInode:      goodOldFirstInode,
		inodeSize:       goodOldInodeSize,
		uuid:            *fsUUID,
		volumeLabel:     volumeName,
		blockSize:       blockSize,
	}

	inodeTableBlocksPerGroup := inodesPerGroup / inodesPerBlock
	metaBlocksPerGroup := uint32(2) + inodeTableBlocksPerGroup // block bitmap + inode bitmap + inode table

	gdt := &groupDescriptorTable{descriptors: make([]*groupDescriptor, groups)}
	var freeBlocks, freeInodes uint32
	for g := 0; g < groups; g++ {
		first := groupFirstBlock(g, firstDataBlock, blocksPerGroup)
		reserved := uint32(0)
		if g == 0 {
			reserved = 1 + uint32(sb.gdbCount()) // superblock + group descriptor table
		}
		blockBitmapBlock := first + reserved
		inodeBitmapBlock := blockBitmapBlock + 1
		inodeTableBlock := blockBitmapBlock + 2
		blocksInGroup := sb.blocksInGroup(g)

		gd := &groupDescriptor{
			number:          g,
			blockBitmap:     blockBitmapBlock,
			inodeBitmap:     inodeBitmapBlock,
			inodeTable:      inodeTableBlock,
			freeBlocksCount: uint16(blocksInGroup - reserved - metaBlocksPerGroup),
			freeInodesCount: uint16(inodesPerGroup),
		}
		if g == 0 {
			// Inodes 1..goodOldFirstInode-1 are reserved, and lost+found
			// (goodOldFirstInode itself) is seeded by layoutFreshFilesystem
			// below, so all of them are unavailable to the allocator.
			gd.freeInodesCount -= uint16(goodOldFirstInode)
			gd.usedDirsCount = 2 // root + lost+found
		}
		gdt.descriptors[g] = gd
		freeBlocks += uint32(gd.freeBlocksCount)
		freeInodes += uint32(gd.freeInodesCount)
	}
	sb.freeBlocksCount = freeBlocks
	sb.freeInodesCount = freeInodes

	fs := &FileSystem{
		backend:          fsBackend,
		size:             size,
		start:            start,
		superblock:       sb,
		groupDescriptors: gdt,
		rootInode:        rootInode,
		errorPolicy:      opts.policy,
		mountOpts:        opts,
		groupMu:          make([]sync.Mutex, groups),
		icache:           map[uint32]*inode{},
		icacheRefs:       map[uint32]int{},
		iversion:         map[uint32]uint64{},
		freeBlocksApprox: int64(freeBlocks),
		freeInodesApprox: int64(freeInodes),
	}

	if err := fs.layoutFreshFilesystem(metaBlocksPerGroup); err != nil {
		return nil, err
	}

	if err := fs.writeSuperblock(); err != nil {
		return nil, err
	}
	if err := fs.writeGDT(); err != nil {
		return nil, err
	}

	return fs, nil
}

// layoutFreshFilesystem zeroes and initializes every group's bitmaps and
// inode table, then marks the boot/reserved and metadata blocks used and
// creates the root and lost+found directories.
func (fs *FileSystem) layoutFreshFilesystem(metaBlocksPerGroup uint32) error {
	groups := len(fs.groupDescriptors.descriptors)
	for g := 0; g < groups; g++ {
		gd := fs.groupDescriptors.descriptors[g]
		blocksInGroup := fs.superblock.blocksInGroup(g)

		blockBM := zeroedBitmap(fs.superblock.blockSize)
		first := groupFirstBlock(g, fs.superblock.firstDataBlock, fs.superblock.blocksPerGroup)
		for i := uint32(0); i < gd.blockBitmap-first+metaBlocksPerGroup; i++ {
			_ = blockBM.Set(int(i))
		}
		for i := blocksInGroup; i < fs.superblock.blockSize*8; i++ {
			_ = blockBM.Set(int(i))
		}
		if err := fs.writeBlockBitmap(blockBM, g); err != nil {
			return err
		}

		inodeBM := zeroedBitmap(fs.superblock.blockSize)
		if g == 0 {
			// Bits for inodes 1..goodOldFirstInode (reserved inodes plus
			// lost+found, which this function seeds directly below rather
			// than through newInode) must be pre-marked used so the
			// allocator never hands either back out.
			for i := uint32(0); i < goodOldFirstInode; i++ {
				_ = inodeBM.Set(int(i))
			}
		}
		for i := fs.superblock.inodesPerGroup; i < fs.superblock.blockSize*8; i++ {
			_ = inodeBM.Set(int(i))
		}
		if err := fs.writeInodeBitmap(inodeBM, g); err != nil {
			return err
		}

		inodeTableBlocks := fs.superblock.inodesPerGroup / fs.superblock.inodesPerBlock()
		for i := uint32(0); i < inodeTableBlocks; i++ {
			if err := fs.zeroBlock(gd.inodeTable + i); err != nil {
				return err
			}
		}
	}

	now := fs.now()
	root := &inode{
		number:     rootInode,
		mode:       uint16(fileTypeDirectory) | 0o755,
		linksCount: 2,
		atime:      now,
		ctime:      now,
		mtime:      now,
	}
	if err := fs.writeInode(root); err != nil {
		return err
	}
	if err := fs.makeEmpty(root, rootInode); err != nil {
		return err
	}
	if err := fs.writeInode(root); err != nil {
		return err
	}

	lostFound := &inode{
		number:     lostFoundInode,
		mode:       uint16(fileTypeDirectory) | 0o700,
		linksCount: 2,
		atime:      now,
		ctime:      now,
		mtime:      now,
	}
	if err := fs.writeInode(lostFound); err != nil {
		return err
	}
	if err := fs.makeEmpty(lostFound, rootInode); err != nil {
		return err
	}
	if err := fs.writeInode(lostFound); err != nil {
		return err
	}
	if err := fs.addLink(root, "lost+found", lostFoundInode, dirEntryFileType(fileTypeDirectory)); err != nil {
		return err
	}
	root.linksCount++
	return fs.writeInode(root)
}

func log2(n uint32) uint32 {
	var r uint32
	for n > 1 {
		n >>= 1
		r++
	}
	return r
}
