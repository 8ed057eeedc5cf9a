package ext2

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// On-disk constants. The superblock always lives
// at absolute byte offset 1024 regardless of block size.
const (
	superblockMagic      uint16 = 0xef53
	superblockOffset     int64  = 1024
	superblockSize       int    = 1024
	revGoodOld           uint32 = 0
	revDynamic           uint32 = 1
	maxSupportedRevision uint32 = revDynamic
	goodOldInodeSize     uint16 = 128
	goodOldFirstInode    uint32 = 11
	groupDescriptorSize  int    = 32
	nDirectBlocks        int    = 12 // N_BLOCKS, direct-only (no indirect)
	maxNameLen           uint32 = 255 // EXT2_NAME_LEN, the on-disk name_len field is a single byte

	// filesystem state bits
	fsStateValid fsState = 0x0001
	fsStateError fsState = 0x0002

	// on-disk default error behaviour, independent of the in-memory mountOptions.policy
	errBehaviorContinue  uint16 = 1
	errBehaviorRemountRO uint16 = 2
	errBehaviorPanic     uint16 = 3
)

type fsState uint16

// superblock is the in-memory decoded form of the on-disk superblock,
// kept in host byte order. Grounded on
// filesystem/ext4/ext4.go's superblockFromBytes field-at-a-time decode,
// pared down to the ext2 "GOOD_OLD_REV"/"DYNAMIC_REV" layout ext2-lite
// supports (no 64-bit fields, no feature flags other than the presence
// check that rejects any).
type superblock struct {
	inodesCount       uint32
	blocksCount       uint32
	reservedBlocks    uint32
	freeBlocksCount   uint32 // on-disk hint only; authoritative value is the sum of group descriptors
	freeInodesCount   uint32 // on-disk hint only
	firstDataBlock    uint32
	logBlockSize      uint32 // blockSize = 1024 << logBlockSize
	blocksPerGroup    uint32
	inodesPerGroup    uint32
	mountTime         time.Time
	writeTime         time.Time
	mountCount        uint16
	maxMountCount     uint16
	state             fsState
	errorBehavior     uint16
	minorRevLevel     uint16
	lastCheck         time.Time
	checkInterval     uint32
	creatorOS         uint32
	revLevel          uint32
	defResUID         uint16
	defResGID         uint16
	firstInode        uint32
	inodeSize         uint16
	blockGroupNr      uint16
	featureCompat     uint32
	featureIncompat   uint32
	featureROCompat   uint32
	uuid              uuid.UUID
	volumeLabel       string
	lastMountedPath   string
	algorithmBitmap   uint32

	blockSize uint32 // derived
}

func (sb *superblock) blockGroupCount() int {
	dataBlocks := sb.blocksCount - sb.firstDataBlock
	return int((dataBlocks + sb.blocksPerGroup - 1) / sb.blocksPerGroup)
}

func (sb *superblock) inodesPerBlock() uint32 {
	return sb.blockSize / uint32(sb.inodeSize)
}

func (sb *superblock) itbPerGroup() uint32 {
	return sb.inodesPerGroup / sb.inodesPerBlock()
}

func (sb *superblock) descPerBlock() uint32 {
	return sb.blockSize / uint32(groupDescriptorSize)
}

func (sb *superblock) gdbCount() int {
	groups := sb.blockGroupCount()
	dpb := int(sb.descPerBlock())
	return (groups + dpb - 1) / dpb
}

// maxFileSize is the maximum supported file size in bytes: N_BLOCKS, the
// largest number of direct data blocks a single inode can reference,
// times the block size.
func (sb *superblock) maxFileSize() uint64 {
	return uint64(nDirectBlocks) * uint64(sb.blockSize)
}

func (sb *superblock) equal(o *superblock) bool {
	if sb == nil || o == nil {
		return sb == o
	}
	a, b := *sb, *o
	return a.inodesCount == b.inodesCount &&
		a.blocksCount == b.blocksCount &&
		a.blockSize == b.blockSize &&
		a.firstDataBlock == b.firstDataBlock &&
		a.blocksPerGroup == b.blocksPerGroup &&
		a.inodesPerGroup == b.inodesPerGroup &&
		a.uuid == b.uuid
}

// superblockFromBytes decodes the 1024-byte superblock buffer, validates
// the magic number and rejects any filesystem that advertises feature
// bits this lite variant does not implement.
//
// Grounded on filesystem/ext4/ext4.go's superblockFromBytes: explicit
// byte-range decode via encoding/binary, magic check before trusting any
// other field.
func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) < superblockSize {
		return nil, fmt.Errorf("%w: superblock buffer too short: %d bytes", ErrCorrupt, len(b))
	}

	magic := binary.LittleEndian.Uint16(b[0x38:0x3a])
	if magic != superblockMagic {
		return nil, fmt.Errorf("%w: bad superblock magic %#x, expected %#x", ErrCorrupt, magic, superblockMagic)
	}

	sb := &superblock{
		inodesCount:     binary.LittleEndian.Uint32(b[0x00:0x04]),
		blocksCount:     binary.LittleEndian.Uint32(b[0x04:0x08]),
		reservedBlocks:  binary.LittleEndian.Uint32(b[0x08:0x0c]),
		freeBlocksCount: binary.LittleEndian.Uint32(b[0x0c:0x10]),
		freeInodesCount: binary.LittleEndian.Uint32(b[0x10:0x14]),
		firstDataBlock:  binary.LittleEndian.Uint32(b[0x14:0x18]),
		logBlockSize:    binary.LittleEndian.Uint32(b[0x18:0x1c]),
		blocksPerGroup:  binary.LittleEndian.Uint32(b[0x20:0x24]),
		inodesPerGroup:  binary.LittleEndian.Uint32(b[0x28:0x2c]),
		mountTime:       time.Unix(int64(binary.LittleEndian.Uint32(b[0x2c:0x30])), 0).UTC(),
		writeTime:       time.Unix(int64(binary.LittleEndian.Uint32(b[0x30:0x34])), 0).UTC(),
		mountCount:      binary.LittleEndian.Uint16(b[0x34:0x36]),
		maxMountCount:   binary.LittleEndian.Uint16(b[0x36:0x38]),
		state:           fsState(binary.LittleEndian.Uint16(b[0x3a:0x3c])),
		errorBehavior:   binary.LittleEndian.Uint16(b[0x3c:0x3e]),
		minorRevLevel:   binary.LittleEndian.Uint16(b[0x3e:0x40]),
		lastCheck:       time.Unix(int64(binary.LittleEndian.Uint32(b[0x40:0x44])), 0).UTC(),
		checkInterval:   binary.LittleEndian.Uint32(b[0x44:0x48]),
		creatorOS:       binary.LittleEndian.Uint32(b[0x48:0x4c]),
		revLevel:        binary.LittleEndian.Uint32(b[0x4c:0x50]),
		defResUID:       binary.LittleEndian.Uint16(b[0x50:0x52]),
		defResGID:       binary.LittleEndian.Uint16(b[0x52:0x54]),
	}
	sb.blockSize = 1024 << sb.logBlockSize

	if sb.revLevel > maxSupportedRevision {
		return nil, fmt.Errorf("%w: revision %d beyond maximum supported %d", ErrNotSupported, sb.revLevel, maxSupportedRevision)
	}

	switch sb.revLevel {
	case revGoodOld:
		sb.firstInode = goodOldFirstInode
		sb.inodeSize = goodOldInodeSize
	default:
		sb.firstInode = binary.LittleEndian.Uint32(b[0x54:0x58])
		sb.inodeSize = binary.LittleEndian.Uint16(b[0x58:0x5a])
		sb.blockGroupNr = binary.LittleEndian.Uint16(b[0x5a:0x5c])
		sb.featureCompat = binary.LittleEndian.Uint32(b[0x5c:0x60])
		sb.featureIncompat = binary.LittleEndian.Uint32(b[0x60:0x64])
		sb.featureROCompat = binary.LittleEndian.Uint32(b[0x64:0x68])
		u, err := uuid.FromBytes(b[0x68:0x78])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid volume UUID: %v", ErrCorrupt, err)
		}
		sb.uuid = u
		sb.volumeLabel = cString(b[0x78:0x88])
		sb.lastMountedPath = cString(b[0x88:0xc8])
		sb.algorithmBitmap = binary.LittleEndian.Uint32(b[0xc8:0xcc])
	}

	if sb.featureCompat != 0 || sb.featureIncompat != 0 || sb.featureROCompat != 0 {
		return nil, fmt.Errorf("%w: filesystem advertises compat/incompat/ro-compat feature bits this lite variant does not support", ErrNotSupported)
	}
	if sb.inodeSize < goodOldInodeSize || sb.inodeSize&(sb.inodeSize-1) != 0 || uint32(sb.inodeSize) > sb.blockSize {
		return nil, fmt.Errorf("%w: inode size %d is not a power of two within [%d, block size]", ErrCorrupt, sb.inodeSize, goodOldInodeSize)
	}

	return sb, nil
}

// toBytes encodes the superblock back into its 1024-byte on-disk form.
func (sb *superblock) toBytes() []byte {
	b := make([]byte, superblockSize)

	binary.LittleEndian.PutUint32(b[0x00:0x04], sb.inodesCount)
	binary.LittleEndian.PutUint32(b[0x04:0x08], sb.blocksCount)
	binary.LittleEndian.PutUint32(b[0x08:0x0c], sb.reservedBlocks)
	binary.LittleEndian.PutUint32(b[0x0c:0x10], sb.freeBlocksCount)
	binary.LittleEndian.PutUint32(b[0x10:0x14], sb.freeInodesCount)
	binary.LittleEndian.PutUint32(b[0x14:0x18], sb.firstDataBlock)
	binary.LittleEndian.PutUint32(b[0x18:0x1c], sb.logBlockSize)
	binary.LittleEndian.PutUint32(b[0x20:0x24], sb.blocksPerGroup)
	binary.LittleEndian.PutUint32(b[0x28:0x2c], sb.inodesPerGroup)
	binary.LittleEndian.PutUint32(b[0x2c:0x30], uint32(sb.mountTime.Unix()))
	binary.LittleEndian.PutUint32(b[0x30:0x34], uint32(sb.writeTime.Unix()))
	binary.LittleEndian.PutUint16(b[0x34:0x36], sb.mountCount)
	binary.LittleEndian.PutUint16(b[0x36:0x38], sb.maxMountCount)
	binary.LittleEndian.PutUint16(b[0x38:0x3a], superblockMagic)
	binary.LittleEndian.PutUint16(b[0x3a:0x3c], uint16(sb.state))
	binary.LittleEndian.PutUint16(b[0x3c:0x3e], sb.errorBehavior)
	binary.LittleEndian.PutUint16(b[0x3e:0x40], sb.minorRevLevel)
	binary.LittleEndian.PutUint32(b[0x40:0x44], uint32(sb.lastCheck.Unix()))
	binary.LittleEndian.PutUint32(b[0x44:0x48], sb.checkInterval)
	binary.LittleEndian.PutUint32(b[0x48:0x4c], sb.creatorOS)
	binary.LittleEndian.PutUint32(b[0x4c:0x50], sb.revLevel)
	binary.LittleEndian.PutUint16(b[0x50:0x52], sb.defResUID)
	binary.LittleEndian.PutUint16(b[0x52:0x54], sb.defResGID)

	if sb.revLevel != revGoodOld {
		binary.LittleEndian.PutUint32(b[0x54:0x58], sb.firstInode)
		binary.LittleEndian.PutUint16(b[0x58:0x5a], sb.inodeSize)
		binary.LittleEndian.PutUint16(b[0x5a:0x5c], sb.blockGroupNr)
		binary.LittleEndian.PutUint32(b[0x5c:0x60], sb.featureCompat)
		binary.LittleEndian.PutUint32(b[0x60:0x64], sb.featureIncompat)
		binary.LittleEndian.PutUint32(b[0x64:0x68], sb.featureROCompat)
		uuidBytes, _ := sb.uuid.MarshalBinary()
		copy(b[0x68:0x78], uuidBytes)
		copy(b[0x78:0x88], padString(sb.volumeLabel, 16))
		copy(b[0x88:0xc8], padString(sb.lastMountedPath, 64))
		binary.LittleEndian.PutUint32(b[0xc8:0xcc], sb.algorithmBitmap)
	}

	return b
}

// cString trims a fixed-width NUL-padded field down to its printable
// prefix, tolerating fields that are not NUL-terminated at all.
func cString(b []byte) string {
	if i := indexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func padString(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

// showOptions renders the mount's active options (fs.mountOpts) as the
// comma-separated mount-option grammar.
func (fs *FileSystem) showOptions() string {
	return fs.mountOpts.String()
}

// filesystemID returns statfs's filesystem id: the two 64-bit halves of
// the UUID XORed together.
func (sb *superblock) filesystemID() uint64 {
	raw, _ := sb.uuid.MarshalBinary()
	var hi, lo uint64
	if len(raw) == 16 {
		hi = binary.LittleEndian.Uint64(raw[0:8])
		lo = binary.LittleEndian.Uint64(raw[8:16])
	}
	return hi ^ lo
}

// errorBehaviorFromPolicy converts the in-memory error policy to its
// on-disk encoding, used when a fresh filesystem is created.
func errorBehaviorFromPolicy(p errorPolicy) uint16 {
	switch p {
	case errorsPanic:
		return errBehaviorPanic
	case errorsRemountReadOnly:
		return errBehaviorRemountRO
	default:
		return errBehaviorContinue
	}
}
