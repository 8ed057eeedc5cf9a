package ext2

import (
	"fmt"
	"sync"
)

// dirEntryHeaderSize is the 8-byte fixed header preceding each entry's
// name: inode(4) + rec_len(2) + name_len(1) + file_type(1).
const dirEntryHeaderSize = 8

// dirRecLen returns EXT2_DIR_REC_LEN(nameLen): the minimum, 4-byte
// aligned record length able to hold a name of nameLen bytes.
func dirRecLen(nameLen int) uint16 {
	n := dirEntryHeaderSize + nameLen
	return uint16((n + 3) &^ 3)
}

// directoryEntry is the decoded form of one on-disk directory record.
// offset is this entry's byte offset within the directory file, used
// by callers to re-locate it for set_link/delete_entry after a chunk
// round-trip.
//
// Grounded on filesystem/fat32's directory-scan shape (fixed-size
// records walked within a block) generalized to ext2's variable-length,
// rec_len-chained layout.
type directoryEntry struct {
	inode    uint32
	recLen   uint16
	nameLen  uint8
	fileType uint8
	name     string
	offset   uint64
}

func directoryEntryFromBytes(b []byte, offset uint64) (*directoryEntry, error) {
	if len(b) < dirEntryHeaderSize {
		return nil, fmt.Errorf("%w: directory record buffer shorter than header", ErrCorrupt)
	}
	recLen := leUint16(b[4:6])
	nameLen := b[6]
	if recLen == 0 {
		return nil, fmt.Errorf("%w: zero-length directory record at offset %d", ErrCorrupt, offset)
	}
	e := &directoryEntry{
		inode:    leUint32(b[0:4]),
		recLen:   recLen,
		nameLen:  nameLen,
		fileType: b[7],
		offset:   offset,
	}
	if int(dirEntryHeaderSize)+int(nameLen) > len(b) {
		return nil, fmt.Errorf("%w: directory record name overruns buffer at offset %d", ErrCorrupt, offset)
	}
	e.name = string(b[dirEntryHeaderSize : dirEntryHeaderSize+int(nameLen)])
	return e, nil
}

func (e *directoryEntry) toBytes() []byte {
	b := make([]byte, e.recLen)
	leiPutUint32(b[0:4], e.inode)
	leiPutUint16(b[4:6], e.recLen)
	b[6] = e.nameLen
	b[7] = 0 // file_type written as 0; readers tolerate unknown
	copy(b[dirEntryHeaderSize:dirEntryHeaderSize+int(e.nameLen)], e.name)
	return b
}

// dirChunk is one loaded, "checked" block of a directory file.
type dirChunk struct {
	mu      sync.Mutex
	block   uint32
	data    []byte
	checked bool
}

// chunkCount returns how many whole chunks (= blocks) the directory
// currently spans.
func chunkCount(i *inode, blockSize uint32) int {
	return int((i.size + uint64(blockSize) - 1) / uint64(blockSize))
}

// readChunk loads chunk index idx of directory i, validating it with
// checkChunk. Chunks are not cached, so every load is checked.
func (fs *FileSystem) readChunk(i *inode, idx int) (*dirChunk, error) {
	block, err := fs.getBlock(i, idx, false)
	if err != nil {
		return nil, err
	}
	if block == 0 {
		return nil, fs.corrupt("readChunk", "directory inode %d missing block for chunk %d within i_size", i.number, idx)
	}
	data, err := fs.readBlock(block)
	if err != nil {
		return nil, err
	}
	c := &dirChunk{block: block, data: data}
	if err := fs.checkChunk(i.number, c); err != nil {
		return nil, err
	}
	return c, nil
}

// checkChunk walks every record in c from offset 0, enforcing the
// chunk discipline: rec_len non-zero, 4-aligned, at least
// dirRecLen(name_len), never crossing the chunk end, and the walk must
// land exactly on the chunk boundary.
func (fs *FileSystem) checkChunk(owner uint32, c *dirChunk) error {
	blockSize := fs.superblock.blockSize
	var pos uint32
	for pos < blockSize {
		if pos+dirEntryHeaderSize > blockSize {
			return fs.corrupt("checkChunk", "directory inode %d: entry header crosses chunk end at %d", owner, pos)
		}
		recLen := leUint16(c.data[pos+4 : pos+6])
		nameLen := c.data[pos+6]
		if recLen == 0 {
			return fs.corrupt("checkChunk", "directory inode %d: zero rec_len at offset %d", owner, pos)
		}
		if recLen%4 != 0 || recLen < dirRecLen(int(nameLen)) {
			return fs.corrupt("checkChunk", "directory inode %d: invalid rec_len %d for name_len %d at offset %d", owner, recLen, nameLen, pos)
		}
		if pos+uint32(recLen) > blockSize {
			return fs.corrupt("checkChunk", "directory inode %d: entry at %d crosses chunk boundary", owner, pos)
		}
		pos += uint32(recLen)
	}
	if pos != blockSize {
		return fs.corrupt("checkChunk", "directory inode %d: chunk walk ended at %d, not chunk size %d", owner, pos, blockSize)
	}
	c.checked = true
	return nil
}

// writeChunk commits a mutated chunk back to disk and bumps the
// directory's iversion so concurrent readdir callers re-validate their
// resume offsets ("commit_chunk").
func (fs *FileSystem) writeChunk(i *inode, c *dirChunk) error {
	if err := fs.writeBlock(c.block, c.data); err != nil {
		return err
	}
	fs.iversionMu.Lock()
	fs.iversion[i.number]++
	fs.iversionMu.Unlock()
	return nil
}

func (fs *FileSystem) getIversion(ino uint32) uint64 {
	fs.iversionMu.Lock()
	defer fs.iversionMu.Unlock()
	return fs.iversion[ino]
}

// direntInfo is what readdir hands back to callers: a (name, inode)
// pair, with type always reported as unknown.
type direntInfo struct {
	name  string
	inode uint32
}

// readdirFrom iterates the directory's entries starting at byte offset
// start, tolerating concurrent mutation by re-aligning to a valid record
// boundary within the current chunk whenever the iversion token observed
// at entry differs from the one read at the start of this call.
func (fs *FileSystem) readdirFrom(i *inode, start uint64) ([]direntInfo, error) {
	var out []direntInfo
	blockSize := uint64(fs.superblock.blockSize)
	chunks := chunkCount(i, fs.superblock.blockSize)
	version := fs.getIversion(i.number)

	pos := start
	for idx := int(pos / blockSize); idx < chunks; idx++ {
		c, err := fs.readChunk(i, idx)
		if err != nil {
			return nil, err
		}
		chunkStart := uint64(idx) * blockSize
		var within uint32
		if pos > chunkStart {
			within = uint32(pos - chunkStart)
			if now := fs.getIversion(i.number); now != version {
				within = realignWithinChunk(c.data, within, fs.superblock.blockSize)
				version = now
			}
		}
		for within < fs.superblock.blockSize {
			recLen := leUint16(c.data[within+4 : within+6])
			if recLen == 0 {
				return nil, fs.corrupt("readdirFrom", "directory inode %d: zero rec_len during readdir at chunk %d offset %d", i.number, idx, within)
			}
			nameLen := c.data[within+6]
			inodeNum := leUint32(c.data[within : within+4])
			if inodeNum != 0 {
				name := string(c.data[within+dirEntryHeaderSize : within+dirEntryHeaderSize+uint32(nameLen)])
				out = append(out, direntInfo{name: name, inode: inodeNum})
			}
			within += uint32(recLen)
		}
		pos = chunkStart + blockSize
	}
	return out, nil
}

// realignWithinChunk walks from the start of a chunk summing rec_len
// until it reaches or passes want, returning the offset of the record
// boundary at or after want. Used when resuming readdir after entries
// may have moved.
func realignWithinChunk(data []byte, want uint32, blockSize uint32) uint32 {
	var pos uint32
	for pos < blockSize && pos < want {
		recLen := leUint16(data[pos+4 : pos+6])
		if recLen == 0 {
			return pos
		}
		pos += uint32(recLen)
	}
	return pos
}

// findEntry scans every chunk of directory i for name. On a hit it
// returns the entry, its owning chunk (still loaded, so the caller can
// mutate and commit it), and the chunk index.
func (fs *FileSystem) findEntry(i *inode, name string) (*directoryEntry, *dirChunk, int, error) {
	chunks := chunkCount(i, fs.superblock.blockSize)
	for idx := 0; idx < chunks; idx++ {
		c, err := fs.readChunk(i, idx)
		if err != nil {
			return nil, nil, 0, err
		}
		var pos uint32
		for pos < fs.superblock.blockSize {
			e, err := directoryEntryFromBytes(c.data[pos:], uint64(idx)*uint64(fs.superblock.blockSize)+uint64(pos))
			if err != nil {
				return nil, nil, 0, err
			}
			if e.inode != 0 && e.name == name {
				return e, c, idx, nil
			}
			pos += uint32(e.recLen)
		}
	}
	return nil, nil, 0, ErrNotFound
}

// inodeByName is find_entry narrowed to just the target inode number.
func (fs *FileSystem) inodeByName(dir *inode, name string) (uint32, error) {
	e, _, _, err := fs.findEntry(dir, name)
	if err != nil {
		return 0, err
	}
	return e.inode, nil
}

// dotdot returns the second entry of the first chunk: the ".." entry.
func (fs *FileSystem) dotdot(i *inode) (*directoryEntry, error) {
	c, err := fs.readChunk(i, 0)
	if err != nil {
		return nil, err
	}
	first, err := directoryEntryFromBytes(c.data, 0)
	if err != nil {
		return nil, err
	}
	return directoryEntryFromBytes(c.data[first.recLen:], uint64(first.recLen))
}

// addLink inserts a (name -> ino) entry into directory i: collision
// check, tombstone/split reuse, directory growth by one whole chunk if
// no room exists.
func (fs *FileSystem) addLink(i *inode, name string, ino uint32, ft uint8) error {
	need := dirRecLen(len(name))
	chunks := chunkCount(i, fs.superblock.blockSize)

	for idx := 0; idx < chunks; idx++ {
		c, err := fs.readChunk(i, idx)
		if err != nil {
			return err
		}
		if done, err := fs.tryInsertInChunk(i, c, name, ino, ft, need); err != nil {
			return err
		} else if done {
			return nil
		}
	}

	// No room in any existing chunk: extend by one whole chunk and
	// insert into the resulting synthetic free-space entry.
	newIdx := chunks
	block, err := fs.getBlock(i, newIdx, true)
	if err != nil {
		return err
	}
	data := make([]byte, fs.superblock.blockSize)
	leiPutUint32(data[0:4], 0)
	leiPutUint16(data[4:6], uint16(fs.superblock.blockSize))
	c := &dirChunk{block: block, data: data, checked: true}
	i.mu.Lock()
	i.size = uint64(newIdx+1) * uint64(fs.superblock.blockSize)
	i.mu.Unlock()

	done, err := fs.tryInsertInChunk(i, c, name, ino, ft, need)
	if err != nil {
		return err
	}
	if !done {
		return fs.corrupt("addLink", "directory inode %d: freshly extended chunk too small for name %q", i.number, name)
	}
	return nil
}

// tryInsertInChunk looks for a tombstone or a record whose trailing free
// space covers need, within one already-loaded chunk. It also performs
// the collision check (EEXIST) while scanning.
func (fs *FileSystem) tryInsertInChunk(i *inode, c *dirChunk, name string, ino uint32, ft uint8, need uint16) (bool, error) {
	var pos uint32
	for pos < fs.superblock.blockSize {
		e, err := directoryEntryFromBytes(c.data[pos:], uint64(pos))
		if err != nil {
			return false, err
		}
		if e.inode != 0 && e.name == name {
			return false, ErrExist
		}

		if e.inode == 0 && e.recLen >= need {
			fs.writeEntryAt(c, pos, ino, name, ft, e.recLen)
			if err := fs.writeChunk(i, c); err != nil {
				return false, err
			}
			return true, nil
		}

		if e.inode != 0 {
			used := dirRecLen(int(e.nameLen))
			free := e.recLen - used
			if free >= need {
				e.recLen = used
				fs.writeEntryAt(c, pos, e.inode, e.name, e.fileType, used)
				fs.writeEntryAt(c, pos+uint32(used), ino, name, ft, free)
				if err := fs.writeChunk(i, c); err != nil {
					return false, err
				}
				return true, nil
			}
		}
		pos += uint32(e.recLen)
	}
	return false, nil
}

func (fs *FileSystem) writeEntryAt(c *dirChunk, pos uint32, ino uint32, name string, ft uint8, recLen uint16) {
	e := &directoryEntry{inode: ino, recLen: recLen, nameLen: uint8(len(name)), fileType: ft, name: name}
	copy(c.data[pos:pos+uint32(recLen)], e.toBytes())
}

// deleteEntry removes the entry at e's offset from directory i: the
// previous entry in the chunk (if any) absorbs the freed rec_len;
// otherwise the slot itself is just tombstoned.
func (fs *FileSystem) deleteEntry(i *inode, e *directoryEntry) error {
	idx := int(e.offset / uint64(fs.superblock.blockSize))
	within := uint32(e.offset % uint64(fs.superblock.blockSize))

	c, err := fs.readChunk(i, idx)
	if err != nil {
		return err
	}

	var prevPos uint32 = 0
	var prevLen uint32
	found := false
	var pos uint32
	for pos < within {
		rl := leUint16(c.data[pos+4 : pos+6])
		if rl == 0 {
			return fs.corrupt("deleteEntry", "directory inode %d: zero rec_len scanning for predecessor", i.number)
		}
		prevPos = pos
		prevLen = uint32(rl)
		found = true
		pos += uint32(rl)
	}

	if found {
		newLen := prevLen + uint32(e.recLen)
		leiPutUint16(c.data[prevPos+4:prevPos+6], uint16(newLen))
	} else {
		leiPutUint32(c.data[within:within+4], 0)
	}

	return fs.writeChunk(i, c)
}

// setLink replaces entry's inode pointer in place, resetting file_type
// to 0.
func (fs *FileSystem) setLink(i *inode, e *directoryEntry, newIno uint32) error {
	idx := int(e.offset / uint64(fs.superblock.blockSize))
	within := uint32(e.offset % uint64(fs.superblock.blockSize))
	c, err := fs.readChunk(i, idx)
	if err != nil {
		return err
	}
	leiPutUint32(c.data[within:within+4], newIno)
	c.data[within+7] = 0
	return fs.writeChunk(i, c)
}

// makeEmpty fills the first chunk of a brand-new directory inode with
// exactly "." and "..".
func (fs *FileSystem) makeEmpty(dirIno *inode, parentIno uint32) error {
	block, err := fs.getBlock(dirIno, 0, true)
	if err != nil {
		return err
	}
	data := make([]byte, fs.superblock.blockSize)
	dotLen := dirRecLen(1)
	fs.writeEntryAt(&dirChunk{data: data}, 0, dirIno.number, ".", uint8(fileTypeDirectory>>8), dotLen)
	fs.writeEntryAt(&dirChunk{data: data}, uint32(dotLen), parentIno, "..", uint8(fileTypeDirectory>>8), uint16(fs.superblock.blockSize)-dotLen)

	dirIno.mu.Lock()
	dirIno.size = uint64(fs.superblock.blockSize)
	dirIno.mu.Unlock()

	return fs.writeBlock(block, data)
}

// emptyDir reports whether dirIno contains only "." and "..".
func (fs *FileSystem) emptyDir(dirIno *inode) (bool, error) {
	chunks := chunkCount(dirIno, fs.superblock.blockSize)
	for idx := 0; idx < chunks; idx++ {
		c, err := fs.readChunk(dirIno, idx)
		if err != nil {
			return false, err
		}
		var pos uint32
		for pos < fs.superblock.blockSize {
			e, err := directoryEntryFromBytes(c.data[pos:], uint64(pos))
			if err != nil {
				return false, err
			}
			if e.inode != 0 && e.name != "." && e.name != ".." {
				return false, nil
			}
			pos += uint32(e.recLen)
		}
	}
	return true, nil
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leiPutUint16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func leiPutUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
