package ext2

import (
	"os"
	"testing"

	"github.com/vasiatsp/ece-ext2lite/backend"
	"github.com/vasiatsp/ece-ext2lite/backend/file"
)

// testImageSize and testBlockSize mirror the canonical end-to-end test
// layout: block size 1024, inode size 128, two 8192-block groups,
// 1024 inodes/group.
const (
	testBlockSize      uint32 = 1024
	testBlocksPerGroup uint32 = 8192
	testGroups                = 2
	testImageSize      int64  = int64(testBlocksPerGroup) * int64(testGroups) * int64(testBlockSize)
)

// tmpBackend creates a zeroed temp file of the given size and wraps it as
// a backend.Storage, following the teacher's tmpFat32-style helper
// (filesystem/fat32/fat32_test.go) but scoped to what ext2's own tests
// need: a scratch device, not a golden image.
func tmpBackend(t *testing.T, size int64) (backend.Storage, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "ext2_test_*.img")
	if err != nil {
		t.Fatalf("creating temp image: %v", err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncating temp image: %v", err)
	}
	name := f.Name()
	b := file.New(f, false)
	return b, func() {
		f.Close()
		os.Remove(name)
	}
}

// mkfsTestFS creates a fresh ext2-lite filesystem on a scratch backend,
// using inodeRatio to land on exactly 1024 inodes/group.
func mkfsTestFS(t *testing.T) *FileSystem {
	t.Helper()
	b, cleanup := tmpBackend(t, testImageSize)
	t.Cleanup(cleanup)

	// blockSize(1024) * blocksPerGroup*groups(16384) bytes total / ratio
	// must yield 1024 inodes per group => 2048 inodes total.
	inodeRatio := testImageSize / int64(2*1024)

	fs, err := Create(b, testImageSize, 0, &Params{
		BlockSize:      testBlockSize,
		BlocksPerGroup: testBlocksPerGroup,
		InodeRatio:     inodeRatio,
		VolumeName:     "test",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return fs
}

// mkfsSmallInodesFS creates a single-group filesystem with a deliberately
// tiny inode pool (but ample blocks/directory capacity), so a test can
// drive free-inode exhaustion without also exhausting the 12-direct-
// block limit on the directory holding the created files.
func mkfsSmallInodesFS(t *testing.T) *FileSystem {
	t.Helper()
	const blockSize = testBlockSize
	const blocksPerGroup = minBlocksPerGroup
	size := int64(blocksPerGroup) * int64(blockSize)

	b, cleanup := tmpBackend(t, size)
	t.Cleanup(cleanup)

	fs, err := Create(b, size, 0, &Params{
		BlockSize:      blockSize,
		BlocksPerGroup: blocksPerGroup,
		InodeRatio:     10000,
		VolumeName:     "small",
	})
	if err != nil {
		t.Fatalf("Create (small): %v", err)
	}
	return fs
}

func mustMkdir(t *testing.T, fs *FileSystem, p string) {
	t.Helper()
	if err := fs.Mkdir(p); err != nil {
		t.Fatalf("Mkdir(%q): %v", p, err)
	}
}

func mustCreate(t *testing.T, fs *FileSystem, p string) *File {
	t.Helper()
	f, err := fs.OpenFile(p, os.O_RDWR|os.O_CREATE)
	if err != nil {
		t.Fatalf("OpenFile(%q, CREATE): %v", p, err)
	}
	return f.(*File)
}

func dirNames(t *testing.T, fs *FileSystem, p string) []string {
	t.Helper()
	entries, err := fs.ReadDir(p)
	if err != nil {
		t.Fatalf("ReadDir(%q): %v", p, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
