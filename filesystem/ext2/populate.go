package ext2

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/xattr"
	"github.com/sirupsen/logrus"
	times "gopkg.in/djherbis/times.v1"

	"github.com/vasiatsp/ece-ext2lite/sync"
)

// WarnDroppedXattrs walks root on the host filesystem and logs, via the
// package's usual logrus hook, every regular file that carries extended
// attributes. ext2-lite has nowhere to store them (no xattr block, no
// EXT2_FEATURE_COMPAT_EXT_ATTR support), so a populate-from-host copy
// silently drops them; this makes that loss visible instead of silent.
//
// Call it before handing root to sync.CopyFileSystem.
func WarnDroppedXattrs(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		names, lerr := xattr.List(p)
		if lerr != nil {
			// Not every OS/filesystem supports xattrs; skip quietly.
			return nil
		}
		if len(names) > 0 {
			logrus.WithField("path", p).Warnf("dropping %d extended attribute(s) not representable on ext2-lite: %v", len(names), names)
		}
		return nil
	})
}

// populateCtime picks the ctime to stamp on a freshly created inode
// during a host-to-image copy: a host filesystem's birth time when
// available, else its mtime. ext2-lite's inode has no birth-time field
// of its own (only atime/ctime/mtime/dtime), so this only affects the
// timestamp recorded at creation.
func populateCtime(fi fs.FileInfo) time.Time {
	t := times.Get(fi)
	if t.HasBirthTime() {
		return t.BirthTime()
	}
	return fi.ModTime()
}

// PopulateFromHost copies hostRoot's tree into dst using sync.CopyFileSystem
// unmodified, then makes two ext2-lite-specific passes over the result:
// it warns about any extended attributes the copy necessarily dropped,
// and it restamps each file's ctime from the host's birth time where one
// is available (sync.CopyFileSystem only ever sets ctime from mtime,
// since filesystem.FileSystem.Chtimes has no birth-time parameter).
func PopulateFromHost(hostRoot string, dst *FileSystem) error {
	if err := WarnDroppedXattrs(hostRoot); err != nil {
		return err
	}

	hostFS := os.DirFS(hostRoot)
	if err := sync.CopyFileSystem(hostFS, dst); err != nil {
		return err
	}

	return filepath.WalkDir(hostRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(hostRoot, p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		ctime := populateCtime(fi)
		if ctime.Equal(fi.ModTime()) {
			return nil
		}
		return dst.Chtimes(rel, ctime, fi.ModTime(), fi.ModTime())
	})
}
