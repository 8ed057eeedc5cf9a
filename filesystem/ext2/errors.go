package ext2

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Sentinel errors for the filesystem's error taxonomy. Wrapped with
// fmt.Errorf("%w", ...) where extra context is useful; callers should
// use errors.Is against these.
var (
	ErrNoSpace       = errors.New("ext2: no space left on device")
	ErrCorrupt       = errors.New("ext2: filesystem structure corruption detected")
	ErrIO            = errors.New("ext2: I/O error")
	ErrNotFound      = errors.New("ext2: no such file or directory")
	ErrExist         = errors.New("ext2: file exists")
	ErrNotEmpty      = errors.New("ext2: directory not empty")
	ErrNotSupported  = errors.New("ext2: feature not supported by this lite implementation")
	ErrInvalid       = errors.New("ext2: invalid argument")
	ErrIsDirectory   = errors.New("ext2: is a directory")
	ErrNotDirectory  = errors.New("ext2: not a directory")
	ErrReadOnly      = errors.New("ext2: filesystem is read-only")
)

// errorPolicy mirrors the three behaviours selectable via the errors=
// mount option and the superblock's default error-handling field.
type errorPolicy int

const (
	errorsContinue errorPolicy = iota
	errorsRemountReadOnly
	errorsPanic
)

// corrupt logs a structural violation through logrus with the calling
// function name and implicated location, then applies fs's configured
// error policy. It always returns an error wrapping ErrCorrupt so the
// caller can unwind normally even under errorsContinue.
func (fs *FileSystem) corrupt(fn string, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	entry := logrus.WithFields(logrus.Fields{
		"fn":     fn,
		"volume": fs.superblock.volumeLabel,
	})
	entry.Errorf("ext2: corruption detected: %s", msg)

	fs.mu.Lock()
	fs.superblock.state |= fsStateError
	policy := fs.errorPolicy
	fs.mu.Unlock()

	switch policy {
	case errorsPanic:
		entry.Panicf("ext2: fatal corruption, policy=panic: %s", msg)
	case errorsRemountReadOnly:
		fs.mu.Lock()
		fs.readOnly = true
		fs.mu.Unlock()
		entry.Warn("ext2: remounting read-only due to corruption")
	case errorsContinue:
		// logged above; caller unwinds
	}
	return fmt.Errorf("%w: %s: %s", ErrCorrupt, fn, msg)
}
