// Package fsio provides the durable file primitives under the blob store:
// write-to-temp / fsync / rename / fsync-parent, whole-file reads,
// idempotent deletes and regular-file enumeration.
//
// Directory fsync after rename is best-effort: filesystems that reject
// fsync on a directory fd get a weakened crash guarantee (the rename may
// not survive power loss) and a warning in the log.
package fsio

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/kanakamedala-rajesh/SecureStorage/logging"
	"github.com/kanakamedala-rajesh/SecureStorage/secerr"
)

// TmpSuffix is appended to the target path for the internal staging file of
// AtomicWrite. The whole ".tmp" name family is reserved on disk.
const TmpSuffix = "._atomicwrite_tmp"

const (
	FilePerm = os.FileMode(0o644)
	DirPerm  = os.FileMode(0o755)
)

type FS struct {
	log *slog.Logger
}

type Option func(*FS)

func WithLogger(l *slog.Logger) Option {
	return func(f *FS) {
		if l != nil {
			f.log = l
		}
	}
}

func New(opts ...Option) *FS {
	f := &FS{log: logging.Nop()}
	for _, fn := range opts {
		fn(f)
	}
	return f
}

// AtomicWrite durably replaces the content of path. After return either the
// new bytes are visible at path or the prior content is, never a mix.
func (f *FS) AtomicWrite(path string, data []byte) error {
	const op = "fsio.AtomicWrite"

	if err := f.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	tmp := path + TmpSuffix
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePerm)
	if err != nil {
		return secerr.E(kindForOS(err, secerr.KindFileOpenFailed), op, err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return secerr.E(secerr.KindFileWriteFailed, op, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return secerr.E(secerr.KindFileWriteFailed, op, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return secerr.E(secerr.KindFileWriteFailed, op, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return secerr.E(secerr.KindFileRenameFailed, op, err)
	}

	// Persist the rename itself. Failure here is a weakened guarantee, not
	// a failed write.
	if err := f.syncDir(filepath.Dir(path)); err != nil {
		f.log.Warn("directory fsync failed", "dir", filepath.Dir(path), "err", err)
	}
	return nil
}

func (f *FS) syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	for {
		err := unix.Fsync(int(d.Fd()))
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// ReadAll returns the full content of path. An empty file yields empty,
// non-nil bytes.
func (f *FS) ReadAll(path string) ([]byte, error) {
	const op = "fsio.ReadAll"
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, secerr.E(secerr.KindPathNotFound, op, err)
		}
		return nil, secerr.E(kindForOS(err, secerr.KindFileReadFailed), op, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Delete removes path. Absence is success.
func (f *FS) Delete(path string) error {
	const op = "fsio.Delete"
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return secerr.E(kindForOS(err, secerr.KindFileRemoveFailed), op, err)
	}
	return nil
}

// Exists reports whether path names an existing entry of any type.
func (f *FS) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// ListRegular returns the names (not paths) of regular files directly under
// dir, in no particular order.
func (f *FS) ListRegular(dir string) ([]string, error) {
	const op = "fsio.ListRegular"
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, secerr.E(secerr.KindPathNotFound, op, err)
		}
		return nil, secerr.E(kindForOS(err, secerr.KindFileReadFailed), op, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// EnsureDir creates dir and any missing parents. It fails if a component
// exists and is not a directory.
func (f *FS) EnsureDir(dir string) error {
	const op = "fsio.EnsureDir"
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return secerr.E(secerr.KindOperationFailed, op, err)
	}
	return nil
}

// kindForOS refines an os error into a taxonomy kind, falling back to def.
func kindForOS(err error, def secerr.Kind) secerr.Kind {
	switch {
	case errors.Is(err, os.ErrPermission):
		return secerr.KindAccessDenied
	case errors.Is(err, os.ErrNotExist):
		return secerr.KindPathNotFound
	default:
		return def
	}
}
