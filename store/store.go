// Package store maps record ids to encrypted files under a single storage
// root. Each record owns up to three sibling slots: <id>.enc (MAIN, the
// authoritative ciphertext), <id>.enc.bak (BACKUP, the previous ciphertext
// kept for rollback and recovery) and <id>.enc.tmp (staging during a
// store). A record exists iff MAIN or BACKUP exists; no in-memory index is
// kept.
package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/kanakamedala-rajesh/SecureStorage/codec"
	"github.com/kanakamedala-rajesh/SecureStorage/fsio"
	"github.com/kanakamedala-rajesh/SecureStorage/keyderive"
	"github.com/kanakamedala-rajesh/SecureStorage/logging"
	"github.com/kanakamedala-rajesh/SecureStorage/secerr"
)

const (
	MainSuffix   = ".enc"
	BackupSuffix = ".enc.bak"
	TempSuffix   = ".enc.tmp"
)

// Store is not internally concurrent; callers serialize access.
type Store struct {
	root  string // always ends with the path separator
	key   []byte
	codec *codec.Codec
	fs    *fsio.FS
	log   *slog.Logger

	initErr error
	closed  bool
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Open prepares the storage root and derives the master key. On failure
// the returned store is non-nil with the failure latched: every operation
// then reports NotInitialized carrying the original cause.
func Open(root string, deriver *keyderive.Deriver, opts ...Option) (*Store, error) {
	const op = "store.Open"

	s := &Store{log: logging.Nop()}
	for _, fn := range opts {
		fn(s)
	}
	s.fs = fsio.New(fsio.WithLogger(s.log))

	fail := func(err error) (*Store, error) {
		s.initErr = err
		return s, err
	}

	if root == "" {
		return fail(secerr.Ef(secerr.KindInvalidArgument, op, "empty root"))
	}
	s.root = filepath.Clean(root) + string(os.PathSeparator)

	if deriver == nil {
		return fail(secerr.Ef(secerr.KindInvalidArgument, op, "nil deriver"))
	}

	if err := s.fs.EnsureDir(s.root); err != nil {
		return fail(err)
	}

	key, err := deriver.Key(codec.KeySize)
	if err != nil {
		return fail(err)
	}
	s.key = key

	c, err := codec.New("securestore|"+s.root, codec.WithLogger(s.log))
	if err != nil {
		keyderive.Wipe(s.key)
		s.key = nil
		return fail(err)
	}
	s.codec = c

	return s, nil
}

// Root returns the storage root, with trailing separator.
func (s *Store) Root() string { return s.root }

// Close wipes the master key. Further operations report NotInitialized.
func (s *Store) Close() {
	if s.key != nil {
		keyderive.Wipe(s.key)
		s.key = nil
	}
	s.closed = true
}

func (s *Store) ready(op string) error {
	if s.initErr != nil {
		return secerr.E(secerr.KindNotInitialized, op, s.initErr)
	}
	if s.closed {
		return secerr.E(secerr.KindNotInitialized, op, nil)
	}
	return nil
}

// ValidateID rejects empty ids and ids that could escape the storage root:
// path separators of either flavor and any ".." sequence.
func ValidateID(id string) error {
	const op = "store.ValidateID"
	switch {
	case id == "":
		return secerr.Ef(secerr.KindInvalidArgument, op, "empty record id")
	case strings.ContainsAny(id, `/\`):
		return secerr.Ef(secerr.KindInvalidArgument, op, "record id %q contains a path separator", id)
	case strings.Contains(id, ".."):
		return secerr.Ef(secerr.KindInvalidArgument, op, "record id %q contains a dot-dot sequence", id)
	}
	return nil
}

func (s *Store) mainPath(id string) string   { return s.root + id + MainSuffix }
func (s *Store) backupPath(id string) string { return s.root + id + BackupSuffix }
func (s *Store) tempPath(id string) string   { return s.root + id + TempSuffix }

// Store encrypts plaintext and atomically replaces the record, rotating
// the previous MAIN into BACKUP. For any interruption at least one of
// MAIN/BACKUP survives with either the new or the previous ciphertext.
func (s *Store) Store(id string, plaintext []byte) error {
	const op = "store.Store"
	if err := s.ready(op); err != nil {
		return err
	}
	if err := ValidateID(id); err != nil {
		return err
	}

	blob, err := s.codec.Seal(s.key, plaintext, []byte(id))
	if err != nil {
		return err
	}

	tmp := s.tempPath(id)
	if err := s.fs.AtomicWrite(tmp, blob); err != nil {
		if derr := s.fs.Delete(tmp); derr != nil {
			s.log.Warn("stage cleanup failed", "id", id, "err", derr)
		}
		return err
	}

	main := s.mainPath(id)
	backup := s.backupPath(id)
	if s.fs.Exists(main) {
		if s.fs.Exists(backup) {
			if derr := s.fs.Delete(backup); derr != nil {
				s.log.Warn("stale backup delete failed", "id", id, "err", derr)
			}
		}
		// Losing the rotation is survivable: the staged file still becomes
		// the new MAIN below.
		if rerr := os.Rename(main, backup); rerr != nil {
			s.log.Warn("backup rotation failed", "id", id, "err", rerr)
		}
	}

	if rerr := os.Rename(tmp, main); rerr != nil {
		if !s.fs.Exists(main) && s.fs.Exists(backup) {
			if rb := os.Rename(backup, main); rb != nil {
				s.log.Warn("rollback of backup failed", "id", id, "err", rb)
			}
		}
		if derr := s.fs.Delete(tmp); derr != nil {
			s.log.Warn("stage cleanup failed", "id", id, "err", derr)
		}
		return secerr.E(secerr.KindFileRenameFailed, op, rerr)
	}

	s.log.Debug("record stored", "id", id, "bytes", len(plaintext))
	return nil
}

// Retrieve decrypts the record. If MAIN is unreadable or fails
// authentication it falls back to BACKUP, and on success heals MAIN by
// rewriting the raw backup ciphertext (original nonce and tag preserved).
func (s *Store) Retrieve(id string) ([]byte, error) {
	const op = "store.Retrieve"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	main := s.mainPath(id)
	raw, readErr := s.fs.ReadAll(main)
	if readErr == nil {
		plain, decErr := s.codec.Open(s.key, raw, []byte(id))
		if decErr == nil {
			return plain, nil
		}
		// MAIN is corrupt; remove it so future reads don't keep tripping
		// over it, then try the backup.
		s.log.Warn("main slot failed authentication", "id", id, "err", decErr)
		if derr := s.fs.Delete(main); derr != nil {
			s.log.Warn("corrupt main delete failed", "id", id, "err", derr)
		}
		return s.recoverFromBackup(op, id, decErr)
	}
	if secerr.Is(readErr, secerr.KindPathNotFound) {
		return s.recoverFromBackup(op, id, nil)
	}
	// MAIN exists but cannot be read (permissions, I/O error). The backup
	// may still be good; readErr is reported if it is not.
	s.log.Warn("main slot unreadable", "id", id, "err", readErr)
	return s.recoverFromBackup(op, id, readErr)
}

// recoverFromBackup reads and decrypts the BACKUP slot. mainErr carries
// MAIN's read or decrypt failure, if MAIN existed; it takes precedence over
// a missing backup so callers see why the current slot was rejected.
func (s *Store) recoverFromBackup(op, id string, mainErr error) ([]byte, error) {
	backupRaw, err := s.fs.ReadAll(s.backupPath(id))
	if err != nil {
		if secerr.Is(err, secerr.KindPathNotFound) {
			if mainErr != nil {
				return nil, mainErr
			}
			return nil, secerr.E(secerr.KindDataNotFound, op, nil)
		}
		return nil, err
	}

	plain, decErr := s.codec.Open(s.key, backupRaw, []byte(id))
	if decErr != nil {
		return nil, decErr
	}

	if err := s.fs.AtomicWrite(s.mainPath(id), backupRaw); err != nil {
		// Recovery succeeded; the heal is opportunistic.
		s.log.Warn("main heal failed", "id", id, "err", err)
	} else {
		s.log.Info("record recovered from backup", "id", id)
	}
	return plain, nil
}

// Delete removes MAIN and BACKUP. Absent slots are not errors; the call is
// idempotent. Stray temp files are left for the next Store to reclaim.
func (s *Store) Delete(id string) error {
	const op = "store.Delete"
	if err := s.ready(op); err != nil {
		return err
	}
	if err := ValidateID(id); err != nil {
		return err
	}

	var firstErr error
	for _, p := range []string{s.mainPath(id), s.backupPath(id)} {
		if err := s.fs.Delete(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Exists reports whether MAIN or BACKUP is present. It does not attempt to
// decrypt, and deliberately counts BACKUP-only records even though List
// excludes them.
func (s *Store) Exists(id string) (bool, error) {
	const op = "store.Exists"
	if err := s.ready(op); err != nil {
		return false, err
	}
	if err := ValidateID(id); err != nil {
		return false, err
	}
	return s.fs.Exists(s.mainPath(id)) || s.fs.Exists(s.backupPath(id)), nil
}

// List enumerates the ids with a MAIN slot, sorted lexicographically.
// BACKUP-only records are excluded; names that do not validate as record
// ids are dropped with a warning.
func (s *Store) List() ([]string, error) {
	const op = "store.List"
	if err := s.ready(op); err != nil {
		return nil, err
	}

	names, err := s.fs.ListRegular(s.root)
	if err != nil {
		return nil, err
	}

	ids := lo.FilterMap(names, func(name string, _ int) (string, bool) {
		if !strings.HasSuffix(name, MainSuffix) {
			return "", false
		}
		id := strings.TrimSuffix(name, MainSuffix)
		if err := ValidateID(id); err != nil {
			s.log.Warn("ignoring unexpected file in storage root", "name", name)
			return "", false
		}
		return id, true
	})
	sort.Strings(ids)
	return ids, nil
}
