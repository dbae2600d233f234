// Package securestorage provides durable, authenticated at-rest storage of
// opaque binary blobs on a single local device. Records are encrypted with
// AES-256-GCM under a key derived (HKDF-SHA-256) from a device-bound
// identity; nothing secret is ever persisted. Writes are crash-safe via
// atomic replace with a one-slot backup, and a background watcher reports
// filesystem changes to the storage root.
//
// The facade composes the keyderive, codec, fsio, store and watcher
// packages; embedders with unusual needs can use those directly.
package securestorage

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/kanakamedala-rajesh/SecureStorage/identity"
	"github.com/kanakamedala-rajesh/SecureStorage/keyderive"
	"github.com/kanakamedala-rajesh/SecureStorage/logging"
	"github.com/kanakamedala-rajesh/SecureStorage/secerr"
	"github.com/kanakamedala-rajesh/SecureStorage/store"
	"github.com/kanakamedala-rajesh/SecureStorage/watcher"
)

// Options configures a SecureStorage instance. Root and Identity are
// required; Sink and Logger are optional.
type Options struct {
	// Root is the storage directory. It is created if missing and must be
	// writable.
	Root string

	// Identity supplies the device-bound identity the master key is
	// derived from. The same device must yield the same identity across
	// reboots or prior records become unrecoverable.
	Identity identity.Provider

	// Sink, if set, receives watcher events for the storage root. It runs
	// on the watcher's monitor goroutine and must not call Close.
	Sink watcher.Sink

	// Logger for all components. Nil discards.
	Logger *slog.Logger

	// Info optionally overrides the HKDF info string for key separation
	// between application contexts sharing one device identity.
	Info []byte
}

// SecureStorage is the user-facing handle. It is not internally
// concurrent: callers serialize blob operations. Close is safe from any
// goroutine except the event sink.
type SecureStorage struct {
	log     *slog.Logger
	store   *store.Store
	watcher *watcher.Watcher

	watcherActive bool
	closed        bool
}

// New opens the store and starts the watcher on the storage root.
// Construction fails when the identity cannot be obtained or the blob
// store fails to initialize; a watcher failure only clears WatcherActive.
func New(opts Options) (*SecureStorage, error) {
	const op = "securestorage.New"

	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	if opts.Identity == nil {
		return nil, secerr.Ef(secerr.KindInvalidArgument, op, "nil identity provider")
	}
	ident, err := opts.Identity.Identity()
	if err != nil {
		return nil, err
	}
	if len(ident) == 0 {
		return nil, secerr.Ef(secerr.KindInvalidArgument, op, "empty device identity")
	}

	var kdOpts []keyderive.Option
	if len(opts.Info) > 0 {
		kdOpts = append(kdOpts, keyderive.WithInfo(opts.Info))
	}
	deriver, err := keyderive.New(ident, kdOpts...)
	keyderive.Wipe(ident)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(opts.Root, deriver, store.WithLogger(logging.ForComponent(log, "store")))
	if err != nil {
		return nil, err
	}

	s := &SecureStorage{
		log:   log,
		store: st,
		watcher: watcher.New(
			watcher.WithLogger(logging.ForComponent(log, "watcher")),
			watcher.WithSink(opts.Sink),
		),
	}

	watchPath := strings.TrimSuffix(st.Root(), string(filepath.Separator))
	if err := s.watcher.Start(); err != nil {
		log.Warn("watcher unavailable", "err", err)
	} else if err := s.watcher.AddWatch(watchPath); err != nil {
		log.Warn("watch on storage root failed", "path", watchPath, "err", err)
		_ = s.watcher.Stop()
	} else {
		s.watcherActive = true
	}

	return s, nil
}

// Store encrypts plaintext and durably writes it under id.
func (s *SecureStorage) Store(id string, plaintext []byte) error {
	if s.closed {
		return secerr.E(secerr.KindNotInitialized, "securestorage.Store", nil)
	}
	return s.store.Store(id, plaintext)
}

// Retrieve decrypts the record stored under id, recovering from the backup
// slot when the main slot is missing or tampered.
func (s *SecureStorage) Retrieve(id string) ([]byte, error) {
	if s.closed {
		return nil, secerr.E(secerr.KindNotInitialized, "securestorage.Retrieve", nil)
	}
	return s.store.Retrieve(id)
}

// Delete removes the record. Deleting an absent record succeeds.
func (s *SecureStorage) Delete(id string) error {
	if s.closed {
		return secerr.E(secerr.KindNotInitialized, "securestorage.Delete", nil)
	}
	return s.store.Delete(id)
}

// Exists reports whether the main or backup slot for id is present on disk.
func (s *SecureStorage) Exists(id string) (bool, error) {
	if s.closed {
		return false, secerr.E(secerr.KindNotInitialized, "securestorage.Exists", nil)
	}
	return s.store.Exists(id)
}

// List returns the sorted ids currently carrying a main slot.
func (s *SecureStorage) List() ([]string, error) {
	if s.closed {
		return nil, secerr.E(secerr.KindNotInitialized, "securestorage.List", nil)
	}
	return s.store.List()
}

// WatcherActive reports whether the storage root is being watched.
// Storage remains fully functional when this is false.
func (s *SecureStorage) WatcherActive() bool {
	return s.watcherActive && !s.closed
}

// Close stops the watcher, joining its monitor goroutine, then wipes the
// master key. Every later operation reports NotInitialized. Close is
// idempotent.
func (s *SecureStorage) Close() error {
	if s.closed {
		return nil
	}
	err := s.watcher.Stop()
	s.watcherActive = false
	s.store.Close()
	s.closed = true
	return err
}
