// Package secerr defines the result taxonomy shared by every component of
// the library. Errors carry a Kind from a closed enumeration plus an
// operation label and an optional wrapped cause, so callers can switch on
// the category while errors.Is/As still reach the underlying error. A nil
// error is success; there is no success kind.
package secerr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error. The set is closed; new kinds are a breaking
// change for callers that switch exhaustively.
type Kind int

const (
	KindUnknown Kind = iota

	// Argument / state.
	KindInvalidArgument
	KindNotInitialized
	KindOperationFailed

	// Filesystem.
	KindFileOpenFailed
	KindFileReadFailed
	KindFileWriteFailed
	KindFileRemoveFailed
	KindFileRenameFailed
	KindPathNotFound
	KindAccessDenied

	// Cryptography.
	KindEncryptionFailed
	KindDecryptionFailed
	KindAuthenticationFailed
	KindKeyDerivationFailed
	KindInvalidKey
	KindInvalidIV
	KindCryptoLibraryError

	// Storage semantics.
	KindDataNotFound
	KindDataAlreadyExists
	KindSerializationFailed
	KindDeserializationFailed

	// Watcher.
	KindWatcherStartFailed
	KindWatcherReadFailed
	KindFileTampered
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown error",
	KindInvalidArgument:       "invalid argument",
	KindNotInitialized:        "not initialized",
	KindOperationFailed:       "operation failed",
	KindFileOpenFailed:        "file open failed",
	KindFileReadFailed:        "file read failed",
	KindFileWriteFailed:       "file write failed",
	KindFileRemoveFailed:      "file remove failed",
	KindFileRenameFailed:      "file rename failed",
	KindPathNotFound:          "path not found",
	KindAccessDenied:          "access denied",
	KindEncryptionFailed:      "encryption failed",
	KindDecryptionFailed:      "decryption failed",
	KindAuthenticationFailed:  "authentication failed",
	KindKeyDerivationFailed:   "key derivation failed",
	KindInvalidKey:            "invalid key",
	KindInvalidIV:             "invalid iv",
	KindCryptoLibraryError:    "crypto library error",
	KindDataNotFound:          "data not found",
	KindDataAlreadyExists:     "data already exists",
	KindSerializationFailed:   "serialization failed",
	KindDeserializationFailed: "deserialization failed",
	KindWatcherStartFailed:    "watcher start failed",
	KindWatcherReadFailed:     "watcher read failed",
	KindFileTampered:          "file tampered",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the concrete error type returned by the library.
type Error struct {
	Kind Kind
	Op   string // "store.Retrieve" style
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return e.Op + ": " + e.Kind.String()
	case e.Op == "":
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error. err may be nil.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef builds an *Error with a formatted cause.
func Ef(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err, walking the wrap chain. Foreign errors
// report KindUnknown, and so does nil: callers check err for nil first.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
