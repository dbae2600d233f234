// Package keyderive turns a device-bound identity into symmetric key
// material via HKDF with HMAC-SHA-256 (RFC 5869). A Deriver is immutable
// after construction and keeps no other state: the same identity, salt and
// info yield the same key bytes across calls and processes.
package keyderive

import (
	"crypto/sha256"
	"io"
	"unsafe"

	"golang.org/x/crypto/hkdf"

	"github.com/kanakamedala-rajesh/SecureStorage/secerr"
)

// Default salt and info. Compatibility-critical: changing either makes
// every existing record unrecoverable.
const (
	DefaultSalt = "SecureStorage-HKDF-Salt-v1"
	DefaultInfo = "SecureStorage-HKDF-Info-v1"
)

type Deriver struct {
	identity []byte
	salt     []byte
	info     []byte
}

type Option func(*Deriver)

// WithSalt overrides the extraction salt.
func WithSalt(salt []byte) Option {
	return func(d *Deriver) {
		d.salt = append([]byte(nil), salt...)
	}
}

// WithInfo overrides the expansion info string, separating keys per
// application context.
func WithInfo(info []byte) Option {
	return func(d *Deriver) {
		d.info = append([]byte(nil), info...)
	}
}

func New(identity []byte, opts ...Option) (*Deriver, error) {
	if len(identity) == 0 {
		return nil, secerr.E(secerr.KindInvalidArgument, "keyderive.New", nil)
	}
	d := &Deriver{
		identity: append([]byte(nil), identity...),
		salt:     []byte(DefaultSalt),
		info:     []byte(DefaultInfo),
	}
	for _, fn := range opts {
		fn(d)
	}
	return d, nil
}

// Key derives length bytes of key material.
func (d *Deriver) Key(length int) ([]byte, error) {
	if length <= 0 {
		return nil, secerr.E(secerr.KindInvalidArgument, "keyderive.Key", nil)
	}
	out := make([]byte, length)
	r := hkdf.New(sha256.New, d.identity, d.salt, d.info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, secerr.E(secerr.KindKeyDerivationFailed, "keyderive.Key", err)
	}
	return out, nil
}

//go:linkname memclrNoHeapPointers runtime.memclrNoHeapPointers
//go:noescape
func memclrNoHeapPointers(ptr unsafe.Pointer, len uintptr)

// Wipe zeroes a byte slice holding key material. It uses the runtime's
// non-optimizable memory clear so the write cannot be elided.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}

	memclrNoHeapPointers(unsafe.Pointer(&b[0]), uintptr(len(b)))
}
