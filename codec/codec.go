// Package codec implements the authenticated encryption layer: AES-256-GCM
// over a self-framing blob layout of nonce || ciphertext || tag. Every blob
// is exactly Overhead bytes longer than its plaintext; empty plaintext is
// legal.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"io"
	"log/slog"

	"github.com/kanakamedala-rajesh/SecureStorage/logging"
	"github.com/kanakamedala-rajesh/SecureStorage/secerr"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16

	// Overhead is the minimum legal blob size; a blob this long carries an
	// empty plaintext.
	Overhead = NonceSize + TagSize
)

// Codec seals and opens framed blobs. Nonces come from a per-instance
// CTR-DRBG seeded once at construction; if seeding fails the codec is
// permanently uninitialized and every call fails fast.
type Codec struct {
	rng     io.Reader
	log     *slog.Logger
	initErr error
}

type Option func(*Codec)

func WithLogger(l *slog.Logger) Option {
	return func(c *Codec) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a codec whose nonce source is personalized with the given
// string. The returned codec is non-nil even on error, with the failure
// latched: callers that ignore the error get NotInitialized from every
// Seal/Open.
func New(personalization string, opts ...Option) (*Codec, error) {
	c := &Codec{log: logging.Nop()}
	for _, fn := range opts {
		fn(c)
	}

	rng, err := newDRBG([]byte(personalization))
	if err != nil {
		c.initErr = secerr.E(secerr.KindCryptoLibraryError, "codec.New", err)
		c.log.Error("codec seed failed", "err", err)
		return c, c.initErr
	}
	c.rng = rng

	if err := c.selfTest(); err != nil {
		c.initErr = err
		c.log.Error("codec self-test failed", "err", err)
		return c, c.initErr
	}
	return c, nil
}

// selfTest runs one seal/open round-trip against a throwaway key so a
// broken primitive is caught at construction, not at first use.
func (c *Codec) selfTest() error {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(c.rng, key); err != nil {
		return secerr.E(secerr.KindCryptoLibraryError, "codec.selfTest", err)
	}
	plain := []byte("codec self test")
	blob, err := c.Seal(key, plain, nil)
	if err != nil {
		return err
	}
	got, err := c.Open(key, blob, nil)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, plain) {
		return secerr.Ef(secerr.KindCryptoLibraryError, "codec.selfTest", "round-trip mismatch")
	}
	return nil
}

// Seal encrypts plaintext under key, binding aad, and returns the framed
// blob nonce || ciphertext || tag.
func (c *Codec) Seal(key, plaintext, aad []byte) ([]byte, error) {
	const op = "codec.Seal"
	if c.initErr != nil {
		return nil, secerr.E(secerr.KindNotInitialized, op, c.initErr)
	}
	if len(key) != KeySize {
		return nil, secerr.Ef(secerr.KindInvalidKey, op, "key length %d", len(key))
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, secerr.E(secerr.KindCryptoLibraryError, op, err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(c.rng, out[:NonceSize]); err != nil {
		return nil, secerr.E(secerr.KindEncryptionFailed, op, err)
	}

	return aead.Seal(out, out[:NonceSize], plaintext, aad), nil
}

// Open verifies and decrypts a framed blob. A tag mismatch reports
// AuthenticationFailed; a short blob reports InvalidArgument.
func (c *Codec) Open(key, blob, aad []byte) ([]byte, error) {
	const op = "codec.Open"
	if c.initErr != nil {
		return nil, secerr.E(secerr.KindNotInitialized, op, c.initErr)
	}
	if len(key) != KeySize {
		return nil, secerr.Ef(secerr.KindInvalidKey, op, "key length %d", len(key))
	}
	if len(blob) < Overhead {
		return nil, secerr.Ef(secerr.KindInvalidArgument, op, "blob too short (%d bytes)", len(blob))
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, secerr.E(secerr.KindCryptoLibraryError, op, err)
	}

	nonce := blob[:NonceSize]
	ct := blob[NonceSize:]
	plain, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, secerr.E(secerr.KindAuthenticationFailed, op, err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
