package codec

import (
	"crypto/aes"
	"crypto/cipher"
	crypto_rand "crypto/rand"
	"crypto/sha256"
	"io"
	"sync"
)

const (
	drbgKeyLen  = 32
	drbgSeedLen = drbgKeyLen + aes.BlockSize // key || V
)

// drbg is an AES-256-CTR deterministic random bit generator following the
// NIST SP 800-90A construction. One instance backs one Codec; it is seeded
// exactly once, from OS entropy mixed with the caller's personalization
// string.
type drbg struct {
	mu    sync.Mutex
	block cipher.Block
	v     [aes.BlockSize]byte
}

func newDRBG(personalization []byte) (*drbg, error) {
	seed := make([]byte, drbgSeedLen)
	if _, err := io.ReadFull(crypto_rand.Reader, seed); err != nil {
		return nil, err
	}
	if len(personalization) > 0 {
		ph := sha256.Sum256(personalization)
		for i := range seed {
			seed[i] ^= ph[i%len(ph)]
		}
	}

	d := &drbg{}
	block, err := aes.NewCipher(seed[:drbgKeyLen])
	if err != nil {
		return nil, err
	}
	d.block = block
	copy(d.v[:], seed[drbgKeyLen:])

	// Forward secrecy of the seed material itself.
	d.update()
	for i := range seed {
		seed[i] = 0
	}
	return d, nil
}

func (d *drbg) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ks [aes.BlockSize]byte
	for off := 0; off < len(p); off += aes.BlockSize {
		d.incV()
		d.block.Encrypt(ks[:], d.v[:])
		copy(p[off:], ks[:])
	}
	d.update()
	return len(p), nil
}

// update rolls key and V forward so earlier outputs cannot be reconstructed
// from captured state.
func (d *drbg) update() {
	var next [drbgSeedLen]byte
	for off := 0; off < drbgSeedLen; off += aes.BlockSize {
		d.incV()
		d.block.Encrypt(next[off:off+aes.BlockSize], d.v[:])
	}
	block, err := aes.NewCipher(next[:drbgKeyLen])
	if err != nil {
		// Unreachable: key length is fixed.
		panic(err)
	}
	d.block = block
	copy(d.v[:], next[drbgKeyLen:])
	for i := range next {
		next[i] = 0
	}
}

func (d *drbg) incV() {
	for i := len(d.v) - 1; i >= 0; i-- {
		d.v[i]++
		if d.v[i] != 0 {
			return
		}
	}
}
