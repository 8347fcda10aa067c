// Package cryptobox implements the authenticated field codec for sensitive
// photo metadata. Each field is encrypted independently so list views can
// test for the presence of sensitive data without decrypting anything.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
)

const (
	blobVersion = 1
	nonceLen    = 12
)

// ErrMalformed reports a ciphertext blob too short or of an unknown version.
var ErrMalformed = errors.New("cryptobox: malformed ciphertext")

// Codec encrypts and decrypts individual text fields with AES-256-GCM.
// Every Encrypt call draws a fresh random nonce, so encrypting the same
// plaintext twice yields different blobs.
type Codec struct {
	aead cipher.AEAD
}

// New derives an AES-256 key from the secret material with argon2id and
// returns a ready codec. The salt binds the derived key to its purpose;
// callers pass a stable value per store.
func New(secret, salt []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("cryptobox: secret required")
	}
	key := argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals the plaintext into a version-tagged blob: one version byte,
// the 12-byte nonce, then the GCM ciphertext.
func (c *Codec) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	blob := make([]byte, 0, 1+nonceLen+len(plaintext)+c.aead.Overhead())
	blob = append(blob, blobVersion)
	blob = append(blob, nonce...)
	return c.aead.Seal(blob, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *Codec) Decrypt(blob []byte) (string, error) {
	if len(blob) < 1+nonceLen+c.aead.Overhead() {
		return "", ErrMalformed
	}
	if blob[0] != blobVersion {
		return "", ErrMalformed
	}
	nonce := blob[1 : 1+nonceLen]
	plaintext, err := c.aead.Open(nil, nonce, blob[1+nonceLen:], nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Validate runs a canary round-trip. Called at store open and exposed for
// diagnostics.
func (c *Codec) Validate() bool {
	const canary = "photocat-crypto-canary"
	blob, err := c.Encrypt(canary)
	if err != nil {
		return false
	}
	got, err := c.Decrypt(blob)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(canary)) == 1
}
