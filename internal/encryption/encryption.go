// Package encryption seals exported audit databases before they leave the
// host. Sealing needs only the public key; opening needs the private key,
// which is stored encrypted under a passphrase.
package encryption

import (
	"errors"
	"io"
)

// ErrKeysExist is returned by Setup when key files are already present.
var ErrKeysExist = errors.New("encryption keys already exist")

// Encryptor seals archive payloads.
type Encryptor interface {
	// Setup generates a key pair, writing the public key in plaintext and the
	// private key encrypted with passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key. It fails on a wrong passphrase.
	Unlock(passphrase string) (Decryptor, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool

	// Extension is appended to the names of sealed archive objects.
	Extension() string
}

// Decryptor holds an unlocked private key in memory.
type Decryptor interface {
	Decrypt(r io.Reader, w io.Writer) error
}
