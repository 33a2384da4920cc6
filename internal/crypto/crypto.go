// Package crypto is the encryption-at-rest service: it turns plaintext
// uploads into the ".enc" ciphertext blobs held under the storage root.
// Encryption uses the public key only; decryption requires a passphrase to
// unlock the private key for the session.
package crypto

import (
	"io"

	"pocketcloud/internal/config"

	"fmt"
)

// MaxOverhead is the fixed allowance, in bytes, by which an encrypted blob
// may exceed its recorded plaintext size: format header, key wrapping, and
// per-chunk authentication tags. The corruption detector treats any blob
// outside [size, size+MaxOverhead] as implausible.
const MaxOverhead = 1024

// Encryptor encrypts payload files and unlocks decryption sessions.
type Encryptor interface {
	// Setup performs one-time key generation.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	// Uses the public key only, no passphrase required.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase and returns a
	// DecryptionContext for the duration of the session.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the duration
// of a session. The unlocked key is never written to disk.
type DecryptionContext interface {
	// Decrypt decrypts data read from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(cfg config.CryptoConfig) (Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown crypto type: %q", cfg.Type)
	}
}
