// Package envelope implements the AEAD protection applied to frame payloads:
// AES-256-GCM with a fresh 96-bit IV per message and a detached 128-bit tag.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// IVSize is the GCM nonce length.
	IVSize = 12
	// TagSize is the GCM tag length.
	TagSize = 16

	// CodeDecryptFailed is the diagnostic code reported on authentication failure.
	CodeDecryptFailed = "cra-aks-008-02"
	// CodeInvalidKey is the diagnostic code reported for unusable key material.
	CodeInvalidKey = "cra-aks-008-03"
)

var (
	// ErrDecryptFailed is returned when a payload fails authentication or is malformed.
	ErrDecryptFailed = errors.New("payload decryption failed")
	// ErrInvalidKey is returned for key material that is not a 256-bit key.
	ErrInvalidKey = errors.New("invalid symmetric key")
)

// Envelope seals and opens frame payloads with a shared symmetric key.
// It is safe for concurrent use.
type Envelope struct {
	mu   sync.RWMutex
	aead cipher.AEAD
}

// New returns an Envelope for a 32-byte key.
func New(key []byte) (*Envelope, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return &Envelope{aead: aead}, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, oops.Code(CodeInvalidKey).Wrapf(ErrInvalidKey, "need %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, oops.Code(CodeInvalidKey).Wrapf(err, "creating AES cipher")
	}
	aead, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		return nil, oops.Code(CodeInvalidKey).Wrapf(err, "creating GCM")
	}
	return aead, nil
}

// SetKey replaces the key used for subsequent Seal and Open calls. Messages
// already in flight under the old key will fail to open.
func (e *Envelope) SetKey(key []byte) error {
	aead, err := newAEAD(key)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.aead = aead
	e.mu.Unlock()
	log.WithField("at", "(Envelope) SetKey").Debug("symmetric key installed")
	return nil
}

// Seal encrypts plaintext and returns the random IV, the detached tag and the
// ciphertext, which has the same length as plaintext.
func (e *Envelope) Seal(plaintext []byte) (iv, tag, ciphertext []byte, err error) {
	iv = make([]byte, IVSize)
	if _, err = rand.Read(iv); err != nil {
		return nil, nil, nil, oops.Wrapf(err, "generating iv")
	}

	e.mu.RLock()
	sealed := e.aead.Seal(nil, iv, plaintext, nil)
	e.mu.RUnlock()

	split := len(sealed) - TagSize
	ciphertext = sealed[:split:split]
	tag = sealed[split:]
	return iv, tag, ciphertext, nil
}

// Open authenticates and decrypts ciphertext. Any failure yields ErrDecryptFailed
// and no plaintext.
func (e *Envelope) Open(iv, tag, ciphertext []byte) ([]byte, error) {
	if len(iv) != IVSize || len(tag) != TagSize {
		return nil, oops.Code(CodeDecryptFailed).Wrapf(ErrDecryptFailed,
			"iv/tag of %d/%d bytes, want %d/%d", len(iv), len(tag), IVSize, TagSize)
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	e.mu.RLock()
	plain, err := e.aead.Open(nil, iv, sealed, nil)
	e.mu.RUnlock()
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "(Envelope) Open",
			"length": len(ciphertext),
		}).Debug("payload authentication failed")
		return nil, oops.Code(CodeDecryptFailed).Wrapf(ErrDecryptFailed, "%s", err.Error())
	}
	if plain == nil {
		plain = []byte{}
	}
	return plain, nil
}

// DecodeKey decodes a base64 (standard alphabet) 256-bit key.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, oops.Code(CodeInvalidKey).Wrapf(ErrInvalidKey, "base64: %s", err.Error())
	}
	if len(key) != KeySize {
		return nil, oops.Code(CodeInvalidKey).Wrapf(ErrInvalidKey, "need %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
