package sensorcache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionNonceSize is the nonce size for AES-GCM
	EncryptionNonceSize = 12
	// EncryptionKeySize is the AES-256 key size
	EncryptionKeySize = 32
	// MinSaltSize is the shortest salt accepted for password derivation
	MinSaltSize = 16
	// PBKDF2Iterations is the number of iterations for key derivation
	PBKDF2Iterations = 100000
)

// EncryptionConfig configures encryption of cached values at rest.
type EncryptionConfig struct {
	// Enabled turns on encryption for new values
	Enabled bool `yaml:"enabled"`
	// Key is a hex-encoded 32 byte AES-256 key.
	// If empty, Password and Salt are used to derive a key
	Key string `yaml:"key"`
	// Password is used to derive the encryption key via PBKDF2
	Password string `yaml:"password"`
	// Salt for key derivation. It must stay the same for values to remain
	// readable.
	Salt string `yaml:"salt"`
}

// Encryptor provides encryption/decryption for encoded values.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates a new encryptor from a key or password. It returns nil
// when encryption is disabled.
func NewEncryptor(cfg EncryptionConfig) (*Encryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch {
	case cfg.Key != "":
		key, err := hex.DecodeString(cfg.Key)
		if err != nil {
			return nil, errors.New("encryption key must be hex encoded")
		}
		return NewEncryptorWithKey(key)
	case cfg.Password != "":
		return NewEncryptorWithPassword(cfg.Password, []byte(cfg.Salt))
	default:
		return nil, errors.New("encryption enabled but no key or password provided")
	}
}

// NewEncryptorWithPassword derives the key from password and salt.
func NewEncryptorWithPassword(password string, salt []byte) (*Encryptor, error) {
	if len(salt) < MinSaltSize {
		return nil, errors.New("encryption salt must be at least 16 bytes")
	}
	key := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
	return NewEncryptorWithKey(key)
}

// NewEncryptorWithKey creates an encryptor with a raw key.
func NewEncryptorWithKey(key []byte) (*Encryptor, error) {
	if len(key) != EncryptionKeySize {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Encryptor{gcm: gcm}, nil
}

// Encrypt encrypts plaintext and returns ciphertext with prepended nonce.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, EncryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext (with prepended nonce) and returns plaintext.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < EncryptionNonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:EncryptionNonceSize]
	return e.gcm.Open(nil, nonce, ciphertext[EncryptionNonceSize:], nil)
}
