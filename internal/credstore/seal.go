package credstore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of the raw store key in bytes.
const KeySize = 32

// ErrDecrypt is returned when a stored value cannot be authenticated, which
// happens when the store key changed or the value was tampered with.
var ErrDecrypt = errors.New("credstore: cannot decrypt stored value")

// Sealer encrypts individual entries with XChaCha20-Poly1305. The entry name
// and namespace are bound as additional data, so an access token ciphertext
// cannot be swapped into the refresh token slot.
type Sealer struct {
	namespace string
	key       []byte
}

// NewSealer derives a per-namespace key from secret with HKDF-SHA256.
func NewSealer(secret []byte, namespace string) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("credstore: empty store key")
	}

	if namespace == "" {
		namespace = DefaultNamespace
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("credstore:"+namespace)), key); err != nil {
		return nil, fmt.Errorf("credstore: deriving key: %w", err)
	}

	return &Sealer{namespace: namespace, key: key}, nil
}

// Namespace returns the namespace the sealer is bound to.
func (s *Sealer) Namespace() string {
	return s.namespace
}

// Seal encrypts value for the named entry and returns base64 text.
func (s *Sealer) Seal(name, value string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("credstore: cipher init: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credstore: generating nonce: %w", err)
	}

	out := aead.Seal(nonce, nonce, []byte(value), s.additionalData(name))

	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(name, sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrDecrypt, name, err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("credstore: cipher init: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("%w: %s: value too short", ErrDecrypt, name)
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, ciphertext, s.additionalData(name))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDecrypt, name)
	}

	return string(plain), nil
}

func (s *Sealer) additionalData(name string) []byte {
	return []byte(s.namespace + "/" + name)
}

// sealEntries encrypts every entry. Empty values stay empty so that an
// absent access token round-trips as absent.
func (s *Sealer) sealEntries(entries map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(entries))

	for name, value := range entries {
		if value == "" {
			continue
		}

		sealed, err := s.Seal(name, value)
		if err != nil {
			return nil, err
		}

		out[name] = sealed
	}

	return out, nil
}

func (s *Sealer) openEntries(entries map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(entries))

	for name, sealed := range entries {
		if sealed == "" {
			continue
		}

		value, err := s.Open(name, sealed)
		if err != nil {
			return nil, err
		}

		out[name] = value
	}

	return out, nil
}

// LoadOrCreateKey reads the raw store key at path, generating and persisting
// a random one (0600) on first use.
func LoadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != KeySize {
			return nil, fmt.Errorf("credstore: key file %s has %d bytes, want %d", path, len(data), KeySize)
		}

		return data, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("credstore: reading key file %s: %w", path, err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("credstore: generating key: %w", err)
	}

	if err := writeFileAtomic(path, key, ".key-*.tmp"); err != nil {
		return nil, err
	}

	return key, nil
}
