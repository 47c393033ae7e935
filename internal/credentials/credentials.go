// Package credentials keeps the token used to authenticate replayed
// operations encrypted at rest in the data directory.
// Uses AES-256-GCM with a key derived from a machine identifier.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// FileName is the encrypted token file created inside the data directory.
const FileName = "token.enc"

const defaultMachineID = "offline-default-machine"

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the key is not 32 bytes.
	ErrInvalidKey = errors.New("invalid key")
)

// DeriveKey derives a 32-byte key from a machine identifier with HKDF-SHA256.
// An empty identifier falls back to a fixed default.
func DeriveKey(machineID string) []byte {
	if machineID == "" {
		machineID = defaultMachineID
	}
	r := hkdf.New(sha256.New, []byte(machineID), []byte("offline-credentials"), []byte("auth-token"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails after 255 blocks.
		panic(err)
	}
	return key
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func Encrypt(plaintext, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(ciphertext string, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(data) < gcm.NonceSize() {
		return nil, ErrInvalidCiphertext
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// Store reads and writes the encrypted token file.
type Store struct {
	path string
	key  []byte
	mu   sync.Mutex
}

// NewStore returns a Store for dataDir/FileName keyed by machineID.
func NewStore(dataDir, machineID string) *Store {
	return &Store{
		path: filepath.Join(dataDir, FileName),
		key:  DeriveKey(machineID),
	}
}

// Path returns the token file path.
func (s *Store) Path() string { return s.path }

// Save encrypts and writes token, replacing any previous one.
func (s *Store) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	sealed, err := Encrypt([]byte(token), s.key)
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sealed), 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace token: %w", err)
	}
	return nil
}

// Load returns the stored token, or "" when none is saved.
func (s *Store) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	plaintext, err := Decrypt(strings.TrimSpace(string(data)), s.key)
	if err != nil {
		return "", fmt.Errorf("decrypt token: %w", err)
	}
	return string(plaintext), nil
}

// Clear deletes the stored token. Clearing an absent token is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// Token reads the current token on every call, so a token saved while the
// daemon runs is picked up by the next submission.
func (s *Store) Token(context.Context) (string, error) {
	return s.Load()
}
