package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/scrypt"

	"github.com/sunnypayments/core/internal/domain"
)

const (
	saltLen = 64
	ivLen   = 16
	tagLen  = 16
	keyLen  = 32

	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// Store keeps rail credentials encrypted at rest, one `<name>.enc` file per
// secret laid out as salt(64) || iv(16) || tag(16) || ciphertext. Each secret
// gets its own key derived from the master key and a fresh salt.
type Store struct {
	dir           string
	masterKeyPath string
	masterKey     []byte
	log           *zap.Logger
}

func NewStore(dir, masterKeyPath string, log *zap.Logger) *Store {
	return &Store{
		dir:           dir,
		masterKeyPath: masterKeyPath,
		log:           log,
	}
}

// Initialize ensures the secret directory and master key exist, generating
// the master key on first run.
func (s *Store) Initialize() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create secret dir: %w", err)
	}

	key, err := os.ReadFile(s.masterKeyPath)
	if errors.Is(err, os.ErrNotExist) {
		key = make([]byte, keyLen)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("failed to generate master key: %w", err)
		}
		if err := os.WriteFile(s.masterKeyPath, key, 0o600); err != nil {
			return fmt.Errorf("failed to write master key: %w", err)
		}
		s.log.Info("Generated new master key", zap.String("path", s.masterKeyPath))
	} else if err != nil {
		return fmt.Errorf("failed to read master key: %w", err)
	}

	if len(key) != keyLen {
		return fmt.Errorf("master key must be %d bytes, got %d", keyLen, len(key))
	}

	s.masterKey = key
	return nil
}

// Encrypt derives a per-secret key and persists the sealed secret.
func (s *Store) Encrypt(name string, plaintext []byte) error {
	if err := validateName(name); err != nil {
		return err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("failed to generate iv: %w", err)
	}

	gcm, err := s.cipherFor(salt)
	if err != nil {
		return err
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	buf := make([]byte, 0, saltLen+ivLen+tagLen+len(ciphertext))
	buf = append(buf, salt...)
	buf = append(buf, iv...)
	buf = append(buf, tag...)
	buf = append(buf, ciphertext...)

	if err := os.WriteFile(s.path(name), buf, 0o600); err != nil {
		return fmt.Errorf("failed to persist secret: %w", err)
	}

	s.log.Info("Secret stored", zap.String("name", name))
	return nil
}

// Decrypt reads and opens a stored secret. A tag that does not verify
// (tampered file or wrong master key) fails with ErrSecretAuthFailed and
// never yields plaintext.
func (s *Store) Decrypt(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSecretNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	if len(data) < saltLen+ivLen+tagLen {
		return nil, fmt.Errorf("%w: %s", domain.ErrSecretAuthFailed, name)
	}

	salt := data[:saltLen]
	iv := data[saltLen : saltLen+ivLen]
	tag := data[saltLen+ivLen : saltLen+ivLen+tagLen]
	ciphertext := data[saltLen+ivLen+tagLen:]

	gcm, err := s.cipherFor(salt)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+tagLen)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSecretAuthFailed, name)
	}

	return plaintext, nil
}

// ListSecrets enumerates stored secret names only, never content.
func (s *Store) ListSecrets() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".enc") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".enc"))
	}
	return names, nil
}

// Credential implements ports.CredentialSource.
func (s *Store) Credential(_ context.Context, name string) (string, error) {
	plaintext, err := s.Decrypt(name)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (s *Store) cipherFor(salt []byte) (cipher.AEAD, error) {
	if s.masterKey == nil {
		return nil, fmt.Errorf("secret store not initialized")
	}

	key, err := scrypt.Key(s.masterKey, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init failed: %w", err)
	}

	// 16-byte nonces to match the stored iv width.
	return cipher.NewGCMWithNonceSize(block, ivLen)
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".enc")
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid secret name: %q", name)
	}
	return nil
}
