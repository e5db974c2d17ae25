package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/sunnypayments/core/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	s := NewStore(filepath.Join(dir, "secrets"), filepath.Join(dir, "master.key"), logger)
	if err := s.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return s
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	plaintexts := [][]byte{
		[]byte("acquirer-key-123"),
		[]byte(""),
		[]byte("multi\nline\nvalue with spaces"),
	}

	for _, want := range plaintexts {
		if err := s.Encrypt("bank_primary", want); err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		got, err := s.Decrypt("bank_primary")
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if string(got) != string(want) {
			t.Errorf("round trip mismatch: got %q, want %q", got, want)
		}
	}
}

func TestDecrypt_TamperedCiphertextFails(t *testing.T) {
	s := newTestStore(t)

	if err := s.Encrypt("tampered", []byte("sensitive")); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	path := filepath.Join(s.dir, "tampered.enc")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read secret file: %v", err)
	}

	// Flip one ciphertext bit; the tag must no longer verify.
	data[len(data)-1] ^= 0x01
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write tampered file: %v", err)
	}

	_, err = s.Decrypt("tampered")
	if !errors.Is(err, domain.ErrSecretAuthFailed) {
		t.Errorf("expected ErrSecretAuthFailed, got %v", err)
	}
}

func TestDecrypt_TamperedTagFails(t *testing.T) {
	s := newTestStore(t)

	if err := s.Encrypt("tag", []byte("sensitive")); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	path := filepath.Join(s.dir, "tag.enc")
	data, _ := os.ReadFile(path)
	data[saltLen+ivLen] ^= 0xFF // first tag byte
	os.WriteFile(path, data, 0o600)

	if _, err := s.Decrypt("tag"); !errors.Is(err, domain.ErrSecretAuthFailed) {
		t.Errorf("expected ErrSecretAuthFailed, got %v", err)
	}
}

func TestDecrypt_MissingSecret(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Decrypt("never-stored")
	if !errors.Is(err, domain.ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestFileLayout(t *testing.T) {
	s := newTestStore(t)

	plaintext := []byte("layout-check")
	if err := s.Encrypt("layout", plaintext); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, "layout.enc"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := saltLen + ivLen + tagLen + len(plaintext); len(data) != want {
		t.Errorf("file length = %d, want %d (salt+iv+tag+ciphertext)", len(data), want)
	}
}

func TestListSecrets_NamesOnly(t *testing.T) {
	s := newTestStore(t)

	s.Encrypt("alpha", []byte("a"))
	s.Encrypt("beta", []byte("b"))

	names, err := s.ListSecrets()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d", len(names))
	}
	for _, n := range names {
		if n != "alpha" && n != "beta" {
			t.Errorf("unexpected name %q", n)
		}
	}
}

func TestValidateName_RejectsTraversal(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"", "../etc/passwd", "a/b", `a\b`} {
		if err := s.Encrypt(name, []byte("x")); err == nil {
			t.Errorf("expected error for name %q", name)
		}
	}
}

func TestInitialize_MasterKeyPersists(t *testing.T) {
	dir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	keyPath := filepath.Join(dir, "master.key")

	s1 := NewStore(filepath.Join(dir, "secrets"), keyPath, logger)
	if err := s1.Initialize(); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	if err := s1.Encrypt("persist", []byte("value")); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// A second store over the same paths must decrypt with the same key.
	s2 := NewStore(filepath.Join(dir, "secrets"), keyPath, logger)
	if err := s2.Initialize(); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	got, err := s2.Decrypt("persist")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != "value" {
		t.Errorf("got %q, want %q", got, "value")
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat master key: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("master key mode = %v, want 0600", info.Mode().Perm())
	}
}
