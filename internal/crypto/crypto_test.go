// Package crypto tests for encryption and key derivation functionality.
package crypto

import (
	"bytes"
	"errors"
	"testing"
)

// TestSealOpen_roundtrip verifies basic encryption and decryption.
func TestSealOpen_roundtrip(t *testing.T) {
	plaintext := []byte(`{"meals":[],"weights":[]}`)

	sealed, err := Seal(plaintext, "correct horse")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !IsSealed(sealed) {
		t.Error("Seal() output should carry the header")
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("Seal() output contains the plaintext")
	}

	opened, err := Open(sealed, "correct horse")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}
}

// TestSeal_uniqueOutput verifies each seal uses a fresh salt and nonce.
func TestSeal_uniqueOutput(t *testing.T) {
	a, _ := Seal([]byte("same"), "key")
	b, _ := Seal([]byte("same"), "key")
	if bytes.Equal(a, b) {
		t.Error("Seal() produced identical output twice")
	}
}

// TestOpen_wrongPassphrase verifies authentication failures.
func TestOpen_wrongPassphrase(t *testing.T) {
	sealed, err := Seal([]byte("secret"), "right")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	if _, err := Open(sealed, "wrong"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open() with wrong passphrase error = %v, want ErrInvalidCiphertext", err)
	}
}

// TestOpen_tampered verifies that header and body are authenticated.
func TestOpen_tampered(t *testing.T) {
	sealed, _ := Seal([]byte("secret"), "key")

	body := append([]byte(nil), sealed...)
	body[len(body)-1] ^= 0xff
	if _, err := Open(body, "key"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open() of a tampered body error = %v", err)
	}

	salt := append([]byte(nil), sealed...)
	salt[len(magic)] ^= 0xff
	if _, err := Open(salt, "key"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open() of a tampered salt error = %v", err)
	}

	if _, err := Open([]byte("FSB1short"), "key"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open() of truncated data error = %v", err)
	}
	if _, err := Open([]byte("plain gzip"), "key"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open() of unsealed data error = %v", err)
	}
}

// TestEmptyPassphrase verifies the key requirement.
func TestEmptyPassphrase(t *testing.T) {
	if _, err := Seal([]byte("x"), ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Seal() with empty passphrase error = %v, want ErrInvalidKey", err)
	}
	sealed, _ := Seal([]byte("x"), "key")
	if _, err := Open(sealed, ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Open() with empty passphrase error = %v, want ErrInvalidKey", err)
	}
}

// TestDeriveKey verifies determinism and length.
func TestDeriveKey(t *testing.T) {
	salt := bytes.Repeat([]byte{1}, saltSize)
	k1, err := DeriveKey("pass", salt)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	k2, _ := DeriveKey("pass", salt)
	if len(k1) != keySize || !bytes.Equal(k1, k2) {
		t.Error("DeriveKey() should be deterministic and 32 bytes")
	}
	k3, _ := DeriveKey("other", salt)
	if bytes.Equal(k1, k3) {
		t.Error("DeriveKey() should depend on the passphrase")
	}
}
