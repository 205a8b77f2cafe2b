package crypto

import (
	"errors"
	"testing"
)

func TestCipherRoundTrip(t *testing.T) {
	cipher, err := New("enigma")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, plaintext := range []string{"", "hi", `{"text":"hello world"}`, "exactly16bytes!!"} {
		encrypted, err := cipher.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt %q failed: %v", plaintext, err)
		}
		if encrypted == plaintext && plaintext != "" {
			t.Fatalf("expected ciphertext to differ from plaintext %q", plaintext)
		}
		decrypted, err := cipher.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("decrypt %q failed: %v", encrypted, err)
		}
		if decrypted != plaintext {
			t.Fatalf("expected %q after round trip, got %q", plaintext, decrypted)
		}
	}
}

func TestCipherIsDeterministicPerKey(t *testing.T) {
	first, _ := New("enigma")
	second, _ := New("enigma")
	other, _ := New("another")

	a, _ := first.Encrypt("payload")
	b, _ := second.Encrypt("payload")
	c, _ := other.Encrypt("payload")
	if a != b {
		t.Fatalf("expected identical ciphertext for identical keys, got %q and %q", a, b)
	}
	if a == c {
		t.Fatalf("expected different ciphertext for different keys")
	}
}

func TestCipherMissingKey(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	var cipher *Cipher
	if _, err := cipher.Encrypt("x"); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey from nil cipher, got %v", err)
	}
}

func TestCipherMalformedInput(t *testing.T) {
	cipher, _ := New("enigma")
	cases := []string{"not base64!!", "YWJj", ""}
	for _, input := range cases {
		if _, err := cipher.Decrypt(input); !errors.Is(err, ErrMalformedInput) {
			t.Fatalf("expected ErrMalformedInput for %q, got %v", input, err)
		}
	}

	wrongKey, _ := New("wrong")
	encrypted, _ := cipher.Encrypt("secret message")
	if decrypted, err := wrongKey.Decrypt(encrypted); err == nil && decrypted == "secret message" {
		t.Fatalf("expected wrong key not to recover plaintext")
	}
}
