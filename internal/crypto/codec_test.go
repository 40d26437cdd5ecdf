package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func testSecret() string {
	return strings.Repeat("0b", KeyBytes)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := testSecret()

	cases := []struct {
		name      string
		plaintext string
	}{
		{"short message", "hello"},
		{"empty message", ""},
		{"exact block", strings.Repeat("a", 16)},
		{"multi block", strings.Repeat("the stars align ", 20)},
		{"unicode", "mercury retrograde ahead ✨"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			iv, ciphertext, err := Encrypt([]byte(tc.plaintext), secret)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if len(iv) != IVBytes {
				t.Fatalf("iv is %d bytes, want %d", len(iv), IVBytes)
			}
			if len(ciphertext) == 0 || len(ciphertext)%IVBytes != 0 {
				t.Fatalf("ciphertext length %d is not a positive block multiple", len(ciphertext))
			}

			plaintext, err := Decrypt(ciphertext, secret, iv)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(plaintext, []byte(tc.plaintext)) {
				t.Fatalf("round trip mismatch: got %q, want %q", plaintext, tc.plaintext)
			}
		})
	}
}

func TestEncryptFreshIVPerCall(t *testing.T) {
	secret := testSecret()

	iv1, ct1, err := Encrypt([]byte("same plaintext"), secret)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	iv2, ct2, err := Encrypt([]byte("same plaintext"), secret)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if bytes.Equal(iv1, iv2) {
		t.Fatal("two encryptions reused an IV")
	}
	if bytes.Equal(ct1, ct2) {
		t.Fatal("identical plaintexts produced identical ciphertexts")
	}
}

func TestCodecRejectsBadKeys(t *testing.T) {
	t.Run("short secret", func(t *testing.T) {
		if _, _, err := Encrypt([]byte("x"), "0b0b"); !errors.Is(err, ErrInvalidKeyLength) {
			t.Fatalf("expected ErrInvalidKeyLength, got %v", err)
		}
	})

	t.Run("non-hex secret", func(t *testing.T) {
		if _, _, err := Encrypt([]byte("x"), strings.Repeat("zz", KeyBytes)); !errors.Is(err, ErrInvalidKeyLength) {
			t.Fatalf("expected ErrInvalidKeyLength, got %v", err)
		}
	})

	t.Run("long secret", func(t *testing.T) {
		if _, err := Decrypt(make([]byte, 16), strings.Repeat("0b", KeyBytes+1), make([]byte, IVBytes)); !errors.Is(err, ErrInvalidKeyLength) {
			t.Fatalf("expected ErrInvalidKeyLength, got %v", err)
		}
	})
}

func TestDecryptFailuresAreReported(t *testing.T) {
	secret := testSecret()
	iv, ciphertext, err := Encrypt([]byte("a perfectly ordinary reading"), secret)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	t.Run("wrong secret", func(t *testing.T) {
		other := strings.Repeat("0c", KeyBytes)
		if plaintext, err := Decrypt(ciphertext, other, iv); err == nil {
			// A wrong key can still unpad by accident; it must never
			// reproduce the plaintext.
			if bytes.Equal(plaintext, []byte("a perfectly ordinary reading")) {
				t.Fatal("wrong secret reproduced the plaintext")
			}
		} else if !errors.Is(err, ErrCrypto) {
			t.Fatalf("expected ErrCrypto, got %v", err)
		}
	})

	t.Run("truncated ciphertext", func(t *testing.T) {
		if _, err := Decrypt(ciphertext[:len(ciphertext)-1], secret, iv); !errors.Is(err, ErrCrypto) {
			t.Fatalf("expected ErrCrypto, got %v", err)
		}
	})

	t.Run("empty ciphertext", func(t *testing.T) {
		if _, err := Decrypt(nil, secret, iv); !errors.Is(err, ErrCrypto) {
			t.Fatalf("expected ErrCrypto, got %v", err)
		}
	})

	t.Run("short iv", func(t *testing.T) {
		if _, err := Decrypt(ciphertext, secret, iv[:8]); !errors.Is(err, ErrCrypto) {
			t.Fatalf("expected ErrCrypto, got %v", err)
		}
	})
}

func TestUnpadPKCS7(t *testing.T) {
	if _, err := unpadPKCS7(append(make([]byte, 15), 0), 16); !errors.Is(err, ErrCrypto) {
		t.Fatalf("expected ErrCrypto for zero padding byte, got %v", err)
	}
	if _, err := unpadPKCS7(append(make([]byte, 15), 17), 16); !errors.Is(err, ErrCrypto) {
		t.Fatalf("expected ErrCrypto for oversized padding byte, got %v", err)
	}

	got, err := unpadPKCS7(append([]byte("ab"), bytes.Repeat([]byte{14}, 14)...), 16)
	if err != nil {
		t.Fatalf("unpadPKCS7: %v", err)
	}
	if string(got) != "ab" {
		t.Fatalf("unpadPKCS7 returned %q, want %q", got, "ab")
	}
}
