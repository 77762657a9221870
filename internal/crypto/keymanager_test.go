package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("super-secret-api-key", "hunter2")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}

	got, err := DecryptSecret(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if got != "super-secret-api-key" {
		t.Fatalf("got %q", got)
	}

	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Fatalf("wrong password must fail")
	}
}

func TestEncryptSecretRejectsEmptyInputs(t *testing.T) {
	if _, err := EncryptSecret("", "pw"); err == nil {
		t.Fatalf("empty secret must error")
	}
	if _, err := EncryptSecret("s", ""); err == nil {
		t.Fatalf("empty password must error")
	}
}

func TestDecryptSecretRejectsUnknownVersion(t *testing.T) {
	_, err := DecryptSecret([]byte(`{"version":99,"salt":"","nonce":"","ciphertext":""}`), "pw")
	if err == nil || !strings.Contains(err.Error(), "unsupported version") {
		t.Fatalf("err = %v want unsupported version", err)
	}
}

func TestLoadSecretResolutionOrder(t *testing.T) {
	// Raw secret wins even when a path is configured.
	got, err := LoadSecret(SecretConfig{RawSecret: "raw", EncryptedPath: "/does/not/exist"})
	if err != nil || got != "raw" {
		t.Fatalf("got %q, %v", got, err)
	}

	// Encrypted file path.
	blob, err := EncryptSecret("from-file", "pw")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	path := filepath.Join(t.TempDir(), "secret.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	if err != nil || got != "from-file" {
		t.Fatalf("got %q, %v", got, err)
	}

	// Nothing configured.
	if _, err := LoadSecret(SecretConfig{}); err == nil {
		t.Fatalf("no source configured must error")
	}
}

func TestSignerDeterministic(t *testing.T) {
	s := &Signer{Key: "api-key", Secret: "key"}

	// RFC 4231-style known vector for HMAC-SHA256.
	const payload = "The quick brown fox jumps over the lazy dog"
	const want = "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	if got := s.Sign(payload); got != want {
		t.Fatalf("Sign=%q want %q", got, want)
	}
	if got := s.Sign(payload); got != want {
		t.Fatalf("Sign not deterministic")
	}
}

func TestSignerStringRedacts(t *testing.T) {
	s := &Signer{Key: "abcdef", Secret: "123456"}
	out := s.String()
	if strings.Contains(out, "abcdef") || strings.Contains(out, "123456") {
		t.Fatalf("String leaks credentials: %s", out)
	}
}
