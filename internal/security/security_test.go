package security

import (
	"errors"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	"pagechat/internal/config"
)

func TestRedactEmail(t *testing.T) {
	r := NewRedactor(config.PIIFilterConfig{Enabled: true, FilterEmails: true})

	input := "Write to john@example.com, jane@test.org or john@example.com"
	got := r.Redact(input)

	if strings.Contains(got, "john@example.com") || strings.Contains(got, "jane@test.org") {
		t.Fatalf("email was not redacted: %s", got)
	}
	if got != "Write to [EMAIL_1], [EMAIL_2] or [EMAIL_1]" {
		t.Fatalf("unexpected placeholders: %s", got)
	}
}

func TestRedactPhoneAndCard(t *testing.T) {
	r := NewRedactor(config.PIIFilterConfig{Enabled: true, FilterPhones: true, FilterCards: true})

	got := r.Redact("Call +1-555-123-4567, card 4111 1111 1111 1111")
	if strings.Contains(got, "555-123-4567") {
		t.Fatalf("phone was not redacted: %s", got)
	}
	if strings.Contains(got, "4111") {
		t.Fatalf("card was not redacted: %s", got)
	}
}

func TestRedactorDisabled(t *testing.T) {
	if r := NewRedactor(config.PIIFilterConfig{Enabled: false, FilterEmails: true}); r != nil {
		t.Fatal("disabled config should yield no redactor")
	}
	var r *Redactor
	if got := r.Redact("john@example.com"); got != "john@example.com" {
		t.Fatal("nil redactor must not modify input")
	}
}

func TestAuthorizer(t *testing.T) {
	open := NewAuthorizer(nil)
	if !open.IsAllowed("anything") || !open.Open() {
		t.Fatal("empty allowlist should allow everyone")
	}

	a := NewAuthorizer([]string{"12345", "chrome-extension://*", " "})
	tests := []struct {
		id   string
		want bool
	}{
		{"12345", true},
		{"chrome-extension://abcdef", true},
		{"moz-extension://abcdef", false},
		{"https://evil.example", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := a.IsAllowed(tt.id); got != tt.want {
			t.Errorf("IsAllowed(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestKeyStoreUsesKeyring(t *testing.T) {
	keyring.MockInit()
	ks, err := NewKeyStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}

	if err := ks.Set("llm_api_key_openai", "sk-test-123456"); err != nil {
		t.Fatal(err)
	}
	got, err := ks.Get("llm_api_key_openai")
	if err != nil {
		t.Fatal(err)
	}
	if got != "sk-test-123456" {
		t.Fatalf("got %q", got)
	}

	if err := ks.Delete("llm_api_key_openai"); err != nil {
		t.Fatal(err)
	}
	if _, err := ks.Get("llm_api_key_openai"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestKeyStoreFallsBackToVault(t *testing.T) {
	keyring.MockInitWithError(errors.New("no keyring"))
	defer keyring.MockInit()

	dir := t.TempDir()
	ks, err := NewKeyStore(dir, "vault-password")
	if err != nil {
		t.Fatal(err)
	}
	if err := ks.Set("telegram_token", "123:abc"); err != nil {
		t.Fatal(err)
	}

	// A second store with the same password and salt reads the vault.
	again, err := NewKeyStore(dir, "vault-password")
	if err != nil {
		t.Fatal(err)
	}
	got, err := again.Get("telegram_token")
	if err != nil {
		t.Fatal(err)
	}
	if got != "123:abc" {
		t.Fatalf("got %q", got)
	}

	wrong, err := NewKeyStore(dir, "other-password")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wrong.Get("telegram_token"); err == nil {
		t.Fatal("expected wrong password to fail")
	}
}

func TestKeyStoreLockedVault(t *testing.T) {
	keyring.MockInitWithError(errors.New("no keyring"))
	defer keyring.MockInit()

	ks, err := NewKeyStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := ks.Set("k", "v"); err == nil {
		t.Fatal("expected locked vault to refuse writes")
	}
}

func TestMaskKey(t *testing.T) {
	if got := MaskKey("sk-abcdefghijkl1234"); got != "sk-...1234" {
		t.Fatalf("got %q", got)
	}
	if got := MaskKey("short"); got != "****" {
		t.Fatalf("got %q", got)
	}
}
