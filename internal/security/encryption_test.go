package security

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testKey skips Argon2 so the table below stays fast.
var testKey = bytes.Repeat([]byte{7}, argonKeyLen)

func TestSealRoundTrip(t *testing.T) {
	for _, plain := range []string{"", "sk-abc123", strings.Repeat("x", 4096)} {
		sealed, err := Encrypt([]byte(plain), testKey)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(sealed, sealPrefix) {
			t.Fatalf("missing format prefix: %q", sealed)
		}
		opened, err := Decrypt(sealed, testKey)
		if err != nil {
			t.Fatalf("decrypt %d bytes: %v", len(plain), err)
		}
		if string(opened) != plain {
			t.Fatalf("round trip changed %d-byte value", len(plain))
		}
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	a, _ := Encrypt([]byte("same"), testKey)
	b, _ := Encrypt([]byte("same"), testKey)
	if a == b {
		t.Fatal("two seals of the same value are identical")
	}
}

func TestDecryptRejects(t *testing.T) {
	sealed, err := Encrypt([]byte("secret"), testKey)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealPrefix))
	raw[len(raw)-1] ^= 0xff
	tampered := sealPrefix + base64.StdEncoding.EncodeToString(raw)

	otherKey := DeriveKey("other-password", []byte("fixed-salt-value"))

	cases := map[string]struct {
		value string
		key   []byte
	}{
		"wrong key":   {sealed, otherKey},
		"tampered":    {tampered, testKey},
		"no prefix":   {strings.TrimPrefix(sealed, sealPrefix), testKey},
		"bad base64":  {sealPrefix + "!!!", testKey},
		"too short":   {sealPrefix + base64.StdEncoding.EncodeToString([]byte{1, 2}), testKey},
		"short key":   {sealed, []byte("short")},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decrypt(tc.value, tc.key); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestDeriveKeyDependsOnSalt(t *testing.T) {
	k1 := DeriveKey("pw", []byte("salt-one-16bytes"))
	k2 := DeriveKey("pw", []byte("salt-two-16bytes"))
	if len(k1) != argonKeyLen || bytes.Equal(k1, k2) {
		t.Fatal("derived keys should differ per salt")
	}
}

func TestLoadOrCreateSalt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.salt")
	first, err := LoadOrCreateSalt(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := LoadOrCreateSalt(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("salt changed between loads")
	}

	if err := os.WriteFile(path, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateSalt(path); err == nil {
		t.Fatal("expected corrupt salt error")
	}
}
