package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "pagechat"
	vaultFile      = "vault.enc"
	saltFile       = "vault.salt"

	// VaultPasswordEnv unlocks the file vault used when no OS keyring is
	// available.
	VaultPasswordEnv = "PAGECHAT_VAULT_PASSWORD"
)

// ErrSecretNotFound is returned by Get when no secret is stored under a name.
var ErrSecretNotFound = errors.New("secret not found")

// KeyStore manages secure storage of API keys.
// Primary: OS keyring. Fallback: encrypted vault file.
type KeyStore struct {
	mu            sync.Mutex
	dir           string
	encryptionKey []byte // derived from the vault password, nil if unset
}

// NewKeyStore creates a key store keeping its vault in dir. The vault is
// only usable when password is non-empty.
func NewKeyStore(dir, password string) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	ks := &KeyStore{dir: dir}
	if password != "" {
		salt, err := LoadOrCreateSalt(filepath.Join(dir, saltFile))
		if err != nil {
			return nil, fmt.Errorf("vault salt: %w", err)
		}
		ks.encryptionKey = DeriveKey(password, salt)
	}
	return ks, nil
}

// Set stores a secret (tries keyring first, falls back to the vault).
func (ks *KeyStore) Set(name, value string) error {
	err := keyring.Set(keyringService, name, value)
	if err == nil {
		return nil
	}
	log.Printf("[keyring] OS keyring unavailable (%v), using vault", err)
	return ks.setInVault(name, value)
}

// Get retrieves a secret.
func (ks *KeyStore) Get(name string) (string, error) {
	if val, err := keyring.Get(keyringService, name); err == nil {
		return val, nil
	}
	return ks.getFromVault(name)
}

// Delete removes a secret from both backends.
func (ks *KeyStore) Delete(name string) error {
	_ = keyring.Delete(keyringService, name)
	return ks.deleteFromVault(name)
}

// MaskKey returns a masked version of an API key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}

func (ks *KeyStore) vaultPath() string {
	return filepath.Join(ks.dir, vaultFile)
}

func (ks *KeyStore) loadVault() (map[string]string, error) {
	data, err := os.ReadFile(ks.vaultPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	if ks.encryptionKey == nil {
		return nil, fmt.Errorf("vault is locked: set %s", VaultPasswordEnv)
	}

	plaintext, err := Decrypt(string(data), ks.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt vault: %w", err)
	}

	var vault map[string]string
	if err := json.Unmarshal(plaintext, &vault); err != nil {
		return nil, fmt.Errorf("parse vault: %w", err)
	}
	return vault, nil
}

func (ks *KeyStore) saveVault(vault map[string]string) error {
	if ks.encryptionKey == nil {
		return fmt.Errorf("vault is locked: set %s", VaultPasswordEnv)
	}
	data, err := json.Marshal(vault)
	if err != nil {
		return err
	}
	encrypted, err := Encrypt(data, ks.encryptionKey)
	if err != nil {
		return err
	}
	return os.WriteFile(ks.vaultPath(), []byte(encrypted), 0600)
}

func (ks *KeyStore) setInVault(name, value string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	vault, err := ks.loadVault()
	if err != nil {
		return err
	}
	vault[name] = value
	return ks.saveVault(vault)
}

func (ks *KeyStore) getFromVault(name string) (string, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	vault, err := ks.loadVault()
	if err != nil {
		return "", err
	}
	val, ok := vault[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return val, nil
}

func (ks *KeyStore) deleteFromVault(name string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	vault, err := ks.loadVault()
	if err != nil {
		return nil // nothing to delete
	}
	if _, ok := vault[name]; !ok {
		return nil
	}
	delete(vault, name)
	return ks.saveVault(vault)
}
