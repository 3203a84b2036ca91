package secret

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const keychainService = "recordpipe"

// KeychainStore implements SecretStore using the macOS Keychain
// via the `security` CLI tool.
type KeychainStore struct {
	service string
}

// NewKeychainStore creates a new KeychainStore.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{service: keychainService}
}

// Available reports whether the `security` tool is on PATH.
func (k *KeychainStore) Available() bool {
	_, err := exec.LookPath("security")
	return err == nil
}

// Set stores a secret in the macOS Keychain, replacing any existing value.
func (k *KeychainStore) Set(key string, value []byte) error {
	cmd := exec.Command("security", "add-generic-password",
		"-a", key,
		"-s", k.service,
		"-w", string(value),
		"-U", // update if exists
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("keychain set: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Get retrieves a secret from the macOS Keychain.
// Returns empty slice and nil error if the key doesn't exist.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	cmd := exec.Command("security", "find-generic-password",
		"-a", key,
		"-s", k.service,
		"-w", // output only the password
	)
	out, err := cmd.Output()
	if err != nil {
		// exit code 44: item not found
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 44 {
			return nil, nil
		}
		return nil, fmt.Errorf("keychain get: %w", err)
	}
	return []byte(strings.TrimSpace(string(out))), nil
}

// Delete removes a secret from the macOS Keychain. A missing item is not an error.
func (k *KeychainStore) Delete(key string) error {
	cmd := exec.Command("security", "delete-generic-password",
		"-a", key,
		"-s", k.service,
	)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 44 {
			return nil
		}
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

// New returns the secret store for backend: "keychain" or "env" (default).
func New(backend string) (SecretStore, error) {
	switch strings.ToLower(backend) {
	case "", "env":
		return NewEnvStore(), nil
	case "keychain":
		k := NewKeychainStore()
		if !k.Available() {
			return nil, fmt.Errorf("keychain backend: security tool not found")
		}
		return k, nil
	}
	return nil, fmt.Errorf("unknown secret backend: %q", backend)
}
