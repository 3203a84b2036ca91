package secret

import (
	"os"
	"strings"
	"sync"
)

// SecretStore provides a pluggable interface for storing sensitive data
// such as database passwords. EnvStore reads them from the environment;
// KeychainStore uses the macOS Keychain.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// EnvPrefix is prepended to the normalized key when looking up a secret
// in the environment.
const EnvPrefix = "RECORDPIPE_SECRET_"

// EnvStore resolves secrets from environment variables. Values set at
// runtime are kept in memory and shadow the environment.
type EnvStore struct {
	mu        sync.RWMutex
	overrides map[string][]byte
	deleted   map[string]bool
	lookup    func(string) (string, bool)
}

// NewEnvStore returns an EnvStore backed by os.LookupEnv.
func NewEnvStore() *EnvStore {
	return &EnvStore{
		overrides: make(map[string][]byte),
		deleted:   make(map[string]bool),
		lookup:    os.LookupEnv,
	}
}

// EnvKey returns the environment variable that holds key, e.g.
// "db:4f1c-9a" becomes RECORDPIPE_SECRET_DB_4F1C_9A.
func EnvKey(key string) string {
	var b strings.Builder
	b.WriteString(EnvPrefix)
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (s *EnvStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[key] = append([]byte(nil), value...)
	delete(s.deleted, key)
	return nil
}

func (s *EnvStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.overrides[key]; ok {
		return append([]byte(nil), v...), nil
	}
	if s.deleted[key] {
		return nil, nil
	}
	if v, ok := s.lookup(EnvKey(key)); ok {
		return []byte(v), nil
	}
	return nil, nil
}

// Delete forgets the in-memory value and hides the environment value
// for the rest of the process.
func (s *EnvStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, key)
	s.deleted[key] = true
	return nil
}

// ConnectionKey is the key under which a database connection password is stored.
func ConnectionKey(connID string) string {
	return "db:" + connID
}
