// Package credential reads account secrets from the system keyring.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// Service is the keyring service secrets are filed under.
const Service = "mailsync"

// ErrNotFound is returned when the keyring holds no secret for a key.
var ErrNotFound = errors.New("credential not found")

// systemBackends are the keyrings that unlock with the user session. The
// encrypted file keyring is left out since it needs a passphrase of its own.
var systemBackends = []keyring.BackendType{
	keyring.KeychainBackend,
	keyring.SecretServiceBackend,
	keyring.KWalletBackend,
	keyring.WinCredBackend,
	keyring.PassBackend,
}

// Store is a keyring scoped to one service.
type Store struct {
	ring keyring.Keyring
}

// Open opens the first system keyring available for service.
func Open(service string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              service,
		AllowedBackends:          systemBackends,
		KeychainTrustApplication: true,
		KWalletFolder:            service,
		PassPrefix:               service,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring for %s: %w", service, err)
	}
	return NewStore(ring), nil
}

func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get credential %q: %w", key, err)
	}
	if len(item.Data) == 0 {
		return "", fmt.Errorf("credential %q is empty: %w", key, ErrNotFound)
	}
	return string(item.Data), nil
}

func (s *Store) Set(key, secret string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(secret),
		Label: Service + " " + key,
	})
	if err != nil {
		return fmt.Errorf("failed to set credential %q: %w", key, err)
	}
	return nil
}

// Get reads key from the system keyring of Service.
func Get(key string) (string, error) {
	s, err := Open(Service)
	if err != nil {
		return "", err
	}
	return s.Get(key)
}
