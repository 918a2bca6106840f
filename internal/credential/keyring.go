// Package credential stores gateway secrets (provider API keys, SMTP
// and IMAP passwords) in the system keyring, falling back to an
// encrypted file store on headless machines.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// Keyring is the gateway's secret store. Construct one with New; the
// zero value has no service name and will not resolve a backend.
type Keyring struct {
	serviceName string
	fileDir     string
}

// New returns a Keyring scoped to the gateway's service name.
func New() *Keyring {
	return &Keyring{
		serviceName: "emailgateway",
		fileDir:     "~/.config/emailgateway/credentials",
	}
}

func (k *Keyring) open() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: k.serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  k.fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("emailgateway-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key.
func (k *Keyring) Get(key string) (string, error) {
	ring, err := k.open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key, replacing any existing value.
func (k *Keyring) Set(key string, value string) error {
	ring, err := k.open()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key.
func (k *Keyring) Delete(key string) error {
	ring, err := k.open()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Has reports whether a credential exists without exposing its value,
// so status checks never echo the secret back.
func (k *Keyring) Has(key string) (bool, error) {
	ring, err := k.open()
	if err != nil {
		return false, err
	}

	_, err = ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking credential %q: %w", key, err)
	}
	return true, nil
}
