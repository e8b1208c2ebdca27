package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "tplsync"
	keyringUser    = "kernel-api-key"

	// APIKeyEnv is read when no --api-key flag is given.
	APIKeyEnv = "KERNEL_API_KEY"
)

// ErrNoAPIKey is returned when no key is configured anywhere.
var ErrNoAPIKey = errors.New("no Kernel API key found: pass --api-key, set KERNEL_API_KEY or run 'tplsync login'")

// APIKeySource names where a key came from.
type APIKeySource string

const (
	SourceFlag    APIKeySource = "flag"
	SourceEnv     APIKeySource = "env"
	SourceKeyring APIKeySource = "keyring"
)

// ResolveAPIKey returns the flag value, then KERNEL_API_KEY, then the key
// stored by SaveAPIKey.
func ResolveAPIKey(flag string) (string, APIKeySource, error) {
	if key := strings.TrimSpace(flag); key != "" {
		return key, SourceFlag, nil
	}
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		return key, SourceEnv, nil
	}
	key, err := keyring.Get(keyringService, keyringUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", "", ErrNoAPIKey
		}
		return "", "", fmt.Errorf("failed to read keyring: %w", err)
	}
	if strings.TrimSpace(key) == "" {
		return "", "", ErrNoAPIKey
	}
	return key, SourceKeyring, nil
}

// SaveAPIKey stores key in the system keyring.
func SaveAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("api key must not be empty")
	}
	if err := keyring.Set(keyringService, keyringUser, key); err != nil {
		return fmt.Errorf("failed to store api key: %w", err)
	}
	return nil
}

// DeleteAPIKey removes the stored key. It reports whether a key existed.
func DeleteAPIKey() (bool, error) {
	err := keyring.Delete(keyringService, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete api key: %w", err)
	}
	return true, nil
}
