package replay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "squatclicker-replay"

// SaveAPIKey stores the frame upload key for serverURL in the OS keychain.
func SaveAPIKey(serverURL, apiKey string) error {
	if err := keyring.Set(keyringService, keyringAccount(serverURL), apiKey); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

// LoadAPIKey returns the stored key for serverURL, or "" when none is stored
// or no keychain is available.
func LoadAPIKey(serverURL string) (string, error) {
	key, err := keyring.Get(keyringService, keyringAccount(serverURL))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keyring get: %w", err)
	}
	return key, nil
}

func keyringAccount(serverURL string) string {
	return strings.TrimRight(strings.TrimSpace(serverURL), "/")
}
