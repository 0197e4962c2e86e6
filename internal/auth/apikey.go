// Package auth provides authentication primitives: organization API key
// generation/validation with bcrypt hashing, and JWT creation/verification
// for browser sessions. Request-time logic lives in internal/middleware.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix is the fixed leading tag of every organization API key
	APIKeyPrefix = "pub"

	// APIKeyLength is the length of the random part in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is how many leading characters are stored in
	// plaintext for candidate lookup and display
	DisplayPrefixLength = 10

	// BcryptCost is the cost factor for API key hashing
	BcryptCost = 12
)

// GenerateAPIKey creates a new random organization API key.
// Returns the full key (shown once), the bcrypt hash (stored), and the
// plaintext display prefix (stored for lookup).
func GenerateAPIKey() (key string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := fmt.Sprintf("%s_%s", APIKeyPrefix, base64.RawURLEncoding.EncodeToString(randomBytes))

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return fullKey, string(hashBytes), fullKey[:DisplayPrefixLength], nil
}

// ValidateAPIKey checks a provided key against the stored bcrypt hash
func ValidateAPIKey(providedKey, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey)) == nil
}

// DisplayPrefix returns the plaintext lookup prefix of a full key
func DisplayPrefix(key string) string {
	if len(key) > DisplayPrefixLength {
		return key[:DisplayPrefixLength]
	}
	return key
}

// ExtractBearer extracts the credential from an Authorization header of the
// form "Bearer <token>"
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("credential is empty after Bearer prefix")
	}
	return token, nil
}
