package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultNamespace prefixes every key written by the gateway.
const DefaultNamespace = "agentgate"

// keyVersion is bumped whenever the fingerprint layout changes.
const keyVersion = "v1"

// FingerprintInput holds the fields that identify a logically equivalent request.
type FingerprintInput struct {
	AgentName  string
	Provider   string // canonical provider identifier
	Model      string
	UserID     string
	Message    string
	Parameters map[string]any
}

// Fingerprint builds the cache key for a request.
// The key format is: namespace:v1:agent-exec:{agent}:{provider}:{model}:u:{user}:h:{sha256}
// where the hash covers the canonical JSON of {"message", "parameters"}.
func Fingerprint(namespace string, in FingerprintInput) (string, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	params := in.Parameters
	if params == nil {
		params = map[string]any{}
	}
	canonical, err := CanonicalJSON(map[string]any{
		"message":    in.Message,
		"parameters": params,
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	hash := sha256.Sum256(canonical)

	var key strings.Builder
	key.WriteString(KeyPrefix(namespace))
	key.WriteString(in.AgentName)
	key.WriteString(":")
	key.WriteString(in.Provider)
	key.WriteString(":")
	key.WriteString(in.Model)
	key.WriteString(":u:")
	key.WriteString(in.UserID)
	key.WriteString(":h:")
	key.WriteString(hex.EncodeToString(hash[:]))
	return key.String(), nil
}

// KeyPrefix returns the prefix shared by every execution entry in namespace.
func KeyPrefix(namespace string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + ":" + keyVersion + ":agent-exec:"
}

// DefaultClearPattern matches every execution entry in namespace.
func DefaultClearPattern(namespace string) string {
	return KeyPrefix(namespace) + "*"
}

// LockKey returns the advisory lock key guarding a cache key.
func LockKey(cacheKey string) string {
	return "lock:" + cacheKey
}
