package crypto

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// MasterKeyEnv is the environment variable carrying the active master key.
const MasterKeyEnv = "REGISTRY_MASTER_KEY"

// KeyRing holds a set of versioned master keys used to envelope-encrypt
// registry entry payloads. New encryptions always use the active version;
// older versions are retained so existing ciphertext keeps decrypting across
// a rotation.
type KeyRing struct {
	mu      sync.RWMutex
	keys    map[int][]byte
	active  int
}

// NewKeyRing builds a ring seeded with a single master key at version 1.
func NewKeyRing(rawKey []byte) (*KeyRing, error) {
	key, err := NormalizeMasterKey(rawKey)
	if err != nil {
		return nil, err
	}
	return &KeyRing{
		keys:   map[int][]byte{1: key},
		active: 1,
	}, nil
}

// Rotate installs a new master key as the active version and returns its
// version number. Prior versions remain available for decryption.
func (r *KeyRing) Rotate(rawKey []byte) (int, error) {
	key, err := NormalizeMasterKey(rawKey)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active++
	r.keys[r.active] = key
	return r.active, nil
}

// ActiveVersion returns the version currently used for new encryptions.
func (r *KeyRing) ActiveVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Prune discards key versions older than the `keep` most recent ones
// (including the active version). Ciphertext sealed under a pruned version
// can no longer be decrypted.
func (r *KeyRing) Prune(keep int) {
	if keep <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	oldest := r.active - keep + 1
	for version := range r.keys {
		if version < oldest {
			delete(r.keys, version)
		}
	}
}

// Versions returns the set of key versions currently retained, for
// diagnostics and testing.
func (r *KeyRing) Versions() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.keys))
	for v := range r.keys {
		out = append(out, v)
	}
	return out
}

// KeyBytes returns the raw key material for version, for callers that need
// to persist the ring (e.g. cryptolayer's key file).
func (r *KeyRing) KeyBytes(version int) ([]byte, error) {
	return r.keyFor(version)
}

func (r *KeyRing) keyFor(version int) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[version]
	if !ok {
		return nil, fmt.Errorf("crypto: unknown key version %d", version)
	}
	return key, nil
}

// Seal envelope-encrypts plaintext under the active key version, returning
// the ciphertext and the version it was sealed with.
func (r *KeyRing) Seal(subject []byte, info string, plaintext []byte) (ciphertext []byte, version int, err error) {
	version = r.ActiveVersion()
	key, err := r.keyFor(version)
	if err != nil {
		return nil, 0, err
	}
	ciphertext, err = EncryptEnvelope(key, subject, info, plaintext)
	if err != nil {
		return nil, 0, err
	}
	return ciphertext, version, nil
}

// Open decrypts ciphertext that was sealed at the given key version.
func (r *KeyRing) Open(subject []byte, info string, ciphertext []byte, version int) ([]byte, error) {
	key, err := r.keyFor(version)
	if err != nil {
		return nil, err
	}
	return DecryptEnvelope(key, subject, info, ciphertext)
}

// NormalizeMasterKey accepts either 64 hex characters or, in development
// environments only, a raw 32-byte string. It mirrors the validation rules
// every service in this tree applies to its master key material.
func NormalizeMasterKey(raw []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(raw))
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return nil, fmt.Errorf("crypto: %s is required", MasterKeyEnv)
	}
	if isHex(trimmed) {
		decoded, err := hex.DecodeString(trimmed)
		if err == nil && len(decoded) == 32 {
			return decoded, nil
		}
	}
	if len(trimmed) == 32 {
		if !isDevEnv() {
			return nil, fmt.Errorf("crypto: %s must be 32 bytes (or 64 hex chars)", MasterKeyEnv)
		}
		log.Printf("[SECURITY WARNING] using plaintext %s in development mode", MasterKeyEnv)
		return []byte(trimmed), nil
	}
	return nil, fmt.Errorf("crypto: %s must be 32 bytes (or 64 hex chars)", MasterKeyEnv)
}

func isHex(value string) bool {
	if value == "" {
		return false
	}
	for _, c := range value {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func isDevEnv() bool {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("REGISTRY_ENV")))
	if env == "" {
		env = strings.ToLower(strings.TrimSpace(os.Getenv("GO_ENV")))
	}
	return env == "development" || env == "dev" || env == "local"
}
