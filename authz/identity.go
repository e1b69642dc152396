// Package authz authenticates signed operations: it maps public keys to
// account identities, verifies COSE_Sign1 signatures and rejects replays.
package authz

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cloudx-io/escrowauction/core"
)

var (
	ErrUnknownSigner    = errors.New("authz: signer key is not registered")
	ErrUnsupportedKey   = errors.New("authz: only P-256 ECDSA keys are supported")
	ErrInvalidSignature = errors.New("authz: invalid operation signature")
	ErrCallerMismatch   = errors.New("authz: caller does not match signer")
	ErrReplayedNonce    = errors.New("authz: nonce already used")
	ErrMissingNonce     = errors.New("authz: operation nonce is required")
)

// IdentityFromPublicKey derives an account identity as the SHA-256 of the
// key's PKIX DER encoding.
func IdentityFromPublicKey(pub *ecdsa.PublicKey) (core.Identity, error) {
	if pub == nil || pub.Curve != elliptic.P256() {
		return core.Identity{}, ErrUnsupportedKey
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return core.Identity{}, fmt.Errorf("marshal public key: %w", err)
	}
	return core.Identity(sha256.Sum256(der)), nil
}

// Keyring holds the public keys of accounts allowed to submit operations.
type Keyring struct {
	mu   sync.RWMutex
	keys map[core.Identity]*ecdsa.PublicKey
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[core.Identity]*ecdsa.PublicKey)}
}

// Register adds pub and returns the identity it signs as.
func (k *Keyring) Register(pub *ecdsa.PublicKey) (core.Identity, error) {
	id, err := IdentityFromPublicKey(pub)
	if err != nil {
		return core.Identity{}, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[id] = pub
	return id, nil
}

// RegisterPEM adds a PEM-encoded PKIX public key.
func (k *Keyring) RegisterPEM(data []byte) (core.Identity, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return core.Identity{}, fmt.Errorf("no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return core.Identity{}, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return core.Identity{}, ErrUnsupportedKey
	}
	return k.Register(pub)
}

// Lookup returns the key registered for id.
func (k *Keyring) Lookup(id core.Identity) (*ecdsa.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, ok := k.keys[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownSigner)
	}
	return pub, nil
}

func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// KeyringConfig is the on-disk keyring file structure.
type KeyringConfig struct {
	Keys []KeyEntry `json:"keys"`
}

type KeyEntry struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"` // PEM format
}

// LoadKeyringFromFile loads registered keys from a JSON file.
func LoadKeyringFromFile(path string) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring file: %w", err)
	}

	var config KeyringConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse keyring: %w", err)
	}
	if len(config.Keys) == 0 {
		return nil, fmt.Errorf("no keys found in keyring file")
	}

	k := NewKeyring()
	for _, entry := range config.Keys {
		if _, err := k.RegisterPEM([]byte(entry.PublicKey)); err != nil {
			return nil, fmt.Errorf("key %q: %w", entry.Name, err)
		}
	}
	return k, nil
}
