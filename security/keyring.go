package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"golang.org/x/crypto/hkdf"
)

// KeyRotationWindow bounds when a key version may encrypt new values.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

type KeyRingOption func(*KeyRing) error

// KeyRing holds versioned vault keys. Retired versions stay available for
// decryption until ReencryptTokens has moved every value off them.
type KeyRing struct {
	mu      sync.RWMutex
	active  int
	keys    map[int][]byte
	windows map[int]KeyRotationWindow
	now     func() time.Time
}

func NewKeyRing(active int, opts ...KeyRingOption) (*KeyRing, error) {
	ring := &KeyRing{
		active:  active,
		keys:    map[int][]byte{},
		windows: map[int]KeyRotationWindow{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(ring); err != nil {
			return nil, err
		}
	}
	if _, ok := ring.keys[active]; !ok {
		return nil, core.NewConfigurationError(fmt.Sprintf("active key version %d is not loaded", active))
	}
	return ring, nil
}

// WithKey loads raw 32-byte key material for a version.
func WithKey(version int, key []byte) KeyRingOption {
	return func(ring *KeyRing) error {
		if version < 1 {
			return fmt.Errorf("security: key version must be positive")
		}
		if len(key) != KeySize {
			return core.NewConfigurationError(fmt.Sprintf("key version %d must be %d bytes", version, KeySize))
		}
		ring.keys[version] = append([]byte(nil), key...)
		return nil
	}
}

// WithHexKey loads a hex encoded key, the form used in environment variables.
func WithHexKey(version int, encoded string) KeyRingOption {
	return func(ring *KeyRing) error {
		key, err := hex.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return core.NewConfigurationError(fmt.Sprintf("key version %d is not valid hex", version))
		}
		return WithKey(version, key)(ring)
	}
}

// WithDerivedKey derives the version's key from a master secret with
// HKDF-SHA256, so one secret can back several key versions.
func WithDerivedKey(version int, master []byte, salt []byte) KeyRingOption {
	return func(ring *KeyRing) error {
		key, err := DeriveKey(master, salt, version)
		if err != nil {
			return err
		}
		return WithKey(version, key)(ring)
	}
}

func WithRotationWindow(version int, window KeyRotationWindow) KeyRingOption {
	return func(ring *KeyRing) error {
		ring.windows[version] = window
		return nil
	}
}

func WithClock(now func() time.Time) KeyRingOption {
	return func(ring *KeyRing) error {
		if now != nil {
			ring.now = now
		}
		return nil
	}
}

func DeriveKey(master []byte, salt []byte, version int) ([]byte, error) {
	if len(master) < KeySize {
		return nil, core.NewConfigurationError(fmt.Sprintf("master secret must be at least %d bytes", KeySize))
	}
	info := []byte(fmt.Sprintf("tradeexec.token_vault.v%d", version))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, info), key); err != nil {
		return nil, fmt.Errorf("security: derive key: %w", err)
	}
	return key, nil
}

func (r *KeyRing) ActiveKey() (int, []byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[r.active]
	if !ok {
		return 0, nil, core.NewConfigurationError(fmt.Sprintf("active key version %d is not loaded", r.active))
	}
	if window, ok := r.windows[r.active]; ok && !window.Allows(r.now()) {
		return 0, nil, core.NewConfigurationError(fmt.Sprintf("key version %d is outside its rotation window", r.active))
	}
	return r.active, append([]byte(nil), key...), nil
}

func (r *KeyRing) Key(version int) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[version]
	if !ok {
		return nil, core.NewIntegrityError()
	}
	return append([]byte(nil), key...), nil
}

// Activate switches encryption to a loaded version.
func (r *KeyRing) Activate(version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[version]; !ok {
		return core.NewConfigurationError(fmt.Sprintf("key version %d is not loaded", version))
	}
	r.active = version
	return nil
}

func (r *KeyRing) Versions() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.keys))
	for version := range r.keys {
		out = append(out, version)
	}
	sort.Ints(out)
	return out
}

var _ core.KeyRing = (*KeyRing)(nil)
