package security

import (
	"bytes"
	"testing"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
)

func TestKeyRing_ActiveAndRetiredVersions(t *testing.T) {
	ring, err := NewKeyRing(2, WithKey(1, testKey(1)), WithKey(2, testKey(2)))
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	version, key, err := ring.ActiveKey()
	if err != nil {
		t.Fatalf("active key: %v", err)
	}
	if version != 2 || !bytes.Equal(key, testKey(2)) {
		t.Fatalf("unexpected active key version %d", version)
	}
	retired, err := ring.Key(1)
	if err != nil || !bytes.Equal(retired, testKey(1)) {
		t.Fatalf("expected retired key to stay readable, got %v", err)
	}
	if _, err := ring.Key(9); !core.IsIntegrityError(err) {
		t.Fatalf("expected integrity error for unknown version, got %v", err)
	}
	if got := ring.Versions(); len(got) != 2 || got[0] != 1 {
		t.Fatalf("unexpected versions %v", got)
	}
}

func TestKeyRing_RequiresActiveVersion(t *testing.T) {
	if _, err := NewKeyRing(3, WithKey(1, testKey(1))); !core.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestKeyRing_DerivedKeysDifferPerVersion(t *testing.T) {
	master := []byte("0123456789abcdef0123456789abcdef-master")
	ring, err := NewKeyRing(1, WithDerivedKey(1, master, nil), WithDerivedKey(2, master, nil))
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	first, _ := ring.Key(1)
	second, _ := ring.Key(2)
	if len(first) != KeySize || bytes.Equal(first, second) {
		t.Fatalf("expected distinct 32-byte keys per version")
	}
	again, err := DeriveKey(master, nil, 1)
	if err != nil || !bytes.Equal(again, first) {
		t.Fatalf("expected deterministic derivation")
	}
	if _, err := DeriveKey([]byte("short"), nil, 1); !core.IsConfigurationError(err) {
		t.Fatalf("expected short master to be rejected, got %v", err)
	}
}

func TestKeyRing_RotationWindowGatesEncryption(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ring, err := NewKeyRing(1,
		WithKey(1, testKey(1)),
		WithKey(2, testKey(2)),
		WithRotationWindow(1, KeyRotationWindow{NotAfter: now.Add(-time.Hour)}),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	if _, _, err := ring.ActiveKey(); !core.IsConfigurationError(err) {
		t.Fatalf("expected expired window to block encryption, got %v", err)
	}
	if err := ring.Activate(2); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if version, _, err := ring.ActiveKey(); err != nil || version != 2 {
		t.Fatalf("expected version 2 active, got %d %v", version, err)
	}
	if _, err := ring.Key(1); err != nil {
		t.Fatalf("expected retired key to decrypt: %v", err)
	}
}

func TestKeyRing_HexKey(t *testing.T) {
	ring, err := NewKeyRing(1, WithHexKey(1, "0101010101010101010101010101010101010101010101010101010101010101"))
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	_, key, _ := ring.ActiveKey()
	if !bytes.Equal(key, testKey(1)) {
		t.Fatalf("unexpected decoded key")
	}
	if _, err := NewKeyRing(1, WithHexKey(1, "zz")); !core.IsConfigurationError(err) {
		t.Fatalf("expected invalid hex to fail, got %v", err)
	}
}
