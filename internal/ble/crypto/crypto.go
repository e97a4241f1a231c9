// Package crypto derives the out-of-band (OOB) pairing data handed to the
// dongle's security manager with sm_set_oob_data. Both peers derive the same
// 16-byte temporary key from a shared secret and the peripheral's address,
// so the key never travels over the air.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// OOBKeySize is the length of a BLE legacy pairing OOB temporary key.
const OOBKeySize = 16

const oobInfo = "bgapi-host oob v1"

// DeriveOOBKey stretches secret into an OOB key with HKDF-SHA256. The
// peripheral address (6 bytes, wire order) is the salt, so one secret
// yields a distinct key per device.
func DeriveOOBKey(secret []byte, address [6]byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("ble/crypto: empty OOB secret")
	}
	r := hkdf.New(sha256.New, secret, address[:], []byte(oobInfo))
	key := make([]byte, OOBKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("ble/crypto: HKDF: %w", err)
	}
	return key, nil
}

// RandomOOBKey returns a fresh random key, for one-off pairings where the
// key is shown to the user instead of derived.
func RandomOOBKey() ([]byte, error) {
	key := make([]byte, OOBKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("ble/crypto: random key: %w", err)
	}
	return key, nil
}

// NewSecret returns a random key in the "hex:" form ParseSecret reads,
// ready for security.oob_secret.
func NewSecret() (string, error) {
	key, err := RandomOOBKey()
	if err != nil {
		return "", err
	}
	return "hex:" + hex.EncodeToString(key), nil
}

// ParseSecret accepts "hex:<digits>" for raw key material and treats
// anything else as a passphrase.
func ParseSecret(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "hex:"); ok {
		b, err := hex.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("ble/crypto: bad hex secret: %w", err)
		}
		return b, nil
	}
	return []byte(s), nil
}
