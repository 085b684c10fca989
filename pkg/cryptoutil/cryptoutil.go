// Package cryptoutil provides the Ed25519 signing primitives shared by the
// identity and pairing packages, plus HKDF-based deterministic key
// derivation for device key material.
package cryptoutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidSignature is returned when a signature fails to verify
	// under the supplied public key.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMalformedKey is returned when a hex-encoded key cannot be decoded
	// or is the wrong size for Ed25519.
	ErrMalformedKey = errors.New("malformed key")
)

// KeyPair is an Ed25519 key pair, used interchangeably for the identity key
// (I) and any device key (D).
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh random Ed25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate ed25519 key: %w", err)
	}

	return KeyPair{Public: pub, Private: priv}, nil
}

// PublicHex returns the hex-encoded public key, the form used as an
// endpoint id or identity id.
func (k KeyPair) PublicHex() string {
	return hex.EncodeToString(k.Public)
}

// Sign signs msg with the private key and returns the hex-encoded signature.
func Sign(priv ed25519.PrivateKey, msg []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, msg))
}

// Verify checks a hex-encoded signature over msg under pub. Returns
// ErrMalformedKey if pub or sigHex cannot be decoded to the expected sizes,
// ErrInvalidSignature if the signature does not verify.
func Verify(pub ed25519.PublicKey, msg []byte, sigHex string) error {
	if len(pub) != ed25519.PublicKeySize {
		return ErrMalformedKey
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrMalformedKey
	}

	if !ed25519.Verify(pub, msg, sig) {
		return ErrInvalidSignature
	}

	return nil
}

// DecodePublicHex decodes a hex-encoded public key, validating its size.
func DecodePublicHex(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrMalformedKey
	}

	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrMalformedKey
	}

	return ed25519.PublicKey(raw), nil
}

// DeriveDeviceSeed deterministically derives a 32-byte Ed25519 seed for the
// device at the given index from a master seed (normally the first 32 bytes
// of an identity private key), using HKDF-SHA256 with a per-index info
// string. Devices derived this way need not be persisted independently of
// the master seed, though footnote persists them anyway for simplicity.
func DeriveDeviceSeed(masterSeed []byte, index int) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterSeed, nil, []byte(fmt.Sprintf("footnote/device/%d", index)))

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("derive device seed: %w", err)
	}

	return seed, nil
}

// KeyPairFromSeed expands a 32-byte seed into a full Ed25519 key pair.
func KeyPairFromSeed(seed []byte) KeyPair {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey) //nolint:forcetypeassert // ed25519 guarantees this type

	return KeyPair{Public: pub, Private: priv}
}
