// Package identity implements the signed user record that enumerates the
// devices authorized to act as one user: sign, verify, successor validation,
// and blessing a new device into the record.
package identity

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carverauto/footnote/pkg/cryptoutil"
	"github.com/carverauto/footnote/pkg/lamport"
)

var (
	// ErrInvalidSignature is returned by Verify when the signature does
	// not match the record under its claimed identity public key.
	ErrInvalidSignature = cryptoutil.ErrInvalidSignature
	// ErrMalformedKey is returned when the identity public key is absent
	// or the wrong size.
	ErrMalformedKey = cryptoutil.ErrMalformedKey
	// ErrAlreadyMember is returned by BlessDevice when the device's
	// endpoint id already appears in the record.
	ErrAlreadyMember = errors.New("device already a member")
)

// Device is a single entry in a User's device list: a human name paired
// with the device's transport-level public key (its endpoint id).
type Device struct {
	Name       string `json:"name"`
	EndpointID string `json:"endpoint_id"`
}

// User is the signed record enumerating a device group. Field order here is
// the canonicalization: encoding/json emits struct fields in declaration
// order, so this exact order (with Signature always present, even when
// empty) is what both Sign and Verify serialize.
type User struct {
	Username    string       `json:"username"`
	Nickname    string       `json:"nickname,omitempty"`
	IDPublicKey string       `json:"id_public_key"`
	Devices     []Device     `json:"devices"`
	UpdatedAt   lamport.Clock `json:"updated_at"`
	Signature   string       `json:"signature"`
}

// canonicalBytes returns the exact byte sequence that is signed: u with
// Nickname cleared (it is recipient-local and not covered by the signature)
// and Signature forced to "".
func canonicalBytes(u User) ([]byte, error) {
	u.Nickname = ""
	u.Signature = ""

	b, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical user record: %w", err)
	}

	return b, nil
}

// Sign sets u.Signature to Ed25519(priv, canonical_json(u with signature="")).
// The caller-supplied Nickname, if any, is preserved in the returned record
// (it is not part of the signed payload).
func Sign(u User, priv ed25519.PrivateKey) User {
	payload, err := canonicalBytes(u)
	if err != nil {
		// canonicalBytes only fails on non-serializable input, which a
		// User never is; surface nothing meaningful can be signed.
		return u
	}

	u.Signature = cryptoutil.Sign(priv, payload)

	return u
}

// Verify reports whether u's signature is valid under its own
// IDPublicKey. Mutating Nickname never changes the result; mutating any
// other field does.
func Verify(u User) error {
	pub, err := cryptoutil.DecodePublicHex(u.IDPublicKey)
	if err != nil {
		return err
	}

	payload, err := canonicalBytes(u)
	if err != nil {
		return err
	}

	return cryptoutil.Verify(pub, payload, u.Signature)
}

// ValidSuccessor implements the five-clause successor rule: U' is a valid
// successor of U iff verify(U') holds, both records share the same identity
// key and username, U'.UpdatedAt strictly advances, and U's device set is a
// subset of U'.Devices (device addition only, never revocation).
func ValidSuccessor(oldU, newU User) bool {
	if Verify(newU) != nil {
		return false
	}

	if oldU.IDPublicKey != newU.IDPublicKey {
		return false
	}

	if oldU.Username != newU.Username {
		return false
	}

	if !newU.UpdatedAt.After(oldU.UpdatedAt) {
		return false
	}

	return devicesSubsetOf(oldU.Devices, newU.Devices)
}

func devicesSubsetOf(old, newer []Device) bool {
	present := make(map[string]struct{}, len(newer))
	for _, d := range newer {
		present[d.EndpointID] = struct{}{}
	}

	for _, d := range old {
		if _, ok := present[d.EndpointID]; !ok {
			return false
		}
	}

	return true
}

// BlessDevice appends newDevice to u's device list, advances UpdatedAt via
// lamport.Next, and re-signs with priv. Fails with ErrAlreadyMember if
// newDevice.EndpointID already appears.
func BlessDevice(u User, newDevice Device, priv ed25519.PrivateKey) (User, error) {
	for _, d := range u.Devices {
		if d.EndpointID == newDevice.EndpointID {
			return User{}, ErrAlreadyMember
		}
	}

	next := u
	next.Devices = append(append([]Device(nil), u.Devices...), newDevice)
	updated := lamport.Next(&u.UpdatedAt)
	next.UpdatedAt = updated

	return Sign(next, priv), nil
}

// HasDevice reports whether endpointID appears among u's devices.
func (u User) HasDevice(endpointID string) bool {
	for _, d := range u.Devices {
		if d.EndpointID == endpointID {
			return true
		}
	}

	return false
}
