package core

// types.go - shared identity and destination types used across the network
// core. Address derivation is fixed by the wire contract: a destination
// commits to its purpose through the name hash, and the address hash binds
// the name hash to the identity key material.

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// AddressLength is the truncated length of a destination address hash.
	AddressLength = 16
	// NameHashLength is the truncated length of a destination name hash.
	NameHashLength = 10
	// KeyLength is the length of each identity public key component.
	KeyLength = 32
)

// Address is the 16-byte truncated hash that identifies a destination.
type Address [AddressLength]byte

// Hex returns the lowercase hex rendering of the address.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

// IsZero reports whether the address is all zero bytes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress decodes a 32-character hex string into an Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("parse address: %w", err)
	}
	if len(raw) != AddressLength {
		return a, fmt.Errorf("parse address: expected %d bytes, got %d", AddressLength, len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// Identity holds the two public key components of a destination identity:
// the encryption public key and the signature verifying key.
type Identity struct {
	PublicKey    [KeyLength]byte
	VerifyingKey [KeyLength]byte
}

// Bytes returns the identity key material in derivation order.
func (id Identity) Bytes() []byte {
	out := make([]byte, 0, 2*KeyLength)
	out = append(out, id.PublicKey[:]...)
	out = append(out, id.VerifyingKey[:]...)
	return out
}

// IdentityFromSlices builds an Identity from raw key slices. Both slices
// must be exactly KeyLength bytes.
func IdentityFromSlices(publicKey, verifyingKey []byte) (Identity, error) {
	var id Identity
	if len(publicKey) != KeyLength || len(verifyingKey) != KeyLength {
		return id, fmt.Errorf("identity keys must be %d bytes", KeyLength)
	}
	copy(id.PublicKey[:], publicKey)
	copy(id.VerifyingKey[:], verifyingKey)
	return id, nil
}

// DestinationName is the two-part aspect name that states what a
// destination is for. It hashes into the address, so two destinations with
// the same identity but different names have different addresses.
type DestinationName struct {
	App    string
	Aspect string
}

// NodeName is the aspect name every page-serving node announces under.
// Announces with any other name are peers.
var NodeName = DestinationName{App: "nomadnetwork", Aspect: "node"}

// Hash returns the truncated name hash committing the destination to its
// purpose.
func (n DestinationName) Hash() [NameHashLength]byte {
	sum := sha256.Sum256([]byte(n.App + "." + n.Aspect))
	var out [NameHashLength]byte
	copy(out[:], sum[:NameHashLength])
	return out
}

func (n DestinationName) String() string {
	return n.App + "." + n.Aspect
}

// DeriveAddress computes the address hash for a name and identity:
// sha256(name_hash || identity_bytes) truncated to AddressLength.
func DeriveAddress(name DestinationName, id Identity) Address {
	h := sha256.New()
	nameHash := name.Hash()
	h.Write(nameHash[:])
	h.Write(id.Bytes())
	var a Address
	copy(a[:], h.Sum(nil)[:AddressLength])
	return a
}

// DestinationDesc identifies one endpoint on the mesh.
type DestinationDesc struct {
	AddressHash Address
	Identity    Identity
	Name        DestinationName
}

// NewDestination builds a DestinationDesc with the address derived from the
// name and identity.
func NewDestination(name DestinationName, id Identity) DestinationDesc {
	return DestinationDesc{
		AddressHash: DeriveAddress(name, id),
		Identity:    id,
		Name:        name,
	}
}

// Verify recomputes the address hash and reports whether it matches the
// stored one.
func (d DestinationDesc) Verify() bool {
	return DeriveAddress(d.Name, d.Identity) == d.AddressHash
}

// NodeInfo is a persistable entry in the saved node registry.
type NodeInfo struct {
	Hash     Address
	Name     string
	Identity Identity
}

// Destination reconstructs the node's destination descriptor for outbound
// link setup when no cached announce is available.
func (n NodeInfo) Destination() DestinationDesc {
	return DestinationDesc{
		AddressHash: n.Hash,
		Identity:    n.Identity,
		Name:        NodeName,
	}
}

// HashHex returns the node's address in hex form.
func (n NodeInfo) HashHex() string {
	return n.Hash.Hex()
}

// PeerInfo describes an announced peer. Peers are ephemeral: they are
// broadcast to subscribers but never persisted. Name is empty when the
// announce carried no display name.
type PeerInfo struct {
	Hash     Address
	Name     string
	Identity Identity
}

// HashHex returns the peer's address in hex form.
func (p PeerInfo) HashHex() string {
	return p.Hash.Hex()
}
