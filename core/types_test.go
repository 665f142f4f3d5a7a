package core

import (
	"strings"
	"testing"
)

func TestDeriveAddressCommitsToNameAndIdentity(t *testing.T) {
	id := randomIdentity()
	addr := DeriveAddress(NodeName, id)

	if addr != DeriveAddress(NodeName, id) {
		t.Fatal("derivation not deterministic")
	}
	if addr == DeriveAddress(DestinationName{App: "lxmf", Aspect: "delivery"}, id) {
		t.Fatal("different names share an address")
	}
	if addr == DeriveAddress(NodeName, randomIdentity()) {
		t.Fatal("different identities share an address")
	}
}

func TestDestinationVerify(t *testing.T) {
	dest := NewDestination(NodeName, randomIdentity())
	if !dest.Verify() {
		t.Fatal("freshly built destination fails verification")
	}
	dest.AddressHash[3] ^= 0x01
	if dest.Verify() {
		t.Fatal("corrupted address verifies")
	}
}

func TestNodeInfoDestination(t *testing.T) {
	node := testNode()
	dest := node.Destination()
	if dest.AddressHash != node.Hash || dest.Name != NodeName {
		t.Fatalf("destination = %+v", dest)
	}
	if !dest.Verify() {
		t.Fatal("synthesized destination fails verification")
	}
}

func TestParseAddress(t *testing.T) {
	addr := Address{0x01, 0x02, 0xff}
	parsed, err := ParseAddress(addr.Hex())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != addr {
		t.Fatal("hex round-trip failed")
	}
	if _, err := ParseAddress("abcd"); err == nil {
		t.Fatal("short input accepted")
	}
	if _, err := ParseAddress(strings.Repeat("zz", 16)); err == nil {
		t.Fatal("non-hex input accepted")
	}
}

func TestIdentityFromSlices(t *testing.T) {
	pub := make([]byte, KeyLength)
	ver := make([]byte, KeyLength)
	pub[0], ver[0] = 0xaa, 0xbb
	id, err := IdentityFromSlices(pub, ver)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if id.PublicKey[0] != 0xaa || id.VerifyingKey[0] != 0xbb {
		t.Fatalf("identity = %+v", id)
	}
	if _, err := IdentityFromSlices(pub[:16], ver); err == nil {
		t.Fatal("short key accepted")
	}
}

func TestDestinationCacheLastWriterWins(t *testing.T) {
	cache := NewDestinationCache()
	dest := NewDestination(NodeName, randomIdentity())
	if !cache.Put(dest) {
		t.Fatal("valid destination rejected")
	}
	if !cache.Put(dest) {
		t.Fatal("re-insert rejected")
	}
	if cache.Len() != 1 {
		t.Fatalf("cache size = %d", cache.Len())
	}
	got, ok := cache.Get(dest.AddressHash)
	if !ok || got.AddressHash != dest.AddressHash {
		t.Fatalf("cached = %+v, %v", got, ok)
	}

	bad := dest
	bad.AddressHash[0] ^= 0x01
	if cache.Put(bad) {
		t.Fatal("unverifiable destination accepted")
	}
}
