package core

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"
)

func newTestClient(t *testing.T) (*NetworkClient, *scriptedTransport) {
	t.Helper()
	st := newScriptedTransport()
	registry := NewNodeRegistry(filepath.Join(t.TempDir(), "nodes.toml"))
	client := NewNetworkClient(st, registry)
	t.Cleanup(client.Close)
	return client, st
}

func randomIdentity() Identity {
	var id Identity
	rand.Read(id.PublicKey[:])
	rand.Read(id.VerifyingKey[:])
	return id
}

func recvNode(t *testing.T, sub *Subscription[NodeInfo]) NodeInfo {
	t.Helper()
	select {
	case n := <-sub.C():
		return n
	case <-time.After(time.Second):
		t.Fatal("no node announce")
		return NodeInfo{}
	}
}

func recvPeer(t *testing.T, sub *Subscription[PeerInfo]) PeerInfo {
	t.Helper()
	select {
	case p := <-sub.C():
		return p
	case <-time.After(time.Second):
		t.Fatal("no peer announce")
		return PeerInfo{}
	}
}

func TestAnnounceClassification(t *testing.T) {
	client, _ := newTestClient(t)
	nodeSub := client.NodeAnnounces()
	defer nodeSub.Cancel()
	peerSub := client.PeerAnnounces()
	defer peerSub.Cancel()

	nodeDest := NewDestination(NodeName, randomIdentity())
	client.HandleAnnounce(AnnounceEvent{
		Destination: nodeDest,
		AppData:     []byte{0x91, 0xa5, 'A', 'l', 'i', 'c', 'e'},
	})

	// A peer announce under a different destination name, with raw UTF-8
	// app_data: it reaches the peer stream and is never persisted.
	peerDest := NewDestination(DestinationName{App: "lxmf", Aspect: "delivery"}, randomIdentity())
	client.HandleAnnounce(AnnounceEvent{
		Destination: peerDest,
		AppData:     []byte("Bob"),
	})

	node := recvNode(t, nodeSub)
	if node.Name != "Alice" || node.Hash != nodeDest.AddressHash {
		t.Fatalf("node announce = %+v", node)
	}
	peer := recvPeer(t, peerSub)
	if peer.Name != "Bob" || peer.Hash != peerDest.AddressHash {
		t.Fatalf("peer announce = %+v", peer)
	}

	client.RegistryRead(func(r *NodeRegistry) {
		if !r.Contains(nodeDest.AddressHash) {
			t.Fatal("node announce not persisted")
		}
		if r.Contains(peerDest.AddressHash) {
			t.Fatal("peer announce persisted")
		}
		if r.Len() != 1 {
			t.Fatalf("registry has %d entries", r.Len())
		}
	})

	if _, ok := client.DestinationCache().Get(nodeDest.AddressHash); !ok {
		t.Fatal("node destination not cached")
	}
	if _, ok := client.DestinationCache().Get(peerDest.AddressHash); !ok {
		t.Fatal("peer destination not cached")
	}
}

func TestReannounceUpdatesNameWithoutDuplicate(t *testing.T) {
	client, _ := newTestClient(t)

	dest := NewDestination(NodeName, randomIdentity())
	client.HandleAnnounce(AnnounceEvent{Destination: dest, AppData: EncodeDisplayName("First Name")})
	client.HandleAnnounce(AnnounceEvent{Destination: dest, AppData: EncodeDisplayName("Second Name")})

	client.RegistryRead(func(r *NodeRegistry) {
		if r.Len() != 1 {
			t.Fatalf("registry has %d entries after re-announce", r.Len())
		}
		node, ok := r.Get(dest.AddressHash)
		if !ok || node.Name != "Second Name" {
			t.Fatalf("node after re-announce = %+v", node)
		}
	})
}

func TestNodeAnnounceWithoutNameDefaultsUnknown(t *testing.T) {
	client, _ := newTestClient(t)
	sub := client.NodeAnnounces()
	defer sub.Cancel()

	dest := NewDestination(NodeName, randomIdentity())
	client.HandleAnnounce(AnnounceEvent{Destination: dest})

	if node := recvNode(t, sub); node.Name != "Unknown" {
		t.Fatalf("default name = %q", node.Name)
	}
}

func TestUnverifiableAnnounceDropped(t *testing.T) {
	client, _ := newTestClient(t)

	dest := NewDestination(NodeName, randomIdentity())
	dest.AddressHash[0] ^= 0xff // corrupt the address
	client.HandleAnnounce(AnnounceEvent{Destination: dest, AppData: EncodeDisplayName("Evil")})

	if client.DestinationCache().Len() != 0 {
		t.Fatal("unverifiable destination cached")
	}
	client.RegistryRead(func(r *NodeRegistry) {
		if r.Len() != 0 {
			t.Fatal("unverifiable announce persisted")
		}
	})
}

func TestRunConsumesAnnounceStream(t *testing.T) {
	client, st := newTestClient(t)
	sub := client.NodeAnnounces()
	defer sub.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	dest := NewDestination(NodeName, randomIdentity())
	st.announces.Send(AnnounceEvent{Destination: dest, AppData: EncodeDisplayName("Streamed")})

	if node := recvNode(t, sub); node.Name != "Streamed" {
		t.Fatalf("announce via Run = %+v", node)
	}
}

func TestFetchThroughClientSurfacesErrorsOnHandle(t *testing.T) {
	client, _ := newTestClient(t)
	client.SetTimeouts(FetchTimeouts{Path: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond})

	request := client.Fetch(testNode(), "/index.mu", nil)
	defer request.Close()

	result := waitResult(t, request, time.Second)
	if result.Err == nil || result.Err.Error() != "No path to node - try again later" {
		t.Fatalf("expected path failure on handle, got %v", result.Err)
	}
}
