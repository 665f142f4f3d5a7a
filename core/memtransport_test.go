package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestPage(dir, name, content string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

// meshFixture wires a client and a hosted page server over a memory mesh.
func meshFixture(t *testing.T, pages map[string]string) (*NetworkClient, NodeInfo) {
	t.Helper()
	mesh := NewMemoryMesh()
	mesh.SetPathDelay(5 * time.Millisecond)
	transport := mesh.Attach()
	t.Cleanup(transport.Close)

	registry := NewNodeRegistry(filepath.Join(t.TempDir(), "nodes.toml"))
	client := NewNetworkClient(transport, registry)
	t.Cleanup(client.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go client.Run(ctx)

	announces := client.NodeAnnounces()
	defer announces.Cancel()

	server, err := NewPageServer("Mesh Node", pages)
	if err != nil {
		t.Fatalf("page server: %v", err)
	}
	mesh.Host(server)

	node := recvNode(t, announces)
	return client, node
}

func TestMeshOneShotFetch(t *testing.T) {
	client, node := meshFixture(t, map[string]string{
		"/page/index.mu": ">Small Page",
	})

	request := client.Fetch(node, "/page/index.mu", nil)
	defer request.Close()

	result := waitResult(t, request, 5*time.Second)
	if result.Err != nil {
		t.Fatalf("fetch failed: %v", result.Err)
	}
	if string(result.Data) != ">Small Page" {
		t.Fatalf("content = %q", result.Data)
	}
}

func TestMeshResourceFetch(t *testing.T) {
	big := ">Big Page\n" + strings.Repeat("lorem ipsum dolor sit amet\n", 200)
	client, node := meshFixture(t, map[string]string{
		"/page/big.mu": big,
	})

	request := client.Fetch(node, "/page/big.mu", nil)
	defer request.Close()

	sub := request.StatusUpdates()
	defer sub.Cancel()

	result := waitResult(t, request, 5*time.Second)
	if result.Err != nil {
		t.Fatalf("fetch failed: %v", result.Err)
	}
	if string(result.Data) != big {
		t.Fatalf("content length = %d, want %d", len(result.Data), len(big))
	}

	// A page this size must have travelled as a chunked resource.
	sawRetrieving := false
	for len(sub.C()) > 0 {
		if status := <-sub.C(); status.Stage == StageRetrieving {
			sawRetrieving = true
		}
	}
	if !sawRetrieving {
		t.Fatal("no progress observed")
	}
}

func TestMeshMissingPage(t *testing.T) {
	client, node := meshFixture(t, map[string]string{
		"/page/index.mu": ">Exists",
	})

	request := client.Fetch(node, "/page/nope.mu", nil)
	defer request.Close()

	result := waitResult(t, request, 5*time.Second)
	if result.Err == nil || result.Err.Error() != "No content in response" {
		t.Fatalf("expected missing content, got %v", result.Err)
	}
}

func TestMeshAnnouncePersistsNode(t *testing.T) {
	client, node := meshFixture(t, nil)
	client.RegistryRead(func(r *NodeRegistry) {
		saved, ok := r.Get(node.Hash)
		if !ok || saved.Name != "Mesh Node" {
			t.Fatalf("saved node = %+v, %v", saved, ok)
		}
	})
}

func TestMeshUnhostedDestinationHasNoPath(t *testing.T) {
	mesh := NewMemoryMesh()
	mesh.SetPathDelay(time.Millisecond)
	transport := mesh.Attach()
	t.Cleanup(transport.Close)

	registry := NewNodeRegistry(filepath.Join(t.TempDir(), "nodes.toml"))
	client := NewNetworkClient(transport, registry)
	t.Cleanup(client.Close)
	client.SetTimeouts(FetchTimeouts{Path: 100 * time.Millisecond, PollInterval: 10 * time.Millisecond})

	request := client.Fetch(testNode(), "/page/index.mu", nil)
	defer request.Close()

	// No server is hosted at the destination, so no path appears.
	result := waitResult(t, request, time.Second)
	if result.Err == nil || result.Err.Error() != "No path to node - try again later" {
		t.Fatalf("expected path failure, got %v", result.Err)
	}
}

func TestLoadPagesDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "page")
	if err := writeTestPage(sub, "index.mu", ">Home"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	pages, err := LoadPagesDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pages["/page/index.mu"] != ">Home" {
		t.Fatalf("pages = %v", pages)
	}
}

func TestMemLinkSealRoundTrip(t *testing.T) {
	link, err := newMemLink(NewDestination(NodeName, randomIdentity()))
	if err != nil {
		t.Fatalf("new link: %v", err)
	}
	sealed, err := link.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if string(sealed) == "payload" {
		t.Fatal("payload left in the clear")
	}
	plain, err := link.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plain) != "payload" {
		t.Fatalf("plain = %q", plain)
	}

	sealed[len(sealed)-1] ^= 0x01
	if _, err := link.Decrypt(sealed); err == nil {
		t.Fatal("tampered ciphertext accepted")
	}
}
