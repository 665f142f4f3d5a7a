package core

// client.go - the NetworkClient ties the registry, the destination cache
// and the transport together: it ingests announces, sorts nodes from
// peers by destination name, and spawns fetch tasks.

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

const announceBuffer = 64

// NetworkClient ingests announces and creates page fetches. It is safe to
// share across goroutines.
type NetworkClient struct {
	transport Transport
	cache     *DestinationCache
	timeouts  FetchTimeouts

	mu       sync.RWMutex
	registry *NodeRegistry

	nodeAnnounces *Broadcast[NodeInfo]
	peerAnnounces *Broadcast[PeerInfo]
	announceSub   *Subscription[AnnounceEvent]

	nodeNameHash [NameHashLength]byte
}

// NewNetworkClient builds a client over transport and registry with the
// default fetch timeouts.
func NewNetworkClient(transport Transport, registry *NodeRegistry) *NetworkClient {
	return &NetworkClient{
		transport:     transport,
		cache:         NewDestinationCache(),
		timeouts:      DefaultFetchTimeouts(),
		registry:      registry,
		nodeAnnounces: NewBroadcast[NodeInfo](announceBuffer),
		peerAnnounces: NewBroadcast[PeerInfo](announceBuffer),
		// Subscribing here, not in Run, so announces arriving between
		// construction and Run are not lost.
		announceSub:  transport.AnnounceEvents(),
		nodeNameHash: NodeName.Hash(),
	}
}

// SetTimeouts overrides the fetch tunables for subsequent fetches.
func (c *NetworkClient) SetTimeouts(t FetchTimeouts) {
	c.timeouts = t.withDefaults()
}

// Run consumes the transport's announce stream until ctx ends or the
// stream closes. Callers typically run it on its own goroutine.
func (c *NetworkClient) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.announceSub.C():
			if !ok {
				return
			}
			c.HandleAnnounce(ev)
		}
	}
}

// HandleAnnounce ingests one announce: the destination goes into the
// cache, and the announce is classified as node or peer by its destination
// name hash. Node announces persist to the registry; peers are only
// broadcast. Re-announces are idempotent apart from name updates.
func (c *NetworkClient) HandleAnnounce(ev AnnounceEvent) {
	dest := ev.Destination
	if !c.cache.Put(dest) {
		log.WithField("addr", dest.AddressHash.Hex()).Warn("announce with unverifiable address dropped")
		return
	}

	name, hasName := ParseDisplayName(ev.AppData)

	if dest.Name.Hash() == c.nodeNameHash {
		if !hasName {
			name = "Unknown"
		}
		node := NodeInfo{
			Hash:     dest.AddressHash,
			Name:     name,
			Identity: dest.Identity,
		}
		c.mu.Lock()
		if c.registry.Contains(node.Hash) {
			c.registry.UpdateName(node.Hash, node.Name)
		} else {
			c.registry.Save(node)
		}
		c.mu.Unlock()
		log.WithFields(log.Fields{"addr": node.Hash.Hex(), "name": node.Name}).Debug("node announce")
		c.nodeAnnounces.Send(node)
		return
	}

	peer := PeerInfo{
		Hash:     dest.AddressHash,
		Name:     name,
		Identity: dest.Identity,
	}
	log.WithFields(log.Fields{"addr": peer.Hash.Hex(), "name": peer.Name}).Debug("peer announce")
	c.peerAnnounces.Send(peer)
}

// Fetch spawns a background task fetching path from node, optionally
// submitting formData, and returns the caller's handle immediately.
// Failures surface on the handle, never here.
func (c *NetworkClient) Fetch(node NodeInfo, path string, formData map[string]string) *FetchRequest {
	handle, request := newFetchRequest()
	task := newFetchTask(c.transport, c.cache, node, path, formData, handle, c.timeouts)
	go task.run()
	return request
}

// NodeAnnounces subscribes to the node announce stream. The stream is
// lossy; slow consumers miss intermediate announces.
func (c *NetworkClient) NodeAnnounces() *Subscription[NodeInfo] {
	return c.nodeAnnounces.Subscribe()
}

// PeerAnnounces subscribes to the peer announce stream.
func (c *NetworkClient) PeerAnnounces() *Subscription[PeerInfo] {
	return c.peerAnnounces.Subscribe()
}

// RegistryRead runs fn holding the registry read lock.
func (c *NetworkClient) RegistryRead(fn func(*NodeRegistry)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.registry)
}

// RegistryWrite runs fn holding the registry write lock.
func (c *NetworkClient) RegistryWrite(fn func(*NodeRegistry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.registry)
}

// Nodes returns a snapshot of the saved nodes.
func (c *NetworkClient) Nodes() []NodeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.All()
}

// DestinationCache exposes the shared destination cache.
func (c *NetworkClient) DestinationCache() *DestinationCache {
	return c.cache
}

// Close shuts down the announce broadcasts. In-flight fetches are not
// affected; their handles cancel them individually.
func (c *NetworkClient) Close() {
	c.announceSub.Cancel()
	c.nodeAnnounces.Close()
	c.peerAnnounces.Close()
}
