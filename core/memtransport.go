package core

// memtransport.go - an in-process mesh implementing the Transport
// contract end to end: announces, destination-addressed links with sealed
// payloads, one-shot responses and chunked resource transfer. It backs the
// CLI demo and the end-to-end tests; a wire-level transport replaces it
// without touching the core.

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	meshEventBuffer = 256
	// defaultPartSize keeps served pages spanning several parts so the
	// resource path is exercised, while staying under the assembler's
	// per-part ceiling.
	defaultPartSize = 512
	// oneShotLimit is the largest page served as a single data packet.
	oneShotLimit = 1024
)

// MemoryMesh connects memory transports and page servers.
type MemoryMesh struct {
	mu         sync.Mutex
	transports []*MemoryTransport
	servers    map[Address]*PageServer
	pathDelay  time.Duration
}

// NewMemoryMesh returns an empty mesh with a small simulated
// path-discovery delay.
func NewMemoryMesh() *MemoryMesh {
	return &MemoryMesh{
		servers:   make(map[Address]*PageServer),
		pathDelay: 10 * time.Millisecond,
	}
}

// SetPathDelay overrides the simulated path discovery latency.
func (m *MemoryMesh) SetPathDelay(d time.Duration) {
	m.mu.Lock()
	m.pathDelay = d
	m.mu.Unlock()
}

// Attach joins a new transport to the mesh.
func (m *MemoryMesh) Attach() *MemoryTransport {
	t := &MemoryTransport{
		mesh:           m,
		paths:          make(map[Address]uint8),
		links:          make(map[Address]*memLink),
		linksByID:      make(map[LinkID]*memLink),
		linkEvents:     NewBroadcast[LinkEventData](meshEventBuffer),
		announceEvents: NewBroadcast[AnnounceEvent](meshEventBuffer),
	}
	m.mu.Lock()
	m.transports = append(m.transports, t)
	m.mu.Unlock()
	return t
}

// Host registers a page server on the mesh and announces it to every
// attached transport.
func (m *MemoryMesh) Host(s *PageServer) {
	m.mu.Lock()
	m.servers[s.dest.AddressHash] = s
	transports := append([]*MemoryTransport(nil), m.transports...)
	m.mu.Unlock()

	ev := AnnounceEvent{Destination: s.dest, AppData: EncodeDisplayName(s.Name)}
	for _, t := range transports {
		t.announceEvents.Send(ev)
	}
}

func (m *MemoryMesh) server(addr Address) (*PageServer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[addr]
	return s, ok
}

// MemoryTransport is one endpoint attached to a MemoryMesh.
type MemoryTransport struct {
	mesh *MemoryMesh

	mu        sync.Mutex
	paths     map[Address]uint8
	links     map[Address]*memLink
	linksByID map[LinkID]*memLink

	linkEvents     *Broadcast[LinkEventData]
	announceEvents *Broadcast[AnnounceEvent]
}

// HasPath reports whether a route to addr has been discovered.
func (t *MemoryTransport) HasPath(addr Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.paths[addr]
	return ok
}

// RequestPath discovers a route to addr after the mesh's simulated delay,
// provided a server is hosted there.
func (t *MemoryTransport) RequestPath(addr Address) {
	t.mesh.mu.Lock()
	delay := t.mesh.pathDelay
	t.mesh.mu.Unlock()
	go func() {
		time.Sleep(delay)
		if _, ok := t.mesh.server(addr); !ok {
			return
		}
		t.mu.Lock()
		t.paths[addr] = 2
		t.mu.Unlock()
	}()
}

// PathHops returns the hop count of the discovered route to addr.
func (t *MemoryTransport) PathHops(addr Address) (uint8, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hops, ok := t.paths[addr]
	return hops, ok
}

// Link returns a link to dest, reusing the existing one unless it has
// closed.
// Activation is asynchronous: the Activated event arrives on the link
// event stream.
func (t *MemoryTransport) Link(dest DestinationDesc) (LinkHandle, error) {
	t.mu.Lock()
	if l, ok := t.links[dest.AddressHash]; ok && l.Status() != LinkClosed {
		t.mu.Unlock()
		return l, nil
	}
	l, err := newMemLink(dest)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.links[dest.AddressHash] = l
	t.linksByID[l.id] = l
	t.mu.Unlock()

	go func() {
		if _, ok := t.mesh.server(dest.AddressHash); !ok {
			l.setStatus(LinkClosed)
			t.linkEvents.Send(LinkEventData{ID: l.id, Event: LinkEvent{Kind: EventClosed}})
			return
		}
		l.setStatus(LinkActive)
		t.linkEvents.Send(LinkEventData{ID: l.id, Event: LinkEvent{Kind: EventActivated}})
	}()
	return l, nil
}

// SendPacket routes pkt to the server behind the packet's link.
func (t *MemoryTransport) SendPacket(pkt Packet) {
	t.mu.Lock()
	l, ok := t.linksByID[pkt.LinkID]
	t.mu.Unlock()
	if !ok {
		return
	}
	server, ok := t.mesh.server(l.dest.AddressHash)
	if !ok {
		return
	}
	go server.handlePacket(t, l, pkt)
}

// LinkEvents returns a fresh subscription to this transport's link event
// stream.
func (t *MemoryTransport) LinkEvents() *Subscription[LinkEventData] {
	return t.linkEvents.Subscribe()
}

// AnnounceEvents returns a fresh subscription to this transport's
// announce stream.
func (t *MemoryTransport) AnnounceEvents() *Subscription[AnnounceEvent] {
	return t.announceEvents.Subscribe()
}

// Close shuts the transport's event streams down.
func (t *MemoryTransport) Close() {
	t.linkEvents.Close()
	t.announceEvents.Close()
}

// memLink is a link whose payloads are sealed with a per-link key. Both
// endpoints share the handle; it is reference-counted by Go itself.
type memLink struct {
	id   LinkID
	dest DestinationDesc

	mu     sync.Mutex
	status LinkStatus
	key    [chacha20poly1305.KeySize]byte
}

func newMemLink(dest DestinationDesc) (*memLink, error) {
	l := &memLink{dest: dest, status: LinkPending}
	if _, err := rand.Read(l.id[:]); err != nil {
		return nil, fmt.Errorf("link id: %w", err)
	}
	if _, err := rand.Read(l.key[:]); err != nil {
		return nil, fmt.Errorf("link key: %w", err)
	}
	return l, nil
}

// ID returns the link id.
func (l *memLink) ID() LinkID {
	return l.id
}

// Status returns the link lifecycle state.
func (l *memLink) Status() LinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *memLink) setStatus(s LinkStatus) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
}

// Encrypt seals plain under the link key with a random nonce prefix.
func (l *memLink) Encrypt(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(l.key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize, chacha20poly1305.NonceSize+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

// Decrypt opens a payload sealed by Encrypt.
func (l *memLink) Decrypt(cipher []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(l.key[:])
	if err != nil {
		return nil, err
	}
	if len(cipher) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(cipher))
	}
	nonce, sealed := cipher[:chacha20poly1305.NonceSize], cipher[chacha20poly1305.NonceSize:]
	return aead.Open(nil, nonce, sealed, nil)
}

// DataPacket builds an outbound packet with payload sealed for this link.
func (l *memLink) DataPacket(payload []byte) (Packet, error) {
	sealed, err := l.Encrypt(payload)
	if err != nil {
		return Packet{}, err
	}
	return Packet{LinkID: l.id, Context: ContextNone, Data: sealed}, nil
}

type outgoingResource struct {
	parts [][]byte
}

// PageServer serves pages over the memory mesh: small pages as one-shot
// responses, large ones as chunked resources.
type PageServer struct {
	Name string

	identity Identity
	dest     DestinationDesc
	partSize int

	mu       sync.Mutex
	pages    map[string]string
	outgoing map[[32]byte]*outgoingResource
}

// NewPageServer creates a server with a fresh random identity serving the
// given path→content pages.
func NewPageServer(name string, pages map[string]string) (*PageServer, error) {
	var id Identity
	if _, err := rand.Read(id.PublicKey[:]); err != nil {
		return nil, fmt.Errorf("page server identity: %w", err)
	}
	if _, err := rand.Read(id.VerifyingKey[:]); err != nil {
		return nil, fmt.Errorf("page server identity: %w", err)
	}
	if pages == nil {
		pages = make(map[string]string)
	}
	return &PageServer{
		Name:     name,
		identity: id,
		dest:     NewDestination(NodeName, id),
		partSize: defaultPartSize,
		pages:    pages,
		outgoing: make(map[[32]byte]*outgoingResource),
	}, nil
}

// Destination returns the server's destination descriptor.
func (s *PageServer) Destination() DestinationDesc {
	return s.dest
}

// NodeInfo returns the server as a saved-node entry.
func (s *PageServer) NodeInfo() NodeInfo {
	return NodeInfo{Hash: s.dest.AddressHash, Name: s.Name, Identity: s.identity}
}

// AddPage registers or replaces a page.
func (s *PageServer) AddPage(path, content string) {
	s.mu.Lock()
	s.pages[path] = content
	s.mu.Unlock()
}

// LoadPagesDir reads every regular file under dir into a page map keyed
// by "/<relative path>".
func LoadPagesDir(dir string) (map[string]string, error) {
	pages := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		pages["/"+filepath.ToSlash(rel)] = string(raw)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	return pages, nil
}

func (s *PageServer) lookupByHash(pathHash [16]byte) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, content := range s.pages {
		if PathHash(path) == pathHash {
			return content, true
		}
	}
	return "", false
}

// handlePacket serves one inbound packet from a client transport. Replies
// are emitted onto the client's link event stream.
func (s *PageServer) handlePacket(t *MemoryTransport, l *memLink, pkt Packet) {
	plain, err := l.Decrypt(pkt.Data)
	if err != nil {
		log.WithError(err).WithField("link", l.id.Hex()).Debug("undecryptable packet dropped")
		return
	}

	switch pkt.Context {
	case ContextRequest:
		s.servePage(t, l, plain)

	case ContextResourceReq:
		hash, missing, err := ParseResourceRequest(plain)
		if err != nil {
			return
		}
		s.mu.Lock()
		res, ok := s.outgoing[hash]
		s.mu.Unlock()
		if !ok {
			return
		}
		for _, idx := range missing {
			if idx >= uint32(len(res.parts)) {
				continue
			}
			sealed, err := l.Encrypt(EncodeResourcePart(hash, idx, res.parts[idx]))
			if err != nil {
				return
			}
			t.linkEvents.Send(LinkEventData{ID: l.id, Event: LinkEvent{
				Kind:    EventResourcePacket,
				Context: ContextResource,
				Data:    sealed,
			}})
		}

	case ContextResourceProof:
		var hash [32]byte
		if len(plain) == len(hash) {
			copy(hash[:], plain)
			s.mu.Lock()
			delete(s.outgoing, hash)
			s.mu.Unlock()
		}
	}
}

func (s *PageServer) servePage(t *MemoryTransport, l *memLink, plain []byte) {
	_, pathHash, _, err := ParsePageRequest(plain)
	if err != nil {
		log.WithError(err).Debug("malformed page request dropped")
		return
	}
	now := float64(time.Now().UnixNano()) / float64(time.Second)

	content, found := s.lookupByHash(pathHash)
	if !found || len(content) <= oneShotLimit {
		var body []byte
		if found {
			body = []byte(content)
		}
		t.linkEvents.Send(LinkEventData{ID: l.id, Event: LinkEvent{
			Kind: EventData,
			Data: EncodeOneShotResponse(now, pathHash[:], body),
		}})
		return
	}

	blob := EncodeResourceBlob(pathHash[:], []byte(content))
	hash := sha256.Sum256(blob)
	parts := make([][]byte, 0, (len(blob)+s.partSize-1)/s.partSize)
	for off := 0; off < len(blob); off += s.partSize {
		end := off + s.partSize
		if end > len(blob) {
			end = len(blob)
		}
		parts = append(parts, blob[off:end])
	}
	s.mu.Lock()
	s.outgoing[hash] = &outgoingResource{parts: parts}
	s.mu.Unlock()

	sealed, err := l.Encrypt(EncodeResourceAdv(hash, uint32(len(parts)), uint32(len(blob))))
	if err != nil {
		return
	}
	t.linkEvents.Send(LinkEventData{ID: l.id, Event: LinkEvent{
		Kind:    EventResourcePacket,
		Context: ContextResourceAdv,
		Data:    sealed,
	}})
}
