package core

// fetch.go - the state machine driving one page request from submission to
// its terminal outcome. One background goroutine per request; the only
// shared state is the handle's channels. Cancellation is checked at the
// top of every wait.

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// FetchTimeouts are the tunables of a fetch. Zero fields fall back to the
// defaults below at construction.
type FetchTimeouts struct {
	// Path bounds route discovery.
	Path time.Duration
	// Link bounds link activation.
	Link time.Duration
	// Response bounds the gap between inbound link events while a
	// response or resource is pending.
	Response time.Duration
	// PollInterval paces path polling.
	PollInterval time.Duration
}

// DefaultFetchTimeouts returns the stock tunables.
func DefaultFetchTimeouts() FetchTimeouts {
	return FetchTimeouts{
		Path:         5 * time.Second,
		Link:         30 * time.Second,
		Response:     60 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

func (t FetchTimeouts) withDefaults() FetchTimeouts {
	d := DefaultFetchTimeouts()
	if t.Path <= 0 {
		t.Path = d.Path
	}
	if t.Link <= 0 {
		t.Link = d.Link
	}
	if t.Response <= 0 {
		t.Response = d.Response
	}
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	return t
}

// Caller-facing terminal failure messages. These are part of the observed
// behavior and must not drift.
const (
	errNoPath       = "No path to node - try again later"
	errLinkClosed   = "Link closed"
	errConnTimeout  = "Connection timed out"
	errEventsClosed = "Link events channel closed"
	errReqTimeout   = "Request timed out"
	errAssembly     = "Failed to assemble resource"
)

// fetchTask drives one page request.
type fetchTask struct {
	transport Transport
	cache     *DestinationCache
	node      NodeInfo
	path      string
	formData  map[string]string
	handle    *fetchHandle
	timeouts  FetchTimeouts
	log       *log.Entry
}

func newFetchTask(transport Transport, cache *DestinationCache, node NodeInfo, path string, formData map[string]string, handle *fetchHandle, timeouts FetchTimeouts) *fetchTask {
	return &fetchTask{
		transport: transport,
		cache:     cache,
		node:      node,
		path:      path,
		formData:  formData,
		handle:    handle,
		timeouts:  timeouts.withDefaults(),
		log: log.WithFields(log.Fields{
			"node": node.Hash.Hex(),
			"path": path,
		}),
	}
}

// run executes the request to a terminal status. It always fires the
// result channel exactly once.
func (t *fetchTask) run() {
	if t.handle.isCancelled() {
		t.handle.cancelled()
		return
	}

	hops, ok := t.resolvePath()
	if !ok {
		return
	}
	t.handle.setStatus(StatusPathFound(hops))

	dest, ok := t.cache.Get(t.node.Hash)
	if !ok {
		dest = t.node.Destination()
	}

	t.handle.setStatus(StatusConnecting())

	// Subscribe before creating the link so an immediate activation is
	// not missed.
	events := t.transport.LinkEvents()
	defer events.Cancel()

	link, err := t.transport.Link(dest)
	if err != nil {
		t.handle.fail(err.Error())
		return
	}
	linkID := link.ID()
	t.log = t.log.WithField("link", linkID.Hex())

	if link.Status() != LinkActive {
		if !t.awaitActivation(linkID, events) {
			return
		}
	}
	t.handle.setStatus(StatusLinkEstablished())
	t.log.Debug("link established")

	if t.handle.isCancelled() {
		t.handle.cancelled()
		return
	}
	t.handle.setStatus(StatusSendingRequest())

	timestamp := float64(time.Now().UnixNano()) / float64(time.Second)
	payload := EncodePageRequest(timestamp, PathHash(t.path), t.formData)
	pkt, err := link.DataPacket(payload)
	if err != nil {
		t.handle.fail(err.Error())
		return
	}
	pkt.Context = ContextRequest
	t.transport.SendPacket(pkt)

	t.handle.setStatus(StatusAwaitingResponse())
	t.awaitResponse(link, linkID, events)
}

// resolvePath makes sure a route to the node is known, requesting one and
// polling when it is not. Returns the hop count.
func (t *fetchTask) resolvePath() (uint8, bool) {
	addr := t.node.Hash
	if !t.transport.HasPath(addr) {
		t.handle.setStatus(StatusRequestingPath())
		t.transport.RequestPath(addr)
		t.handle.setStatus(StatusWaitingForAnnounce())

		deadline := time.Now().Add(t.timeouts.Path)
		ticker := time.NewTicker(t.timeouts.PollInterval)
		defer ticker.Stop()
		for !t.transport.HasPath(addr) {
			if t.handle.isCancelled() {
				t.handle.cancelled()
				return 0, false
			}
			if time.Now().After(deadline) {
				t.handle.fail(errNoPath)
				return 0, false
			}
			select {
			case <-t.handle.ctx.Done():
				t.handle.cancelled()
				return 0, false
			case <-ticker.C:
			}
		}
	}
	hops, _ := t.transport.PathHops(addr)
	return hops, true
}

// awaitActivation waits for the link to come up.
func (t *fetchTask) awaitActivation(linkID LinkID, events *Subscription[LinkEventData]) bool {
	timeout := time.NewTimer(t.timeouts.Link)
	defer timeout.Stop()
	for {
		if t.handle.isCancelled() {
			t.handle.cancelled()
			return false
		}
		select {
		case <-t.handle.ctx.Done():
			t.handle.cancelled()
			return false
		case <-timeout.C:
			t.handle.fail(errConnTimeout)
			return false
		case ev, ok := <-events.C():
			if !ok {
				t.handle.fail(errEventsClosed)
				return false
			}
			if ev.ID != linkID {
				continue
			}
			switch ev.Event.Kind {
			case EventActivated:
				return true
			case EventClosed:
				t.handle.fail(errLinkClosed)
				return false
			}
		}
	}
}

// awaitResponse consumes link events until a terminal outcome, renewing
// the inter-event timeout after every event for this link.
func (t *fetchTask) awaitResponse(link LinkHandle, linkID LinkID, events *Subscription[LinkEventData]) {
	assembler := NewResourceAssembler()
	timeout := time.NewTimer(t.timeouts.Response)
	defer timeout.Stop()

	for {
		if t.handle.isCancelled() {
			t.handle.cancelled()
			return
		}
		select {
		case <-t.handle.ctx.Done():
			t.handle.cancelled()
			return
		case <-timeout.C:
			t.handle.fail(errReqTimeout)
			return
		case ev, ok := <-events.C():
			if !ok {
				t.handle.fail(errEventsClosed)
				return
			}
			if ev.ID != linkID {
				continue
			}
			if !timeout.Stop() {
				select {
				case <-timeout.C:
				default:
				}
			}
			timeout.Reset(t.timeouts.Response)

			switch ev.Event.Kind {
			case EventData:
				content, err := ParseOneShotResponse(ev.Event.Data)
				if err != nil {
					t.handle.fail(err.Error())
					return
				}
				t.log.WithField("bytes", len(content)).Debug("one-shot response")
				t.handle.complete(content)
				return

			case EventResourcePacket:
				if t.handleResourcePacket(link, linkID, assembler, ev.Event) {
					return
				}

			case EventClosed:
				t.handle.fail(errLinkClosed)
				return
			}
		}
	}
}

// handleResourcePacket feeds one resource packet to the assembler and acts
// on the outcome. Returns true when the fetch reached a terminal status.
func (t *fetchTask) handleResourcePacket(link LinkHandle, linkID LinkID, assembler *ResourceAssembler, ev LinkEvent) bool {
	res := assembler.HandlePacket(ev.Context, ev.Data, link.Decrypt)
	switch res.Kind {
	case ResourceRequestParts:
		if info, ok := assembler.Info(res.Hash); ok {
			t.handle.setStatus(StatusRetrieving(info.Received, info.TotalParts))
		}
		if pkt, ok := assembler.CreateRequestPacket(res.Hash, linkID, link.Encrypt); ok {
			t.transport.SendPacket(pkt)
		}
		return false

	case ResourceAssemble:
		info, _ := assembler.Info(res.Hash)
		t.handle.setStatus(StatusRetrieving(info.TotalParts, info.TotalParts))
		data, proof, ok := assembler.AssembleAndProve(res.Hash, linkID, link.Encrypt)
		if !ok {
			t.handle.fail(errAssembly)
			return true
		}
		t.transport.SendPacket(proof)
		content, err := ParseResourceBlob(data)
		if err != nil {
			t.handle.fail(err.Error())
			return true
		}
		t.log.WithField("bytes", len(content)).Debug("resource response")
		t.handle.complete(content)
		return true

	default:
		if res.Hash != ([32]byte{}) {
			if info, ok := assembler.Info(res.Hash); ok {
				t.handle.setStatus(StatusRetrieving(info.Received, info.TotalParts))
			}
		}
		return false
	}
}
