package core

// transport.go - the contract between the page-fetch core and the
// underlying mesh transport. The core never frames, routes or encrypts on
// the wire itself; it consumes path lookups, links and the two event
// streams defined here. memtransport.go carries the in-process
// implementation; a wire-level transport satisfies the same interfaces.

// PacketContext tags the purpose of a packet on a link. The byte values
// follow the Reticulum context constants; the core only compares them by
// name.
type PacketContext byte

const (
	ContextNone          PacketContext = 0x00
	ContextResource      PacketContext = 0x01
	ContextResourceAdv   PacketContext = 0x02
	ContextResourceReq   PacketContext = 0x03
	ContextResourceProof PacketContext = 0x05
	ContextRequest       PacketContext = 0x09
	ContextResponse      PacketContext = 0x0a
)

// LinkID identifies one established link.
type LinkID [16]byte

// Hex returns the lowercase hex rendering of the link id.
func (id LinkID) Hex() string {
	return Address(id).Hex()
}

// LinkStatus is the lifecycle state of a link.
type LinkStatus int

const (
	LinkPending LinkStatus = iota
	LinkActive
	LinkClosed
)

// Packet is one outbound message on a link.
type Packet struct {
	LinkID  LinkID
	Context PacketContext
	Data    []byte
}

// LinkEventKind discriminates inbound link events.
type LinkEventKind int

const (
	// EventActivated signals the link finished its handshake.
	EventActivated LinkEventKind = iota
	// EventData carries a decrypted one-shot payload.
	EventData
	// EventResourcePacket carries one packet of a chunked resource
	// transfer, still encrypted under the link key.
	EventResourcePacket
	// EventClosed signals the link was torn down.
	EventClosed
)

// LinkEvent is one inbound event on a link.
type LinkEvent struct {
	Kind LinkEventKind
	// Context refines EventResourcePacket (advertisement, part, proof).
	Context PacketContext
	// Data is the event payload for EventData and EventResourcePacket.
	Data []byte
}

// LinkEventData pairs an event with the link it happened on. Consumers
// filter by ID; the stream is shared across all links of a transport.
type LinkEventData struct {
	ID    LinkID
	Event LinkEvent
}

// AnnounceEvent is one signed announce heard from the mesh.
type AnnounceEvent struct {
	Destination DestinationDesc
	AppData     []byte
}

// LinkHandle is a shared reference to an established link. The transport
// keeps its own share for packet dispatch and may garbage-collect the link
// once every holder has let go.
type LinkHandle interface {
	ID() LinkID
	Status() LinkStatus
	// Encrypt seals plain under the link key.
	Encrypt(plain []byte) ([]byte, error)
	// Decrypt opens cipher sealed under the link key.
	Decrypt(cipher []byte) ([]byte, error)
	// DataPacket builds an outbound packet carrying payload sealed for
	// this link.
	DataPacket(payload []byte) (Packet, error)
}

// Transport is the mesh collaborator the core drives.
type Transport interface {
	// HasPath reports whether a route to addr is known.
	HasPath(addr Address) bool
	// RequestPath asks the mesh to discover a route to addr.
	RequestPath(addr Address)
	// PathHops returns the hop count of the known route to addr.
	PathHops(addr Address) (uint8, bool)
	// Link returns a link to dest, reusing an active one if present.
	Link(dest DestinationDesc) (LinkHandle, error)
	// SendPacket dispatches pkt. Fire and forget.
	SendPacket(pkt Packet)
	// LinkEvents returns a fresh subscription to the link event stream.
	LinkEvents() *Subscription[LinkEventData]
	// AnnounceEvents returns a fresh subscription to the announce stream.
	AnnounceEvents() *Subscription[AnnounceEvent]
}
