package core

// resource.go - chunked-transfer reassembly. The assembler is pure state:
// it never touches the transport, and the link crypto is injected so the
// fetch loop (and tests) decide what encryption means. One assembler
// belongs to exactly one fetch task.

import (
	"bytes"
	"crypto/sha256"
	"math/bits"
)

// maxPartSize is the ceiling for a single resource part payload. Parts
// larger than the transport MTU allows are dropped rather than buffered.
const maxPartSize = 4096

// CryptoFunc seals or opens a payload under a link key. Length may grow by
// up to the AEAD expansion allowance.
type CryptoFunc func([]byte) ([]byte, error)

// HandleResultKind discriminates what a handled resource packet asks the
// caller to do next.
type HandleResultKind int

const (
	// ResourceNone: nothing to send. Hash is set when the packet advanced
	// a known transfer, zero when the packet was dropped.
	ResourceNone HandleResultKind = iota
	// ResourceRequestParts: a transfer was advertised; request its
	// missing parts.
	ResourceRequestParts
	// ResourceAssemble: every part arrived; assemble and prove.
	ResourceAssemble
)

// HandleResult is the outcome of HandlePacket.
type HandleResult struct {
	Kind HandleResultKind
	Hash [32]byte
}

// ResourceInfo is a read-only snapshot of one in-flight transfer.
type ResourceInfo struct {
	Hash       [32]byte
	TotalParts uint32
	Received   uint32
	TotalSize  uint32
}

type resourceState struct {
	hash       [32]byte
	totalParts uint32
	totalSize  uint32
	received   uint32
	bitmap     []uint64
	parts      [][]byte
}

func newResourceState(hash [32]byte, totalParts, totalSize uint32) *resourceState {
	return &resourceState{
		hash:       hash,
		totalParts: totalParts,
		totalSize:  totalSize,
		bitmap:     make([]uint64, (totalParts+63)/64),
		parts:      make([][]byte, totalParts),
	}
}

func (r *resourceState) has(index uint32) bool {
	return r.bitmap[index/64]&(1<<(index%64)) != 0
}

func (r *resourceState) mark(index uint32) {
	r.bitmap[index/64] |= 1 << (index % 64)
}

func (r *resourceState) popcount() uint32 {
	var n uint32
	for _, w := range r.bitmap {
		n += uint32(bits.OnesCount64(w))
	}
	return n
}

func (r *resourceState) complete() bool {
	return r.received == r.totalParts
}

func (r *resourceState) missing() []uint32 {
	out := make([]uint32, 0, r.totalParts-r.received)
	for i := uint32(0); i < r.totalParts; i++ {
		if !r.has(i) {
			out = append(out, i)
		}
	}
	return out
}

// ResourceAssembler reassembles chunked encrypted payloads. It is not safe
// for concurrent use; each fetch task owns its own instance.
type ResourceAssembler struct {
	resources map[[32]byte]*resourceState
}

// NewResourceAssembler returns an empty assembler.
func NewResourceAssembler() *ResourceAssembler {
	return &ResourceAssembler{resources: make(map[[32]byte]*resourceState)}
}

// HandlePacket consumes one inbound resource packet. Advertisements create
// transfer state and ask for parts; parts are decrypted, deduplicated and
// stored. Packets for unknown transfers, out-of-range indices or oversized
// payloads are dropped without failing the request.
func (a *ResourceAssembler) HandlePacket(context PacketContext, data []byte, decrypt CryptoFunc) HandleResult {
	plain, err := decrypt(data)
	if err != nil {
		return HandleResult{Kind: ResourceNone}
	}

	switch context {
	case ContextResourceAdv:
		hash, totalParts, totalSize, err := ParseResourceAdv(plain)
		if err != nil || totalParts == 0 {
			return HandleResult{Kind: ResourceNone}
		}
		if _, ok := a.resources[hash]; !ok {
			a.resources[hash] = newResourceState(hash, totalParts, totalSize)
		}
		return HandleResult{Kind: ResourceRequestParts, Hash: hash}

	case ContextResource:
		hash, index, payload, err := ParseResourcePart(plain)
		if err != nil || len(payload) > maxPartSize {
			return HandleResult{Kind: ResourceNone}
		}
		res, ok := a.resources[hash]
		if !ok || index >= res.totalParts {
			return HandleResult{Kind: ResourceNone}
		}
		if !res.has(index) {
			res.mark(index)
			res.parts[index] = payload
			res.received++
		}
		if res.complete() {
			return HandleResult{Kind: ResourceAssemble, Hash: hash}
		}
		return HandleResult{Kind: ResourceNone, Hash: hash}

	default:
		return HandleResult{Kind: ResourceNone}
	}
}

// Info returns a snapshot of the transfer identified by hash.
func (a *ResourceAssembler) Info(hash [32]byte) (ResourceInfo, bool) {
	res, ok := a.resources[hash]
	if !ok {
		return ResourceInfo{}, false
	}
	return ResourceInfo{
		Hash:       res.hash,
		TotalParts: res.totalParts,
		Received:   res.received,
		TotalSize:  res.totalSize,
	}, true
}

// CreateRequestPacket builds a packet enumerating the transfer's still
// missing part indices, sealed with encrypt. Returns false when the
// transfer is unknown or nothing is missing.
func (a *ResourceAssembler) CreateRequestPacket(hash [32]byte, linkID LinkID, encrypt CryptoFunc) (Packet, bool) {
	res, ok := a.resources[hash]
	if !ok {
		return Packet{}, false
	}
	missing := res.missing()
	if len(missing) == 0 {
		return Packet{}, false
	}
	cipher, err := encrypt(EncodeResourceRequest(hash, missing))
	if err != nil {
		return Packet{}, false
	}
	return Packet{LinkID: linkID, Context: ContextResourceReq, Data: cipher}, true
}

// AssembleAndProve concatenates the parts in index order and verifies the
// result against the declared content hash. On a match it returns the
// assembled bytes plus a proof packet carrying the hash sealed under the
// link key, and forgets the transfer. On a mismatch nothing is returned;
// the caller treats that as a fatal assembly failure.
func (a *ResourceAssembler) AssembleAndProve(hash [32]byte, linkID LinkID, encrypt CryptoFunc) ([]byte, Packet, bool) {
	res, ok := a.resources[hash]
	if !ok || !res.complete() {
		return nil, Packet{}, false
	}
	var buf bytes.Buffer
	for _, part := range res.parts {
		buf.Write(part)
	}
	assembled := buf.Bytes()
	if sha256.Sum256(assembled) != hash {
		return nil, Packet{}, false
	}
	cipher, err := encrypt(hash[:])
	if err != nil {
		return nil, Packet{}, false
	}
	delete(a.resources, hash)
	return assembled, Packet{LinkID: linkID, Context: ContextResourceProof, Data: cipher}, true
}

// Evict forgets the transfer identified by hash, releasing its buffers.
func (a *ResourceAssembler) Evict(hash [32]byte) {
	delete(a.resources, hash)
}

// popcountMatches reports whether the received counter agrees with the
// bitmap. Exposed for tests.
func (a *ResourceAssembler) popcountMatches(hash [32]byte) bool {
	res, ok := a.resources[hash]
	if !ok {
		return true
	}
	return res.popcount() == res.received
}
