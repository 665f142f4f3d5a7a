package core

// node_registry.go - the saved-node registry, persisted as a TOML table
// keyed by hex address. Every mutation rewrites the whole file through a
// temp-and-rename so a crash never leaves a torn file. Persistence errors
// are logged and swallowed: losing a write must not abort a fetch.

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

type identityRecord struct {
	PublicKey    string `toml:"public_key"`
	VerifyingKey string `toml:"verifying_key"`
}

type nodeRecord struct {
	Hash     string         `toml:"hash"`
	Name     string         `toml:"name"`
	Identity identityRecord `toml:"identity"`
}

type nodesFile struct {
	Nodes []nodeRecord `toml:"nodes"`
}

// NodeRegistry holds the saved nodes and writes every change through to
// its backing file. Callers serialize access through NetworkClient's
// registry lock; the internal mutex only protects direct use.
type NodeRegistry struct {
	mu    sync.Mutex
	path  string
	nodes map[Address]NodeInfo
}

// NewNodeRegistry loads the registry from path. A missing or unreadable
// file yields an empty registry.
func NewNodeRegistry(path string) *NodeRegistry {
	r := &NodeRegistry{
		path:  path,
		nodes: make(map[Address]NodeInfo),
	}
	r.load()
	return r
}

func (r *NodeRegistry) load() {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return
	}
	var file nodesFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		log.WithError(err).WithField("path", r.path).Warn("node registry unreadable, starting empty")
		return
	}
	for _, rec := range file.Nodes {
		node, err := rec.toNode()
		if err != nil {
			log.WithError(err).WithField("hash", rec.Hash).Warn("skipping malformed node entry")
			continue
		}
		r.nodes[node.Hash] = node
	}
}

func (rec nodeRecord) toNode() (NodeInfo, error) {
	hash, err := ParseAddress(rec.Hash)
	if err != nil {
		return NodeInfo{}, err
	}
	pub, err := hex.DecodeString(rec.Identity.PublicKey)
	if err != nil {
		return NodeInfo{}, err
	}
	ver, err := hex.DecodeString(rec.Identity.VerifyingKey)
	if err != nil {
		return NodeInfo{}, err
	}
	id, err := IdentityFromSlices(pub, ver)
	if err != nil {
		return NodeInfo{}, err
	}
	return NodeInfo{Hash: hash, Name: rec.Name, Identity: id}, nil
}

func recordFromNode(n NodeInfo) nodeRecord {
	return nodeRecord{
		Hash: n.Hash.Hex(),
		Name: n.Name,
		Identity: identityRecord{
			PublicKey:    hex.EncodeToString(n.Identity.PublicKey[:]),
			VerifyingKey: hex.EncodeToString(n.Identity.VerifyingKey[:]),
		},
	}
}

// Save inserts or replaces a node and persists.
func (r *NodeRegistry) Save(node NodeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[node.Hash] = node
	r.persist()
}

// Get returns the node saved under hash.
func (r *NodeRegistry) Get(hash Address) (NodeInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[hash]
	return n, ok
}

// Contains reports whether hash is saved.
func (r *NodeRegistry) Contains(hash Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.nodes[hash]
	return ok
}

// All returns the saved nodes sorted by name, then address.
func (r *NodeRegistry) All() []NodeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NodeInfo, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Hash.Hex() < out[j].Hash.Hex()
	})
	return out
}

// UpdateName renames a saved node and persists. Unknown hashes are a
// no-op.
func (r *NodeRegistry) UpdateName(hash Address, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[hash]
	if !ok {
		return
	}
	node.Name = name
	r.nodes[hash] = node
	r.persist()
}

// Remove deletes a saved node and persists. Returns the removed entry.
func (r *NodeRegistry) Remove(hash Address) (NodeInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[hash]
	if !ok {
		return NodeInfo{}, false
	}
	delete(r.nodes, hash)
	r.persist()
	return node, true
}

// Len reports the number of saved nodes.
func (r *NodeRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

func (r *NodeRegistry) persist() {
	file := nodesFile{Nodes: make([]nodeRecord, 0, len(r.nodes))}
	for _, n := range r.nodes {
		file.Nodes = append(file.Nodes, recordFromNode(n))
	}
	sort.Slice(file.Nodes, func(i, j int) bool { return file.Nodes[i].Hash < file.Nodes[j].Hash })

	raw, err := toml.Marshal(file)
	if err != nil {
		log.WithError(err).Warn("node registry encode failed")
		return
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.WithError(err).WithField("path", r.path).Warn("node registry persist failed")
			return
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		log.WithError(err).WithField("path", tmp).Warn("node registry persist failed")
		return
	}
	if err := os.Rename(tmp, r.path); err != nil {
		log.WithError(err).WithField("path", r.path).Warn("node registry persist failed")
	}
}
