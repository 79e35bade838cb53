package peers

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/rng-ops/gossip/gossip"
)

const seedFileName = "peers.json"

// SeedPeer is one entry in the bootstrap file: a network address to dial on
// startup. Unlike a consensus peer, it carries no public key or id — gossip
// membership is proven by contact, not declared in advance.
type SeedPeer struct {
	Addr string `json:"addr"`
}

// SeedFile is a JSON file of SeedPeer entries in a node's data directory,
// read once at startup to prime a gossip.PeerTable before it has learned
// anything on its own.
type SeedFile struct {
	l    sync.Mutex
	path string
}

// NewSeedFile returns a SeedFile rooted at base/peers.json.
func NewSeedFile(base string) *SeedFile {
	return &SeedFile{path: filepath.Join(base, seedFileName)}
}

// Load reads the seed list. A missing or empty file is not an error; it
// just yields no seeds.
func (f *SeedFile) Load() ([]SeedPeer, error) {
	f.l.Lock()
	defer f.l.Unlock()

	buf, err := ioutil.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(buf) == 0 {
		return nil, nil
	}

	var seeds []SeedPeer
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&seeds); err != nil {
		return nil, err
	}
	return seeds, nil
}

// Save writes the seed list, overwriting whatever was there.
func (f *SeedFile) Save(seeds []SeedPeer) error {
	f.l.Lock()
	defer f.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(seeds); err != nil {
		return err
	}
	return ioutil.WriteFile(f.path, buf.Bytes(), 0644)
}

// LoadInto reads the seed list and adds every entry to table. It is a no-op
// for a missing file, matching Load's own treatment of that case.
func (f *SeedFile) LoadInto(table *gossip.PeerTable) error {
	seeds, err := f.Load()
	if err != nil {
		return err
	}
	for _, s := range seeds {
		table.Add(s.Addr)
	}
	return nil
}
