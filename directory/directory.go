// Package directory maps registry names to fixed-size hashes using a
// pluggable hash algorithm, mirroring the name-to-hash lookup every DIF
// directory (local, normal, or shim) performs when resolving a name to the
// IPCPs that can route to it.
package directory

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"sync"

	"golang.org/x/crypto/blake2b"

	ferrors "irmd-go/errors"
)

// Algorithm identifies a hash algorithm usable by a Directory.
type Algorithm int

const (
	// Blake2b256 is the default algorithm: fast, 256-bit, no known
	// practical collisions at this scale.
	Blake2b256 Algorithm = iota
	// SHA256 is the fallback algorithm, for deployments that standardize
	// on FIPS-approved primitives.
	SHA256
)

// String returns the algorithm's registry-visible name.
func (a Algorithm) String() string {
	switch a {
	case Blake2b256:
		return "blake2b-256"
	case SHA256:
		return "sha256"
	default:
		return "unknown"
	}
}

func newHasher(a Algorithm) (hash.Hash, error) {
	switch a {
	case Blake2b256:
		return blake2b.New256(nil)
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, ferrors.New(ferrors.EINVAL, "directory.newHasher",
			fmt.Sprintf("unsupported hash algorithm %d", a))
	}
}

// Hash is a fixed-size digest of a registry name.
type Hash [32]byte

// String renders the hash as hex, matching how it would appear in a
// diagnostic dump of the directory.
func (h Hash) String() string {
	return fmt.Sprintf("%x", [32]byte(h))
}

// Directory resolves names to hashes under a single configured algorithm
// and caches resolved hashes so repeated registry lookups for a hot name
// don't re-hash on every call.
type Directory struct {
	mu        sync.RWMutex
	algorithm Algorithm
	cache     map[string]Hash
}

// New creates a Directory using the given algorithm.
func New(algorithm Algorithm) *Directory {
	return &Directory{
		algorithm: algorithm,
		cache:     make(map[string]Hash),
	}
}

// Algorithm reports the configured hash algorithm.
func (d *Directory) Algorithm() Algorithm {
	return d.algorithm
}

// Hash returns the digest for name, computing and caching it on first use.
func (d *Directory) Hash(name string) (Hash, error) {
	d.mu.RLock()
	if h, ok := d.cache[name]; ok {
		d.mu.RUnlock()
		return h, nil
	}
	d.mu.RUnlock()

	hasher, err := newHasher(d.algorithm)
	if err != nil {
		return Hash{}, ferrors.Wrap(err, ferrors.EINVAL, "directory.Hash")
	}
	if _, err := hasher.Write([]byte(name)); err != nil {
		return Hash{}, ferrors.Wrap(err, ferrors.EINVAL, "directory.Hash")
	}

	var h Hash
	copy(h[:], hasher.Sum(nil))

	d.mu.Lock()
	d.cache[name] = h
	d.mu.Unlock()

	return h, nil
}

// Forget evicts name from the cache, used when a name is unregistered so a
// later re-registration under a different layer set doesn't serve a stale
// lookup path.
func (d *Directory) Forget(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cache, name)
}
