// Package cache implements the write-through, MAC-keyed lease cache: the
// single source of truth for currently-held leases, durable across
// mutations via a whole-map JSON snapshot.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/containers/nv-dhcp-proxy/internal/lease"
	"github.com/containers/nv-dhcp-proxy/internal/nverrors"
)

// Cache is a thread-safe MAC -> []Lease map backed by a snapshot file. No
// read handle into the map is ever exposed; every mutation goes through
// one of the methods below, so the write-through invariant holds
// mechanically.
type Cache struct {
	mu      sync.Mutex
	entries map[string][]lease.Lease
	path    string
}

// Open creates the cache, creating the snapshot file (mode 0600) if it
// does not already exist. It does not restore state from any pre-existing
// snapshot: the snapshot in this revision is write-only durability.
func Open(path string) (*Cache, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, nverrors.Wrap(nverrors.Storage, err, "open cache snapshot")
	}
	f.Close()

	return &Cache{
		entries: make(map[string][]lease.Lease),
		path:    path,
	}, nil
}

// Add inserts or overwrites the entry for mac with the single-element
// sequence [l]. On snapshot write failure the in-memory map is rolled
// back so memory and disk stay consistent.
func (c *Cache) Add(mac lease.MacAddress, l lease.Lease) error {
	return c.write(mac, l)
}

// Update has identical semantics to Add; kept as a distinct method for
// caller intent (and possible future partial-refresh divergence).
func (c *Cache) Update(mac lease.MacAddress, l lease.Lease) error {
	return c.write(mac, l)
}

func (c *Cache) write(mac lease.MacAddress, l lease.Lease) error {
	key := mac.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	prior, hadPrior := c.entries[key]
	c.entries[key] = []lease.Lease{l}

	if err := c.snapshotLocked(); err != nil {
		if hadPrior {
			c.entries[key] = prior
		} else {
			delete(c.entries, key)
		}
		return err
	}
	return nil
}

// Remove deletes the entry for mac if present and returns the removed
// lease. Absence is not an error: it returns a zero-valued lease carrying
// only mac, per the RPC contract of always returning a lease body.
func (c *Cache) Remove(mac lease.MacAddress) (lease.Lease, error) {
	key := mac.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.entries[key]
	if !ok {
		return lease.Zero(mac), nil
	}

	delete(c.entries, key)
	if err := c.snapshotLocked(); err != nil {
		c.entries[key] = entries
		return lease.Lease{}, err
	}

	if len(entries) == 0 {
		return lease.Zero(mac), nil
	}
	return entries[len(entries)-1], nil
}

// Teardown clears the in-memory map and truncates the snapshot file to
// zero bytes. The file itself is not deleted.
func (c *Cache) Teardown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prior := c.entries
	c.entries = make(map[string][]lease.Lease)

	if err := os.Truncate(c.path, 0); err != nil {
		c.entries = prior
		return nverrors.Wrap(nverrors.Storage, err, "truncate cache snapshot")
	}
	return nil
}

// snapshotLocked rewrites the whole-map JSON snapshot via write-to-temp,
// fsync, then rename, so a crash mid-write never leaves a truncated or
// half-written snapshot at c.path. Callers must hold c.mu.
func (c *Cache) snapshotLocked() error {
	data, err := json.Marshal(c.entries)
	if err != nil {
		return nverrors.Wrap(nverrors.Storage, err, "marshal cache snapshot")
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".nv-dhcp-leases-*.tmp")
	if err != nil {
		return nverrors.Wrap(nverrors.Storage, err, "create temporary snapshot file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if err := os.Chmod(tmpPath, 0o600); err != nil {
		tmp.Close()
		return nverrors.Wrap(nverrors.Storage, err, "chmod temporary snapshot file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nverrors.Wrap(nverrors.Storage, err, "write cache snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nverrors.Wrap(nverrors.Storage, err, "fsync cache snapshot")
	}
	if err := tmp.Close(); err != nil {
		return nverrors.Wrap(nverrors.Storage, err, "close temporary snapshot file")
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return nverrors.Wrap(nverrors.Storage, err, "rename snapshot into place")
	}
	return nil
}

// Snapshot returns a deep copy of the current map, for diagnostics and
// tests only (never used as a live read handle by production callers).
func (c *Cache) Snapshot() map[string][]lease.Lease {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]lease.Lease, len(c.entries))
	for k, v := range c.entries {
		cp := make([]lease.Lease, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Path returns the snapshot file path, for diagnostics.
func (c *Cache) Path() string {
	return c.path
}
