// Package objectcache implements QuantumFS's local, content-addressed
// object cache (spec.md §4.4): a directory of files named by the
// Base58 hash of their own contents, fed lazily from an
// objectstore.Store on miss. Grounded on the teacher's
// internal/cache/persistent.go (disk-backed cache, atomic
// write-temp-then-rename) narrowed to filename-is-hash semantics; no
// eviction policy, per spec.md §9's open question on cache growth.
package objectcache

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/quantumfs/quantumfs/internal/hashutil"
	"github.com/quantumfs/quantumfs/internal/objectstore"
	"github.com/quantumfs/quantumfs/internal/qfserrors"
)

// Cache is a disk-backed, content-addressed cache fronting a Store.
type Cache struct {
	directory string
	store     objectstore.Store
}

// New returns a Cache rooted at directory, which must already exist,
// falling back to store on a local miss.
func New(directory string, store objectstore.Store) *Cache {
	return &Cache{directory: directory, store: store}
}

// Directory returns the cache's backing directory, for components
// (like catalog.Create) that write their own content-addressed files
// into the same cache.
func (c *Cache) Directory() string { return c.directory }

func (c *Cache) pathFor(hash hashutil.ObjectHash) string {
	return filepath.Join(c.directory, hash.String())
}

// PathFor returns the on-disk path hash would be (or is) cached at,
// for callers like internal/revision that load a fetched object
// themselves (e.g. as a SQLite catalog file) rather than reading its
// bytes directly.
func (c *Cache) PathFor(hash hashutil.ObjectHash) string {
	return c.pathFor(hash)
}

// FetchObject returns the full contents of hash, serving from disk
// when present and populating the cache from the object store
// otherwise.
func (c *Cache) FetchObject(ctx context.Context, hash hashutil.ObjectHash) ([]byte, error) {
	path := c.pathFor(hash)
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, qfserrors.Wrap(qfserrors.CodeIO, "read cached object", err).
			WithComponent("objectcache").WithDetail("hash", hash.String())
	}

	data, err := c.store.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if err := c.PutObject(hash, data); err != nil {
		return nil, err
	}
	return data, nil
}

// StreamObject returns a seekable reader over hash's contents, serving
// from disk when present and populating the cache from the object
// store otherwise. The returned reader must be closed by the caller.
func (c *Cache) StreamObject(ctx context.Context, hash hashutil.ObjectHash) (io.ReadSeekCloser, error) {
	path := c.pathFor(hash)
	if f, err := os.Open(path); err == nil {
		return f, nil
	} else if !os.IsNotExist(err) {
		return nil, qfserrors.Wrap(qfserrors.CodeIO, "open cached object", err).
			WithComponent("objectcache").WithDetail("hash", hash.String())
	}

	body, err := c.store.Stream(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, qfserrors.Wrap(qfserrors.CodeIO, "read streamed object", err).WithComponent("objectcache")
	}
	if err := c.PutObject(hash, data); err != nil {
		return nil, err
	}
	return os.Open(path)
}

// PutObject writes data into the cache under hash, atomically:
// written to a temp file in the same directory first, then renamed
// into place, so a concurrent reader never observes a partial file.
func (c *Cache) PutObject(hash hashutil.ObjectHash, data []byte) error {
	finalPath := c.pathFor(hash)
	if _, err := os.Stat(finalPath); err == nil {
		return nil // already cached
	}

	tmp, err := os.CreateTemp(c.directory, hash.String()+".tmp-*")
	if err != nil {
		return qfserrors.Wrap(qfserrors.CodeIO, "create temp cache file", err).WithComponent("objectcache")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return qfserrors.Wrap(qfserrors.CodeIO, "write temp cache file", err).WithComponent("objectcache")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return qfserrors.Wrap(qfserrors.CodeIO, "close temp cache file", err).WithComponent("objectcache")
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return qfserrors.Wrap(qfserrors.CodeIO, "rename cache file into place", err).WithComponent("objectcache")
	}
	return nil
}
