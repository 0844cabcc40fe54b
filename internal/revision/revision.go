// Package revision implements QuantumFS's revision resolver (spec.md
// §4.3): the runtime entity bound to a RevisionTag that lazily loads
// catalogs on demand while walking the nested-catalog tree, and the
// thin Repository factory that builds one. Grounded directly on
// spec.md §4.3 and its §9 redesign note: composition over the
// original's self-referential Revision↔Repository lifetimes — Revision
// owns its loaded-catalog map and object cache handle outright, and
// Repository steps out once it has built one.
package revision

import (
	"context"
	"io"
	"math/big"
	"sync"

	"github.com/quantumfs/quantumfs/internal/catalog"
	"github.com/quantumfs/quantumfs/internal/hashutil"
	"github.com/quantumfs/quantumfs/internal/objectcache"
	"github.com/quantumfs/quantumfs/internal/objectstore"
	"github.com/quantumfs/quantumfs/internal/qfserrors"
)

// RevisionTag identifies a snapshot of the filesystem: the hash of its
// root catalog and a monotonically increasing revision number. Number
// 0 denotes genesis (an empty filesystem); the spec models it as a
// u128, carried here as *big.Int to match go-ethereum's own big.Int
// convention for on-chain integers.
type RevisionTag struct {
	RootCatalogHash hashutil.ObjectHash
	RevisionNumber  *big.Int
}

// IsGenesis reports whether tag denotes the empty, revision-0
// filesystem.
func (t RevisionTag) IsGenesis() bool {
	return t.RevisionNumber == nil || t.RevisionNumber.Sign() == 0
}

// Revision is bound to a RevisionTag and owns the in-memory mapping of
// loaded catalogs, sharing it across concurrent lookups for read.
// mu guards only the loaded map: loadCatalog reads it under the read
// side and inserts under the write side, and Close takes the write
// side. Queries against a loaded catalog run outside mu, through that
// catalog's own database/sql pool.
type Revision struct {
	tag   RevisionTag
	store objectstore.Store
	cache *objectcache.Cache

	mu     sync.RWMutex
	loaded map[string]*catalog.Catalog
}

// Open binds a Revision to an already-known tag, with an empty
// loaded-catalog map; catalogs are loaded lazily as paths are resolved.
func Open(tag RevisionTag, store objectstore.Store, cache *objectcache.Cache) *Revision {
	return &Revision{
		tag:    tag,
		store:  store,
		cache:  cache,
		loaded: make(map[string]*catalog.Catalog),
	}
}

// Genesis creates a brand-new root catalog and binds a Revision to it
// at revision 0.
func Genesis(store objectstore.Store, cache *objectcache.Cache) (*Revision, error) {
	root, err := catalog.Create(cache.Directory())
	if err != nil {
		return nil, err
	}
	r := &Revision{
		tag:    RevisionTag{RootCatalogHash: root.Hash(), RevisionNumber: big.NewInt(0)},
		store:  store,
		cache:  cache,
		loaded: make(map[string]*catalog.Catalog),
	}
	r.loaded[root.Hash().String()] = root
	return r, nil
}

// Tag returns the RevisionTag this Revision is bound to.
func (r *Revision) Tag() RevisionTag { return r.tag }

// Close releases every catalog this Revision has loaded.
func (r *Revision) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, c := range r.loaded {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// loadCatalog returns the catalog named by h, loading it from the
// object cache and inserting it into the loaded map on first use.
func (r *Revision) loadCatalog(ctx context.Context, h hashutil.ObjectHash) (*catalog.Catalog, error) {
	r.mu.RLock()
	if c, ok := r.loaded[h.String()]; ok {
		r.mu.RUnlock()
		return c, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.loaded[h.String()]; ok {
		return c, nil
	}

	if _, err := r.cache.FetchObject(ctx, h); err != nil {
		return nil, err
	}
	c, err := catalog.Load(r.cache.PathFor(h))
	if err != nil {
		return nil, err
	}
	r.loaded[h.String()] = c
	return c, nil
}

// resolveCatalogFor walks the nested-catalog tree starting at the root
// catalog, following CatalogReferences whose mount point is the
// longest sanitized prefix of path, until no further nested catalog
// claims it. Terminates in at most depth(nested tree) steps: the
// mount-point forest is a DAG with strictly lengthening keys.
func (r *Revision) resolveCatalogFor(ctx context.Context, canonPath string) (*catalog.Catalog, error) {
	h := r.tag.RootCatalogHash
	for {
		c, err := r.loadCatalog(ctx, h)
		if err != nil {
			return nil, err
		}
		ref, err := c.FindNestedForPath(canonPath)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			return c, nil
		}
		h = ref.CatalogHash
	}
}

func (r *Revision) resolve(ctx context.Context, path string) (*catalog.Catalog, string, catalog.DirectoryEntry, error) {
	canon := hashutil.CanonicalizePath(path)
	c, err := r.resolveCatalogFor(ctx, canon)
	if err != nil {
		return nil, canon, catalog.DirectoryEntry{}, err
	}
	entry, err := c.Find(canon)
	return c, canon, entry, err
}

// Lookup canonicalizes path, resolves the catalog that owns it, and
// returns the matching directory entry.
func (r *Revision) Lookup(ctx context.Context, path string) (catalog.DirectoryEntry, error) {
	_, _, entry, err := r.resolve(ctx, path)
	return entry, err
}

// ListDirectory returns the children of the directory at path. If the
// entry is also a nested-catalog root, the listing is drawn from the
// mounted child catalog's own rows, not a placeholder in the parent —
// resolveCatalogFor already descended into the child, since a mount
// point is its own longest-prefix match of itself.
func (r *Revision) ListDirectory(ctx context.Context, path string) ([]catalog.DirectoryEntry, error) {
	c, canon, entry, err := r.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if !entry.IsDirectory() {
		return nil, qfserrors.New(qfserrors.CodeNotADirectory, "not a directory").
			WithComponent("revision").WithDetail("path", canon)
	}
	return c.ListDirectory(canon)
}

// ReadFile resolves path, which must be a FILE entry, and returns a
// seekable, read-only stream over its content plus the resolved entry
// (callers typically Seek to an offset before reading).
func (r *Revision) ReadFile(ctx context.Context, path string) (io.ReadSeekCloser, catalog.DirectoryEntry, error) {
	_, canon, entry, err := r.resolve(ctx, path)
	if err != nil {
		return nil, entry, err
	}
	if !entry.IsFile() {
		return nil, entry, qfserrors.New(qfserrors.CodeNotAFile, "not a file").
			WithComponent("revision").WithDetail("path", canon)
	}
	rc, err := r.cache.StreamObject(ctx, entry.ContentHash)
	if err != nil {
		return nil, entry, err
	}
	return rc, entry, nil
}

// Repository is a thin factory: it builds a Revision from a RevisionTag
// and the adapters a mount was configured with, then steps out. It
// holds no reference back to any Revision it creates.
type Repository struct {
	store objectstore.Store
	cache *objectcache.Cache
}

// NewRepository builds a Repository over store and cache.
func NewRepository(store objectstore.Store, cache *objectcache.Cache) *Repository {
	return &Repository{store: store, cache: cache}
}

// Open binds a Revision to tag.
func (repo *Repository) Open(tag RevisionTag) *Revision {
	return Open(tag, repo.store, repo.cache)
}

// Genesis creates a brand-new, empty Revision at revision 0.
func (repo *Repository) Genesis() (*Revision, error) {
	return Genesis(repo.store, repo.cache)
}
