package revision

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumfs/quantumfs/internal/catalog"
	"github.com/quantumfs/quantumfs/internal/hashutil"
	"github.com/quantumfs/quantumfs/internal/objectcache"
	"github.com/quantumfs/quantumfs/internal/qfserrors"
)

// unreachableStore is an objectstore.Store that fails any call; tests
// use it to prove a code path never reaches the network.
type unreachableStore struct {
	calls int32
}

func (s *unreachableStore) Get(ctx context.Context, hash hashutil.ObjectHash) ([]byte, error) {
	atomic.AddInt32(&s.calls, 1)
	return nil, qfserrors.New(qfserrors.CodeStoreUnreachable, "unexpected network call")
}

func (s *unreachableStore) Stream(ctx context.Context, hash hashutil.ObjectHash) (io.ReadCloser, error) {
	atomic.AddInt32(&s.calls, 1)
	return nil, qfserrors.New(qfserrors.CodeStoreUnreachable, "unexpected network call")
}

func (s *unreachableStore) Put(ctx context.Context, data []byte) (hashutil.ObjectHash, error) {
	atomic.AddInt32(&s.calls, 1)
	return hashutil.ObjectHash{}, qfserrors.New(qfserrors.CodeStoreUnreachable, "unexpected network call")
}

func newTestRevision(t *testing.T) (*Revision, *objectcache.Cache, *unreachableStore) {
	t.Helper()
	store := &unreachableStore{}
	cache := objectcache.New(t.TempDir(), store)
	rev, err := Genesis(store, cache)
	require.NoError(t, err)
	t.Cleanup(func() { rev.Close() })
	return rev, cache, store
}

func insertDir(t *testing.T, c *catalog.Catalog, path, name string) {
	t.Helper()
	require.NoError(t, c.InsertEntry(catalog.DirectoryEntry{
		PathKey:   hashutil.HashBytes([]byte(hashutil.CanonicalizePath(path))),
		ParentKey: hashutil.HashBytes([]byte(hashutil.CanonicalizePath(parentOf(path)))),
		Hardlinks: 1,
		Mode:      0o755,
		Mtime:     time.Now().Unix(),
		Flags:     catalog.FlagDirectory,
		Name:      name,
	}))
}

func insertNestedRoot(t *testing.T, c *catalog.Catalog, mountPath, name string) {
	t.Helper()
	require.NoError(t, c.InsertEntry(catalog.DirectoryEntry{
		PathKey:   hashutil.HashBytes([]byte(hashutil.CanonicalizePath(mountPath))),
		ParentKey: hashutil.HashBytes([]byte(hashutil.CanonicalizePath(parentOf(mountPath)))),
		Hardlinks: 1,
		Mode:      0o755,
		Mtime:     time.Now().Unix(),
		Flags:     catalog.FlagDirectory | catalog.FlagNestedCatalogRoot,
		Name:      name,
	}))
}

func insertFile(t *testing.T, c *catalog.Catalog, path, name, content string) {
	t.Helper()
	require.NoError(t, c.InsertEntry(catalog.DirectoryEntry{
		PathKey:     hashutil.HashBytes([]byte(hashutil.CanonicalizePath(path))),
		ParentKey:   hashutil.HashBytes([]byte(hashutil.CanonicalizePath(parentOf(path)))),
		Hardlinks:   1,
		ContentHash: hashutil.HashBytes([]byte(content)),
		Size:        int64(len(content)),
		Mode:        0o644,
		Mtime:       time.Now().Unix(),
		Flags:       catalog.FlagFile,
		Name:        name,
	}))
}

func parentOf(path string) string {
	canon := hashutil.CanonicalizePath(path)
	for i := len(canon) - 1; i >= 0; i-- {
		if canon[i] == '/' {
			return canon[:i]
		}
	}
	return "/"
}

func TestEmptyGenesisMountListsNoChildren(t *testing.T) {
	rev, _, _ := newTestRevision(t)

	entry, err := rev.Lookup(context.Background(), "/")
	require.NoError(t, err)
	assert.True(t, entry.IsDirectory())

	children, err := rev.ListDirectory(context.Background(), "/")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestSingleFileScenario(t *testing.T) {
	rev, _, _ := newTestRevision(t)
	root, err := rev.loadCatalog(context.Background(), rev.Tag().RootCatalogHash)
	require.NoError(t, err)
	insertFile(t, root, "/file1", "file1", "this is file1")

	children, err := rev.ListDirectory(context.Background(), "/")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "file1", children[0].Name)

	entry, err := rev.Lookup(context.Background(), "/file1")
	require.NoError(t, err)
	assert.EqualValues(t, 13, entry.Size)
}

// buildNestedFixture wires a root catalog referencing a child catalog
// mounted at /sub, with /sub/x inside the child, per spec.md scenario 3.
func buildNestedFixture(t *testing.T) (*Revision, *objectcache.Cache) {
	t.Helper()
	store := &unreachableStore{}
	cacheDir := t.TempDir()
	cache := objectcache.New(cacheDir, store)

	child, err := catalog.Create(cacheDir)
	require.NoError(t, err)
	insertNestedRoot(t, child, "/sub", "sub")
	insertFile(t, child, "/sub/x", "x", "nested file contents")
	require.NoError(t, child.Close())

	root, err := catalog.Create(cacheDir)
	require.NoError(t, err)
	insertDir(t, root, "/foo", "foo")
	require.NoError(t, root.InsertNestedCatalog(catalog.CatalogReference{
		MountPointKey: hashutil.HashBytes([]byte("/sub")),
		CatalogHash:   child.Hash(),
	}))

	rev := Open(RevisionTag{RootCatalogHash: root.Hash(), RevisionNumber: nil}, store, cache)
	t.Cleanup(func() { rev.Close() })
	return rev, cache
}

func TestNestedCatalogTraversal(t *testing.T) {
	rev, _ := buildNestedFixture(t)

	entry, err := rev.Lookup(context.Background(), "/sub/x")
	require.NoError(t, err)
	assert.Equal(t, "x", entry.Name)

	mount, err := rev.Lookup(context.Background(), "/sub")
	require.NoError(t, err)
	assert.True(t, mount.IsNestedCatalogRoot())
}

func TestSanitizationGuardDoesNotDescendIntoLookalikeSibling(t *testing.T) {
	store := &unreachableStore{}
	cacheDir := t.TempDir()
	cache := objectcache.New(cacheDir, store)

	child, err := catalog.Create(cacheDir)
	require.NoError(t, err)
	insertNestedRoot(t, child, "/foo", "foo")
	require.NoError(t, child.Close())

	root, err := catalog.Create(cacheDir)
	require.NoError(t, err)
	insertDir(t, root, "/foo_bar", "foo_bar")
	require.NoError(t, root.InsertNestedCatalog(catalog.CatalogReference{
		MountPointKey: hashutil.HashBytes([]byte("/foo")),
		CatalogHash:   child.Hash(),
	}))

	rev := Open(RevisionTag{RootCatalogHash: root.Hash()}, store, cache)
	defer rev.Close()

	entry, err := rev.Lookup(context.Background(), "/foo_bar")
	require.NoError(t, err)
	assert.Equal(t, "foo_bar", entry.Name)
	assert.False(t, entry.IsNestedCatalogRoot())
}

func TestLoadCatalogIsMemoizedWithoutNetworkAccess(t *testing.T) {
	rev, _, store := newTestRevision(t)

	_, err := rev.Lookup(context.Background(), "/")
	require.NoError(t, err)
	_, err = rev.Lookup(context.Background(), "/")
	require.NoError(t, err)

	assert.Equal(t, int32(0), atomic.LoadInt32(&store.calls))
}

func TestListDirectoryOnNonDirectoryFails(t *testing.T) {
	rev, _, _ := newTestRevision(t)
	root, err := rev.loadCatalog(context.Background(), rev.Tag().RootCatalogHash)
	require.NoError(t, err)
	insertFile(t, root, "/file1", "file1", "contents")

	_, err = rev.ListDirectory(context.Background(), "/file1")
	require.Error(t, err)
	code, ok := qfserrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, qfserrors.CodeNotADirectory, code)
}

func TestReadFileOnNonFileFails(t *testing.T) {
	rev, _, _ := newTestRevision(t)
	_, _, err := rev.ReadFile(context.Background(), "/")
	require.Error(t, err)
	code, ok := qfserrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, qfserrors.CodeNotAFile, code)
}

func TestReadFileStreamsContent(t *testing.T) {
	store := &unreachableStore{}
	cacheDir := t.TempDir()
	cache := objectcache.New(cacheDir, store)

	root, err := catalog.Create(cacheDir)
	require.NoError(t, err)
	insertFile(t, root, "/file1", "file1", "this is file1")
	require.NoError(t, cache.PutObject(hashutil.HashBytes([]byte("this is file1")), []byte("this is file1")))

	rev := Open(RevisionTag{RootCatalogHash: root.Hash()}, store, cache)
	defer rev.Close()

	rc, entry, err := rev.ReadFile(context.Background(), "/file1")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "this is file1", string(data))
	assert.EqualValues(t, 13, entry.Size)
}

func TestRevisionTagIsGenesis(t *testing.T) {
	rev, _, _ := newTestRevision(t)
	assert.True(t, rev.Tag().IsGenesis())
}
