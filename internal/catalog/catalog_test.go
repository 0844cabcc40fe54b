package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumfs/quantumfs/internal/hashutil"
	"github.com/quantumfs/quantumfs/internal/qfserrors"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Create(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCreateInsertsSelfReferentialRoot(t *testing.T) {
	c := newTestCatalog(t)

	root, err := c.Find("/")
	require.NoError(t, err)
	assert.Equal(t, root.PathKey, root.ParentKey)
	assert.True(t, root.IsDirectory())
	assert.True(t, root.IsNestedCatalogRoot())
}

func TestLoadReopensByHash(t *testing.T) {
	c := newTestCatalog(t)
	path := c.Path()
	hash := c.Hash()

	reopened, err := Load(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, hash, reopened.Hash())
}

func TestFindUnknownPathIsNotFound(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.Find("/does/not/exist")
	require.Error(t, err)
	code, ok := qfserrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, qfserrors.CodeNotFound, code)
}

func insertDir(t *testing.T, c *Catalog, path, name string) DirectoryEntry {
	t.Helper()
	canon := hashutil.CanonicalizePath(path)
	parentCanon := hashutil.CanonicalizePath(parentOf(path))
	entry := DirectoryEntry{
		PathKey:   hashutil.HashBytes([]byte(canon)),
		ParentKey: hashutil.HashBytes([]byte(parentCanon)),
		Hardlinks: 1,
		Mode:      0o755,
		Mtime:     time.Now().Unix(),
		Flags:     FlagDirectory,
		Name:      name,
	}
	require.NoError(t, c.InsertEntry(entry))
	return entry
}

func insertFile(t *testing.T, c *Catalog, path, name string, content string) DirectoryEntry {
	t.Helper()
	canon := hashutil.CanonicalizePath(path)
	parentCanon := hashutil.CanonicalizePath(parentOf(path))
	entry := DirectoryEntry{
		PathKey:     hashutil.HashBytes([]byte(canon)),
		ParentKey:   hashutil.HashBytes([]byte(parentCanon)),
		Hardlinks:   1,
		ContentHash: hashutil.HashBytes([]byte(content)),
		Size:        int64(len(content)),
		Mode:        0o644,
		Mtime:       time.Now().Unix(),
		Flags:       FlagFile,
		Name:        name,
	}
	require.NoError(t, c.InsertEntry(entry))
	return entry
}

func parentOf(path string) string {
	canon := hashutil.CanonicalizePath(path)
	idx := lastSlash(canon)
	if idx <= 0 {
		return "/"
	}
	return canon[:idx]
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func TestInsertAndFindEntry(t *testing.T) {
	c := newTestCatalog(t)
	insertDir(t, c, "/docs", "docs")

	entry, err := c.Find("/docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", entry.Name)
	assert.True(t, entry.IsDirectory())
}

func TestInsertEntryDuplicateIsRejected(t *testing.T) {
	c := newTestCatalog(t)
	insertDir(t, c, "/docs", "docs")

	dup := DirectoryEntry{
		PathKey:   hashutil.HashBytes([]byte("/docs")),
		ParentKey: hashutil.HashBytes([]byte("")),
		Mode:      0o755,
		Flags:     FlagDirectory,
		Name:      "docs",
	}
	err := c.InsertEntry(dup)
	require.Error(t, err)
	code, ok := qfserrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, qfserrors.CodeDuplicateEntry, code)
}

func TestListDirectoryOrdersByName(t *testing.T) {
	c := newTestCatalog(t)
	insertDir(t, c, "/docs", "docs")
	insertFile(t, c, "/docs/b.txt", "b.txt", "bbb")
	insertFile(t, c, "/docs/a.txt", "a.txt", "aaa")

	children, err := c.ListDirectory("/docs")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "a.txt", children[0].Name)
	assert.Equal(t, "b.txt", children[1].Name)
}

func TestListDirectoryOfRootExcludesSelf(t *testing.T) {
	c := newTestCatalog(t)
	insertDir(t, c, "/docs", "docs")

	children, err := c.ListDirectory("/")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "docs", children[0].Name)
}

func TestFindNestedForPathLongestPrefixMatch(t *testing.T) {
	c := newTestCatalog(t)
	insertDir(t, c, "/foo", "foo")

	mountKey := hashutil.HashBytes([]byte("/foo"))
	nestedHash := hashutil.HashBytes([]byte("nested catalog contents"))
	require.NoError(t, c.InsertNestedCatalog(CatalogReference{
		MountPointKey: mountKey,
		CatalogHash:   nestedHash,
		Size:          42,
	}))

	ref, err := c.FindNestedForPath("/foo/bar/baz")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, mountKey, ref.MountPointKey)
	assert.Equal(t, nestedHash, ref.CatalogHash)
}

func TestFindNestedForPathDoesNotMatchSiblingWithSimilarPrefix(t *testing.T) {
	c := newTestCatalog(t)
	mountKey := hashutil.HashBytes([]byte("/foo"))
	require.NoError(t, c.InsertNestedCatalog(CatalogReference{
		MountPointKey: mountKey,
		CatalogHash:   hashutil.HashBytes([]byte("x")),
		Size:          1,
	}))

	ref, err := c.FindNestedForPath("/foo_bar")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestFindNestedForPathNoneMounted(t *testing.T) {
	c := newTestCatalog(t)
	ref, err := c.FindNestedForPath("/anywhere")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestListNestedReturnsAllReferences(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.InsertNestedCatalog(CatalogReference{
		MountPointKey: hashutil.HashBytes([]byte("/a")),
		CatalogHash:   hashutil.HashBytes([]byte("a-catalog")),
		Size:          10,
	}))
	require.NoError(t, c.InsertNestedCatalog(CatalogReference{
		MountPointKey: hashutil.HashBytes([]byte("/b")),
		CatalogHash:   hashutil.HashBytes([]byte("b-catalog")),
		Size:          20,
	}))

	refs, err := c.ListNested()
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}
