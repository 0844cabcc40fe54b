// Package catalog implements QuantumFS's per-revision directory catalog:
// a SQLite database mapping canonicalized path hashes to directory
// entries, plus a side table recording where nested catalogs are
// mounted within this catalog's namespace. Grounded on the sqlfs
// plugin's database/sql + mattn/go-sqlite3 usage, adapted from a flat
// single-table namespace to the two-table schema spec.md §6 requires.
package catalog

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/quantumfs/quantumfs/internal/hashutil"
	"github.com/quantumfs/quantumfs/internal/qfserrors"
)

// Flag bits stored in catalog.flags, per spec.md §3.
const (
	FlagDirectory         uint32 = 1
	FlagFile              uint32 = 4
	FlagSymlink           uint32 = 8
	FlagNestedCatalogRoot uint32 = 32
)

const schemaSQL = `
CREATE TABLE catalog (
	path      TEXT NOT NULL,
	parent    TEXT NOT NULL,
	hardlinks INTEGER NOT NULL DEFAULT 1,
	hash      BLOB,
	size      INTEGER NOT NULL DEFAULT 0,
	mode      INTEGER NOT NULL DEFAULT 0,
	mtime     INTEGER NOT NULL DEFAULT 0,
	flags     INTEGER NOT NULL DEFAULT 0,
	name      TEXT NOT NULL DEFAULT '',
	symlink   TEXT NOT NULL DEFAULT '',
	uid       INTEGER NOT NULL DEFAULT 0,
	gid       INTEGER NOT NULL DEFAULT 0,
	xattr     BLOB,
	CONSTRAINT pk_catalog PRIMARY KEY (path)
);
CREATE INDEX idx_catalog_parent ON catalog (parent);
CREATE TABLE nested_catalogs (
	path TEXT NOT NULL,
	hash TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	CONSTRAINT pk_nested_catalogs PRIMARY KEY (path)
);
`

// DirectoryEntry is one row of the catalog table.
type DirectoryEntry struct {
	PathKey     hashutil.ObjectHash
	ParentKey   hashutil.ObjectHash
	Hardlinks   int64
	ContentHash hashutil.ObjectHash // zero for directories and symlinks
	Size        int64
	Mode        int64
	Mtime       int64
	Flags       uint32
	Name        string
	Symlink     string
	UID         uint32
	GID         uint32
	Xattr       []byte
}

func (e DirectoryEntry) IsDirectory() bool        { return e.Flags&FlagDirectory != 0 }
func (e DirectoryEntry) IsFile() bool             { return e.Flags&FlagFile != 0 }
func (e DirectoryEntry) IsSymlink() bool          { return e.Flags&FlagSymlink != 0 }
func (e DirectoryEntry) IsNestedCatalogRoot() bool { return e.Flags&FlagNestedCatalogRoot != 0 }

// CatalogReference is a row of the nested_catalogs table: the mount
// point (keyed by the hash of its canonicalized path, matching the
// catalog entry marked FlagNestedCatalogRoot) and the hash/size of the
// nested catalog database itself.
type CatalogReference struct {
	MountPointKey hashutil.ObjectHash
	CatalogHash   hashutil.ObjectHash
	Size          int64
}

// Catalog is an open handle onto one catalog database.
type Catalog struct {
	db   *sql.DB
	hash hashutil.ObjectHash
	path string
	mu   sync.Mutex // serializes writes; reads go through database/sql's pool
}

// Create builds a brand-new, empty catalog (containing only its
// self-referential root entry) in cacheDir, and returns a writable
// handle keyed by the content hash of the resulting database file, for
// InsertEntry/InsertNestedCatalog. cacheDir must already exist.
func Create(cacheDir string) (*Catalog, error) {
	tmp, err := os.CreateTemp(cacheDir, "catalog-*.db.tmp")
	if err != nil {
		return nil, qfserrors.Wrap(qfserrors.CodeIO, "create temp catalog file", err).WithComponent("catalog")
	}
	tmpPath := tmp.Name()
	tmp.Close()

	db, err := sql.Open("sqlite3", tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, qfserrors.Wrap(qfserrors.CodeDatabaseError, "open temp catalog database", err).WithComponent("catalog")
	}

	if err := initSchema(db); err != nil {
		db.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if err := db.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, qfserrors.Wrap(qfserrors.CodeDatabaseError, "close temp catalog database", err).WithComponent("catalog")
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, qfserrors.Wrap(qfserrors.CodeIO, "read temp catalog file", err).WithComponent("catalog")
	}
	hash := hashutil.HashBytes(data)
	finalPath := filepath.Join(cacheDir, hash.String())
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, qfserrors.Wrap(qfserrors.CodeIO, "rename catalog file into place", err).WithComponent("catalog")
	}

	// Load opens read-only; a freshly created catalog is still being
	// built, so it gets a read-write handle.
	db, err = sql.Open("sqlite3", finalPath)
	if err != nil {
		return nil, qfserrors.Wrap(qfserrors.CodeDatabaseError, "open catalog database", err).WithComponent("catalog")
	}
	return &Catalog{db: db, hash: hash, path: finalPath}, nil
}

func initSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return qfserrors.Wrap(qfserrors.CodeDatabaseError, "begin schema transaction", err).WithComponent("catalog")
	}
	if _, err := tx.Exec(schemaSQL); err != nil {
		tx.Rollback()
		return qfserrors.Wrap(qfserrors.CodeDatabaseError, "create catalog schema", err).WithComponent("catalog")
	}

	root := hashutil.HashBytes([]byte(hashutil.CanonicalizePath("/")))
	now := time.Now().Unix()
	_, err = tx.Exec(
		`INSERT INTO catalog (path, parent, hardlinks, hash, size, mode, mtime, flags, name, symlink, uid, gid, xattr)
		 VALUES (?, ?, ?, NULL, 0, ?, ?, ?, '', '', 0, 0, NULL)`,
		root.String(), root.String(), 1, 0o755, now, FlagDirectory|FlagNestedCatalogRoot,
	)
	if err != nil {
		tx.Rollback()
		return qfserrors.Wrap(qfserrors.CodeDatabaseError, "insert root entry", err).WithComponent("catalog")
	}
	if err := tx.Commit(); err != nil {
		return qfserrors.Wrap(qfserrors.CodeDatabaseError, "commit schema transaction", err).WithComponent("catalog")
	}
	return nil
}

// Load opens an existing catalog database file. The catalog's content
// hash is taken from the file's base name, per spec.md §3's convention
// that catalogs are named by their own hash in the object cache.
func Load(path string) (*Catalog, error) {
	hash, err := hashutil.ParseHash(filepath.Base(path))
	if err != nil {
		return nil, qfserrors.Wrap(qfserrors.CodeDatabaseError, "catalog file name is not a valid object hash", err).
			WithComponent("catalog").WithDetail("path", path)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=true")
	if err != nil {
		return nil, qfserrors.Wrap(qfserrors.CodeDatabaseError, "open catalog database", err).WithComponent("catalog")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, qfserrors.Wrap(qfserrors.CodeDatabaseError, "ping catalog database", err).WithComponent("catalog")
	}

	return &Catalog{db: db, hash: hash, path: path}, nil
}

// Hash returns the content hash this catalog is stored under.
func (c *Catalog) Hash() hashutil.ObjectHash { return c.hash }

// Path returns the filesystem path of the backing database file.
func (c *Catalog) Path() string { return c.path }

// Close releases the underlying database handle.
func (c *Catalog) Close() error { return c.db.Close() }

// Find looks up the entry at path (an absolute path within this
// catalog's own namespace, not yet descended into any nested catalog).
func (c *Catalog) Find(path string) (DirectoryEntry, error) {
	key := hashutil.HashBytes([]byte(hashutil.CanonicalizePath(path)))
	return c.findByKey(key)
}

func (c *Catalog) findByKey(key hashutil.ObjectHash) (DirectoryEntry, error) {
	row := c.db.QueryRow(
		`SELECT path, parent, hardlinks, hash, size, mode, mtime, flags, name, symlink, uid, gid, xattr
		 FROM catalog WHERE path = ?`, key.String())
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DirectoryEntry{}, qfserrors.New(qfserrors.CodeNotFound, "no such catalog entry").
			WithComponent("catalog").WithDetail("path_key", key.String())
	}
	if err != nil {
		return DirectoryEntry{}, qfserrors.Wrap(qfserrors.CodeDatabaseError, "query catalog entry", err).WithComponent("catalog")
	}
	return entry, nil
}

// ListDirectory returns the immediate children of the directory at
// path, ordered by name.
func (c *Catalog) ListDirectory(path string) ([]DirectoryEntry, error) {
	key := hashutil.HashBytes([]byte(hashutil.CanonicalizePath(path)))
	rows, err := c.db.Query(
		`SELECT path, parent, hardlinks, hash, size, mode, mtime, flags, name, symlink, uid, gid, xattr
		 FROM catalog WHERE parent = ? AND path != ? ORDER BY name ASC`,
		key.String(), key.String())
	if err != nil {
		return nil, qfserrors.Wrap(qfserrors.CodeDatabaseError, "query directory children", err).WithComponent("catalog")
	}
	defer rows.Close()

	var entries []DirectoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, qfserrors.Wrap(qfserrors.CodeDatabaseError, "scan directory child", err).WithComponent("catalog")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, qfserrors.Wrap(qfserrors.CodeDatabaseError, "iterate directory children", err).WithComponent("catalog")
	}
	return entries, nil
}

// ListNested returns every nested-catalog reference mounted within
// this catalog.
func (c *Catalog) ListNested() ([]CatalogReference, error) {
	rows, err := c.db.Query(`SELECT path, hash, size FROM nested_catalogs ORDER BY rowid ASC`)
	if err != nil {
		return nil, qfserrors.Wrap(qfserrors.CodeDatabaseError, "query nested catalogs", err).WithComponent("catalog")
	}
	defer rows.Close()

	var refs []CatalogReference
	for rows.Next() {
		var mountKeyText, catalogHashText string
		var size int64
		if err := rows.Scan(&mountKeyText, &catalogHashText, &size); err != nil {
			return nil, qfserrors.Wrap(qfserrors.CodeDatabaseError, "scan nested catalog row", err).WithComponent("catalog")
		}
		mountKey, err := hashutil.ParseHash(mountKeyText)
		if err != nil {
			return nil, qfserrors.Wrap(qfserrors.CodeCorruptObject, "nested catalog mount key is malformed", err).WithComponent("catalog")
		}
		catalogHash, err := hashutil.ParseHash(catalogHashText)
		if err != nil {
			return nil, qfserrors.Wrap(qfserrors.CodeCorruptObject, "nested catalog hash is malformed", err).WithComponent("catalog")
		}
		refs = append(refs, CatalogReference{MountPointKey: mountKey, CatalogHash: catalogHash, Size: size})
	}
	if err := rows.Err(); err != nil {
		return nil, qfserrors.Wrap(qfserrors.CodeDatabaseError, "iterate nested catalogs", err).WithComponent("catalog")
	}
	return refs, nil
}

// FindNestedForPath returns the nested-catalog reference whose mount
// point is the longest prefix of path satisfying hashutil.IsSanitized,
// or nil if path is not beneath any nested catalog mounted here.
//
// Because mount points are stored as path-key hashes rather than
// plaintext, the longest-prefix search is driven from the caller's own
// path string: every path-separator-bounded ancestor of path is hashed
// in turn, deepest first, and looked up directly.
func (c *Catalog) FindNestedForPath(path string) (*CatalogReference, error) {
	canon := hashutil.CanonicalizePath(path)
	for _, ancestor := range ancestorsOf(canon) {
		if !hashutil.IsSanitized(canon, ancestor) {
			continue
		}
		key := hashutil.HashBytes([]byte(ancestor))
		row := c.db.QueryRow(`SELECT path, hash, size FROM nested_catalogs WHERE path = ?`, key.String())
		var mountKeyText, catalogHashText string
		var size int64
		err := row.Scan(&mountKeyText, &catalogHashText, &size)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, qfserrors.Wrap(qfserrors.CodeDatabaseError, "query nested catalog for path", err).WithComponent("catalog")
		}
		catalogHash, err := hashutil.ParseHash(catalogHashText)
		if err != nil {
			return nil, qfserrors.Wrap(qfserrors.CodeCorruptObject, "nested catalog hash is malformed", err).WithComponent("catalog")
		}
		return &CatalogReference{MountPointKey: key, CatalogHash: catalogHash, Size: size}, nil
	}
	return nil, nil
}

// ancestorsOf returns canon and each of its path-separator-bounded
// ancestors, deepest first, ending at the root ("").
func ancestorsOf(canon string) []string {
	if canon == "" {
		return []string{""}
	}
	out := []string{canon}
	cur := canon
	for cur != "" {
		idx := strings.LastIndexByte(cur, '/')
		if idx <= 0 {
			cur = ""
		} else {
			cur = cur[:idx]
		}
		out = append(out, cur)
	}
	return out
}

// InsertEntry adds a new row to the catalog table. Used while building
// a catalog (e.g. from a commit), not during a read-only mount.
func (c *Catalog) InsertEntry(e DirectoryEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hashParam any
	if !e.ContentHash.IsZero() {
		hashParam = e.ContentHash.String()
	}

	_, err := c.db.Exec(
		`INSERT INTO catalog (path, parent, hardlinks, hash, size, mode, mtime, flags, name, symlink, uid, gid, xattr)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.PathKey.String(), e.ParentKey.String(), e.Hardlinks, hashParam, e.Size, e.Mode, e.Mtime,
		e.Flags, e.Name, e.Symlink, e.UID, e.GID, e.Xattr,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return qfserrors.Wrap(qfserrors.CodeDuplicateEntry, "catalog entry already exists", err).
				WithComponent("catalog").WithDetail("path_key", e.PathKey.String())
		}
		return qfserrors.Wrap(qfserrors.CodeDatabaseError, "insert catalog entry", err).WithComponent("catalog")
	}
	return nil
}

// InsertNestedCatalog records where a nested catalog is mounted.
func (c *Catalog) InsertNestedCatalog(ref CatalogReference) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		`INSERT INTO nested_catalogs (path, hash, size) VALUES (?, ?, ?)`,
		ref.MountPointKey.String(), ref.CatalogHash.String(), ref.Size,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return qfserrors.Wrap(qfserrors.CodeDuplicateEntry, "nested catalog already registered", err).WithComponent("catalog")
		}
		return qfserrors.Wrap(qfserrors.CodeDatabaseError, "insert nested catalog", err).WithComponent("catalog")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (DirectoryEntry, error) {
	var pathText, parentText, nameText, symlinkText string
	var hashText sql.NullString
	var hardlinks, size, mode, mtime int64
	var flags uint32
	var uid, gid uint32
	var xattr []byte

	err := row.Scan(&pathText, &parentText, &hardlinks, &hashText, &size, &mode, &mtime, &flags, &nameText, &symlinkText, &uid, &gid, &xattr)
	if err != nil {
		return DirectoryEntry{}, err
	}

	pathKey, err := hashutil.ParseHash(pathText)
	if err != nil {
		return DirectoryEntry{}, qfserrors.Wrap(qfserrors.CodeCorruptObject, "catalog path key is malformed", err)
	}
	parentKey, err := hashutil.ParseHash(parentText)
	if err != nil {
		return DirectoryEntry{}, qfserrors.Wrap(qfserrors.CodeCorruptObject, "catalog parent key is malformed", err)
	}
	var contentHash hashutil.ObjectHash
	if hashText.Valid && hashText.String != "" {
		contentHash, err = hashutil.ParseHash(hashText.String)
		if err != nil {
			return DirectoryEntry{}, qfserrors.Wrap(qfserrors.CodeCorruptObject, "catalog content hash is malformed", err)
		}
	}

	return DirectoryEntry{
		PathKey:     pathKey,
		ParentKey:   parentKey,
		Hardlinks:   hardlinks,
		ContentHash: contentHash,
		Size:        size,
		Mode:        mode,
		Mtime:       mtime,
		Flags:       flags,
		Name:        nameText,
		Symlink:     symlinkText,
		UID:         uid,
		GID:         gid,
		Xattr:       xattr,
	}, nil
}
