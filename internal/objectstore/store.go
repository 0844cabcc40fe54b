// Package objectstore defines QuantumFS's abstraction over the
// content-addressed object network backing a mount (spec.md §4.5). The
// only shipped implementation is the IPFS HTTP adapter in the ipfs
// subpackage. A mount only ever calls Get/Stream; Put exists for the
// `qfs commit`/`qfs push` publishing path, which builds revisions
// rather than serving them.
package objectstore

import (
	"context"
	"io"

	"github.com/quantumfs/quantumfs/internal/hashutil"
)

// Store fetches and publishes immutable, content-addressed objects.
type Store interface {
	// Get retrieves the full object named by hash.
	Get(ctx context.Context, hash hashutil.ObjectHash) ([]byte, error)

	// Stream retrieves the object named by hash as a reader, for
	// objects too large to buffer wholesale. Callers must Close it.
	Stream(ctx context.Context, hash hashutil.ObjectHash) (io.ReadCloser, error)

	// Put stores data and returns its computed hash. Implementations
	// must verify the store's own returned identifier against
	// hashutil.HashBytes(data) and report CorruptObject on mismatch.
	Put(ctx context.Context, data []byte) (hashutil.ObjectHash, error)
}
