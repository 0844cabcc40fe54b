// Package hashutil implements the content-address primitives QuantumFS
// keys everything by: validated object hashes, canonical path forms, and
// the nested-catalog "sanitized prefix" rule.
package hashutil

import (
	"regexp"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multihash"

	"github.com/quantumfs/quantumfs/internal/qfserrors"
)

// hashPattern is the shape of a Base58 SHA-256 multihash as produced by
// HashBytes: a 0x12 0x20 prefix plus a 32-byte digest, Base58-encoded.
var hashPattern = regexp.MustCompile(`^[A-Za-z0-9]{46}$`)

// ObjectHash is an opaque, validated content address. The zero value is
// not a valid hash; construct one with ParseHash or HashBytes.
type ObjectHash struct {
	text string
}

// String returns the Base58 text form of the hash.
func (h ObjectHash) String() string {
	return h.text
}

// IsZero reports whether h is the unconstructed zero value.
func (h ObjectHash) IsZero() bool {
	return h.text == ""
}

// Equal reports whether two hashes have the same text form.
func (h ObjectHash) Equal(other ObjectHash) bool {
	return h.text == other.text
}

// ParseHash validates s against the canonical Base58 multihash shape and
// returns an ObjectHash, or InvalidHash if s does not match.
func ParseHash(s string) (ObjectHash, error) {
	if !hashPattern.MatchString(s) {
		return ObjectHash{}, qfserrors.New(qfserrors.CodeInvalidHash, "malformed object hash").
			WithDetail("value", s)
	}
	return ObjectHash{text: s}, nil
}

// MustParseHash is ParseHash but panics on error; for use with constant
// or already-validated strings (tests, genesis sentinels).
func MustParseHash(s string) ObjectHash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// HashBytes computes the Base58-encoded SHA-256 multihash (0x12 0x20
// prefix) of buf. This is the sole hashing primitive used to derive
// path_key/parent_key values and object-store content addresses.
func HashBytes(buf []byte) ObjectHash {
	sum, err := multihash.Sum(buf, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum only fails for unsupported codes/lengths; SHA2_256
		// with the default length is always supported.
		panic("hashutil: SHA2_256 multihash encoding failed: " + err.Error())
	}
	return ObjectHash{text: base58.Encode(sum)}
}

// CanonicalizePath absolutizes p, resolves "." and ".." components
// against root, and strips trailing slashes. The degenerate inputs ""
// and "/" both canonicalize to "" (representing the filesystem root).
func CanonicalizePath(p string) string {
	if p == "" || p == "/" {
		return ""
	}

	segments := make([]string, 0, 8)
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			seg := p[start:i]
			start = i + 1
			switch seg {
			case "", ".":
				// skip
			case "..":
				if len(segments) > 0 {
					segments = segments[:len(segments)-1]
				}
			default:
				segments = append(segments, seg)
			}
		}
	}

	if len(segments) == 0 {
		return ""
	}

	out := make([]byte, 0, len(p))
	for _, seg := range segments {
		out = append(out, '/')
		out = append(out, seg...)
	}
	return string(out)
}

// IsSanitized reports whether needle is a sanitized match against a
// catalog mounted at catalogMount: needle equals catalogMount exactly,
// or needle is longer and the character immediately following the
// mount-point prefix is a path separator. This guards against a mount
// at "/foo" spuriously matching a path like "/foo_bar".
func IsSanitized(needle, catalogMount string) bool {
	if len(needle) == len(catalogMount) {
		return needle == catalogMount
	}
	if len(needle) <= len(catalogMount) {
		return false
	}
	if needle[:len(catalogMount)] != catalogMount {
		return false
	}
	return needle[len(catalogMount)] == '/'
}
