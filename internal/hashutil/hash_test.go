package hashutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHashValidShape(t *testing.T) {
	h, err := ParseHash("QmaozNR7DZHQK1ZcU9p7QdrshMvXqWK6gpu5rmrkPdT3L4")
	require.NoError(t, err)
	assert.Equal(t, "QmaozNR7DZHQK1ZcU9p7QdrshMvXqWK6gpu5rmrkPdT3L4", h.String())
}

func TestParseHashRejectsBadShape(t *testing.T) {
	cases := []string{
		"invalidhash",
		"",
		"QmaozNR7DZHQK1ZcU9p7QdrshMvXqWK6gpu5rmrkPdT3L4!",
		"short",
	}
	for _, c := range cases {
		_, err := ParseHash(c)
		assert.Error(t, err, "expected %q to be rejected", c)
	}
}

func TestHashBytesMatchesPattern(t *testing.T) {
	h := HashBytes([]byte("this is file1"))
	_, err := ParseHash(h.String())
	assert.NoError(t, err)
}

func TestHashBytesDeterministic(t *testing.T) {
	a := HashBytes([]byte("same content"))
	b := HashBytes([]byte("same content"))
	assert.Equal(t, a, b)

	c := HashBytes([]byte("different content"))
	assert.NotEqual(t, a, c)
}

func TestCanonicalizePath(t *testing.T) {
	cases := map[string]string{
		"/":            "",
		"":             "",
		"/a/b/../c":    "/a/c",
		"/a/b/./":      "/a/b",
		"/a/b":         "/a/b",
		"/a/b/":        "/a/b",
		"/a/../../b":   "/b",
		"a/b":          "/a/b",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalizePath(in), "canonicalize(%q)", in)
	}
}

func TestIsSanitized(t *testing.T) {
	assert.True(t, IsSanitized("/foo", "/foo"))
	assert.True(t, IsSanitized("/foo/bar", "/foo"))
	assert.False(t, IsSanitized("/foo_bar", "/foo"))
	assert.False(t, IsSanitized("/fo", "/foo"))
}
