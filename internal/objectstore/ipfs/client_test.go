package ipfs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumfs/quantumfs/internal/hashutil"
	"github.com/quantumfs/quantumfs/internal/qfserrors"
)

const testHash = "QmaozNR7DZHQK1ZcU9p7QdrshMvXqWK6gpu5rmrkPdT3L4"

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return NewClient(Config{Server: host, Port: port, MaxRetries: 3}, nil)
}

func TestClientGetReturnsBlockBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/block/get"))
		assert.Equal(t, testHash, r.URL.Query().Get("arg"))
		w.Write([]byte("file contents"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	data, err := c.Get(context.Background(), hashutil.MustParseHash(testHash))
	require.NoError(t, err)
	assert.Equal(t, "file contents", string(data))
}

func TestClientGetNotFoundMapsToNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Get(context.Background(), hashutil.MustParseHash(testHash))
	require.Error(t, err)
	code, ok := qfserrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, qfserrors.CodeNotFound, code)
}

func TestClientGetRetriesTransientFailures(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("eventually ok"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	data, err := c.Get(context.Background(), hashutil.MustParseHash(testHash))
	require.NoError(t, err)
	assert.Equal(t, "eventually ok", string(data))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClientStreamReturnsOpenReader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("streamed"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	rc, err := c.Stream(context.Background(), hashutil.MustParseHash(testHash))
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(data))
}

func TestClientPutReturnsComputedHash(t *testing.T) {
	content := []byte("published content")
	want := hashutil.HashBytes(content)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/block/put"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Key":"` + want.String() + `"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	got, err := c.Put(context.Background(), content)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClientPutRejectsMismatchedHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Key":"QmaozNR7DZHQK1ZcU9p7QdrshMvXqWK6gpu5rmrkPdT3L4"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Put(context.Background(), []byte("something else entirely"))
	require.Error(t, err)
	code, ok := qfserrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, qfserrors.CodeCorruptObject, code)
}
