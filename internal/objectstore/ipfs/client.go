// Package ipfs implements objectstore.Store against an IPFS HTTP API
// endpoint, the object network QuantumFS mounts read from (spec.md
// §4.4, §7). Grounded on the teacher's internal/storage/s3 client
// shape (config struct + *slog.Logger, constructed once per mount) and
// its pkg/retry backoff, re-expressed against net/http since no IPFS
// SDK is available in the dependency pack.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/quantumfs/quantumfs/internal/hashutil"
	"github.com/quantumfs/quantumfs/internal/qfserrors"
)

// Config configures a Client.
type Config struct {
	Server     string
	Port       int
	Timeout    time.Duration
	MaxRetries int
}

// DefaultConfig returns QuantumFS's default IPFS client settings.
func DefaultConfig() Config {
	return Config{
		Server:     "127.0.0.1",
		Port:       5001,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// Client reads blocks from an IPFS HTTP API endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryer    *Retryer
	logger     *slog.Logger
}

// NewClient builds a Client against cfg. logger is kept on the Client,
// tagged with component=objectstore.ipfs; Get, Stream and Put report
// failures through their returned errors and do not write to it. A nil
// logger is replaced by slog.Default().
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d/api/v0", cfg.Server, cfg.Port),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryer: New(RetryConfig{MaxAttempts: cfg.MaxRetries}),
		logger:  logger.With("component", "objectstore.ipfs"),
	}
}

// Get retrieves the full object named by hash via IPFS's block/get.
func (c *Client) Get(ctx context.Context, hash hashutil.ObjectHash) ([]byte, error) {
	var data []byte
	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		body, err := c.blockGet(ctx, hash)
		if err != nil {
			return err
		}
		defer body.Close()
		data, err = io.ReadAll(body)
		if err != nil {
			return qfserrors.Wrap(qfserrors.CodeIO, "read ipfs block body", err).WithComponent("objectstore.ipfs")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Stream retrieves the object named by hash as a reader.
func (c *Client) Stream(ctx context.Context, hash hashutil.ObjectHash) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		body, err = c.blockGet(ctx, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Put uploads data via IPFS's block/put and returns its content hash,
// computed locally rather than trusted from the server response: a
// mismatch between what IPFS reports and hashutil.HashBytes(data)
// means the store corrupted or mistransmitted the object.
func (c *Client) Put(ctx context.Context, data []byte) (hashutil.ObjectHash, error) {
	want := hashutil.HashBytes(data)

	contentType, bodyBytes, err := multipartBody(data)
	if err != nil {
		return hashutil.ObjectHash{}, err
	}

	endpoint := c.baseURL + "/block/put"
	var reported hashutil.ObjectHash
	err = c.retryer.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return qfserrors.Wrap(qfserrors.CodeIO, "build ipfs put request", err).WithComponent("objectstore.ipfs")
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return qfserrors.Wrap(qfserrors.CodeStoreUnreachable, "ipfs block/put failed", err).WithComponent("objectstore.ipfs")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return qfserrors.New(qfserrors.CodeStoreUnreachable, "ipfs block/put returned non-OK status").
				WithComponent("objectstore.ipfs").WithDetail("status", resp.StatusCode)
		}
		var result struct {
			Key string `json:"Key"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return qfserrors.Wrap(qfserrors.CodeIO, "decode ipfs block/put response", err).WithComponent("objectstore.ipfs")
		}
		reported, err = hashutil.ParseHash(result.Key)
		return err
	})
	if err != nil {
		return hashutil.ObjectHash{}, err
	}
	if !reported.Equal(want) {
		return hashutil.ObjectHash{}, qfserrors.New(qfserrors.CodeCorruptObject, "ipfs-reported hash does not match content").
			WithComponent("objectstore.ipfs").
			WithDetail("want", want.String()).
			WithDetail("got", reported.String())
	}
	return want, nil
}

func multipartBody(data []byte) (string, []byte, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", "block")
	if err != nil {
		return "", nil, qfserrors.Wrap(qfserrors.CodeIO, "build ipfs multipart body", err).WithComponent("objectstore.ipfs")
	}
	if _, err := part.Write(data); err != nil {
		return "", nil, qfserrors.Wrap(qfserrors.CodeIO, "write ipfs multipart body", err).WithComponent("objectstore.ipfs")
	}
	if err := w.Close(); err != nil {
		return "", nil, qfserrors.Wrap(qfserrors.CodeIO, "close ipfs multipart body", err).WithComponent("objectstore.ipfs")
	}
	return w.FormDataContentType(), buf.Bytes(), nil
}

func (c *Client) blockGet(ctx context.Context, hash hashutil.ObjectHash) (io.ReadCloser, error) {
	endpoint := c.baseURL + "/block/get?arg=" + url.QueryEscape(hash.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, qfserrors.Wrap(qfserrors.CodeIO, "build ipfs request", err).WithComponent("objectstore.ipfs")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, qfserrors.Wrap(qfserrors.CodeStoreUnreachable, "ipfs block/get failed", err).
			WithComponent("objectstore.ipfs").WithDetail("hash", hash.String())
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, qfserrors.New(qfserrors.CodeNotFound, "object not found in ipfs").
			WithComponent("objectstore.ipfs").WithDetail("hash", hash.String())
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, qfserrors.New(qfserrors.CodeStoreUnreachable, "ipfs returned non-OK status").
			WithComponent("objectstore.ipfs").
			WithDetail("hash", hash.String()).
			WithDetail("status", resp.StatusCode)
	}
	return resp.Body, nil
}
