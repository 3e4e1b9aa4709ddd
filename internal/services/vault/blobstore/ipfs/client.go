// Package ipfs stores blobs on an IPFS node through its Kubo RPC API.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/louisbranch/recordvault/internal/platform/otel"
	"github.com/louisbranch/recordvault/internal/platform/timeouts"
	"github.com/louisbranch/recordvault/internal/services/vault/blobstore"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/louisbranch/recordvault/internal/services/vault/blobstore/ipfs")

// ErrUnavailable indicates the node could not be reached or failed the call.
var ErrUnavailable = errors.New("ipfs node unavailable")

// Client talks to one Kubo node.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

var _ blobstore.Store = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// New returns a client for the node API at apiURL, e.g. http://127.0.0.1:5001.
func New(apiURL string, opts ...Option) (*Client, error) {
	apiURL = strings.TrimSpace(apiURL)
	if apiURL == "" {
		return nil, fmt.Errorf("ipfs api url is required")
	}
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse ipfs api url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("ipfs api url must be http or https, got %q", parsed.Scheme)
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeouts.StoreCall},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

type errorResponse struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
	Type    string `json:"Type"`
}

// Put adds and pins data, returning the node's CIDv0.
func (c *Client) Put(ctx context.Context, data []byte) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "ipfs.Put")
	defer func() { otel.End(span, err) }()
	span.SetAttributes(attribute.Int("ipfs.size", len(data)))

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "blob")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	query := url.Values{"pin": {"true"}, "cid-version": {"0"}}
	resp, err := c.call(ctx, "add", query, &body, writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var added addResponse
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		return "", fmt.Errorf("%w: decode add response: %v", ErrUnavailable, err)
	}
	if _, err := blobstore.ParseHash(added.Hash); err != nil {
		return "", fmt.Errorf("node returned %q: %w", added.Hash, err)
	}
	span.SetAttributes(attribute.String("ipfs.hash", added.Hash))
	return added.Hash, nil
}

// Get reads the bytes behind hash. The node is queried offline so a blob
// that is not held locally fails fast instead of searching the network.
func (c *Client) Get(ctx context.Context, hash string) (_ []byte, err error) {
	ctx, span := tracer.Start(ctx, "ipfs.Get")
	defer func() { otel.End(span, err) }()
	span.SetAttributes(attribute.String("ipfs.hash", hash))

	if _, err := blobstore.ParseHash(hash); err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, "cat", url.Values{"arg": {hash}, "offline": {"true"}}, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read cat response: %v", ErrUnavailable, err)
	}
	return data, nil
}

// Unpin removes the recursive pin on hash. A hash that is not pinned counts
// as already unpinned.
func (c *Client) Unpin(ctx context.Context, hash string) (err error) {
	ctx, span := tracer.Start(ctx, "ipfs.Unpin")
	defer func() { otel.End(span, err) }()
	span.SetAttributes(attribute.String("ipfs.hash", hash))

	resp, err := c.call(ctx, "pin/rm", url.Values{"arg": {hash}}, nil, "")
	if err != nil {
		var nodeErr *NodeError
		if errors.As(err, &nodeErr) && strings.Contains(nodeErr.Message, "not pinned") {
			return nil
		}
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// NodeError is an error reported by the node itself.
type NodeError struct {
	Command string
	Status  int
	Message string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("ipfs %s: %d %s", e.Command, e.Status, e.Message)
}

// Is maps node errors onto blob store sentinels.
func (e *NodeError) Is(target error) bool {
	switch target {
	case blobstore.ErrNotFound:
		return isNotFoundMessage(e.Message)
	case ErrUnavailable:
		return !isNotFoundMessage(e.Message)
	}
	return false
}

func isNotFoundMessage(message string) bool {
	message = strings.ToLower(message)
	return strings.Contains(message, "not found") || strings.Contains(message, "block was not found locally")
}

// call issues a Kubo RPC request. Every RPC is a POST.
func (c *Client) call(ctx context.Context, command string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	endpoint := c.baseURL.JoinPath("api", "v0", command)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", command, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, command, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	nodeErr := &NodeError{Command: command, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var decoded errorResponse
	if json.Unmarshal(raw, &decoded) == nil && decoded.Message != "" {
		nodeErr.Message = decoded.Message
	}
	return nil, nodeErr
}
