package ipfs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/louisbranch/recordvault/internal/services/vault/blobstore"
)

// fakeNode is a minimal in-memory Kubo RPC server.
type fakeNode struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	pinned map[string]bool
}

func newFakeNode(t *testing.T) (*fakeNode, *Client) {
	t.Helper()
	node := &fakeNode{blobs: map[string][]byte{}, pinned: map[string]bool{}}
	server := httptest.NewServer(node)
	t.Cleanup(server.Close)
	client, err := New(server.URL, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return node, client
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	switch r.URL.Path {
	case "/api/v0/add":
		if r.URL.Query().Get("pin") != "true" || r.URL.Query().Get("cid-version") != "0" {
			writeNodeError(w, "unexpected add options")
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeNodeError(w, err.Error())
			return
		}
		data, _ := io.ReadAll(file)
		hash := blobstore.ContentHash(data)
		n.blobs[hash] = data
		n.pinned[hash] = true
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"Name":"blob","Hash":"`+hash+`","Size":"10"}`)
	case "/api/v0/cat":
		data, ok := n.blobs[r.URL.Query().Get("arg")]
		if !ok {
			writeNodeError(w, "block was not found locally (offline): ipld: could not find node")
			return
		}
		_, _ = w.Write(data)
	case "/api/v0/pin/rm":
		hash := r.URL.Query().Get("arg")
		if !n.pinned[hash] {
			writeNodeError(w, "not pinned or pinned indirectly")
			return
		}
		delete(n.pinned, hash)
		_, _ = io.WriteString(w, `{"Pins":["`+hash+`"]}`)
	default:
		http.NotFound(w, r)
	}
}

func (n *fakeNode) isPinned(hash string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pinned[hash]
}

func writeNodeError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, `{"Message":"`+message+`","Code":0,"Type":"error"}`)
}

func TestNewValidatesURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://node", "://bad"} {
		if _, err := New(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestPutGetUnpin(t *testing.T) {
	node, client := newFakeNode(t)
	ctx := context.Background()
	data := []byte("consultation notes")

	hash, err := client.Put(ctx, data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !node.isPinned(hash) {
		t.Fatalf("hash %s not pinned on node", hash)
	}
	got, err := client.Get(ctx, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("get = %q", got)
	}

	if err := client.Unpin(ctx, hash); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	if err := client.Unpin(ctx, hash); err != nil {
		t.Fatalf("unpin of unpinned hash: %v", err)
	}
}

func TestGetMissingMapsToNotFound(t *testing.T) {
	_, client := newFakeNode(t)
	_, err := client.Get(context.Background(), blobstore.ContentHash([]byte("absent")))
	if !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatal("not-found error also matched ErrUnavailable")
	}
}

func TestGetRejectsInvalidHash(t *testing.T) {
	_, client := newFakeNode(t)
	if _, err := client.Get(context.Background(), "bogus"); !errors.Is(err, blobstore.ErrInvalidHash) {
		t.Fatalf("error = %v, want ErrInvalidHash", err)
	}
}

func TestUnreachableNode(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := New(url)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := client.Put(context.Background(), []byte("x")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestNodeErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeNodeError(w, "repo is locked")
	}))
	t.Cleanup(server.Close)
	client, err := New(server.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = client.Unpin(context.Background(), blobstore.ContentHash([]byte("x")))
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Message != "repo is locked" {
		t.Fatalf("error = %v", err)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("node error should match ErrUnavailable")
	}
}
