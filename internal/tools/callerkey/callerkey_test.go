package callerkey

import (
	"bytes"
	"strings"
	"testing"

	"github.com/louisbranch/recordvault/internal/services/vault/callertoken"
)

func TestRunRequiresOutput(t *testing.T) {
	if err := Run(nil, bytes.NewReader([]byte{1})); err == nil {
		t.Fatal("expected error when output is nil")
	}
}

func TestRunWritesKeys(t *testing.T) {
	buf := &bytes.Buffer{}
	reader := bytes.NewReader(bytes.Repeat([]byte{1}, 64))
	if err := Run(buf, reader); err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	private := strings.TrimPrefix(lines[0], "export RECORDVAULT_CALLER_TOKEN_PRIVATE_KEY=")
	public := strings.TrimPrefix(lines[1], "export RECORDVAULT_CALLER_TOKEN_PUBLIC_KEY=")
	if private == lines[0] || public == lines[1] {
		t.Fatalf("unexpected output format: %q", buf.String())
	}

	privateKey, err := callertoken.ParsePrivateKey(private)
	if err != nil {
		t.Fatalf("parse private key: %v", err)
	}
	publicKey, err := callertoken.ParsePublicKey(public)
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}
	if !publicKey.Equal(privateKey.Public()) {
		t.Fatal("public key does not match private key")
	}
}
