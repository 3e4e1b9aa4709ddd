package tokenmint

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/recordvault/internal/services/vault/callertoken"
)

func TestParseConfigReadsEnvAndFlags(t *testing.T) {
	t.Setenv("RECORDVAULT_CALLER_TOKEN_PRIVATE_KEY", "env-key")
	fs := flag.NewFlagSet("tokenmint", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-address", "0xalice", "-ttl", "15m"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.PrivateKey != "env-key" {
		t.Fatalf("private key = %q, want env value", cfg.PrivateKey)
	}
	if cfg.Address != "0xalice" || cfg.TTL != 15*time.Minute {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Issuer != "recordvault" || cfg.Audience != "recordvault-mcp" {
		t.Fatalf("unexpected issuer/audience %q/%q", cfg.Issuer, cfg.Audience)
	}
}

func TestRunIssuesVerifiableToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := Config{
		Config: callertoken.Config{
			Issuer:     "recordvault",
			Audience:   "recordvault-mcp",
			PrivateKey: callertoken.EncodeKey(priv.Seed()),
			TTL:        time.Minute,
		},
		Address: "0xAlice",
	}
	buf := &bytes.Buffer{}
	if err := Run(cfg, buf); err != nil {
		t.Fatalf("run: %v", err)
	}

	verifier, err := callertoken.NewVerifier(cfg.Issuer, cfg.Audience, pub)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	claims, err := verifier.Verify(strings.TrimSpace(buf.String()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Address != "0xalice" {
		t.Fatalf("address = %q, want normalized 0xalice", claims.Address)
	}
}

func TestRunRejectsMissingInputs(t *testing.T) {
	cfg := Config{Config: callertoken.Config{Issuer: "a", Audience: "b", TTL: time.Minute}}
	if err := Run(cfg, &bytes.Buffer{}); err == nil {
		t.Fatal("expected missing address error")
	}
	cfg.Address = "0xalice"
	if err := Run(cfg, &bytes.Buffer{}); err == nil {
		t.Fatal("expected missing private key error")
	}
	cfg.PrivateKey = "not base64!"
	if err := Run(cfg, &bytes.Buffer{}); err == nil {
		t.Fatal("expected bad key error")
	}
	if err := Run(cfg, nil); err == nil {
		t.Fatal("expected nil output error")
	}
}
