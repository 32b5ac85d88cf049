package grpc

import (
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestExtractSharedSecretAcceptsBearer(t *testing.T) {
	if got := extractSharedSecret(metadata.Pairs("authorization", "Bearer  abc ")); got != "abc" {
		t.Fatalf("expected bearer token, got %q", got)
	}
	if got := extractSharedSecret(metadata.Pairs(SharedSecretMetadataKey, "xyz", "authorization", "Bearer abc")); got != "xyz" {
		t.Fatalf("expected the dedicated header to win, got %q", got)
	}
	if got := extractSharedSecret(metadata.Pairs("authorization", "Basic abc")); got != "" {
		t.Fatalf("expected basic auth to be ignored, got %q", got)
	}
}

func TestServerOptionsOpenWithoutSecret(t *testing.T) {
	if opts := ServerOptions("  ", nil); len(opts) != 0 {
		t.Fatalf("expected no interceptors without a secret, got %d", len(opts))
	}
	if opts := ServerOptions("s", nil); len(opts) != 2 {
		t.Fatalf("expected unary and stream interceptors, got %d", len(opts))
	}
}
