package resolvedhost

import (
	"context"
	"net"
	"testing"
)

func TestResolveReturnsSameHostForSameKey(t *testing.T) {
	r := NewRegistry(&net.Resolver{})
	ctx := context.Background()

	h1, err := r.Resolve(ctx, "localhost", 443)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	h2, err := r.Resolve(ctx, "localhost", 443)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if h1 != h2 {
		t.Error("expected repeated Resolve calls for the same hostname:port to return the same *Host")
	}
	if h1.ID != h2.ID {
		t.Errorf("ID mismatch: %d != %d", h1.ID, h2.ID)
	}
}

func TestResolveDistinguishesPorts(t *testing.T) {
	r := NewRegistry(&net.Resolver{})
	ctx := context.Background()

	h1, err := r.Resolve(ctx, "localhost", 443)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	h2, err := r.Resolve(ctx, "localhost", 8443)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if h1.ID == h2.ID {
		t.Error("expected different ports to produce distinct host identities")
	}
}
