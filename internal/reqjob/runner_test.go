package reqjob

import (
	"context"
	"errors"
	"testing"

	"github.com/watt-toolkit/httpsx/internal/location"
)

// TestRunReportsCancelledWithoutTouchingPoolOrResolver guards spec.md §4.4
// step 1: a task that arrives already cancelled must fail fast, before
// resolving the host or consulting the connection cache. Pool and Resolver
// are left nil here; a nil-pointer panic would mean Run reached past the
// ctx.Err() check.
func TestRunReportsCancelledWithoutTouchingPoolOrResolver(t *testing.T) {
	r := &Runner{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, Message{Location: location.Location{Scheme: location.SchemeGet, Host: "example.com"}})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run() err = %v, want ErrCancelled", err)
	}
}

func TestBuildRequestGet(t *testing.T) {
	loc := location.Location{Scheme: location.SchemeGet, Host: "example.com", Path: "/a", Query: "b=1"}
	req, err := buildRequest(loc, Message{})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.Method != "GET" {
		t.Errorf("Method = %q, want GET", req.Method)
	}
	if req.Target != "/a?b=1" {
		t.Errorf("Target = %q", req.Target)
	}
}

func TestBuildRequestPostSetsContentLength(t *testing.T) {
	loc := location.Location{Scheme: location.SchemePost, Host: "example.com", Path: "/submit"}
	req, err := buildRequest(loc, Message{Body: []byte("hello")})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.Method != "POST" {
		t.Errorf("Method = %q, want POST", req.Method)
	}
	if got := req.Header.Get("Content-Length"); got != "5" {
		t.Errorf("Content-Length = %q, want 5", got)
	}
}

func TestBuildRequestFullExtractsMethodAndTarget(t *testing.T) {
	loc := location.Location{Scheme: location.SchemeFull, Host: "example.com", Path: "/ignored"}
	req, err := buildRequest(loc, Message{Body: []byte("PUT /explicit/target\r\npayload")})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.Method != "PUT" {
		t.Errorf("Method = %q, want PUT", req.Method)
	}
	if req.Target != "/explicit/target" {
		t.Errorf("Target = %q, want /explicit/target", req.Target)
	}
}

func TestSplitFullMessageRequiresMethodLine(t *testing.T) {
	if _, _, _, err := splitFullMessage([]byte("no newline here")); err == nil {
		t.Fatal("expected error when the method line is missing")
	}
}

func TestSplitFullMessageWithoutTarget(t *testing.T) {
	method, target, body, err := splitFullMessage([]byte("GET\nbody-bytes"))
	if err != nil {
		t.Fatalf("splitFullMessage: %v", err)
	}
	if method != "GET" || target != "" {
		t.Errorf("method=%q target=%q", method, target)
	}
	if string(body) != "body-bytes" {
		t.Errorf("body = %q", body)
	}
}
