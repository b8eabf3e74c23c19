package controlsocket

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/codegrade/cgfs/internal/api"
	"github.com/codegrade/cgfs/internal/engine"
)

func startTestServer(t *testing.T, e *engine.Engine) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := &Server{Engine: e}
	go s.Serve(ctx, ln)
	return ln
}

func roundTrip(t *testing.T, ln net.Listener, req request) response {
	t.Helper()
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data, _ := json.Marshal(req)
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write request: %v", err)
	}
	conn.(*net.TCPConn).CloseWrite()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	out, err := readFramed(conn)
	if err != nil && len(out) == 0 {
		t.Fatalf("read response: %v", err)
	}
	var resp response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", out, err)
	}
	return resp
}

func TestServeIsFileOnRootIsRejected(t *testing.T) {
	t.Parallel()
	client := api.NewClient("http://example.invalid", false)
	t.Cleanup(client.Close)
	e := engine.New(client, 1, "student1")

	ln := startTestServer(t, e)

	// The root resolves to a Directory, not a file of any kind, so
	// is_file reports an error rather than a false answer.
	resp := roundTrip(t, ln, request{Op: "is_file", Path: "/"})
	if resp.OK || resp.Error == "" {
		t.Fatalf("expected an error response for a directory path, got %+v", resp)
	}
}

func TestServeUnknownOperation(t *testing.T) {
	t.Parallel()
	client := api.NewClient("http://example.invalid", false)
	t.Cleanup(client.Close)
	e := engine.New(client, 1, "student1")

	ln := startTestServer(t, e)

	resp := roundTrip(t, ln, request{Op: "frobnicate"})
	if resp.OK {
		t.Fatal("expected an error response for an unknown operation")
	}
}

func TestServeGetFeedbackOnMissingPath(t *testing.T) {
	t.Parallel()
	client := api.NewClient("http://example.invalid", false)
	t.Cleanup(client.Close)
	e := engine.New(client, 1, "student1")

	ln := startTestServer(t, e)

	resp := roundTrip(t, ln, request{Op: "get_feedback", Path: "/nonexistent", Line: 1})
	if resp.OK {
		t.Fatal("expected an error response for a nonexistent path")
	}
}
