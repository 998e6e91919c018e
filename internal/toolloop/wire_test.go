package toolloop

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestWireServer_RoundTrip(t *testing.T) {
	reg := &Registry{tools: map[string]Tool{
		"echo": {Name: "echo", Handler: func(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
			return "echo:" + paramString(params, "msg"), nil
		}},
	}}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &WireServer{Registry: reg, ProjectID: 1}
	go srv.Serve(ctx, ln)

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := NewWireClient(conn)
	defer client.Close()

	result, err := client.Call("echo", map[string]interface{}{"msg": "hi"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != "echo:hi" {
		t.Fatalf("expected echo:hi, got %v", result)
	}
}

func TestWireClient_DegradesOnOverloadedError(t *testing.T) {
	reg := &Registry{tools: map[string]Tool{
		"boom": {Name: "boom", Handler: func(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
			return "", errOverloaded{}
		}},
	}}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &WireServer{Registry: reg, ProjectID: 1}
	go srv.Serve(ctx, ln)

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := NewWireClient(conn)
	defer client.Close()

	_, err = client.Call("boom", nil)
	if err == nil {
		t.Fatal("expected error from boom tool")
	}
	degraded, reason := client.Degraded()
	if !degraded {
		t.Fatalf("expected client to flag degraded state, reason=%q", reason)
	}
}

type errOverloaded struct{}

func (errOverloaded) Error() string { return "provider overloaded, retry later" }
