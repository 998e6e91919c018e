package toolloop

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// wireRequest is one line of the tool-request socket protocol (spec §6):
// line-delimited JSON over a platform-native local socket, one request
// per line.
type wireRequest struct {
	Op     string                 `json:"op"`
	ID     string                 `json:"id"`
	Params map[string]interface{} `json:"params"`
}

// wireResponse mirrors a request by ID. Error strings containing
// "overloaded" or "timeout" are a client-facing signal to fall back to
// direct-DB mode for subsequent calls (spec §6), so those two error
// kinds are surfaced verbatim rather than wrapped.
type wireResponse struct {
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// WireServer accepts wireRequest lines on a listener and dispatches them
// through a Registry, one op per "<tool-name>" value. It is the socket
// transport counterpart to the in-process dispatch the chat-style driver
// uses directly (spec §6 transport 2).
type WireServer struct {
	Registry  *Registry
	ProjectID int64
}

// Serve accepts connections on ln until ctx is cancelled or ln.Close is
// called elsewhere, handling each connection on its own goroutine.
func (s *WireServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *WireServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var req wireRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(wireResponse{OK: false, Error: "invalid request: " + err.Error()})
			continue
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		resp := s.dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			log.Warn().Err(err).Msg("toolloop: failed writing wire response")
			return
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		log.Warn().Err(err).Msg("toolloop: wire connection scan error")
	}
}

func (s *WireServer) dispatch(ctx context.Context, req wireRequest) wireResponse {
	result, err := s.Registry.Dispatch(ctx, s.ProjectID, req.Op, req.Params)
	if err != nil {
		return wireResponse{ID: req.ID, OK: false, Error: err.Error()}
	}
	return wireResponse{ID: req.ID, OK: true, Result: result}
}

// WireClient issues requests against a WireServer over a single
// connection and tracks whether the server has signaled overload, after
// which callers should stop using it and fall back to direct-DB mode.
type WireClient struct {
	conn      net.Conn
	enc       *json.Encoder
	dec       *json.Decoder
	degraded  bool
	degradeOn string
}

// NewWireClient wraps an already-dialed connection (Unix socket or named
// pipe) for request/response round trips.
func NewWireClient(conn net.Conn) *WireClient {
	return &WireClient{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}
}

// Degraded reports whether a prior call signaled overload or timeout,
// and the reason, per spec §6's client fallback convention.
func (c *WireClient) Degraded() (bool, string) { return c.degraded, c.degradeOn }

// Call sends one request and blocks for its matching response. The
// socket protocol is request/response per line without multiplexed
// request IDs in flight, so Call must not be used concurrently on one
// WireClient; callers needing concurrency should open multiple
// connections.
func (c *WireClient) Call(op string, params map[string]interface{}) (interface{}, error) {
	req := wireRequest{Op: op, ID: uuid.NewString(), Params: params}
	if err := c.enc.Encode(req); err != nil {
		return nil, fmt.Errorf("wire encode: %w", err)
	}
	var resp wireResponse
	if err := c.dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("wire decode: %w", err)
	}
	if !resp.OK {
		lower := strings.ToLower(resp.Error)
		if strings.Contains(lower, "overloaded") || strings.Contains(lower, "timeout") {
			c.degraded = true
			c.degradeOn = resp.Error
		}
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp.Result, nil
}

// Close closes the underlying connection.
func (c *WireClient) Close() error { return c.conn.Close() }
