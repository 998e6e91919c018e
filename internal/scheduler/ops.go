package scheduler

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"
)

// OpsListener multiplexes a plaintext status protocol and net/http/pprof
// on one loopback listener (SPEC_FULL.md §2: "multiplexes a plaintext
// status line (STATUS\n -> JSON) and net/http/pprof on one loopback
// listener for local operability"). This is operational introspection,
// not the tool-call wire protocol (internal/toolloop.WireServer, its own
// dedicated socket) and not a product HTTP surface.
type OpsListener struct {
	Scheduler *Scheduler
}

// Serve accepts connections on ln, splitting plaintext "STATUS\n" lines
// from HTTP requests by first-byte sniffing via cmux, until ctx is
// cancelled.
func (o *OpsListener) Serve(ctx context.Context, ln net.Listener) error {
	m := cmux.New(ln)
	httpLn := m.Match(cmux.HTTP1Fast())
	statusLn := m.Match(cmux.Any())

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	httpServer := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
		_ = ln.Close()
	}()

	go func() {
		if err := httpServer.Serve(httpLn); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("scheduler: ops http listener stopped")
		}
	}()

	go o.serveStatusLines(ctx, statusLn)

	if err := m.Serve(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (o *OpsListener) serveStatusLines(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("scheduler: ops status listener accept failed")
			return
		}
		go o.handleStatusConn(conn)
	}
}

func (o *OpsListener) handleStatusConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "STATUS") {
			payload, err := json.Marshal(o.Scheduler.Stats())
			if err != nil {
				return
			}
			conn.Write(append(payload, '\n'))
			continue
		}
		conn.Write([]byte(`{"error":"unknown command"}` + "\n"))
	}
}
