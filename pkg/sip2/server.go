package sip2

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"github.com/yourusername/sip2-server/pkg/config"
	"github.com/yourusername/sip2-server/pkg/ils"
)

// Stats is a snapshot of the server counters, served by the admin API.
type Stats struct {
	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	FramesRead        int64 `json:"frames_read"`
	ResponsesWritten  int64 `json:"responses_written"`
	ChecksumFailures  int64 `json:"checksum_failures"`
	Resends           int64 `json:"resends"`
	LoginFailures     int64 `json:"login_failures"`
}

// Server accepts SIP connections and runs one Session per connection.
// The backend handle is shared; all per-terminal protocol state lives in
// the sessions.
type Server struct {
	cfg     *config.Config
	backend ils.ILS

	mu       sync.Mutex
	listener net.Listener

	activeConns  atomic.Int64
	totalConns   atomic.Int64
	framesRead   atomic.Int64
	respsWritten atomic.Int64
	cksumFails   atomic.Int64
	resends      atomic.Int64
	loginFails   atomic.Int64
}

// NewServer wires a server to its configuration and circulation backend.
func NewServer(cfg *config.Config, backend ils.ILS) *Server {
	return &Server{cfg: cfg, backend: backend}
}

// Addr returns the bound listen address, useful when the configuration
// asked for port 0.
func (srv *Server) Addr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

// Stats snapshots the server counters.
func (srv *Server) Stats() Stats {
	return Stats{
		ActiveConnections: srv.activeConns.Load(),
		TotalConnections:  srv.totalConns.Load(),
		FramesRead:        srv.framesRead.Load(),
		ResponsesWritten:  srv.respsWritten.Load(),
		ChecksumFailures:  srv.cksumFails.Load(),
		Resends:           srv.resends.Load(),
		LoginFailures:     srv.loginFails.Load(),
	}
}

// ListenAndServe binds the configured address and serves until the
// context is canceled.
func (srv *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", srv.cfg.Listen)
	if err != nil {
		return err
	}
	if srv.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, srv.cfg.MaxConnections)
	}
	srv.mu.Lock()
	srv.listener = ln
	srv.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("sip server listening", "addr", ln.Addr().String(),
		"institution", srv.cfg.Institution, "backend", srv.cfg.Backend)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		go srv.handleConn(ctx, conn)
	}
}

// handleConn owns one terminal connection: read a CR-terminated frame,
// run it through the session, write back whatever the session produced.
// Any read or write error ends the connection; the protocol itself never
// does.
func (srv *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	srv.totalConns.Add(1)
	srv.activeConns.Add(1)
	defer srv.activeConns.Add(-1)

	remote := conn.RemoteAddr().String()
	slog.Info("terminal connected", "remote", remote)
	defer slog.Info("terminal disconnected", "remote", remote)

	sess := NewSession(srv.cfg, srv.backend)
	reader := bufio.NewReader(conn)

	for {
		if ctx.Err() != nil {
			return
		}
		if srv.cfg.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(srv.cfg.IdleTimeout))
		}
		line, err := reader.ReadString('\r')
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				slog.Info("closing idle connection", "remote", remote)
			}
			return
		}
		frame := strings.TrimRight(line, "\r\n")
		// Some terminals send LF-prefixed frames.
		frame = strings.TrimLeft(frame, "\n")
		if frame == "" {
			continue
		}
		srv.framesRead.Add(1)

		resp := sess.Process(frame)
		srv.account(frame, resp)
		if resp == "" {
			continue
		}
		if srv.cfg.IdleTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(srv.cfg.IdleTimeout))
		}
		if _, err := conn.Write([]byte(resp)); err != nil {
			slog.Warn("write failed", "remote", remote, "error", err)
			return
		}
		srv.respsWritten.Add(1)
	}
}

// account updates the protocol counters from one request/response pair.
func (srv *Server) account(frame, resp string) {
	if strings.HasPrefix(frame, MsgRequestACSResend) {
		srv.resends.Add(1)
	}
	switch {
	case resp == MsgRequestSCResend+"\r":
		srv.cksumFails.Add(1)
	case strings.HasPrefix(frame, MsgLogin) && strings.HasPrefix(resp, MsgLoginResp+"0"):
		srv.loginFails.Add(1)
	}
}
