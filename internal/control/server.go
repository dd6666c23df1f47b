package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const maxLine = 1024

// Server is the line-delimited TCP control channel. Each connection may send
// any number of newline-terminated commands and gets one reply line per
// non-empty command.
type Server struct {
	addr string
	ctrl *Controller
	log  zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func NewServer(addr string, ctrl *Controller, log zerolog.Logger) *Server {
	return &Server{
		addr:  addr,
		ctrl:  ctrl,
		log:   log.With().Str("component", "control_server").Logger(),
		conns: make(map[net.Conn]struct{}),
	}
}

// Start binds the listener so Addr is valid before Serve runs.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("control server already started")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("control server listening")
	return nil
}

// Addr is the bound address, or empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts clients until ctx is done, then closes every open connection
// and waits for their handlers.
func (s *Server) Serve(ctx context.Context) error {
	if s.Addr() == "" {
		if err := s.Start(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.track(conn, true)
		if ctx.Err() != nil {
			_ = conn.Close()
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
		return
	}
	delete(s.conns, c)
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.track(conn, false)
	defer conn.Close()

	peer := conn.RemoteAddr().String()
	s.log.Info().Str("peer", peer).Msg("client connected")
	defer s.log.Info().Str("peer", peer).Msg("client disconnected")

	s.serveConn(conn)
}

// serveConn speaks the protocol over any stream; it returns when the peer
// closes or a write fails.
func (s *Server) serveConn(rw io.ReadWriter) {
	sc := bufio.NewScanner(rw)
	sc.Buffer(make([]byte, 0, 64), maxLine)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		reply := s.ctrl.Execute(line)
		s.log.Debug().Str("command", line).Str("reply", reply).Msg("control command")
		if _, err := fmt.Fprintf(rw, "%s\n", reply); err != nil {
			return
		}
	}
}
