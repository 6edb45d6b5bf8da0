package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/YJSoft/StreamingRespirator/internal/config"
	"github.com/YJSoft/StreamingRespirator/internal/logger"
	"github.com/YJSoft/StreamingRespirator/internal/twitter"
	"github.com/YJSoft/StreamingRespirator/pkg/certificates"
)

// Server is the loopback proxy listener. Each accepted connection gets its own
// worker goroutine; the live-connection set lets Shutdown force-close every
// socket so no worker outlives the server.
type Server struct {
	config    *config.Config
	logger    logger.Logger
	authority *certificates.Authority
	registry  *twitter.Registry

	intercept *Interceptor

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  bool

	wg sync.WaitGroup
}

// New creates a proxy server instance
func New(cfg *config.Config, log logger.Logger, authority *certificates.Authority, registry *twitter.Registry) *Server {
	return &Server{
		config:    cfg,
		logger:    log,
		authority: authority,
		registry:  registry,
		intercept: NewInterceptor(cfg, log, registry),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Start binds the loopback listener and begins accepting connections in the
// background. When the configured port is taken, the next ports up to
// BindRetries are tried before giving up.
func (s *Server) Start() error {
	var (
		listener net.Listener
		err      error
	)

	for i := 0; i <= s.config.BindRetries; i++ {
		port := s.config.Port + i
		listener, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			break
		}
		s.logger.Warn("Port unavailable", "port", port, "error", err)
	}
	if err != nil {
		return fmt.Errorf("failed to bind a listener after %d retries: %w", s.config.BindRetries, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Proxy server listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(listener)

	return nil
}

// Addr returns the bound listener address, or empty before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Shutdown closes the listener, force-closes every live connection, and waits
// for the workers to finish
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closing = true
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Proxy server stopped")
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	s.logger.Debug("Connection accepted", "remote", conn.RemoteAddr().String())

	req, br, err := s.readFirstRequest(conn)
	if err != nil {
		if errors.Is(err, ErrMalformedRequest) {
			s.logger.Debug("Dropping malformed connection", "remote", conn.RemoteAddr().String(), "error", err)
		}
		return
	}

	if req.Method == "CONNECT" {
		hostname := stripPort(req.Host)

		// Bytes the client sent ahead of our 200 are sitting in the read
		// buffer; the tunnel must consume them before the raw socket.
		tunnelConn := &bufferedConn{Conn: conn, r: br}

		if hostname == s.config.StreamingHost || hostname == s.config.APIHost {
			s.handleMitm(tunnelConn, req, hostname)
		} else {
			s.handleForward(tunnelConn, req)
		}
		return
	}

	s.handlePlain(conn, br, req)
}

// bufferedConn drains a bufio.Reader before the underlying socket
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *bufferedConn) CloseWrite() error {
	if tcp, ok := c.Conn.(*net.TCPConn); ok {
		return tcp.CloseWrite()
	}
	return nil
}

func (s *Server) readFirstRequest(conn net.Conn) (*http.Request, *bufio.Reader, error) {
	br := bufio.NewReader(conn)
	req, err := readRequest(br)
	if err != nil {
		return nil, nil, err
	}
	return req, br, nil
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
