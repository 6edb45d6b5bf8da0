package proxy

import (
	"bufio"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

var (
	connectionEstablished = []byte("HTTP/1.1 200 Connection Established\r\n\r\n")
	connectionFailed      = []byte("HTTP/1.1 502 Connection Failed\r\nConnection: close\r\n\r\n")
)

// handleForward serves CONNECT for hosts that are not intercepted: a raw TCP
// connection to the origin and a blind bidirectional byte relay, no decryption.
func (s *Server) handleForward(conn net.Conn, req *http.Request) {
	origin, err := net.DialTimeout("tcp", hostWithPort(req.Host, "443"), 10*time.Second)
	if err != nil {
		s.logger.Debug("Origin dial failed", "host", req.Host, "error", err)
		conn.Write(connectionFailed)
		return
	}
	defer origin.Close()

	if _, err := conn.Write(connectionEstablished); err != nil {
		return
	}

	s.logger.Debug("Forwarding tunnel opened", "host", req.Host)
	relay(conn, origin)
}

// relay copies both directions until each side finishes, half-closing the
// write leg so the peer sees EOF while its own data still drains
func relay(client, origin net.Conn) {
	done := make(chan struct{}, 2)

	pipe := func(dst, src net.Conn) {
		io.Copy(dst, src)
		if cw, ok := dst.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
		done <- struct{}{}
	}

	go pipe(origin, client)
	go pipe(client, origin)

	<-done
	<-done
}

// handleMitm terminates the client's TLS session with a locally-issued leaf
// certificate, then re-parses the decrypted traffic as HTTP and routes every
// request through the interceptor. A handshake or issuance failure drops the
// connection without contacting the origin.
func (s *Server) handleMitm(conn net.Conn, req *http.Request, hostname string) {
	cert, err := s.authority.CertificateFor(hostname)
	if err != nil {
		s.logger.Error("Certificate issuance failed", "host", hostname, "error", err)
		conn.Write(connectionFailed)
		return
	}

	if _, err := conn.Write(connectionEstablished); err != nil {
		return
	}

	tlsConn := tls.Server(conn, s.serverTLSConfig(cert, hostname))
	if err := tlsConn.Handshake(); err != nil {
		s.logger.Debug("Client TLS handshake failed", "host", hostname, "error", err)
		return
	}
	defer tlsConn.Close()

	s.logger.Debug("Intercepting tunnel opened", "host", hostname)

	br := bufio.NewReader(tlsConn)
	for {
		inner, err := readRequest(br)
		if err != nil {
			if errors.Is(err, ErrMalformedRequest) {
				s.logger.Debug("Malformed request inside tunnel", "host", hostname, "error", err)
			}
			return
		}

		if s.intercept.Serve(tlsConn, br, inner, hostname) {
			return
		}
	}
}

// handlePlain proxies cleartext HTTP exchanges, keeping the connection open
// across requests while both sides allow it. Twitter enforces TLS, so this
// path only carries non-Twitter traffic, relayed verbatim.
func (s *Server) handlePlain(conn net.Conn, br *bufio.Reader, req *http.Request) {
	for {
		resp, err := s.forwardPlain(req)
		if err != nil {
			s.logger.Debug("Plain forward failed", "url", req.URL.String(), "error", err)
			writeStatus(conn, http.StatusBadGateway)
			return
		}

		writeErr := resp.Write(conn)
		resp.Body.Close()
		if writeErr != nil {
			return
		}

		if req.Close || resp.Close {
			return
		}

		req, err = readRequest(br)
		if err != nil {
			return
		}
	}
}

func (s *Server) forwardPlain(req *http.Request) (*http.Response, error) {
	target := req.URL
	if !target.IsAbs() {
		target.Scheme = "http"
		target.Host = req.Host
	}

	out, err := http.NewRequest(req.Method, target.String(), req.Body)
	if err != nil {
		return nil, err
	}
	copyHeaders(out.Header, req.Header)
	out.Header.Del("Proxy-Connection")
	out.Header.Del("Proxy-Authorization")
	out.ContentLength = req.ContentLength

	return s.intercept.transport.RoundTrip(out)
}

func hostWithPort(host, defaultPort string) string {
	if strings.Contains(host, ":") {
		return host
	}
	return net.JoinHostPort(host, defaultPort)
}

// copyHeaders copies HTTP headers, excluding hop-by-hop headers
func copyHeaders(dst, src http.Header) {
	hopByHopHeaders := map[string]bool{
		"Connection":          true,
		"Keep-Alive":          true,
		"Proxy-Authenticate":  true,
		"Proxy-Authorization": true,
		"Te":                  true,
		"Trailers":            true,
		"Transfer-Encoding":   true,
		"Upgrade":             true,
	}

	for name, values := range src {
		if hopByHopHeaders[name] {
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}
