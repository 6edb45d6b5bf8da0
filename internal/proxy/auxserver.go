package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/YJSoft/StreamingRespirator/internal/config"
	"github.com/YJSoft/StreamingRespirator/internal/logger"
	"github.com/YJSoft/StreamingRespirator/internal/twitter"
)

// AuxServer is the optional plain-HTTP transport for the streaming body. The
// MITM streaming handler redirects here when aux_streaming is on, for clients
// whose TLS stack cannot complete the intercepted handshake.
type AuxServer struct {
	config   *config.Config
	logger   logger.Logger
	registry *twitter.Registry

	server   *http.Server
	listener net.Listener
}

// NewAuxServer creates the auxiliary streaming listener
func NewAuxServer(cfg *config.Config, log logger.Logger, registry *twitter.Registry) *AuxServer {
	a := &AuxServer{
		config:   cfg,
		logger:   log,
		registry: registry,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/streaming/", a.handleStreaming)

	a.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
	}

	return a
}

// Start binds the loopback listener and serves in the background
func (a *AuxServer) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", a.config.AuxPort))
	if err != nil {
		return fmt.Errorf("failed to bind aux listener: %w", err)
	}
	a.listener = listener

	a.logger.Info("Auxiliary streaming listener started", "addr", listener.Addr().String())

	go func() {
		if err := a.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Auxiliary server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or empty before Start
func (a *AuxServer) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// Shutdown stops the listener; open streaming responses are closed by their
// sessions via the registry shutdown
func (a *AuxServer) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func (a *AuxServer) handleStreaming(w http.ResponseWriter, r *http.Request) {
	ownerID, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/streaming/"), 10, 64)
	if err != nil || ownerID == 0 {
		http.Error(w, "bad owner id", http.StatusBadRequest)
		return
	}

	session, err := a.registry.GetOrCreate(r.Context(), ownerID)
	if err != nil {
		a.logger.Warn("Auxiliary subscribe rejected", "owner", ownerID, "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := twitter.NewStreamingConnection(ownerID, &flushWriter{w: w, f: flusher})
	if err := conn.SendPreamble(); err != nil {
		return
	}

	session.AddConnection(conn)
	a.logger.Info("Auxiliary subscriber connected", "owner", ownerID, "connection", conn.ID().String())

	select {
	case <-conn.Closed():
	case <-r.Context().Done():
		conn.Close()
	}

	session.RemoveConnection(conn)
	a.logger.Info("Auxiliary subscriber disconnected", "owner", ownerID, "connection", conn.ID().String())
}

// flushWriter flushes after every record so pushes reach the client
// immediately instead of sitting in the response buffer
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil {
		fw.f.Flush()
	}
	return n, err
}
