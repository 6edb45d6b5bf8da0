package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/YJSoft/StreamingRespirator/internal/config"
	"github.com/YJSoft/StreamingRespirator/internal/twitter"
	"github.com/YJSoft/StreamingRespirator/pkg/certificates"
)

// mockLogger captures log output for testing
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockLogger) record(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *mockLogger) Info(msg string, args ...any)  { m.record(msg) }
func (m *mockLogger) Debug(msg string, args ...any) { m.record(msg) }
func (m *mockLogger) Warn(msg string, args ...any)  { m.record(msg) }
func (m *mockLogger) Error(msg string, args ...any) { m.record(msg) }
func (m *mockLogger) Close() error                  { return nil }

func testProxyConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Port = 0
	cfg.BindRetries = 0
	cfg.CookiePath = filepath.Join(t.TempDir(), "cookies.dat")
	cfg.FallbackPollSeconds = 1
	return cfg
}

// testOrigin simulates the API host: the auth probe succeeds for any owner and
// the three polled feeds stay empty. Extra routes stack on top.
func testOrigin(t *testing.T, extra map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for prefix, handler := range extra {
			if strings.HasPrefix(r.URL.Path, prefix) {
				handler(w, r)
				return
			}
		}

		switch {
		case strings.HasPrefix(r.URL.Path, "/1.1/help/settings.json"):
			w.Write([]byte(`{}`))
		case strings.HasPrefix(r.URL.Path, "/1.1/dm/user_updates.json"):
			w.Write([]byte(`{}`))
		case strings.HasPrefix(r.URL.Path, "/1.1/statuses/home_timeline.json"),
			strings.HasPrefix(r.URL.Path, "/1.1/activity/about_me.json"):
			w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSetup(t *testing.T, extra map[string]http.HandlerFunc) (*config.Config, *twitter.Registry, *Interceptor, *httptest.Server) {
	t.Helper()

	cfg := testProxyConfig(t)
	log := &mockLogger{}
	origin := testOrigin(t, extra)

	registry := twitter.NewRegistry(cfg, log)
	registry.SetAPIBase(origin.URL)
	t.Cleanup(registry.Shutdown)

	interceptor := NewInterceptor(cfg, log, registry)
	interceptor.SetOriginBase(origin.URL)

	return cfg, registry, interceptor, origin
}

// recordingSink collects pushed records for assertions
type recordingSink struct {
	mu  sync.Mutex
	buf []byte
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *recordingSink) contents() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}

func (s *recordingSink) eventuallyContains(t *testing.T, substr string) bool {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(s.contents(), substr) {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// attachSubscriber registers a streaming connection with an established
// baseline so pushes reach it
func attachSubscriber(t *testing.T, registry *twitter.Registry, ownerID int64, sink io.Writer) *twitter.StreamingConnection {
	t.Helper()

	session, err := registry.GetOrCreate(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("GetOrCreate(%d) error = %v", ownerID, err)
	}

	conn := twitter.NewStreamingConnection(ownerID, sink)
	conn.Advance(twitter.FeedTimeline, 1)
	session.AddConnection(conn)
	return conn
}

func testAuthority(t *testing.T) (*certificates.Authority, *certificates.CAManager) {
	t.Helper()

	ca := certificates.NewCAManager()
	if err := ca.GenerateCA(); err != nil {
		t.Fatalf("GenerateCA() error = %v", err)
	}
	return certificates.NewAuthority(certificates.NewGenerator(ca)), ca
}
