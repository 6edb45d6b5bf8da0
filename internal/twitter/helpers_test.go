package twitter

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/YJSoft/StreamingRespirator/internal/config"
)

// testLogger records messages so tests can assert on them without console noise
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *testLogger) Info(msg string, args ...any)  { l.record(msg) }
func (l *testLogger) Debug(msg string, args ...any) { l.record(msg) }
func (l *testLogger) Warn(msg string, args ...any)  { l.record(msg) }
func (l *testLogger) Error(msg string, args ...any) { l.record(msg) }
func (l *testLogger) Close() error                  { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.CookiePath = filepath.Join(t.TempDir(), "cookies.dat")
	cfg.FallbackPollSeconds = 1
	return cfg
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()

	r := NewRegistry(testConfig(t), &testLogger{})
	t.Cleanup(r.Shutdown)
	return r
}

// bareSession builds a session without touching the network
func bareSession(t *testing.T, r *Registry, ownerID int64) *Session {
	t.Helper()

	cred, err := NewCredential(ownerID, nil, &testLogger{})
	if err != nil {
		t.Fatalf("NewCredential() error = %v", err)
	}
	cred.SetAPIBase(r.apiBase)

	s := newSession(ownerID, cred, r, r.cfg, r.log)
	entry := &sessionEntry{ready: make(chan struct{}), s: s}
	close(entry.ready)

	r.mu.Lock()
	r.sessions[ownerID] = entry
	r.mu.Unlock()
	return s
}
