package twitter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/YJSoft/StreamingRespirator/internal/config"
	"github.com/YJSoft/StreamingRespirator/internal/logger"
)

// ErrNotAuthorized means no usable session credential exists for an owner
var ErrNotAuthorized = errors.New("owner session is not authorized")

// Registry maps owner ids to their sessions. At most one session exists per
// owner at a time; a session is created on first touch and dropped when its
// last streaming connection detaches.
type Registry struct {
	cfg     *config.Config
	log     logger.Logger
	archive *CookieArchive
	apiBase string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[int64]*sessionEntry
}

// sessionEntry is the per-owner latch: the first caller inserts it and
// authorizes outside the registry lock, later callers wait on ready. A failed
// authorization is handed to the waiters of that attempt only and the entry
// is dropped, so the next touch retries.
type sessionEntry struct {
	ready chan struct{}
	s     *Session
	err   error
}

// NewRegistry creates the owner registry and loads the cookie archive
func NewRegistry(cfg *config.Config, log logger.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		cfg:      cfg,
		log:      log,
		archive:  NewCookieArchive(cfg.CookiePath),
		apiBase:  defaultAPIBase,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[int64]*sessionEntry),
	}

	if err := r.archive.Load(); err != nil {
		log.Warn("Cookie archive unreadable, starting empty", "path", cfg.CookiePath, "error", err)
	}

	return r
}

// SetAPIBase overrides the API origin for every credential the registry
// creates, used when the origin is simulated
func (r *Registry) SetAPIBase(base string) {
	r.apiBase = base
}

func (r *Registry) baseContext() context.Context {
	return r.ctx
}

// Session returns the existing session for an owner, or nil
func (r *Registry) Session(ownerID int64) *Session {
	r.mu.Lock()
	entry := r.sessions[ownerID]
	r.mu.Unlock()

	if entry == nil {
		return nil
	}
	select {
	case <-entry.ready:
		return entry.s
	default:
		// Still authorizing
		return nil
	}
}

// GetOrCreate returns the owner's session, creating and authorizing one on
// first touch. Creation verifies the archived cookies against the origin
// outside the registry lock, so one owner's slow verification never blocks
// another owner's lookup; concurrent first touches for the same owner share a
// single probe. A failed verification leaves no session behind.
func (r *Registry) GetOrCreate(ctx context.Context, ownerID int64) (*Session, error) {
	r.mu.Lock()
	entry, ok := r.sessions[ownerID]
	if ok {
		r.mu.Unlock()
		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return entry.s, entry.err
	}

	entry = &sessionEntry{ready: make(chan struct{})}
	r.sessions[ownerID] = entry
	r.mu.Unlock()

	entry.s, entry.err = r.authorize(ctx, ownerID)
	close(entry.ready)

	if entry.err != nil {
		r.mu.Lock()
		if r.sessions[ownerID] == entry {
			delete(r.sessions, ownerID)
		}
		r.mu.Unlock()
	}

	return entry.s, entry.err
}

func (r *Registry) authorize(ctx context.Context, ownerID int64) (*Session, error) {
	cred, err := NewCredential(ownerID, r.archive.Cookies(ownerID), r.log)
	if err != nil {
		return nil, fmt.Errorf("failed to build credential for %d: %w", ownerID, err)
	}
	cred.SetAPIBase(r.apiBase)

	if err := cred.Verify(ctx); err != nil {
		r.log.Warn("Owner authorization failed", "owner", ownerID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}

	// Re-authentication may have rotated cookies
	r.archive.Store(ownerID, cred.Cookies())
	if err := r.archive.Save(); err != nil {
		r.log.Warn("Failed to persist cookie archive", "error", err)
	}

	s := newSession(ownerID, cred, r, r.cfg, r.log)
	r.log.Info("Owner session created", "owner", ownerID)
	return s, nil
}

// remove drops an owner's session; called when its last connection detaches
func (r *Registry) remove(ownerID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[ownerID]; ok {
		delete(r.sessions, ownerID)
		r.log.Info("Owner session removed", "owner", ownerID)
	}
}

// SessionCount returns the number of live sessions
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, entry := range r.sessions {
		select {
		case <-entry.ready:
			if entry.s != nil {
				n++
			}
		default:
		}
	}
	return n
}

// Shutdown cancels every poller, closes every streaming connection, and
// persists the cookie archive. No background work survives it.
func (r *Registry) Shutdown() {
	r.cancel()

	r.mu.Lock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, entry := range r.sessions {
		entries = append(entries, entry)
	}
	r.sessions = make(map[int64]*sessionEntry)
	r.mu.Unlock()

	sessions := make([]*Session, 0, len(entries))
	for _, entry := range entries {
		<-entry.ready
		if entry.s != nil {
			sessions = append(sessions, entry.s)
		}
	}

	for _, s := range sessions {
		s.shutdown()
	}

	if err := r.archive.Save(); err != nil {
		r.log.Warn("Failed to persist cookie archive on shutdown", "error", err)
	}
}
