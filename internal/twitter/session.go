package twitter

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/YJSoft/StreamingRespirator/internal/config"
	"github.com/YJSoft/StreamingRespirator/internal/logger"
)

// Session is one owner's live state: the API credential, the streaming
// connections subscribed under that owner, and the feed pollers that run
// while at least one connection is attached.
type Session struct {
	ownerID  int64
	cred     *Credential
	users    *UserCache
	cfg      *config.Config
	log      logger.Logger
	registry *Registry

	mu        sync.RWMutex
	conns     map[uuid.UUID]*StreamingConnection
	destroyed map[int64]struct{}
	maybeGone map[int64]struct{}

	pollCtx    context.Context
	pollCancel context.CancelFunc
	pollWG     sync.WaitGroup
}

func newSession(ownerID int64, cred *Credential, registry *Registry, cfg *config.Config, log logger.Logger) *Session {
	return &Session{
		ownerID:   ownerID,
		cred:      cred,
		users:     NewUserCache(),
		cfg:       cfg,
		log:       log,
		registry:  registry,
		conns:     make(map[uuid.UUID]*StreamingConnection),
		destroyed: make(map[int64]struct{}),
		maybeGone: make(map[int64]struct{}),
	}
}

// OwnerID returns the account id of this session
func (s *Session) OwnerID() int64 {
	return s.ownerID
}

// Credential returns the owner's API credential
func (s *Session) Credential() *Credential {
	return s.cred
}

// Users returns the owner's screen-name lookup cache
func (s *Session) Users() *UserCache {
	return s.users
}

// AddConnection registers a subscriber. The first connection starts the feed
// pollers; later connections reuse the running set.
func (s *Session) AddConnection(c *StreamingConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conns[c.ID()] = c

	if len(s.conns) == 1 {
		s.startPollersLocked()
	}

	s.log.Info("Streaming connection attached",
		"owner", s.ownerID, "connection", c.ID().String(), "total", len(s.conns))
}

// RemoveConnection detaches a subscriber and fires its closed signal. When the
// last one detaches the pollers are cancelled and the session is dropped from
// the registry.
func (s *Session) RemoveConnection(c *StreamingConnection) {
	s.mu.Lock()
	delete(s.conns, c.ID())
	last := len(s.conns) == 0
	if last {
		s.stopPollersLocked()
	}
	s.mu.Unlock()

	c.Close()

	s.log.Info("Streaming connection detached",
		"owner", s.ownerID, "connection", c.ID().String(), "last", last)

	if last {
		s.registry.remove(s.ownerID)
	}
}

// ConnectionCount returns the number of attached subscribers
func (s *Session) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Session) connections() []*StreamingConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := make([]*StreamingConnection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// StatusDestroyed records a hard delete: the id is filtered from every future
// fan-out and subscribers receive a delete event so open clients drop the card.
func (s *Session) StatusDestroyed(id int64) {
	if id == 0 {
		return
	}

	s.mu.Lock()
	s.destroyed[id] = struct{}{}
	delete(s.maybeGone, id)
	s.mu.Unlock()

	s.log.Debug("Status destroyed", "owner", s.ownerID, "status", id)

	record := DeleteRecord(id)
	for _, c := range s.connections() {
		go func(c *StreamingConnection) {
			if err := c.Send(record); err != nil {
				s.log.Debug("Delete event write failed", "owner", s.ownerID, "connection", c.ID().String(), "error", err)
			}
		}(c)
	}
}

// StatusMaybeDestroyed records a soft hint: the id is held back from fan-out
// until a later poll surfaces it alive again, which clears the hint.
func (s *Session) StatusMaybeDestroyed(id int64) {
	if id == 0 {
		return
	}

	s.mu.Lock()
	if _, gone := s.destroyed[id]; !gone {
		s.maybeGone[id] = struct{}{}
	}
	s.mu.Unlock()

	s.log.Debug("Status maybe destroyed", "owner", s.ownerID, "status", id)
}

func (s *Session) surfaced(id int64) {
	s.mu.Lock()
	delete(s.maybeGone, id)
	s.mu.Unlock()
}

// suppressed reports whether an id is held back from fan-out, either
// hard-destroyed or maybe-gone. Parsers surface live ids before push, so a
// maybe-gone entry only suppresses ids no poll has confirmed since the hint.
func (s *Session) suppressed(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, gone := s.destroyed[id]; gone {
		return true
	}
	_, gone := s.maybeGone[id]
	return gone
}

// SendStatus pushes one status payload through the timeline fan-out
func (s *Session) SendStatus(payload []byte) {
	id, err := StatusID(payload)
	if err != nil {
		s.log.Warn("Dropping unparseable status push", "owner", s.ownerID, "error", err)
		return
	}
	s.push(FeedTimeline, []Item{{ID: id, Payload: payload}})
}

// push fans items out to every subscriber. Each connection is served
// concurrently; a connection with no baseline cursor only records the new
// maximum, and only items strictly newer than its previous cursor are written.
func (s *Session) push(feed Feed, items []Item) {
	if len(items) == 0 {
		return
	}

	maxID := items[len(items)-1].ID

	var wg sync.WaitGroup
	for _, c := range s.connections() {
		wg.Add(1)
		go func(c *StreamingConnection) {
			defer wg.Done()

			prev := c.Advance(feed, maxID)
			if prev == 0 {
				return
			}

			for _, item := range items {
				if item.ID <= prev || s.suppressed(item.ID) {
					continue
				}
				if err := c.Send(item.Payload); err != nil {
					s.log.Debug("Stream write failed",
						"owner", s.ownerID, "connection", c.ID().String(), "feed", feed.String(), "error", err)
					return
				}
			}
		}(c)
	}
	wg.Wait()
}

// startPollersLocked launches the three feed pollers; caller holds s.mu
func (s *Session) startPollersLocked() {
	s.pollCtx, s.pollCancel = context.WithCancel(s.registry.baseContext())

	for _, spec := range feedSpecs() {
		s.pollWG.Add(1)
		go s.runPoller(s.pollCtx, spec)
	}

	s.log.Info("Feed pollers started", "owner", s.ownerID)
}

// stopPollersLocked cancels the pollers; caller holds s.mu. Cancellation is
// synchronous up to the context: a cancelled poller never fires again.
func (s *Session) stopPollersLocked() {
	if s.pollCancel != nil {
		s.pollCancel()
		s.pollCancel = nil
	}

	s.log.Info("Feed pollers stopped", "owner", s.ownerID)
}

// shutdown force-closes every subscriber and waits for the pollers to exit
func (s *Session) shutdown() {
	s.mu.Lock()
	conns := make([]*StreamingConnection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[uuid.UUID]*StreamingConnection)
	s.stopPollersLocked()
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	s.pollWG.Wait()
}
