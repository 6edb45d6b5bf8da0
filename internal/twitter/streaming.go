package twitter

import (
	"io"
	"sync"

	"github.com/google/uuid"
)

var streamPreamble = []byte(`{"friends":[]}`)

// StreamingConnection represents one subscriber's long-lived chunked response.
// Records are written as single JSON lines; a failed write fires the closed
// signal so the blocked handler can tear the socket down.
type StreamingConnection struct {
	id      uuid.UUID
	ownerID int64
	w       io.Writer

	writeMu sync.Mutex

	cursorMu sync.Mutex
	cursors  [feedCount]int64

	closed    chan struct{}
	closeOnce sync.Once
}

// NewStreamingConnection wraps a push sink for one subscriber
func NewStreamingConnection(ownerID int64, w io.Writer) *StreamingConnection {
	return &StreamingConnection{
		id:      uuid.New(),
		ownerID: ownerID,
		w:       w,
		closed:  make(chan struct{}),
	}
}

// ID returns the connection identity
func (c *StreamingConnection) ID() uuid.UUID {
	return c.id
}

// OwnerID returns the owning account id
func (c *StreamingConnection) OwnerID() int64 {
	return c.ownerID
}

// SendPreamble writes the empty friends list expected at stream start
func (c *StreamingConnection) SendPreamble() error {
	return c.Send(streamPreamble)
}

// Send writes one record followed by CRLF. The first failed write closes the
// connection; later sends return the closed state silently.
func (c *StreamingConnection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	buf := make([]byte, 0, len(payload)+2)
	buf = append(buf, payload...)
	buf = append(buf, '\r', '\n')

	if _, err := c.w.Write(buf); err != nil {
		c.Close()
		return err
	}
	return nil
}

// Advance moves the feed cursor forward to id and returns the previous value.
// The cursor never decreases; a zero return means the connection had no
// baseline for this feed yet.
func (c *StreamingConnection) Advance(feed Feed, id int64) int64 {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()

	prev := c.cursors[feed]
	if id > prev {
		c.cursors[feed] = id
	}
	return prev
}

// Cursor returns the current cursor for a feed
func (c *StreamingConnection) Cursor(feed Feed) int64 {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	return c.cursors[feed]
}

// Close fires the closed signal; safe to call more than once
func (c *StreamingConnection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// Closed returns a channel that fires when the connection is done
func (c *StreamingConnection) Closed() <-chan struct{} {
	return c.closed
}
