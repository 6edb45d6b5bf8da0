package twitter

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct {
	failAfter int
	writes    int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > w.failAfter {
		return 0, errors.New("sink broken")
	}
	return len(p), nil
}

func TestStreamingConnection_Send(t *testing.T) {
	var buf bytes.Buffer
	conn := NewStreamingConnection(42, &buf)

	require.NoError(t, conn.Send([]byte(`{"id":1}`)))
	require.NoError(t, conn.Send([]byte(`{"id":2}`)))

	lines := strings.Split(strings.TrimRight(buf.String(), "\r\n"), "\r\n")
	assert.Equal(t, []string{`{"id":1}`, `{"id":2}`}, lines)
}

func TestStreamingConnection_SendPreamble(t *testing.T) {
	var buf bytes.Buffer
	conn := NewStreamingConnection(42, &buf)

	require.NoError(t, conn.SendPreamble())
	assert.Equal(t, "{\"friends\":[]}\r\n", buf.String())
}

func TestStreamingConnection_FailedWriteCloses(t *testing.T) {
	conn := NewStreamingConnection(42, &failingWriter{failAfter: 1})

	require.NoError(t, conn.Send([]byte(`ok`)))

	select {
	case <-conn.Closed():
		t.Fatal("connection closed before any write failed")
	default:
	}

	assert.Error(t, conn.Send([]byte(`boom`)))

	select {
	case <-conn.Closed():
	default:
		t.Fatal("failed write did not fire the closed signal")
	}

	// Sends after close report the closed state without touching the sink
	assert.Error(t, conn.Send([]byte(`late`)))
}

func TestStreamingConnection_AdvanceMonotonic(t *testing.T) {
	conn := NewStreamingConnection(42, &bytes.Buffer{})

	assert.Equal(t, int64(0), conn.Advance(FeedTimeline, 100))
	assert.Equal(t, int64(100), conn.Cursor(FeedTimeline))

	// Lower ids never move the cursor backwards
	assert.Equal(t, int64(100), conn.Advance(FeedTimeline, 50))
	assert.Equal(t, int64(100), conn.Cursor(FeedTimeline))

	assert.Equal(t, int64(100), conn.Advance(FeedTimeline, 150))
	assert.Equal(t, int64(150), conn.Cursor(FeedTimeline))

	// Feeds track independent cursors
	assert.Equal(t, int64(0), conn.Cursor(FeedActivity))
	assert.Equal(t, int64(0), conn.Cursor(FeedDirectMessage))
}

func TestStreamingConnection_CloseIdempotent(t *testing.T) {
	conn := NewStreamingConnection(42, &bytes.Buffer{})
	conn.Close()
	conn.Close()

	select {
	case <-conn.Closed():
	default:
		t.Fatal("closed signal not fired")
	}
}

func TestStreamingConnection_DistinctIDs(t *testing.T) {
	a := NewStreamingConnection(42, &bytes.Buffer{})
	b := NewStreamingConnection(42, &bytes.Buffer{})
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, int64(42), a.OwnerID())
}
