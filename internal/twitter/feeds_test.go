package twitter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeline(t *testing.T) {
	s := bareSession(t, testRegistry(t), 42)

	body := []byte(`[
		{"id":103,"full_text":"third"},
		{"id":101,"full_text":"first"},
		{"id":102,"full_text":"second"}
	]`)

	items, next, err := parseTimeline(s, body)
	require.NoError(t, err)
	assert.Equal(t, "103", next)

	require.Len(t, items, 3)
	assert.Equal(t, int64(101), items[0].ID)
	assert.Equal(t, int64(102), items[1].ID)
	assert.Equal(t, int64(103), items[2].ID)
}

func TestParseTimeline_Empty(t *testing.T) {
	s := bareSession(t, testRegistry(t), 42)

	items, next, err := parseTimeline(s, []byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, next)
}

func TestParseTimeline_SurfacesMaybeDestroyed(t *testing.T) {
	s := bareSession(t, testRegistry(t), 42)

	s.StatusMaybeDestroyed(101)
	s.mu.RLock()
	_, hinted := s.maybeGone[101]
	s.mu.RUnlock()
	require.True(t, hinted)

	_, _, err := parseTimeline(s, []byte(`[{"id":101}]`))
	require.NoError(t, err)

	s.mu.RLock()
	_, hinted = s.maybeGone[101]
	s.mu.RUnlock()
	assert.False(t, hinted, "a surfaced id must clear the maybe-destroyed hint")
}

func TestParseActivity(t *testing.T) {
	s := bareSession(t, testRegistry(t), 42)

	body := []byte(`[
		{"action":"retweet","max_position":"2001","targets":[{"id":301},{"id":302}]},
		{"action":"favorite","max_position":"2005","targets":[{"id":999}]},
		{"action":"reply","max_position":"2003","targets":[{"id":300}]}
	]`)

	items, next, err := parseActivity(s, body)
	require.NoError(t, err)

	// favorite rows are ignored both for items and for the cursor
	assert.Equal(t, "2003", next)
	require.Len(t, items, 3)
	assert.Equal(t, int64(300), items[0].ID)
	assert.Equal(t, int64(301), items[1].ID)
	assert.Equal(t, int64(302), items[2].ID)
}

func TestParseActivity_NoMatchingActions(t *testing.T) {
	s := bareSession(t, testRegistry(t), 42)

	items, next, err := parseActivity(s, []byte(`[{"action":"favorite","max_position":"5","targets":[{"id":1}]}]`))
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, next)
}

func TestParseDirectMessages(t *testing.T) {
	s := bareSession(t, testRegistry(t), 42)

	body := []byte(`{
		"user_events": {
			"cursor": "GRwmgIC9iZv__",
			"entries": [
				{"message": {"data": {"id": "501", "time": "1548385894000", "text": "hi there",
					"sender_id": "42", "recipient_id": "77"}}},
				{"message": {"data": {"id": "500", "time": "1548385893000", "text": "first",
					"sender_id": "77", "recipient_id": "42"}}}
			],
			"users": {
				"42": {"id": 42, "screen_name": "alice"},
				"77": {"id": 77, "screen_name": "bob"}
			}
		}
	}`)

	items, next, err := parseDirectMessages(s, body)
	require.NoError(t, err)
	assert.Equal(t, "GRwmgIC9iZv__", next)
	require.Len(t, items, 2)

	// ascending id order
	assert.Equal(t, int64(500), items[0].ID)
	assert.Equal(t, int64(501), items[1].ID)

	var ev struct {
		DirectMessage struct {
			ID                  int64  `json:"id"`
			IDStr               string `json:"id_str"`
			Text                string `json:"text"`
			SenderID            int64  `json:"sender_id"`
			SenderScreenName    string `json:"sender_screen_name"`
			RecipientID         int64  `json:"recipient_id"`
			RecipientScreenName string `json:"recipient_screen_name"`
		} `json:"direct_message"`
	}
	require.NoError(t, json.Unmarshal(items[1].Payload, &ev))
	assert.Equal(t, int64(501), ev.DirectMessage.ID)
	assert.Equal(t, "501", ev.DirectMessage.IDStr)
	assert.Equal(t, "hi there", ev.DirectMessage.Text)
	assert.Equal(t, int64(42), ev.DirectMessage.SenderID)
	assert.Equal(t, "alice", ev.DirectMessage.SenderScreenName)
	assert.Equal(t, int64(77), ev.DirectMessage.RecipientID)
	assert.Equal(t, "bob", ev.DirectMessage.RecipientScreenName)
}

func TestParseDirectMessages_EmptyInbox(t *testing.T) {
	s := bareSession(t, testRegistry(t), 42)

	items, next, err := parseDirectMessages(s, []byte(`{"user_events":{"cursor":"abc","entries":[]}}`))
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, next)

	items, next, err = parseDirectMessages(s, []byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, next)
}

func TestFeedSpecs_URLs(t *testing.T) {
	specs := feedSpecs()
	require.Len(t, specs, 3)

	base := "https://api.example.test"

	timeline := specs[0].url(base, "")
	assert.Contains(t, timeline, "/1.1/statuses/home_timeline.json?")
	assert.NotContains(t, timeline, "since_id")
	assert.Contains(t, specs[0].url(base, "123"), "&since_id=123")

	activity := specs[1].url(base, "456")
	assert.Contains(t, activity, "/1.1/activity/about_me.json?")
	assert.Contains(t, activity, "&since_id=456")

	dm := specs[2].url(base, "")
	assert.Contains(t, dm, "/1.1/dm/user_updates.json?")
	assert.NotContains(t, dm, "cursor=")
	assert.Contains(t, specs[2].url(base, "tok"), "&cursor=tok")
}
