package twitter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Feed identifies one of the polled data sources
type Feed int

const (
	FeedTimeline Feed = iota
	FeedActivity
	FeedDirectMessage

	feedCount
)

func (f Feed) String() string {
	switch f {
	case FeedTimeline:
		return "timeline"
	case FeedActivity:
		return "activity"
	case FeedDirectMessage:
		return "direct_message"
	}
	return "unknown"
}

// Item is one record bound for the streaming connections, with the id used
// for cursor comparison.
type Item struct {
	ID      int64
	Payload json.RawMessage
}

// flexInt64 accepts both numeric and quoted-numeric JSON values; the upstream
// payloads are inconsistent about which they use.
type flexInt64 int64

func (v *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q: %w", data, err)
	}
	*v = flexInt64(n)
	return nil
}

type statusProbe struct {
	ID       flexInt64       `json:"id"`
	FullText json.RawMessage `json:"full_text"`
}

// StatusID extracts the numeric id from a status payload
func StatusID(payload []byte) (int64, error) {
	var probe statusProbe
	if err := json.Unmarshal(payload, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse status payload: %w", err)
	}
	if probe.ID == 0 {
		return 0, fmt.Errorf("status payload carries no id")
	}
	return int64(probe.ID), nil
}

// StatusHasFullText reports whether a status payload carries a full_text field
func StatusHasFullText(payload []byte) bool {
	var probe statusProbe
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	return len(probe.FullText) > 0
}

type userProbe struct {
	ID         flexInt64 `json:"id"`
	ScreenName string    `json:"screen_name"`
}

// activityEntry is one row of the activity/about_me response
type activityEntry struct {
	Action      string            `json:"action"`
	MaxPosition flexInt64         `json:"max_position"`
	Targets     []json.RawMessage `json:"targets"`
}

// dmResponse is the dm/user_updates envelope
type dmResponse struct {
	UserEvents *dmInbox `json:"user_events"`
}

type dmInbox struct {
	Cursor  string                     `json:"cursor"`
	Entries []dmEntry                  `json:"entries"`
	Users   map[string]json.RawMessage `json:"users"`
}

type dmEntry struct {
	Message *dmMessage `json:"message"`
}

type dmMessage struct {
	Data dmMessageData `json:"data"`
}

type dmMessageData struct {
	ID          flexInt64 `json:"id"`
	Time        string    `json:"time"`
	Text        string    `json:"text"`
	SenderID    flexInt64 `json:"sender_id"`
	RecipientID flexInt64 `json:"recipient_id"`
}

// directMessageEvent is the streaming-API shape the subscribers expect,
// synthesized from the polled inbox entries.
type directMessageEvent struct {
	DirectMessage directMessage `json:"direct_message"`
}

type directMessage struct {
	ID                  int64           `json:"id"`
	IDStr               string          `json:"id_str"`
	Text                string          `json:"text"`
	CreatedAt           string          `json:"created_at,omitempty"`
	Sender              json.RawMessage `json:"sender,omitempty"`
	SenderID            int64           `json:"sender_id"`
	SenderScreenName    string          `json:"sender_screen_name,omitempty"`
	Recipient           json.RawMessage `json:"recipient,omitempty"`
	RecipientID         int64           `json:"recipient_id"`
	RecipientScreenName string          `json:"recipient_screen_name,omitempty"`
}

type deleteEvent struct {
	Delete struct {
		Status struct {
			ID    int64  `json:"id"`
			IDStr string `json:"id_str"`
		} `json:"status"`
	} `json:"delete"`
}

// DeleteRecord builds the streaming delete event for a destroyed status
func DeleteRecord(statusID int64) []byte {
	var ev deleteEvent
	ev.Delete.Status.ID = statusID
	ev.Delete.Status.IDStr = strconv.FormatInt(statusID, 10)

	data, _ := json.Marshal(&ev)
	return data
}

type dmCreatePayload struct {
	Event struct {
		Type          string `json:"type"`
		MessageCreate struct {
			Target struct {
				RecipientID string `json:"recipient_id"`
			} `json:"target"`
			MessageData struct {
				Text string `json:"text"`
			} `json:"message_data"`
		} `json:"message_create"`
	} `json:"event"`
}

// DirectMessagePayload builds the message-create body for the events API
func DirectMessagePayload(recipientID int64, text string) []byte {
	var payload dmCreatePayload
	payload.Event.Type = "message_create"
	payload.Event.MessageCreate.Target.RecipientID = strconv.FormatInt(recipientID, 10)
	payload.Event.MessageCreate.MessageData.Text = text

	data, _ := json.Marshal(&payload)
	return data
}
