package twitter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// The query strings mirror the ones the TweetDeck web client sends; the
// endpoints only behave like TweetDeck expects with the full parameter set.
const (
	timelinePath = "/1.1/statuses/home_timeline.json?count=200&include_my_retweet=1&cards_platform=Web-13&include_entities=1&include_user_entities=1&include_cards=1&send_error_codes=1&tweet_mode=extended&include_ext_alt_text=true&include_reply_count=true"
	activityPath = "/1.1/activity/about_me.json?model_version=7&count=200&skip_aggregation=true&cards_platform=Web-13&include_entities=1&include_user_entities=1&include_cards=1&send_error_codes=1&tweet_mode=extended&include_ext_alt_text=true&include_reply_count=true"
	dmPath       = "/1.1/dm/user_updates.json?include_groups=true&ext=altText&cards_platform=Web-13&include_entities=1&include_user_entities=1&include_cards=1&send_error_codes=1&tweet_mode=extended&include_ext_alt_text=true&include_reply_count=true"
)

// feedSpec binds a feed to its endpoint and response parser. parse returns
// the new items in ascending id order and the next session cursor; an empty
// next cursor leaves the stored one untouched.
type feedSpec struct {
	feed  Feed
	url   func(apiBase, cursor string) string
	parse func(s *Session, body []byte) (items []Item, next string, err error)
}

func feedSpecs() []feedSpec {
	return []feedSpec{
		{
			feed: FeedTimeline,
			url: func(apiBase, cursor string) string {
				u := apiBase + timelinePath
				if cursor != "" {
					u += "&since_id=" + cursor
				}
				return u
			},
			parse: parseTimeline,
		},
		{
			feed: FeedActivity,
			url: func(apiBase, cursor string) string {
				u := apiBase + activityPath
				if cursor != "" {
					u += "&since_id=" + cursor
				}
				return u
			},
			parse: parseActivity,
		},
		{
			feed: FeedDirectMessage,
			url: func(apiBase, cursor string) string {
				u := apiBase + dmPath
				if cursor != "" {
					u += "&cursor=" + cursor
				}
				return u
			},
			parse: parseDirectMessages,
		},
	}
}

// parseTimeline handles the home_timeline array of statuses
func parseTimeline(s *Session, body []byte) ([]Item, string, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, "", fmt.Errorf("failed to parse timeline response: %w", err)
	}

	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		id, err := StatusID(raw)
		if err != nil {
			continue
		}
		s.surfaced(id)
		items = append(items, Item{ID: id, Payload: raw})
	}

	if len(items) == 0 {
		return nil, "", nil
	}

	sortItems(items)
	return items, strconv.FormatInt(items[len(items)-1].ID, 10), nil
}

// parseActivity keeps the retweet/reply rows and flattens their targets
func parseActivity(s *Session, body []byte) ([]Item, string, error) {
	var entries []activityEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, "", fmt.Errorf("failed to parse activity response: %w", err)
	}

	var maxPosition int64
	var items []Item
	matched := false

	for _, entry := range entries {
		if entry.Action != "retweet" && entry.Action != "reply" {
			continue
		}
		matched = true

		if int64(entry.MaxPosition) > maxPosition {
			maxPosition = int64(entry.MaxPosition)
		}

		for _, target := range entry.Targets {
			id, err := StatusID(target)
			if err != nil {
				continue
			}
			s.surfaced(id)
			items = append(items, Item{ID: id, Payload: target})
		}
	}

	if !matched {
		return nil, "", nil
	}

	sortItems(items)
	return items, strconv.FormatInt(maxPosition, 10), nil
}

// parseDirectMessages synthesizes streaming DM events from the inbox entries
func parseDirectMessages(s *Session, body []byte) ([]Item, string, error) {
	var resp dmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("failed to parse direct message response: %w", err)
	}

	if resp.UserEvents == nil || len(resp.UserEvents.Entries) == 0 {
		return nil, "", nil
	}

	inbox := resp.UserEvents
	items := make([]Item, 0, len(inbox.Entries))

	for _, entry := range inbox.Entries {
		if entry.Message == nil {
			continue
		}
		data := entry.Message.Data

		var ev directMessageEvent
		ev.DirectMessage.ID = int64(data.ID)
		ev.DirectMessage.IDStr = strconv.FormatInt(int64(data.ID), 10)
		ev.DirectMessage.Text = data.Text
		ev.DirectMessage.CreatedAt = data.Time
		ev.DirectMessage.SenderID = int64(data.SenderID)
		ev.DirectMessage.RecipientID = int64(data.RecipientID)

		if sender, ok := inbox.Users[strconv.FormatInt(int64(data.SenderID), 10)]; ok {
			ev.DirectMessage.Sender = sender
			var probe userProbe
			if json.Unmarshal(sender, &probe) == nil {
				ev.DirectMessage.SenderScreenName = probe.ScreenName
				s.users.Observe(int64(probe.ID), probe.ScreenName)
			}
		}
		if recipient, ok := inbox.Users[strconv.FormatInt(int64(data.RecipientID), 10)]; ok {
			ev.DirectMessage.Recipient = recipient
			var probe userProbe
			if json.Unmarshal(recipient, &probe) == nil {
				ev.DirectMessage.RecipientScreenName = probe.ScreenName
				s.users.Observe(int64(probe.ID), probe.ScreenName)
			}
		}

		payload, err := json.Marshal(&ev)
		if err != nil {
			continue
		}
		items = append(items, Item{ID: int64(data.ID), Payload: payload})
	}

	sortItems(items)
	return items, inbox.Cursor, nil
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})
}
