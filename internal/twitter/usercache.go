package twitter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// UserCache resolves screen names to numeric user ids, caching hits so the
// DM shorthand does not hammer users/show.
type UserCache struct {
	cache *gocache.Cache
}

// NewUserCache creates a cache with an hour of retention per entry
func NewUserCache() *UserCache {
	return &UserCache{
		cache: gocache.New(time.Hour, 10*time.Minute),
	}
}

// IDByScreenName resolves a screen name, issuing a users/show lookup on miss
func (u *UserCache) IDByScreenName(ctx context.Context, cred *Credential, screenName string) (int64, error) {
	key := strings.ToLower(screenName)

	if cached, ok := u.cache.Get(key); ok {
		return cached.(int64), nil
	}

	var user userProbe
	lookupURL := cred.APIBase() + "/1.1/users/show.json?screen_name=" + url.QueryEscape(screenName)
	if _, err := cred.RequestJSON(ctx, http.MethodGet, lookupURL, nil, &user); err != nil {
		return 0, fmt.Errorf("failed to look up @%s: %w", screenName, err)
	}
	if user.ID == 0 {
		return 0, fmt.Errorf("no user id in lookup response for @%s", screenName)
	}

	u.Observe(int64(user.ID), user.ScreenName)
	return int64(user.ID), nil
}

// Observe records a known screen-name/id pairing
func (u *UserCache) Observe(id int64, screenName string) {
	if id == 0 || screenName == "" {
		return
	}
	u.cache.Set(strings.ToLower(screenName), id, gocache.DefaultExpiration)
}
