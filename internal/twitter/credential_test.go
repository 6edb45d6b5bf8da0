package twitter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredential_NewRequestHeaders(t *testing.T) {
	cookies := []*http.Cookie{
		{Name: "ct0", Value: "csrf-value"},
		{Name: "auth_token", Value: "session-value"},
	}
	cred, err := NewCredential(42, cookies, &testLogger{})
	require.NoError(t, err)

	req, err := cred.NewRequest(context.Background(), http.MethodGet, "https://api.twitter.com/1.1/help/settings.json", nil)
	require.NoError(t, err)

	assert.Equal(t, "csrf-value", req.Header.Get("X-Csrf-Token"))
	assert.Equal(t, "OAuth2Session", req.Header.Get("X-Twitter-Auth-Type"))
	assert.True(t, strings.HasPrefix(req.Header.Get("Authorization"), "Bearer "))
	assert.Contains(t, req.Header.Get("X-Twitter-Client-Version"), "TweetDeck")
	assert.Empty(t, req.Header.Get("Content-Type"))
}

func TestCredential_NewRequestPostForm(t *testing.T) {
	cred, err := NewCredential(42, nil, &testLogger{})
	require.NoError(t, err)

	req, err := cred.NewRequest(context.Background(), http.MethodPost,
		"https://api.twitter.com/1.1/statuses/update.json", strings.NewReader("status=hello"))
	require.NoError(t, err)

	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
	assert.Empty(t, req.Header.Get("X-Csrf-Token"), "no ct0 cookie means an empty token")
}

func TestCredential_RequestJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"id":11,"screen_name":"someone"}`))
		case "/json-body":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	cred, err := NewCredential(42, nil, &testLogger{})
	require.NoError(t, err)

	var probe userProbe
	status, err := cred.RequestJSON(context.Background(), http.MethodGet, srv.URL+"/ok", nil, &probe)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(11), int64(probe.ID))
	assert.Equal(t, "someone", probe.ScreenName)

	status, err = cred.RequestJSON(context.Background(), http.MethodPost, srv.URL+"/json-body", []byte(`{"a":1}`), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	status, err = cred.RequestJSON(context.Background(), http.MethodGet, srv.URL+"/denied", nil, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestCredential_Verify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/1.1/help/settings.json") {
			w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cred, err := NewCredential(42, nil, &testLogger{})
	require.NoError(t, err)
	cred.SetAPIBase(srv.URL)

	assert.NoError(t, cred.Verify(context.Background()))

	denied := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer denied.Close()

	cred.SetAPIBase(denied.URL)
	assert.Error(t, cred.Verify(context.Background()))
}
