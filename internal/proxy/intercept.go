package proxy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/YJSoft/StreamingRespirator/internal/config"
	"github.com/YJSoft/StreamingRespirator/internal/logger"
	"github.com/YJSoft/StreamingRespirator/internal/twitter"
)

var (
	// ownerIDPattern extracts the numeric account id from an OAuth token,
	// which always starts with "<user id>-"
	ownerIDPattern = regexp.MustCompile(`oauth_token="?(\d+)-`)

	// dmShorthand matches the classic "d @handle message" direct-message form
	dmShorthand = regexp.MustCompile(`(?is)^d @?([A-Za-z0-9_]{3,15}) (.+)$`)
)

// Interceptor handles decrypted traffic for the two intercepted hosts: the
// streaming host serves the long-lived subscription, the api host relays to
// origin with targeted rewrites around a few write endpoints.
type Interceptor struct {
	cfg      *config.Config
	log      logger.Logger
	registry *twitter.Registry

	transport http.RoundTripper

	// originBase overrides the relay target, used when the origin is simulated
	originBase string
}

// NewInterceptor creates the tunnel-side request handler
func NewInterceptor(cfg *config.Config, log logger.Logger, registry *twitter.Registry) *Interceptor {
	return &Interceptor{
		cfg:       cfg,
		log:       log,
		registry:  registry,
		transport: newTransport(),
	}
}

// SetOriginBase overrides the relay origin for requests without a session
func (i *Interceptor) SetOriginBase(base string) {
	i.originBase = base
}

// Serve handles one decrypted request and writes exactly one response. The
// return value tells the tunnel loop to close the connection.
func (i *Interceptor) Serve(w io.Writer, br *bufio.Reader, req *http.Request, hostname string) bool {
	if hostname == i.cfg.StreamingHost {
		return i.serveStreaming(w, br, req)
	}
	i.serveAPI(w, req)
	return false
}

// serveStreaming handles the streaming host. Only /1.1/user.json is served;
// the response is a chunked body kept open until the subscriber goes away.
func (i *Interceptor) serveStreaming(w io.Writer, br *bufio.Reader, req *http.Request) bool {
	if !strings.EqualFold(req.URL.Path, "/1.1/user.json") {
		writeStatus(w, http.StatusNotFound)
		return false
	}

	ownerID := i.ownerIDFrom(req, "")
	if ownerID == 0 {
		i.log.Debug("Streaming subscribe without resolvable owner", "url", req.URL.String())
		writeStatus(w, http.StatusUnauthorized)
		return false
	}

	session, err := i.registry.GetOrCreate(context.Background(), ownerID)
	if err != nil {
		i.log.Warn("Streaming subscribe rejected", "owner", ownerID, "error", err)
		writeStatus(w, http.StatusUnauthorized)
		return false
	}

	if i.cfg.AuxStreaming {
		location := fmt.Sprintf("http://127.0.0.1:%d/streaming/%d", i.cfg.AuxPort, ownerID)
		io.WriteString(w, "HTTP/1.1 302 Found\r\nLocation: "+location+"\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
		return true
	}

	_, err = io.WriteString(w, "HTTP/1.1 200 OK\r\n"+
		"Content-Type: application/json; charset=utf-8\r\n"+
		"Connection: close\r\n"+
		"Transfer-Encoding: chunked\r\n\r\n")
	if err != nil {
		return true
	}

	cw := httputil.NewChunkedWriter(w)
	conn := twitter.NewStreamingConnection(ownerID, cw)
	if err := conn.SendPreamble(); err != nil {
		return true
	}

	session.AddConnection(conn)
	i.log.Info("Streaming subscriber connected", "owner", ownerID, "connection", conn.ID().String())

	// Unblock promptly when the client hangs up without writing anything
	go func() {
		io.Copy(io.Discard, br)
		conn.Close()
	}()

	<-conn.Closed()

	session.RemoveConnection(conn)
	cw.Close()
	i.log.Info("Streaming subscriber disconnected", "owner", ownerID, "connection", conn.ID().String())

	return true
}

// serveAPI dispatches api-host requests: a few write endpoints get rewritten,
// everything else relays to origin.
func (i *Interceptor) serveAPI(w io.Writer, req *http.Request) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}

	path := req.URL.Path
	switch {
	case strings.HasPrefix(path, "/1.1/statuses/destroy/"),
		strings.HasPrefix(path, "/1.1/statuses/unretweet/"):
		i.handleDestroy(w, req, body)

	case strings.HasPrefix(path, "/1.1/statuses/retweet/"):
		i.handleRetweet(w, req, body)

	case strings.EqualFold(path, "/1.1/statuses/update.json"):
		i.handleUpdate(w, req, body)

	default:
		i.handleRelay(w, req, body)
	}
}

// handleDestroy relays a destroy/unretweet call, then marks the status as
// permanently gone so subscribers drop it.
func (i *Interceptor) handleDestroy(w io.Writer, req *http.Request, body []byte) {
	session := i.sessionFor(req, body)

	resp, respBody, err := i.callOrigin(req, body, credentialOf(session))
	if err != nil {
		i.log.Warn("Destroy relay failed", "url", req.URL.String(), "error", err)
		writeStatus(w, http.StatusInternalServerError)
		return
	}

	writeResponse(w, resp, respBody)

	if session != nil && resp.StatusCode == http.StatusOK {
		if id, err := twitter.StatusID(respBody); err == nil {
			session.StatusDestroyed(id)
		}
	}
}

// handleRetweet relays a retweet call and, when self-retweet display is on,
// pushes the retweeted status to the owner's subscribers. The relayed payload
// from this client profile lacks full_text, so a second show lookup fetches
// the complete one.
func (i *Interceptor) handleRetweet(w io.Writer, req *http.Request, body []byte) {
	session := i.sessionFor(req, body)
	if session == nil {
		i.handleRelayUnbound(w, req, body)
		return
	}
	cred := session.Credential()

	resp, respBody, err := i.callOrigin(req, body, cred)
	if err != nil {
		i.log.Warn("Retweet relay failed", "url", req.URL.String(), "error", err)
		writeStatus(w, http.StatusInternalServerError)
		return
	}

	writeResponse(w, resp, respBody)

	// The target may have been deleted; record the hint regardless of the
	// self-retweet flag, a later poll can still surface it
	if resp.StatusCode == http.StatusNotFound {
		if id := trailingStatusID(req.URL.Path); id != 0 {
			session.StatusMaybeDestroyed(id)
		}
		return
	}

	if resp.StatusCode != http.StatusOK || !i.cfg.ShowMyRetweet {
		return
	}

	if twitter.StatusHasFullText(respBody) {
		session.SendStatus(respBody)
		return
	}

	id, err := twitter.StatusID(respBody)
	if err != nil {
		session.SendStatus(respBody)
		return
	}

	if full, err := i.fetchStatus(cred, id); err == nil {
		session.SendStatus(full)
	} else {
		i.log.Debug("Show lookup failed, pushing original payload", "status", id, "error", err)
		session.SendStatus(respBody)
	}
}

// fetchStatus issues the secondary show call that carries full_text
func (i *Interceptor) fetchStatus(cred *twitter.Credential, id int64) ([]byte, error) {
	showURL := cred.APIBase() + "/1.1/statuses/show.json?id=" + strconv.FormatInt(id, 10) + "&include_entities=1"

	req, err := cred.NewRequest(context.Background(), http.MethodGet, showURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := cred.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("show lookup returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// handleUpdate serves statuses/update.json. The targeted client embeds its
// OAuth credential in the POST body, so owner resolution includes the body; a
// status of the form "d @handle text" becomes a direct-message call instead
// of a tweet.
func (i *Interceptor) handleUpdate(w io.Writer, req *http.Request, body []byte) {
	session := i.sessionFor(req, body)

	var form url.Values
	if strings.Contains(req.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		form, _ = url.ParseQuery(string(body))
	}

	if session != nil && form != nil {
		if m := dmShorthand.FindStringSubmatch(form.Get("status")); m != nil {
			i.sendDirectMessage(w, session, m[1], m[2])
			return
		}
	}

	// Forward with the client's own headers so the tweet keeps the client's
	// via-app name instead of TweetDeck's
	resp, respBody, err := i.callOrigin(req, body, nil)
	if err != nil {
		i.log.Warn("Update relay failed", "url", req.URL.String(), "error", err)
		writeStatus(w, http.StatusInternalServerError)
		return
	}

	writeResponse(w, resp, respBody)

	// Replying to a deleted tweet yields 401
	if session != nil && resp.StatusCode == http.StatusUnauthorized && form != nil {
		if id, err := strconv.ParseInt(form.Get("in_reply_to_status_id"), 10, 64); err == nil {
			session.StatusMaybeDestroyed(id)
		}
	}
}

func (i *Interceptor) sendDirectMessage(w io.Writer, session *twitter.Session, screenName, text string) {
	cred := session.Credential()

	recipientID, err := session.Users().IDByScreenName(context.Background(), cred, screenName)
	if err != nil {
		i.log.Warn("Direct message recipient lookup failed", "screen_name", screenName, "error", err)
		writeStatus(w, http.StatusInternalServerError)
		return
	}

	payload := twitter.DirectMessagePayload(recipientID, text)
	status, err := cred.RequestJSON(context.Background(), http.MethodPost,
		cred.APIBase()+"/1.1/direct_messages/events/new.json", payload, nil)
	if status == 0 {
		i.log.Warn("Direct message send failed", "recipient", recipientID, "error", err)
		writeStatus(w, http.StatusInternalServerError)
		return
	}

	i.log.Info("Status update rewritten to direct message", "owner", session.OwnerID(), "recipient", recipientID)
	writeStatus(w, status)
}

// handleRelay forwards an api call, substituting the session credential when
// the owner resolves to one
func (i *Interceptor) handleRelay(w io.Writer, req *http.Request, body []byte) {
	session := i.sessionFor(req, body)

	resp, respBody, err := i.callOrigin(req, body, credentialOf(session))
	if err != nil {
		i.log.Warn("API relay failed", "url", req.URL.String(), "error", err)
		writeStatus(w, http.StatusInternalServerError)
		return
	}

	writeResponse(w, resp, respBody)
}

// handleRelayUnbound forwards verbatim with the client's original headers
func (i *Interceptor) handleRelayUnbound(w io.Writer, req *http.Request, body []byte) {
	resp, respBody, err := i.callOrigin(req, body, nil)
	if err != nil {
		i.log.Warn("API relay failed", "url", req.URL.String(), "error", err)
		writeStatus(w, http.StatusInternalServerError)
		return
	}

	writeResponse(w, resp, respBody)
}

// ownerIDFrom tries the Authorization header, the query string, then the
// request body; the first match wins
func (i *Interceptor) ownerIDFrom(req *http.Request, body string) int64 {
	for _, candidate := range []string{req.Header.Get("Authorization"), req.URL.RawQuery, body} {
		if candidate == "" {
			continue
		}
		if m := ownerIDPattern.FindStringSubmatch(candidate); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}

// sessionFor resolves the owner and returns their session, or nil when the
// call should be treated as unauthenticated
func (i *Interceptor) sessionFor(req *http.Request, body []byte) *twitter.Session {
	ownerID := i.ownerIDFrom(req, string(body))
	if ownerID == 0 {
		return nil
	}

	session, err := i.registry.GetOrCreate(context.Background(), ownerID)
	if err != nil {
		i.log.Debug("No session for owner", "owner", ownerID, "error", err)
		return nil
	}
	return session
}

func credentialOf(session *twitter.Session) *twitter.Credential {
	if session == nil {
		return nil
	}
	return session.Credential()
}

// callOrigin issues the outbound call and buffers the full response so it can
// be both inspected and relayed. With a credential the session's headers and
// cookies replace the client's; without one the original headers pass through.
func (i *Interceptor) callOrigin(req *http.Request, body []byte, cred *twitter.Credential) (*http.Response, []byte, error) {
	var (
		out *http.Request
		err error
	)

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	if cred != nil {
		out, err = cred.NewRequest(context.Background(), req.Method, cred.APIBase()+req.URL.RequestURI(), reader)
		if err == nil {
			if ct := req.Header.Get("Content-Type"); ct != "" {
				out.Header.Set("Content-Type", ct)
			}
		}
	} else {
		out, err = http.NewRequest(req.Method, i.relayTarget(req), reader)
		if err == nil {
			copyHeaders(out.Header, req.Header)
			out.Header.Del("Proxy-Connection")
			out.Header.Del("Proxy-Authorization")
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build origin request: %w", err)
	}
	out.ContentLength = int64(len(body))

	var resp *http.Response
	if cred != nil {
		resp, err = cred.Do(out)
	} else {
		resp, err = i.transport.RoundTrip(out)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("origin call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read origin response: %w", err)
	}

	return resp, respBody, nil
}

func (i *Interceptor) relayTarget(req *http.Request) string {
	if i.originBase != "" {
		return i.originBase + req.URL.RequestURI()
	}
	return "https://" + req.Host + req.URL.RequestURI()
}

// trailingStatusID pulls the numeric id out of paths like
// /1.1/statuses/retweet/123456.json
func trailingStatusID(path string) int64 {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return 0
	}
	tail := strings.TrimSuffix(path[idx+1:], ".json")

	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// writeResponse relays a buffered origin response verbatim
func writeResponse(w io.Writer, resp *http.Response, body []byte) {
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.TransferEncoding = nil
	resp.Header.Del("Transfer-Encoding")

	resp.Write(w)
}

// writeStatus synthesizes an empty response with the given status code
func writeStatus(w io.Writer, code int) {
	resp := &http.Response{
		StatusCode:    code,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          http.NoBody,
		ContentLength: 0,
	}
	resp.Write(w)
}
