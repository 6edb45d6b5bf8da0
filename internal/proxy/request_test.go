package proxy

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadRequest(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantMethod string
		wantURL    string
		wantBody   string
		wantErr    error
	}{
		{
			name:       "absolute URI proxy form",
			input:      "GET http://example.org/index.html HTTP/1.1\r\nHost: example.org\r\n\r\n",
			wantMethod: "GET",
			wantURL:    "http://example.org/index.html",
		},
		{
			name:       "CONNECT",
			input:      "CONNECT api.twitter.com:443 HTTP/1.1\r\nHost: api.twitter.com:443\r\n\r\n",
			wantMethod: "CONNECT",
			wantURL:    "//api.twitter.com:443",
		},
		{
			name:       "relative URI post-tunnel form",
			input:      "GET /1.1/user.json?a=1 HTTP/1.1\r\nHost: userstream.twitter.com\r\n\r\n",
			wantMethod: "GET",
			wantURL:    "/1.1/user.json?a=1",
		},
		{
			name:       "length-delimited body",
			input:      "POST /1.1/statuses/update.json HTTP/1.1\r\nHost: api.twitter.com\r\nContent-Length: 12\r\n\r\nstatus=hello",
			wantMethod: "POST",
			wantURL:    "/1.1/statuses/update.json",
			wantBody:   "status=hello",
		},
		{
			name:       "chunked body",
			input:      "POST /x HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n",
			wantMethod: "POST",
			wantURL:    "/x",
			wantBody:   "hello",
		},
		{
			name:    "closed before first byte",
			input:   "",
			wantErr: errClientGone,
		},
		{
			name:    "garbage start line",
			input:   "NOT A REQUEST\r\n\r\n",
			wantErr: ErrMalformedRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := readRequest(bufio.NewReader(strings.NewReader(tt.input)))

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("readRequest() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("readRequest() error = %v", err)
			}

			if req.Method != tt.wantMethod {
				t.Errorf("method = %q, want %q", req.Method, tt.wantMethod)
			}
			if got := req.URL.String(); got != tt.wantURL {
				t.Errorf("url = %q, want %q", got, tt.wantURL)
			}
			if tt.wantBody != "" {
				body, _ := io.ReadAll(req.Body)
				if string(body) != tt.wantBody {
					t.Errorf("body = %q, want %q", body, tt.wantBody)
				}
			}
		})
	}
}

func TestReadRequest_KeepAliveSequence(t *testing.T) {
	input := "GET /a HTTP/1.1\r\nHost: h\r\n\r\n" + "GET /b HTTP/1.1\r\nHost: h\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(input))

	first, err := readRequest(br)
	if err != nil {
		t.Fatalf("first readRequest() error = %v", err)
	}
	if first.URL.Path != "/a" {
		t.Errorf("first path = %q, want /a", first.URL.Path)
	}

	second, err := readRequest(br)
	if err != nil {
		t.Fatalf("second readRequest() error = %v", err)
	}
	if second.URL.Path != "/b" {
		t.Errorf("second path = %q, want /b", second.URL.Path)
	}

	if _, err := readRequest(br); !errors.Is(err, errClientGone) {
		t.Errorf("third readRequest() error = %v, want errClientGone", err)
	}
}
