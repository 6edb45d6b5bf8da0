package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrMalformedRequest marks an unparsable start line or header block; the
// caller closes the connection.
var ErrMalformedRequest = errors.New("malformed request")

// errClientGone marks a clean close between keep-alive exchanges
var errClientGone = errors.New("client closed the connection")

// readRequest parses exactly one HTTP request from a stream positioned at a
// message boundary. A clean EOF before the first byte is errClientGone, not a
// protocol error; anything unparsable after that is ErrMalformedRequest.
func readRequest(br *bufio.Reader) (*http.Request, error) {
	if _, err := br.Peek(1); err != nil {
		return nil, errClientGone
	}

	req, err := http.ReadRequest(br)
	if err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errClientGone
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	return req, nil
}
