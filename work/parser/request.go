package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// MaxRequestBytes caps how much of a client request is read in one receive.
// Stream requests are a single GET line plus a handful of headers; bodies are
// never read.
const MaxRequestBytes = 64 * 1024

// ErrEmptyRequest signals that the client sent nothing before closing. The
// connection is dropped silently, without an error response.
var ErrEmptyRequest = errors.New("empty request payload")

// Request is the parsed form of the single request shape the proxy accepts:
// GET /stream?url=<encoded>&user=<u>&pass=<p> with an optional Range header.
type Request struct {
	Method  string            // request method from the request line
	RawPath string            // path plus query exactly as received
	Proto   string            // HTTP version token from the request line
	Headers map[string]string // headers with lowercased keys, up to the first blank line
	Target  *url.URL          // decoded target URL from the url query parameter
	User    string            // optional provider username
	Pass    string            // optional provider password
	Range   string            // client Range header value, "" when absent
}

// Parse parses the minimal HTTP/1.x subset the proxy needs from raw client
// bytes: a well-formed request line, headers up to the first blank line, and
// the url/user/pass query parameters extracted from the request path.
//
// Failure modes:
//   - no payload at all -> ErrEmptyRequest (caller closes silently)
//   - malformed request line, wrong route, or missing/unparseable url -> error
//     (caller answers 400)
func Parse(data []byte) (*Request, error) {
	if len(data) == 0 {
		return nil, ErrEmptyRequest
	}

	text := string(data)
	lines := strings.Split(text, "\r\n")

	// request line: METHOD path VERSION
	parts := strings.Split(lines[0], " ")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed request line: %q", lines[0])
	}

	req := &Request{
		Method:  parts[0],
		RawPath: parts[1],
		Proto:   parts[2],
		Headers: make(map[string]string),
	}

	// headers until the first blank line, keys lowercased
	for _, line := range lines[1:] {
		if line == "" {
			break
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		req.Headers[key] = strings.TrimSpace(line[idx+1:])
	}
	req.Range = req.Headers["range"]

	// treat the request path as a query string against a synthetic base so
	// net/url does the percent-decoding
	parsed, err := url.Parse("http://127.0.0.1" + req.RawPath)
	if err != nil {
		return nil, fmt.Errorf("unparseable request path %q: %w", req.RawPath, err)
	}
	if parsed.Path != "/stream" {
		return nil, fmt.Errorf("unsupported path: %s", parsed.Path)
	}

	query := parsed.Query()
	rawTarget := query.Get("url")
	if rawTarget == "" {
		return nil, errors.New("missing url parameter")
	}

	target, err := url.Parse(rawTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid target url: %w", err)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("target url has no host: %q", rawTarget)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("unsupported target scheme: %q", target.Scheme)
	}

	req.Target = target
	req.User = query.Get("user")
	req.Pass = query.Get("pass")

	return req, nil
}
