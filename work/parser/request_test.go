package parser

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamRequest(t *testing.T) {
	target := "http://cdn.example/live/u/p/1.m3u8"
	raw := "GET /stream?url=" + url.QueryEscape(target) + "&user=alice&pass=s3cret HTTP/1.1\r\n" +
		"Host: 127.0.0.1:9080\r\n" +
		"Range: bytes=100-\r\n" +
		"User-Agent: AVPlayer\r\n" +
		"\r\n"

	req, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "HTTP/1.1", req.Proto)
	assert.Equal(t, target, req.Target.String())
	assert.Equal(t, "alice", req.User)
	assert.Equal(t, "s3cret", req.Pass)
	assert.Equal(t, "bytes=100-", req.Range)
}

func TestParseHeadersLowercased(t *testing.T) {
	raw := "GET /stream?url=http%3A%2F%2Fcdn.example%2Fa.ts HTTP/1.1\r\n" +
		"HOST: localhost\r\n" +
		"RANGE: bytes=0-\r\n" +
		"X-Custom-Thing: value\r\n" +
		"\r\n"

	req, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "localhost", req.Headers["host"])
	assert.Equal(t, "bytes=0-", req.Headers["range"])
	assert.Equal(t, "value", req.Headers["x-custom-thing"])
	assert.Equal(t, "bytes=0-", req.Range)
}

func TestParseEmptyPayload(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorIs(t, err, ErrEmptyRequest)

	_, err = Parse([]byte{})
	assert.ErrorIs(t, err, ErrEmptyRequest)
}

func TestParseMalformedRequestLine(t *testing.T) {
	_, err := Parse([]byte("GARBAGE\r\n\r\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("GET /stream\r\n\r\n"))
	assert.Error(t, err)
}

func TestParseUnsupportedPath(t *testing.T) {
	_, err := Parse([]byte("GET /badpath HTTP/1.1\r\n\r\n"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmptyRequest)
}

func TestParseMissingURLParameter(t *testing.T) {
	_, err := Parse([]byte("GET /stream?user=a HTTP/1.1\r\n\r\n"))
	assert.Error(t, err)
}

func TestParseTargetWithoutHost(t *testing.T) {
	_, err := Parse([]byte("GET /stream?url=http%3A%2F%2F%2Fpath-only HTTP/1.1\r\n\r\n"))
	assert.Error(t, err)
}

func TestParseUnsupportedScheme(t *testing.T) {
	_, err := Parse([]byte("GET /stream?url=ftp%3A%2F%2Fcdn.example%2Fa HTTP/1.1\r\n\r\n"))
	assert.Error(t, err)
}

func TestParseNoRangeHeader(t *testing.T) {
	req, err := Parse([]byte("GET /stream?url=http%3A%2F%2Fcdn.example%2Fa.ts HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	assert.Empty(t, req.Range)
	assert.Empty(t, req.User)
	assert.Empty(t, req.Pass)
}
