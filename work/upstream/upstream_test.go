package upstream

import (
	"encoding/base64"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestResolveTargetDefaultPorts(t *testing.T) {
	target, err := ResolveTarget(mustParse(t, "http://cdn.example/live/u/p/1.m3u8"))
	require.NoError(t, err)
	assert.Equal(t, "cdn.example", target.Host)
	assert.Equal(t, 80, target.Port)
	assert.False(t, target.TLS)

	target, err = ResolveTarget(mustParse(t, "https://cdn.example/live/u/p/1.m3u8"))
	require.NoError(t, err)
	assert.Equal(t, 443, target.Port)
	assert.True(t, target.TLS)
}

func TestResolveTargetExplicitPort(t *testing.T) {
	target, err := ResolveTarget(mustParse(t, "http://cdn.example:8080/a.ts"))
	require.NoError(t, err)
	assert.Equal(t, 8080, target.Port)
	assert.False(t, target.TLS)

	// TLS is keyed off port 443, matching how provider URLs signal it
	target, err = ResolveTarget(mustParse(t, "http://cdn.example:443/a.ts"))
	require.NoError(t, err)
	assert.True(t, target.TLS)
}

func TestResolveTargetNoHost(t *testing.T) {
	_, err := ResolveTarget(mustParse(t, "http:///nope"))
	assert.Error(t, err)
}

func TestHostHeaderOmitsStandardPort(t *testing.T) {
	target, err := ResolveTarget(mustParse(t, "http://cdn.example/a.ts"))
	require.NoError(t, err)
	assert.Equal(t, "cdn.example", target.HostHeader())

	target, err = ResolveTarget(mustParse(t, "https://cdn.example/a.ts"))
	require.NoError(t, err)
	assert.Equal(t, "cdn.example", target.HostHeader())

	target, err = ResolveTarget(mustParse(t, "http://cdn.example:8081/a.ts"))
	require.NoError(t, err)
	assert.Equal(t, "cdn.example:8081", target.HostHeader())
}

func TestPathEmbedsCredentials(t *testing.T) {
	assert.True(t, PathEmbedsCredentials("/live/u/p/1.m3u8"))
	assert.True(t, PathEmbedsCredentials("/movie/u/p/42.mp4"))
	assert.True(t, PathEmbedsCredentials("/series/u/p/7.mkv"))
	assert.False(t, PathEmbedsCredentials("/playlist.m3u8"))
	assert.False(t, PathEmbedsCredentials("/files/show.mp4"))
}

func TestBuildRequestFingerprint(t *testing.T) {
	target, err := ResolveTarget(mustParse(t, "http://cdn.example/live/u/p/1.m3u8?token=abc"))
	require.NoError(t, err)

	raw := string(BuildRequest(target, ProtoHTTP10, "VLC/3.0.18 LibVLC/3.0.18", "", "", ""))

	lines := strings.Split(strings.TrimSuffix(raw, "\r\n\r\n"), "\r\n")
	require.Equal(t, []string{
		"GET /live/u/p/1.m3u8?token=abc HTTP/1.0",
		"Host: cdn.example",
		"User-Agent: VLC/3.0.18 LibVLC/3.0.18",
		"Accept: */*",
		"Accept-Language: en-US,en;q=0.9",
		"Icy-MetaData: 1",
		"Range: bytes=0-",
		"Connection: close",
	}, lines)
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\n"))
}

func TestBuildRequestForwardsClientRange(t *testing.T) {
	target, err := ResolveTarget(mustParse(t, "http://cdn.example/movie/u/p/42.mp4"))
	require.NoError(t, err)

	raw := string(BuildRequest(target, ProtoHTTP11, "VLC", "bytes=1024-2048", "", ""))
	assert.Contains(t, raw, "Range: bytes=1024-2048\r\n")
	assert.Contains(t, raw, "GET /movie/u/p/42.mp4 HTTP/1.1\r\n")
}

func TestBuildRequestBasicAuth(t *testing.T) {
	// credentials already embedded in the path structure: no auth header
	target, err := ResolveTarget(mustParse(t, "http://cdn.example/live/u/p/1.m3u8"))
	require.NoError(t, err)
	raw := string(BuildRequest(target, ProtoHTTP10, "VLC", "", "alice", "s3cret"))
	assert.NotContains(t, raw, "Authorization:")

	// plain path with supplied credentials: Basic auth included
	target, err = ResolveTarget(mustParse(t, "http://cdn.example/playlist.m3u8"))
	require.NoError(t, err)
	raw = string(BuildRequest(target, ProtoHTTP10, "VLC", "", "alice", "s3cret"))
	expected := base64.StdEncoding.EncodeToString([]byte("alice:s3cret"))
	assert.Contains(t, raw, "Authorization: Basic "+expected+"\r\n")
}

func TestBuildRequestEmptyPath(t *testing.T) {
	target, err := ResolveTarget(mustParse(t, "http://cdn.example"))
	require.NoError(t, err)

	raw := string(BuildRequest(target, ProtoHTTP10, "VLC", "", "", ""))
	assert.True(t, strings.HasPrefix(raw, "GET / HTTP/1.0\r\n"))
}

func TestBuildRequestNonStandardPortInHost(t *testing.T) {
	target, err := ResolveTarget(mustParse(t, "http://cdn.example:8081/a.ts"))
	require.NoError(t, err)

	raw := string(BuildRequest(target, ProtoHTTP10, "VLC", "", "", ""))
	assert.Contains(t, raw, "Host: cdn.example:8081\r\n")
}
