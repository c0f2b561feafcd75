package rewrite

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"lsproxy/work/metrics"
)

// IsPlaylist applies the content-type independent heuristic for HLS text
// playlists: the body carries an #EXTM3U or #EXTINF tag. Origins frequently
// mislabel playlist content types, so headers are never trusted here.
func IsPlaylist(data []byte) bool {
	return bytes.Contains(data, []byte("#EXTM3U")) ||
		bytes.Contains(data, []byte("#EXTINF"))
}

// Playlist rewrites a complete upstream HLS response so every URL reference
// in the body re-enters the proxy. The raw response is split at the first
// blank-line boundary into head and body; body lines that are blank or tags
// pass through untouched, everything else is resolved to an absolute URL
// against the upstream base and wrapped as a loopback /stream URL on the
// actual bound port. The head is preserved except Content-Length, which is
// recomputed from the rewritten body.
func Playlist(raw []byte, base *url.URL, boundPort int) []byte {
	head, body, hadSeparator := splitResponse(raw)
	if !hadSeparator {
		// no header/body boundary; treat the whole thing as body
		head, body = nil, raw
	}

	rewritten := RewriteBody(body, base, boundPort)

	var out bytes.Buffer
	if head != nil {
		out.Write(rewriteHead(head, len(rewritten)))
		out.WriteString("\r\n\r\n")
	}
	out.Write(rewritten)

	metrics.PlaylistsRewritten.Inc()
	return out.Bytes()
}

// RewriteBody rewrites each URL reference line of a playlist body, leaving
// comments, tags and blank lines byte-identical.
func RewriteBody(body []byte, base *url.URL, boundPort int) []byte {
	lines := strings.Split(string(body), "\n")

	for i, line := range lines {
		// preserve the exact line ending
		suffix := ""
		if strings.HasSuffix(line, "\r") {
			line = strings.TrimSuffix(line, "\r")
			suffix = "\r"
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		lines[i] = ProxyReference(trimmed, base, boundPort) + suffix
	}

	return []byte(strings.Join(lines, "\n"))
}

// ProxyReference resolves a playlist URL reference to absolute form and wraps
// it in a loopback /stream URL so the segment or sub-playlist fetch comes
// back through the proxy.
func ProxyReference(ref string, base *url.URL, boundPort int) string {
	abs := absolutize(ref, base)
	return fmt.Sprintf("http://127.0.0.1:%d/stream?url=%s", boundPort, url.QueryEscape(abs))
}

// absolutize turns a playlist reference into an absolute URL: absolute
// references pass through, root-relative ones get the upstream origin
// prefixed, and bare relative ones are joined to the base directory.
func absolutize(ref string, base *url.URL) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}

	origin := base.Scheme + "://" + base.Host
	if strings.HasPrefix(ref, "/") {
		return origin + ref
	}

	dir := base.Path
	if idx := strings.LastIndex(dir, "/"); idx >= 0 {
		dir = dir[:idx]
	} else {
		dir = ""
	}
	return origin + dir + "/" + ref
}

// splitResponse splits a raw HTTP response at the first blank line. Returns
// hadSeparator=false when no boundary exists.
func splitResponse(raw []byte) (head, body []byte, hadSeparator bool) {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:], true
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:], true
	}
	return nil, raw, false
}

// rewriteHead passes the response head through minus any Content-Length,
// which is re-appended with the rewritten body's byte length.
func rewriteHead(head []byte, bodyLen int) []byte {
	lines := strings.Split(string(head), "\r\n")
	kept := make([]string, 0, len(lines)+1)

	for _, line := range lines {
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			continue
		}
		kept = append(kept, line)
	}
	kept = append(kept, fmt.Sprintf("Content-Length: %d", bodyLen))

	return []byte(strings.Join(kept, "\r\n"))
}
