package relay

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"lsproxy/work/cache"
	"lsproxy/work/config"
	"lsproxy/work/logger"
	"lsproxy/work/metrics"
	"lsproxy/work/parser"
	"lsproxy/work/registry"
	"lsproxy/work/respond"
	"lsproxy/work/rewrite"
	"lsproxy/work/upstream"
	"lsproxy/work/utils"
)

const (
	// probeWindow bounds the status-line scan on the first upstream chunk.
	probeWindow = 1000

	// maxProbeHead caps how far the relay reads while completing a Location
	// line that spans a chunk boundary.
	maxProbeHead = 8 * 1024

	// readBufSize is the per-read ceiling while streaming.
	readBufSize = 256 * 1024
)

// redirectMarkers are the exact status-line prefixes that trigger redirect
// following. Anything else on the first chunk streams through verbatim.
var redirectMarkers = []string{
	"HTTP/1.1 301", "HTTP/1.1 302",
	"HTTP/1.0 301", "HTTP/1.0 302",
}

// Relay drives one proxied response: it sends the fingerprinted request
// upstream, inspects the first chunk for a 301/302, optionally caches and
// follows the redirect for exactly one hop, and then either streams bytes
// verbatim or rewrites an HLS playlist before answering the client.
type Relay struct {
	Client    net.Conn             // accepted player connection
	Connector *upstream.Connector  // opens upstream sockets
	Cache     *cache.RedirectCache // short-TTL redirect target cache
	Registry  *registry.Registry   // tracks upstream sockets for bulk shutdown
	Config    *config.Config
	BoundPort int // actual listener port, threaded into playlist rewriting
}

// Serve handles a parsed client request end to end. All failure paths answer
// the client with a standard HTTP error (or close silently mid-stream) and
// are terminal for this connection only.
func (r *Relay) Serve(req *parser.Request) {
	targetPath := req.Target.Path
	cacheable := cache.Cacheable(targetPath)

	// a cache hit for a live-HLS path skips redirect detection entirely and
	// goes straight at the previously resolved destination
	if cacheable {
		if cached, ok := r.Cache.Lookup(targetPath); ok {
			metrics.RedirectCacheHits.Inc()
			logger.Debug("{relay - Serve} Redirect cache hit for %s", utils.ObfuscatePath(targetPath))
			r.serveDirect(cached, req)
			return
		}
		metrics.RedirectCacheMisses.Inc()
	}

	target, err := upstream.ResolveTarget(req.Target)
	if err != nil {
		respond.WriteError(r.Client, 400, "invalid target")
		return
	}

	up, upID, err := r.connect(target, upstream.ProtoHTTP10, req)
	if err != nil {
		logger.Warn("{relay - Serve} Upstream connect failed for %s: %v",
			utils.LogURL(r.Config.ObfuscateUrls, req.Target.String()), err)
		respond.WriteError(r.Client, 502, "upstream connection failed")
		return
	}
	defer func() {
		up.Close()
		r.Registry.Unregister(upID)
	}()

	buf := make([]byte, readBufSize)
	n, readErr := up.Read(buf)
	if n == 0 {
		if readErr != nil && readErr != io.EOF {
			respond.WriteError(r.Client, 502, "upstream read failed")
		}
		return
	}

	first := buf[:n]
	if loc, redirected := r.probeRedirect(up, &first); redirected {
		if cacheable {
			r.Cache.Store(targetPath, loc)
			logger.Debug("{relay - Serve} Cached redirect for %s", utils.ObfuscatePath(targetPath))
		}

		// the prior hop is done; close it before opening the next
		up.Close()
		r.Registry.Unregister(upID)

		metrics.RedirectsFollowed.Inc()
		r.serveDirect(loc, req)
		return
	}

	r.deliver(up, first, buf, req.Target, readErr)
}

// serveDirect connects straight to an absolute destination URL (a redirect
// target, cached or freshly extracted) and relays its response without any
// further redirect detection. The hop is issued as HTTP/1.1 so Range behaves
// properly on the final edge.
func (r *Relay) serveDirect(destination string, req *parser.Request) {
	destURL, err := url.Parse(destination)
	if err != nil || destURL.Host == "" {
		respond.WriteError(r.Client, 500, "invalid redirect target")
		return
	}

	target, err := upstream.ResolveTarget(destURL)
	if err != nil {
		respond.WriteError(r.Client, 500, "invalid redirect target")
		return
	}

	up, upID, err := r.connect(target, upstream.ProtoHTTP11, req)
	if err != nil {
		logger.Warn("{relay - serveDirect} Connect to redirect target failed: %v", err)
		respond.WriteError(r.Client, 502, "upstream connection failed")
		return
	}
	defer func() {
		up.Close()
		r.Registry.Unregister(upID)
	}()

	buf := make([]byte, readBufSize)
	n, readErr := up.Read(buf)
	if n == 0 {
		if readErr != nil && readErr != io.EOF {
			respond.WriteError(r.Client, 502, "upstream read failed")
		}
		return
	}

	r.deliver(up, buf[:n], buf, destURL, readErr)
}

// connect dials the target, registers the socket, and sends the fingerprinted
// request. On send failure the socket is closed and unregistered before the
// error is returned.
func (r *Relay) connect(target *upstream.Target, proto string, req *parser.Request) (net.Conn, uint64, error) {
	up, err := r.Connector.Dial(target)
	if err != nil {
		return nil, 0, err
	}

	id := r.Registry.Register(up, registry.SideUpstream)

	request := upstream.BuildRequest(target, proto, r.Config.UserAgent, req.Range, req.User, req.Pass)
	if _, err := up.Write(request); err != nil {
		up.Close()
		r.Registry.Unregister(id)
		return nil, 0, fmt.Errorf("upstream send failed: %w", err)
	}

	return up, id, nil
}

// probeRedirect inspects the first upstream chunk for a 301/302 status line
// and, when found, extracts the Location header. The status scan is limited
// to the probe window but the Location line itself may extend past it; the
// relay keeps reading (bounded by maxProbeHead) until the line terminates.
// A redirect whose Location cannot be extracted is reported as non-redirect
// so the 3xx response streams through as-is.
func (r *Relay) probeRedirect(up net.Conn, first *[]byte) (string, bool) {
	chunk := *first

	window := chunk
	if len(window) > probeWindow {
		window = window[:probeWindow]
	}

	matched := false
	text := string(window)
	for _, marker := range redirectMarkers {
		if strings.Contains(text, marker) {
			matched = true
			break
		}
	}
	if !matched {
		return "", false
	}

	// complete the Location line if the chunk ends mid-header
	head := append([]byte(nil), chunk...)
	for !locationTerminated(head) && len(head) < maxProbeHead {
		buf := make([]byte, 4096)
		n, err := up.Read(buf)
		if n > 0 {
			head = append(head, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	*first = head

	loc := extractLocation(head)
	if loc == "" {
		logger.Warn("{relay - probeRedirect} Redirect status without extractable Location, streaming as-is")
		return "", false
	}

	return loc, true
}

// locationTerminated reports whether the buffered head contains a complete
// Location header line (or the end of the header block).
func locationTerminated(head []byte) bool {
	lower := bytes.ToLower(head)
	idx := bytes.Index(lower, []byte("location:"))
	if idx < 0 {
		return bytes.Contains(head, []byte("\r\n\r\n"))
	}
	return bytes.Contains(head[idx:], []byte("\r\n"))
}

// extractLocation pulls the Location header value out of a response head,
// up to the next CRLF.
func extractLocation(head []byte) string {
	lower := bytes.ToLower(head)
	idx := bytes.Index(lower, []byte("location:"))
	if idx < 0 {
		return ""
	}

	rest := head[idx+len("location:"):]
	end := bytes.Index(rest, []byte("\r\n"))
	if end < 0 {
		end = bytes.IndexByte(rest, '\n')
		if end < 0 {
			return ""
		}
	}

	return strings.TrimSpace(string(rest[:end]))
}

// deliver sends the upstream response to the client. Playlist responses are
// accumulated in full and rewritten; everything else streams through in
// order, chunk by chunk, until the upstream finishes or either side errors.
func (r *Relay) deliver(up net.Conn, first []byte, buf []byte, base *url.URL, firstErr error) {
	if rewrite.IsPlaylist(first) {
		r.deliverPlaylist(up, first, buf, base, firstErr)
		return
	}

	if _, err := r.Client.Write(first); err != nil {
		logger.Debug("{relay - deliver} Client write failed, tearing down: %v", err)
		return
	}
	metrics.BytesRelayed.WithLabelValues("downstream").Add(float64(len(first)))

	if firstErr != nil {
		return
	}

	for {
		n, err := up.Read(buf)
		if n > 0 {
			if _, werr := r.Client.Write(buf[:n]); werr != nil {
				logger.Debug("{relay - deliver} Client write failed mid-stream: %v", werr)
				return
			}
			metrics.BytesRelayed.WithLabelValues("downstream").Add(float64(n))
		}
		if err != nil {
			if err != io.EOF {
				logger.Debug("{relay - deliver} Upstream read ended with error: %v", err)
			}
			return
		}
	}
}

// deliverPlaylist accumulates the entire playlist response (they are small
// text documents), rewrites every reference through the proxy, and answers
// with a single write.
func (r *Relay) deliverPlaylist(up net.Conn, first []byte, buf []byte, base *url.URL, firstErr error) {
	accumulated := append([]byte(nil), first...)

	for firstErr == nil {
		n, err := up.Read(buf)
		if n > 0 {
			accumulated = append(accumulated, buf[:n]...)
		}
		if err != nil {
			if err != io.EOF {
				logger.Debug("{relay - deliverPlaylist} Upstream read ended with error: %v", err)
			}
			break
		}
	}

	rewritten := rewrite.Playlist(accumulated, base, r.BoundPort)
	if _, err := r.Client.Write(rewritten); err != nil {
		logger.Debug("{relay - deliverPlaylist} Client write failed: %v", err)
		return
	}
	metrics.BytesRelayed.WithLabelValues("downstream").Add(float64(len(rewritten)))

	logger.Debug("{relay - deliverPlaylist} Rewrote playlist (%s in, %s out)",
		utils.FormatBytes(int64(len(accumulated))), utils.FormatBytes(int64(len(rewritten))))
}
