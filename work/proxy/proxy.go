package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"

	"lsproxy/work/cache"
	"lsproxy/work/config"
	"lsproxy/work/logger"
	"lsproxy/work/parser"
	"lsproxy/work/registry"
	"lsproxy/work/relay"
	"lsproxy/work/respond"
	"lsproxy/work/upstream"
	"lsproxy/work/utils"
)

// Credentials carries the optional provider username/password pair the
// catalog layer hands over alongside a stream URL. Both values are opaque
// strings here.
type Credentials struct {
	Username string
	Password string
}

// Server is the local streaming proxy: a loopback TCP listener that accepts
// plaintext player connections, replays fingerprinted requests against the
// real origin, follows one redirect hop, rewrites HLS playlists, and streams
// everything else back verbatim.
//
// Servers are explicitly constructed (no ambient singletons) so tests can run
// several instances on distinct port ranges.
type Server struct {
	Config    *config.Config
	Registry  *registry.Registry
	Cache     *cache.RedirectCache
	Connector *upstream.Connector

	mu       sync.Mutex // guards listener/running/port transitions
	listener net.Listener
	running  bool
	port     int
}

// New wires up a Server from its configuration. Nothing is bound until
// Start is called.
func New(cfg *config.Config) *Server {
	return &Server{
		Config:    cfg,
		Registry:  registry.New(),
		Cache:     cache.NewRedirectCache(cfg.RedirectTTL),
		Connector: upstream.NewConnector(cfg),
	}
}

// Start binds the stream listener to the first available loopback port in
// the configured range, trying sequentially, and launches the accept loop.
// Calling Start on a running server is a no-op; the bound port is unchanged.
// When every candidate port is taken the last bind error is returned.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		logger.Debug("{proxy - Start} Already running on port %d, ignoring", s.port)
		return nil
	}

	var lastErr error
	for port := s.Config.PortRangeStart; port <= s.Config.PortRangeEnd; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			lastErr = err
			logger.Debug("{proxy - Start} Port %d unavailable: %v", port, err)
			continue
		}

		s.listener = ln
		s.port = port
		s.running = true

		go s.acceptLoop(ln)

		logger.Info("{proxy - Start} Streaming proxy listening on 127.0.0.1:%d", port)
		return nil
	}

	return fmt.Errorf("no free port in [%d, %d]: %w",
		s.Config.PortRangeStart, s.Config.PortRangeEnd, lastErr)
}

// Stop closes the listener, force-closes every registered connection (client
// and upstream), clears the redirect cache and resets the server to
// not-running. Safe to call on a stopped server.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ln := s.listener
	s.listener = nil
	s.running = false
	s.port = 0
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.Registry.CloseAll()
	s.Cache.Clear()

	logger.Info("{proxy - Stop} Streaming proxy stopped")
}

// IsRunning reports whether the listener is currently bound.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Port returns the bound listener port, or 0 when not running.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// ConnectionCount returns the number of currently tracked connections.
func (s *Server) ConnectionCount() int {
	return s.Registry.Count()
}

// CacheEntries returns the redirect cache population.
func (s *Server) CacheEntries() int {
	return s.Cache.Len()
}

// ProxyURL builds the loopback URL the player should be handed for a given
// origin URL, with optional provider credentials as query parameters. When
// the server is not running the original URL is returned unchanged so the
// caller can still attempt direct playback; the degradation is logged rather
// than silent because it usually means Start was skipped.
func (s *Server) ProxyURL(original string, creds *Credentials) string {
	s.mu.Lock()
	running, port := s.running, s.port
	s.mu.Unlock()

	if !running {
		logger.Warn("{proxy - ProxyURL} Proxy not running, handing back original URL: %s",
			utils.LogURL(s.Config.ObfuscateUrls, original))
		return original
	}

	proxied := fmt.Sprintf("http://127.0.0.1:%d/stream?url=%s", port, url.QueryEscape(original))
	if creds != nil && creds.Username != "" {
		proxied += "&user=" + url.QueryEscape(creds.Username) +
			"&pass=" + url.QueryEscape(creds.Password)
	}
	return proxied
}

// acceptLoop registers and dispatches every accepted connection to its own
// goroutine. It exits when the listener is closed by Stop.
func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Debug("{proxy - acceptLoop} Listener closed: %v", err)
			return
		}
		go s.handleConn(conn)
	}
}

// handleConn owns one player connection for its whole lifetime: register,
// read and parse the request, hand off to the relay, unregister on any
// terminal transition.
func (s *Server) handleConn(conn net.Conn) {
	id := s.Registry.Register(conn, registry.SideClient)
	defer func() {
		conn.Close()
		s.Registry.Unregister(id)
	}()

	buf := make([]byte, parser.MaxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		// nothing received; drop silently
		return
	}

	req, perr := parser.Parse(buf[:n])
	if perr != nil {
		if errors.Is(perr, parser.ErrEmptyRequest) {
			return
		}
		logger.Debug("{proxy - handleConn} Rejecting malformed request from %s: %v", conn.RemoteAddr(), perr)
		respond.WriteError(conn, 400, "malformed request")
		return
	}

	logger.Debug("{proxy - handleConn} %s requested %s", conn.RemoteAddr(),
		utils.LogURL(s.Config.ObfuscateUrls, req.Target.String()))

	rel := &relay.Relay{
		Client:    conn,
		Connector: s.Connector,
		Cache:     s.Cache,
		Registry:  s.Registry,
		Config:    s.Config,
		BoundPort: s.Port(),
	}
	rel.Serve(req)
}
