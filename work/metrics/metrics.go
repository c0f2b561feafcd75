package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActiveConnections tracks the number of currently registered connections,
// split by side ("client" or "upstream"). Gauge: rises on accept/dial, falls
// on close.
var ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "lsproxy_active_connections",
	Help: "Number of active proxied connections",
}, []string{"side"})

// BytesRelayed counts payload bytes moved through the relay, labeled by
// direction ("downstream" for upstream-to-player traffic).
var BytesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lsproxy_bytes_relayed_total",
	Help: "Total bytes relayed to clients",
}, []string{"direction"})

// RedirectsFollowed counts 301/302 responses the relay chased to a new origin.
var RedirectsFollowed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lsproxy_redirects_followed_total",
	Help: "Number of upstream redirects followed",
})

// RedirectCacheHits and RedirectCacheMisses track redirect cache effectiveness
// for hot live-HLS paths.
var RedirectCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lsproxy_redirect_cache_hits_total",
	Help: "Redirect cache lookups that returned a live target",
})

var RedirectCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lsproxy_redirect_cache_misses_total",
	Help: "Redirect cache lookups that found nothing usable",
})

// PlaylistsRewritten counts HLS playlists rewritten to route through the proxy.
var PlaylistsRewritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lsproxy_playlists_rewritten_total",
	Help: "Number of HLS playlists rewritten",
})

// ErrorResponses counts HTTP error responses sent to the player, by status code.
var ErrorResponses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lsproxy_error_responses_total",
	Help: "Number of error responses sent to clients",
}, []string{"code"})
