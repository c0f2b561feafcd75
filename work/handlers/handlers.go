package handlers

import (
	"encoding/json"
	"net/http"

	"lsproxy/work/logger"
	"lsproxy/work/proxy"
)

// statusPayload is the JSON shape served on /status.
type statusPayload struct {
	Running     bool `json:"running"`
	Port        int  `json:"port"`
	Connections int  `json:"connections"`
	CacheSize   int  `json:"cacheSize"`
}

// HandleStatus reports the proxy's lifecycle state for the playback
// controller and for eyeballing during debugging.
func HandleStatus(srv *proxy.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := statusPayload{
			Running:     srv.IsRunning(),
			Port:        srv.Port(),
			Connections: srv.ConnectionCount(),
			CacheSize:   srv.CacheEntries(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Error("{handlers - HandleStatus} Failed to encode status: %v", err)
		}
	}
}
