package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lsproxy/work/config"
	"lsproxy/work/handlers"
	"lsproxy/work/logger"
	"lsproxy/work/middleware"
	"lsproxy/work/proxy"
)

var (
	Version = "v0.1.0" // default version
)

func main() {

	configPath := flag.String("config", "", "optional path to a JSON config file")
	writeExample := flag.String("write-example-config", "", "write an example config file to the given path and exit")
	flag.Parse()

	if *writeExample != "" {
		if err := config.CreateExampleConfig(*writeExample); err != nil {
			log.Fatalf("Failed to write example config: %v", err)
		}
		return
	}

	// load our config; defaults apply when no file is given
	cfg := config.Load(*configPath)

	if cfg.Debug {
		logger.SetLogLevel("DEBUG")
	}

	// create and start the streaming proxy
	srv := proxy.New(cfg)
	if err := srv.Start(); err != nil {
		log.Fatalf("Proxy failed to start: %v", err)
	}

	logger.Info("Starting Local Streaming Proxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Port Range: [%d, %d] (bound: %d)", cfg.PortRangeStart, cfg.PortRangeEnd, srv.Port())
	logger.Info("  - Redirect Cache TTL: %s", cfg.RedirectTTL)
	logger.Info("  - Connect Timeout: %s", cfg.ConnectTimeout)
	logger.Info("  - User Agent: %s", cfg.UserAgent)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// diagnostics surface: /status and /metrics, never part of the data plane
	if cfg.DiagnosticsAddr != "" {
		router := mux.NewRouter()
		router.HandleFunc("/status", middleware.Gzip(handlers.HandleStatus(srv))).Methods("GET")
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")

		go func() {
			logger.Info("Diagnostics listening on %s", cfg.DiagnosticsAddr)
			if err := http.ListenAndServe(cfg.DiagnosticsAddr, router); err != nil {
				logger.Error("Diagnostics server failed: %v", err)
			}
		}()
	}

	// block until asked to shut down, then cancel everything in flight
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	srv.Stop()
}
