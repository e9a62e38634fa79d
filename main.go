// chatrelay - streaming LLM chat relay server.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/provider"
	"github.com/jeranaias/chatrelay/internal/server"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		addr        = flag.String("addr", "", "listen address (overrides config)")
		configPath  = flag.String("config", "", "config file path (default ~/.chatrelay/config.toml)")
		watchConfig = flag.Bool("watch-config", true, "reload config file on change")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("chatrelay %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	registry := provider.NewRegistry()
	registerProviders(registry, cfg)
	logAvailability(registry)

	listenAddr := cfg.Server.Addr()
	if *addr != "" {
		listenAddr = *addr
	}

	cors := server.DefaultCORSConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		cors.AllowedOrigins = cfg.Server.CORSOrigins
	}

	srv := server.NewServer(listenAddr, registry).WithCORS(cors)

	if *watchConfig {
		if closer := startConfigWatcher(*configPath, registry); closer != nil {
			defer closer()
		}
	}

	// Serve until interrupted, then drain in-flight streams.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Printf("SERVER_SHUTDOWN | signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("SERVER_SHUTDOWN_FAILED | error=%v", err)
		}
	}
}

// loadConfig loads the config from the given path, or the default
// location when empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// registerProviders wires the configured upstream adapters.
func registerProviders(registry *provider.Registry, cfg *config.Config) {
	together := provider.NewTogether(cfg.Together.APIKey)
	if cfg.Together.BaseURL != "" {
		together.WithBaseURL(cfg.Together.BaseURL)
	}
	registry.Register(together, "meta-llama", "mistralai")
}

// logAvailability reports each provider's configured state at startup.
func logAvailability(registry *provider.Registry) {
	for name, available := range registry.Availability() {
		log.Printf("PROVIDER_STATUS | provider=%s configured=%t", name, available)
	}
}

// startConfigWatcher hot-reloads provider configuration when the config
// file changes. Returns a closer, or nil when watching is not possible.
func startConfigWatcher(path string, registry *provider.Registry) func() {
	if path == "" {
		var err error
		path, err = config.ConfigPath()
		if err != nil {
			return nil
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
		registerProviders(registry, cfg)
		logAvailability(registry)
	})
	if err != nil {
		log.Printf("CONFIG_WATCH_UNAVAILABLE | error=%v", err)
		return nil
	}
	if err := watcher.Watch(); err != nil {
		log.Printf("CONFIG_WATCH_UNAVAILABLE | error=%v", err)
		watcher.Close()
		return nil
	}
	return func() { watcher.Close() }
}
