package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gnss-bridge/internal/config"
	"gnss-bridge/internal/logging"
	"gnss-bridge/internal/metrics"
	"gnss-bridge/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gnss-bridge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	level, _ := logging.ParseLevel(cfg.Log.Level)
	logs := web.NewLogBuffer(cfg.Log.BufferLines)
	log := logging.New(level, logs)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics.Init()

	r, err := newBridge(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Warn("shutdown", logging.Err(err))
		}
		log.Info("gnss-bridge stopped")
	}()

	log.Info("gnss-bridge starting", "config", configPath, "source", cfg.Stream.Source)
	if err := r.start(ctx); err != nil {
		return err
	}

	if cfg.Web.Enable {
		go func() {
			log.Info("web listening", "addr", cfg.Web.Listen)
			if err := web.Serve(ctx, cfg.Web.Listen, r.handler(logs)); err != nil && ctx.Err() == nil {
				log.Error("web server stopped", logging.Err(err))
				cancel()
			}
		}()
	}

	<-ctx.Done()
	log.Info("gnss-bridge stopping")
	return nil
}
