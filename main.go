package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	// stdout carries the MCP protocol; everything else goes to stderr.
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Fail fast on missing configuration so no connection attempt is ever
	// made with an incomplete descriptor. Configuration is still re-read
	// per invocation afterwards.
	cfg, err := LoadConfig(os.Getenv)
	if err != nil {
		log.Errorf("%v", err)
		var missing *MissingConfigError
		if errors.As(err, &missing) {
			log.Error("MSSQL_USER, MSSQL_PASSWORD, and MSSQL_DATABASE are required")
		}
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal")
		cancel()
	}()

	server := NewMCPServer(ctx, os.Getenv, log)
	defer server.Shutdown()

	log.Infof("Starting MSSQL MCP server for %s/%s as %s", cfg.Host, cfg.Database, cfg.User)

	if err := server.Run(); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Server shutdown gracefully")
			return
		}
		log.Errorf("Server error: %v", err)
		os.Exit(1)
	}
}
