// Package main implements the entry point for the avatar event bridge.
// The bridge accepts OSC control messages over UDP and persistent WebSocket
// channels from a long-running AI process and reconciles them into one
// thread-safe parameter store that a rendering collaborator polls each frame.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/avatarbridge/bridge"
	"github.com/c360/avatarbridge/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "avatarbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting avatar event bridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	b, err := bridge.New(cfg, bridge.Options{
		Transcript: func(text string) {
			slog.Debug("transcript", "text", text)
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}

	return runWithSignalHandling(b, cliCfg)
}

// runWithSignalHandling starts the bridge and blocks until SIGINT/SIGTERM
func runWithSignalHandling(b *bridge.Bridge, cliCfg *CLIConfig) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := b.Start(signalCtx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	slog.Info("Bridge started successfully")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := b.Stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Bridge shutdown complete")
	return nil
}

// loadConfig loads configuration from path, or defaults when path is empty
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
