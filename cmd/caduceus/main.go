package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/galaxyprotocol/caduceus/internal/config"
	"github.com/galaxyprotocol/caduceus/internal/gatewaysvc"
	"github.com/galaxyprotocol/caduceus/internal/logging"
)

var version = "dev"

func main() {
	logging.Setup()

	fs := flag.NewFlagSet("caduceus", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.json (defaults to "+config.ConfigPathEnvVar+" or one of the built-in search paths)")
	logLevel := fs.String("log-level", "", "override the configured log level (debug|info|warn|error)")
	testMode := fs.Bool("test-mode", false, "build every configured component and exit without starting the run loop")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}

	levelStr := cfg.LogLevel
	if *logLevel != "" {
		levelStr = *logLevel
	}
	if l, err := logging.ParseLevel(levelStr); err != nil {
		slog.Warn("unrecognized log level, keeping default", "level", levelStr)
	} else {
		logging.SetLevel(l)
	}

	gw, err := gatewaysvc.New(*cfg)
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}

	logging.PrintBanner(version, strings.Join(gw.ChannelNames(), ", "))

	if *testMode {
		slog.Info("test-mode: configuration and components built successfully, exiting")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.Run(ctx); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
