//go:build linux

// Command ftserial talks to an FT245-style serial line, either from the
// local terminal (console) or for websocket clients (bridge).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	serial "github.com/luhtfiimanal/go-ft245-serial"
)

const (
	envListenAddr     = "FT_LISTEN_ADDR"
	defaultListenAddr = ":8080"
)

var (
	envFile = flag.String("env", ".env", "environment file to load before reading FT_* variables")
	verbose = flag.Bool("v", false, "enable debug logging")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] console|bridge\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
	}
	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		serial.SetLogLevel(slog.LevelDebug)
	}

	if err := godotenv.Load(*envFile); err != nil {
		slog.Debug("No env file loaded", "file", *envFile, "error", err)
	}

	cfg, err := serial.ConfigFromEnv()
	if err != nil {
		slog.Error("Failed to parse config", "error", err)
		os.Exit(1)
	}
	slog.Info("Config loaded", "device", cfg.Device, "baud", cfg.BaudRate, "bufferSize", cfg.BufferSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	unit, err := serial.Open(cfg)
	if err != nil {
		slog.Error("Failed to open serial", "device", cfg.Device, "error", err)
		os.Exit(1)
	}
	defer unit.Close()

	switch flag.Arg(0) {
	case "console":
		err = runConsole(ctx, unit)
	case "bridge":
		addr := os.Getenv(envListenAddr)
		if addr == "" {
			addr = defaultListenAddr
		}
		err = runBridge(ctx, unit, addr)
	default:
		usage()
	}
	if err != nil {
		slog.Error("Stopped", "mode", flag.Arg(0), "error", err)
		unit.Close()
		os.Exit(1)
	}
}
