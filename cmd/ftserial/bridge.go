//go:build linux

package main

import (
	"context"
	"errors"
	"log/slog"

	serial "github.com/luhtfiimanal/go-ft245-serial"
	"github.com/luhtfiimanal/go-ft245-serial/bridge"
)

func runBridge(ctx context.Context, unit *serial.Unit, addr string) error {
	server := bridge.NewServer(unit)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		err := server.Pump(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Pump stopped", "error", err)
			cancel()
		}
	}()

	slog.Info("Bridge running", "addr", addr)
	return server.ListenAndServe(ctx, addr)
}
