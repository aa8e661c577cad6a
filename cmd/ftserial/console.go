//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"

	tty "github.com/mattn/go-tty"

	serial "github.com/luhtfiimanal/go-ft245-serial"
)

// escapeKey (Ctrl-]) leaves the console.
const escapeKey = 0x1d

// runConsole copies keystrokes to the unit and unit bytes to the terminal
// until the escape key is pressed or ctx is done.
func runConsole(ctx context.Context, unit *serial.Unit) error {
	term, err := tty.Open()
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	defer term.Close()

	restore, err := term.Raw()
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer restore()

	fmt.Fprintf(term.Output(), "connected, Ctrl-] to exit\r\n")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recvErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := unit.ReadAvailable(ctx, buf)
			if err != nil {
				recvErr <- err
				return
			}
			term.Output().Write(buf[:n])
		}
	}()

	keys := make(chan rune)
	keyErr := make(chan error, 1)
	go func() {
		for {
			r, err := term.ReadRune()
			if err != nil {
				keyErr <- err
				return
			}
			keys <- r
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-recvErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case err := <-keyErr:
			return fmt.Errorf("read terminal: %w", err)
		case r := <-keys:
			if r == escapeKey {
				return nil
			}
			if _, err := unit.Write([]byte(string(r))); err != nil {
				return err
			}
		}
	}
}
