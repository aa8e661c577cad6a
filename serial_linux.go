//go:build linux

package serial

import (
	"github.com/luhtfiimanal/go-ft245-serial/ft245"
)

// Open opens cfg.Device as an FT245-style line and returns its running unit.
// Closing the unit closes the device.
func Open(cfg Config) (*Unit, error) {
	cfg = cfg.withDefaults()
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}

	tty, err := ft245.OpenTTY(cfg.Device, cfg.BaudRate)
	if err != nil {
		return nil, err
	}
	line := ft245.NewLine(tty)
	if cfg.StallWarning > 0 {
		line.StallWarning = cfg.StallWarning
	}

	u, err := NewDevice(line, cfg).Open(0)
	if err != nil {
		tty.Close()
		return nil, err
	}
	u.onClose = tty.Close
	return u, nil
}
