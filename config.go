package serial

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/luhtfiimanal/go-ft245-serial/internal/logging"
	"github.com/luhtfiimanal/go-ft245-serial/ring"
)

// Serial flag bits, in the classic serial.device layout. Only FlagEOFMode
// changes driver behaviour; the rest are stored and reported back.
const (
	FlagPartyOn   uint8 = 0x01
	FlagPartyOdd  uint8 = 0x02
	Flag7Wire     uint8 = 0x04
	FlagQueuedBrk uint8 = 0x08
	FlagRadBoogie uint8 = 0x10
	FlagShared    uint8 = 0x20
	FlagEOFMode   uint8 = 0x40 // complete reads on a terminator byte
	FlagXDisabled uint8 = 0x80
)

// Defaults applied on open and reset.
const (
	DefaultBufferSize   = 64
	DefaultFlags        = FlagXDisabled | Flag7Wire
	DefaultBaudRate     = 115200
	DefaultDevice       = "/dev/ttyUSB0"
	DefaultPollInterval = 500 * time.Microsecond
)

// TermArray holds up to eight terminator bytes packed into two words, most
// significant byte first.
type TermArray [2]uint32

// NewTermArray packs up to eight terminators. Unused slots repeat the last
// given byte so padding never introduces an extra terminator. Extra bytes
// are ignored.
func NewTermArray(terms ...byte) TermArray {
	var t TermArray
	if len(terms) == 0 {
		return t
	}
	var all [8]byte
	for i := range all {
		if i < len(terms) {
			all[i] = terms[i]
		} else {
			all[i] = all[i-1]
		}
	}
	for i, b := range all {
		t[i/4] |= uint32(b) << (24 - 8*(i%4))
	}
	return t
}

// Bytes unpacks the eight terminator slots.
func (t TermArray) Bytes() [8]byte {
	var out [8]byte
	for i := range out {
		out[i] = byte(t[i/4] >> (24 - 8*(i%4)))
	}
	return out
}

// Contains reports whether c is one of the terminator bytes.
func (t TermArray) Contains(c byte) bool {
	for _, b := range t.Bytes() {
		if b == c {
			return true
		}
	}
	return false
}

// Params is the runtime configuration carried by a CmdSetParams request.
type Params struct {
	// BufferSize is the ring buffer size in bytes. Changing it discards
	// buffered data. Zero keeps the current size.
	BufferSize  int
	Flags       uint8
	Terminators TermArray
}

// EOFMode reports whether terminator detection is enabled.
func (p Params) EOFMode() bool {
	return p.Flags&FlagEOFMode != 0
}

// Config holds the parameters used to open a unit. BufferSize, Flags and
// Terminators are the defaults restored by CmdReset.
type Config struct {
	Device       string
	BaudRate     int
	BufferSize   int
	Flags        uint8
	Terminators  TermArray
	PollInterval time.Duration // idle wait of the worker; 0 only yields
	StallWarning time.Duration // transmit wait before a warning is logged
	Allocator    ring.Allocator
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Device:       DefaultDevice,
		BaudRate:     DefaultBaudRate,
		BufferSize:   DefaultBufferSize,
		Flags:        DefaultFlags,
		PollInterval: DefaultPollInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Allocator == nil {
		c.Allocator = ring.DefaultAllocator
	}
	return c
}

// Params returns the default unit parameters of c.
func (c Config) Params() Params {
	return Params{
		BufferSize:  c.BufferSize,
		Flags:       c.Flags,
		Terminators: c.Terminators,
	}
}

// Environment variables read by ConfigFromEnv and LoadConfig.
const (
	EnvDevice       = "FT_DEVICE"
	EnvBaudRate     = "FT_BAUD"
	EnvBufferSize   = "FT_BUFSIZE"
	EnvEOFMode      = "FT_EOF"
	EnvTerminators  = "FT_TERMINATORS"
	EnvPollInterval = "FT_POLL_INTERVAL"
)

// ConfigFromEnv builds a Config from the process environment on top of
// DefaultConfig.
func ConfigFromEnv() (Config, error) {
	return parseConfig(os.LookupEnv)
}

// LoadConfig reads the given .env files (".env" when none are given) and
// builds a Config. Variables already set in the environment win over the
// files.
func LoadConfig(files ...string) (Config, error) {
	vars, err := godotenv.Read(files...)
	if err != nil {
		return Config{}, fmt.Errorf("read env files: %w", err)
	}
	return parseConfig(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	})
}

func parseConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()

	if v, ok := lookup(EnvDevice); ok && v != "" {
		cfg.Device = v
	}
	if v, ok := lookup(EnvBaudRate); ok && v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil || baud <= 0 {
			return Config{}, fmt.Errorf("%s must be a positive integer, got %q", EnvBaudRate, v)
		}
		cfg.BaudRate = baud
	}
	if v, ok := lookup(EnvBufferSize); ok && v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 2 || size > ring.MaxCapacity {
			return Config{}, fmt.Errorf("%s must be between 2 and %d, got %q", EnvBufferSize, ring.MaxCapacity, v)
		}
		cfg.BufferSize = size
	}
	if v, ok := lookup(EnvEOFMode); ok && v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvEOFMode, err)
		}
		if on {
			cfg.Flags |= FlagEOFMode
		} else {
			cfg.Flags &^= FlagEOFMode
		}
	}
	if v, ok := lookup(EnvTerminators); ok && v != "" {
		terms, err := hex.DecodeString(v)
		if err != nil || len(terms) > 8 {
			return Config{}, fmt.Errorf("%s must be up to 8 hex bytes, got %q", EnvTerminators, v)
		}
		cfg.Terminators = NewTermArray(terms...)
	}
	if v, ok := lookup(EnvPollInterval); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%s must be a non-negative duration, got %q", EnvPollInterval, v)
		}
		cfg.PollInterval = d
	}

	logging.Debug(logging.ComponentConfig, "config parsed",
		"device", cfg.Device,
		"baud", cfg.BaudRate,
		"bufferSize", cfg.BufferSize,
		"flags", cfg.Flags)
	return cfg, nil
}
