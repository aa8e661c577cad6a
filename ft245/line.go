// Package ft245 models the byte-wide FIFO interface of an FTDI FT245-style
// USB bridge as seen from a polling driver.
//
// The chip exposes two registers: a status register whose low bits report
// power, receive-FIFO-full and transmit-FIFO-empty, and a data register that
// pops a received byte on read and pushes a byte to transmit on write. There
// is no interrupt line; everything is busy-polled.
package ft245

import (
	"runtime"
	"time"

	"github.com/luhtfiimanal/go-ft245-serial/internal/logging"
)

// Status register bits.
const (
	StatusPWE = 0x01 // power present
	StatusRXF = 0x02 // low when a received byte can be read
	StatusTXE = 0x04 // low when the transmit FIFO can accept a byte
)

// Registers is the raw register pair of the chip.
type Registers interface {
	// Status returns the current status register.
	Status() uint8
	// ReadFIFO pops one received byte. The value is undefined when the
	// receive FIFO is empty.
	ReadFIFO() byte
	// WriteFIFO pushes one byte for transmission without waiting.
	WriteFIFO(b byte)
}

// Spin policy defaults for Transmit.
const (
	DefaultSpinLimit    = 64
	DefaultBackoff      = 50 * time.Microsecond
	DefaultStallWarning = time.Second
)

// Line wraps a register pair with the polled predicates and transfers the
// driver uses. It keeps no buffer of its own.
type Line struct {
	regs Registers

	// SpinLimit is the number of tight status polls before Transmit starts
	// yielding between polls.
	SpinLimit int
	// Backoff is the sleep between polls once SpinLimit is exhausted.
	Backoff time.Duration
	// StallWarning is how long Transmit waits before logging a stalled FIFO.
	// Transmit keeps waiting afterwards.
	StallWarning time.Duration
}

// NewLine returns a Line over regs with the default spin policy.
func NewLine(regs Registers) *Line {
	return &Line{
		regs:         regs,
		SpinLimit:    DefaultSpinLimit,
		Backoff:      DefaultBackoff,
		StallWarning: DefaultStallWarning,
	}
}

// Readable reports whether a received byte is waiting.
func (l *Line) Readable() bool {
	return l.regs.Status()&StatusRXF == 0
}

// Powered reports whether the far side is powered (carrier present).
func (l *Line) Powered() bool {
	return l.regs.Status()&StatusPWE != 0
}

// Writable reports whether the transmit FIFO can accept a byte.
func (l *Line) Writable() bool {
	return l.regs.Status()&StatusTXE == 0
}

// Receive pops one byte. Only meaningful after Readable returned true.
func (l *Line) Receive() byte {
	return l.regs.ReadFIFO()
}

// Transmit waits until the FIFO accepts a byte, then writes b. The wait is a
// tight spin of SpinLimit polls followed by Backoff sleeps. It blocks the
// calling goroutine until the hardware drains.
func (l *Line) Transmit(b byte) {
	for i := 0; i < l.SpinLimit; i++ {
		if l.Writable() {
			l.regs.WriteFIFO(b)
			return
		}
	}

	start := time.Now()
	warned := false
	for !l.Writable() {
		if l.Backoff > 0 {
			time.Sleep(l.Backoff)
		} else {
			runtime.Gosched()
		}
		if !warned && l.StallWarning > 0 && time.Since(start) > l.StallWarning {
			logging.Warn(logging.ComponentLine, "transmit FIFO stalled", "waited", time.Since(start))
			warned = true
		}
	}
	l.regs.WriteFIFO(b)
}
