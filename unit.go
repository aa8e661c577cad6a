package serial

import (
	"fmt"
	"sync"

	"github.com/luhtfiimanal/go-ft245-serial/internal/logging"
	"github.com/luhtfiimanal/go-ft245-serial/ring"
)

// NumUnits is the number of units a Device exposes.
const NumUnits = 1

// Line is the polled byte-wide FIFO the unit drives. *ft245.Line
// implements it.
type Line interface {
	// Readable reports whether a received byte is waiting.
	Readable() bool
	// Powered reports whether the far end is present.
	Powered() bool
	// Writable reports whether a byte can be transmitted now.
	Writable() bool
	// Receive pops a received byte. Only valid after Readable.
	Receive() byte
	// Transmit waits for FIFO space and sends b.
	Transmit(b byte)
}

// Device owns the units of one FIFO interface and serializes their open and
// close calls.
type Device struct {
	mu    sync.Mutex
	units [NumUnits]*Unit
}

// NewDevice returns a device whose single unit drives line.
func NewDevice(line Line, cfg Config) *Device {
	d := &Device{}
	d.units[0] = &Unit{
		num:  0,
		dev:  d,
		line: line,
		cfg:  cfg.withDefaults(),
	}
	return d
}

// Open starts the worker of unit n and returns it. A unit can only be open
// once at a time.
func (d *Device) Open(n int) (*Unit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n < 0 || n >= NumUnits {
		return nil, fmt.Errorf("%w: no unit %d", ErrOpenFailed, n)
	}
	u := d.units[n]
	if u == nil || u.line == nil {
		return nil, fmt.Errorf("%w: unit %d has no line", ErrOpenFailed, n)
	}
	if u.openCnt != 0 {
		return nil, fmt.Errorf("%w: %w: unit %d already open", ErrOpenFailed, ErrUnitBusy, n)
	}
	if err := u.start(); err != nil {
		return nil, err
	}
	u.openCnt++
	return u, nil
}

// Unit is one logical serial line. All methods are safe for concurrent use.
type Unit struct {
	num     int
	dev     *Device
	line    Line
	cfg     Config
	onClose func() error

	// mu guards everything below: the ring buffer indices, the in-progress
	// slots and the port handles.
	mu        sync.Mutex
	buf       *ring.Buffer
	flags     uint8
	term      TermArray
	reader    *Request
	writer    *Request
	direct    bool // a fast-path write owns the transmitter
	crPending bool // last ReadLine ended on '\r'; a leading '\n' belongs to it
	readPort  *port
	writePort *port
	cmdPort   *port
	wake      chan struct{}
	stopped   chan struct{}

	openCnt int // guarded by dev.mu
}

// start allocates the default buffer and launches the worker. It returns
// once the worker's ports exist.
func (u *Unit) start() error {
	u.mu.Lock()
	u.buf = nil
	u.reader, u.writer, u.direct = nil, nil, false
	u.crPending = false
	err := u.applyParams(u.cfg.Params(), true)
	u.wake = make(chan struct{}, 1)
	u.stopped = make(chan struct{})
	u.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	ready := make(chan struct{})
	go u.run(ready)
	<-ready

	logging.Info(logging.ComponentUnit, "unit open", "unit", u.num, "bufferSize", u.cfg.BufferSize)
	return nil
}

// Close stops the worker and waits for it to release its ports. Requests
// still queued, or in progress, at that point are never completed.
func (u *Unit) Close() error {
	d := u.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if u.openCnt == 0 {
		return ErrNotOpen
	}
	u.openCnt--
	if u.openCnt > 0 {
		return nil
	}

	u.mu.Lock()
	stopped := u.stopped
	u.mu.Unlock()

	if err := u.syncCommand(cmdTerminate, nil); err != nil {
		logging.Warn(logging.ComponentUnit, "terminate not acknowledged", "unit", u.num, "error", err)
	}
	<-stopped

	u.mu.Lock()
	u.buf = nil
	u.mu.Unlock()

	logging.Info(logging.ComponentUnit, "unit closed", "unit", u.num)
	if u.onClose != nil {
		return u.onClose()
	}
	return nil
}

// Stopped is closed once the worker has torn down its ports.
func (u *Unit) Stopped() <-chan struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stopped
}

// Available returns the number of buffered received bytes.
func (u *Unit) Available() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.buf == nil {
		return 0
	}
	return u.buf.Available()
}

// Params returns the current buffer size, flags and terminators.
func (u *Unit) Params() Params {
	u.mu.Lock()
	defer u.mu.Unlock()
	p := Params{Flags: u.flags, Terminators: u.term}
	if u.buf != nil {
		p.BufferSize = u.buf.Cap()
	}
	return p
}

// applyParams installs p. The buffer is reallocated when its size changes
// or realloc is set; if that fails nothing is changed. Callers hold u.mu.
func (u *Unit) applyParams(p Params, realloc bool) error {
	size := p.BufferSize
	if size == 0 && u.buf != nil {
		size = u.buf.Cap()
	}
	if size < 2 {
		return fmt.Errorf("%w: buffer size %d", ErrInvalidParameter, p.BufferSize)
	}

	switch {
	case u.buf == nil:
		b, err := ring.New(size, u.cfg.Allocator)
		if err != nil {
			return err
		}
		u.buf = b
	case realloc || size != u.buf.Cap():
		if err := u.buf.Resize(size, u.cfg.Allocator); err != nil {
			return err
		}
	}
	u.flags = p.Flags
	u.term = p.Terminators
	return nil
}

// isTerminator reports whether c ends a read. Callers hold u.mu.
func (u *Unit) isTerminator(c byte) bool {
	return u.flags&FlagEOFMode != 0 && u.term.Contains(c)
}

// syncCommand posts a control command and waits for the worker to
// acknowledge it. A non-nil target restricts an abort to that request.
func (u *Unit) syncCommand(cmd Command, target *Request) error {
	u.mu.Lock()
	p, stopped := u.cmdPort, u.stopped
	u.mu.Unlock()
	if p == nil {
		return ErrNotOpen
	}

	msg := &Request{Command: cmd, target: target}
	msg.begin()
	if !p.put(msg) {
		return ErrNotOpen
	}
	select {
	case <-msg.done:
		return nil
	case <-stopped:
		select {
		case <-msg.done:
			return nil
		default:
			return ErrNotOpen
		}
	}
}
