package serial

import (
	"context"
	"fmt"
)

// Command selects what a Request asks the unit to do.
type Command uint8

// Commands accepted by Unit.BeginIO. Any other value is acknowledged without
// action.
const (
	CmdInvalid Command = iota
	CmdReset
	CmdRead
	CmdWrite
	CmdUpdate
	CmdClear
	CmdStop
	CmdStart
	CmdFlush
	CmdQuery
	CmdBreak
	CmdSetParams
)

// Control channel commands. They never reach BeginIO.
const (
	cmdAbortRead Command = iota + 0x80
	cmdAbortWrite
	cmdTerminate
)

func (c Command) String() string {
	switch c {
	case CmdInvalid:
		return "invalid"
	case CmdReset:
		return "reset"
	case CmdRead:
		return "read"
	case CmdWrite:
		return "write"
	case CmdUpdate:
		return "update"
	case CmdClear:
		return "clear"
	case CmdStop:
		return "stop"
	case CmdStart:
		return "start"
	case CmdFlush:
		return "flush"
	case CmdQuery:
		return "query"
	case CmdBreak:
		return "break"
	case CmdSetParams:
		return "setparams"
	case cmdAbortRead:
		return "abort-read"
	case cmdAbortWrite:
		return "abort-write"
	case cmdTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// LengthNullTerminated as a write Length sends Data up to, not including,
// the first zero byte.
const LengthNullTerminated = -1

// LineStatus is the signal word reported by CmdQuery. Bits are active high.
type LineStatus uint16

// Line status bits reported by CmdQuery. The FT245 has no modem lines: CD
// follows power, RTS and DTR follow transmit FIFO readiness.
const (
	StatusCD  LineStatus = 1 << 5
	StatusRTS LineStatus = 1 << 6
	StatusDTR LineStatus = 1 << 7
)

// Remaining bits of the classic serial status word. This hardware cannot
// sense them, so they always read zero.
const (
	StatusRI            LineStatus = 1 << 2
	StatusDSR           LineStatus = 1 << 3
	StatusCTS           LineStatus = 1 << 4
	StatusReadOverrun   LineStatus = 1 << 8
	StatusBreakSent     LineStatus = 1 << 9
	StatusBreakReceived LineStatus = 1 << 10
)

// Request is one I/O operation on a unit. A request may be reused once it
// has completed. Actual and Status are valid only after completion.
type Request struct {
	Command Command
	// Data is the destination of a read or the source of a write.
	Data []byte
	// Length is the number of bytes to transfer. Reads finish early on a
	// terminator in EOF mode. Writes accept LengthNullTerminated.
	Length int
	// Params is the new configuration for CmdSetParams.
	Params Params

	// Actual is the number of bytes transferred, or the number of buffered
	// bytes for CmdQuery.
	Actual int
	// Status is the line status word for CmdQuery.
	Status LineStatus

	err  error
	done chan struct{}
	// target limits an abort to this request, if it is still active.
	target *Request
}

// NewRead returns a read request filling buf.
func NewRead(buf []byte) *Request {
	return &Request{Command: CmdRead, Data: buf, Length: len(buf)}
}

// NewWrite returns a write request sending p.
func NewWrite(p []byte) *Request {
	return &Request{Command: CmdWrite, Data: p, Length: len(p)}
}

// NewSetParams returns a reconfiguration request.
func NewSetParams(p Params) *Request {
	return &Request{Command: CmdSetParams, Params: p}
}

// Done is closed when the request completes.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Err returns the completion status. It is nil on success and until the
// request completes.
func (r *Request) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the request completes or ctx is done. It does not
// cancel the request.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Request) begin() {
	r.Actual = 0
	r.Status = 0
	r.err = nil
	r.done = make(chan struct{})
}

// complete hands the request back to its submitter. Whoever owns the
// request calls it exactly once.
func (r *Request) complete(err error) {
	select {
	case <-r.done:
		panic("serial: " + r.Command.String() + " request completed twice")
	default:
	}
	r.err = err
	close(r.done)
}

// transferLength is the number of bytes a write will send.
func (r *Request) transferLength() int {
	if r.Length != LengthNullTerminated {
		return r.Length
	}
	for i, b := range r.Data {
		if b == 0 {
			return i
		}
	}
	return len(r.Data)
}

// writeDone reports whether the worker has sent everything a write asked for.
func (r *Request) writeDone() bool {
	if r.Length == LengthNullTerminated {
		return r.Actual >= len(r.Data) || r.Data[r.Actual] == 0
	}
	return r.Actual >= r.Length
}

func (r *Request) validate() error {
	switch r.Command {
	case CmdRead:
		if r.Length < 0 || r.Length > len(r.Data) {
			return fmt.Errorf("%w: read length %d with %d byte buffer", ErrInvalidParameter, r.Length, len(r.Data))
		}
	case CmdWrite:
		if r.Length < LengthNullTerminated || r.Length > len(r.Data) {
			return fmt.Errorf("%w: write length %d with %d byte buffer", ErrInvalidParameter, r.Length, len(r.Data))
		}
	}
	return nil
}
