package serial

import (
	"errors"

	"github.com/luhtfiimanal/go-ft245-serial/ring"
)

// Unit errors. Requests report them through Request.Err; use errors.Is.
var (
	// ErrOpenFailed indicates the unit number is out of range, the unit is
	// already open or it could not be started.
	ErrOpenFailed = errors.New("unit open failed")

	// ErrUnitBusy indicates a buffer resize was requested while a transfer
	// is in progress. Opening an open unit wraps it in ErrOpenFailed.
	ErrUnitBusy = errors.New("unit busy")

	// ErrBufferAllocation indicates the receive buffer could not be
	// (re)allocated. The previous buffer is kept.
	ErrBufferAllocation = ring.ErrAllocation

	// ErrAborted indicates the request was cancelled through the control
	// channel.
	ErrAborted = errors.New("operation aborted")

	// ErrNotOpen indicates the unit has no running worker.
	ErrNotOpen = errors.New("unit not open")

	// ErrInvalidParameter indicates a request with an impossible length or
	// buffer size.
	ErrInvalidParameter = errors.New("invalid parameter")
)
