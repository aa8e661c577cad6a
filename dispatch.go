package serial

import (
	"context"
	"errors"

	"github.com/luhtfiimanal/go-ft245-serial/internal/logging"
)

// BeginIO starts req and reports whether it already completed. When it
// returns false the request was queued for the worker; wait on req.Done().
//
// Reads are always queued. A write goes straight to the line from the
// calling goroutine when no other write is active or waiting, otherwise it
// queues behind them. Everything else completes before BeginIO returns.
func (u *Unit) BeginIO(req *Request) (quick bool) {
	req.begin()
	logging.Debug(logging.ComponentDispatch, "begin io", "unit", u.num, "command", req.Command, "length", req.Length)

	switch req.Command {
	case CmdReset:
		req.complete(u.reset())
		return true

	case CmdRead:
		if err := req.validate(); err != nil {
			req.complete(err)
			return true
		}
		return u.queue(req, true)

	case CmdWrite:
		if err := req.validate(); err != nil {
			req.complete(err)
			return true
		}
		return u.write(req)

	case CmdClear, CmdFlush:
		u.mu.Lock()
		if u.buf == nil {
			u.mu.Unlock()
			req.complete(ErrNotOpen)
			return true
		}
		u.buf.Reset()
		u.mu.Unlock()
		req.complete(nil)
		return true

	case CmdQuery:
		u.mu.Lock()
		if u.buf == nil {
			u.mu.Unlock()
			req.complete(ErrNotOpen)
			return true
		}
		req.Actual = u.buf.Available()
		u.mu.Unlock()
		req.Status = u.lineStatus()
		req.complete(nil)
		return true

	case CmdSetParams:
		req.complete(u.setParams(req.Params))
		return true

	case CmdUpdate, CmdStop, CmdStart, CmdBreak:
		// Nothing to do on this hardware.
		req.complete(nil)
		return true

	default:
		req.complete(nil)
		return true
	}
}

// DoIO runs req to completion. If ctx ends first, a queued request is
// withdrawn and an active one is aborted; DoIO then returns ctx.Err().
// Other callers' requests are never aborted on req's behalf.
func (u *Unit) DoIO(ctx context.Context, req *Request) error {
	if u.BeginIO(req) {
		return req.Err()
	}
	select {
	case <-req.Done():
		return req.Err()
	case <-ctx.Done():
	}

	if !u.withdraw(req) {
		if err := u.abort(req); err != nil {
			logging.Debug(logging.ComponentDispatch, "abort failed", "unit", u.num, "error", err)
		}
	}
	select {
	case <-req.Done():
		if err := req.Err(); !errors.Is(err, ErrAborted) {
			return err
		}
	default:
	}
	return ctx.Err()
}

// AbortIO cancels the active request in req's direction and waits for the
// worker to acknowledge. Like the hardware it models, it aborts whichever
// read or write is in progress; requests still queued are left alone.
func (u *Unit) AbortIO(req *Request) error {
	switch req.Command {
	case CmdRead:
		return u.syncCommand(cmdAbortRead, nil)
	case CmdWrite:
		return u.syncCommand(cmdAbortWrite, nil)
	default:
		return nil
	}
}

// abort cancels req only if it is still the active request of its
// direction.
func (u *Unit) abort(req *Request) error {
	switch req.Command {
	case CmdRead:
		return u.syncCommand(cmdAbortRead, req)
	case CmdWrite:
		return u.syncCommand(cmdAbortWrite, req)
	default:
		return nil
	}
}

// queue posts req to the read or write port.
func (u *Unit) queue(req *Request, read bool) (quick bool) {
	u.mu.Lock()
	p := u.writePort
	if read {
		p = u.readPort
	}
	ok := p != nil && p.put(req)
	u.mu.Unlock()
	if !ok {
		req.complete(ErrNotOpen)
		return true
	}
	return false
}

// write sends req directly when the transmitter is free, else queues it.
func (u *Unit) write(req *Request) (quick bool) {
	u.mu.Lock()
	if u.writePort == nil {
		u.mu.Unlock()
		req.complete(ErrNotOpen)
		return true
	}
	if u.writer != nil || u.direct || u.writePort.len() > 0 {
		ok := u.writePort.put(req)
		u.mu.Unlock()
		if !ok {
			req.complete(ErrNotOpen)
			return true
		}
		return false
	}
	u.direct = true
	u.mu.Unlock()

	n := req.transferLength()
	for i := 0; i < n; i++ {
		u.line.Transmit(req.Data[i])
	}
	req.Actual = n

	u.mu.Lock()
	u.direct = false
	wake := u.wake
	u.mu.Unlock()
	// A write may have queued behind us.
	select {
	case wake <- struct{}{}:
	default:
	}

	req.complete(nil)
	return true
}

// withdraw removes req from its queue and completes it as aborted.
func (u *Unit) withdraw(req *Request) bool {
	u.mu.Lock()
	var p *port
	switch req.Command {
	case CmdRead:
		p = u.readPort
	case CmdWrite:
		p = u.writePort
	}
	removed := p != nil && p.remove(req)
	u.mu.Unlock()
	if removed {
		req.complete(ErrAborted)
	}
	return removed
}

// reset aborts the active write and read, then restores the configured
// defaults with a fresh buffer.
func (u *Unit) reset() error {
	if err := u.syncCommand(cmdAbortWrite, nil); err != nil {
		return err
	}
	if err := u.syncCommand(cmdAbortRead, nil); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.applyParams(u.cfg.Params(), true)
}

// setParams applies a reconfiguration. The buffer may only change size
// while no transfer is active.
func (u *Unit) setParams(p Params) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.buf == nil {
		return ErrNotOpen
	}
	if p.BufferSize != 0 && p.BufferSize != u.buf.Cap() && (u.reader != nil || u.writer != nil) {
		return ErrUnitBusy
	}
	if err := u.applyParams(p, false); err != nil {
		logging.Warn(logging.ComponentDispatch, "set params failed", "unit", u.num, "error", err)
		return err
	}
	return nil
}

func (u *Unit) lineStatus() LineStatus {
	var s LineStatus
	if u.line.Powered() {
		s |= StatusCD
	}
	if u.line.Writable() {
		s |= StatusRTS | StatusDTR
	}
	return s
}
