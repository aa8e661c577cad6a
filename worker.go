package serial

import (
	"runtime"
	"time"

	"github.com/luhtfiimanal/go-ft245-serial/internal/logging"
)

// run is the unit's worker. Every pass drains one byte from the line, moves
// one byte into the active read, sends one byte of the active write and
// handles one control command, in that order. There is no interrupt source,
// so an idle pass waits PollInterval (or a new request) before polling again.
func (u *Unit) run(ready chan<- struct{}) {
	u.mu.Lock()
	u.readPort = newPort(u.wake)
	u.writePort = newPort(u.wake)
	u.cmdPort = newPort(u.wake)
	u.mu.Unlock()
	close(ready)

	logging.Debug(logging.ComponentWorker, "worker started", "unit", u.num)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		worked, done := u.pass()
		if done {
			break
		}
		if !worked {
			u.idle(timer)
		}
	}
	u.teardown()
}

// pass runs the fixed sequence of worker steps once.
func (u *Unit) pass() (worked, done bool) {
	if u.drain() {
		worked = true
	}
	if u.serviceRead() {
		worked = true
	}
	if u.serviceWrite() {
		worked = true
	}
	handled, done := u.serviceControl()
	return worked || handled, done
}

func (u *Unit) idle(timer *time.Timer) {
	if u.cfg.PollInterval <= 0 {
		runtime.Gosched()
		return
	}
	timer.Reset(u.cfg.PollInterval)
	select {
	case <-u.wake:
		timer.Stop()
	case <-timer.C:
	}
}

// drain moves one byte from the line into the ring buffer if there is room.
func (u *Unit) drain() bool {
	if !u.line.Readable() {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.buf.Full() {
		return false
	}
	u.buf.TryPush(u.line.Receive())
	return true
}

// serviceRead feeds the active read one buffered byte, or picks up the next
// queued read when none is active.
func (u *Unit) serviceRead() bool {
	u.mu.Lock()
	r := u.reader
	if r == nil {
		r = u.readPort.get()
		if r == nil {
			u.mu.Unlock()
			return false
		}
		r.Actual = 0
		if r.Length == 0 {
			u.mu.Unlock()
			r.complete(nil)
			return true
		}
		u.reader = r
		u.mu.Unlock()
		logging.Debug(logging.ComponentWorker, "read started", "unit", u.num, "length", r.Length)
		return true
	}

	c, ok := u.buf.TryPop()
	if !ok {
		u.mu.Unlock()
		return false
	}
	r.Data[r.Actual] = c
	r.Actual++
	// Terminator first: it may also be the last requested byte.
	finished := u.isTerminator(c) || r.Actual == r.Length
	if finished {
		u.reader = nil
	}
	u.mu.Unlock()

	if finished {
		logging.Debug(logging.ComponentWorker, "read done", "unit", u.num, "actual", r.Actual)
		r.complete(nil)
	}
	return true
}

// serviceWrite sends one byte of the active write, or picks up the next
// queued write when none is active and no fast-path write holds the line.
func (u *Unit) serviceWrite() bool {
	w := u.writer
	if w == nil {
		u.mu.Lock()
		if u.direct {
			u.mu.Unlock()
			return false
		}
		w = u.writePort.get()
		if w == nil {
			u.mu.Unlock()
			return false
		}
		w.Actual = 0
		if w.writeDone() {
			u.mu.Unlock()
			w.complete(nil)
			return true
		}
		u.writer = w
		u.mu.Unlock()
		logging.Debug(logging.ComponentWorker, "write started", "unit", u.num, "length", w.Length)
		return true
	}

	u.line.Transmit(w.Data[w.Actual])
	w.Actual++
	if w.writeDone() {
		u.mu.Lock()
		u.writer = nil
		u.mu.Unlock()
		logging.Debug(logging.ComponentWorker, "write done", "unit", u.num, "actual", w.Actual)
		w.complete(nil)
	}
	return true
}

// serviceControl handles at most one control command. Every command is
// acknowledged; done reports a terminate.
func (u *Unit) serviceControl() (handled, done bool) {
	msg := u.cmdPort.get()
	if msg == nil {
		return false, false
	}

	switch msg.Command {
	case cmdAbortRead:
		u.mu.Lock()
		r := takeActive(&u.reader, msg.target)
		u.mu.Unlock()
		if r != nil {
			logging.Debug(logging.ComponentWorker, "read aborted", "unit", u.num, "actual", r.Actual)
			r.complete(ErrAborted)
		}
	case cmdAbortWrite:
		u.mu.Lock()
		w := takeActive(&u.writer, msg.target)
		u.mu.Unlock()
		if w != nil {
			logging.Debug(logging.ComponentWorker, "write aborted", "unit", u.num, "actual", w.Actual)
			w.complete(ErrAborted)
		}
	case cmdTerminate:
		done = true
	default:
		logging.Warn(logging.ComponentWorker, "unknown control command", "command", msg.Command)
	}
	msg.complete(nil)
	return true, done
}

// takeActive clears the in-progress slot and returns what it held. With a
// target, the slot is only cleared if it still holds target.
func takeActive(slot **Request, target *Request) *Request {
	r := *slot
	if r == nil || (target != nil && r != target) {
		return nil
	}
	*slot = nil
	return r
}

// teardown releases the ports and signals Stopped. Requests left behind are
// reported but not completed.
func (u *Unit) teardown() {
	u.mu.Lock()
	ports := []*port{u.writePort, u.readPort, u.cmdPort}
	u.readPort, u.writePort, u.cmdPort = nil, nil, nil
	active := 0
	if u.reader != nil {
		active++
	}
	if u.writer != nil {
		active++
	}
	u.mu.Unlock()

	stranded := 0
	for _, p := range ports {
		stranded += len(p.close())
	}
	if stranded+active > 0 {
		logging.Warn(logging.ComponentWorker, "requests left unresolved at shutdown",
			"unit", u.num, "queued", stranded, "active", active)
	}
	logging.Debug(logging.ComponentWorker, "worker stopped", "unit", u.num)
	close(u.stopped)
}
