package serial

import (
	"context"
	"fmt"
)

// maxLineLength bounds ReadLine when no terminator ever arrives.
const maxLineLength = 64 * 1024

// Read implements io.Reader. It blocks until len(p) bytes have arrived or,
// in EOF mode, a terminator byte has been read.
func (u *Unit) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	req := NewRead(p)
	err := u.DoIO(context.Background(), req)
	return req.Actual, err
}

// Write implements io.Writer.
func (u *Unit) Write(p []byte) (int, error) {
	req := NewWrite(p)
	if err := u.DoIO(context.Background(), req); err != nil {
		return req.Actual, err
	}
	return req.Actual, nil
}

// ReadAvailable waits for at least one byte, then also takes whatever is
// already buffered, up to len(p).
func (u *Unit) ReadAvailable(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	req := NewRead(p[:1])
	if err := u.DoIO(ctx, req); err != nil {
		return 0, err
	}
	n := req.Actual

	query := &Request{Command: CmdQuery}
	if u.BeginIO(query); query.Err() != nil {
		return n, nil
	}
	if more := min(query.Actual, len(p)-n); more > 0 {
		req = NewRead(p[n : n+more])
		err := u.DoIO(ctx, req)
		n += req.Actual
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// WriteLine writes a line (with specified newline) to the serial port.
func (u *Unit) WriteLine(line string, newline string) error {
	_, err := u.Write([]byte(line + newline))
	return err
}

// ReadLine reads one line, blocking until a terminator byte arrives or ctx
// is done. The unit must be in EOF mode. The terminator, and a carriage
// return before a line feed, are stripped. With both '\r' and '\n' as
// terminators a "\r\n" pair ends a single line.
func (u *Unit) ReadLine(ctx context.Context) (string, error) {
	if !u.Params().EOFMode() {
		return "", fmt.Errorf("%w: ReadLine needs EOF mode", ErrInvalidParameter)
	}

	buf := make([]byte, 256)
	var line []byte
	for len(line) < maxLineLength {
		req := NewRead(buf)
		if err := u.DoIO(ctx, req); err != nil {
			return "", err
		}
		chunk := buf[:req.Actual]
		if len(line) == 0 {
			chunk = u.skipPendingLF(chunk)
		}
		if len(chunk) == 0 {
			continue
		}
		line = append(line, chunk...)
		last := chunk[len(chunk)-1]
		if req.Actual < len(buf) || u.isTerminatorByte(last) {
			u.mu.Lock()
			u.crPending = last == '\r'
			u.mu.Unlock()
			return trimLine(line), nil
		}
	}
	return "", fmt.Errorf("line longer than %d bytes", maxLineLength)
}

// ReadLinesLoop continuously reads lines and invokes onLine for each one.
// If an error occurs, onError is called and the loop exits. Cancelling ctx
// stops the loop without calling onError.
func (u *Unit) ReadLinesLoop(ctx context.Context, onLine func(string), onError func(error)) {
	for {
		line, err := u.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			onError(err)
			return
		}
		onLine(line)
	}
}

// skipPendingLF drops the '\n' completing a "\r\n" whose '\r' ended the
// previous line.
func (u *Unit) skipPendingLF(chunk []byte) []byte {
	u.mu.Lock()
	pending := u.crPending
	u.crPending = false
	u.mu.Unlock()
	if pending && len(chunk) > 0 && chunk[0] == '\n' {
		return chunk[1:]
	}
	return chunk
}

func (u *Unit) isTerminatorByte(c byte) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.isTerminator(c)
}

func trimLine(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	last := b[len(b)-1]
	b = b[:len(b)-1]
	if last == '\n' && len(b) > 0 && b[len(b)-1] == '\r' {
		b = b[:len(b)-1]
	}
	return string(b)
}
