package serial

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/luhtfiimanal/go-ft245-serial/ft245"
)

func openSim(t *testing.T, cfg Config) (*Unit, *ft245.Sim) {
	t.Helper()
	sim := ft245.NewSim()
	line := ft245.NewLine(sim)
	line.Backoff = 100 * time.Microsecond
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 100 * time.Microsecond
	}
	u, err := NewDevice(line, cfg).Open(0)
	require.NoError(t, err)
	t.Cleanup(func() { u.Close() })
	return u, sim
}

func waitDone(t *testing.T, req *Request) {
	t.Helper()
	select {
	case <-req.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s request", req.Command)
	}
}

func activeReader(u *Unit) *Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.reader
}

func TestBeginIO_DirectWriteCompletesSynchronously(t *testing.T) {
	u, sim := openSim(t, DefaultConfig())

	req := NewWrite([]byte("abc"))
	require.True(t, u.BeginIO(req))
	require.True(t, isDone(req))
	require.NoError(t, req.Err())
	require.Equal(t, 3, req.Actual)
	require.Equal(t, "abc", string(sim.Sent()))
}

func TestBeginIO_DirectWriteNullTerminated(t *testing.T) {
	u, sim := openSim(t, DefaultConfig())

	req := &Request{Command: CmdWrite, Data: []byte("ok\x00junk"), Length: LengthNullTerminated}
	require.True(t, u.BeginIO(req))
	require.Equal(t, 2, req.Actual)
	require.Equal(t, "ok", string(sim.Sent()))
}

func TestBeginIO_ContendedWritesQueueInOrder(t *testing.T) {
	u, sim := openSim(t, DefaultConfig())
	sim.HoldTX(true)

	first := NewWrite([]byte("AA"))
	quick := make(chan bool, 1)
	go func() { quick <- u.BeginIO(first) }()

	require.Eventually(t, func() bool {
		u.mu.Lock()
		defer u.mu.Unlock()
		return u.direct
	}, time.Second, time.Millisecond)

	second := NewWrite([]byte("BB"))
	third := NewWrite([]byte("CC"))
	require.False(t, u.BeginIO(second))
	require.False(t, u.BeginIO(third))

	sim.HoldTX(false)
	require.True(t, <-quick)

	waitDone(t, third)
	require.True(t, isDone(second), "second write must finish before the third")
	require.NoError(t, second.Err())
	require.NoError(t, third.Err())
	require.Equal(t, "AABBCC", string(sim.Sent()))
}

func TestDoIO_ReadWithTerminator(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flags |= FlagEOFMode
	cfg.Terminators = NewTermArray(0x0a)
	u, sim := openSim(t, cfg)

	sim.Feed([]byte("ab\n"))
	req := NewRead(make([]byte, 32))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, u.DoIO(ctx, req))
	require.Equal(t, 3, req.Actual)
	require.Equal(t, "ab\n", string(req.Data[:3]))
}

func TestAbortIO_ActiveRead(t *testing.T) {
	u, _ := openSim(t, DefaultConfig())

	req := NewRead(make([]byte, 8))
	require.False(t, u.BeginIO(req))
	require.Eventually(t, func() bool { return activeReader(u) == req }, time.Second, time.Millisecond)

	require.NoError(t, u.AbortIO(req))
	waitDone(t, req)
	require.ErrorIs(t, req.Err(), ErrAborted)
	require.Nil(t, activeReader(u))
}

func TestAbortIO_NoActiveRead(t *testing.T) {
	u, _ := openSim(t, DefaultConfig())
	require.NoError(t, u.AbortIO(NewRead(make([]byte, 1))))
	require.NoError(t, u.AbortIO(NewWrite([]byte("x"))))
	require.NoError(t, u.AbortIO(&Request{Command: CmdQuery}))
}

func TestAbortIO_OnlyActiveRequestIsCancelled(t *testing.T) {
	u, sim := openSim(t, DefaultConfig())

	active := NewRead(make([]byte, 4))
	queued := NewRead(make([]byte, 2))
	require.False(t, u.BeginIO(active))
	require.False(t, u.BeginIO(queued))
	require.Eventually(t, func() bool { return activeReader(u) == active }, time.Second, time.Millisecond)

	// Aborting through the queued request still hits the active one.
	require.NoError(t, u.AbortIO(queued))
	waitDone(t, active)
	require.ErrorIs(t, active.Err(), ErrAborted)
	require.False(t, isDone(queued))

	sim.Feed([]byte("zz"))
	waitDone(t, queued)
	require.NoError(t, queued.Err())
	require.Equal(t, "zz", string(queued.Data))
}

func TestDoIO_ContextCancelsActiveRead(t *testing.T) {
	u, _ := openSim(t, DefaultConfig())

	req := NewRead(make([]byte, 4))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := u.DoIO(ctx, req)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, req.Err(), ErrAborted)
	require.Nil(t, activeReader(u))
}

func TestDoIO_ContextWithdrawsQueuedRead(t *testing.T) {
	u, _ := openSim(t, DefaultConfig())

	active := NewRead(make([]byte, 4))
	require.False(t, u.BeginIO(active))
	require.Eventually(t, func() bool { return activeReader(u) == active }, time.Second, time.Millisecond)

	queued := NewRead(make([]byte, 4))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, u.DoIO(ctx, queued), context.DeadlineExceeded)
	require.ErrorIs(t, queued.Err(), ErrAborted)

	require.Same(t, active, activeReader(u))
	require.False(t, isDone(active))
}

func TestBeginIO_SetParamsResizesBuffer(t *testing.T) {
	u, sim := openSim(t, DefaultConfig())

	sim.Feed([]byte("xyz"))
	require.Eventually(t, func() bool { return u.Available() == 3 }, time.Second, time.Millisecond)

	req := NewSetParams(Params{BufferSize: 16, Flags: DefaultFlags | FlagEOFMode, Terminators: NewTermArray('\r')})
	require.True(t, u.BeginIO(req))
	require.NoError(t, req.Err())
	require.Zero(t, u.Available())

	want := Params{BufferSize: 16, Flags: DefaultFlags | FlagEOFMode, Terminators: NewTermArray('\r')}
	if diff := cmp.Diff(want, u.Params()); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}

	sim.Feed(make([]byte, 20))
	require.Eventually(t, func() bool { return u.Available() == 15 }, time.Second, time.Millisecond)
	require.Never(t, func() bool { return u.Available() > 15 }, 20*time.Millisecond, time.Millisecond)
}

func TestBeginIO_SetParamsAllocationFailureKeepsBuffer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Allocator = func(n int) ([]byte, error) {
		if n > 128 {
			return nil, errors.New("no chip memory")
		}
		return make([]byte, n), nil
	}
	u, sim := openSim(t, cfg)

	sim.Feed([]byte("xyz"))
	require.Eventually(t, func() bool { return u.Available() == 3 }, time.Second, time.Millisecond)

	req := NewSetParams(Params{BufferSize: 256, Flags: FlagEOFMode})
	require.True(t, u.BeginIO(req))
	require.ErrorIs(t, req.Err(), ErrBufferAllocation)

	require.Equal(t, 3, u.Available())
	if diff := cmp.Diff(cfg.Params(), u.Params()); diff != "" {
		t.Fatalf("params changed after failed resize (-want +got):\n%s", diff)
	}

	got := make([]byte, 3)
	n, err := u.Read(got)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "xyz", string(got))
}

func TestBeginIO_SetParamsBusyWhileReading(t *testing.T) {
	u, _ := openSim(t, DefaultConfig())

	read := NewRead(make([]byte, 4))
	require.False(t, u.BeginIO(read))
	require.Eventually(t, func() bool { return activeReader(u) == read }, time.Second, time.Millisecond)

	req := NewSetParams(Params{BufferSize: 128})
	require.True(t, u.BeginIO(req))
	require.ErrorIs(t, req.Err(), ErrUnitBusy)

	// Flags alone may change under an active read.
	req = NewSetParams(Params{Flags: FlagEOFMode})
	require.True(t, u.BeginIO(req))
	require.NoError(t, req.Err())
	require.Equal(t, DefaultBufferSize, u.Params().BufferSize)
}

func TestBeginIO_ClearAndFlush(t *testing.T) {
	for _, cmd := range []Command{CmdClear, CmdFlush} {
		t.Run(cmd.String(), func(t *testing.T) {
			u, sim := openSim(t, DefaultConfig())
			sim.Feed([]byte("pending"))
			require.Eventually(t, func() bool { return u.Available() == 7 }, time.Second, time.Millisecond)

			req := &Request{Command: cmd}
			require.True(t, u.BeginIO(req))
			require.NoError(t, req.Err())
			require.Zero(t, u.Available())
		})
	}
}

func TestBeginIO_Query(t *testing.T) {
	u, sim := openSim(t, DefaultConfig())
	sim.Feed([]byte("ab"))
	require.Eventually(t, func() bool { return u.Available() == 2 }, time.Second, time.Millisecond)

	req := &Request{Command: CmdQuery}
	require.True(t, u.BeginIO(req))
	require.NoError(t, req.Err())
	require.Equal(t, 2, req.Actual)
	require.Equal(t, StatusCD|StatusRTS|StatusDTR, req.Status)
	require.Zero(t, req.Status&(StatusRI|StatusDSR|StatusCTS|StatusReadOverrun|StatusBreakSent|StatusBreakReceived))

	sim.SetPowered(false)
	sim.HoldTX(true)
	require.True(t, u.BeginIO(req))
	require.Zero(t, req.Status)
}

func TestBeginIO_Reset(t *testing.T) {
	cfg := DefaultConfig()
	u, sim := openSim(t, cfg)

	require.True(t, u.BeginIO(NewSetParams(Params{BufferSize: 16, Flags: FlagEOFMode, Terminators: NewTermArray('!')})))

	read := NewRead(make([]byte, 8))
	require.False(t, u.BeginIO(read))
	require.Eventually(t, func() bool { return activeReader(u) == read }, time.Second, time.Millisecond)

	req := &Request{Command: CmdReset}
	require.True(t, u.BeginIO(req))
	require.NoError(t, req.Err())

	require.ErrorIs(t, read.Err(), ErrAborted)
	if diff := cmp.Diff(cfg.Params(), u.Params()); diff != "" {
		t.Fatalf("params not restored (-want +got):\n%s", diff)
	}

	sim.Feed([]byte("after"))
	require.Eventually(t, func() bool { return u.Available() == 5 }, time.Second, time.Millisecond)
}

func TestBeginIO_TrivialCommands(t *testing.T) {
	u, sim := openSim(t, DefaultConfig())

	for _, cmd := range []Command{CmdUpdate, CmdStop, CmdStart, CmdBreak, CmdInvalid, Command(42)} {
		req := &Request{Command: cmd}
		require.True(t, u.BeginIO(req), cmd.String())
		require.NoError(t, req.Err(), cmd.String())
	}
	require.Empty(t, sim.Sent())
}

func TestBeginIO_InvalidLengths(t *testing.T) {
	u, _ := openSim(t, DefaultConfig())

	for _, req := range []*Request{
		{Command: CmdRead, Data: make([]byte, 2), Length: 3},
		{Command: CmdRead, Data: make([]byte, 2), Length: -1},
		{Command: CmdWrite, Data: []byte("ab"), Length: 5},
		{Command: CmdWrite, Data: []byte("ab"), Length: -2},
	} {
		require.True(t, u.BeginIO(req))
		require.ErrorIs(t, req.Err(), ErrInvalidParameter)
	}
}

func TestDevice_OpenErrors(t *testing.T) {
	sim := ft245.NewSim()
	d := NewDevice(ft245.NewLine(sim), DefaultConfig())

	_, err := d.Open(1)
	require.ErrorIs(t, err, ErrOpenFailed)
	_, err = d.Open(-1)
	require.ErrorIs(t, err, ErrOpenFailed)

	u, err := d.Open(0)
	require.NoError(t, err)
	_, err = d.Open(0)
	require.ErrorIs(t, err, ErrOpenFailed)
	require.ErrorIs(t, err, ErrUnitBusy)

	require.NoError(t, u.Close())
	require.ErrorIs(t, u.Close(), ErrNotOpen)

	// The unit can be opened again after a close.
	u, err = d.Open(0)
	require.NoError(t, err)
	require.NoError(t, u.Close())
}

func TestDevice_OpenAllocationFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Allocator = func(int) ([]byte, error) { return nil, errors.New("no memory") }
	d := NewDevice(ft245.NewLine(ft245.NewSim()), cfg)

	_, err := d.Open(0)
	require.ErrorIs(t, err, ErrOpenFailed)
	require.ErrorIs(t, err, ErrBufferAllocation)
}

func TestUnit_CloseTearsDownWorker(t *testing.T) {
	sim := ft245.NewSim()
	d := NewDevice(ft245.NewLine(sim), DefaultConfig())
	u, err := d.Open(0)
	require.NoError(t, err)

	pending := NewRead(make([]byte, 4))
	require.False(t, u.BeginIO(pending))

	stopped := u.Stopped()
	require.NoError(t, u.Close())
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	u.mu.Lock()
	require.Nil(t, u.readPort)
	require.Nil(t, u.writePort)
	require.Nil(t, u.cmdPort)
	u.mu.Unlock()

	// Left unresolved at shutdown.
	require.False(t, isDone(pending))

	// The worker no longer drains the line.
	sim.Feed([]byte("late"))
	require.Never(t, func() bool { return sim.Pending() != 4 }, 20*time.Millisecond, time.Millisecond)

	for _, req := range []*Request{NewRead(make([]byte, 1)), NewWrite([]byte("x")), {Command: CmdQuery}, {Command: CmdClear}} {
		require.True(t, u.BeginIO(req))
		require.ErrorIs(t, req.Err(), ErrNotOpen)
	}
	require.ErrorIs(t, u.AbortIO(NewRead(nil)), ErrNotOpen)
}

func TestUnit_ReadWriter(t *testing.T) {
	u, sim := openSim(t, DefaultConfig())

	n, err := u.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(sim.Sent()))

	sim.Feed([]byte("world"))
	buf := make([]byte, 5)
	n, err = u.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	n, err = u.Read(nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestUnit_ReadLines(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flags |= FlagEOFMode
	cfg.Terminators = NewTermArray('\n')
	u, sim := openSim(t, cfg)

	sim.Feed([]byte("one\r\ntwo\n"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	line, err := u.ReadLine(ctx)
	require.NoError(t, err)
	require.Equal(t, "one", line)

	lines := make(chan string, 4)
	loopCtx, stop := context.WithCancel(ctx)
	exited := make(chan struct{})
	go func() {
		u.ReadLinesLoop(loopCtx,
			func(l string) { lines <- l },
			func(err error) { t.Errorf("unexpected error: %v", err) },
		)
		close(exited)
	}()

	select {
	case l := <-lines:
		require.Equal(t, "two", l)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for line")
	}

	stop()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("ReadLinesLoop did not exit after cancel")
	}
}

func TestUnit_ReadLineCRLFTerminators(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flags |= FlagEOFMode
	cfg.Terminators = NewTermArray('\r', '\n')
	u, sim := openSim(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	readLines := func(n int) []string {
		var got []string
		for i := 0; i < n; i++ {
			line, err := u.ReadLine(ctx)
			require.NoError(t, err)
			got = append(got, line)
		}
		return got
	}

	sim.Feed([]byte("a\r\nb\r\n"))
	require.Equal(t, []string{"a", "b"}, readLines(2))

	// Bare terminators still end their own lines.
	sim.Feed([]byte("C,INFO\r\nOK\n\r\rend\n"))
	require.Equal(t, []string{"C,INFO", "OK", "", "", "end"}, readLines(5))
}

func TestUnit_ReadLineNeedsEOFMode(t *testing.T) {
	u, _ := openSim(t, DefaultConfig())
	_, err := u.ReadLine(context.Background())
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestUnit_ReadAvailable(t *testing.T) {
	u, sim := openSim(t, DefaultConfig())

	sim.Feed([]byte("abcdef"))
	require.Eventually(t, func() bool { return u.Available() == 6 }, 2*time.Second, time.Millisecond)

	buf := make([]byte, 4)
	n, err := u.ReadAvailable(context.Background(), buf)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(buf[:n]))

	n, err = u.ReadAvailable(context.Background(), buf)
	require.NoError(t, err)
	require.Equal(t, "ef", string(buf[:n]))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = u.ReadAvailable(ctx, buf)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
