// Package serial is a polled driver for a single serial line behind a
// byte-wide FIFO interface such as the FTDI FT245R.
//
// The FIFO has no interrupt line, so each open unit runs a worker goroutine
// that loops forever doing four small steps: move one received byte into
// the ring buffer, hand one buffered byte to the active read, send one byte
// of the active write, and answer one control command (abort-read,
// abort-write, terminate). Requests enter through Unit.BeginIO, which
// completes most commands on the spot and only queues reads and contended
// writes for the worker.
//
// Features:
//   - Ring buffer with reset-time resizing that never loses the old buffer
//   - Reads that finish on a length or on one of up to 8 terminator bytes
//   - Direct writes from the caller when the transmitter is idle
//   - Synchronous aborts of the active read or write
//   - Linux tty/pty backend and an in-memory simulator (package ft245)
//
// This package does **not** use interrupts or modem flow control.
//
// Example usage:
//
//	cfg := serial.DefaultConfig()
//	cfg.Device = "/dev/ttyUSB0"
//	cfg.Flags |= serial.FlagEOFMode
//	cfg.Terminators = serial.NewTermArray('\n')
//	unit, err := serial.Open(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer unit.Close()
//
//	go unit.ReadLinesLoop(ctx,
//	    func(line string) {
//	        fmt.Println("Received:", line)
//	    },
//	    func(err error) {
//	        log.Println("Read error:", err)
//	    },
//	)
//
//	if err := unit.WriteLine("C,START", "\r\n"); err != nil {
//	    log.Println("Write failed:", err)
//	}
//
// Lower level access goes through requests:
//
//	req := serial.NewRead(make([]byte, 16))
//	if !unit.BeginIO(req) {
//	    <-req.Done()
//	}
//	fmt.Println(req.Actual, req.Err())
package serial
