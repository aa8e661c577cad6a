package ft245

import "sync"

// Sim is an in-memory FT245 register pair. The host side feeds bytes with
// Feed and collects transmitted bytes with Sent.
type Sim struct {
	mu      sync.Mutex
	rx      []byte
	tx      []byte
	powered bool
	hold    bool
	notify  chan struct{}
}

// NewSim returns a powered simulator with empty FIFOs.
func NewSim() *Sim {
	return &Sim{
		powered: true,
		notify:  make(chan struct{}, 1),
	}
}

// Feed queues bytes in the receive FIFO as if the host had sent them.
func (s *Sim) Feed(p []byte) {
	s.mu.Lock()
	s.rx = append(s.rx, p...)
	s.mu.Unlock()
}

// Pending returns the number of fed bytes not yet read by the driver.
func (s *Sim) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rx)
}

// Sent returns a copy of every byte transmitted so far.
func (s *Sim) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.tx...)
}

// Take returns the transmitted bytes and clears the capture.
func (s *Sim) Take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.tx
	s.tx = nil
	return out
}

// Transmitted is signalled after every WriteFIFO.
func (s *Sim) Transmitted() <-chan struct{} {
	return s.notify
}

// SetPowered sets the PWE status bit.
func (s *Sim) SetPowered(on bool) {
	s.mu.Lock()
	s.powered = on
	s.mu.Unlock()
}

// HoldTX keeps the transmit FIFO reporting busy while on is true.
func (s *Sim) HoldTX(on bool) {
	s.mu.Lock()
	s.hold = on
	s.mu.Unlock()
}

// Status implements Registers.
func (s *Sim) Status() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st uint8
	if s.powered {
		st |= StatusPWE
	}
	if len(s.rx) == 0 {
		st |= StatusRXF
	}
	if s.hold {
		st |= StatusTXE
	}
	return st
}

// ReadFIFO implements Registers. It returns 0 when nothing was fed.
func (s *Sim) ReadFIFO() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rx) == 0 {
		return 0
	}
	b := s.rx[0]
	s.rx = s.rx[1:]
	return b
}

// WriteFIFO implements Registers.
func (s *Sim) WriteFIFO(b byte) {
	s.mu.Lock()
	s.tx = append(s.tx, b)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
