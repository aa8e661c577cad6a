package serial

import "sync"

// port is an unbounded FIFO of requests polled by the worker. Posting never
// blocks; the worker takes requests with a non-blocking get.
type port struct {
	mu     sync.Mutex
	queue  []*Request
	closed bool
	wake   chan<- struct{}
}

func newPort(wake chan<- struct{}) *port {
	return &port{wake: wake}
}

// put appends r and nudges the worker. It returns false once the port has
// been torn down.
func (p *port) put(r *Request) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, r)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

// get removes the oldest request, or returns nil.
func (p *port) get() *Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	r := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return r
}

// remove takes r out of the queue if it is still waiting there.
func (p *port) remove(r *Request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, q := range p.queue {
		if q == r {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (p *port) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// close refuses further puts and returns whatever was still queued.
func (p *port) close() []*Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	left := p.queue
	p.queue = nil
	return left
}
