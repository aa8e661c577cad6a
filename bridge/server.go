// Package bridge exposes an open serial unit to websocket clients. Bytes
// received on the line are broadcast to every client as data frames; client
// data frames are written to the line.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	serial "github.com/luhtfiimanal/go-ft245-serial"
	"github.com/luhtfiimanal/go-ft245-serial/internal/logging"
)

// Unit is the part of *serial.Unit the bridge drives.
type Unit interface {
	BeginIO(req *serial.Request) bool
	ReadAvailable(ctx context.Context, p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Connection represents a single WebSocket client connection
type Connection struct {
	conn   *websocket.Conn
	sendCh chan []byte
	mu     sync.Mutex
	closed bool
}

// Server is a WebSocket server for one unit
type Server struct {
	unit        Unit
	upgrader    websocket.Upgrader
	connections map[*Connection]bool
	mu          sync.RWMutex

	// ChunkSize bounds the data carried by one pumped frame.
	ChunkSize int
}

// NewServer creates a new WebSocket server for unit
func NewServer(unit Unit) *Server {
	return &Server{
		unit: unit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		connections: make(map[*Connection]bool),
		ChunkSize:   256,
	}
}

// Handler returns a mux serving the websocket on /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// ListenAndServe serves Handler on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.closeAll()
	}()

	logging.Info(logging.ComponentBridge, "websocket server starting", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error(logging.ComponentBridge, "failed to upgrade connection", "error", err)
		return
	}

	conn := &Connection{
		conn:   ws,
		sendCh: make(chan []byte, 256),
	}

	s.mu.Lock()
	s.connections[conn] = true
	s.mu.Unlock()

	logging.Info(logging.ComponentBridge, "client connected", "remote", r.RemoteAddr)

	go conn.writePump()
	conn.readPump(s)

	s.mu.Lock()
	delete(s.connections, conn)
	s.mu.Unlock()

	conn.close()
	logging.Info(logging.ComponentBridge, "client disconnected", "remote", r.RemoteAddr)
}

func (c *Connection) readPump(s *Server) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Error(logging.ComponentBridge, "read error", "error", err)
			}
			return
		}

		if msgType != websocket.BinaryMessage {
			continue
		}

		frame, err := Decode(data)
		if err != nil {
			c.sendFrame(&Frame{Kind: KindError, Error: err.Error()})
			continue
		}
		if reply := s.handle(frame); reply != nil {
			c.sendFrame(reply)
		}
	}
}

func (c *Connection) writePump() {
	for data := range c.sendCh {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			logging.Error(logging.ComponentBridge, "write error", "error", err)
			c.conn.Close()
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}

// Send queues data for the client
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}

	select {
	case c.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *Connection) sendFrame(f *Frame) {
	data, err := f.Encode()
	if err != nil {
		logging.Error(logging.ComponentBridge, "encode failed", "kind", f.Kind, "error", err)
		return
	}
	if err := c.Send(data); err != nil {
		logging.Warn(logging.ComponentBridge, "frame dropped", "kind", f.Kind, "error", err)
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.sendCh)
}

func (s *Server) closeAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.connections {
		conn.close()
	}
}

// handle executes one client frame and returns the reply, if any.
func (s *Server) handle(f *Frame) *Frame {
	switch f.Kind {
	case KindData:
		if _, err := s.unit.Write(f.Data); err != nil {
			return &Frame{Kind: KindError, Error: err.Error()}
		}
		return nil

	case KindQuery:
		return s.status()

	case KindClear:
		req := &serial.Request{Command: serial.CmdClear}
		s.unit.BeginIO(req)
		if err := req.Err(); err != nil {
			return &Frame{Kind: KindError, Error: err.Error()}
		}
		return s.status()

	default:
		return &Frame{Kind: KindError, Error: fmt.Sprintf("unexpected %s frame", f.Kind)}
	}
}

func (s *Server) status() *Frame {
	req := &serial.Request{Command: serial.CmdQuery}
	s.unit.BeginIO(req)
	if err := req.Err(); err != nil {
		return &Frame{Kind: KindError, Error: err.Error()}
	}
	return &Frame{
		Kind:      KindStatus,
		Status:    uint16(req.Status),
		Available: uint32(req.Actual),
	}
}

// Broadcast sends f to all connected clients
func (s *Server) Broadcast(f *Frame) {
	data, err := f.Encode()
	if err != nil {
		logging.Error(logging.ComponentBridge, "encode failed", "kind", f.Kind, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.connections {
		if err := conn.Send(data); err != nil {
			logging.Warn(logging.ComponentBridge, "broadcast dropped", "error", err)
		}
	}
}

// Pump reads from the unit and broadcasts what arrives until ctx is done or
// the unit fails.
func (s *Server) Pump(ctx context.Context) error {
	size := s.ChunkSize
	if size < 1 {
		size = 1
	}
	buf := make([]byte, size)

	for {
		n, err := s.unit.ReadAvailable(ctx, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.Broadcast(&Frame{Kind: KindData, Data: data})
	}
}
