package bridge

import (
	"fmt"

	"github.com/kelindar/binary"
)

// Kind identifies a bridge frame.
type Kind uint8

var (
	KindData   Kind = 1 // bytes to write (client) or bytes received (server)
	KindQuery  Kind = 2
	KindStatus Kind = 3 // reply to KindQuery and KindClear
	KindClear  Kind = 4
	KindError  Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindQuery:
		return "query"
	case KindStatus:
		return "status"
	case KindClear:
		return "clear"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame is the wire format exchanged over the websocket
type Frame struct {
	Kind      Kind
	Status    uint16 // serial.LineStatus bits, status frames only
	Available uint32 // bytes buffered in the unit, status frames only
	Data      []byte
	Error     string
}

// Encode marshals f for a binary websocket message.
func (f *Frame) Encode() ([]byte, error) {
	data, err := binary.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	return data, nil
}

// Decode unmarshals a frame received in a binary websocket message.
func Decode(data []byte) (*Frame, error) {
	f := &Frame{}
	if err := binary.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	return f, nil
}
