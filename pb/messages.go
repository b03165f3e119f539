// Package pb holds the control-plane messages exchanged over the websocket,
// encoded in protobuf wire format.
package pb

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("malformed message")

// Hello is sent once, right after the connection is accepted.
type Hello struct {
	ObserverId uint32
	Session    string
	Radius     float32
	IdWidth    uint32
}

// ServerEvent carries either a Hello or one cycle's replication packet.
type ServerEvent struct {
	Tick   int64
	Hello  *Hello
	Packet []byte
}

type Move struct {
	X, Y float32
}

type ClientEvent struct {
	Tick int64
	Move *Move
}

const (
	serverTickField   protowire.Number = 1
	serverHelloField  protowire.Number = 2
	serverPacketField protowire.Number = 3

	helloObserverField protowire.Number = 1
	helloSessionField  protowire.Number = 2
	helloRadiusField   protowire.Number = 3
	helloIdWidthField  protowire.Number = 4

	clientTickField protowire.Number = 1
	clientMoveField protowire.Number = 2

	moveXField protowire.Number = 1
	moveYField protowire.Number = 2
)

func (h *Hello) Marshal(b []byte) []byte {
	b = protowire.AppendTag(b, helloObserverField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.ObserverId))
	if h.Session != "" {
		b = protowire.AppendTag(b, helloSessionField, protowire.BytesType)
		b = protowire.AppendString(b, h.Session)
	}
	b = protowire.AppendTag(b, helloRadiusField, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(h.Radius))
	b = protowire.AppendTag(b, helloIdWidthField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.IdWidth))
	return b
}

func (h *Hello) Unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == helloObserverField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			h.ObserverId = uint32(v)
			return n, nil
		case num == helloSessionField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			h.Session = v
			return n, nil
		case num == helloRadiusField && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			h.Radius = math.Float32frombits(v)
			return n, nil
		case num == helloIdWidthField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			h.IdWidth = uint32(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (e *ServerEvent) Marshal(b []byte) []byte {
	b = protowire.AppendTag(b, serverTickField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Tick))
	if e.Hello != nil {
		b = protowire.AppendTag(b, serverHelloField, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Hello.Marshal(nil))
	}
	if e.Packet != nil {
		b = protowire.AppendTag(b, serverPacketField, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Packet)
	}
	return b
}

func (e *ServerEvent) Unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == serverTickField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.Tick = int64(v)
			return n, nil
		case num == serverHelloField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			e.Hello = &Hello{}
			return n, e.Hello.Unmarshal(v)
		case num == serverPacketField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			e.Packet = append([]byte{}, v...)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (m *Move) Marshal(b []byte) []byte {
	b = protowire.AppendTag(b, moveXField, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(m.X))
	b = protowire.AppendTag(b, moveYField, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(m.Y))
	return b
}

func (m *Move) Unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == moveXField && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			m.X = math.Float32frombits(v)
			return n, nil
		case num == moveYField && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			m.Y = math.Float32frombits(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (e *ClientEvent) Marshal(b []byte) []byte {
	b = protowire.AppendTag(b, clientTickField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Tick))
	if e.Move != nil {
		b = protowire.AppendTag(b, clientMoveField, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Move.Marshal(nil))
	}
	return b
}

func (e *ClientEvent) Unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == clientTickField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.Tick = int64(v)
			return n, nil
		case num == clientMoveField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			e.Move = &Move{}
			return n, e.Move.Unmarshal(v)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// consumeFields walks b field by field. field consumes the value following
// the tag and returns its length, or a negative protowire error code.
func consumeFields(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		n, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}
