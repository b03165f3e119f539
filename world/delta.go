package world

import (
	"encoding/binary"
	"fmt"
	"math"
)

// IDWidth is the number of bytes the entity ID occupies in a record.
type IDWidth int

const (
	IDWidth8  IDWidth = 1
	IDWidth16 IDWidth = 2
	IDWidth32 IDWidth = 4
)

func (w IDWidth) Valid() bool {
	return w == IDWidth8 || w == IDWidth16 || w == IDWidth32
}

// MaxID is the largest ID the field can carry without truncation.
func (w IDWidth) MaxID() uint32 {
	switch w {
	case IDWidth8:
		return math.MaxUint8
	case IDWidth16:
		return math.MaxUint16
	default:
		return math.MaxUint32
	}
}

const (
	flagsSize    = 1
	positionSize = 8
	healthSize   = 4
)

// DefaultPacketCapacity is the per-observer scratch buffer size.
const DefaultPacketCapacity = 256

// Packet is an observer's outgoing buffer for one cycle. Its backing array is
// allocated once and never grows past its capacity.
type Packet struct {
	buf     []byte
	records int
}

func NewPacket(capacity int) *Packet {
	if capacity <= 0 {
		capacity = DefaultPacketCapacity
	}
	return &Packet{
		buf: make([]byte, 0, capacity),
	}
}

func (p *Packet) Bytes() []byte {
	return p.buf
}

func (p *Packet) Len() int {
	return len(p.buf)
}

func (p *Packet) Cap() int {
	return cap(p.buf)
}

func (p *Packet) Records() int {
	return p.records
}

func (p *Packet) Reset() {
	p.buf = p.buf[:0]
	p.records = 0
}

// Encoder writes entity delta records:
//
//	id (IDWidth bytes) | flags (1 byte) | [x float32, y float32] | [health float32]
//
// All multi-byte values are little-endian.
type Encoder struct {
	IDWidth IDWidth
}

func NewEncoder(width IDWidth) Encoder {
	if !width.Valid() {
		width = IDWidth8
	}
	return Encoder{IDWidth: width}
}

func (enc Encoder) MaxID() uint32 {
	return enc.IDWidth.MaxID()
}

func (enc Encoder) RecordSize(flags DirtyFlags) int {
	if flags == 0 {
		return 0
	}
	size := int(enc.IDWidth) + flagsSize
	if flags.Has(DirtyPosition) {
		size += positionSize
	}
	if flags.Has(DirtyHealth) {
		size += healthSize
	}
	return size
}

// Encode appends e's dirty fields to p. Clean entities write nothing. When
// the record would not fit, p is left untouched and ErrBufferOverflow is
// returned.
func (enc Encoder) Encode(p *Packet, e *Entity) error {
	flags := e.dirty
	size := enc.RecordSize(flags)
	if size == 0 {
		return nil
	}
	if p.Len()+size > p.Cap() {
		return fmt.Errorf("entity %d needs %d bytes, %d free: %w", e.ID, size, p.Cap()-p.Len(), ErrBufferOverflow)
	}

	b := enc.appendID(p.buf, e.ID)
	b = append(b, byte(flags))
	if flags.Has(DirtyPosition) {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(e.position.X))
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(e.position.Y))
	}
	if flags.Has(DirtyHealth) {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(e.health))
	}
	p.buf = b
	p.records++
	return nil
}

func (enc Encoder) appendID(b []byte, ID EntityID) []byte {
	switch enc.IDWidth {
	case IDWidth16:
		return binary.LittleEndian.AppendUint16(b, uint16(ID))
	case IDWidth32:
		return binary.LittleEndian.AppendUint32(b, uint32(ID))
	default:
		return append(b, byte(ID))
	}
}

// Record is one decoded entity delta. Only the fields named by Flags are meaningful.
type Record struct {
	ID       EntityID
	Flags    DirtyFlags
	Position Vector
	Health   float32
}

// Decode parses a packet produced by Encode with the same ID width.
func (enc Encoder) Decode(data []byte) ([]Record, error) {
	var records []Record
	width := int(enc.IDWidth)
	for offset := 0; offset < len(data); {
		if len(data)-offset < width+flagsSize {
			return records, fmt.Errorf("header at offset %d: %w", offset, ErrTruncatedRecord)
		}
		var r Record
		switch enc.IDWidth {
		case IDWidth16:
			r.ID = EntityID(binary.LittleEndian.Uint16(data[offset:]))
		case IDWidth32:
			r.ID = EntityID(binary.LittleEndian.Uint32(data[offset:]))
		default:
			r.ID = EntityID(data[offset])
		}
		r.Flags = DirtyFlags(data[offset+width])

		if r.Flags == 0 || r.Flags&^dirtyMask != 0 {
			return records, fmt.Errorf("entity %d at offset %d: flags %08b: %w", r.ID, offset, r.Flags, ErrInvalidFlags)
		}

		size := enc.RecordSize(r.Flags)
		if len(data)-offset < size {
			return records, fmt.Errorf("entity %d at offset %d: %w", r.ID, offset, ErrTruncatedRecord)
		}

		field := offset + width + flagsSize
		if r.Flags.Has(DirtyPosition) {
			r.Position.X = math.Float32frombits(binary.LittleEndian.Uint32(data[field:]))
			r.Position.Y = math.Float32frombits(binary.LittleEndian.Uint32(data[field+4:]))
			field += positionSize
		}
		if r.Flags.Has(DirtyHealth) {
			r.Health = math.Float32frombits(binary.LittleEndian.Uint32(data[field:]))
		}
		records = append(records, r)
		offset += size
	}
	return records, nil
}
