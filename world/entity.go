package world

type EntityID uint32

// DirtyFlags marks which replicable fields changed since the last flush.
type DirtyFlags uint8

const (
	DirtyPosition DirtyFlags = 1 << 0
	DirtyHealth   DirtyFlags = 1 << 1

	dirtyMask = DirtyPosition | DirtyHealth
)

func (f DirtyFlags) Has(flag DirtyFlags) bool {
	return f&flag != 0
}

type Entity struct {
	ID       EntityID
	position Vector
	health   float32
	dirty    DirtyFlags
}

func NewEntity(ID EntityID, position Vector, health float32) *Entity {
	return &Entity{
		ID:       ID,
		position: position,
		health:   health,
	}
}

func (e *Entity) Position() Vector {
	return e.position
}

func (e *Entity) Health() float32 {
	return e.health
}

// SetPosition only raises DirtyPosition when the value actually changes.
func (e *Entity) SetPosition(position Vector) {
	if e.position == position {
		return
	}
	e.position = position
	e.dirty |= DirtyPosition
}

func (e *Entity) SetHealth(health float32) {
	if e.health == health {
		return
	}
	e.health = health
	e.dirty |= DirtyHealth
}

func (e *Entity) Dirty() DirtyFlags {
	return e.dirty
}

func (e *Entity) IsDirty() bool {
	return e.dirty != 0
}

// ClearDirty is reserved for the replication flush.
func (e *Entity) ClearDirty() {
	e.dirty = 0
}
