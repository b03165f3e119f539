package world

import (
	"fmt"
	"log"
)

// UpdateBuffer holds mutations received while a cycle may be in flight. They
// are applied at the start of the next tick, so a cycle never observes a
// half-applied batch. Later updates to the same target overwrite earlier ones.
type UpdateBuffer struct {
	Positions map[EntityID]Vector
	Health    map[EntityID]float32
	Observers map[ObserverID]Vector
	order     []EntityID
}

func NewUpdateBuffer() *UpdateBuffer {
	return &UpdateBuffer{
		Positions: make(map[EntityID]Vector),
		Health:    make(map[EntityID]float32),
		Observers: make(map[ObserverID]Vector),
	}
}

func (u *UpdateBuffer) touch(ID EntityID) {
	_, pos := u.Positions[ID]
	_, hp := u.Health[ID]
	if !pos && !hp {
		u.order = append(u.order, ID)
	}
}

func (u *UpdateBuffer) SetPosition(msg *PositionUpdate) {
	u.touch(msg.ID)
	u.Positions[msg.ID] = msg.Position
}

func (u *UpdateBuffer) SetHealth(msg *HealthUpdate) {
	u.touch(msg.ID)
	u.Health[msg.ID] = msg.Health
}

func (u *UpdateBuffer) MoveObserver(msg *ObserverMove) {
	u.Observers[msg.ID] = msg.Position
}

func (u *UpdateBuffer) Len() int {
	return len(u.order) + len(u.Observers)
}

// Apply runs every queued mutation through the entity setters and empties
// the buffer. Updates naming unknown entities or observers are logged and
// skipped; the number skipped is returned.
func (u *UpdateBuffer) Apply(w *World) int {
	skipped := 0
	for _, ID := range u.order {
		entity := w.Entity(ID)
		if entity == nil {
			log.Println(fmt.Errorf("queued update for entity %d: %w", ID, ErrUnknownEntity))
			skipped++
			continue
		}
		if position, ok := u.Positions[ID]; ok {
			entity.SetPosition(position)
		}
		if health, ok := u.Health[ID]; ok {
			entity.SetHealth(health)
		}
	}
	for ID, position := range u.Observers {
		observer := w.Observer(ID)
		if observer == nil {
			// Observers disconnect between ticks; not worth a log line.
			skipped++
			continue
		}
		observer.Position = position
	}
	u.Clear()
	return skipped
}

func (u *UpdateBuffer) Clear() {
	clear(u.Positions)
	clear(u.Health)
	clear(u.Observers)
	u.order = u.order[:0]
}
