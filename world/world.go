package world

import "fmt"

// World is the authoritative entity store. Entities keep their insertion
// order, which is also the order of every observer's visible set.
type World struct {
	entities  []*Entity
	index     map[EntityID]int
	observers []*Observer
	maxID     uint32
}

// NewWorld creates a store that accepts IDs up to maxID inclusive.
func NewWorld(maxID uint32) *World {
	return &World{
		index: make(map[EntityID]int),
		maxID: maxID,
	}
}

func (w *World) MaxID() uint32 {
	return w.maxID
}

func (w *World) AddEntity(ID EntityID, position Vector, health float32) (*Entity, error) {
	if uint32(ID) > w.maxID {
		return nil, fmt.Errorf("entity %d: %w (max %d)", ID, ErrIDRangeExceeded, w.maxID)
	}
	if _, ok := w.index[ID]; ok {
		return nil, fmt.Errorf("entity %d: %w", ID, ErrDuplicateID)
	}
	e := NewEntity(ID, position, health)
	w.index[ID] = len(w.entities)
	w.entities = append(w.entities, e)
	return e, nil
}

func (w *World) Entity(ID EntityID) *Entity {
	i, ok := w.index[ID]
	if !ok {
		return nil
	}
	return w.entities[i]
}

func (w *World) Entities() []*Entity {
	return w.entities
}

func (w *World) ForEachEntity(callback func(*Entity)) {
	for _, entity := range w.entities {
		callback(entity)
	}
}

func (w *World) AddObserver(ID ObserverID, position Vector) (*Observer, error) {
	if uint32(ID) > w.maxID {
		return nil, fmt.Errorf("observer %d: %w (max %d)", ID, ErrIDRangeExceeded, w.maxID)
	}
	if w.Observer(ID) != nil {
		return nil, fmt.Errorf("observer %d: %w", ID, ErrDuplicateID)
	}
	o := NewObserver(ID, position)
	w.observers = append(w.observers, o)
	return o, nil
}

func (w *World) Observer(ID ObserverID) *Observer {
	for _, o := range w.observers {
		if o.ID == ID {
			return o
		}
	}
	return nil
}

func (w *World) Observers() []*Observer {
	return w.observers
}

func (w *World) RemoveObserver(ID ObserverID) {
	for i, o := range w.observers {
		if o.ID == ID {
			w.observers = append(w.observers[:i], w.observers[i+1:]...)
			return
		}
	}
}

// Flush clears every entity's dirty flags and returns how many were dirty.
func (w *World) Flush() int {
	dirty := 0
	for _, e := range w.entities {
		if e.IsDirty() {
			dirty++
		}
		e.ClearDirty()
	}
	return dirty
}
