package client

import (
	"fmt"
	"sort"

	"aoi/world"
)

// EntityState is what an observer knows about one entity. Fields are only
// meaningful once the matching Seen bit is set.
type EntityState struct {
	ID       world.EntityID
	Position world.Vector
	Health   float32
	Seen     world.DirtyFlags
	Tick     int64
}

// Replica mirrors the entities an observer has been told about by applying
// delta packets in order. Entities that leave the interest radius simply
// stop receiving updates; their last known state is kept.
type Replica struct {
	decoder  world.Encoder
	entities map[world.EntityID]*EntityState
	tick     int64
}

func NewReplica(width world.IDWidth) *Replica {
	return &Replica{
		decoder:  world.NewEncoder(width),
		entities: make(map[world.EntityID]*EntityState),
		tick:     world.NilTick,
	}
}

// Apply decodes one packet and merges its records. Records up to a
// truncation are still applied before the error is returned.
func (r *Replica) Apply(tick int64, packet []byte) (int, error) {
	records, err := r.decoder.Decode(packet)
	for _, record := range records {
		state := r.entities[record.ID]
		if state == nil {
			state = &EntityState{ID: record.ID}
			r.entities[record.ID] = state
		}
		if record.Flags.Has(world.DirtyPosition) {
			state.Position = record.Position
		}
		if record.Flags.Has(world.DirtyHealth) {
			state.Health = record.Health
		}
		state.Seen |= record.Flags
		state.Tick = tick
	}
	if tick > r.tick {
		r.tick = tick
	}
	if err != nil {
		return len(records), fmt.Errorf("tick %d: %w", tick, err)
	}
	return len(records), nil
}

func (r *Replica) Entity(ID world.EntityID) (EntityState, bool) {
	state, ok := r.entities[ID]
	if !ok {
		return EntityState{}, false
	}
	return *state, true
}

// Entities returns a snapshot sorted by ID.
func (r *Replica) Entities() []EntityState {
	states := make([]EntityState, 0, len(r.entities))
	for _, state := range r.entities {
		states = append(states, *state)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].ID < states[j].ID
	})
	return states
}

func (r *Replica) Tick() int64 {
	return r.tick
}
