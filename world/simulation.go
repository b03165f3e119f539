package world

import "math"

// Simulation is the authoritative collaborator that mutates entities between
// cycles. It reads w and queues its changes in updates; the caller applies
// them before the next cycle.
type Simulation interface {
	Step(w *World, updates *UpdateBuffer, tick int64)
}

const MaxHealth float32 = 100

// Seed lays count entities out on the x axis, spacing apart, at full health.
func Seed(w *World, count int, spacing float32) error {
	for i := 0; i < count; i++ {
		position := Vector{X: float32(i) * spacing}
		if _, err := w.AddEntity(EntityID(i), position, MaxHealth); err != nil {
			return err
		}
	}
	return nil
}

// Orbit moves even-numbered entities on a circle around where they were
// first seen and drains everyone's health by one point every DrainEvery
// ticks. Odd-numbered entities never move, so they only go dirty on drains.
type Orbit struct {
	Radius     float32
	Period     int64
	DrainEvery int64
	homes      map[EntityID]Vector
}

func NewOrbit(radius float32, period, drainEvery int64) *Orbit {
	if period <= 0 {
		period = 1
	}
	return &Orbit{
		Radius:     radius,
		Period:     period,
		DrainEvery: drainEvery,
		homes:      make(map[EntityID]Vector),
	}
}

func (o *Orbit) Step(w *World, updates *UpdateBuffer, tick int64) {
	w.ForEachEntity(func(e *Entity) {
		home, ok := o.homes[e.ID]
		if !ok {
			home = e.Position()
			o.homes[e.ID] = home
		}

		if e.ID%2 == 0 {
			phase := (tick + int64(e.ID)) % o.Period
			angle := 2 * math.Pi * float64(phase) / float64(o.Period)
			updates.SetPosition(&PositionUpdate{
				ID: e.ID,
				Position: home.Add(Vector{
					X: o.Radius * float32(math.Cos(angle)),
					Y: o.Radius * float32(math.Sin(angle)),
				}),
				Tick: tick,
			})
		}

		if o.DrainEvery > 0 && tick%o.DrainEvery == 0 {
			health := e.Health() - 1
			if health <= 0 {
				health = MaxHealth
			}
			updates.SetHealth(&HealthUpdate{ID: e.ID, Health: health, Tick: tick})
		}
	})
}
