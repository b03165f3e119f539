package client

import (
	"errors"
	"testing"

	"aoi/world"
)

func encode(t *testing.T, width world.IDWidth, entities ...*world.Entity) []byte {
	t.Helper()
	enc := world.NewEncoder(width)
	packet := world.NewPacket(world.DefaultPacketCapacity)
	for _, e := range entities {
		if err := enc.Encode(packet, e); err != nil {
			t.Fatal(err)
		}
	}
	return append([]byte(nil), packet.Bytes()...)
}

func TestReplicaMergesPartialRecords(t *testing.T) {
	e := world.NewEntity(300, world.Vector{}, world.MaxHealth)
	r := NewReplica(world.IDWidth16)

	e.SetPosition(world.Vector{X: 3, Y: 4})
	if n, err := r.Apply(1, encode(t, world.IDWidth16, e)); err != nil || n != 1 {
		t.Fatalf("Apply() = %d, %v", n, err)
	}
	e.ClearDirty()
	e.SetHealth(42)
	if _, err := r.Apply(2, encode(t, world.IDWidth16, e)); err != nil {
		t.Fatal(err)
	}

	got, ok := r.Entity(300)
	if !ok {
		t.Fatal("entity 300 not replicated")
	}
	want := EntityState{
		ID:       300,
		Position: world.Vector{X: 3, Y: 4},
		Health:   42,
		Seen:     world.DirtyPosition | world.DirtyHealth,
		Tick:     2,
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if r.Tick() != 2 {
		t.Fatalf("Tick() = %d, want 2", r.Tick())
	}
}

func TestReplicaKeepsRecordsBeforeTruncation(t *testing.T) {
	a := world.NewEntity(1, world.Vector{}, world.MaxHealth)
	b := world.NewEntity(2, world.Vector{}, world.MaxHealth)
	a.SetHealth(1)
	b.SetHealth(2)
	packet := encode(t, world.IDWidth8, a, b)

	r := NewReplica(world.IDWidth8)
	n, err := r.Apply(5, packet[:len(packet)-1])
	if !errors.Is(err, world.ErrTruncatedRecord) {
		t.Fatalf("err = %v, want %v", err, world.ErrTruncatedRecord)
	}
	if n != 1 {
		t.Fatalf("applied %d records, want 1", n)
	}
	states := r.Entities()
	if len(states) != 1 || states[0].ID != 1 || states[0].Health != 1 {
		t.Fatalf("entities = %+v", states)
	}
}
