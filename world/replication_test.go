package world

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
)

var (
	entity2Moved  = []byte{0x02, 0x01, 0x00, 0x00, 0xB0, 0x41, 0x00, 0x00, 0x00, 0x00}
	entity4Damage = []byte{0x04, 0x02, 0x00, 0x00, 0xA0, 0x42}
)

type capture struct {
	packets map[ObserverID][]byte
	order   []ObserverID
	fail    map[ObserverID]bool
}

func newCapture() *capture {
	return &capture{
		packets: make(map[ObserverID][]byte),
		fail:    make(map[ObserverID]bool),
	}
}

func (c *capture) Emit(tick int64, observer ObserverID, packet []byte) error {
	if c.fail[observer] {
		return errors.New("connection reset")
	}
	c.order = append(c.order, observer)
	c.packets[observer] = bytes.Clone(packet)
	return nil
}

// newScenario builds the reference layout: entities at x = 0, 10, ... 90 and
// observers at x = 0, 20, 40, 60, all on y = 0.
func newScenario(t *testing.T, opts ReplicatorOptions) (*World, *Replicator) {
	t.Helper()
	w := NewWorld(IDWidth8.MaxID())
	if err := Seed(w, 10, 10); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := w.AddObserver(ObserverID(i), Vector{X: float32(i) * 20}); err != nil {
			t.Fatal(err)
		}
	}
	if opts.Radius == 0 {
		opts.Radius = 25
	}
	r, err := NewReplicator(w, opts)
	if err != nil {
		t.Fatal(err)
	}
	return w, r
}

func mutateScenario(w *World) {
	w.Entity(2).SetPosition(Vector{X: 22})
	w.Entity(4).SetHealth(80)
}

func TestCycleReferenceScenario(t *testing.T) {
	for _, opts := range []ReplicatorOptions{
		{},
		{CellSize: 10},
		{Workers: 4},
		{Workers: 3, CellSize: 7},
	} {
		t.Run(fmt.Sprintf("%+v", opts), func(t *testing.T) {
			w, r := newScenario(t, opts)
			mutateScenario(w)
			c := newCapture()

			report, err := r.Cycle(context.Background(), 1, c)
			if err != nil {
				t.Fatal(err)
			}

			wantVisible := [][]EntityID{
				{0, 1, 2},
				{0, 1, 2, 3, 4},
				{2, 3, 4, 5, 6},
				{4, 5, 6, 7, 8},
			}
			wantPackets := [][]byte{
				entity2Moved,
				append(bytes.Clone(entity2Moved), entity4Damage...),
				append(bytes.Clone(entity2Moved), entity4Damage...),
				entity4Damage,
			}
			for i, o := range w.Observers() {
				if got := o.Observed(); !slices.Equal(got, wantVisible[i]) {
					t.Fatalf("observer %d observed = %v, want %v", o.ID, got, wantVisible[i])
				}
				if got := c.packets[o.ID]; !bytes.Equal(got, wantPackets[i]) {
					t.Fatalf("observer %d packet = % X, want % X", o.ID, got, wantPackets[i])
				}
				if got := report.Observers[i].Packet; !bytes.Equal(got, wantPackets[i]) {
					t.Fatalf("observer %d report packet = % X, want % X", o.ID, got, wantPackets[i])
				}
			}
			if !slices.Equal(c.order, []ObserverID{0, 1, 2, 3}) {
				t.Fatalf("emit order = %v, want [0 1 2 3]", c.order)
			}
			if report.Bytes != 48 {
				t.Fatalf("report.Bytes = %d, want 48", report.Bytes)
			}
			if report.Dirty != 2 {
				t.Fatalf("report.Dirty = %d, want 2", report.Dirty)
			}
			w.ForEachEntity(func(e *Entity) {
				if e.IsDirty() {
					t.Fatalf("entity %d dirty = %08b after cycle", e.ID, e.Dirty())
				}
			})
		})
	}
}

func TestCycleWithoutChangesEmitsEmptyPackets(t *testing.T) {
	w, r := newScenario(t, ReplicatorOptions{})
	mutateScenario(w)
	if _, err := r.Cycle(context.Background(), 1, nil); err != nil {
		t.Fatal(err)
	}

	c := newCapture()
	report, err := r.Cycle(context.Background(), 2, c)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.order) != 4 {
		t.Fatalf("emitted to %v, want all four observers", c.order)
	}
	for ID, packet := range c.packets {
		if len(packet) != 0 {
			t.Fatalf("observer %d packet = % X, want empty", ID, packet)
		}
	}
	if report.Bytes != 0 || report.Dirty != 0 {
		t.Fatalf("report = %+v, want no bytes and no dirty entities", report)
	}
}

func TestCycleNoOpMutationProducesNoBytes(t *testing.T) {
	w, r := newScenario(t, ReplicatorOptions{})
	w.Entity(1).SetPosition(Vector{X: 10})
	w.Entity(1).SetHealth(100)

	c := newCapture()
	if _, err := r.Cycle(context.Background(), 1, c); err != nil {
		t.Fatal(err)
	}
	if got := c.packets[0]; len(got) != 0 {
		t.Fatalf("observer 0 packet = % X, want empty", got)
	}
}

func TestCycleDoesNotLeakInvisibleEntities(t *testing.T) {
	w, r := newScenario(t, ReplicatorOptions{})
	w.Entity(9).SetHealth(1) // x = 90, nobody within 25

	c := newCapture()
	report, err := r.Cycle(context.Background(), 1, c)
	if err != nil {
		t.Fatal(err)
	}
	for ID, packet := range c.packets {
		if len(packet) != 0 {
			t.Fatalf("observer %d packet = % X, want empty", ID, packet)
		}
	}
	if report.Dirty != 1 {
		t.Fatalf("report.Dirty = %d, want 1", report.Dirty)
	}
	if w.Entity(9).IsDirty() {
		t.Fatal("invisible entity still dirty after flush")
	}
}

// staleInterest answers from a linear scan plus an index left over from a
// larger store.
type staleInterest struct {
	*LinearScan
	stale int
}

func (s staleInterest) Query(center Vector, radius float32, dst []int) []int {
	return append(s.LinearScan.Query(center, radius, dst), s.stale)
}

func TestCycleSkipsIndicesNamingNoEntity(t *testing.T) {
	w, r := newScenario(t, ReplicatorOptions{})
	r.interest = staleInterest{LinearScan: NewLinearScan(), stale: 99}
	mutateScenario(w)

	c := newCapture()
	report, err := r.Cycle(context.Background(), 1, c)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := report.Observers[0].Visible, []EntityID{0, 1, 2}; !slices.Equal(got, want) {
		t.Fatalf("observer 0 visible = %v, want %v", got, want)
	}
	if got := c.packets[0]; !bytes.Equal(got, entity2Moved) {
		t.Fatalf("observer 0 packet = % X, want % X", got, entity2Moved)
	}
	if report.Dirty != 2 {
		t.Fatalf("report.Dirty = %d, want 2", report.Dirty)
	}
}

func TestCycleOverflowDropsOnlyThatObserver(t *testing.T) {
	// 10 bytes fit, 16 do not: observers 1 and 2 overflow.
	w, r := newScenario(t, ReplicatorOptions{PacketCapacity: 12})
	mutateScenario(w)

	c := newCapture()
	report, err := r.Cycle(context.Background(), 1, c)
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(c.order, []ObserverID{0, 3}) {
		t.Fatalf("emitted to %v, want [0 3]", c.order)
	}
	if !bytes.Equal(c.packets[0], entity2Moved) || !bytes.Equal(c.packets[3], entity4Damage) {
		t.Fatalf("packets = % X / % X", c.packets[0], c.packets[3])
	}
	for _, i := range []int{1, 2} {
		rep := report.Observers[i]
		if !errors.Is(rep.Err, ErrBufferOverflow) {
			t.Fatalf("observer %d err = %v, want ErrBufferOverflow", rep.ID, rep.Err)
		}
		if rep.Packet != nil {
			t.Fatalf("observer %d report kept packet % X", rep.ID, rep.Packet)
		}
	}
	if w.Entity(2).IsDirty() || w.Entity(4).IsDirty() {
		t.Fatal("flush skipped after overflow")
	}
}

func TestCycleEmitFailureDoesNotStopCycle(t *testing.T) {
	w, r := newScenario(t, ReplicatorOptions{})
	mutateScenario(w)
	c := newCapture()
	c.fail[1] = true

	report, err := r.Cycle(context.Background(), 1, c)
	if err != nil {
		t.Fatal(err)
	}
	if report.Observers[1].Err == nil {
		t.Fatal("emit error not reported")
	}
	if !slices.Equal(c.order, []ObserverID{0, 2, 3}) {
		t.Fatalf("emitted to %v, want [0 2 3]", c.order)
	}
	if report.Dirty != 2 || w.Entity(4).IsDirty() {
		t.Fatal("flush skipped after emit failure")
	}
}

func TestCycleCancelledKeepsDirtyFlags(t *testing.T) {
	for _, workers := range []int{1, 4} {
		w, r := newScenario(t, ReplicatorOptions{Workers: workers})
		mutateScenario(w)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := newCapture()
		if _, err := r.Cycle(ctx, 1, c); !errors.Is(err, context.Canceled) {
			t.Fatalf("workers %d: Cycle = %v, want context.Canceled", workers, err)
		}
		if len(c.order) != 0 {
			t.Fatalf("workers %d: emitted to %v after cancel", workers, c.order)
		}
		if w.Entity(2).Dirty() != DirtyPosition || w.Entity(4).Dirty() != DirtyHealth {
			t.Fatalf("workers %d: dirty flags lost on cancelled cycle", workers)
		}
	}
}

func TestParallelCycleMatchesSequential(t *testing.T) {
	build := func(workers int) (*World, *Replicator) {
		w := NewWorld(IDWidth16.MaxID())
		if err := Seed(w, 500, 3); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 40; i++ {
			w.AddObserver(ObserverID(i), Vector{X: float32(i) * 37})
		}
		r, err := NewReplicator(w, ReplicatorOptions{
			Radius:         30,
			PacketCapacity: 4096,
			IDWidth:        IDWidth16,
			Workers:        workers,
		})
		if err != nil {
			t.Fatal(err)
		}
		return w, r
	}
	seqWorld, seq := build(1)
	parWorld, par := build(8)

	for tick := int64(1); tick <= 5; tick++ {
		for _, w := range []*World{seqWorld, parWorld} {
			w.ForEachEntity(func(e *Entity) {
				if int64(e.ID)%(tick+1) == 0 {
					e.SetHealth(e.Health() - float32(tick))
				}
				if int64(e.ID)%7 == tick {
					e.SetPosition(e.Position().Add(Vector{Y: 1}))
				}
			})
		}
		want := newCapture()
		got := newCapture()
		if _, err := seq.Cycle(context.Background(), tick, want); err != nil {
			t.Fatal(err)
		}
		if _, err := par.Cycle(context.Background(), tick, got); err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(got.order, want.order) {
			t.Fatalf("tick %d: emit order %v, want %v", tick, got.order, want.order)
		}
		for ID, packet := range want.packets {
			if !bytes.Equal(got.packets[ID], packet) {
				t.Fatalf("tick %d observer %d: parallel % X, sequential % X", tick, ID, got.packets[ID], packet)
			}
		}
	}
}

func TestNewReplicatorRejectsWorldWiderThanWire(t *testing.T) {
	w := NewWorld(IDWidth16.MaxID())
	_, err := NewReplicator(w, ReplicatorOptions{Radius: 10, IDWidth: IDWidth8})
	if !errors.Is(err, ErrIDRangeExceeded) {
		t.Fatalf("NewReplicator = %v, want ErrIDRangeExceeded", err)
	}
	if _, err := NewReplicator(w, ReplicatorOptions{Radius: 0, IDWidth: IDWidth16}); err == nil {
		t.Fatal("NewReplicator accepted a zero radius")
	}
}

func TestCycleRecordsHistory(t *testing.T) {
	w, r := newScenario(t, ReplicatorOptions{History: 2})
	for tick := int64(1); tick <= 3; tick++ {
		w.Entity(0).SetHealth(float32(tick))
		if _, err := r.Cycle(context.Background(), tick, nil); err != nil {
			t.Fatal(err)
		}
	}
	var ticks []int64
	r.History().ForEach(func(report *CycleReport) {
		ticks = append(ticks, report.Tick)
	})
	if !slices.Equal(ticks, []int64{2, 3}) {
		t.Fatalf("history ticks = %v, want [2 3]", ticks)
	}
}
