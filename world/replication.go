package world

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Transport receives each observer's packet once per cycle. The slice is
// only valid for the duration of the call.
type Transport interface {
	Emit(tick int64, observer ObserverID, packet []byte) error
}

type TransportFunc func(tick int64, observer ObserverID, packet []byte) error

func (f TransportFunc) Emit(tick int64, observer ObserverID, packet []byte) error {
	return f(tick, observer, packet)
}

type ObserverReport struct {
	ID      ObserverID
	Visible []EntityID
	Records int
	// Packet is a copy of what was handed to the transport, nil if nothing was emitted.
	Packet []byte
	Err    error
}

type CycleReport struct {
	Tick      int64
	Observers []ObserverReport
	// Dirty is the number of entities whose flags the flush cleared.
	Dirty int
	Bytes int
}

type ReplicatorOptions struct {
	Radius         float32
	PacketCapacity int
	IDWidth        IDWidth
	// Workers > 1 filters and encodes observers concurrently.
	Workers int
	// CellSize > 0 selects the grid index instead of a linear scan.
	CellSize float32
	History  int
}

type Replicator struct {
	world    *World
	interest Interest
	encoder  Encoder
	radius   float32
	capacity int
	workers  int
	packets  map[ObserverID]*Packet
	history  *CycleHistory
	tracer   trace.Tracer
}

func NewReplicator(w *World, opts ReplicatorOptions) (*Replicator, error) {
	if opts.Radius <= 0 {
		return nil, fmt.Errorf("aoi radius must be positive, got %v", opts.Radius)
	}
	if opts.IDWidth == 0 {
		opts.IDWidth = IDWidth8
	}
	if !opts.IDWidth.Valid() {
		return nil, fmt.Errorf("unsupported id width %d", opts.IDWidth)
	}
	encoder := NewEncoder(opts.IDWidth)
	if w.MaxID() > encoder.MaxID() {
		return nil, fmt.Errorf("world accepts ids up to %d, wire carries %d: %w", w.MaxID(), encoder.MaxID(), ErrIDRangeExceeded)
	}

	var interest Interest = NewLinearScan()
	if opts.CellSize > 0 {
		interest = NewGrid(opts.CellSize)
	}
	if opts.PacketCapacity <= 0 {
		opts.PacketCapacity = DefaultPacketCapacity
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	return &Replicator{
		world:    w,
		interest: interest,
		encoder:  encoder,
		radius:   opts.Radius,
		capacity: opts.PacketCapacity,
		workers:  opts.Workers,
		packets:  make(map[ObserverID]*Packet),
		history:  NewCycleHistory(opts.History),
		tracer:   otel.Tracer("aoi/world"),
	}, nil
}

func (r *Replicator) Encoder() Encoder {
	return r.encoder
}

func (r *Replicator) Radius() float32 {
	return r.radius
}

func (r *Replicator) History() *CycleHistory {
	return r.history
}

// Cycle runs filter and encode for every observer, emits each packet in
// observer order, then clears every entity's dirty flags. Flags are only
// cleared after every observer has been encoded, so processing order never
// hides a change from anyone.
//
// A packet that overflows is not emitted for this tick; the cycle continues.
// If ctx is done before encoding finishes nothing is emitted or flushed.
func (r *Replicator) Cycle(ctx context.Context, tick int64, t Transport) (*CycleReport, error) {
	observers := r.world.Observers()
	ctx, span := r.tracer.Start(ctx, "replication.cycle", trace.WithAttributes(
		attribute.Int64("tick", tick),
		attribute.Int("observers", len(observers)),
	))
	defer span.End()

	r.interest.Index(r.world.Entities())
	r.preparePackets(observers)

	report := &CycleReport{
		Tick:      tick,
		Observers: make([]ObserverReport, len(observers)),
	}
	if err := r.encodeAll(ctx, observers, report.Observers); err != nil {
		span.RecordError(err)
		return nil, err
	}

	for i, o := range observers {
		rep := &report.Observers[i]
		if rep.Err != nil {
			log.Printf("tick %d: observer %d: dropping packet: %v", tick, o.ID, rep.Err)
			span.AddEvent("overflow", trace.WithAttributes(attribute.Int64("observer", int64(o.ID))))
			continue
		}
		packet := r.packets[o.ID]
		if t != nil {
			if err := t.Emit(tick, o.ID, packet.Bytes()); err != nil {
				rep.Err = fmt.Errorf("emit: %w", err)
				log.Printf("tick %d: observer %d: %v", tick, o.ID, rep.Err)
				continue
			}
		}
		rep.Packet = bytes.Clone(packet.Bytes())
		report.Bytes += packet.Len()
	}

	report.Dirty = r.world.Flush()
	r.history.Add(report)

	span.SetAttributes(
		attribute.Int("bytes", report.Bytes),
		attribute.Int("dirty", report.Dirty),
	)
	return report, nil
}

func (r *Replicator) preparePackets(observers []*Observer) {
	live := make(map[ObserverID]struct{}, len(observers))
	for _, o := range observers {
		live[o.ID] = struct{}{}
		if _, ok := r.packets[o.ID]; !ok {
			r.packets[o.ID] = NewPacket(r.capacity)
		}
	}
	for ID := range r.packets {
		if _, ok := live[ID]; !ok {
			delete(r.packets, ID)
		}
	}
}

func (r *Replicator) encodeAll(ctx context.Context, observers []*Observer, reports []ObserverReport) error {
	if r.workers == 1 {
		for i, o := range observers {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.encodeObserver(o, &reports[i])
		}
		return nil
	}

	// Each worker only reads entities and writes its own observer's packet.
	// g.Wait is the barrier that must pass before anything is flushed.
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, o := range observers {
		i, o := i, o
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.encodeObserver(o, &reports[i])
			return nil
		})
	}
	return g.Wait()
}

func (r *Replicator) encodeObserver(o *Observer, rep *ObserverReport) {
	UpdateInterest(o, r.world.Entities(), r.interest, r.radius)

	packet := r.packets[o.ID]
	packet.Reset()
	rep.ID = o.ID
	rep.Visible = append([]EntityID(nil), o.observed...)

	entities := r.world.Entities()
	for _, i := range o.indices {
		e := entities[i]
		if !e.IsDirty() {
			continue
		}
		if err := r.encoder.Encode(packet, e); err != nil {
			// Never emit a packet that lost records.
			packet.Reset()
			rep.Err = err
			return
		}
	}
	rep.Records = packet.Records()
}
