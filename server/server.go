package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"net/http/pprof"

	"aoi/pb"
	"aoi/telemetry"
	"aoi/utils"
	"aoi/world"

	"github.com/dustin/go-humanize"
	"github.com/segmentio/ksuid"
	"nhooyr.io/websocket"
)

type subscriber struct {
	Messages   chan []byte
	ObserverID world.ObserverID
	Session    string
	c          *websocket.Conn
}

type event struct {
	*pb.ClientEvent
	*subscriber
}

// Server hands every cycle's packets to connected websocket observers. The
// world is only touched while holding worldMu: the tick loop holds it for a
// whole simulate, apply and replicate pass, so connects, disconnects and
// client moves always land between cycles. Client moves and simulation
// changes are both queued in updates and reach the world through Apply.
type Server struct {
	subscribers map[world.ObserverID]*subscriber
	mu          sync.RWMutex
	serveMux    http.ServeMux
	events      chan *event
	origins     []string
	tickRate    time.Duration

	worldMu    sync.Mutex
	world      *world.World
	replicator *world.Replicator
	simulation world.Simulation
	updates    *world.UpdateBuffer
	tick       int64
	sentBytes  uint64
}

func NewServer(cfg *utils.Config, w *world.World, replicator *world.Replicator, simulation world.Simulation) *Server {
	s := &Server{
		subscribers: make(map[world.ObserverID]*subscriber),
		events:      make(chan *event, 1024),
		origins:     cfg.Server.Origins,
		tickRate:    time.Duration(cfg.Server.TickMS) * time.Millisecond,
		world:       w,
		replicator:  replicator,
		simulation:  simulation,
		updates:     world.NewUpdateBuffer(),
	}

	s.serveMux.HandleFunc("/", s.onConnection)
	s.serveMux.HandleFunc("/debug/replication", s.onDebugReplication)
	s.serveMux.HandleFunc("/debug/pprof/", pprof.Index)
	s.serveMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	s.serveMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	s.serveMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	s.serveMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return s
}

// Loop ticks until ctx is done.
func (s *Server) Loop(ctx context.Context) {
	tick := time.NewTicker(s.tickRate)
	defer tick.Stop()
	stats := time.NewTicker(10 * time.Second)
	defer stats.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stats.C:
			s.worldMu.Lock()
			log.Printf("tick %d: %d observers, %s sent", s.tick, len(s.world.Observers()), humanize.Bytes(s.sentBytes))
			s.worldMu.Unlock()
		case <-tick.C:
			if err := s.onTick(ctx); err != nil {
				log.Println(err)
			}
		}
	}
}

func (s *Server) onEvent(e *event) {
	if move := world.ClientEventToUpdate(e.subscriber.ObserverID, e.ClientEvent); move != nil {
		s.updates.MoveObserver(move)
	}
}

func (s *Server) onTick(ctx context.Context) error {
	for len(s.events) > 0 {
		s.onEvent(<-s.events)
	}

	s.worldMu.Lock()
	defer s.worldMu.Unlock()

	s.tick++
	if s.simulation != nil {
		s.simulation.Step(s.world, s.updates, s.tick)
	}
	s.updates.Apply(s.world)
	report, err := s.replicator.Cycle(ctx, s.tick, world.TransportFunc(s.emit))
	if err != nil {
		return fmt.Errorf("tick %d: %w", s.tick, err)
	}
	s.sentBytes += uint64(report.Bytes)
	return nil
}

// emit runs inside the cycle. Empty packets are not worth a frame.
func (s *Server) emit(tick int64, observer world.ObserverID, packet []byte) error {
	if len(packet) == 0 {
		return nil
	}
	s.mu.RLock()
	sub, ok := s.subscribers[observer]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	msg := (&pb.ServerEvent{
		Tick:   tick,
		Packet: packet,
	}).Marshal(nil)
	select {
	case sub.Messages <- msg:
		return nil
	default:
		sub.c.Close(websocket.StatusPolicyViolation, "write would block")
		return errors.New("subscriber queue full")
	}
}

func (s *Server) join(c *websocket.Conn) (*subscriber, error) {
	s.worldMu.Lock()
	defer s.worldMu.Unlock()

	// Observer IDs are recycled, lowest free first, so the wire ID range
	// bounds concurrent connections rather than connections ever made.
	ID := world.ObserverID(0)
	for s.world.Observer(ID) != nil {
		ID++
	}
	observer, err := s.world.AddObserver(ID, world.Vector{})
	if err != nil {
		return nil, err
	}

	sub := &subscriber{
		Messages:   make(chan []byte, 1024),
		ObserverID: observer.ID,
		Session:    ksuid.New().String(),
		c:          c,
	}
	s.mu.Lock()
	s.subscribers[sub.ObserverID] = sub
	s.mu.Unlock()
	return sub, nil
}

func (s *Server) leave(sub *subscriber) {
	s.mu.Lock()
	delete(s.subscribers, sub.ObserverID)
	s.mu.Unlock()

	s.worldMu.Lock()
	s.world.RemoveObserver(sub.ObserverID)
	s.worldMu.Unlock()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.serveMux.ServeHTTP(w, r)
}

func (s *Server) onDebugReplication(w http.ResponseWriter, r *http.Request) {
	report := s.replicator.History().Current()
	if report == nil {
		http.Error(w, "no cycle yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := world.Dump(w, report); err != nil {
		log.Println(err)
	}
}

func (s *Server) onConnection(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		log.Println(err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "")

	if err := s.handleConnection(r.Context(), c); err != nil {
		log.Println(err)
		return
	}
}

func (s *Server) handleConnection(ctx context.Context, c *websocket.Conn) error {
	sub, err := s.join(c)
	if err != nil {
		c.Close(websocket.StatusPolicyViolation, "observer capacity exhausted")
		return fmt.Errorf("join: %w", err)
	}
	defer s.leave(sub)
	log.Printf("observer %d connected, session %s", sub.ObserverID, sub.Session)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hello := &pb.ServerEvent{
		Tick: s.currentTick(),
		Hello: &pb.Hello{
			ObserverId: uint32(sub.ObserverID),
			Session:    sub.Session,
			Radius:     s.replicator.Radius(),
			IdWidth:    uint32(s.replicator.Encoder().IDWidth),
		},
	}
	if err := c.Write(ctx, websocket.MessageBinary, hello.Marshal(nil)); err != nil {
		return err
	}

	go func() {
		defer cancel()
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				log.Printf("observer %d: %v", sub.ObserverID, err)
				return
			}
			if typ != websocket.MessageBinary {
				continue
			}
			var clientEvent pb.ClientEvent
			if err := clientEvent.Unmarshal(data); err != nil {
				log.Printf("observer %d: %v", sub.ObserverID, err)
				continue
			}
			select {
			case s.events <- &event{&clientEvent, sub}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case msg := <-sub.Messages:
			if err := c.Write(ctx, websocket.MessageBinary, msg); err != nil {
				return err
			}
		case <-ctx.Done():
			log.Printf("observer %d disconnected", sub.ObserverID)
			return nil
		}
	}
}

func (s *Server) currentTick() int64 {
	s.worldMu.Lock()
	defer s.worldMu.Unlock()
	return s.tick
}

// NewReplicator builds a replicator for w from the [replication] section.
func NewReplicator(cfg *utils.Config, w *world.World) (*world.Replicator, error) {
	return world.NewReplicator(w, world.ReplicatorOptions{
		Radius:         cfg.Replication.Radius,
		PacketCapacity: cfg.Replication.BufferCapacity,
		IDWidth:        world.IDWidth(cfg.Replication.IDWidth),
		Workers:        cfg.Replication.Workers,
		CellSize:       cfg.Replication.CellSize,
		History:        cfg.Replication.History,
	})
}

// Build assembles a seeded world, its replicator and the orbit simulation from cfg.
func Build(cfg *utils.Config) (*Server, error) {
	w := world.NewWorld(world.IDWidth(cfg.Replication.IDWidth).MaxID())
	if err := world.Seed(w, cfg.World.Entities, cfg.World.Spacing); err != nil {
		return nil, err
	}
	replicator, err := NewReplicator(cfg, w)
	if err != nil {
		return nil, err
	}
	simulation := world.NewOrbit(cfg.World.OrbitRadius, cfg.World.OrbitPeriod, cfg.World.DrainEvery)
	return NewServer(cfg, w, replicator, simulation), nil
}

// Run serves until interrupted. args[1], if present, names a TOML config file.
func Run(args []string) error {
	log.SetFlags(log.LstdFlags | log.Llongfile)
	configFile := ""
	if len(args) > 1 {
		configFile = args[1]
	}
	cfg, err := utils.LoadConfig(configFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "aoi-replication")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Println(err)
		}
	}()

	server, err := Build(cfg)
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return err
	}
	log.Printf("Listening on http://%v", l.Addr())
	s := &http.Server{
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go server.Loop(ctx)

	errc := make(chan error, 1)
	go func() {
		errc <- s.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		log.Println(err)
	case sig := <-sigs:
		log.Printf("terminating: %v", sig)
	}

	cancel()
	if err := s.Shutdown(context.Background()); err != nil {
		return err
	}
	return nil
}
