package main

import (
	"context"
	"log"
	"os"

	"aoi/client"
	"aoi/server"
	"aoi/utils"
	"aoi/world"
)

// Without arguments this replays the reference scenario once and prints every
// observer's packet. "server [config.toml]" runs the websocket server instead
// and "watch [url]" follows a running server as one observer.
func main() {
	log.SetFlags(log.LstdFlags | log.Llongfile)

	if len(os.Args) > 1 && os.Args[1] == "server" {
		if err := server.Run(os.Args[1:]); err != nil {
			log.Fatal(err)
		}
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "watch" {
		url := "ws://localhost:4242"
		if len(os.Args) > 2 {
			url = os.Args[2]
		}
		if err := watch(context.Background(), url); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := utils.LoadConfig("")
	if err != nil {
		log.Fatal(err)
	}
	if err := demo(context.Background(), cfg); err != nil {
		log.Fatal(err)
	}
}

func demo(ctx context.Context, cfg *utils.Config) error {
	w := world.NewWorld(world.IDWidth(cfg.Replication.IDWidth).MaxID())
	if err := world.Seed(w, cfg.World.Entities, cfg.World.Spacing); err != nil {
		return err
	}
	for i := 0; i < cfg.World.Observers; i++ {
		position := world.Vector{X: float32(i) * cfg.World.ObserverSpacing}
		if _, err := w.AddObserver(world.ObserverID(i), position); err != nil {
			return err
		}
	}

	replicator, err := server.NewReplicator(cfg, w)
	if err != nil {
		return err
	}

	updates := world.NewUpdateBuffer()
	updates.SetPosition(&world.PositionUpdate{ID: 2, Position: world.Vector{X: 22}, Tick: 1})
	updates.SetHealth(&world.HealthUpdate{ID: 4, Health: 80, Tick: 1})
	updates.Apply(w)

	report, err := replicator.Cycle(ctx, 1, nil)
	if err != nil {
		return err
	}
	return world.Dump(os.Stdout, report)
}

func watch(ctx context.Context, url string) error {
	c, err := client.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer c.Close()
	log.Printf("observer %d, session %s, radius %v", c.ObserverID(), c.Hello.Session, c.Hello.Radius)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := c.WriteMessages(ctx); err != nil && ctx.Err() == nil {
			log.Println(err)
		}
	}()

	return c.ReadMessages(ctx, func(tick int64, records int) {
		for _, e := range c.Replica.Entities() {
			if e.Tick == tick {
				log.Printf("tick %d: entity %d at (%0.2f,%0.2f) health %0.0f", tick, e.ID, e.Position.X, e.Position.Y, e.Health)
			}
		}
	})
}
