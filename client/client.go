package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"aoi/pb"
	"aoi/world"

	"nhooyr.io/websocket"
)

// Client is a headless observer: it follows one websocket connection,
// keeps a Replica of what the server has replicated to it and sends moves.
type Client struct {
	Hello   *pb.Hello
	Replica *Replica

	c            *websocket.Conn
	clientEvents chan *pb.ClientEvent
}

// Dial connects to url and waits for the server's hello.
func Dial(ctx context.Context, url string) (*Client, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	serverEvent, err := readServerEvent(ctx, c)
	if err != nil {
		c.Close(websocket.StatusInternalError, "")
		return nil, err
	}
	if serverEvent.Hello == nil {
		c.Close(websocket.StatusProtocolError, "expected hello")
		return nil, errors.New("first server event is not a hello")
	}

	width := world.IDWidth(serverEvent.Hello.IdWidth)
	if !width.Valid() {
		c.Close(websocket.StatusProtocolError, "bad id width")
		return nil, fmt.Errorf("server announced id width %d", width)
	}
	return &Client{
		Hello:        serverEvent.Hello,
		Replica:      NewReplica(width),
		c:            c,
		clientEvents: make(chan *pb.ClientEvent, 1024),
	}, nil
}

func (c *Client) ObserverID() world.ObserverID {
	return world.ObserverID(c.Hello.ObserverId)
}

// Move queues a position change for the observer. It is applied by the
// server at the start of its next tick.
func (c *Client) Move(tick int64, position world.Vector) {
	c.clientEvents <- &pb.ClientEvent{
		Tick: tick,
		Move: &pb.Move{X: position.X, Y: position.Y},
	}
}

// ReadMessages applies every packet to the replica and reports it to
// onPacket, if set, until the connection or ctx ends.
func (c *Client) ReadMessages(ctx context.Context, onPacket func(tick int64, records int)) error {
	for {
		serverEvent, err := readServerEvent(ctx, c.c)
		if err != nil {
			return err
		}
		if serverEvent.Packet == nil {
			continue
		}
		records, err := c.Replica.Apply(serverEvent.Tick, serverEvent.Packet)
		if err != nil {
			log.Printf("observer %d: %v", c.ObserverID(), err)
		}
		if onPacket != nil {
			onPacket(serverEvent.Tick, records)
		}
	}
}

// WriteMessages sends queued client events until ctx is done.
func (c *Client) WriteMessages(ctx context.Context) error {
	for {
		select {
		case event := <-c.clientEvents:
			if err := c.c.Write(ctx, websocket.MessageBinary, event.Marshal(nil)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) Close() error {
	return c.c.Close(websocket.StatusNormalClosure, "")
}

func readServerEvent(ctx context.Context, c *websocket.Conn) (*pb.ServerEvent, error) {
	for {
		messageType, reader, err := c.Reader(ctx)
		if err != nil {
			return nil, err
		}
		b, err := io.ReadAll(reader)
		if err != nil {
			return nil, err
		}
		if messageType != websocket.MessageBinary || len(b) == 0 {
			continue
		}

		var serverEvent pb.ServerEvent
		if err := serverEvent.Unmarshal(b); err != nil {
			return nil, err
		}
		return &serverEvent, nil
	}
}
