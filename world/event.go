package world

import "aoi/pb"

// ClientEventToUpdate turns a client event into the mutation it requests
// for observer, or nil when the event carries nothing the world acts on.
func ClientEventToUpdate(observer ObserverID, e *pb.ClientEvent) *ObserverMove {
	switch {
	case e.Move != nil:
		return &ObserverMove{
			ID:       observer,
			Position: Vector{X: e.Move.X, Y: e.Move.Y},
			Tick:     e.Tick,
		}
	}
	return nil
}
