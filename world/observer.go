package world

type ObserverID uint32

type Observer struct {
	ID       ObserverID
	Position Vector
	observed []EntityID
	indices  []int
}

func NewObserver(ID ObserverID, position Vector) *Observer {
	return &Observer{
		ID:       ID,
		Position: position,
	}
}

// Observed returns the entities inside the interest radius as of the last cycle.
// The slice is reused by the next cycle.
func (o *Observer) Observed() []EntityID {
	return o.observed
}
