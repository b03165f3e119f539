package world

type PositionUpdate struct {
	ID       EntityID
	Position Vector
	Tick     int64
}

type HealthUpdate struct {
	ID     EntityID
	Health float32
	Tick   int64
}

type ObserverMove struct {
	ID       ObserverID
	Position Vector
	Tick     int64
}
