package world

type Vector struct {
	X, Y float32
}

// DistanceSquared is computed in float32 so the AOI boundary matches the wire precision.
func (v Vector) DistanceSquared(o Vector) float32 {
	dx := v.X - o.X
	dy := v.Y - o.Y
	return dx*dx + dy*dy
}

func (v Vector) Add(o Vector) Vector {
	return Vector{
		X: v.X + o.X,
		Y: v.Y + o.Y,
	}
}
