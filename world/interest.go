package world

import (
	"log"
	"math"
	"slices"
)

// Interest answers "which entities lie within radius of center". Index is
// called once per cycle before any Query. Query appends store indices to dst
// in ascending order.
type Interest interface {
	Index(entities []*Entity)
	Query(center Vector, radius float32, dst []int) []int
}

func inRange(center, position Vector, radius float32) bool {
	// Inclusive: an entity exactly on the radius is visible.
	return center.DistanceSquared(position) <= radius*radius
}

// UpdateInterest recomputes the observer's visible set from scratch. Indices
// the interest returns that name no entity are logged and skipped.
func UpdateInterest(o *Observer, entities []*Entity, interest Interest, radius float32) {
	o.indices = interest.Query(o.Position, radius, o.indices[:0])
	o.observed = o.observed[:0]
	valid := o.indices[:0]
	for _, i := range o.indices {
		if i < 0 || i >= len(entities) {
			log.Printf("observer %d: index %d: %v", o.ID, i, ErrUnknownEntity)
			continue
		}
		valid = append(valid, i)
		o.observed = append(o.observed, entities[i].ID)
	}
	o.indices = valid
}

// LinearScan checks every entity against every observer.
type LinearScan struct {
	entities []*Entity
}

func NewLinearScan() *LinearScan {
	return &LinearScan{}
}

func (l *LinearScan) Index(entities []*Entity) {
	l.entities = entities
}

func (l *LinearScan) Query(center Vector, radius float32, dst []int) []int {
	for i, e := range l.entities {
		if inRange(center, e.position, radius) {
			dst = append(dst, i)
		}
	}
	return dst
}

type cellKey struct {
	X, Y int
}

// Grid buckets entities into square cells so a query only tests the cells
// overlapping the interest circle's bounding square.
type Grid struct {
	cellSize    float32
	invCellSize float32
	entities    []*Entity
	cells       map[cellKey][]int
}

const DefaultCellSize = 32

func NewGrid(cellSize float32) *Grid {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &Grid{
		cellSize:    cellSize,
		invCellSize: 1 / cellSize,
		cells:       make(map[cellKey][]int),
	}
}

// maxCell bounds cell coordinates so padding and span arithmetic cannot
// overflow. Clamping is monotonic, so anything past the bound shares the
// edge cell with the query squares that reach it.
const maxCell = 1 << 40

func (g *Grid) cellOf(v Vector) cellKey {
	return cellKey{
		X: clampCell(math.Floor(float64(v.X * g.invCellSize))),
		Y: clampCell(math.Floor(float64(v.Y * g.invCellSize))),
	}
}

func clampCell(f float64) int {
	switch {
	case math.IsNaN(f):
		return 0
	case f > maxCell:
		return maxCell
	case f < -maxCell:
		return -maxCell
	}
	return int(f)
}

func (g *Grid) Index(entities []*Entity) {
	for key, bucket := range g.cells {
		g.cells[key] = bucket[:0]
	}
	g.entities = entities
	for i, e := range entities {
		key := g.cellOf(e.position)
		g.cells[key] = append(g.cells[key], i)
	}
	// Cells that emptied since the last index are dropped so the map tracks
	// occupied cells only.
	for key, bucket := range g.cells {
		if len(bucket) == 0 {
			delete(g.cells, key)
		}
	}
}

func (g *Grid) Query(center Vector, radius float32, dst []int) []int {
	start := len(dst)
	lo := g.cellOf(Vector{X: center.X - radius, Y: center.Y - radius})
	hi := g.cellOf(Vector{X: center.X + radius, Y: center.Y + radius})
	// Pad by one cell to absorb float32 rounding at cell edges.
	lo.X, lo.Y = lo.X-1, lo.Y-1
	hi.X, hi.Y = hi.X+1, hi.Y+1

	width, height := hi.X-lo.X+1, hi.Y-lo.Y+1
	if width > len(g.cells) || height > len(g.cells) || width*height > len(g.cells) {
		for key, bucket := range g.cells {
			if key.X < lo.X || key.X > hi.X || key.Y < lo.Y || key.Y > hi.Y {
				continue
			}
			dst = g.collect(center, radius, bucket, dst)
		}
	} else {
		for y := lo.Y; y <= hi.Y; y++ {
			for x := lo.X; x <= hi.X; x++ {
				dst = g.collect(center, radius, g.cells[cellKey{X: x, Y: y}], dst)
			}
		}
	}
	slices.Sort(dst[start:])
	return dst
}

func (g *Grid) collect(center Vector, radius float32, bucket []int, dst []int) []int {
	for _, i := range bucket {
		if inRange(center, g.entities[i].position, radius) {
			dst = append(dst, i)
		}
	}
	return dst
}
