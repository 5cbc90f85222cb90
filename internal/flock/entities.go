// Package flock implements the flocking update pipeline: seek, flee, and
// align kernels driven per block of entities, dispatched through the
// worker pool and consulting the spatial hash for neighbours.
package flock

// Component bits.
const (
	CompSpatial uint8 = 1 << iota
	CompBoid
	CompPlane
)

// Behaviour bits.
const (
	BehaviorSeek uint8 = 1 << iota
	BehaviorFlee
	BehaviorAlign
	BehaviorCoplanar
)

// behaviorMask is the set of behaviours that make an entity eligible for a
// step: it must carry at least one of these alongside CompSpatial|CompBoid.
const behaviorMask = BehaviorSeek | BehaviorFlee | BehaviorAlign

// Entities is the fixed-N, struct-of-arrays entity store: parallel arrays,
// not an array of records, so the inner loops scan contiguous x/y/z rather
// than striding through records.
type Entities struct {
	N int

	Components []uint8
	Behaviours []uint8

	PosX, PosY, PosZ, PosW []float32
	VelX, VelY, VelZ       []float32

	// PrevVelX/Y/Z hold the previous frame's velocities, copied at the top
	// of every step. Alignment reads neighbours from these so the lookup
	// never races with the in-place velocity writes of another block.
	PrevVelX, PrevVelY, PrevVelZ []float32
}

// New allocates an Entities store for exactly n entities. Count is fixed
// for the store's lifetime; there is no resize.
func New(n int) *Entities {
	return &Entities{
		N:          n,
		Components: make([]uint8, n),
		Behaviours: make([]uint8, n),
		PosX:       make([]float32, n),
		PosY:       make([]float32, n),
		PosZ:       make([]float32, n),
		PosW:       make([]float32, n),
		VelX:       make([]float32, n),
		VelY:       make([]float32, n),
		VelZ:       make([]float32, n),
		PrevVelX:   make([]float32, n),
		PrevVelY:   make([]float32, n),
		PrevVelZ:   make([]float32, n),
	}
}

// Eligible reports whether entity i carries SPATIAL, BOID, and at least one
// of SEEK/FLEE/ALIGN. Only eligible entities are touched by a step.
func (e *Entities) Eligible(i int) bool {
	const required = CompSpatial | CompBoid
	return e.Components[i]&required == required && e.Behaviours[i]&behaviorMask != 0
}
