package flock

import (
	"testing"
	"time"

	"github.com/brynm0/boidnode/config"
	"github.com/brynm0/boidnode/internal/arena"
	"github.com/brynm0/boidnode/internal/spatial"
	"github.com/stretchr/testify/require"
)

func newPairHash(t *testing.T, cellSize float32, p0, p1 [3]float32) *spatial.Hash {
	t.Helper()
	h, err := spatial.New(cellSize, config.IndexLinear, 2, nil, 1)
	require.NoError(t, err)
	x := []float32{p0[0], p1[0]}
	y := []float32{p0[1], p1[1]}
	z := []float32{p0[2], p1[2]}
	require.NoError(t, h.Rebuild(x, y, z))
	return h
}

func newSchedArena(t *testing.T) *arena.Arena {
	t.Helper()
	a, err := arena.New(1 << 16)
	require.NoError(t, err)
	return a
}

// Two boids, pure seek: they move toward each other symmetrically.
func TestSeekMovesBoidsTogether(t *testing.T) {
	ents := New(2)
	for i := 0; i < 2; i++ {
		ents.Components[i] = CompSpatial | CompBoid
		ents.Behaviours[i] = BehaviorSeek
	}
	ents.PosX[1] = 1

	h := newPairHash(t, 0.5, [3]float32{0, 0, 0}, [3]float32{1, 0, 0})
	schedArena := newSchedArena(t)

	cfg := StepConfig{
		RSeek: 10, RFlee: 0, RAlign: 0,
		VMin: 0, VMax: 1, AMax: 1, Dt: 1,
		Workers: 1, TasksPerWorker: 1, MinEntitiesPerBlock: 1,
		WaitTimeout: time.Second,
	}

	require.NoError(t, Step(ents, h, nil, schedArena, cfg))

	require.Greater(t, ents.VelX[0], float32(0))
	require.Less(t, ents.VelX[1], float32(0))
	require.InDelta(t, float64(ents.VelX[0]), float64(-ents.VelX[1]), 1e-6)
}

// Separation dominates inside the flee radius.
func TestFleeSeparatesBoidsInsideRadius(t *testing.T) {
	ents := New(2)
	for i := 0; i < 2; i++ {
		ents.Components[i] = CompSpatial | CompBoid
		ents.Behaviours[i] = BehaviorFlee
	}
	ents.PosX[1] = 0.1

	h := newPairHash(t, 0.5, [3]float32{0, 0, 0}, [3]float32{0.1, 0, 0})
	schedArena := newSchedArena(t)

	cfg := StepConfig{
		RSeek: 0, RFlee: 1, RAlign: 0,
		VMin: 0, VMax: 100, AMax: 100, Dt: 1,
		Workers: 1, TasksPerWorker: 1, MinEntitiesPerBlock: 1,
		WaitTimeout: time.Second,
	}

	require.NoError(t, Step(ents, h, nil, schedArena, cfg))

	require.Less(t, ents.VelX[0], float32(0))
	require.Less(t, ents.PosX[0], float32(0))
}

// Alignment copies neighbour velocity.
func TestAlignCopiesNeighbourVelocity(t *testing.T) {
	ents := New(2)
	for i := 0; i < 2; i++ {
		ents.Components[i] = CompSpatial | CompBoid
		ents.Behaviours[i] = BehaviorAlign
	}
	ents.PosX[1] = 0.1
	ents.VelX[1] = 1

	h := newPairHash(t, 0.5, [3]float32{0, 0, 0}, [3]float32{0.1, 0, 0})
	schedArena := newSchedArena(t)

	cfg := StepConfig{
		RSeek: 0, RFlee: 0, RAlign: 10,
		VMin: 0, VMax: 100, AMax: 100, Dt: 1,
		Workers: 1, TasksPerWorker: 1, MinEntitiesPerBlock: 1,
		WaitTimeout: time.Second,
	}

	require.NoError(t, Step(ents, h, nil, schedArena, cfg))

	require.Greater(t, ents.VelX[0], float32(0))
}

// The per-entity result is invariant under repartitioning the entity range
// across blocks.
func TestBlockIndependenceUnderRepartition(t *testing.T) {
	const n = 64
	ents := New(n)
	x, y, z := make([]float32, n), make([]float32, n), make([]float32, n)
	for i := 0; i < n; i++ {
		ents.Components[i] = CompSpatial | CompBoid
		ents.Behaviours[i] = BehaviorSeek | BehaviorFlee | BehaviorAlign
		px := float32(i%8) * 0.1
		py := float32(i/8) * 0.1
		ents.PosX[i], ents.PosY[i] = px, py
		x[i], y[i], z[i] = px, py, 0
		ents.VelX[i] = float32(i) * 0.01
	}

	cfg := StepConfig{
		RSeek: 0.5, RFlee: 0.3, RAlign: 0.4,
		VMin: 0.01, VMax: 2, AMax: 2, Dt: 0.1,
		WaitTimeout: time.Second,
	}

	run := func(workers, tasksPerWorker, minPerBlock int) (velX, posX []float32) {
		e := New(n)
		copy(e.Components, ents.Components)
		copy(e.Behaviours, ents.Behaviours)
		copy(e.PosX, ents.PosX)
		copy(e.PosY, ents.PosY)
		copy(e.VelX, ents.VelX)

		h, err := spatial.New(0.5, config.IndexLinear, n, nil, 1)
		require.NoError(t, err)
		require.NoError(t, h.Rebuild(x, y, z))

		c := cfg
		c.Workers, c.TasksPerWorker, c.MinEntitiesPerBlock = workers, tasksPerWorker, minPerBlock

		schedArena := newSchedArena(t)
		require.NoError(t, Step(e, h, nil, schedArena, c))
		return e.VelX, e.PosX
	}

	velA, posA := run(1, 1, n)
	velB, posB := run(1, 4, 4)
	velC, posC := run(1, 16, 1)

	for i := 0; i < n; i++ {
		require.InDeltaf(t, float64(velA[i]), float64(velB[i]), 1e-4, "entity %d velocity diverged under repartition", i)
		require.InDeltaf(t, float64(velA[i]), float64(velC[i]), 1e-4, "entity %d velocity diverged under repartition", i)
		require.InDeltaf(t, float64(posA[i]), float64(posB[i]), 1e-4, "entity %d position diverged under repartition", i)
		require.InDeltaf(t, float64(posA[i]), float64(posC[i]), 1e-4, "entity %d position diverged under repartition", i)
	}
}

// Stepping with zero BOID-flagged entities is a no-op.
func TestEmptyBoidSetIsNoop(t *testing.T) {
	ents := New(4)
	h, err := spatial.New(0.5, config.IndexLinear, 4, nil, 1)
	require.NoError(t, err)
	require.NoError(t, h.Rebuild(make([]float32, 4), make([]float32, 4), make([]float32, 4)))

	schedArena := newSchedArena(t)
	cfg := StepConfig{RSeek: 1, VMin: 0, VMax: 1, AMax: 1, Dt: 1, WaitTimeout: time.Second}
	require.NoError(t, Step(ents, h, nil, schedArena, cfg))

	for i := range ents.VelX {
		require.Zero(t, ents.VelX[i])
		require.Zero(t, ents.PosX[i])
	}
}

func TestEligibleRequiresSpatialBoidAndABehaviour(t *testing.T) {
	ents := New(1)
	require.False(t, ents.Eligible(0))

	ents.Components[0] = CompSpatial | CompBoid
	require.False(t, ents.Eligible(0), "no behaviour bits set")

	ents.Behaviours[0] = BehaviorCoplanar
	require.False(t, ents.Eligible(0), "coplanar alone is not a flocking behaviour")

	ents.Behaviours[0] = BehaviorSeek
	require.True(t, ents.Eligible(0))
}
