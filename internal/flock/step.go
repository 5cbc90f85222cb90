package flock

import (
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/brynm0/boidnode/config"
	"github.com/brynm0/boidnode/internal/arena"
	"github.com/brynm0/boidnode/internal/block"
	"github.com/brynm0/boidnode/internal/pool"
	"github.com/brynm0/boidnode/internal/spatial"
)

// Stats accumulates counters across every block of one Step call, for the
// diagnostics snapshot's mean-neighbours-per-entity field. Safe to share
// across concurrently running blocks: both fields are touched only through
// atomic adds.
type Stats struct {
	Eligible  atomic.Int64
	Neighbors atomic.Int64
}

// MeanNeighbors returns the mean neighbour count per eligible entity
// observed during the Step call that populated s, or 0 if none were
// eligible.
func (s *Stats) MeanNeighbors() float64 {
	n := s.Eligible.Load()
	if n == 0 {
		return 0
	}
	return float64(s.Neighbors.Load()) / float64(n)
}

// epsilon guards the zero-length-vector and zero-distance edge cases: no
// self-pair, no divide-by-zero weight, no renormalizing a vector with no
// direction.
const epsilon = 1e-9

// BlockDescriptorBytes is the per-block accounting unit reserved from the
// scheduling arena, so the block-descriptor array always fits within the
// arena's planned capacity. The descriptors themselves are plain
// block.Range values; the reservation keeps the arena's capacity planning
// honest about how much of it a step's bookkeeping consumes.
const BlockDescriptorBytes = 16

// StepConfig is everything one Step call needs: the kinematic and
// behaviour-radius bounds from config.Config, plus dt and the optional
// attractor point.
type StepConfig struct {
	RSeek, RFlee, RAlign float32
	VMin, VMax, AMax     float32
	Dt                   float32

	// SeekTarget, when non-nil, is an explicit attractor point the seek
	// accumulator also pulls toward, in addition to cohesion with
	// neighbours. Nil means pure cohesion.
	SeekTarget *[4]float32

	Workers             int
	TasksPerWorker      int
	MinEntitiesPerBlock int
	WaitTimeout         time.Duration

	// Stats, when non-nil, is updated with eligible-entity and
	// neighbour-count totals for the diagnostics snapshot.
	Stats *Stats
}

// ConfigFrom builds a StepConfig from the simulation's runtime
// configuration, dt for this tick, and an optional attractor.
func ConfigFrom(cfg config.Config, dt float32, seekTarget *[4]float32) StepConfig {
	workers := cfg.WorkerCount
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	tasksPerWorker := cfg.TasksPerWorker
	if tasksPerWorker < 1 {
		tasksPerWorker = 12
	}
	minPerBlock := cfg.MinEntitiesPerBlock
	if minPerBlock < 1 {
		minPerBlock = 48
	}
	return StepConfig{
		RSeek: cfg.RSeek, RFlee: cfg.RFlee, RAlign: cfg.RAlign,
		VMin: cfg.VMin, VMax: cfg.VMax, AMax: cfg.AMax,
		Dt:                  dt,
		SeekTarget:          seekTarget,
		Workers:             workers,
		TasksPerWorker:      tasksPerWorker,
		MinEntitiesPerBlock: minPerBlock,
		WaitTimeout:         5 * time.Second,
	}
}

func maxf(a, b, c float32) float32 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

// ScratchBytes is the worker scratch an N-entity velocity block needs: one
// uint32 id buffer plus three float32 neighbour-position buffers, each
// rounded up to a cache line.
func ScratchBytes(n int) int {
	return n*16 + 4*arena.CacheLine
}

// Step runs one simulation tick over ents: partition [0, N) into
// independent blocks, dispatch each through p (or run inline if p is nil,
// for tests and small N), and integrate in two phases. The velocity phase
// reads neighbour positions from the hash's frozen rebuild-time snapshot
// and neighbour velocities from the previous-frame copy, never the live
// arrays; the position phase runs only after every velocity block has
// retired, so no block can observe a neighbour that already moved this
// tick. schedArena is reset at the start of every call.
func Step(ents *Entities, hash *spatial.Hash, p *pool.Pool, schedArena *arena.Arena, cfg StepConfig) error {
	n := ents.N
	if n == 0 {
		return nil
	}

	schedArena.Reset()
	ranges := block.Plan(n, cfg.Workers, cfg.TasksPerWorker, cfg.MinEntitiesPerBlock)
	if _, err := schedArena.Allocate(len(ranges) * BlockDescriptorBytes); err != nil {
		return fmt.Errorf("flock: scheduling arena too small for %d blocks: %w", len(ranges), err)
	}

	// freeze the previous frame's velocities: alignment in every block
	// reads these, so results do not depend on block write order
	copy(ents.PrevVelX, ents.VelX)
	copy(ents.PrevVelY, ents.VelY)
	copy(ents.PrevVelZ, ents.VelZ)

	if p == nil {
		scratch, err := arena.New(ScratchBytes(n))
		if err != nil {
			return fmt.Errorf("flock: inline scratch arena: %w", err)
		}
		for _, r := range ranges {
			scratch.Reset()
			if err := velocityBlock(ents, hash, r, cfg, scratch); err != nil {
				return err
			}
		}
		for _, r := range ranges {
			advanceBlock(ents, r, cfg)
		}
		return nil
	}

	if err := dispatch(p, ranges, cfg.WaitTimeout, func(r block.Range, scratch *arena.Arena) error {
		return velocityBlock(ents, hash, r, cfg, scratch)
	}); err != nil {
		return err
	}
	return dispatch(p, ranges, cfg.WaitTimeout, func(r block.Range, _ *arena.Arena) error {
		advanceBlock(ents, r, cfg)
		return nil
	})
}

// dispatch fans one phase's blocks out to the pool and drains both the
// completion wait and the per-block errors before returning.
func dispatch(p *pool.Pool, ranges []block.Range, timeout time.Duration, fn func(block.Range, *arena.Arena) error) error {
	errs := make(chan error, len(ranges))
	for _, r := range ranges {
		r := r
		if err := p.AddWork(func(_ any, scratch *arena.Arena) {
			errs <- fn(r, scratch)
		}, nil); err != nil {
			return fmt.Errorf("flock: dispatch: %w", err)
		}
	}
	if err := p.WaitForCompletion(timeout); err != nil {
		return err
	}
	for range ranges {
		if err := <-errs; err != nil {
			return err
		}
	}
	return nil
}

// velocityBlock runs the neighbour query, force accumulation, and velocity
// integration for one block. Neighbour positions come from the hash's
// rebuild-time snapshot (returned by QueryInto) and neighbour velocities
// from PrevVel, so the only live arrays touched are this block's own
// velocity slots.
func velocityBlock(ents *Entities, hash *spatial.Hash, r block.Range, cfg StepConfig, scratch *arena.Arena) error {
	neighbors, err := scratch.AllocateUint32(ents.N)
	if err != nil {
		return fmt.Errorf("flock: neighbour scratch: %w", err)
	}
	nbrX, err := scratch.AllocateFloat32(ents.N)
	if err != nil {
		return fmt.Errorf("flock: neighbour scratch: %w", err)
	}
	nbrY, err := scratch.AllocateFloat32(ents.N)
	if err != nil {
		return fmt.Errorf("flock: neighbour scratch: %w", err)
	}
	nbrZ, err := scratch.AllocateFloat32(ents.N)
	if err != nil {
		return fmt.Errorf("flock: neighbour scratch: %w", err)
	}

	queryRadius := maxf(cfg.RSeek, cfg.RFlee, cfg.RAlign)
	rSeek2 := cfg.RSeek * cfg.RSeek
	rFlee2 := cfg.RFlee * cfg.RFlee
	rAlign2 := cfg.RAlign * cfg.RAlign

	for i := r.Start; i < r.End; i++ {
		if !ents.Eligible(i) {
			continue
		}
		behaviours := ents.Behaviours[i]
		px, py, pz := ents.PosX[i], ents.PosY[i], ents.PosZ[i]

		count, err := hash.QueryInto([3]float32{px, py, pz}, queryRadius, neighbors, nbrX, nbrY, nbrZ)
		if err != nil {
			return fmt.Errorf("flock: neighbour query: %w", err)
		}
		if cfg.Stats != nil {
			cfg.Stats.Eligible.Add(1)
			cfg.Stats.Neighbors.Add(int64(count))
		}

		var seekSumX, seekSumY, seekSumZ float32
		var fleeSumX, fleeSumY, fleeSumZ float32
		var alignSumX, alignSumY, alignSumZ float32
		seekN, fleeN, alignN := 0, 0, 0

		for k := 0; k < count; k++ {
			j := int(neighbors[k])
			if j == i {
				continue
			}
			dx := nbrX[k] - px
			dy := nbrY[k] - py
			dz := nbrZ[k] - pz
			d2 := dx*dx + dy*dy + dz*dz
			if d2 <= epsilon {
				continue
			}

			if behaviours&BehaviorSeek != 0 && d2 <= rSeek2 {
				seekSumX += dx
				seekSumY += dy
				seekSumZ += dz
				seekN++
			}
			if behaviours&BehaviorFlee != 0 && d2 <= rFlee2 {
				w := rFlee2 / (d2 + epsilon)
				fleeSumX += dx * w
				fleeSumY += dy * w
				fleeSumZ += dz * w
				fleeN++
			}
			if behaviours&BehaviorAlign != 0 && d2 <= rAlign2 {
				alignSumX += ents.PrevVelX[j]
				alignSumY += ents.PrevVelY[j]
				alignSumZ += ents.PrevVelZ[j]
				alignN++
			}
		}

		var ax, ay, az float32
		if behaviours&BehaviorSeek != 0 {
			var sx, sy, sz float32
			if seekN > 0 {
				n := float32(seekN)
				sx, sy, sz = seekSumX/n, seekSumY/n, seekSumZ/n
			}
			if cfg.SeekTarget != nil {
				sx += cfg.SeekTarget[0] - px
				sy += cfg.SeekTarget[1] - py
				sz += cfg.SeekTarget[2] - pz
			}
			ax += sx
			ay += sy
			az += sz
		}
		if behaviours&BehaviorFlee != 0 && fleeN > 0 {
			n := float32(fleeN)
			ax -= fleeSumX / n
			ay -= fleeSumY / n
			az -= fleeSumZ / n
		}
		if behaviours&BehaviorAlign != 0 && alignN > 0 {
			n := float32(alignN)
			ax += alignSumX / n
			ay += alignSumY / n
			az += alignSumZ / n
		}

		clampMagnitude(&ax, &ay, &az, cfg.AMax)

		vx := ents.VelX[i] + ax*cfg.Dt
		vy := ents.VelY[i] + ay*cfg.Dt
		vz := ents.VelZ[i] + az*cfg.Dt
		clampSpeed(&vx, &vy, &vz, cfg.VMin, cfg.VMax)
		ents.VelX[i], ents.VelY[i], ents.VelZ[i] = vx, vy, vz
	}
	return nil
}

// advanceBlock moves each entity by its freshly integrated velocity. It
// runs as a separate phase after every velocity block has completed, so
// positions never change while any block is still reading neighbours.
func advanceBlock(ents *Entities, r block.Range, cfg StepConfig) {
	for i := r.Start; i < r.End; i++ {
		if !ents.Eligible(i) {
			continue
		}
		ents.PosX[i] += ents.VelX[i] * cfg.Dt
		ents.PosY[i] += ents.VelY[i] * cfg.Dt
		ents.PosZ[i] += ents.VelZ[i] * cfg.Dt
	}
}

// clampMagnitude scales (x,y,z) down to length max if it exceeds it.
func clampMagnitude(x, y, z *float32, max float32) {
	mag2 := *x**x + *y**y + *z**z
	if mag2 <= epsilon || mag2 <= max*max {
		return
	}
	mag := float32(math.Sqrt(float64(mag2)))
	scale := max / mag
	*x *= scale
	*y *= scale
	*z *= scale
}

// clampSpeed keeps |velocity| within [v_min, v_max]: scale down if over
// v_max, renormalize up to v_min if under it and the vector has a
// well-defined direction (epsilon-guarded against the zero vector, which
// has none to renormalize toward).
func clampSpeed(x, y, z *float32, vmin, vmax float32) {
	mag2 := *x**x + *y**y + *z**z
	if mag2 <= epsilon {
		return
	}
	mag := float32(math.Sqrt(float64(mag2)))
	switch {
	case mag > vmax:
		scale := vmax / mag
		*x *= scale
		*y *= scale
		*z *= scale
	case mag < vmin:
		scale := vmin / mag
		*x *= scale
		*y *= scale
		*z *= scale
	}
}
