// Package sim is the integration loop: the frame driver that resets
// scratch, dispatches the flocking step, waits for completion, rebuilds
// the spatial hash, and calls the rendering collaborator's DrawFrame.
// Positions and velocities are exposed to the host through Positions and
// Velocities.
package sim

import (
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/brynm0/boidnode/config"
	"github.com/brynm0/boidnode/internal/arena"
	"github.com/brynm0/boidnode/internal/coord"
	"github.com/brynm0/boidnode/internal/diag"
	"github.com/brynm0/boidnode/internal/flock"
	"github.com/brynm0/boidnode/internal/obslog"
	"github.com/brynm0/boidnode/internal/pool"
	"github.com/brynm0/boidnode/internal/render"
	"github.com/brynm0/boidnode/internal/spatial"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// shutdownTimeout bounds how long Shutdown waits for the worker pool to
// join before leaking its goroutines.
const shutdownTimeout = 2 * time.Second

// Simulation owns every subsystem one running flock needs: the worker
// pool, the spatial hash, the entity store, the phase gate serializing
// step against rebuild, and the diagnostics publisher. Create with Init.
type Simulation struct {
	cfg config.Config
	log *zap.Logger

	pool       *pool.Pool
	hash       *spatial.Hash
	ents       *flock.Entities
	schedArena *arena.Arena
	gate       *coord.Gate
	diagPub    *diag.Publisher
	collab     render.Collaborator

	seekTarget  *[4]float32
	frame       uint64
	accumulator float32
}

// Init validates cfg, starts the worker pool, allocates the spatial hash
// and entity store, scatters initial positions uniformly in
// [-DomainRadius, DomainRadius]^3, and performs the initial
// hash build so the first Tick has a valid previous-frame snapshot to
// query. collab may be nil (defaults to a no-op), as may log and reg.
func Init(cfg config.Config, collab render.Collaborator, log *zap.Logger, reg prometheus.Registerer) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = obslog.Noop()
	}
	if collab == nil {
		collab = &render.NoopCollaborator{}
	}
	log = log.Named("sim")

	// worker scratch must hold one velocity block's neighbour id and
	// position buffers, whatever N the caller declared
	scratchBytes := flock.ScratchBytes(cfg.NumEntities)
	if scratchBytes < 1<<20 {
		scratchBytes = 1 << 20
	}
	p, err := pool.Start(pool.Config{
		WorkerCount:   cfg.WorkerCount,
		MaxWorkOrders: cfg.MaxWorkOrders,
		SpinThreshold: cfg.SpinThreshold,
		ArenaBytes:    scratchBytes,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("sim: starting worker pool: %w", err)
	}

	h, err := spatial.New(cfg.EffectiveCellSize(), cfg.Index, cfg.NumEntities, p, effectiveWorkers(cfg))
	if err != nil {
		p.Shutdown(shutdownTimeout)
		return nil, fmt.Errorf("sim: allocating spatial hash: %w", err)
	}

	blocks := effectiveWorkers(cfg) * cfg.TasksPerWorker
	schedBytes := (blocks + 16) * flock.BlockDescriptorBytes
	if schedBytes < 1<<16 {
		schedBytes = 1 << 16
	}
	schedArena, err := arena.New(schedBytes)
	if err != nil {
		p.Shutdown(shutdownTimeout)
		return nil, fmt.Errorf("sim: allocating scheduling arena: %w", err)
	}

	ents := flock.New(cfg.NumEntities)
	scatterInitial(cfg, ents)

	s := &Simulation{
		cfg:        cfg,
		log:        log,
		pool:       p,
		hash:       h,
		ents:       ents,
		schedArena: schedArena,
		gate:       &coord.Gate{},
		diagPub:    diag.NewPublisher(reg),
		collab:     collab,
	}

	if err := s.gate.EnterRebuild(func() error {
		return s.hash.Rebuild(s.ents.PosX, s.ents.PosY, s.ents.PosZ)
	}); err != nil {
		p.Shutdown(shutdownTimeout)
		return nil, fmt.Errorf("sim: initial hash build: %w", err)
	}

	log.Info("initialized", zap.Int("num_entities", cfg.NumEntities), zap.Int("workers", effectiveWorkers(cfg)))
	return s, nil
}

func effectiveWorkers(cfg config.Config) int {
	if cfg.WorkerCount > 0 {
		return cfg.WorkerCount
	}
	return runtime.GOMAXPROCS(0)
}

func scatterInitial(cfg config.Config, ents *flock.Entities) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < cfg.NumEntities; i++ {
		ents.Components[i] = flock.CompSpatial | flock.CompBoid
		ents.Behaviours[i] = flock.BehaviorSeek | flock.BehaviorFlee | flock.BehaviorAlign
		ents.PosX[i] = (r.Float32()*2 - 1) * cfg.DomainRadius
		ents.PosY[i] = (r.Float32()*2 - 1) * cfg.DomainRadius
		ents.PosZ[i] = (r.Float32()*2 - 1) * cfg.DomainRadius
		ents.PosW[i] = 1
	}
}

// SetSeekTarget installs or clears (pass nil) the optional attractor point
// the seek accumulator pulls toward.
func (s *Simulation) SetSeekTarget(target *[4]float32) {
	s.seekTarget = target
}

// Tick consumes frameDt worth of wall-clock time in fixed
// cfg.FixedStepSeconds increments, running one full step/rebuild cycle per
// increment and carrying any remainder forward to the next call, so the
// integrator always advances in uniform steps regardless of frame pacing.
func (s *Simulation) Tick(frameDt float32) error {
	s.accumulator += frameDt
	step := s.cfg.FixedStepSeconds
	for s.accumulator >= step {
		if err := s.tick(step); err != nil {
			return err
		}
		s.accumulator -= step
	}
	return nil
}

func (s *Simulation) tick(dt float32) error {
	s.frame++
	s.schedArena.Reset()

	stepCfg := flock.ConfigFrom(s.cfg, dt, s.seekTarget)
	stats := &flock.Stats{}
	stepCfg.Stats = stats

	stepStart := time.Now()
	if err := s.gate.EnterStep(func() error {
		return flock.Step(s.ents, s.hash, s.pool, s.schedArena, stepCfg)
	}); err != nil {
		return fmt.Errorf("sim: step: %w", err)
	}
	stepNanos := time.Since(stepStart).Nanoseconds()

	rebuildStart := time.Now()
	if err := s.gate.EnterRebuild(func() error {
		return s.hash.Rebuild(s.ents.PosX, s.ents.PosY, s.ents.PosZ)
	}); err != nil {
		return fmt.Errorf("sim: rebuild: %w", err)
	}
	rebuildNanos := time.Since(rebuildStart).Nanoseconds()

	s.publishDiagnostics(stats, stepNanos, rebuildNanos)
	s.collab.DrawFrame()
	return nil
}

func (s *Simulation) publishDiagnostics(stats *flock.Stats, stepNanos, rebuildNanos int64) {
	poolDiag := s.pool.Diagnostics()
	used, total := s.schedArena.Stats()
	s.diagPub.Publish(diag.Snapshot{
		Frame:            s.frame,
		WorkerCount:      poolDiag.WorkerCount,
		ItemsAdded:       poolDiag.ItemsAdded,
		ItemsProcessed:   poolDiag.ItemsProcessed,
		CellsOccupied:    s.hash.CellsOccupied(),
		MeanNeighbours:   stats.MeanNeighbors(),
		ArenaBytesUsed:   used,
		ArenaBytesTotal:  total,
		HashRebuildNanos: rebuildNanos,
		StepNanos:        stepNanos,
	})
}

// Positions returns immutable, borrow-only views of the entity position
// arrays, valid until the next Tick call. Callers must not mutate the
// returned slices.
func (s *Simulation) Positions() (x, y, z []float32) {
	return s.ents.PosX, s.ents.PosY, s.ents.PosZ
}

// Velocities returns immutable, borrow-only views of the entity velocity
// arrays, valid until the next Tick call.
func (s *Simulation) Velocities() (x, y, z []float32) {
	return s.ents.VelX, s.ents.VelY, s.ents.VelZ
}

// Diagnostics returns the most recently published diagnostic snapshot.
func (s *Simulation) Diagnostics() diag.Snapshot {
	return s.diagPub.Latest()
}

// Shutdown stops the worker pool (bounded by shutdownTimeout) and releases
// its arenas. The Simulation must not be used afterward.
func (s *Simulation) Shutdown() {
	s.pool.Shutdown(shutdownTimeout)
	s.schedArena.Deallocate()
	s.log.Info("shutdown")
}
