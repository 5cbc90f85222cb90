package sim

import (
	"testing"

	"github.com/brynm0/boidnode/config"
	"github.com/brynm0/boidnode/internal/render"
	"github.com/stretchr/testify/require"
)

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.NumEntities = 64
	cfg.WorkerCount = 2
	cfg.MaxWorkOrders = 64
	return cfg
}

func TestInitRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.NumEntities = 0
	_, err := Init(cfg, nil, nil, nil)
	require.ErrorIs(t, err, config.ErrConfiguration)
}

func TestTickKeepsVelocitiesWithinBounds(t *testing.T) {
	cfg := smallConfig()
	cfg.DomainRadius = 0.5 // dense scatter so most boids interact
	s, err := Init(cfg, nil, nil, nil)
	require.NoError(t, err)
	defer s.Shutdown()

	for frame := 0; frame < 5; frame++ {
		require.NoError(t, s.Tick(cfg.FixedStepSeconds))
	}

	vx, vy, vz := s.Velocities()
	for i := 0; i < cfg.NumEntities; i++ {
		speed2 := vx[i]*vx[i] + vy[i]*vy[i] + vz[i]*vz[i]
		require.LessOrEqualf(t, speed2, cfg.VMax*cfg.VMax+1e-4, "entity %d speed above v_max", i)
		// a boid that never met a neighbour keeps its zero velocity: the
		// zero vector has no direction to renormalize toward v_min
		if speed2 > 1e-8 {
			require.GreaterOrEqualf(t, speed2, cfg.VMin*cfg.VMin-1e-4, "entity %d moving slower than v_min", i)
		}
	}
}

func TestTickAccumulatesSubFrameRemainder(t *testing.T) {
	cfg := smallConfig()
	s, err := Init(cfg, nil, nil, nil)
	require.NoError(t, err)
	defer s.Shutdown()

	half := cfg.FixedStepSeconds / 2
	require.NoError(t, s.Tick(half))
	require.Equal(t, uint64(0), s.frame, "half a fixed step should not run a tick yet")

	require.NoError(t, s.Tick(half))
	require.Equal(t, uint64(1), s.frame, "the remainder plus this call completes one fixed step")
}

func TestTickDrivesCollaboratorDrawFrame(t *testing.T) {
	cfg := smallConfig()
	collab := &render.NoopCollaborator{}
	s, err := Init(cfg, collab, nil, nil)
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Tick(cfg.FixedStepSeconds))
	require.NoError(t, s.Tick(cfg.FixedStepSeconds))
	require.Equal(t, 2, collab.DrawCalls)
}

func TestDiagnosticsPublishedAfterTick(t *testing.T) {
	cfg := smallConfig()
	s, err := Init(cfg, nil, nil, nil)
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Tick(cfg.FixedStepSeconds))
	snap := s.Diagnostics()
	require.Equal(t, uint64(1), snap.Frame)
	require.Greater(t, snap.CellsOccupied, 0)
}
