// Package config defines the simulation's runtime configuration and its
// validation, the single place bad arguments are rejected before a
// simulation is allowed to start.
package config

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the sentinel every configuration rejection wraps, so
// callers can errors.Is against it regardless of which field was at fault.
var ErrConfiguration = errors.New("config: invalid configuration")

// IndexScheme selects the spatial hash's cell indexing. It is carried as a
// config field and passed to the hash's constructor, where it stays fixed
// for the hash's lifetime; the hash checks it on every cell-index
// computation.
type IndexScheme int

const (
	IndexLinear IndexScheme = iota
	IndexMorton64
)

// Config is every value the engine reads at Init. Zero value is invalid;
// use Default() and override fields, or construct explicitly and call
// Validate.
type Config struct {
	NumEntities         int
	DomainRadius        float32
	CellSize            float32
	CellMultiple        float32 // cell side = CellSize * CellMultiple, default 2
	VMin                float32
	VMax                float32
	AMax                float32
	RSeek               float32
	RFlee               float32
	RAlign              float32
	WorkerCount         int // 0 = hardware parallelism
	MaxWorkOrders       int
	SpinThreshold       int
	TasksPerWorker      int
	MinEntitiesPerBlock int
	FixedStepSeconds    float32
	Index               IndexScheme
}

// Default returns a Config with the standard behaviour radii and scheduler
// tuning.
func Default() Config {
	return Config{
		NumEntities:         1024,
		DomainRadius:        10,
		CellSize:            0.25,
		CellMultiple:        2,
		VMin:                0.05,
		VMax:                2,
		AMax:                4,
		RSeek:               0.25,
		RFlee:               0.15,
		RAlign:              0.25,
		WorkerCount:         0,
		MaxWorkOrders:       1024,
		SpinThreshold:       1000,
		TasksPerWorker:      12,
		MinEntitiesPerBlock: 48,
		FixedStepSeconds:    1.0 / 60.0,
		Index:               IndexLinear,
	}
}

// Validate rejects non-positive entity counts, sizes, a_max and fixed step,
// a negative v_min, a v_max not above v_min, negative behaviour radii (zero
// is accepted), and scheduler tuning below 1, before a simulation is
// allowed to start. All errors wrap ErrConfiguration.
func (c Config) Validate() error {
	switch {
	case c.NumEntities < 1:
		return fmt.Errorf("%w: num_entities must be >= 1, got %d", ErrConfiguration, c.NumEntities)
	case c.DomainRadius <= 0:
		return fmt.Errorf("%w: domain_radius must be positive", ErrConfiguration)
	case c.CellSize <= 0:
		return fmt.Errorf("%w: cell_size must be positive", ErrConfiguration)
	case c.VMin < 0:
		return fmt.Errorf("%w: v_min must be >= 0", ErrConfiguration)
	case c.VMax <= c.VMin:
		return fmt.Errorf("%w: v_max must exceed v_min", ErrConfiguration)
	case c.AMax <= 0:
		return fmt.Errorf("%w: a_max must be positive", ErrConfiguration)
	case c.RSeek < 0 || c.RFlee < 0 || c.RAlign < 0:
		return fmt.Errorf("%w: behaviour radii must be non-negative", ErrConfiguration)
	case c.FixedStepSeconds <= 0:
		return fmt.Errorf("%w: fixed_step_seconds must be positive", ErrConfiguration)
	case c.TasksPerWorker < 1:
		return fmt.Errorf("%w: tasks_per_worker must be >= 1", ErrConfiguration)
	case c.MinEntitiesPerBlock < 1:
		return fmt.Errorf("%w: min_entities_per_block must be >= 1", ErrConfiguration)
	}
	return nil
}

// EffectiveCellSize is the grid's actual cell side: CellSize * CellMultiple.
func (c Config) EffectiveCellSize() float32 {
	mult := c.CellMultiple
	if mult <= 0 {
		mult = 2
	}
	return c.CellSize * mult
}
