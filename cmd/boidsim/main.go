// Command boidsim drives the flocking simulation headlessly: it builds a
// config.Config from flags, runs the integration loop for a fixed number
// of frames with a no-op renderer collaborator, and prints a diagnostics
// summary. It exists to exercise internal/sim without any window, GPU, or
// input glue.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/brynm0/boidnode/config"
	"github.com/brynm0/boidnode/internal/obslog"
	"github.com/brynm0/boidnode/internal/render"
	"github.com/brynm0/boidnode/internal/sim"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var flags struct {
	numEntities  int
	domainRadius float64
	cellSize     float64
	vMin, vMax   float64
	aMax         float64
	rSeek        float64
	rFlee        float64
	rAlign       float64
	workerCount  int
	frames       int
	frameSeconds float64
	debugLog     bool
}

var rootCmd = &cobra.Command{
	Use:     "boidsim",
	Short:   "Headless runner for the boidnode flocking simulation",
	Long:    "boidsim builds a simulation from flags, ticks it for a fixed number of frames, and prints a diagnostics summary. There is no window or renderer: this is the engine's core loop exercised standalone.",
	Version: version,
	RunE:    runSim,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	f := rootCmd.Flags()
	f.IntVar(&flags.numEntities, "num-entities", 1024, "number of boids in the simulation")
	f.Float64Var(&flags.domainRadius, "domain-radius", 10, "half-extent of the initial scatter cube")
	f.Float64Var(&flags.cellSize, "cell-size", 0.25, "base spatial hash cell size")
	f.Float64Var(&flags.vMin, "v-min", 0.05, "minimum boid speed")
	f.Float64Var(&flags.vMax, "v-max", 2, "maximum boid speed")
	f.Float64Var(&flags.aMax, "a-max", 4, "maximum boid acceleration magnitude")
	f.Float64Var(&flags.rSeek, "r-seek", 0.25, "seek (cohesion) radius")
	f.Float64Var(&flags.rFlee, "r-flee", 0.15, "flee (separation) radius")
	f.Float64Var(&flags.rAlign, "r-align", 0.25, "align radius")
	f.IntVar(&flags.workerCount, "workers", 0, "worker pool size, 0 = hardware parallelism")
	f.IntVar(&flags.frames, "frames", 300, "number of frames (Tick calls) to run before exiting")
	f.Float64Var(&flags.frameSeconds, "frame-seconds", 1.0/60.0, "wall-clock seconds fed to Tick per frame")
	f.BoolVar(&flags.debugLog, "debug-log", false, "use a development (human-readable) logger instead of production JSON")
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.NumEntities = flags.numEntities
	cfg.DomainRadius = float32(flags.domainRadius)
	cfg.CellSize = float32(flags.cellSize)
	cfg.VMin = float32(flags.vMin)
	cfg.VMax = float32(flags.vMax)
	cfg.AMax = float32(flags.aMax)
	cfg.RSeek = float32(flags.rSeek)
	cfg.RFlee = float32(flags.rFlee)
	cfg.RAlign = float32(flags.rAlign)
	cfg.WorkerCount = flags.workerCount

	log, err := obslog.New(flags.debugLog)
	if err != nil {
		return fmt.Errorf("boidsim: building logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck // best-effort flush on exit

	reg := prometheus.NewRegistry()
	s, err := sim.Init(cfg, &render.NoopCollaborator{}, log, reg)
	if err != nil {
		return fmt.Errorf("boidsim: %w", err)
	}
	defer s.Shutdown()

	frameDt := float32(flags.frameSeconds)
	start := time.Now()
	for i := 0; i < flags.frames; i++ {
		if err := s.Tick(frameDt); err != nil {
			return fmt.Errorf("boidsim: tick %d: %w", i, err)
		}
	}
	elapsed := time.Since(start)

	snap := s.Diagnostics()
	fmt.Printf("boidsim: %d entities, %d frames in %s\n", cfg.NumEntities, flags.frames, elapsed)
	fmt.Printf("  workers:          %d\n", snap.WorkerCount)
	fmt.Printf("  items processed:  %d\n", snap.ItemsProcessed)
	fmt.Printf("  cells occupied:   %d\n", snap.CellsOccupied)
	fmt.Printf("  mean neighbours:  %.2f\n", snap.MeanNeighbours)
	fmt.Printf("  last step:        %s\n", time.Duration(snap.StepNanos))
	fmt.Printf("  last rebuild:     %s\n", time.Duration(snap.HashRebuildNanos))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
