// Package spatial implements the uniform-grid spatial hash: a full
// rebuild from the canonical position arrays every frame, and radius
// queries served from the resulting cell-sorted layout. There is no
// incremental update; rebuild always resets and re-bins from scratch.
package spatial

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/brynm0/boidnode/config"
	"github.com/brynm0/boidnode/internal/arena"
	"github.com/brynm0/boidnode/internal/block"
	"github.com/brynm0/boidnode/internal/pool"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"
)

// Sentinel marks an empty cell in cell_start.
const Sentinel uint32 = 0xFFFFFFFF

var (
	// ErrInvalidQuery is returned (and the call is a no-op) for a null
	// output buffer or a negative radius.
	ErrInvalidQuery = errors.New("spatial: invalid query arguments")
)

// laneWidth picks the unrolled query loop width. Correctness never depends
// on which width runs; AVX2 targets get 8, everything else a portable 4.
func laneWidth() int {
	if cpu.X86.HasAVX2 {
		return 8
	}
	return 4
}

// Hash is a uniform grid over the current positions. Create with New, fill
// it with Rebuild every frame, and read it with Query between rebuilds.
type Hash struct {
	cellSize float32
	scheme   config.IndexScheme
	pool     *pool.Pool
	workers  int

	domainMin, domainMax [3]float32
	gx, gy, gz           int

	cellStart []uint32
	cellEnd   []uint32

	x, y, z    []float32
	originalID []uint32
	n          int
}

// New allocates a Hash sized for at most capacity entities.
func New(cellSize float32, scheme config.IndexScheme, capacity int, p *pool.Pool, workers int) (*Hash, error) {
	if cellSize <= 0 {
		return nil, errors.New("spatial: cell_size must be positive")
	}
	if capacity < 1 {
		return nil, errors.New("spatial: capacity must be >= 1")
	}
	if workers < 1 {
		workers = 1
	}
	return &Hash{
		cellSize:   cellSize,
		scheme:     scheme,
		pool:       p,
		workers:    workers,
		x:          make([]float32, capacity),
		y:          make([]float32, capacity),
		z:          make([]float32, capacity),
		originalID: make([]uint32, capacity),
	}, nil
}

func (h *Hash) cellIndex(cx, cy, cz int) int {
	if h.scheme == config.IndexMorton64 {
		return int(mortonEncode3(uint32(cx), uint32(cy), uint32(cz)))
	}
	return cx + cy*h.gx + cz*h.gx*h.gy
}

func (h *Hash) cellCountBound() int {
	if h.scheme == config.IndexMorton64 {
		maxDim := h.gx
		if h.gy > maxDim {
			maxDim = h.gy
		}
		if h.gz > maxDim {
			maxDim = h.gz
		}
		return int(mortonEncode3(uint32(maxDim), uint32(maxDim), uint32(maxDim))) + 1
	}
	return h.gx * h.gy * h.gz
}

// Rebuild tears down and re-bins the hash from px/py/pz, the canonical
// position arrays (index i is entity i). It is the only supported way to
// reflect new positions.
func (h *Hash) Rebuild(px, py, pz []float32) error {
	n := len(px)
	if n == 0 || n != len(py) || n != len(pz) {
		return errors.New("spatial: position arrays must be equal, non-zero length")
	}
	if n > cap(h.x) {
		return errors.New("spatial: rebuild exceeds hash capacity, resize at init")
	}
	h.n = n

	h.computeDomain(px, py, pz)

	rangeX := h.domainMax[0] - h.domainMin[0]
	rangeY := h.domainMax[1] - h.domainMin[1]
	rangeZ := h.domainMax[2] - h.domainMin[2]
	h.gx = maxInt(1, int(math.Ceil(float64(rangeX/h.cellSize))))
	h.gy = maxInt(1, int(math.Ceil(float64(rangeY/h.cellSize))))
	h.gz = maxInt(1, int(math.Ceil(float64(rangeZ/h.cellSize))))

	cellCount := h.cellCountBound()
	counts := make([]int32, cellCount)
	cellOf := make([]int, n)

	h.parallelOverRange(n, func(r block.Range) {
		for i := r.Start; i < r.End; i++ {
			cx := h.clampedCell(px[i], h.domainMin[0], h.gx)
			cy := h.clampedCell(py[i], h.domainMin[1], h.gy)
			cz := h.clampedCell(pz[i], h.domainMin[2], h.gz)
			c := h.cellIndex(cx, cy, cz)
			cellOf[i] = c
			atomic.AddInt32(&counts[c], 1)
		}
	})

	h.cellStart = growUint32(h.cellStart, cellCount)
	h.cellEnd = growUint32(h.cellEnd, cellCount)
	offset := uint32(0)
	for c := 0; c < cellCount; c++ {
		cnt := uint32(counts[c])
		if cnt == 0 {
			h.cellStart[c] = Sentinel
			h.cellEnd[c] = Sentinel
			continue
		}
		h.cellStart[c] = offset
		offset += cnt
		h.cellEnd[c] = offset
	}

	placed := make([]int32, cellCount)
	h.parallelOverRange(n, func(r block.Range) {
		for i := r.Start; i < r.End; i++ {
			c := cellOf[i]
			slot := atomic.AddInt32(&placed[c], 1) - 1
			dst := h.cellStart[c] + uint32(slot)
			h.x[dst] = px[i]
			h.y[dst] = py[i]
			h.z[dst] = pz[i]
			h.originalID[dst] = uint32(i)
		}
	})

	return nil
}

func (h *Hash) clampedCell(v, min float32, g int) int {
	c := int((v - min) / h.cellSize)
	if c < 0 {
		return 0
	}
	if c >= g {
		return g - 1
	}
	return c
}

// computeDomain finds the bounding box of the positions, reducing in
// parallel via errgroup once N reaches 1024 and at least two workers exist.
func (h *Hash) computeDomain(px, py, pz []float32) {
	n := len(px)
	if n < 1024 || h.workers < 2 {
		minV := [3]float32{px[0], py[0], pz[0]}
		maxV := minV
		for i := 1; i < n; i++ {
			minV, maxV = foldMinMax(minV, maxV, px[i], py[i], pz[i])
		}
		h.domainMin, h.domainMax = minV, maxV
		return
	}

	chunks := block.Plan(n, h.workers, 1, 512)
	results := make([][2][3]float32, len(chunks))

	var g errgroup.Group
	for ci, r := range chunks {
		ci, r := ci, r
		g.Go(func() error {
			minV := [3]float32{px[r.Start], py[r.Start], pz[r.Start]}
			maxV := minV
			for i := r.Start + 1; i < r.End; i++ {
				minV, maxV = foldMinMax(minV, maxV, px[i], py[i], pz[i])
			}
			results[ci] = [2][3]float32{minV, maxV}
			return nil
		})
	}
	_ = g.Wait()

	minV, maxV := results[0][0], results[0][1]
	for _, r := range results[1:] {
		for a := 0; a < 3; a++ {
			if r[0][a] < minV[a] {
				minV[a] = r[0][a]
			}
			if r[1][a] > maxV[a] {
				maxV[a] = r[1][a]
			}
		}
	}
	h.domainMin, h.domainMax = minV, maxV
}

func foldMinMax(minV, maxV [3]float32, x, y, z float32) ([3]float32, [3]float32) {
	v := [3]float32{x, y, z}
	for a := 0; a < 3; a++ {
		if v[a] < minV[a] {
			minV[a] = v[a]
		}
		if v[a] > maxV[a] {
			maxV[a] = v[a]
		}
	}
	return minV, maxV
}

// parallelOverRange dispatches fn over block.Plan(n) chunks through the
// worker pool, sharing the same chunking utility the flocking step uses.
func (h *Hash) parallelOverRange(n int, fn func(r block.Range)) {
	ranges := block.Plan(n, h.workers, 1, 256)
	if h.pool == nil || len(ranges) <= 1 {
		for _, r := range ranges {
			fn(r)
		}
		return
	}

	done := make(chan struct{}, len(ranges))
	for _, r := range ranges {
		r := r
		if err := h.pool.AddWork(func(data any, scratch *arena.Arena) { fn(r); done <- struct{}{} }, nil); err != nil {
			// ring full: run the chunk inline rather than stall the build
			fn(r)
			done <- struct{}{}
		}
	}
	for range ranges {
		<-done
	}
}

// Query appends the original ids of every entity within radius of center
// into out, returning the count written. Once out is full the query stops
// and returns len(out) without an error. Order is unspecified; duplicates
// cannot occur because each entity occupies exactly one cell.
func (h *Hash) Query(center [3]float32, radius float32, out []uint32) (int, error) {
	if out == nil || radius < 0 {
		return 0, ErrInvalidQuery
	}
	return h.query(center, radius, out, nil, nil, nil)
}

// QueryInto is Query with each id's snapshot position written alongside it,
// so callers can do neighbour math against the positions frozen at the last
// rebuild instead of re-reading the live entity arrays mid-step.
func (h *Hash) QueryInto(center [3]float32, radius float32, outID []uint32, outX, outY, outZ []float32) (int, error) {
	if outID == nil || outX == nil || outY == nil || outZ == nil || radius < 0 {
		return 0, ErrInvalidQuery
	}
	if len(outX) < len(outID) || len(outY) < len(outID) || len(outZ) < len(outID) {
		return 0, ErrInvalidQuery
	}
	return h.query(center, radius, outID, outX, outY, outZ)
}

func (h *Hash) query(center [3]float32, radius float32, out []uint32, outX, outY, outZ []float32) (int, error) {
	if h.n == 0 {
		return 0, nil
	}

	reach := int(math.Ceil(float64(radius / h.cellSize)))
	cx := h.clampedCell(center[0], h.domainMin[0], h.gx)
	cy := h.clampedCell(center[1], h.domainMin[1], h.gy)
	cz := h.clampedCell(center[2], h.domainMin[2], h.gz)

	x0, x1 := clampRange(cx-reach, cx+reach, h.gx)
	y0, y1 := clampRange(cy-reach, cy+reach, h.gy)
	z0, z1 := clampRange(cz-reach, cz+reach, h.gz)

	r2 := radius * radius
	count := 0
	width := laneWidth()

	for zc := z0; zc <= z1; zc++ {
		for yc := y0; yc <= y1; yc++ {
			for xc := x0; xc <= x1; xc++ {
				c := h.cellIndex(xc, yc, zc)
				if c >= len(h.cellStart) || h.cellStart[c] == Sentinel {
					continue
				}
				start, end := h.cellStart[c], h.cellEnd[c]
				for base := start; base < end; base += uint32(width) {
					last := base + uint32(width)
					if last > end {
						last = end
					}
					for i := base; i < last; i++ {
						dx := h.x[i] - center[0]
						dy := h.y[i] - center[1]
						dz := h.z[i] - center[2]
						d2 := dx*dx + dy*dy + dz*dz
						if d2 <= r2 {
							if count >= len(out) {
								return count, nil
							}
							out[count] = h.originalID[i]
							if outX != nil {
								outX[count] = h.x[i]
								outY[count] = h.y[i]
								outZ[count] = h.z[i]
							}
							count++
						}
					}
				}
			}
		}
	}
	return count, nil
}

// CellsOccupied returns the number of non-empty cells after the last
// rebuild, used by the diagnostics snapshot.
func (h *Hash) CellsOccupied() int {
	n := 0
	for _, s := range h.cellStart {
		if s != Sentinel {
			n++
		}
	}
	return n
}

func clampRange(lo, hi, g int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > g-1 {
		hi = g - 1
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func growUint32(s []uint32, n int) []uint32 {
	if cap(s) >= n {
		return s[:n]
	}
	return make([]uint32, n)
}
