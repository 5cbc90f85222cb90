// Package block computes the independent index-range partitioning both the
// spatial hash's parallel build phases and the flocking step's dispatcher
// use, so the two components share one chunking rule instead of each
// inventing its own.
package block

// Range is a half-open [Start, End) sub-range of entity (or cell) indices.
type Range struct {
	Start, End int
}

// Len returns the number of indices the range covers.
func (r Range) Len() int { return r.End - r.Start }

// Plan splits [0, n) into independent blocks. The target block count is
// workers*tasksPerWorker, clamped down so every block has at least
// minPerBlock indices (never below 1 block); the last block absorbs
// whatever remainder does not divide evenly.
func Plan(n, workers, tasksPerWorker, minPerBlock int) []Range {
	if n <= 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if tasksPerWorker < 1 {
		tasksPerWorker = 1
	}
	if minPerBlock < 1 {
		minPerBlock = 1
	}

	target := workers * tasksPerWorker
	if target < 1 {
		target = 1
	}
	if n/target < minPerBlock {
		target = n / minPerBlock
		if target < 1 {
			target = 1
		}
	}

	blockSize := n / target
	if blockSize < 1 {
		blockSize = 1
	}

	ranges := make([]Range, 0, target)
	start := 0
	for start < n {
		end := start + blockSize
		if end > n || (n-end) < blockSize {
			end = n
		}
		ranges = append(ranges, Range{Start: start, End: end})
		start = end
	}
	return ranges
}
