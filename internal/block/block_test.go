package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanCoversRangeExactlyOnce(t *testing.T) {
	cases := []struct {
		n, workers, tasksPerWorker, minPerBlock int
	}{
		{1, 1, 1, 1},
		{100, 4, 12, 48},
		{1000, 8, 12, 48},
		{47, 4, 12, 48}, // below minPerBlock: one block
		{512, 2, 1, 256},
	}
	for _, tc := range cases {
		ranges := Plan(tc.n, tc.workers, tc.tasksPerWorker, tc.minPerBlock)
		require.NotEmpty(t, ranges)

		next := 0
		for _, r := range ranges {
			require.Equal(t, next, r.Start)
			require.Greater(t, r.End, r.Start)
			next = r.End
		}
		require.Equalf(t, tc.n, next, "Plan(%d, %d, %d, %d) did not cover the range", tc.n, tc.workers, tc.tasksPerWorker, tc.minPerBlock)
	}
}

func TestPlanRespectsMinPerBlock(t *testing.T) {
	ranges := Plan(100, 8, 12, 48)
	for _, r := range ranges[:len(ranges)-1] {
		require.GreaterOrEqual(t, r.Len(), 48)
	}
}

func TestPlanLastBlockAbsorbsRemainder(t *testing.T) {
	ranges := Plan(10, 1, 3, 1)
	last := ranges[len(ranges)-1]
	require.Equal(t, 10, last.End)
}

func TestPlanEmptyRange(t *testing.T) {
	require.Nil(t, Plan(0, 4, 12, 48))
	require.Nil(t, Plan(-5, 4, 12, 48))
}
