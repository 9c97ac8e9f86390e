package runner

import (
	"runtime"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
)

// TestDetermineConcurrency tests the concurrency determination logic
func TestDetermineConcurrency(t *testing.T) {
	logger := log.NewLogger(log.DiscardHandler())

	tests := []struct {
		name          string
		configured    int
		numCases      int
		expectedRange [2]int // [min, max] expected range
	}{
		{
			name:          "Auto-determine with 4 cases",
			configured:    0,
			numCases:      4,
			expectedRange: [2]int{1, 4},
		},
		{
			name:          "Auto-determine with many cases",
			configured:    0,
			numCases:      200,
			expectedRange: [2]int{runtime.NumCPU(), runtime.NumCPU()},
		},
		{
			name:          "Configured within cases",
			configured:    3,
			numCases:      10,
			expectedRange: [2]int{3, 3},
		},
		{
			name:          "Configured exceeds cases",
			configured:    8,
			numCases:      3,
			expectedRange: [2]int{3, 3},
		},
		{
			name:          "Single case",
			configured:    0,
			numCases:      1,
			expectedRange: [2]int{1, 1},
		},
		{
			name:          "Configured above the reasonable maximum is honored",
			configured:    40,
			numCases:      50,
			expectedRange: [2]int{40, 40},
		},
		{
			name:          "No cases",
			configured:    4,
			numCases:      0,
			expectedRange: [2]int{4, 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual := determineConcurrency(tt.configured, tt.numCases, logger)

			assert.GreaterOrEqual(t, actual, tt.expectedRange[0])
			assert.LessOrEqual(t, actual, tt.expectedRange[1])
			assert.GreaterOrEqual(t, actual, 1, "Concurrency should be at least 1")
			if tt.numCases > 0 {
				assert.LessOrEqual(t, actual, tt.numCases, "Concurrency should never exceed number of cases")
			}
		})
	}
}

// TestDefaultConcurrencyIsCPUCount checks that the unconfigured default is the core count,
// bounded only by the number of cases.
func TestDefaultConcurrencyIsCPUCount(t *testing.T) {
	logger := log.NewLogger(log.DiscardHandler())
	numCPU := runtime.NumCPU()

	assert.Equal(t, numCPU, determineConcurrency(0, numCPU*4+100, logger))
	assert.Equal(t, numCPU, determineConcurrency(-1, numCPU*4+100, logger))
	assert.Equal(t, numCPU, determineConcurrency(0, 0, logger))
	assert.Equal(t, 1, determineConcurrency(0, 1, logger))
}
