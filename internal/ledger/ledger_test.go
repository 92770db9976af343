package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/apierrors"
)

func TestAllocateWithinCapacitySucceeds(t *testing.T) {
	l := New(Resources{CPUCores: 8, MemoryGB: 32, VRAMGB: 24, GPUCount: 1})

	req := RequirementTable()[WorkerGPU]
	require.NoError(t, l.Allocate("gpu", req))

	total, allocated := l.Totals()
	assert.Equal(t, Resources{CPUCores: 8, MemoryGB: 32, VRAMGB: 24, GPUCount: 1}, total)
	assert.Equal(t, req, allocated)
}

func TestAllocateBeyondCapacityFails(t *testing.T) {
	l := New(Resources{CPUCores: 1, MemoryGB: 1, VRAMGB: 0, GPUCount: 0})

	err := l.Allocate("gpu", RequirementTable()[WorkerGPU])
	require.Error(t, err)

	var oe *apierrors.OrchestratorError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, apierrors.CodeInsufficientRes, oe.Code)
}

func TestReleaseReturnsCapacity(t *testing.T) {
	l := New(Resources{CPUCores: 2, MemoryGB: 4})
	req := Resources{CPUCores: 2, MemoryGB: 4}

	require.NoError(t, l.Allocate("general", req))
	assert.False(t, l.CanAdmit(Resources{CPUCores: 1}))

	l.Release(req)
	assert.True(t, l.CanAdmit(Resources{CPUCores: 1}))
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	l := New(Resources{CPUCores: 4, MemoryGB: 8})
	l.Release(Resources{CPUCores: 10, MemoryGB: 10})

	_, allocated := l.Totals()
	assert.Equal(t, Resources{}, allocated)
}

func TestUtilizationRatios(t *testing.T) {
	l := New(Resources{CPUCores: 4, MemoryGB: 8, VRAMGB: 0, GPUCount: 0})
	require.NoError(t, l.Allocate("cpu", Resources{CPUCores: 2, MemoryGB: 4}))

	u := l.Utilization()
	assert.Equal(t, 0.5, u["cpu"])
	assert.Equal(t, 0.5, u["memory"])
	assert.Equal(t, float64(0), u["vram"])
	assert.Equal(t, float64(0), u["gpu"])
}

func TestConcurrentAllocateNeverOverbooks(t *testing.T) {
	l := New(Resources{CPUCores: 10, MemoryGB: 10})
	req := Resources{CPUCores: 1, MemoryGB: 1}

	var wg sync.WaitGroup
	successes := make(chan bool, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			successes <- l.Allocate("general", req) == nil
		}()
	}
	wg.Wait()
	close(successes)

	ok := 0
	for s := range successes {
		if s {
			ok++
		}
	}
	assert.Equal(t, 10, ok)

	_, allocated := l.Totals()
	assert.Equal(t, Resources{CPUCores: 10, MemoryGB: 10}, allocated)
}
