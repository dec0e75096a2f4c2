package iiwa_guard

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "demo.db")

	rec, err := OpenRecorder(path)
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		res := IterationResult{
			Step:        uint64(i),
			SimTime:     float64(i) * DefaultTimeStep,
			Q:           home,
			Distances:   []float64{1.26, 0.73, 0.73, 0.73},
			Margin:      defaultMargin,
			InCollision: i%4 == 0,
		}
		res.Applied = !res.InCollision
		require.NoError(t, rec.Record(res))
	}
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	assert.Zero(t, rec.Dropped())

	// records after close are ignored
	require.NoError(t, rec.Record(IterationResult{Step: 11}))

	reopened, err := OpenRecorder(path)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.CountSteps(false)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = reopened.CountSteps(true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOpenRecorderEmptyPath(t *testing.T) {
	_, err := OpenRecorder("")
	assert.Error(t, err)
}

func TestRecorderWithDemo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.db")
	rec, err := OpenRecorder(path)
	require.NoError(t, err)

	d, err := NewDemo(DemoConfig{Recorder: rec}, testLogger(t))
	require.NoError(t, err)
	_, err = d.Iterate()
	require.NoError(t, err)
	setJoints(t, d.GUI(), intoCube2)
	_, err = d.Iterate()
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	reopened, err := OpenRecorder(path)
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.CountSteps(true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
