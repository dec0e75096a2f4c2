package iiwa_guard

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

var (
	home      = []float64{0, 0, 0, 0, 0, 0, 0}
	intoCube1 = []float64{math.Pi / 4, math.Pi / 2, 0, 0, 0, 0, 0}
	intoCube2 = []float64{math.Pi / 4, -math.Pi / 2, 0, 0, 0, 0, 0}
)

func newTestDetector(t *testing.T) *CollisionDetector {
	t.Helper()
	logger := logging.NewTestLogger(t)
	s := Connect(Direct, logger)
	bodies, err := LoadEnvironment(s, DefaultScene())
	require.NoError(t, err)
	d, err := NewCollisionDetector(s, bodies, DefaultPairs())
	require.NoError(t, err)
	return d
}

func TestCollisionDetectorHome(t *testing.T) {
	d := newTestDetector(t)
	assert.Equal(t, 7, d.DoF())
	require.Len(t, d.Pairs(), 4)
	assert.Equal(t, "robot:lbr_iiwa_link_7<->ground", d.Pairs()[0].String())

	dists, err := d.ComputeDistances(home)
	require.NoError(t, err)
	require.Len(t, dists, 4)

	ground, cube1, cube2, cube3 := dists[0], dists[1], dists[2], dists[3]
	// the upright arm sits on the symmetry axis of the cubes
	assert.InDelta(t, cube1, cube2, 1e-6)
	assert.InDelta(t, cube1, cube3, 1e-6)
	assert.Greater(t, cube1, 0.5)
	assert.Less(t, cube1, 1.0)
	assert.Greater(t, ground, 1.2)
	assert.Greater(t, ground, cube1)

	hit, err := d.InCollision(home, defaultMargin)
	require.NoError(t, err)
	assert.False(t, hit)

	hit, err = d.InCollision(home, 5)
	require.NoError(t, err)
	assert.True(t, hit, "every pair is closer than five metres")
}

func TestCollisionDetectorIntoCubes(t *testing.T) {
	d := newTestDetector(t)

	for _, tc := range []struct {
		name  string
		q     []float64
		index int
	}{
		{"cube1", intoCube1, 1},
		{"cube2", intoCube2, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			hit, err := d.InCollision(tc.q, defaultMargin)
			require.NoError(t, err)
			assert.True(t, hit)

			dists, err := d.ComputeDistances(tc.q)
			require.NoError(t, err)
			assert.LessOrEqual(t, dists[tc.index], 0.0, "penetration is zero or negative")
			assert.Equal(t, dists[tc.index], minDistance(dists))
			assert.Greater(t, dists[3], defaultMargin, "cube3 is off to the side")
		})
	}

	// queries leave no trace: home is clear again afterwards
	hit, err := d.InCollision(home, defaultMargin)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCollisionDetectorByName(t *testing.T) {
	d := newTestDetector(t)
	named, err := d.ComputeDistancesByName(intoCube1)
	require.NoError(t, err)
	assert.Len(t, named, 4)
	assert.Less(t, named["robot:lbr_iiwa_link_7<->cube1"], defaultMargin)
	assert.Greater(t, named["robot:lbr_iiwa_link_7<->ground"], defaultMargin)
}

func TestCollisionDetectorErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	s := Connect(Direct, logger)
	bodies, err := LoadEnvironment(s, DefaultScene())
	require.NoError(t, err)

	link7 := NewNamedCollisionObject("robot", MonitoredLink)

	t.Run("unknown body", func(t *testing.T) {
		_, err := NewCollisionDetector(s, bodies, []CollisionPair{{A: link7, B: NewNamedCollisionObject("cube9")}})
		assert.ErrorContains(t, err, "cube9")
	})

	t.Run("unknown link", func(t *testing.T) {
		bad := NewNamedCollisionObject("robot", "lbr_iiwa_link_8")
		_, err := NewCollisionDetector(s, bodies, []CollisionPair{{A: bad, B: NewNamedCollisionObject("ground")}})
		assert.ErrorContains(t, err, "lbr_iiwa_link_8")
	})

	t.Run("no pairs", func(t *testing.T) {
		_, err := NewCollisionDetector(s, bodies, nil)
		assert.Error(t, err)
	})

	t.Run("robot without joints", func(t *testing.T) {
		_, err := NewCollisionDetector(s, bodies, DefaultPairs(), WithRobot("cube1"))
		assert.Error(t, err)
	})

	t.Run("missing robot", func(t *testing.T) {
		_, err := NewCollisionDetector(s, bodies, DefaultPairs(), WithRobot("iiwa"))
		assert.Error(t, err)
	})

	t.Run("wrong configuration length", func(t *testing.T) {
		d, err := NewCollisionDetector(s, bodies, DefaultPairs())
		require.NoError(t, err)
		_, err = d.ComputeDistances([]float64{0, 0, 0})
		assert.Error(t, err)
		_, err = d.InCollision(nil, defaultMargin)
		assert.Error(t, err)
	})
}

func TestNamedCollisionObjectString(t *testing.T) {
	assert.Equal(t, "cube1", NewNamedCollisionObject("cube1").String())
	assert.Equal(t, "robot:lbr_iiwa_link_7", NewNamedCollisionObject("robot", MonitoredLink).String())
}

func TestMinDistance(t *testing.T) {
	assert.Equal(t, -0.2, minDistance([]float64{0.3, -0.2, 1}))
	assert.True(t, math.IsInf(minDistance(nil), 1))
	assert.True(t, anyBelow([]float64{0.5, 0.005}, 0.01))
	assert.False(t, anyBelow([]float64{0.5, 0.01}, 0.01))
}
