package iiwa_guard

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
)

func newTestGuardArm(t *testing.T, cfg *GuardArmConfig) arm.Arm {
	t.Helper()
	_, _, err := cfg.Validate("")
	require.NoError(t, err)
	a, err := NewGuardArm(context.Background(), arm.Named("iiwa"), cfg, logging.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func jointValues(t *testing.T, a arm.Arm) []float64 {
	t.Helper()
	inputs, err := a.JointPositions(context.Background(), nil)
	require.NoError(t, err)
	return fromInputs(inputs)
}

func TestGuardArmMoves(t *testing.T) {
	ctx := context.Background()
	a := newTestGuardArm(t, &GuardArmConfig{})

	assert.Equal(t, home, jointValues(t, a))

	safe := []float64{math.Pi / 3, 0, 0, 0, 0, 0, math.Pi / 2}
	require.NoError(t, a.MoveToJointPositions(ctx, toInputs(safe), nil))
	assert.Equal(t, safe, jointValues(t, a))

	err := a.MoveToJointPositions(ctx, toInputs(intoCube1), nil)
	assert.ErrorIs(t, err, ErrCollisionAvoided)
	assert.ErrorContains(t, err, "below margin 0.0100 m")
	assert.Equal(t, safe, jointValues(t, a), "refused poses leave the arm in place")

	resp, err := a.DoCommand(ctx, map[string]interface{}{"command": "warnings"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, resp["avoided"])
	texts := resp["texts"].([]interface{})
	require.Len(t, texts, 1)
	warning := texts[0].(map[string]interface{})
	assert.Equal(t, WarningText, warning["text"])
	assert.Equal(t, []interface{}{0.0, 0.0, 1.5}, warning["position"])
	assert.Equal(t, 0.2, warning["lifetime"])

	err = a.MoveToJointPositions(ctx, toInputs([]float64{0, 0, 0}), nil)
	assert.ErrorContains(t, err, "expected 7 joint positions")

	moving, err := a.IsMoving(ctx)
	require.NoError(t, err)
	assert.False(t, moving)
	require.NoError(t, a.Stop(ctx, nil))
}

func TestGuardArmMoveThrough(t *testing.T) {
	ctx := context.Background()
	a := newTestGuardArm(t, &GuardArmConfig{})

	first := []float64{0.2, 0, 0, 0, 0, 0, 0}
	err := a.MoveThroughJointPositions(ctx, [][]referenceframe.Input{
		toInputs(first),
		toInputs(intoCube2),
		toInputs(home),
	}, nil, nil)
	assert.ErrorIs(t, err, ErrCollisionAvoided)
	assert.Equal(t, first, jointValues(t, a), "stops at the first refused pose")

	require.NoError(t, a.GoToInputs(ctx, toInputs(home)))
	assert.Equal(t, home, jointValues(t, a))
}

func TestGuardArmMargin(t *testing.T) {
	ctx := context.Background()
	a := newTestGuardArm(t, &GuardArmConfig{CollisionMargin: 0.05})

	resp, err := a.DoCommand(ctx, map[string]interface{}{"command": "get_margin"})
	require.NoError(t, err)
	assert.Equal(t, 0.05, resp["margin"])

	_, err = a.DoCommand(ctx, map[string]interface{}{"command": "set_margin", "margin": 1.0})
	require.NoError(t, err)

	// every cube is closer than a metre to the upright arm
	err = a.MoveToJointPositions(ctx, toInputs([]float64{0.1, 0, 0, 0, 0, 0, 0}), nil)
	assert.ErrorIs(t, err, ErrCollisionAvoided)

	_, err = a.DoCommand(ctx, map[string]interface{}{"command": "set_margin", "margin": -1.0})
	assert.Error(t, err)
	_, err = a.DoCommand(ctx, map[string]interface{}{"command": "set_margin"})
	assert.Error(t, err)

	_, err = a.DoCommand(ctx, map[string]interface{}{"command": "set_margin", "margin": 0.0})
	require.NoError(t, err)
	require.NoError(t, a.MoveToJointPositions(ctx, toInputs([]float64{0.1, 0, 0, 0, 0, 0, 0}), nil))
}

func TestGuardArmJointLimits(t *testing.T) {
	limits := make([][2]float64, 7)
	for i := range limits {
		limits[i] = [2]float64{-90, 90}
	}
	a := newTestGuardArm(t, &GuardArmConfig{JointLimitsDeg: limits})

	require.NoError(t, a.MoveToJointPositions(context.Background(), toInputs([]float64{3, 0, 0, 0, 0, 0, -3}), nil))
	q := jointValues(t, a)
	assert.InDelta(t, math.Pi/2, q[0], 1e-12)
	assert.InDelta(t, -math.Pi/2, q[6], 1e-12)
}

func TestGuardArmCheckPath(t *testing.T) {
	ctx := context.Background()

	// both poses hold the arm level between two cubes; swinging the base
	// from one to the other sweeps the last link through a cube
	start := []float64{0, math.Pi / 2, 0, 0, 0, 0, 0}
	target := []float64{math.Pi / 2, math.Pi / 2, 0, 0, 0, 0, 0}

	plain := newTestGuardArm(t, &GuardArmConfig{})
	checked := newTestGuardArm(t, &GuardArmConfig{CheckPath: true, PathResolutionDeg: 5})

	for _, a := range []arm.Arm{plain, checked} {
		require.NoError(t, a.MoveToJointPositions(ctx, toInputs(start), nil))
	}

	require.NoError(t, plain.MoveToJointPositions(ctx, toInputs(target), nil))
	assert.Equal(t, target, jointValues(t, plain))

	err := checked.MoveToJointPositions(ctx, toInputs(target), nil)
	assert.ErrorIs(t, err, ErrCollisionAvoided)
	assert.Equal(t, start, jointValues(t, checked))
}

func TestInterpolate(t *testing.T) {
	from := []float64{0, 1}
	to := []float64{1, 1}

	steps := interpolate(from, to, 0.3)
	require.Len(t, steps, 4)
	assert.Equal(t, to, steps[3])
	prev := from
	for _, q := range steps {
		assert.LessOrEqual(t, math.Abs(q[0]-prev[0]), 0.3+1e-12)
		assert.Equal(t, 1.0, q[1])
		prev = q
	}

	same := interpolate(to, to, 0.3)
	require.Len(t, same, 1)
	assert.Equal(t, to, same[0])
}

func TestGuardArmDoCommand(t *testing.T) {
	ctx := context.Background()
	a := newTestGuardArm(t, &GuardArmConfig{})

	t.Run("distances at current pose", func(t *testing.T) {
		resp, err := a.DoCommand(ctx, map[string]interface{}{"command": "distances"})
		require.NoError(t, err)
		dists := resp["distances"].(map[string]interface{})
		assert.Len(t, dists, 4)
		assert.Equal(t, false, resp["in_collision"])
		assert.Equal(t, defaultMargin, resp["margin"])
		assert.InDelta(t, dists["robot:lbr_iiwa_link_7<->cube1"].(float64), resp["min_distance"].(float64), 1e-6)
	})

	t.Run("distances at given pose", func(t *testing.T) {
		positions := []interface{}{}
		for _, v := range intoCube1 {
			positions = append(positions, v)
		}
		resp, err := a.DoCommand(ctx, map[string]interface{}{"command": "distances", "positions": positions})
		require.NoError(t, err)
		assert.Equal(t, true, resp["in_collision"])
		assert.Equal(t, home, jointValues(t, a), "queries never move the arm")
	})

	t.Run("bad positions", func(t *testing.T) {
		_, err := a.DoCommand(ctx, map[string]interface{}{"command": "distances", "positions": []interface{}{"a"}})
		assert.Error(t, err)
		_, err = a.DoCommand(ctx, map[string]interface{}{"command": "distances", "positions": []interface{}{1.0}})
		assert.Error(t, err)
	})

	t.Run("step", func(t *testing.T) {
		resp, err := a.DoCommand(ctx, map[string]interface{}{"command": "step"})
		require.NoError(t, err)
		first := resp["step"].(float64)
		resp, err = a.DoCommand(ctx, map[string]interface{}{"command": "step", "count": 3.0})
		require.NoError(t, err)
		assert.Equal(t, first+3, resp["step"])
		_, err = a.DoCommand(ctx, map[string]interface{}{"command": "step", "count": 0.0})
		assert.Error(t, err)
	})

	t.Run("status", func(t *testing.T) {
		resp, err := a.DoCommand(ctx, map[string]interface{}{"command": "status"})
		require.NoError(t, err)
		assert.Equal(t, true, resp["world_loaded"])
		assert.GreaterOrEqual(t, resp["world_ref_count"].(float64), 1.0)
		assert.Contains(t, resp["world"], "built-in")
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := a.DoCommand(ctx, map[string]interface{}{"command": "dance"})
		assert.ErrorContains(t, err, "unknown command")
	})
}

func TestGuardArmWarningExpires(t *testing.T) {
	ctx := context.Background()
	a := newTestGuardArm(t, &GuardArmConfig{})

	assert.ErrorIs(t, a.MoveToJointPositions(ctx, toInputs(intoCube2), nil), ErrCollisionAvoided)
	_, err := a.DoCommand(ctx, map[string]interface{}{"command": "step", "count": 60.0})
	require.NoError(t, err)

	resp, err := a.DoCommand(ctx, map[string]interface{}{"command": "warnings"})
	require.NoError(t, err)
	assert.Empty(t, resp["texts"])
	assert.Equal(t, 1.0, resp["avoided"])
}

func TestGuardArmKinematics(t *testing.T) {
	ctx := context.Background()
	a := newTestGuardArm(t, &GuardArmConfig{})

	model, err := a.Kinematics(ctx)
	require.NoError(t, err)
	assert.Len(t, model.DoF(), 7)

	pose, err := a.EndPosition(ctx, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0, pose.Point().X, 1e-6)
	assert.InDelta(t, 0, pose.Point().Y, 1e-6)
	assert.Greater(t, pose.Point().Z, 1200.0)

	geoms, err := a.Geometries(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, geoms, 8)

	meshes, err := a.Get3DModels(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, meshes)

	assert.Error(t, a.MoveToPosition(ctx, pose, nil))
}

func TestGuardArmSimulateTime(t *testing.T) {
	a := newTestGuardArm(t, &GuardArmConfig{SimulateTime: true})
	ga := a.(*guardArm)
	require.NotNil(t, ga.timeSimulation)

	require.Eventually(t, func() bool { return ga.gui.StepCount() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestGuardArmReleasesWorld(t *testing.T) {
	a, err := NewGuardArm(context.Background(), arm.Named("solo"), &GuardArmConfig{}, logging.NewTestLogger(t))
	require.NoError(t, err)

	refCount, loaded, _ := GetWorldStatus("")
	require.True(t, loaded)
	require.NoError(t, a.Close(context.Background()))

	after, _, _ := GetWorldStatus("")
	assert.Equal(t, refCount-1, after)
}

func TestNewGuardArmErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	t.Setenv("VIAM_MODULE_DATA", t.TempDir())

	_, err := NewGuardArm(context.Background(), arm.Named("x"), &GuardArmConfig{SceneFile: "missing.yaml"}, logger)
	assert.ErrorContains(t, err, "failed to get collision world")

	_, err = NewGuardArm(context.Background(), arm.Named("x"), &GuardArmConfig{Obstacles: []string{"cube9"}}, logger)
	assert.ErrorContains(t, err, "cube9")

	_, err = NewGuardArm(context.Background(), arm.Named("x"), &GuardArmConfig{MonitoredLink: "lbr_iiwa_link_8"}, logger)
	assert.Error(t, err)

	_, loaded, _ := GetWorldStatus("")
	assert.False(t, loaded, "failed constructors release the world")
}

func TestGuardArmRejectsNonFinite(t *testing.T) {
	ctx := context.Background()
	a := newTestGuardArm(t, &GuardArmConfig{})

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		q := []float64{0, 0, v, 0, 0, 0, 0}
		err := a.MoveToJointPositions(ctx, toInputs(q), nil)
		assert.ErrorContains(t, err, "joint 3 position must be finite")
		assert.NotErrorIs(t, err, ErrCollisionAvoided)

		_, err = a.DoCommand(ctx, map[string]interface{}{"command": "distances", "positions": []interface{}{0.0, 0.0, v, 0.0, 0.0, 0.0, 0.0}})
		assert.ErrorContains(t, err, "must be finite")

		_, err = a.DoCommand(ctx, map[string]interface{}{"command": "set_margin", "margin": v})
		assert.Error(t, err)
	}
	assert.Equal(t, home, jointValues(t, a))

	resp, err := a.DoCommand(ctx, map[string]interface{}{"command": "get_margin"})
	require.NoError(t, err)
	assert.Equal(t, defaultMargin, resp["margin"])

	// the margin still guards after the rejected updates
	assert.ErrorIs(t, a.MoveToJointPositions(ctx, toInputs(intoCube1), nil), ErrCollisionAvoided)
}

func TestGuardArmStepBounds(t *testing.T) {
	ctx := context.Background()
	a := newTestGuardArm(t, &GuardArmConfig{})

	for _, count := range []float64{0, -3, maxStepCount + 1, 1e18, math.NaN()} {
		_, err := a.DoCommand(ctx, map[string]interface{}{"command": "step", "count": count})
		assert.Error(t, err, "count %v", count)
	}
	resp, err := a.DoCommand(ctx, map[string]interface{}{"command": "step", "count": 2.0})
	require.NoError(t, err)
	assert.Equal(t, 2.0, resp["step"])
}
