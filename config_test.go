package iiwa_guard

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func TestGuardArmConfigValidate(t *testing.T) {
	limits := func(n int) [][2]float64 {
		out := make([][2]float64, n)
		for i := range out {
			out[i] = [2]float64{-170, 170}
		}
		return out
	}

	tests := []struct {
		name    string
		cfg     GuardArmConfig
		wantErr string
	}{
		{name: "empty", cfg: GuardArmConfig{}},
		{name: "full", cfg: GuardArmConfig{
			SceneFile:         "kitchen.yaml",
			CollisionMargin:   0.05,
			JointLimitsDeg:    limits(7),
			CheckPath:         true,
			PathResolutionDeg: 1,
		}},
		{name: "negative margin", cfg: GuardArmConfig{CollisionMargin: -0.1}, wantErr: "collision_margin"},
		{name: "negative resolution", cfg: GuardArmConfig{PathResolutionDeg: -1}, wantErr: "path_resolution_deg"},
		{name: "too few limits", cfg: GuardArmConfig{JointLimitsDeg: limits(6)}, wantErr: "expected 7 joint limits"},
		{name: "inverted limit", cfg: GuardArmConfig{JointLimitsDeg: append(limits(6), [2]float64{10, -10})}, wantErr: "joint 7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, optional, err := tt.cfg.Validate("path")
			assert.Nil(t, deps)
			assert.Nil(t, optional)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestGuardArmConfigDefaults(t *testing.T) {
	cfg := &GuardArmConfig{}
	assert.Equal(t, "robot", cfg.robot())
	assert.Equal(t, MonitoredLink, cfg.monitoredLink())
	assert.Equal(t, defaultMargin, cfg.margin())
	assert.InDelta(t, 2*math.Pi/180, cfg.pathResolution(), 1e-12)
	assert.Nil(t, cfg.jointLimits())

	cfg = &GuardArmConfig{
		Robot:             "iiwa",
		MonitoredLink:     "lbr_iiwa_link_6",
		CollisionMargin:   0.1,
		PathResolutionDeg: 90,
		JointLimitsDeg:    [][2]float64{{-180, 90}},
	}
	assert.Equal(t, "iiwa", cfg.robot())
	assert.Equal(t, "lbr_iiwa_link_6", cfg.monitoredLink())
	assert.Equal(t, 0.1, cfg.margin())
	assert.InDelta(t, math.Pi/2, cfg.pathResolution(), 1e-12)
	require.Len(t, cfg.jointLimits(), 1)
	assert.InDelta(t, -math.Pi, cfg.jointLimits()[0][0], 1e-12)
	assert.InDelta(t, math.Pi/2, cfg.jointLimits()[0][1], 1e-12)
}

func TestGuardArmConfigPairs(t *testing.T) {
	bodies := Bodies{"ground": 0, "robot": 1, "cube1": 2, "cube2": 3, "cube3": 4}

	t.Run("every other body by default", func(t *testing.T) {
		pairs := (&GuardArmConfig{}).pairs(bodies)
		var names []string
		for _, p := range pairs {
			names = append(names, p.String())
		}
		assert.Equal(t, []string{
			"robot:lbr_iiwa_link_7<->cube1",
			"robot:lbr_iiwa_link_7<->cube2",
			"robot:lbr_iiwa_link_7<->cube3",
			"robot:lbr_iiwa_link_7<->ground",
		}, names)
	})

	t.Run("explicit obstacles", func(t *testing.T) {
		pairs := (&GuardArmConfig{Obstacles: []string{"cube2"}, MonitoredLink: "lbr_iiwa_link_5"}).pairs(bodies)
		require.Len(t, pairs, 1)
		assert.Equal(t, "robot:lbr_iiwa_link_5<->cube2", pairs[0].String())
	})
}

func TestModuleDataPath(t *testing.T) {
	t.Setenv("VIAM_MODULE_DATA", "/data/module")
	assert.Equal(t, "", moduleDataPath(""))
	assert.Equal(t, "/abs/scene.yaml", moduleDataPath("/abs/scene.yaml"))
	assert.Equal(t, "/data/module/scene.yaml", moduleDataPath("scene.yaml"))

	t.Setenv("VIAM_MODULE_DATA", "")
	assert.Equal(t, "/tmp/scene.yaml", moduleDataPath("scene.yaml"))
}

func TestLoadSceneFile(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	t.Setenv("VIAM_MODULE_DATA", dir)

	t.Run("built-in scene when unset", func(t *testing.T) {
		sc, path, err := LoadSceneFile("", logger)
		require.NoError(t, err)
		assert.Empty(t, path)
		assert.Equal(t, DefaultScene(), sc)
	})

	t.Run("relative to module data", func(t *testing.T) {
		writeFile(t, dir, "pair.yaml", "bodies:\n  - {name: robot, asset: kuka_iiwa/model.urdf}\n  - {name: wall, asset: cube.urdf, position: [0, 1, 0.5]}\n")
		sc, path, err := LoadSceneFile("pair.yaml", logger)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "pair.yaml"), path)
		assert.Len(t, sc.Bodies, 2)
	})

	t.Run("missing file", func(t *testing.T) {
		_, path, err := LoadSceneFile("missing.yaml", logger)
		assert.ErrorContains(t, err, "failed to load scene")
		assert.Equal(t, filepath.Join(dir, "missing.yaml"), path)
	})
}
