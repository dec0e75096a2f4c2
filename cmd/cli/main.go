// Package main drives a collision guard arm through a fixed sequence of poses.
package main

import (
	"context"
	"errors"
	"flag"
	"math"

	iiwaGuard "iiwa_guard"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/utils"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

type pose struct {
	name   string
	joints []float64 // radians
}

var poses = []pose{
	{"home", []float64{0, 0, 0, 0, 0, 0, 0}},
	{"base rotated 60 degrees", []float64{math.Pi / 3, 0, 0, 0, 0, 0, 0}},
	{"lean toward cube1", []float64{math.Pi / 4, math.Pi / 6, 0, 0, 0, 0, 0}},
	{"into cube1", []float64{math.Pi / 4, math.Pi / 2, 0, 0, 0, 0, 0}},
	{"into cube2", []float64{math.Pi / 4, -math.Pi / 2, 0, 0, 0, 0, 0}},
	{"wrist roll", []float64{0, 0, 0, 0, 0, 0, 2 * math.Pi / 3}},
	{"home", []float64{0, 0, 0, 0, 0, 0, 0}},
}

func realMain() error {
	ctx := context.Background()
	logger := logging.NewLogger("iiwa-guard-cli")

	cfg := iiwaGuard.GuardArmConfig{}
	debug := false

	flag.StringVar(&cfg.SceneFile, "scene", cfg.SceneFile, "scene YAML file (default: built-in scene)")
	flag.Float64Var(&cfg.CollisionMargin, "margin", cfg.CollisionMargin, "collision margin in metres")
	flag.BoolVar(&cfg.CheckPath, "check-path", cfg.CheckPath, "check interpolated poses too")
	flag.BoolVar(&debug, "debug", debug, "debug")
	flag.Parse()

	if debug {
		logger.SetLevel(logging.DEBUG)
	}

	if _, _, err := cfg.Validate(""); err != nil {
		return err
	}

	a, err := iiwaGuard.NewGuardArm(ctx, arm.Named("iiwa"), &cfg, logger)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(func() error {
		return a.Close(ctx)
	})

	if _, err := runPoses(ctx, a, poses, logger); err != nil {
		return err
	}

	warnings, err := a.DoCommand(ctx, map[string]interface{}{"command": "warnings"})
	if err != nil {
		return err
	}
	logger.Infof("Movement tests completed, %v poses refused", warnings["avoided"])
	return nil
}

// runPoses commands each pose in turn and reports which ones were applied.
// Refused poses are logged and skipped; any other error stops the sequence.
func runPoses(ctx context.Context, a arm.Arm, poses []pose, logger logging.Logger) ([]bool, error) {
	applied := make([]bool, 0, len(poses))
	for i, p := range poses {
		logger.Infof("Test %d: moving to %s...", i+1, p.name)

		inputs := make([]referenceframe.Input, len(p.joints))
		for j, v := range p.joints {
			inputs[j] = referenceframe.Input(v)
		}

		err := a.MoveToJointPositions(ctx, inputs, nil)
		switch {
		case errors.Is(err, iiwaGuard.ErrCollisionAvoided):
			logger.Warnf("Refused: %v", err)
			applied = append(applied, false)
		case err != nil:
			return applied, err
		default:
			logger.Infof("Moved to %s", p.name)
			applied = append(applied, true)
		}

		report, err := a.DoCommand(ctx, map[string]interface{}{"command": "distances"})
		if err != nil {
			return applied, err
		}
		logger.Infof("Distance to obstacles = %v", report["distances"])
	}
	return applied, nil
}
