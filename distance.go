// distance.go - obstacle distance sensor
package iiwa_guard

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var (
	ObstacleDistanceModel = resource.NewModel("devrel", "iiwa", "obstacle-distance")
)

func init() {
	resource.RegisterComponent(sensor.API, ObstacleDistanceModel,
		resource.Registration[sensor.Sensor, *ObstacleDistanceConfig]{
			Constructor: newObstacleDistanceSensor,
		},
	)
}

// ObstacleDistanceConfig represents the configuration for the distance sensor
type ObstacleDistanceConfig struct {
	Arm string `json:"arm"` // Required: the arm whose joints are measured

	// Same meaning as on the guard arm; keep them equal to share its collision world.
	SceneFile     string   `json:"scene_file,omitempty"`
	Robot         string   `json:"robot,omitempty"`
	MonitoredLink string   `json:"monitored_link,omitempty"`
	Obstacles     []string `json:"obstacles,omitempty"`

	// Used when the arm cannot report its own margin.
	CollisionMargin float64 `json:"collision_margin,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *ObstacleDistanceConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Arm == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "arm")
	}
	if cfg.CollisionMargin < 0 {
		return nil, nil, fmt.Errorf("collision_margin must not be negative, got %.4f", cfg.CollisionMargin)
	}
	return []string{cfg.Arm}, nil, nil
}

func (cfg *ObstacleDistanceConfig) guardConfig() *GuardArmConfig {
	return &GuardArmConfig{
		SceneFile:       cfg.SceneFile,
		Robot:           cfg.Robot,
		MonitoredLink:   cfg.MonitoredLink,
		Obstacles:       cfg.Obstacles,
		CollisionMargin: cfg.CollisionMargin,
	}
}

// obstacleDistanceSensor reports how far the monitored link of an arm is from
// each obstacle at the arm's current joint positions.
type obstacleDistanceSensor struct {
	resource.Named
	resource.AlwaysRebuild

	logger   logging.Logger
	arm      arm.Arm
	margin   float64
	worldKey string
	detector *CollisionDetector
}

func newObstacleDistanceSensor(
	ctx context.Context,
	deps resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*ObstacleDistanceConfig](rawConf)
	if err != nil {
		return nil, err
	}

	a, err := arm.FromDependencies(deps, conf.Arm)
	if err != nil {
		return nil, fmt.Errorf("failed to get arm %q: %w", conf.Arm, err)
	}
	return NewObstacleDistanceSensor(rawConf.ResourceName(), conf, a, logger)
}

// NewObstacleDistanceSensor creates a distance sensor watching a.
func NewObstacleDistanceSensor(name resource.Name, conf *ObstacleDistanceConfig, a arm.Arm, logger logging.Logger) (sensor.Sensor, error) {
	gc := conf.guardConfig()

	world, key, err := GetSharedWorld(gc.SceneFile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get collision world: %w", err)
	}
	detector, err := NewCollisionDetector(world.Session, world.Bodies, gc.pairs(world.Bodies), WithRobot(gc.robot()))
	if err != nil {
		ReleaseSharedWorld(key)
		return nil, fmt.Errorf("failed to create collision detector: %w", err)
	}

	logger.Infof("Obstacle distance sensor initialized for arm %q with pairs %v", conf.Arm, detector.Pairs())
	return &obstacleDistanceSensor{
		Named:    name.AsNamed(),
		logger:   logger,
		arm:      a,
		margin:   gc.margin(),
		worldKey: key,
		detector: detector,
	}, nil
}

// Readings returns per pair distances in metres for the arm's current joints
func (s *obstacleDistanceSensor) Readings(ctx context.Context, extra map[string]any) (map[string]any, error) {
	inputs, err := s.arm.JointPositions(ctx, extra)
	if err != nil {
		return nil, fmt.Errorf("failed to read joint positions: %w", err)
	}
	return s.report(ctx, fromInputs(inputs))
}

func (s *obstacleDistanceSensor) report(ctx context.Context, q []float64) (map[string]any, error) {
	dists, err := s.detector.ComputeDistances(q)
	if err != nil {
		return nil, err
	}
	margin := s.currentMargin(ctx)

	closestDist := minDistance(dists)
	named := make(map[string]any, len(dists))
	closest := ""
	for i, p := range s.detector.Pairs() {
		named[p.String()] = dists[i]
		if closest == "" && dists[i] == closestDist {
			closest = p.String()
		}
	}
	joints := make([]any, len(q))
	for i, v := range q {
		joints[i] = v
	}

	return map[string]any{
		"distances":    named,
		"min_distance": closestDist,
		"closest_pair": closest,
		"margin":       margin,
		"in_collision": anyBelow(dists, margin),
		"joints":       joints,
	}, nil
}

// currentMargin asks the arm first so set_margin on the guard is honoured.
func (s *obstacleDistanceSensor) currentMargin(ctx context.Context) float64 {
	resp, err := s.arm.DoCommand(ctx, map[string]any{"command": "get_margin"})
	if err != nil {
		s.logger.Debugf("arm did not report a margin, using %.4f m: %v", s.margin, err)
		return s.margin
	}
	if m, ok := resp["margin"].(float64); ok {
		return m
	}
	return s.margin
}

// DoCommand handles distance queries for arbitrary joint positions
func (s *obstacleDistanceSensor) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("command must be a string")
	}

	switch command {
	case "distances":
		raw, ok := cmd["positions"].([]any)
		if !ok {
			return s.Readings(ctx, nil)
		}
		q := make([]float64, len(raw))
		for i, v := range raw {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("positions[%d] must be a number, got %T", i, v)
			}
			q[i] = f
		}
		if err := checkFinite(q); err != nil {
			return nil, err
		}
		return s.report(ctx, q)

	case "pairs":
		pairs := []any{}
		for _, p := range s.detector.Pairs() {
			pairs = append(pairs, p.String())
		}
		return map[string]any{"pairs": pairs}, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

func (s *obstacleDistanceSensor) Close(ctx context.Context) error {
	ReleaseSharedWorld(s.worldKey)
	return nil
}
