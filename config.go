package iiwa_guard

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"go.viam.com/rdk/logging"
)

// GuardArmConfig configures the collision guard arm.
type GuardArmConfig struct {
	// Scene YAML; relative paths resolve against VIAM_MODULE_DATA. Empty means the built-in scene.
	SceneFile string `json:"scene_file,omitempty"`

	Robot         string   `json:"robot,omitempty"`          // body name of the arm (default: "robot")
	MonitoredLink string   `json:"monitored_link,omitempty"` // default: lbr_iiwa_link_7
	Obstacles     []string `json:"obstacles,omitempty"`      // default: every other body of the scene

	CollisionMargin float64 `json:"collision_margin,omitempty"` // metres (default: 0.01)

	// Optional per joint [min, max] in degrees; commands outside are clamped with a warning.
	JointLimitsDeg [][2]float64 `json:"joint_limits_deg,omitempty"`

	// Check interpolated configurations between the current and commanded pose, not just the target.
	CheckPath bool `json:"check_path,omitempty"`
	// Largest joint change between two checked configurations, in degrees (default: 2).
	PathResolutionDeg float64 `json:"path_resolution_deg,omitempty"`

	// Advance the arm session with the wall clock instead of once per command.
	SimulateTime bool `json:"simulate_time,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *GuardArmConfig) Validate(path string) ([]string, []string, error) {
	if cfg.CollisionMargin < 0 {
		return nil, nil, fmt.Errorf("collision_margin must not be negative, got %.4f", cfg.CollisionMargin)
	}
	if cfg.PathResolutionDeg < 0 {
		return nil, nil, fmt.Errorf("path_resolution_deg must not be negative, got %.2f", cfg.PathResolutionDeg)
	}
	if len(cfg.JointLimitsDeg) != 0 && len(cfg.JointLimitsDeg) != numIiwaJoints {
		return nil, nil, fmt.Errorf("expected %d joint limits, got %d", numIiwaJoints, len(cfg.JointLimitsDeg))
	}
	for i, lim := range cfg.JointLimitsDeg {
		if lim[0] >= lim[1] {
			return nil, nil, fmt.Errorf("joint %d: min %.1f must be below max %.1f", i+1, lim[0], lim[1])
		}
	}
	return nil, nil, nil
}

func (cfg *GuardArmConfig) robot() string {
	if cfg.Robot == "" {
		return "robot"
	}
	return cfg.Robot
}

func (cfg *GuardArmConfig) monitoredLink() string {
	if cfg.MonitoredLink == "" {
		return MonitoredLink
	}
	return cfg.MonitoredLink
}

func (cfg *GuardArmConfig) margin() float64 {
	if cfg.CollisionMargin == 0 {
		return defaultMargin
	}
	return cfg.CollisionMargin
}

func (cfg *GuardArmConfig) pathResolution() float64 {
	if cfg.PathResolutionDeg == 0 {
		return 2 * math.Pi / 180
	}
	return cfg.PathResolutionDeg * math.Pi / 180
}

// jointLimits returns the configured limits in radians, or nil.
func (cfg *GuardArmConfig) jointLimits() [][2]float64 {
	if len(cfg.JointLimitsDeg) == 0 {
		return nil
	}
	out := make([][2]float64, len(cfg.JointLimitsDeg))
	for i, lim := range cfg.JointLimitsDeg {
		out[i] = [2]float64{lim[0] * math.Pi / 180, lim[1] * math.Pi / 180}
	}
	return out
}

// pairs monitors the configured link against each obstacle. Without explicit
// obstacles every body other than the robot is one.
func (cfg *GuardArmConfig) pairs(bodies Bodies) []CollisionPair {
	obstacles := cfg.Obstacles
	if len(obstacles) == 0 {
		for _, name := range bodies.Names() {
			if name != cfg.robot() {
				obstacles = append(obstacles, name)
			}
		}
	}
	link := NewNamedCollisionObject(cfg.robot(), cfg.monitoredLink())
	out := make([]CollisionPair, 0, len(obstacles))
	for _, o := range obstacles {
		out = append(out, CollisionPair{A: link, B: NewNamedCollisionObject(o)})
	}
	return out
}

// moduleDataPath resolves a relative file name against VIAM_MODULE_DATA.
func moduleDataPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp" // Fallback if VIAM_MODULE_DATA not set
	}
	return filepath.Join(moduleDataDir, name)
}

// LoadSceneFile loads the scene named by a config. An empty name is the
// built-in scene; a missing or invalid file is an error.
func LoadSceneFile(name string, logger logging.Logger) (*Scene, string, error) {
	if name == "" {
		logger.Debug("No scene file specified, using built-in scene")
		return DefaultScene(), "", nil
	}
	path := moduleDataPath(name)
	sc, err := LoadScene(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to load scene: %w", err)
	}
	logger.Infof("Loaded scene with %d bodies from %s", len(sc.Bodies), path)
	return sc, path, nil
}
