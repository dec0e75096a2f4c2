package iiwa_guard

import (
	"fmt"
	"os"
	"sort"

	"github.com/golang/geo/r3"
	"gopkg.in/yaml.v3"
)

// Bodies maps convenient body names to the identifiers of one session.
type Bodies map[string]BodyID

// Names returns the body names in sorted order.
func (b Bodies) Names() []string {
	names := make([]string, 0, len(b))
	for n := range b {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BodySpec describes one body of a scene. Position is in metres.
type BodySpec struct {
	Name      string     `yaml:"name"`
	Asset     string     `yaml:"asset"`
	Position  [3]float64 `yaml:"position"`
	FixedBase *bool      `yaml:"fixed_base,omitempty"`
}

func (b BodySpec) fixed() bool {
	return b.FixedBase == nil || *b.FixedBase
}

// Scene is the list of bodies loaded into every session of a run.
type Scene struct {
	SearchPath string     `yaml:"search_path,omitempty"`
	Bodies     []BodySpec `yaml:"bodies"`
}

// DefaultScene is the ground plane, the iiwa arm at the origin and three cubes.
func DefaultScene() *Scene {
	return &Scene{
		Bodies: []BodySpec{
			{Name: "ground", Asset: AssetPlane},
			{Name: "robot", Asset: AssetKukaIiwa},
			{Name: "cube1", Asset: AssetCube, Position: [3]float64{1, 1, 0.5}},
			{Name: "cube2", Asset: AssetCube, Position: [3]float64{-1, -1, 0.5}},
			{Name: "cube3", Asset: AssetCube, Position: [3]float64{1, -1, 0.5}},
		},
	}
}

// LoadScene reads a scene from a YAML file.
func LoadScene(path string) (*Scene, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scene
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sc, nil
}

// Validate checks that every body has a unique name and an asset.
func (sc *Scene) Validate() error {
	if len(sc.Bodies) == 0 {
		return fmt.Errorf("scene has no bodies")
	}
	seen := map[string]bool{}
	for i, b := range sc.Bodies {
		if b.Name == "" {
			return fmt.Errorf("body %d has no name", i)
		}
		if b.Asset == "" {
			return fmt.Errorf("body %q has no asset", b.Name)
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate body name %q", b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}

// LoadEnvironment loads every body of the scene into the session.
func LoadEnvironment(s *Session, sc *Scene) (Bodies, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if sc.SearchPath != "" {
		s.SetAdditionalSearchPath(sc.SearchPath)
	}

	bodies := Bodies{}
	for _, b := range sc.Bodies {
		pos := r3.Vector{X: b.Position[0], Y: b.Position[1], Z: b.Position[2]}
		id, err := s.LoadBody(b.Asset, pos, b.fixed())
		if err != nil {
			return nil, fmt.Errorf("loading body %q: %w", b.Name, err)
		}
		bodies[b.Name] = id
	}
	return bodies, nil
}
