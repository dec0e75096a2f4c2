// discovery.go
package iiwa_guard

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

var SceneDiscoveryModel = resource.NewModel("devrel", "iiwa", "scene-discovery")

func init() {
	resource.RegisterService(
		discovery.API,
		SceneDiscoveryModel,
		resource.Registration[discovery.Service, *SceneDiscoveryConfig]{
			Constructor: newSceneDiscovery,
		})
}

// SceneDiscoveryConfig is the configuration for the discovery service
type SceneDiscoveryConfig struct {
	// Directory to scan; defaults to VIAM_MODULE_DATA.
	Dir string `json:"dir,omitempty"`
}

// Validate ensures the config is valid
func (cfg *SceneDiscoveryConfig) Validate(path string) ([]string, []string, error) {
	return nil, nil, nil
}

// sceneDiscovery proposes a guard arm and a distance sensor per scene file
type sceneDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	dir    string
	logger logging.Logger
}

func newSceneDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*SceneDiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}
	return NewSceneDiscovery(conf.ResourceName(), cfg, logger), nil
}

// NewSceneDiscovery creates the discovery service
func NewSceneDiscovery(name resource.Name, cfg *SceneDiscoveryConfig, logger logging.Logger) discovery.Service {
	dir := cfg.Dir
	if dir == "" {
		dir = os.Getenv("VIAM_MODULE_DATA")
	}
	return &sceneDiscovery{
		Named:  name.AsNamed(),
		dir:    dir,
		logger: logger,
	}
}

// DiscoverResources returns configs for the built-in scene and for every valid scene file in the data directory
func (dis *sceneDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting iiwa scene discovery")

	allConfigs := generateConfigs("", "default")

	candidates := filterSceneFiles(listFiles(dis.dir))
	dis.logger.Debugf("Found %d candidate scene files in %q", len(candidates), dis.dir)

	for _, path := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return allConfigs, ctx.Err()
		default:
		}

		if _, err := LoadScene(path); err != nil {
			dis.logger.Debugf("Skipping %s: %v", path, err)
			continue
		}
		allConfigs = append(allConfigs, generateConfigs(dis.sceneFileAttr(path), extractSceneSuffix(path))...)
	}

	dis.logger.Infof("Discovered %d component configurations", len(allConfigs))
	return allConfigs, nil
}

// sceneFileAttr keeps scene_file relative when the file lives in the module
// data directory, where resources resolve it.
func (dis *sceneDiscovery) sceneFileAttr(path string) string {
	if filepath.Dir(path) == filepath.Clean(os.Getenv("VIAM_MODULE_DATA")) {
		return filepath.Base(path)
	}
	return path
}

// generateConfigs creates a guard arm and a distance sensor reading from it
func generateConfigs(sceneFile, suffix string) []resource.Config {
	armName := "iiwa-guard-" + suffix

	armAttrs := map[string]interface{}{}
	sensorAttrs := map[string]interface{}{"arm": armName}
	if sceneFile != "" {
		armAttrs["scene_file"] = sceneFile
		sensorAttrs["scene_file"] = sceneFile
	}

	return []resource.Config{
		{
			Name:       armName,
			API:        arm.API,
			Model:      GuardArmModel,
			Attributes: armAttrs,
		},
		{
			Name:       "iiwa-distance-" + suffix,
			API:        sensor.API,
			Model:      ObstacleDistanceModel,
			Attributes: sensorAttrs,
		},
	}
}

// filterSceneFiles keeps YAML files, skipping hidden ones
func filterSceneFiles(files []string) []string {
	candidates := []string{}
	for _, f := range files {
		if isSceneFile(f) {
			candidates = append(candidates, f)
		}
	}
	return candidates
}

func isSceneFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	return ext == ".yaml" || ext == ".yml"
}

// extractSceneSuffix derives a resource name suffix from a scene file
// /data/kitchen.yaml -> "kitchen"
// /data/Two Tables.yml -> "two-tables"
func extractSceneSuffix(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.ToLower(base)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, base)
}

// listFiles returns the regular files of dir in name order
func listFiles(dir string) []string {
	if dir == "" {
		return []string{}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{}
	}

	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths
}
