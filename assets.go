package iiwa_guard

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/referenceframe"
)

//go:embed kuka_iiwa.json
var kukaIiwaModelJson []byte

// Asset names understood without a search path. They follow the layout of the
// usual simulator data directory so scene files stay portable.
const (
	AssetPlane    = "plane.urdf"
	AssetKukaIiwa = "kuka_iiwa/model.urdf"
	AssetCube     = "cube.urdf"
)

// Rigid asset dimensions in millimetres.
var (
	planeDims = r3.Vector{X: 100000, Y: 100000, Z: 20}
	cubeDims  = r3.Vector{X: 1000, Y: 1000, Z: 1000}
)

// asset is a resolved body template. Exactly one of kinematics or dims is set.
type asset struct {
	name string

	// articulated bodies
	kinematics []byte
	jointNames []string
	linkNames  []string

	// rigid bodies; offset moves the box centre relative to the base position
	dims   r3.Vector
	offset r3.Vector
}

func (a *asset) articulated() bool {
	return len(a.kinematics) > 0
}

// buildModel parses the kinematics of an articulated asset, recording the joint
// and link ids in file order.
func (a *asset) buildModel(modelName string) (referenceframe.Model, error) {
	m := &referenceframe.ModelConfigJSON{
		OriginalFile: &referenceframe.ModelFile{
			Bytes:     a.kinematics,
			Extension: "json",
		},
	}
	if err := json.Unmarshal(a.kinematics, m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal json file")
	}

	a.jointNames = a.jointNames[:0]
	for _, j := range m.Joints {
		a.jointNames = append(a.jointNames, j.ID)
	}
	a.linkNames = a.linkNames[:0]
	for _, l := range m.Links {
		a.linkNames = append(a.linkNames, l.ID)
	}

	return m.ParseConfig(modelName)
}

// resolveAsset maps an asset name to a template. Built-in names win; anything
// else is looked up relative to searchPath. JSON files are treated as RDK
// kinematics files.
func resolveAsset(name, searchPath string) (*asset, error) {
	switch name {
	case AssetPlane:
		// top face sits at z=0
		return &asset{name: name, dims: planeDims, offset: r3.Vector{Z: -planeDims.Z / 2}}, nil
	case AssetCube:
		return &asset{name: name, dims: cubeDims}, nil
	case AssetKukaIiwa:
		return &asset{name: name, kinematics: kukaIiwaModelJson}, nil
	}

	if !strings.EqualFold(filepath.Ext(name), ".json") {
		return nil, fmt.Errorf("unknown asset %q", name)
	}

	path := name
	if !filepath.IsAbs(path) && searchPath != "" {
		path = filepath.Join(searchPath, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load asset %q: %w", name, err)
	}
	return &asset{name: name, kinematics: data}, nil
}
