package iiwa_guard

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
)

// Mode selects how a session is driven.
type Mode int

const (
	// GUI sessions carry the debug UI (sliders, debug text) and are meant to be viewed.
	GUI Mode = iota
	// Direct sessions are headless; they are used for geometry queries only.
	Direct
)

func (m Mode) String() string {
	switch m {
	case GUI:
		return "gui"
	case Direct:
		return "direct"
	default:
		return "unknown"
	}
}

// DefaultTimeStep is the simulated time advanced by one Step, in seconds.
const DefaultTimeStep = 1.0 / 240.0

var (
	ErrNoGUI        = errors.New("debug UI is only available in GUI sessions")
	ErrUnknownBody  = errors.New("unknown body")
	ErrUnknownJoint = errors.New("joint index out of range")

	sessionIDs atomic.Int64
)

// BodyID identifies a body inside one session.
type BodyID int

type body struct {
	id        BodyID
	asset     *asset
	position  r3.Vector // base position, mm
	fixedBase bool

	// articulated
	model  referenceframe.Model
	joints []float64

	// rigid
	geometry spatialmath.Geometry
}

// Session is one simulated world. Sessions share nothing; a scene that must be
// visible in two sessions is loaded into both.
type Session struct {
	id         int
	mode       Mode
	logger     logging.Logger
	searchPath string
	timeStep   float64

	mu      sync.RWMutex
	bodies  []*body
	step    uint64
	simTime float64
	debug   *debugUI

	// serialises multi-call queries such as reset-then-measure
	queryMu sync.Mutex
}

// SessionOption configures Connect.
type SessionOption func(*Session)

// WithTimeStep overrides DefaultTimeStep.
func WithTimeStep(seconds float64) SessionOption {
	return func(s *Session) {
		if seconds > 0 && !math.IsInf(seconds, 1) {
			s.timeStep = seconds
		}
	}
}

// Connect starts a new session in the given mode.
func Connect(mode Mode, logger logging.Logger, opts ...SessionOption) *Session {
	s := &Session{
		id:       int(sessionIDs.Add(1)),
		mode:     mode,
		logger:   logger,
		timeStep: DefaultTimeStep,
	}
	if mode == GUI {
		s.debug = newDebugUI()
	}
	for _, opt := range opts {
		opt(s)
	}
	logger.Debugf("connected %s session %d", mode, s.id)
	return s
}

func (s *Session) ID() int    { return s.id }
func (s *Session) Mode() Mode { return s.mode }

// SetAdditionalSearchPath changes where assets are looked up for later LoadBody calls.
func (s *Session) SetAdditionalSearchPath(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchPath = dir
}

// LoadBody adds a body built from assetName with its base at position (metres).
// Only fixed-base bodies are simulated; a floating base is accepted but never moves.
func (s *Session) LoadBody(assetName string, position r3.Vector, fixedBase bool) (BodyID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := resolveAsset(assetName, s.searchPath)
	if err != nil {
		return -1, err
	}

	b := &body{
		id:        BodyID(len(s.bodies)),
		asset:     a,
		position:  position.Mul(1000),
		fixedBase: fixedBase,
	}

	if a.articulated() {
		model, err := a.buildModel(fmt.Sprintf("%s_%d", strings.TrimSuffix(assetName, ".urdf"), b.id))
		if err != nil {
			return -1, fmt.Errorf("failed to build kinematic model for %q: %w", assetName, err)
		}
		b.model = model
		b.joints = make([]float64, len(model.DoF()))
	} else {
		center := spatialmath.NewPoseFromPoint(b.position.Add(a.offset))
		b.geometry, err = spatialmath.NewBox(center, a.dims, fmt.Sprintf("body_%d", b.id))
		if err != nil {
			return -1, fmt.Errorf("failed to build geometry for %q: %w", assetName, err)
		}
	}

	if !fixedBase {
		s.logger.Warnf("body %d (%s) requested a floating base; it will stay in place", b.id, assetName)
	}

	s.bodies = append(s.bodies, b)
	return b.id, nil
}

func (s *Session) lookup(id BodyID) (*body, error) {
	if id < 0 || int(id) >= len(s.bodies) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBody, id)
	}
	return s.bodies[id], nil
}

// NumBodies returns how many bodies were loaded.
func (s *Session) NumBodies() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bodies)
}

// NumJoints returns the number of movable joints of a body. Rigid bodies have none.
func (s *Session) NumJoints(id BodyID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	return len(b.joints), nil
}

// JointNames returns the joint ids of an articulated body in joint index order.
func (s *Session) JointNames(id BodyID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), b.asset.jointNames...), nil
}

// HasLink reports whether an articulated body has a link with the given id.
func (s *Session) HasLink(id BodyID, link string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	for _, l := range b.asset.linkNames {
		if l == link {
			return true, nil
		}
	}
	return false, nil
}

// ResetJointState teleports one joint to value (radians), bypassing dynamics.
func (s *Session) ResetJointState(id BodyID, joint int, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.lookup(id)
	if err != nil {
		return err
	}
	if joint < 0 || joint >= len(b.joints) {
		return fmt.Errorf("%w: body %d has %d joints, got index %d", ErrUnknownJoint, id, len(b.joints), joint)
	}
	b.joints[joint] = value
	return nil
}

// ResetJointStates teleports all joints of a body at once.
func (s *Session) ResetJointStates(id BodyID, values []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.lookup(id)
	if err != nil {
		return err
	}
	if len(values) != len(b.joints) {
		return fmt.Errorf("body %d has %d joints, got %d values", id, len(b.joints), len(values))
	}
	copy(b.joints, values)
	return nil
}

// JointStates returns a copy of the joint values of a body.
func (s *Session) JointStates(id BodyID) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), b.joints...), nil
}

// Model returns the kinematic model of an articulated body, or nil for rigid bodies.
func (s *Session) Model(id BodyID) (referenceframe.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return b.model, nil
}

// Geometries returns the world frame collision geometries of a body. A non-empty
// link restricts the result to that link of an articulated body.
func (s *Session) Geometries(id BodyID, link string) ([]spatialmath.Geometry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return b.worldGeometries(link)
}

func (b *body) worldGeometries(link string) ([]spatialmath.Geometry, error) {
	if b.model == nil {
		if link != "" {
			return nil, fmt.Errorf("body %d (%s) has no link %q", b.id, b.asset.name, link)
		}
		return []spatialmath.Geometry{b.geometry}, nil
	}

	gif, err := b.model.Geometries(toInputs(b.joints))
	if err != nil {
		return nil, fmt.Errorf("failed to compute geometries of body %d: %w", b.id, err)
	}

	base := spatialmath.NewPoseFromPoint(b.position)
	var out []spatialmath.Geometry
	for _, g := range gif.Geometries() {
		if link != "" && !strings.HasSuffix(g.Label(), link) {
			continue
		}
		out = append(out, g.Transform(base))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("body %d (%s) has no geometry for link %q", b.id, b.asset.name, link)
	}
	return out, nil
}

// Step advances the simulation by one time step.
func (s *Session) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step++
	s.simTime += s.timeStep
	if s.debug != nil {
		s.debug.expire(s.simTime)
	}
}

// StepCount returns how many times Step was called.
func (s *Session) StepCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step
}

// exclusive runs fn while no other exclusive query runs on the session.
func (s *Session) exclusive(fn func() error) error {
	s.queryMu.Lock()
	defer s.queryMu.Unlock()
	return fn()
}

func toInputs(values []float64) []referenceframe.Input {
	inputs := make([]referenceframe.Input, len(values))
	for i, v := range values {
		inputs[i] = referenceframe.Input(v)
	}
	return inputs
}

func fromInputs(inputs []referenceframe.Input) []float64 {
	values := make([]float64, len(inputs))
	for i, in := range inputs {
		values[i] = float64(in)
	}
	return values
}
