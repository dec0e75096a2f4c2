package iiwa_guard

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"
)

var (
	GuardArmModel = resource.NewModel("devrel", "iiwa", "collision-guard")

	// ErrCollisionAvoided is returned when a commanded pose would come closer
	// to an obstacle than the collision margin.
	ErrCollisionAvoided = errors.New("avoiding collision")
)

// maxStepCount bounds the step DoCommand.
const maxStepCount = 100000

func init() {
	resource.RegisterComponent(arm.API, GuardArmModel,
		resource.Registration[arm.Arm, *GuardArmConfig]{
			Constructor: newGuardArm,
		},
	)
}

// guardArm is a simulated iiwa whose joint commands are screened against a
// shared headless collision world before they reach its own GUI session.
type guardArm struct {
	resource.Named
	resource.AlwaysRebuild

	logger logging.Logger
	cfg    *GuardArmConfig
	opMgr  *operation.SingleOperationManager

	worldKey string
	detector *CollisionDetector

	gui   *Session
	robot BodyID
	model referenceframe.Model

	jointLimits    [][2]float64
	pathResolution float64

	mu       sync.RWMutex
	margin   float64
	avoided  uint64
	lastTick time.Time

	timeSimulation *goutils.StoppableWorkers
}

func newGuardArm(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (arm.Arm, error) {
	conf, err := resource.NativeConfig[*GuardArmConfig](rawConf)
	if err != nil {
		return nil, err
	}
	return NewGuardArm(ctx, rawConf.ResourceName(), conf, logger)
}

// NewGuardArm builds a guard arm from an already validated config.
func NewGuardArm(ctx context.Context, name resource.Name, conf *GuardArmConfig, logger logging.Logger) (arm.Arm, error) {
	world, key, err := GetSharedWorld(conf.SceneFile, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get collision world")
	}

	a, err := newGuardArmInWorld(name, conf, world, logger)
	if err != nil {
		ReleaseSharedWorld(key)
		return nil, err
	}
	a.worldKey = key

	if conf.SimulateTime {
		a.lastTick = time.Now()
		a.timeSimulation = goutils.NewStoppableWorkerWithTicker(10*time.Millisecond, func(_ context.Context) {
			a.advance(time.Now())
		})
	}

	logger.Infof("iiwa collision guard initialized: robot %q, margin %.3f m, pairs %v",
		conf.robot(), a.margin, a.detector.Pairs())
	return a, nil
}

func newGuardArmInWorld(name resource.Name, conf *GuardArmConfig, world *SharedWorld, logger logging.Logger) (*guardArm, error) {
	detector, err := NewCollisionDetector(world.Session, world.Bodies, conf.pairs(world.Bodies), WithRobot(conf.robot()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create collision detector")
	}

	gui := Connect(GUI, logger)
	bodies, err := LoadEnvironment(gui, world.Scene)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load scene into the arm session")
	}
	robot := bodies[conf.robot()]
	model, err := gui.Model(robot)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("body %q has no kinematic model", conf.robot())
	}

	limits := conf.jointLimits()
	if limits != nil && len(limits) != detector.DoF() {
		return nil, fmt.Errorf("expected %d joint limits for %q, got %d", detector.DoF(), conf.robot(), len(limits))
	}

	return &guardArm{
		Named:          name.AsNamed(),
		logger:         logger,
		cfg:            conf,
		opMgr:          operation.NewSingleOperationManager(),
		detector:       detector,
		gui:            gui,
		robot:          robot,
		model:          model,
		jointLimits:    limits,
		pathResolution: conf.pathResolution(),
		margin:         conf.margin(),
	}, nil
}

// advance steps the arm session to catch up with the wall clock.
func (a *guardArm) advance(now time.Time) {
	a.mu.Lock()
	n := int(now.Sub(a.lastTick).Seconds() / a.gui.timeStep)
	if n > 0 {
		a.lastTick = a.lastTick.Add(time.Duration(float64(n) * a.gui.timeStep * float64(time.Second)))
	}
	a.mu.Unlock()

	for i := 0; i < n; i++ {
		a.gui.Step()
	}
}

func (a *guardArm) Close(context.Context) error {
	a.logger.Info("Closing iiwa collision guard")
	if a.timeSimulation != nil {
		a.timeSimulation.Stop()
	}
	a.opMgr.CancelRunning(context.Background())
	ReleaseSharedWorld(a.worldKey)
	return nil
}

func (a *guardArm) EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error) {
	inputs, err := a.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	pose, err := a.model.Transform(inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to compute end position: %w", err)
	}
	return pose, nil
}

func (a *guardArm) MoveToPosition(ctx context.Context, pose spatialmath.Pose, extra map[string]interface{}) error {
	return errors.New("unimplemented -- must call with explicit joint positions")
}

// MoveToJointPositions applies positions unless they, or the path to them when
// check_path is set, come closer to an obstacle than the margin.
func (a *guardArm) MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error {
	ctx, done := a.opMgr.New(ctx)
	defer done()

	if len(positions) != a.detector.DoF() {
		return fmt.Errorf("expected %d joint positions, got %d", a.detector.DoF(), len(positions))
	}
	target := fromInputs(positions)
	if err := checkFinite(target); err != nil {
		return err
	}
	target = a.clampToLimits(target)

	checks := [][]float64{target}
	if a.cfg.CheckPath {
		current, err := a.gui.JointStates(a.robot)
		if err != nil {
			return err
		}
		checks = interpolate(current, target, a.pathResolution)
	}

	a.mu.RLock()
	margin := a.margin
	a.mu.RUnlock()

	var dists []float64
	for _, q := range checks {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		dists, err = a.detector.ComputeDistances(q)
		if err != nil {
			return err
		}
		if anyBelow(dists, margin) {
			return a.refuse(dists, margin)
		}
	}

	if err := UpdateRobotState(a.gui, a.robot, target); err != nil {
		return err
	}
	a.logger.Debugf("Distance to obstacles = %v", dists)
	if a.timeSimulation == nil {
		a.gui.Step()
	}
	return nil
}

func (a *guardArm) refuse(dists []float64, margin float64) error {
	if _, err := a.gui.AddUserDebugText(WarningText, warningPosition, warningColor, warningSize, warningLifetime); err != nil {
		a.logger.Warnf("failed to show collision warning: %v", err)
	}
	a.mu.Lock()
	a.avoided++
	a.mu.Unlock()
	if a.timeSimulation == nil {
		a.gui.Step()
	}

	a.logger.Debugf("Distance to obstacles = %v", dists)
	return fmt.Errorf("%w: min distance %.4f m below margin %.4f m", ErrCollisionAvoided, minDistance(dists), margin)
}

func (a *guardArm) clampToLimits(q []float64) []float64 {
	if a.jointLimits == nil {
		return q
	}
	for i, angle := range q {
		lo, hi := a.jointLimits[i][0], a.jointLimits[i][1]
		if angle < lo {
			a.logger.Warnf("Joint %d angle %.3f rad below limit %.3f rad, clamping", i+1, angle, lo)
			q[i] = lo
		} else if angle > hi {
			a.logger.Warnf("Joint %d angle %.3f rad above limit %.3f rad, clamping", i+1, angle, hi)
			q[i] = hi
		}
	}
	return q
}

// interpolate returns configurations from just after from up to and including
// to, no joint changing by more than step between two of them.
func interpolate(from, to []float64, step float64) [][]float64 {
	maxDelta := 0.0
	for i := range to {
		maxDelta = math.Max(maxDelta, math.Abs(to[i]-from[i]))
	}
	n := int(math.Ceil(maxDelta / step))
	if n < 1 {
		n = 1
	}
	out := make([][]float64, 0, n)
	for k := 1; k <= n; k++ {
		t := float64(k) / float64(n)
		q := make([]float64, len(to))
		for i := range to {
			q[i] = from[i] + t*(to[i]-from[i])
		}
		out = append(out, q)
	}
	return out
}

func (a *guardArm) MoveThroughJointPositions(ctx context.Context, positions [][]referenceframe.Input, options *arm.MoveOptions, extra map[string]interface{}) error {
	for _, jointPositions := range positions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.MoveToJointPositions(ctx, jointPositions, extra); err != nil {
			return err
		}
	}
	return nil
}

func (a *guardArm) JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error) {
	q, err := a.gui.JointStates(a.robot)
	if err != nil {
		return nil, fmt.Errorf("failed to read joint positions: %w", err)
	}
	return toInputs(q), nil
}

func (a *guardArm) Stop(ctx context.Context, extra map[string]interface{}) error {
	a.opMgr.CancelRunning(ctx)
	return nil
}

func (a *guardArm) IsMoving(ctx context.Context) (bool, error) {
	return a.opMgr.OpRunning(), nil
}

func (a *guardArm) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return a.model, nil
}

func (a *guardArm) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return a.JointPositions(ctx, nil)
}

func (a *guardArm) GoToInputs(ctx context.Context, inputSteps ...[]referenceframe.Input) error {
	return a.MoveThroughJointPositions(ctx, inputSteps, nil, nil)
}

func (a *guardArm) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	inputs, err := a.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	gif, err := a.model.Geometries(inputs)
	if err != nil {
		return nil, err
	}
	return gif.Geometries(), nil
}

// Get3DModels returns no meshes; the collision capsules are the only geometry.
func (a *guardArm) Get3DModels(ctx context.Context, extra map[string]interface{}) (map[string]*commonpb.Mesh, error) {
	return map[string]*commonpb.Mesh{}, nil
}

func (a *guardArm) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "distances":
		q, err := a.commandJoints(cmd)
		if err != nil {
			return nil, err
		}
		return a.distanceReport(q)

	case "set_margin":
		margin, ok := cmd["margin"].(float64)
		if !ok {
			return nil, fmt.Errorf("set_margin command requires 'margin' number parameter")
		}
		if margin < 0 || math.IsNaN(margin) || math.IsInf(margin, 0) {
			return nil, fmt.Errorf("margin must be a finite non-negative number, got %v", margin)
		}
		a.mu.Lock()
		a.margin = margin
		a.mu.Unlock()
		return map[string]interface{}{"margin": margin}, nil

	case "get_margin":
		a.mu.RLock()
		defer a.mu.RUnlock()
		return map[string]interface{}{"margin": a.margin}, nil

	case "warnings":
		texts := []interface{}{}
		for _, t := range a.gui.DebugTexts() {
			texts = append(texts, map[string]interface{}{
				"text":     t.Text,
				"position": []interface{}{t.Position[0], t.Position[1], t.Position[2]},
				"lifetime": t.Lifetime,
			})
		}
		a.mu.RLock()
		defer a.mu.RUnlock()
		return map[string]interface{}{"texts": texts, "avoided": float64(a.avoided)}, nil

	case "step":
		count := 1
		if c, ok := cmd["count"].(float64); ok {
			if !(c >= 1 && c <= maxStepCount) {
				return nil, fmt.Errorf("count must be between 1 and %d, got %v", maxStepCount, c)
			}
			count = int(c)
		}
		for i := 0; i < count; i++ {
			a.gui.Step()
		}
		return map[string]interface{}{"step": float64(a.gui.StepCount())}, nil

	case "status":
		refCount, loaded, summary := GetWorldStatus(a.worldKey)
		return map[string]interface{}{
			"world_ref_count": float64(refCount),
			"world_loaded":    loaded,
			"world":           summary,
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

// commandJoints reads optional "positions" (radians) from a command, falling
// back to the current joint positions.
func (a *guardArm) commandJoints(cmd map[string]interface{}) ([]float64, error) {
	raw, ok := cmd["positions"].([]interface{})
	if !ok {
		return a.gui.JointStates(a.robot)
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
	return q, nil
}

// checkFinite rejects NaN and infinite joint values.
func checkFinite(q []float64) error {
	for i, v := range q {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("joint %d position must be finite, got %v", i+1, v)
		}
	}
	return nil
}

func (a *guardArm) distanceReport(q []float64) (map[string]interface{}, error) {
	dists, err := a.detector.ComputeDistances(q)
	if err != nil {
		return nil, err
	}
	a.mu.RLock()
	margin := a.margin
	a.mu.RUnlock()

	named := make(map[string]interface{}, len(dists))
	for i, p := range a.detector.Pairs() {
		named[p.String()] = dists[i]
	}
	return map[string]interface{}{
		"distances":    named,
		"min_distance": minDistance(dists),
		"margin":       margin,
		"in_collision": anyBelow(dists, margin),
	}, nil
}
