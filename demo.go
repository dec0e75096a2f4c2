package iiwa_guard

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
)

const (
	MonitoredLink = "lbr_iiwa_link_7"
	WarningText   = "Avoiding collision"

	warningSize     = 2.0
	warningLifetime = 0.2 // seconds
)

var (
	warningPosition = r3.Vector{X: 0, Y: 0, Z: 1.5}
	warningColor    = [3]float64{1, 0, 0}
)

// DefaultPairs monitors the last iiwa link against the ground and each cube.
func DefaultPairs() []CollisionPair {
	link7 := NewNamedCollisionObject("robot", MonitoredLink)
	var pairs []CollisionPair
	for _, obstacle := range []string{"ground", "cube1", "cube2", "cube3"} {
		pairs = append(pairs, CollisionPair{A: link7, B: NewNamedCollisionObject(obstacle)})
	}
	return pairs
}

// IterationResult is what one pass of the demo loop saw and did.
type IterationResult struct {
	Step        uint64    `json:"step"`
	SimTime     float64   `json:"sim_time"`
	Q           []float64 `json:"q"`
	Distances   []float64 `json:"distances"`
	Margin      float64   `json:"margin"`
	InCollision bool      `json:"in_collision"`
	Applied     bool      `json:"applied"`
}

// StepRecorder receives every iteration.
type StepRecorder interface {
	Record(IterationResult) error
}

// FramePublisher receives the GUI session frame after every step.
type FramePublisher interface {
	Publish(Frame)
}

// DemoConfig configures NewDemo. Zero values select the defaults.
type DemoConfig struct {
	Scene *Scene
	Pairs []CollisionPair

	// StepRate paces the loop in iterations per second; zero runs unpaced.
	StepRate float64
	// MaxSteps stops Run after that many iterations; zero runs until cancelled.
	MaxSteps int
	// Margin overrides the initial collision margin slider, in metres.
	Margin float64
	// LogEvery logs distances at info level every n iterations; zero disables it.
	LogEvery int
	// TimeStep overrides DefaultTimeStep in both sessions, in seconds.
	TimeStep float64

	Recorder  StepRecorder
	Publisher FramePublisher
}

// Demo drives a GUI session from its sliders, refusing poses that the headless
// collision session finds too close to an obstacle.
type Demo struct {
	cfg    DemoConfig
	logger logging.Logger

	gui      *Session
	col      *Session
	bodies   Bodies
	params   *UserParams
	detector *CollisionDetector
	robot    BodyID

	lastInCollision bool
}

// NewDemo connects both sessions, creates the sliders and loads the scene twice.
func NewDemo(cfg DemoConfig, logger logging.Logger) (*Demo, error) {
	if cfg.Scene == nil {
		cfg.Scene = DefaultScene()
	}
	if len(cfg.Pairs) == 0 {
		cfg.Pairs = DefaultPairs()
	}

	gui := Connect(GUI, logger, WithTimeStep(cfg.TimeStep))
	col := Connect(Direct, logger, WithTimeStep(cfg.TimeStep))

	params, err := CreateUserDebugParams(gui)
	if err != nil {
		return nil, err
	}
	if cfg.Margin > 0 {
		if _, err := gui.SetUserDebugParameter(ParamCollisionMargin, cfg.Margin); err != nil {
			return nil, err
		}
	}

	bodies, err := LoadEnvironment(gui, cfg.Scene)
	if err != nil {
		return nil, fmt.Errorf("gui session: %w", err)
	}
	collisionBodies, err := LoadEnvironment(col, cfg.Scene)
	if err != nil {
		return nil, fmt.Errorf("collision session: %w", err)
	}

	detector, err := NewCollisionDetector(col, collisionBodies, cfg.Pairs)
	if err != nil {
		return nil, err
	}

	robot, ok := bodies["robot"]
	if !ok {
		return nil, fmt.Errorf("scene has no body named robot")
	}
	if detector.DoF() != len(params.Joints) {
		return nil, fmt.Errorf("robot has %d joints but %d joint sliders exist", detector.DoF(), len(params.Joints))
	}

	return &Demo{
		cfg:      cfg,
		logger:   logger,
		gui:      gui,
		col:      col,
		bodies:   bodies,
		params:   params,
		detector: detector,
		robot:    robot,
	}, nil
}

// GUI returns the visualized session.
func (d *Demo) GUI() *Session { return d.gui }

// Bodies returns the body ids of the GUI session.
func (d *Demo) Bodies() Bodies { return d.bodies }

// Detector returns the detector bound to the headless session.
func (d *Demo) Detector() *CollisionDetector { return d.detector }

// SetPublisher replaces the frame publisher. Call it before Run.
func (d *Demo) SetPublisher(p FramePublisher) { d.cfg.Publisher = p }

// UpdateRobotState resets every joint of robot to q.
func UpdateRobotState(s *Session, robot BodyID, q []float64) error {
	n, err := s.NumJoints(robot)
	if err != nil {
		return err
	}
	for j := 0; j < n; j++ {
		if err := s.ResetJointState(robot, j, q[j]); err != nil {
			return err
		}
	}
	return nil
}

// Iterate runs one pass of the loop: read sliders, query distances, apply the
// pose or show the warning, then step the GUI session.
func (d *Demo) Iterate() (IterationResult, error) {
	q, err := d.params.ReadJointAngles(d.gui)
	if err != nil {
		return IterationResult{}, err
	}

	dists, err := d.detector.ComputeDistances(q)
	if err != nil {
		return IterationResult{}, err
	}
	margin, err := d.params.ReadMargin(d.gui)
	if err != nil {
		return IterationResult{}, err
	}
	inCollision := anyBelow(dists, margin)

	if !inCollision {
		if err := UpdateRobotState(d.gui, d.robot, q); err != nil {
			return IterationResult{}, err
		}
	} else {
		if _, err := d.gui.AddUserDebugText(WarningText, warningPosition, warningColor, warningSize, warningLifetime); err != nil {
			return IterationResult{}, err
		}
	}

	d.gui.Step()

	res := IterationResult{
		Step:        d.gui.StepCount(),
		Q:           q,
		Distances:   dists,
		Margin:      margin,
		InCollision: inCollision,
		Applied:     !inCollision,
	}
	res.SimTime = float64(res.Step) * d.gui.timeStep

	d.report(res)
	return res, nil
}

func (d *Demo) report(res IterationResult) {
	d.logger.Debugf("Distance to obstacles = %v", res.Distances)
	if res.InCollision != d.lastInCollision {
		if res.InCollision {
			d.logger.Infof("avoiding collision: min distance %.4f m below margin %.4f m", minDistance(res.Distances), res.Margin)
		} else {
			d.logger.Infof("clear of obstacles: min distance %.4f m", minDistance(res.Distances))
		}
		d.lastInCollision = res.InCollision
	} else if d.cfg.LogEvery > 0 && res.Step%uint64(d.cfg.LogEvery) == 0 {
		d.logger.Infof("Distance to obstacles = %v", res.Distances)
	}

	if d.cfg.Recorder != nil {
		if err := d.cfg.Recorder.Record(res); err != nil {
			d.logger.Warnf("failed to record step %d: %v", res.Step, err)
		}
	}
	if d.cfg.Publisher != nil {
		frame := d.gui.Snapshot()
		frame.InCollision = res.InCollision
		frame.Distances = make(map[string]float64, len(res.Distances))
		for i, p := range d.detector.pairs {
			frame.Distances[p.String()] = res.Distances[i]
		}
		d.cfg.Publisher.Publish(frame)
	}
}

// Run iterates until ctx is done or MaxSteps is reached.
func (d *Demo) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if d.cfg.StepRate > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / d.cfg.StepRate))
		defer ticker.Stop()
		tick = ticker.C
	}

	for n := 0; d.cfg.MaxSteps == 0 || n < d.cfg.MaxSteps; n++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		if _, err := d.Iterate(); err != nil {
			return err
		}
	}
	return nil
}
