package iiwa_guard

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
)

// NamedCollisionObject refers to a body by name, optionally narrowed to one link.
type NamedCollisionObject struct {
	Body string `json:"body"`
	Link string `json:"link,omitempty"`
}

// NewNamedCollisionObject builds a reference to body, or to one of its links.
func NewNamedCollisionObject(body string, link ...string) NamedCollisionObject {
	o := NamedCollisionObject{Body: body}
	if len(link) > 0 {
		o.Link = link[0]
	}
	return o
}

func (o NamedCollisionObject) String() string {
	if o.Link == "" {
		return o.Body
	}
	return o.Body + ":" + o.Link
}

// CollisionPair is two objects whose shortest distance is monitored.
type CollisionPair struct {
	A NamedCollisionObject `json:"a"`
	B NamedCollisionObject `json:"b"`
}

func (p CollisionPair) String() string {
	return p.A.String() + "<->" + p.B.String()
}

// CollisionDetector answers distance queries for robot configurations against
// a headless session whose bodies mirror the visualized ones.
type CollisionDetector struct {
	session *Session
	bodies  Bodies
	robot   BodyID
	dof     int
	pairs   []CollisionPair
}

// DetectorOption configures NewCollisionDetector.
type DetectorOption func(*detectorOptions)

type detectorOptions struct {
	robot string
}

// WithRobot names the body that configurations apply to. Defaults to "robot".
func WithRobot(name string) DetectorOption {
	return func(o *detectorOptions) { o.robot = name }
}

// NewCollisionDetector validates pairs against bodies and the session contents.
func NewCollisionDetector(s *Session, bodies Bodies, pairs []CollisionPair, opts ...DetectorOption) (*CollisionDetector, error) {
	o := detectorOptions{robot: "robot"}
	for _, opt := range opts {
		opt(&o)
	}

	robot, ok := bodies[o.robot]
	if !ok {
		return nil, fmt.Errorf("robot body %q not in bodies %v", o.robot, bodies.Names())
	}
	dof, err := s.NumJoints(robot)
	if err != nil {
		return nil, err
	}
	if dof == 0 {
		return nil, fmt.Errorf("robot body %q has no joints", o.robot)
	}
	if len(pairs) == 0 {
		return nil, errors.New("no collision pairs to monitor")
	}

	for _, p := range pairs {
		for _, obj := range []NamedCollisionObject{p.A, p.B} {
			id, ok := bodies[obj.Body]
			if !ok {
				return nil, fmt.Errorf("pair %s: unknown body %q", p, obj.Body)
			}
			if obj.Link == "" {
				continue
			}
			has, err := s.HasLink(id, obj.Link)
			if err != nil {
				return nil, err
			}
			if !has {
				return nil, fmt.Errorf("pair %s: body %q has no link %q", p, obj.Body, obj.Link)
			}
		}
	}

	return &CollisionDetector{
		session: s,
		bodies:  bodies,
		robot:   robot,
		dof:     dof,
		pairs:   append([]CollisionPair(nil), pairs...),
	}, nil
}

// Pairs returns the monitored pairs in query order.
func (d *CollisionDetector) Pairs() []CollisionPair {
	return append([]CollisionPair(nil), d.pairs...)
}

// DoF is the length of configurations accepted by the detector.
func (d *CollisionDetector) DoF() int {
	return d.dof
}

// ComputeDistances sets the robot to q and returns the shortest distance in
// metres for each pair, in pair order. Penetrating pairs report zero or less.
func (d *CollisionDetector) ComputeDistances(q []float64) ([]float64, error) {
	var out []float64
	err := d.session.exclusive(func() error {
		if err := d.session.ResetJointStates(d.robot, q); err != nil {
			return err
		}
		out = make([]float64, len(d.pairs))
		for i, p := range d.pairs {
			dist, err := d.pairDistance(p)
			if err != nil {
				return errors.Wrapf(err, "pair %s", p)
			}
			out[i] = dist / 1000
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ComputeDistancesByName is ComputeDistances keyed by pair name.
func (d *CollisionDetector) ComputeDistancesByName(q []float64) (map[string]float64, error) {
	dists, err := d.ComputeDistances(q)
	if err != nil {
		return nil, err
	}
	named := make(map[string]float64, len(dists))
	for i, p := range d.pairs {
		named[p.String()] = dists[i]
	}
	return named, nil
}

// InCollision reports whether any pair is closer than margin (metres) at q.
func (d *CollisionDetector) InCollision(q []float64, margin float64) (bool, error) {
	dists, err := d.ComputeDistances(q)
	if err != nil {
		return false, err
	}
	return anyBelow(dists, margin), nil
}

func anyBelow(dists []float64, margin float64) bool {
	for _, dist := range dists {
		if dist < margin {
			return true
		}
	}
	return false
}

func minDistance(dists []float64) float64 {
	m := math.Inf(1)
	for _, dist := range dists {
		m = math.Min(m, dist)
	}
	return m
}

// pairDistance returns the smallest distance in millimetres between any
// geometry of A and any geometry of B.
func (d *CollisionDetector) pairDistance(p CollisionPair) (float64, error) {
	ga, err := d.session.Geometries(d.bodies[p.A.Body], p.A.Link)
	if err != nil {
		return 0, err
	}
	gb, err := d.session.Geometries(d.bodies[p.B.Body], p.B.Link)
	if err != nil {
		return 0, err
	}
	return closest(ga, gb)
}

func closest(ga, gb []spatialmath.Geometry) (float64, error) {
	best := math.Inf(1)
	for _, a := range ga {
		for _, b := range gb {
			dist, err := a.DistanceFrom(b)
			if err != nil {
				return 0, err
			}
			best = math.Min(best, dist)
		}
	}
	return best, nil
}
