package iiwa_guard

import (
	"fmt"
	"math"
)

const (
	ParamCollisionMargin = "collision_margin"

	defaultMargin = 0.01 // metres
	maxMargin     = 0.2
	numIiwaJoints = 7
)

// JointParamName is the slider name of joint i, counting from 1.
func JointParamName(i int) string {
	return fmt.Sprintf("lbr_iiwa_joint%d", i)
}

// UserParams holds the slider ids of the demo.
type UserParams struct {
	Margin ParamID
	Joints []ParamID
}

// CreateUserDebugParams adds the margin slider and one slider per iiwa joint to
// a GUI session.
func CreateUserDebugParams(gui *Session) (*UserParams, error) {
	margin, err := gui.AddUserDebugParameter(ParamCollisionMargin, 0, maxMargin, defaultMargin)
	if err != nil {
		return nil, err
	}
	up := &UserParams{Margin: margin}
	for i := 1; i <= numIiwaJoints; i++ {
		id, err := gui.AddUserDebugParameter(JointParamName(i), -2*math.Pi, 2*math.Pi, 0)
		if err != nil {
			return nil, err
		}
		up.Joints = append(up.Joints, id)
	}
	return up, nil
}

// ReadJointAngles returns the current joint slider values in joint order.
func (up *UserParams) ReadJointAngles(gui *Session) ([]float64, error) {
	q := make([]float64, len(up.Joints))
	for i, id := range up.Joints {
		v, err := gui.ReadUserDebugParameter(id)
		if err != nil {
			return nil, err
		}
		q[i] = v
	}
	return q, nil
}

// ReadMargin returns the collision margin slider in metres.
func (up *UserParams) ReadMargin(gui *Session) (float64, error) {
	return gui.ReadUserDebugParameter(up.Margin)
}
