package iiwa_guard

// Frame is a serializable picture of a session after a step. The viewer streams
// frames to browsers.
type Frame struct {
	Session int          `json:"session"`
	Mode    string       `json:"mode"`
	Step    uint64       `json:"step"`
	SimTime float64      `json:"sim_time"`
	Bodies  []BodyState  `json:"bodies"`
	Texts   []DebugText  `json:"texts,omitempty"`
	Params  []DebugParam `json:"params,omitempty"`

	// Filled in by the demo loop, not by the session.
	Distances   map[string]float64 `json:"distances,omitempty"`
	InCollision bool               `json:"in_collision"`
}

// BodyState is one body of a Frame.
type BodyState struct {
	ID       BodyID          `json:"id"`
	Asset    string          `json:"asset"`
	Position [3]float64      `json:"position"` // metres
	Joints   []float64       `json:"joints,omitempty"`
	Shapes   []ShapeSnapshot `json:"shapes"`
}

// ShapeSnapshot locates one collision geometry, in metres.
type ShapeSnapshot struct {
	Label  string     `json:"label"`
	Center [3]float64 `json:"center"`
}

// Snapshot captures the current session state.
func (s *Session) Snapshot() Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := Frame{
		Session: s.id,
		Mode:    s.mode.String(),
		Step:    s.step,
		SimTime: s.simTime,
		Bodies:  make([]BodyState, 0, len(s.bodies)),
	}

	for _, b := range s.bodies {
		bs := BodyState{
			ID:       b.id,
			Asset:    b.asset.name,
			Position: [3]float64{b.position.X / 1000, b.position.Y / 1000, b.position.Z / 1000},
			Joints:   append([]float64(nil), b.joints...),
		}
		geoms, err := b.worldGeometries("")
		if err != nil {
			s.logger.Debugf("snapshot: skipping shapes of body %d: %v", b.id, err)
		}
		for _, g := range geoms {
			p := g.Pose().Point()
			bs.Shapes = append(bs.Shapes, ShapeSnapshot{
				Label:  g.Label(),
				Center: [3]float64{p.X / 1000, p.Y / 1000, p.Z / 1000},
			})
		}
		f.Bodies = append(f.Bodies, bs)
	}

	if s.debug != nil {
		for _, t := range s.debug.texts {
			f.Texts = append(f.Texts, *t)
		}
		for _, p := range s.debug.params {
			f.Params = append(f.Params, *p)
		}
	}
	return f
}
