package iiwa_guard

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// ParamID identifies a user debug parameter within a GUI session.
type ParamID int

// DebugParam is a slider shown by the GUI front end.
type DebugParam struct {
	ID    ParamID `json:"id"`
	Name  string  `json:"name"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Value float64 `json:"value"`
}

// DebugText is a text label drawn in the scene. A zero Lifetime keeps it until
// the session ends.
type DebugText struct {
	ID       int        `json:"id"`
	Text     string     `json:"text"`
	Position [3]float64 `json:"position"` // metres
	ColorRGB [3]float64 `json:"color_rgb"`
	Size     float64    `json:"size"`
	Lifetime float64    `json:"lifetime"`

	expiresAt float64
}

type debugUI struct {
	params   []*DebugParam
	byName   map[string]*DebugParam
	texts    []*DebugText
	nextText int
}

func newDebugUI() *debugUI {
	return &debugUI{byName: map[string]*DebugParam{}}
}

func (d *debugUI) expire(now float64) {
	kept := d.texts[:0]
	for _, t := range d.texts {
		if t.Lifetime > 0 && now >= t.expiresAt {
			continue
		}
		kept = append(kept, t)
	}
	d.texts = kept
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AddUserDebugParameter registers a slider. Names must be unique per session.
func (s *Session) AddUserDebugParameter(name string, min, max, initial float64) (ParamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debug == nil {
		return -1, ErrNoGUI
	}
	if !finite(min) || !finite(max) || !finite(initial) {
		return -1, fmt.Errorf("parameter %q: range and initial value must be finite", name)
	}
	if min > max {
		return -1, fmt.Errorf("parameter %q: min %.3f above max %.3f", name, min, max)
	}
	if _, exists := s.debug.byName[name]; exists {
		return -1, fmt.Errorf("parameter %q already exists", name)
	}
	p := &DebugParam{
		ID:    ParamID(len(s.debug.params)),
		Name:  name,
		Min:   min,
		Max:   max,
		Value: clamp(initial, min, max),
	}
	s.debug.params = append(s.debug.params, p)
	s.debug.byName[name] = p
	return p.ID, nil
}

// ReadUserDebugParameter returns the current slider value.
func (s *Session) ReadUserDebugParameter(id ParamID) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.debug == nil {
		return 0, ErrNoGUI
	}
	if id < 0 || int(id) >= len(s.debug.params) {
		return 0, fmt.Errorf("unknown parameter id %d", id)
	}
	return s.debug.params[id].Value, nil
}

// SetUserDebugParameter moves a slider, clamping to its range. It returns the
// value actually stored.
func (s *Session) SetUserDebugParameter(name string, value float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debug == nil {
		return 0, ErrNoGUI
	}
	p, ok := s.debug.byName[name]
	if !ok {
		return 0, fmt.Errorf("unknown parameter %q", name)
	}
	if !finite(value) {
		return p.Value, fmt.Errorf("parameter %q: value must be finite, got %v", name, value)
	}
	p.Value = clamp(value, p.Min, p.Max)
	return p.Value, nil
}

// UserDebugParameters returns copies of all sliders in creation order.
func (s *Session) UserDebugParameters() []DebugParam {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.debug == nil {
		return nil
	}
	out := make([]DebugParam, len(s.debug.params))
	for i, p := range s.debug.params {
		out[i] = *p
	}
	return out
}

// AddUserDebugText shows text at position (metres) for lifetime seconds of
// simulated time and returns the text id.
func (s *Session) AddUserDebugText(text string, position r3.Vector, colorRGB [3]float64, size, lifetime float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debug == nil {
		return -1, ErrNoGUI
	}
	s.debug.nextText++
	t := &DebugText{
		ID:        s.debug.nextText,
		Text:      text,
		Position:  [3]float64{position.X, position.Y, position.Z},
		ColorRGB:  colorRGB,
		Size:      size,
		Lifetime:  lifetime,
		expiresAt: s.simTime + lifetime,
	}
	s.debug.texts = append(s.debug.texts, t)
	return t.ID, nil
}

// DebugTexts returns the texts still alive, oldest first.
func (s *Session) DebugTexts() []DebugText {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.debug == nil {
		return nil
	}
	out := make([]DebugText, len(s.debug.texts))
	for i, t := range s.debug.texts {
		out[i] = *t
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
