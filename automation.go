package tracklane

import (
	"math"
	"sort"

	"golang.org/x/exp/slices"
)

type (
	// AutomationLane changes one target over time. Points are kept sorted by
	// beat. Values are normalized: volume lanes are gains (0..2), pan lanes
	// are 0..1 (0.5 = center) and plugin parameter lanes carry the raw
	// parameter value.
	AutomationLane struct {
		ID      string
		Target  AutomationTarget
		Visible bool              `yaml:",omitempty"`
		Points  []AutomationPoint `yaml:",flow"`
	}

	AutomationTarget struct {
		Kind     AutomationKind
		PluginID string `yaml:",omitempty"`
		Param    string `yaml:",omitempty"`
	}

	AutomationKind string

	// AutomationPoint is one breakpoint of a lane. Curve selects how the
	// value moves from the previous point to this one.
	AutomationPoint struct {
		ID    string `yaml:",omitempty"`
		Beat  float64
		Value float32
		Curve Curve `yaml:",omitempty"`
	}

	Curve string
)

const (
	AutomateVolume      AutomationKind = "volume"
	AutomatePan         AutomationKind = "pan"
	AutomatePluginParam AutomationKind = "param"
)

const (
	CurveLinear      Curve = "" // the zero value interpolates linearly
	CurveStep        Curve = "step"
	CurveExponential Curve = "exponential"
)

func (l *AutomationLane) Copy() AutomationLane {
	ret := *l
	ret.Points = append([]AutomationPoint(nil), l.Points...)
	return ret
}

// Sort orders the points by beat, keeping the insertion order of points on
// the same beat.
func (l *AutomationLane) Sort() {
	sort.SliceStable(l.Points, func(i, j int) bool { return l.Points[i].Beat < l.Points[j].Beat })
}

// Insert adds a point, keeping the points sorted.
func (l *AutomationLane) Insert(p AutomationPoint) {
	i := sort.Search(len(l.Points), func(i int) bool { return l.Points[i].Beat > p.Beat })
	l.Points = slices.Insert(l.Points, i, p)
}

// Remove deletes the point with the given id and reports if it existed.
func (l *AutomationLane) Remove(id string) bool {
	i := slices.IndexFunc(l.Points, func(p AutomationPoint) bool { return p.ID == id })
	if i < 0 {
		return false
	}
	l.Points = slices.Delete(l.Points, i, i+1)
	return true
}

// ValueAt evaluates the lane at the given beat. Before the first point the
// lane holds the first value, after the last point the last value. An empty
// lane returns ok = false, meaning the target is not automated.
func (l *AutomationLane) ValueAt(beat float64) (value float32, ok bool) {
	return PointsValueAt(l.Points, beat)
}

// PointsValueAt evaluates a sorted list of automation points at beat. It
// does not allocate, so the audio engine can call it from the callback.
func PointsValueAt(points []AutomationPoint, beat float64) (float32, bool) {
	if len(points) == 0 {
		return 0, false
	}
	if beat <= points[0].Beat {
		return points[0].Value, true
	}
	last := points[len(points)-1]
	if beat >= last.Beat {
		return last.Value, true
	}
	// first point strictly after beat
	i := sort.Search(len(points), func(i int) bool { return points[i].Beat > beat })
	prev, next := points[i-1], points[i]
	span := next.Beat - prev.Beat
	if span < 1e-12 {
		return next.Value, true
	}
	t := float32(math.Min(math.Max((beat-prev.Beat)/span, 0), 1))
	switch next.Curve {
	case CurveStep:
		return prev.Value, true
	case CurveExponential:
		return prev.Value + (next.Value-prev.Value)*t*t, true
	default:
		return prev.Value + (next.Value-prev.Value)*t, true
	}
}

// PanFromLane maps a 0..1 pan lane value to the -1..1 pan range.
func PanFromLane(v float32) float32 {
	return Clamp(v*2-1, -1, 1)
}
