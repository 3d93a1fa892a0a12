// Package beam models treatment beams: radiation type, geometry angles,
// MLC apertures, wedges, and arc delivery.
package beam

import (
	"fmt"
	"math"
)

// Type identifies the radiation modality of a beam.
type Type int

const (
	Photon Type = iota
	Electron
	Proton
)

func (t Type) String() string {
	switch t {
	case Photon:
		return "photon"
	case Electron:
		return "electron"
	case Proton:
		return "proton"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Vec3 is a 3D vector in patient coordinates (millimeters).
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Cross returns the cross product v x o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Normalize returns v scaled to unit length, or v unchanged when its
// length is zero.
func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// LeafPair is one MLC leaf pair: the left and right leaf positions in
// millimeters relative to the field center.
type LeafPair struct {
	Left, Right float64
}

// Arc describes rotational delivery. The gantry sweeps from StartAngle to
// StopAngle; Direction is +1 for clockwise and -1 for counterclockwise.
type Arc struct {
	StartAngle float64
	StopAngle  float64
	Direction  float64
}

// Wedge is a physical or dynamic wedge filter. Angle is the wedge angle in
// degrees and Orientation the direction of the thick end in the beam plane.
type Wedge struct {
	Kind        string
	Angle       float64
	Orientation float64
}

// Beam is a single treatment beam.
//
// Static beams leave Arc nil and deliver one control point per MLC segment,
// so a segmented field lists its shapes and relative weights in order. Arc
// beams sample control points along the sweep; shorter MLC and weight slices
// repeat cyclically over the sampled points.
type Beam struct {
	ID              string
	Type            Type
	Energy          float64 // MV for photons, MeV for electrons and protons
	GantryAngle     float64 // degrees
	CouchAngle      float64 // degrees
	CollimatorAngle float64 // degrees
	Isocenter       Vec3
	SSD             float64 // source to surface distance, mm

	MLC     [][]LeafPair
	Weights []float64
	Arc     *Arc
	Wedge   *Wedge
}

// ControlPointCount reports how many control points the beam delivers.
// Static beams deliver one control point per MLC segment (one for an open
// field); arcs are sampled every two degrees with a floor of two points so
// interpolation is well defined.
func (b *Beam) ControlPointCount() int {
	if b.Arc == nil {
		if len(b.MLC) > 1 {
			return len(b.MLC)
		}
		return 1
	}
	span := math.Abs(b.Arc.StopAngle - b.Arc.StartAngle)
	n := int(span / 2)
	if n < 2 {
		n = 2
	}
	return n
}

// ControlPoint returns the gantry angle, MLC shape, and relative weight at
// control point i. The MLC shape is nil for an open field.
func (b *Beam) ControlPoint(i int) (gantry float64, leaves []LeafPair, weight float64) {
	gantry = b.GantryAngle
	if b.Arc != nil {
		n := b.ControlPointCount()
		frac := float64(i) / float64(n-1)
		gantry = b.Arc.StartAngle + (b.Arc.StopAngle-b.Arc.StartAngle)*frac*b.Arc.Direction
	}

	weight = 1.0
	if len(b.Weights) > 0 {
		weight = b.Weights[i%len(b.Weights)]
	}
	if len(b.MLC) > 0 {
		leaves = b.MLC[i%len(b.MLC)]
	}
	return gantry, leaves, weight
}

// Plan is a complete treatment plan: the beams plus the prescription.
type Plan struct {
	ID             string
	Technique      string // "3DCRT", "IMRT", "VMAT", ...
	PrescribedDose float64
	Fractions      int
	Beams          []*Beam
}

// FractionDose returns the dose delivered per fraction. Plans without a
// fraction count are treated as a single fraction.
func (p *Plan) FractionDose() float64 {
	if p.Fractions <= 1 {
		return p.PrescribedDose
	}
	return p.PrescribedDose / float64(p.Fractions)
}
