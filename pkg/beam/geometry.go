package beam

import "math"

// Direction returns the unit beam direction for the given gantry and couch
// angles in degrees. Gantry rotates around the patient axis, couch rotates
// the beam within the axial plane.
func Direction(gantryDeg, couchDeg float64) Vec3 {
	g := gantryDeg * math.Pi / 180
	c := couchDeg * math.Pi / 180
	return Vec3{
		X: math.Sin(g) * math.Cos(c),
		Y: math.Cos(g),
		Z: math.Sin(g) * math.Sin(c),
	}.Normalize()
}

// InPlaneBasis returns two unit vectors spanning the plane perpendicular to
// the beam direction. When the beam runs along the Y axis the horizontal
// component degenerates and the X axis is used instead.
func InPlaneBasis(dir Vec3) (perpX, perpY Vec3) {
	perpX = Vec3{X: -dir.Z, Z: dir.X}
	if perpX.Norm() < 1e-9 {
		perpX = Vec3{X: 1}
	}
	perpX = perpX.Normalize()
	perpY = dir.Cross(perpX).Normalize()
	return perpX, perpY
}

// RotateBasis rotates the in-plane basis by the collimator angle in degrees
// around the beam direction.
func RotateBasis(perpX, perpY Vec3, collimatorDeg float64) (Vec3, Vec3) {
	if collimatorDeg == 0 {
		return perpX, perpY
	}
	a := collimatorDeg * math.Pi / 180
	cos, sin := math.Cos(a), math.Sin(a)
	rx := perpX.Scale(cos).Add(perpY.Scale(sin))
	ry := perpY.Scale(cos).Sub(perpX.Scale(sin))
	return rx, ry
}

// Aperture decides which points a beam irradiates. With leaves set the
// opening follows the MLC shape; otherwise it is the rectangular field.
type Aperture struct {
	Dir         Vec3
	PerpX       Vec3
	PerpY       Vec3
	Isocenter   Vec3
	Leaves      []LeafPair
	FieldWidth  float64
	FieldHeight float64
}

// NewAperture builds the aperture for one control point of a beam, with the
// field dimensions in millimeters.
func NewAperture(b *Beam, gantryDeg float64, leaves []LeafPair, fieldWidth, fieldHeight float64) Aperture {
	dir := Direction(gantryDeg, b.CouchAngle)
	perpX, perpY := InPlaneBasis(dir)
	perpX, perpY = RotateBasis(perpX, perpY, b.CollimatorAngle)
	return Aperture{
		Dir:         dir,
		PerpX:       perpX,
		PerpY:       perpY,
		Isocenter:   b.Isocenter,
		Leaves:      leaves,
		FieldWidth:  fieldWidth,
		FieldHeight: fieldHeight,
	}
}

// Contains reports whether the point (millimeters) lies inside the beam
// opening. Points behind the source plane through the isocenter are never
// irradiated.
func (a *Aperture) Contains(pos Vec3) bool {
	d := pos.Sub(a.Isocenter)
	if d.Dot(a.Dir) < 0 {
		return false
	}

	projX := d.Dot(a.PerpX)
	projY := d.Dot(a.PerpY)

	if len(a.Leaves) == 0 {
		return math.Abs(projX) <= a.FieldWidth/2 && math.Abs(projY) <= a.FieldHeight/2
	}

	leafWidth := a.FieldHeight / float64(len(a.Leaves))
	idx := int((projY + a.FieldHeight/2) / leafWidth)
	if idx < 0 || idx >= len(a.Leaves) {
		return false
	}
	pair := a.Leaves[idx]
	return projX >= pair.Left && projX <= pair.Right
}

// WedgeFactor returns the dose modulation at the given point for a wedge
// filter, floored at 0.1 under the thick end. A nil wedge leaves the dose
// unchanged.
func WedgeFactor(w *Wedge, pos, isocenter Vec3) float64 {
	if w == nil {
		return 1.0
	}
	o := w.Orientation * math.Pi / 180
	wedgeDir := Vec3{X: math.Cos(o), Z: math.Sin(o)}

	// Distance across the wedge, normalized to a 100 mm half-field.
	proj := pos.Sub(isocenter).Dot(wedgeDir)
	normalized := proj / 100.0

	angle := w.Angle * math.Pi / 180
	factor := 1.0 - (1.0-math.Cos(angle))*normalized
	if factor < 0.1 {
		factor = 0.1
	}
	return factor
}
