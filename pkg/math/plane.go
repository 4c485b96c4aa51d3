package math

// Plane is an oriented plane. Points p with Normal·p + D > 0 lie in front.
type Plane struct {
	Normal Vec3
	D      float32
}

// NewPlaneFromPoint creates a plane through p with normal n.
// n is expected to be unit length.
func NewPlaneFromPoint(p, n Vec3) Plane {
	return Plane{Normal: n, D: -n.Dot(p)}
}

// NewPlaneFromPoints creates a plane through a, b and c. The normal is
// (b-a)×(c-a), normalized. Collinear points yield a zero normal.
func NewPlaneFromPoints(a, b, c Vec3) Plane {
	n := b.Sub(a).Cross(c.Sub(a)).Normalize()
	return NewPlaneFromPoint(a, n)
}

// Distance returns the signed distance from p to the plane.
func (p Plane) Distance(v Vec3) float32 {
	return p.Normal.Dot(v) + p.D
}

// IsValid reports whether the plane has a non-zero normal.
func (p Plane) IsValid() bool {
	return !p.Normal.IsZero()
}
