package kdtree

import (
	"fmt"

	"github.com/Faultbox/levelc/pkg/math"
	"github.com/Faultbox/levelc/pkg/mesh"
)

// DefaultEpsilon is the distance below which a point counts as lying on a
// splitting plane.
const DefaultEpsilon float32 = 0.01

// PointSide is the position of a point relative to a plane.
type PointSide int

// Point/plane relations.
const (
	OnPlane PointSide = iota
	InFront
	Behind
)

// ClassifyPoint returns where p lies relative to plane. A point is on the
// plane only when its distance is strictly below eps.
func ClassifyPoint(p math.Vec3, plane math.Plane, eps float32) PointSide {
	d := plane.Distance(p)
	switch {
	case d >= eps:
		return InFront
	case d <= -eps:
		return Behind
	default:
		return OnPlane
	}
}

// Side is the position of a triangle relative to a plane. The values form a
// bit set: bit 1 is set when no corner is behind the plane, bit 0 when no
// corner is in front.
type Side int

// Triangle/plane relations.
const (
	Split    Side = 0
	Back     Side = 1
	Front    Side = 2
	Coplanar Side = Front | Back
)

// String returns a human-readable side name.
func (s Side) String() string {
	switch s {
	case Split:
		return "Split"
	case Back:
		return "Back"
	case Front:
		return "Front"
	case Coplanar:
		return "Coplanar"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Straddles reports whether a triangle with this side belongs to both
// children of a node. Coplanar triangles are duplicated like split ones.
func (s Side) Straddles() bool {
	return s == Split || s == Coplanar
}

// Classify returns the relation of triangle tri in store to plane.
func Classify(store *mesh.Store, tri int, plane math.Plane, eps float32) Side {
	allFront, allBack := Front, Back
	for i := 0; i < 3; i++ {
		switch ClassifyPoint(store.Corner(tri, i), plane, eps) {
		case InFront:
			allBack = 0
		case Behind:
			allFront = 0
		}
	}
	return allFront | allBack
}
