package formats

import (
	"github.com/Faultbox/levelc/pkg/math"
)

// Ray is a half line. Direction need not be normalized; hit distances are
// measured in multiples of it.
type Ray struct {
	Origin    math.Vec3
	Direction math.Vec3
}

// At returns the point at parameter t.
func (r Ray) At(t float32) math.Vec3 {
	return r.Origin.Add(r.Direction.Scale(t))
}

// Hit is the closest triangle along a ray.
type Hit struct {
	Triangle int
	T        float32
	Point    math.Vec3
}

// LeafAt returns the leaf a point falls into. Points on a plane go to the
// front child.
func (l *Level) LeafAt(p math.Vec3) int {
	child := int32(0)
	for !IsLeafRef(child) {
		node := &l.Nodes[child]
		if l.plane(node.Plane).Distance(p) >= 0 {
			child = node.Children[0]
		} else {
			child = node.Children[1]
		}
	}
	return LeafIndex(child)
}

// Raycast returns the closest triangle hit by r within maxT. Subtrees whose
// bounding sphere the ray misses are skipped. The level must have passed
// Validate.
func (l *Level) Raycast(r Ray, maxT float32) (Hit, bool) {
	best := Hit{Triangle: -1, T: maxT}
	l.raycast(0, r, &best)
	if best.Triangle < 0 {
		return Hit{}, false
	}
	best.Point = r.At(best.T)
	return best, true
}

func (l *Level) raycast(child int32, r Ray, best *Hit) {
	if IsLeafRef(child) {
		for _, tri := range l.LeafTriangles(LeafIndex(child)) {
			if t, ok := l.intersectTriangle(r, int(tri)); ok && t < best.T {
				best.T = t
				best.Triangle = int(tri)
			}
		}
		return
	}

	node := &l.Nodes[child]
	if !raySphere(r, math.Vec3FromArray(node.Origin), node.Radius, best.T) {
		return
	}
	l.raycast(node.Children[0], r, best)
	l.raycast(node.Children[1], r, best)
}

func (l *Level) plane(i int32) math.Plane {
	p := l.Planes[i]
	return math.Plane{Normal: math.Vec3FromArray(p.Normal), D: p.D}
}

func (l *Level) corner(tri, i int) math.Vec3 {
	return math.Vec3FromArray(l.Vertices[l.Triangles[tri].Vertices[i]].Position)
}

// intersectTriangle is the Möller-Trumbore test. Both faces count.
func (l *Level) intersectTriangle(r Ray, tri int) (float32, bool) {
	const eps = 1e-7

	v0, v1, v2 := l.corner(tri, 0), l.corner(tri, 1), l.corner(tri, 2)
	e1 := v1.Sub(v0)
	e2 := v2.Sub(v0)

	pvec := r.Direction.Cross(e2)
	det := e1.Dot(pvec)
	if det > -eps && det < eps {
		return 0, false // parallel
	}
	inv := 1 / det

	tvec := r.Origin.Sub(v0)
	u := tvec.Dot(pvec) * inv
	if u < 0 || u > 1 {
		return 0, false
	}

	qvec := tvec.Cross(e1)
	v := r.Direction.Dot(qvec) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}

	t := e2.Dot(qvec) * inv
	if t < 0 {
		return 0, false
	}
	return t, true
}

// raySphere reports whether the segment r(0)..r(maxT) passes within radius
// of center.
func raySphere(r Ray, center math.Vec3, radius, maxT float32) bool {
	toCenter := center.Sub(r.Origin)
	dd := r.Direction.Dot(r.Direction)
	if dd == 0 {
		return toCenter.Length() <= radius
	}

	t := toCenter.Dot(r.Direction) / dd
	t = min(max(t, 0), maxT)
	return r.At(t).Distance(center) <= radius
}
