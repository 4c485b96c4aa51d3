package kdtree

import (
	"github.com/Faultbox/levelc/pkg/math"
	"github.com/Faultbox/levelc/pkg/mesh"
)

// storeFromTriangles builds a store whose triangle i uses positions
// 3i, 3i+1 and 3i+2.
func storeFromTriangles(corners [][3]math.Vec3) *mesh.Store {
	store := &mesh.Store{
		Normals:   []math.Vec3{{X: 0, Y: 1, Z: 0}},
		TexCoords: []math.Vec3{{}},
	}
	for _, c := range corners {
		base := len(store.Positions)
		store.Positions = append(store.Positions, c[0], c[1], c[2])
		store.Triangles = append(store.Triangles, mesh.Triangle{
			Vertices: [3]int{base, base + 1, base + 2},
			Material: "test",
			Plane:    math.NewPlaneFromPoints(c[2], c[1], c[0]),
		})
	}
	return store
}

// latticeStore places small, well separated triangles on an n*n*n lattice.
func latticeStore(n int) *mesh.Store {
	var corners [][3]math.Vec3
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				p := math.Vec3{X: float32(x) * 2, Y: float32(y) * 2, Z: float32(z) * 2}
				corners = append(corners, [3]math.Vec3{
					p,
					p.Add(math.Vec3{X: 0.5}),
					p.Add(math.Vec3{Y: 0.5, Z: 0.5}),
				})
			}
		}
	}
	return storeFromTriangles(corners)
}

// soupStore returns n triangles that all straddle the x = 0 median plane.
func soupStore(n int) *mesh.Store {
	var corners [][3]math.Vec3
	for i := 0; i < n; i++ {
		y := float32(i)
		corners = append(corners, [3]math.Vec3{
			{X: -1, Y: y, Z: 0},
			{X: 0, Y: y, Z: 1},
			{X: 1, Y: y + 1, Z: 0},
		})
	}
	return storeFromTriangles(corners)
}

// stallStore returns nested triangles x+y+z = s. Every axis median lands on
// two corners of each triangle, so every split sends all of them to the front.
func stallStore(n int) *mesh.Store {
	var corners [][3]math.Vec3
	for i := 0; i < n; i++ {
		s := float32(i + 1)
		corners = append(corners, [3]math.Vec3{
			{X: 0, Y: 0, Z: s},
			{X: 0, Y: s, Z: 0},
			{X: s, Y: 0, Z: 0},
		})
	}
	return storeFromTriangles(corners)
}

// reachable returns the set of triangle indices stored in leaves below n.
func reachable(n *Node) map[int]bool {
	set := make(map[int]bool)
	walk(n, 0, func(n *Node, _ int) {
		for _, tri := range n.Triangles {
			set[tri] = true
		}
	})
	return set
}
