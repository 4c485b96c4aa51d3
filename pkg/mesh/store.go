// Package mesh parses triangulated level meshes into a geometry store.
//
// The source format is a line oriented subset of Wavefront OBJ extended with
// spawn points:
//
//	v x y z          vertex position
//	vn x y z         vertex normal
//	vt u v [w]       texture coordinate (w defaults to 0)
//	usemtl path      material for the faces that follow
//	spawn x y z [yaw] spawn point, yaw in degrees about +Y
//	f v/t/n v/t/n v/t/n
//
// Face indices are 1-based in the source and 0-based in the Store.
package mesh

import (
	"github.com/Faultbox/levelc/pkg/math"
)

// Triangle is a face of the level mesh. All indices refer to the owning
// Store's arrays.
type Triangle struct {
	Vertices  [3]int
	Normals   [3]int
	TexCoords [3]int
	Material  string

	// Plane is computed from the corner positions once parsing finishes.
	Plane math.Plane
}

// SpawnPoint is a player start location.
type SpawnPoint struct {
	Origin   math.Vec3
	Rotation math.Quat
}

// Store holds the parsed geometry of one level.
type Store struct {
	Positions []math.Vec3
	Normals   []math.Vec3
	TexCoords []math.Vec3
	Triangles []Triangle
	Spawns    []SpawnPoint

	// Warnings lists non-fatal problems found while parsing, such as
	// skipped spawn lines and degenerate triangles.
	Warnings []*LineError
}

// Corner returns the position of corner i of triangle tri.
func (s *Store) Corner(tri, i int) math.Vec3 {
	return s.Positions[s.Triangles[tri].Vertices[i]]
}

// Materials returns the distinct material paths in first-use order.
func (s *Store) Materials() []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range s.Triangles {
		if !seen[t.Material] {
			seen[t.Material] = true
			out = append(out, t.Material)
		}
	}
	return out
}

// computePlanes fills in every triangle plane. The plane is built from the
// corners in reverse order (2, 1, 0): clockwise faces point their normal
// towards the viewer.
func (s *Store) computePlanes() {
	for i := range s.Triangles {
		t := &s.Triangles[i]
		t.Plane = math.NewPlaneFromPoints(
			s.Positions[t.Vertices[2]],
			s.Positions[t.Vertices[1]],
			s.Positions[t.Vertices[0]],
		)
	}
}
