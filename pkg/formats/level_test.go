package formats

import (
	"encoding/binary"
	"errors"
	"fmt"
	gomath "math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Faultbox/levelc/pkg/kdtree"
	"github.com/Faultbox/levelc/pkg/math"
	"github.com/Faultbox/levelc/pkg/mesh"
)

const singleTriangleOBJ = `v 0 0 0
v 1 0 0
v 0 1 0
vt 0 0
vt 1 0
vt 0 1
vn 0 0 1
usemtl wall
f 1/1/1 2/2/1 3/3/1
`

// objTriangles writes one face per corner set, each with its own three
// vertex lines.
func objTriangles(corners [][3]math.Vec3, material string) string {
	var sb strings.Builder
	sb.WriteString("vt 0 0\nvn 0 1 0\n")
	fmt.Fprintf(&sb, "usemtl %s\n", material)
	for i, c := range corners {
		for _, p := range c {
			fmt.Fprintf(&sb, "v %g %g %g\n", p.X, p.Y, p.Z)
		}
		base := i*3 + 1
		fmt.Fprintf(&sb, "f %d/1/1 %d/1/1 %d/1/1\n", base, base+1, base+2)
	}
	return sb.String()
}

// latticeOBJ places n*n*n small, separated triangles on a lattice.
func latticeOBJ(n int) string {
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
	return objTriangles(corners, "lattice")
}

// stallOBJ returns nested triangles x+y+z = s that no axis split separates.
func stallOBJ(n int) string {
	var corners [][3]math.Vec3
	for i := 0; i < n; i++ {
		s := float32(i + 1)
		corners = append(corners, [3]math.Vec3{{Z: s}, {Y: s}, {X: s}})
	}
	return objTriangles(corners, "stall")
}

func parseOBJ(t *testing.T, src string) *mesh.Store {
	t.Helper()
	store, err := mesh.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("mesh.Parse failed: %v", err)
	}
	return store
}

func encodeOBJ(t *testing.T, src string, opts kdtree.Options) (*mesh.Store, []byte) {
	t.Helper()
	store := parseOBJ(t, src)
	tree, err := kdtree.Build(store, opts)
	if err != nil {
		t.Fatalf("kdtree.Build failed: %v", err)
	}
	data, err := EncodeLevel(tree, store)
	if err != nil {
		t.Fatalf("EncodeLevel failed: %v", err)
	}
	return store, data
}

func parseLevelOrFatal(t *testing.T, data []byte) *Level {
	t.Helper()
	level, err := ParseLevel(data)
	if err != nil {
		t.Fatalf("ParseLevel failed: %v", err)
	}
	if err := level.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	return level
}

// leafTriangles collects every triangle reachable from node 0.
func leafTriangles(level *Level) map[int32]bool {
	set := make(map[int32]bool)
	var visit func(child int32)
	visit = func(child int32) {
		if IsLeafRef(child) {
			for _, tri := range level.LeafTriangles(LeafIndex(child)) {
				set[tri] = true
			}
			return
		}
		for _, c := range level.Nodes[child].Children {
			visit(c)
		}
	}
	visit(0)
	return set
}

func TestRecordSizes(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want int
	}{
		{"plane", PlaneRecord{}, PlaneRecordSize},
		{"texture", TextureRecord{}, TextureRecordSize},
		{"node", NodeRecord{}, NodeRecordSize},
		{"leaf", LeafRecord{}, LeafRecordSize},
		{"triangle", TriangleRecord{}, TriangleRecordSize},
		{"vertex", VertexRecord{}, VertexRecordSize},
		{"spawn", SpawnRecord{}, SpawnRecordSize},
	}

	for _, tt := range tests {
		if got := binary.Size(tt.v); got != tt.want {
			t.Errorf("%s record: binary size %d, want %d", tt.name, got, tt.want)
		}
	}

	header := binary.Size(LevelHeader{}) + binary.Size([LumpCount]LumpEntry{})
	if header != HeaderSize {
		t.Errorf("header size %d, want %d", header, HeaderSize)
	}
	if MaxLeafTriangles != kdtree.DefaultLeafCapacity {
		t.Errorf("leaf record capacity %d differs from default leaf capacity %d", MaxLeafTriangles, kdtree.DefaultLeafCapacity)
	}
}

func TestLeafRef(t *testing.T) {
	for i := 0; i < 5; i++ {
		ref := LeafRef(i)
		if !IsLeafRef(ref) {
			t.Errorf("LeafRef(%d) = %d is not a leaf reference", i, ref)
		}
		if got := LeafIndex(ref); got != i {
			t.Errorf("LeafIndex(LeafRef(%d)) = %d", i, got)
		}
	}
	if IsLeafRef(0) {
		t.Error("0 should reference node 0")
	}
}

func TestEncodeLevel_SingleTriangle(t *testing.T) {
	_, data := encodeOBJ(t, singleTriangleOBJ, kdtree.DefaultOptions())
	level := parseLevelOrFatal(t, data)

	if len(level.Leaves) != 1 {
		t.Fatalf("expected 1 leaf, got %d", len(level.Leaves))
	}
	if tris := level.LeafTriangles(0); len(tris) != 1 || tris[0] != 0 {
		t.Errorf("leaf 0 triangles = %v, want [0]", tris)
	}
	if len(level.Textures) != 1 || level.TextureName(0) != "wall" {
		t.Errorf("textures = %d, first %q, want 1 \"wall\"", len(level.Textures), level.TextureName(0))
	}
	if len(level.Vertices) != 3 {
		t.Errorf("expected 3 vertices, got %d", len(level.Vertices))
	}

	if len(level.Nodes) != 1 || len(level.Planes) != 1 {
		t.Fatalf("expected placeholder node and plane, got %d nodes, %d planes", len(level.Nodes), len(level.Planes))
	}
	node := level.Nodes[0]
	if node.Children != [2]int32{LeafRef(0), LeafRef(0)} {
		t.Errorf("placeholder children = %v, want both leaf 0", node.Children)
	}
	if node.Radius != PlaceholderRadius {
		t.Errorf("placeholder radius = %v, want %v", node.Radius, PlaceholderRadius)
	}
	if plane := level.Planes[node.Plane]; plane.Normal != [3]float32{0, -1, 0} || plane.D != 0 {
		t.Errorf("placeholder plane = %+v, want normal (0,-1,0), D 0", plane)
	}

	wantUV := [][2]float32{{0, 0}, {1, 0}, {0, 1}}
	for i, v := range level.Vertices {
		if v.U != wantUV[i][0] || v.V != wantUV[i][1] {
			t.Errorf("vertex %d uv = (%v, %v), want %v", i, v.U, v.V, wantUV[i])
		}
		if v.Normal != [3]float32{0, 0, 1} {
			t.Errorf("vertex %d normal = %v", i, v.Normal)
		}
	}
}

func TestEncodeLevel_NoFaces(t *testing.T) {
	store := parseOBJ(t, "v 0 0 0\nv 1 0 0\nv 0 1 0\nspawn 0 0 0\n")
	tree, err := kdtree.Build(store, kdtree.DefaultOptions())
	if err != nil {
		t.Fatalf("kdtree.Build failed: %v", err)
	}

	if _, err := EncodeLevel(tree, store); !errors.Is(err, ErrNoLeaves) {
		t.Errorf("expected ErrNoLeaves, got %v", err)
	}
}

func TestEncodeLevel_TextureOrder(t *testing.T) {
	src := `v 0 0 0
v 1 0 0
v 0 1 0
vt 0 0
vn 0 0 1
usemtl stone
f 1/1/1 2/1/1 3/1/1
usemtl moss
f 1/1/1 2/1/1 3/1/1
usemtl stone
f 1/1/1 2/1/1 3/1/1
`
	_, data := encodeOBJ(t, src, kdtree.DefaultOptions())
	level := parseLevelOrFatal(t, data)

	if len(level.Textures) != 2 {
		t.Fatalf("expected 2 textures, got %d", len(level.Textures))
	}
	if level.TextureName(0) != "stone" || level.TextureName(1) != "moss" {
		t.Errorf("texture order = [%q %q], want [stone moss]", level.TextureName(0), level.TextureName(1))
	}

	want := []int32{0, 1, 0}
	for i, tri := range level.Triangles {
		if tri.Texture != want[i] {
			t.Errorf("triangle %d texture = %d, want %d", i, tri.Texture, want[i])
		}
	}
}

func TestEncodeLevel_RoundTrip(t *testing.T) {
	store, data := encodeOBJ(t, latticeOBJ(4), kdtree.Options{LeafCapacity: 4})
	level := parseLevelOrFatal(t, data)

	if len(level.Triangles) != len(store.Triangles) {
		t.Fatalf("triangles = %d, want %d", len(level.Triangles), len(store.Triangles))
	}
	if len(level.Vertices) != 3*len(store.Triangles) {
		t.Errorf("vertices = %d, want %d", len(level.Vertices), 3*len(store.Triangles))
	}

	for i, rec := range level.Triangles {
		if got := level.TextureName(int(rec.Texture)); got != store.Triangles[i].Material {
			t.Errorf("triangle %d texture %q, want %q", i, got, store.Triangles[i].Material)
		}
		for j, v := range rec.Vertices {
			if got := math.Vec3FromArray(level.Vertices[v].Position); got != store.Corner(i, j) {
				t.Errorf("triangle %d corner %d = %v, want %v", i, j, got, store.Corner(i, j))
			}
		}
	}

	reached := leafTriangles(level)
	for i := range store.Triangles {
		if !reached[int32(i)] {
			t.Errorf("triangle %d is not reachable from the root", i)
		}
	}
	if len(level.Nodes) < 2 {
		t.Errorf("expected a multi-node tree, got %d nodes", len(level.Nodes))
	}
}

func TestEncodeLevel_PreOrder(t *testing.T) {
	_, data := encodeOBJ(t, latticeOBJ(3), kdtree.Options{LeafCapacity: 2})
	level := parseLevelOrFatal(t, data)

	for i, node := range level.Nodes {
		for _, child := range node.Children {
			if !IsLeafRef(child) && int(child) <= i {
				t.Errorf("node %d has child node %d before it", i, child)
			}
		}
	}
	if front := level.Nodes[0].Children[0]; !IsLeafRef(front) && front != 1 {
		t.Errorf("root front child = %d, want node 1", front)
	}
}

func TestEncodeLevel_Deterministic(t *testing.T) {
	_, first := encodeOBJ(t, latticeOBJ(3), kdtree.Options{LeafCapacity: 3})
	_, second := encodeOBJ(t, latticeOBJ(3), kdtree.Options{LeafCapacity: 3})

	if string(first) != string(second) {
		t.Error("encoding the same input twice produced different bytes")
	}
	if Checksum(first) != Checksum(second) {
		t.Error("checksums differ for identical levels")
	}
}

func TestEncodeLevel_DirectoryPartition(t *testing.T) {
	_, data := encodeOBJ(t, latticeOBJ(3), kdtree.Options{LeafCapacity: 3})
	level := parseLevelOrFatal(t, data)

	offset := uint32(HeaderSize)
	for lump := LumpPlanes; lump < LumpCount; lump++ {
		entry := level.Directory[lump]
		if entry.Offset != offset {
			t.Errorf("%s lump at %d, want %d", lump, entry.Offset, offset)
		}
		if int(entry.Length)%lump.RecordSize() != 0 {
			t.Errorf("%s lump length %d is not a multiple of %d", lump, entry.Length, lump.RecordSize())
		}
		offset += entry.Length
	}
	if int(offset) != len(data) {
		t.Errorf("lumps end at %d, file has %d bytes", offset, len(data))
	}
}

func TestLayoutLumps_Limit(t *testing.T) {
	// Vertices fill the 32-bit range exactly up to the last byte.
	fits := (gomath.MaxUint32 - HeaderSize) / VertexRecordSize
	tests := []struct {
		name    string
		counts  [LumpCount]int
		wantErr bool
	}{
		{"small", [LumpCount]int{1, 1, 1, 1, 1, 3, 0}, false},
		{"below limit", [LumpCount]int{LumpVertices: fits}, false},
		{"vertices past 4 GiB", [LumpCount]int{LumpVertices: fits + 1}, true},
		{"leaves past 4 GiB", [LumpCount]int{LumpLeaves: gomath.MaxUint32/LeafRecordSize + 1}, true},
		{"sum past 4 GiB", [LumpCount]int{LumpLeaves: gomath.MaxUint32 / LeafRecordSize / 2, LumpSpawns: gomath.MaxUint32 / SpawnRecordSize}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, err := layoutLumps(tt.counts)
			if tt.wantErr {
				if !errors.Is(err, ErrLevelTooLarge) {
					t.Errorf("expected ErrLevelTooLarge, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			last := dir[LumpCount-1]
			want := uint64(HeaderSize)
			for lump := LumpPlanes; lump < LumpCount; lump++ {
				want += uint64(tt.counts[lump] * lump.RecordSize())
			}
			if last.End() != want {
				t.Errorf("lumps end at %d, want %d", last.End(), want)
			}
		})
	}
}

func TestEncodeLevel_EmptyHalfSpace(t *testing.T) {
	_, data := encodeOBJ(t, stallOBJ(5), kdtree.Options{LeafCapacity: 2, ForceLeaves: true})
	level := parseLevelOrFatal(t, data)

	back := level.Nodes[0].Children[1]
	if !IsLeafRef(back) {
		t.Fatalf("root back child = %d, want an empty leaf", back)
	}
	if n := level.Leaves[LeafIndex(back)].Count; n != 0 {
		t.Errorf("root back leaf has %d triangles, want 0", n)
	}
	if got := len(leafTriangles(level)); got != 5 {
		t.Errorf("reachable triangles = %d, want 5", got)
	}
}

func TestEncodeLevel_Spawns(t *testing.T) {
	_, data := encodeOBJ(t, singleTriangleOBJ+"spawn 1 2 3 90\nspawn -4 0 2\n", kdtree.DefaultOptions())
	level := parseLevelOrFatal(t, data)

	if len(level.Spawns) != 2 {
		t.Fatalf("expected 2 spawns, got %d", len(level.Spawns))
	}
	if level.Spawns[0].Origin != [3]float32{1, 2, 3} {
		t.Errorf("spawn 0 origin = %v", level.Spawns[0].Origin)
	}
	if level.Spawns[0].Rotation != math.QuatFromYaw(90).Array() {
		t.Errorf("spawn 0 rotation = %v", level.Spawns[0].Rotation)
	}
	if level.Spawns[1].Rotation != math.QuatIdentity().Array() {
		t.Errorf("spawn 1 rotation = %v, want identity", level.Spawns[1].Rotation)
	}
}

func TestEncodeLevel_LeafOverflow(t *testing.T) {
	store := parseOBJ(t, latticeOBJ(5))
	tree, err := kdtree.Build(store, kdtree.Options{LeafCapacity: 200})
	if err != nil {
		t.Fatalf("kdtree.Build failed: %v", err)
	}

	if _, err := EncodeLevel(tree, store); !errors.Is(err, ErrLeafOverflow) {
		t.Errorf("expected ErrLeafOverflow, got %v", err)
	}
}

func TestEncodeLevel_TextureNameLength(t *testing.T) {
	tests := []struct {
		length  int
		wantErr bool
	}{
		{TextureNameSize - 1, false},
		{TextureNameSize, true},
	}

	for _, tt := range tests {
		src := strings.Replace(singleTriangleOBJ, "usemtl wall", "usemtl "+strings.Repeat("t", tt.length), 1)
		store := parseOBJ(t, src)
		tree, err := kdtree.Build(store, kdtree.DefaultOptions())
		if err != nil {
			t.Fatalf("kdtree.Build failed: %v", err)
		}

		_, err = EncodeLevel(tree, store)
		if tt.wantErr && !errors.Is(err, ErrTextureNameTooLong) {
			t.Errorf("name length %d: expected ErrTextureNameTooLong, got %v", tt.length, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("name length %d: unexpected error %v", tt.length, err)
		}
	}
}

func TestParseLevel_Errors(t *testing.T) {
	_, valid := encodeOBJ(t, singleTriangleOBJ, kdtree.DefaultOptions())

	clone := func(edit func([]byte) []byte) []byte {
		return edit(append([]byte(nil), valid...))
	}
	spawnEntry := 8 + int(LumpSpawns)*8

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short header", valid[:HeaderSize-1], ErrTruncatedLevelData},
		{"bad magic", clone(func(b []byte) []byte { copy(b, "XXXX"); return b }), ErrInvalidLevelMagic},
		{"bad version", clone(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[4:], 7)
			return b
		}), ErrUnsupportedLevelVersion},
		{"lump past end", clone(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[spawnEntry+4:], SpawnRecordSize)
			return b
		}), ErrTruncatedLevelData},
		{"partial record", clone(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[spawnEntry+4:], 1)
			return append(b, 0)
		}), ErrBadLumpSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseLevel(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_Corruption(t *testing.T) {
	_, valid := encodeOBJ(t, latticeOBJ(3), kdtree.Options{LeafCapacity: 3})
	level := parseLevelOrFatal(t, valid)

	nodes := int(level.Directory[LumpNodes].Offset)
	leaves := int(level.Directory[LumpLeaves].Offset)
	triangles := int(level.Directory[LumpTriangles].Offset)

	tests := []struct {
		name string
		at   int
		v    int32
	}{
		{"plane out of range", nodes, 1000},
		{"child node out of range", nodes + 20, 1000},
		{"child node cycle", nodes + 20, 0},
		{"leaf out of range", nodes + 24, -1000},
		{"leaf count", leaves + MaxLeafTriangles*4, MaxLeafTriangles + 1},
		{"leaf triangle", leaves, 1000},
		{"texture", triangles, 5},
		{"vertex", triangles + 4, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint32(data[tt.at:], uint32(tt.v))

			level, err := ParseLevel(data)
			if err != nil {
				t.Fatalf("ParseLevel failed: %v", err)
			}
			if err := level.Validate(); !errors.Is(err, ErrCorruptLevel) {
				t.Errorf("expected ErrCorruptLevel, got %v", err)
			}
		})
	}
}

func TestValidate_TrailingBytes(t *testing.T) {
	_, data := encodeOBJ(t, singleTriangleOBJ, kdtree.DefaultOptions())
	level, err := ParseLevel(append(data, 0, 0, 0, 0))
	if err != nil {
		t.Fatalf("ParseLevel failed: %v", err)
	}
	if err := level.Validate(); !errors.Is(err, ErrCorruptLevel) {
		t.Errorf("expected ErrCorruptLevel, got %v", err)
	}
}

func TestWriteLevelFile(t *testing.T) {
	store := parseOBJ(t, singleTriangleOBJ)
	tree, err := kdtree.Build(store, kdtree.DefaultOptions())
	if err != nil {
		t.Fatalf("kdtree.Build failed: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "room.kdb")
	if err := WriteLevelFile(path, tree, store); err != nil {
		t.Fatalf("WriteLevelFile failed: %v", err)
	}

	level, err := ParseLevelFile(path)
	if err != nil {
		t.Fatalf("ParseLevelFile failed: %v", err)
	}
	if err := level.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the level in %s, found %d entries", dir, len(entries))
	}
}

func TestWriteLevelFile_FailureLeavesNothing(t *testing.T) {
	store := parseOBJ(t, "v 0 0 0\n")
	tree, err := kdtree.Build(store, kdtree.DefaultOptions())
	if err != nil {
		t.Fatalf("kdtree.Build failed: %v", err)
	}

	dir := t.TempDir()
	if err := WriteLevelFile(filepath.Join(dir, "empty.kdb"), tree, store); !errors.Is(err, ErrNoLeaves) {
		t.Fatalf("expected ErrNoLeaves, got %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty directory, found %d entries", len(entries))
	}
}

func TestWriteLevelFile_MissingDir(t *testing.T) {
	store := parseOBJ(t, singleTriangleOBJ)
	tree, err := kdtree.Build(store, kdtree.DefaultOptions())
	if err != nil {
		t.Fatalf("kdtree.Build failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "missing", "room.kdb")
	if err := WriteLevelFile(path, tree, store); err == nil {
		t.Error("expected error for missing directory")
	}
}
